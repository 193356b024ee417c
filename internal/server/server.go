package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sweeparr/internal/auth"
	"sweeparr/internal/cleanup"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/notify"
	"sweeparr/internal/store"
	"sweeparr/internal/version"
	"sweeparr/internal/webhook"
)

// Runner executes one long-running job kind. The sync engines satisfy
// it directly; cascades go through cleanup.Engine.Prepare first.
type Runner interface {
	Run(ctx context.Context, job *jobs.Job) (models.JobStatus, error)
}

// Registrar turns a plex.tv token into a stored, probed server row.
// *clients.Factory satisfies it.
type Registrar interface {
	Register(ctx context.Context, userID int64, in *models.ServerInput) (*models.Server, error)
}

type Server struct {
	router     chi.Router
	st         *store.Store
	auth       *auth.Service
	jobs       *jobs.Registry
	library    Runner
	history    Runner
	cleanup    *cleanup.Engine
	registrar  Registrar
	notifier   *notify.Notifier
	webhooks   *webhook.Dispatcher
	corsOrigin string
	version    string
	updates    *version.Checker
}

// New builds the API server. The store, auth service, and job registry
// are always required; engines and companions arrive through options
// and their endpoints answer 503 until configured.
func New(st *store.Store, authsvc *auth.Service, reg *jobs.Registry, opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		st:     st,
		auth:   authsvc,
		jobs:   reg,
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithLibrarySync(r Runner) Option {
	return func(s *Server) { s.library = r }
}

func WithHistorySync(r Runner) Option {
	return func(s *Server) { s.history = r }
}

func WithCleanup(e *cleanup.Engine) Option {
	return func(s *Server) { s.cleanup = e }
}

func WithRegistrar(r Registrar) Option {
	return func(s *Server) { s.registrar = r }
}

func WithNotifier(n *notify.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

func WithWebhooks(d *webhook.Dispatcher) Option {
	return func(s *Server) { s.webhooks = d }
}

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithUpdateChecker exposes release metadata on /api/version.
func WithUpdateChecker(c *version.Checker) Option {
	return func(s *Server) { s.updates = c }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
