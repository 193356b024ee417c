package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// CookieName carries the session token for browser clients.
const CookieName = "sweeparr_session"

// Config enables OIDC bearer verification when set. Session issuance
// itself lives with the identity layer; this service only resolves
// credentials that already exist.
type Config struct {
	Issuer   string
	ClientID string
}

func (c Config) isSet() bool {
	return c.Issuer != "" || c.ClientID != ""
}

func (c Config) Validate() error {
	if c.Issuer == "" || c.ClientID == "" {
		return errors.New("issuer and client ID are both required")
	}
	return nil
}

// Service resolves request credentials to users: opaque session tokens
// against the sessions table, and optionally OIDC ID tokens against
// the issuer's verifier.
type Service struct {
	st *store.Store

	mu       sync.RWMutex
	verifier *gooidc.IDTokenVerifier
}

func New(ctx context.Context, st *store.Store, cfg Config) (*Service, error) {
	s := &Service{st: st}
	if !cfg.isSet() {
		return s, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	s.verifier = provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	return s, nil
}

// OIDCEnabled reports whether bearer JWTs are accepted alongside
// session tokens.
func (s *Service) OIDCEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier != nil
}

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the authenticated user, or nil outside
// RequireAdmin.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userContextKey).(*models.User)
	return u
}

// token extracts the request credential. Query tokens are honored only
// on streaming requests; EventSource cannot set headers, everything
// else must.
func token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if r.URL.Query().Get("stream") == "true" {
		return r.URL.Query().Get("token")
	}
	return ""
}

// Authenticate resolves the request to a user, or nil when no
// credential checks out. Session tokens are tried first; OIDC bearers
// map onto users by their verified email claim.
func (s *Service) Authenticate(r *http.Request) *models.User {
	tok := token(r)
	if tok == "" {
		return nil
	}

	if u, err := s.st.GetSessionUser(r.Context(), tok); err == nil {
		return u
	}

	s.mu.RLock()
	verifier := s.verifier
	s.mu.RUnlock()
	if verifier == nil {
		return nil
	}

	idToken, err := verifier.Verify(r.Context(), tok)
	if err != nil {
		return nil
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Email == "" {
		return nil
	}
	u, err := s.st.GetUserByEmail(r.Context(), claims.Email)
	if err != nil {
		return nil
	}
	return u
}

// RequireAdmin admits only authenticated admins and stores the user in
// the request context.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := s.Authenticate(r)
		if user == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if user.Role != models.RoleAdmin {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
