package clients

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sweeparr/internal/models"
	"sweeparr/internal/overseerr"
	"sweeparr/internal/plex"
	"sweeparr/internal/radarr"
	"sweeparr/internal/sonarr"
	"sweeparr/internal/store"
	"sweeparr/internal/tautulli"
)

// connectionTTL is how long a probed server connection stays trusted
// before the next job re-probes it.
const connectionTTL = 24 * time.Hour

// ServerClient pairs a registered server with its connected client.
type ServerClient struct {
	Server models.Server
	Plex   *plex.Client
}

// ServerError records a server that could not be connected when the
// set was built. Jobs surface these as warnings and continue with the
// servers that did answer.
type ServerError struct {
	Server models.Server
	Err    error
}

// Set is the full client complement for one owner, built at job start
// so every call inside the job uses the same credentials and
// connections.
type Set struct {
	Owner       int64
	Servers     []*ServerClient
	Unreachable []ServerError

	Tautulli  *tautulli.Client
	Sonarr    *sonarr.Client
	Radarr    *radarr.Client
	Overseerr *overseerr.Client

	integrations map[models.IntegrationService]*models.Integration
	st           *store.Store
}

// Primary returns the owner's first server. Every owner with a Set has
// at least one.
func (s *Set) Primary() *ServerClient { return s.Servers[0] }

// ServerFor returns the connected server a companion integration is
// bound to, falling back to the primary when that server is not in the
// set.
func (s *Set) ServerFor(service models.IntegrationService) *ServerClient {
	if in, ok := s.integrations[service]; ok {
		for _, sc := range s.Servers {
			if sc.Server.ID == in.ServerID {
				return sc
			}
		}
	}
	return s.Primary()
}

// HasActiveTautulli reports whether history sync should read from
// Tautulli. Error-status integrations fall back to the media server
// until a later success recovers them.
func (s *Set) HasActiveTautulli() bool {
	in, ok := s.integrations[models.ServiceTautulli]
	return ok && s.Tautulli != nil && in.Status != models.IntegrationError
}

// ReportSuccess records a working call against the integration,
// flipping inactive or error status to active.
func (s *Set) ReportSuccess(ctx context.Context, service models.IntegrationService) {
	in, ok := s.integrations[service]
	if !ok {
		return
	}
	if err := s.st.RecordIntegrationSuccess(ctx, in.ID, time.Now().UTC()); err != nil {
		log.Printf("[clients] record %s success: %v", service, err)
	}
}

// ReportFailure records a failed call. Credential rejections are fatal
// and flip the integration to error immediately; transient failures
// only do so after repeated trouble.
func (s *Set) ReportFailure(ctx context.Context, service models.IntegrationService, callErr error) {
	in, ok := s.integrations[service]
	if !ok {
		return
	}
	var ae *models.AuthError
	fatal := errors.As(callErr, &ae)
	status, err := s.st.RecordIntegrationFailure(ctx, in.ID, callErr.Error(), time.Now().UTC(), fatal)
	if err != nil {
		log.Printf("[clients] record %s failure: %v", service, err)
		return
	}
	if status == models.IntegrationError && in.Status != models.IntegrationError {
		log.Printf("[clients] integration %s for user %d degraded to error", service, s.Owner)
	}
	in.Status = status
}

// Factory builds per-owner client sets from stored credentials.
type Factory struct {
	st       *store.Store
	discover func(ctx context.Context, token string) ([]plex.Resource, error)
	probe    func(ctx context.Context, token, machineID string, conns []plex.Connection, extra ...string) (*plex.ProbeResult, error)
}

func NewFactory(st *store.Store) *Factory {
	return &Factory{
		st:       st,
		discover: plex.DiscoverServers,
		probe:    plex.ProbeConnections,
	}
}

// ForOwner assembles the owner's clients: one connected media server
// client per registered server plus whichever companion integrations
// are configured. Companion construction failures are non-fatal; a
// cascade can still clean the media server without them.
func (f *Factory) ForOwner(ctx context.Context, userID int64) (*Set, error) {
	servers, err := f.st.ListServers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, &models.ValidationError{Field: "server", Msg: "no media server registered"}
	}

	set := &Set{
		Owner:        userID,
		integrations: map[models.IntegrationService]*models.Integration{},
		st:           f.st,
	}

	for i := range servers {
		pc, err := f.Connect(ctx, &servers[i])
		if err != nil {
			log.Printf("[clients] server %q unreachable: %v", servers[i].Name, err)
			set.Unreachable = append(set.Unreachable, ServerError{Server: servers[i], Err: err})
			continue
		}
		set.Servers = append(set.Servers, &ServerClient{Server: servers[i], Plex: pc})
	}
	if len(set.Servers) == 0 {
		return nil, fmt.Errorf("server %q: %w", set.Unreachable[0].Server.Name, set.Unreachable[0].Err)
	}

	for _, svc := range []models.IntegrationService{
		models.ServiceTautulli, models.ServiceSonarr, models.ServiceRadarr, models.ServiceOverseerr,
	} {
		in, err := f.st.GetIntegrationByService(ctx, userID, svc)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		apiKey, err := f.st.IntegrationAPIKey(in)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s key: %w", svc, err)
		}

		switch svc {
		case models.ServiceTautulli:
			c, err := tautulli.NewClient(in.BaseURL, apiKey)
			if err != nil {
				log.Printf("[clients] tautulli for user %d unusable: %v", userID, err)
				continue
			}
			set.Tautulli = c
		case models.ServiceSonarr:
			c, err := sonarr.NewClient(in.BaseURL, apiKey)
			if err != nil {
				log.Printf("[clients] sonarr for user %d unusable: %v", userID, err)
				continue
			}
			set.Sonarr = c
		case models.ServiceRadarr:
			c, err := radarr.NewClient(in.BaseURL, apiKey)
			if err != nil {
				log.Printf("[clients] radarr for user %d unusable: %v", userID, err)
				continue
			}
			set.Radarr = c
		case models.ServiceOverseerr:
			c, err := overseerr.NewClient(in.BaseURL, apiKey)
			if err != nil {
				log.Printf("[clients] overseerr for user %d unusable: %v", userID, err)
				continue
			}
			set.Overseerr = c
		}
		set.integrations[svc] = in
	}

	return set, nil
}

// Connect returns a media server client on the cached connection when
// the last probe is fresh, otherwise runs discovery and stores the
// winner.
func (f *Factory) Connect(ctx context.Context, srv *models.Server) (*plex.Client, error) {
	token, err := f.st.ServerToken(srv)
	if err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}

	if srv.PreferredConnectionURL != nil && srv.ConnectionTestedAt != nil &&
		time.Since(*srv.ConnectionTestedAt) < connectionTTL {
		return plex.NewClient(srv.ID, srv.Name, *srv.PreferredConnectionURL, token), nil
	}

	return f.Reprobe(ctx, srv, token)
}

// Reprobe forces a fresh discovery round for the server and records
// the result. Callers hit this when a cached connection stops
// answering.
func (f *Factory) Reprobe(ctx context.Context, srv *models.Server, token string) (*plex.Client, error) {
	if token == "" {
		var err error
		token, err = f.st.ServerToken(srv)
		if err != nil {
			return nil, fmt.Errorf("decrypt token: %w", err)
		}
	}

	resources, err := f.discover(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	var conns []plex.Connection
	var matched *plex.Resource
	for i := range resources {
		if srv.MachineID == "" || resources[i].ClientIdentifier == srv.MachineID {
			matched = &resources[i]
			conns = resources[i].Connections
			break
		}
	}
	if matched == nil {
		f.markOffline(ctx, srv.ID)
		return nil, fmt.Errorf("server %s not visible to this account", srv.MachineID)
	}

	var extra []string
	if srv.PreferredConnectionURL != nil {
		extra = append(extra, *srv.PreferredConnectionURL)
	}
	res, err := f.probe(ctx, token, srv.MachineID, conns, extra...)
	if err != nil {
		f.markOffline(ctx, srv.ID)
		return nil, err
	}

	now := time.Now().UTC()
	if err := f.st.UpdateServerConnection(ctx, srv.ID, res.URL, res.LatencyMS, now); err != nil {
		return nil, err
	}
	if err := f.st.SetServerInfo(ctx, srv.ID, matched.Platform, res.Version); err != nil {
		log.Printf("[clients] server %d info: %v", srv.ID, err)
	}
	if err := f.st.SetServerStatus(ctx, srv.ID, models.ServerOnline); err != nil {
		log.Printf("[clients] server %d status: %v", srv.ID, err)
	}
	srv.PreferredConnectionURL = &res.URL
	srv.ConnectionLatencyMS = &res.LatencyMS
	srv.ConnectionTestedAt = &now

	log.Printf("[clients] server %q connected via %s (%dms)", srv.Name, res.URL, res.LatencyMS)
	return plex.NewClient(srv.ID, srv.Name, res.URL, token), nil
}

func (f *Factory) markOffline(ctx context.Context, serverID int64) {
	if err := f.st.SetServerStatus(ctx, serverID, models.ServerOffline); err != nil {
		log.Printf("[clients] server %d status: %v", serverID, err)
	}
}
