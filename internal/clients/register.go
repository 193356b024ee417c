package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sweeparr/internal/crypto"
	"sweeparr/internal/models"
	"sweeparr/internal/plex"
)

// Register exchanges a plex.tv token for a stored server: it discovers
// the account's resources, picks the one the input names, probes its
// connections, and persists the row with an encrypted token and a fresh
// webhook secret. The probe runs before the insert so a dead server is
// never stored.
func (f *Factory) Register(ctx context.Context, userID int64, in *models.ServerInput) (*models.Server, error) {
	resources, err := f.discover(ctx, in.Token)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if len(resources) == 0 {
		return nil, &models.ValidationError{Field: "token", Msg: "token sees no owned servers"}
	}

	matched, err := matchResource(resources, in)
	if err != nil {
		return nil, err
	}

	existing, err := f.st.ListServers(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].MachineID == matched.ClientIdentifier {
			return nil, &models.ValidationError{Field: "name", Msg: fmt.Sprintf("server %q is already registered", existing[i].Name)}
		}
	}

	res, err := f.probe(ctx, in.Token, matched.ClientIdentifier, matched.Connections)
	if err != nil {
		return nil, fmt.Errorf("probing %q: %w", matched.Name, err)
	}

	secret, err := crypto.NewWebhookSecret()
	if err != nil {
		return nil, err
	}

	srv := &models.Server{
		UserID:        userID,
		Name:          in.Name,
		MachineID:     matched.ClientIdentifier,
		Platform:      matched.Platform,
		Version:       res.Version,
		Status:        models.ServerOnline,
		WebhookSecret: secret,
	}
	if err := f.st.CreateServer(ctx, srv, in.Token); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := f.st.UpdateServerConnection(ctx, srv.ID, res.URL, res.LatencyMS, now); err != nil {
		return nil, err
	}
	srv.PreferredConnectionURL = &res.URL
	srv.ConnectionLatencyMS = &res.LatencyMS
	srv.ConnectionTestedAt = &now
	return srv, nil
}

// matchResource picks the discovered resource the input refers to:
// machine_id when given, then case-insensitive name, then the lone
// resource when the account owns exactly one.
func matchResource(resources []plex.Resource, in *models.ServerInput) (*plex.Resource, error) {
	if in.MachineID != "" {
		for i := range resources {
			if resources[i].ClientIdentifier == in.MachineID {
				return &resources[i], nil
			}
		}
		return nil, &models.ValidationError{Field: "machine_id", Msg: "no owned server has that machine id"}
	}
	for i := range resources {
		if strings.EqualFold(resources[i].Name, in.Name) {
			return &resources[i], nil
		}
	}
	if len(resources) == 1 {
		return &resources[0], nil
	}

	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.Name
	}
	return nil, &models.ValidationError{
		Field: "name",
		Msg:   fmt.Sprintf("no server named %q; account owns: %s", in.Name, strings.Join(names, ", ")),
	}
}
