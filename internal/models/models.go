package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// MediaKind is the addressable unit a media server exposes.
type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindShow    MediaKind = "show"
	KindSeason  MediaKind = "season"
	KindEpisode MediaKind = "episode"
)

// Valid returns true if the kind is recognized.
func (k MediaKind) Valid() bool {
	switch k {
	case KindMovie, KindShow, KindSeason, KindEpisode:
		return true
	}
	return false
}

// Leaf returns true for kinds that carry their own file (movie, episode).
func (k MediaKind) Leaf() bool {
	return k == KindMovie || k == KindEpisode
}

type ServerStatus string

const (
	ServerOnline  ServerStatus = "online"
	ServerOffline ServerStatus = "offline"
	ServerError   ServerStatus = "error"
)

// Server is one Plex instance bound to one owning administrator.
// The token is stored encrypted; the webhook secret is a shared
// low-privilege secret compared in constant time by the dispatcher.
type Server struct {
	ID                     int64        `json:"id"`
	UserID                 int64        `json:"user_id"`
	Name                   string       `json:"name"`
	MachineID              string       `json:"machine_id"`
	Platform               string       `json:"platform,omitempty"`
	Version                string       `json:"version,omitempty"`
	Status                 ServerStatus `json:"status"`
	TokenEncrypted         string       `json:"-"`
	PreferredConnectionURL *string      `json:"preferred_connection_url,omitempty"`
	ConnectionLatencyMS    *int64       `json:"connection_latency_ms,omitempty"`
	ConnectionTestedAt     *time.Time   `json:"connection_tested_at,omitempty"`
	WebhookSecret          string       `json:"-"`
	LastFullSyncAt         *time.Time   `json:"last_full_sync_at,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// ServerInput registers a new server. The token is exchanged for
// discovered connection details and stored encrypted. MachineID pins
// the registration to one resource when the account owns several.
type ServerInput struct {
	Name      string `json:"name"`
	Token     string `json:"token"`
	MachineID string `json:"machine_id,omitempty"`
}

func (si *ServerInput) Validate() error {
	if si.Name == "" {
		return errors.New("name is required")
	}
	if len(si.Name) > 255 {
		return errors.New("name must be 255 characters or less")
	}
	if si.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

type IntegrationService string

const (
	ServiceTautulli  IntegrationService = "tautulli"
	ServiceSonarr    IntegrationService = "sonarr"
	ServiceRadarr    IntegrationService = "radarr"
	ServiceOverseerr IntegrationService = "overseerr"
)

func (s IntegrationService) Valid() bool {
	switch s {
	case ServiceTautulli, ServiceSonarr, ServiceRadarr, ServiceOverseerr:
		return true
	}
	return false
}

type IntegrationStatus string

const (
	IntegrationInactive IntegrationStatus = "inactive"
	IntegrationActive   IntegrationStatus = "active"
	IntegrationError    IntegrationStatus = "error"
)

// Integration is a configured companion service for one server.
type Integration struct {
	ID              int64              `json:"id"`
	UserID          int64              `json:"user_id"`
	ServerID        int64              `json:"server_id"`
	Service         IntegrationService `json:"service"`
	Name            string             `json:"name"`
	BaseURL         string             `json:"base_url"`
	APIKeyEncrypted string             `json:"-"`
	Status          IntegrationStatus  `json:"status"`
	LastSyncAt      *time.Time         `json:"last_sync_at,omitempty"`
	LastError       string             `json:"last_error,omitempty"`
	FailureCount    int                `json:"failure_count"`
	FirstFailureAt  *time.Time         `json:"-"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type IntegrationInput struct {
	ServerID int64              `json:"server_id"`
	Service  IntegrationService `json:"service"`
	Name     string             `json:"name"`
	BaseURL  string             `json:"base_url"`
	APIKey   string             `json:"api_key"`
}

func (ii *IntegrationInput) Validate() error {
	if ii.ServerID == 0 {
		return errors.New("server_id is required")
	}
	if !ii.Service.Valid() {
		return errors.New("service must be tautulli, sonarr, radarr, or overseerr")
	}
	if ii.Name == "" {
		return errors.New("name is required")
	}
	if ii.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if ii.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	Token      string    `json:"-"`
	UserID     int64     `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// StorageCapacity is the system_config row keyed "storage_capacity".
type StorageCapacity struct {
	TotalBytes int64  `json:"total_bytes"`
	Source     string `json:"source,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
