package models

import (
	"encoding/json"
	"errors"
	"time"
)

// JobKind names the long-running operations the orchestrator runs.
type JobKind string

const (
	JobLibrarySync   JobKind = "library_sync"
	JobHistorySync   JobKind = "history_sync"
	JobCascadeDelete JobKind = "cascade_delete"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobLibrarySync, JobHistorySync, JobCascadeDelete:
		return true
	}
	return false
}

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobPartial   JobStatus = "partial"
)

// Terminal returns true once a job can no longer change state.
func (s JobStatus) Terminal() bool { return s != JobRunning }

type SyncTrigger string

const (
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerWebhook   SyncTrigger = "webhook"
)

// LibrarySyncProgress is the frame a library sync emits as it walks
// sections. Counts refer to items ingested so far; Total is the
// pre-counted sum across all sections.
type LibrarySyncProgress struct {
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Section        string  `json:"section,omitempty"`
	Title          string  `json:"title,omitempty"`
	ItemsPerSecond float64 `json:"items_per_second"`
	ETASeconds     int     `json:"eta_seconds"`
	Updated        int     `json:"updated"`
	Created        int     `json:"created"`
	Failed         int     `json:"failed"`
	Full           bool    `json:"full"`
}

// HistorySyncProgress reports history aggregation progress along with
// the data source the sync selected.
type HistorySyncProgress struct {
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Updated        int     `json:"updated"`
	Created        int     `json:"created"`
	ItemsPerSecond float64 `json:"items_per_second"`
	ETASeconds     int     `json:"eta_seconds"`
	Source         string  `json:"source"`
}

// CascadeProgress is emitted after each candidate completes. Deleted
// counts server-delete successes, so partial candidates count as
// deleted.
type CascadeProgress struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Deleted     int    `json:"deleted"`
	Failed      int    `json:"failed"`
	CurrentItem string `json:"currentItem,omitempty"`
	BytesFreed  int64  `json:"bytes_freed"`
	DryRun      bool   `json:"dry_run"`
}

// JobSnapshot is the polling view of a job: last progress frame plus
// lifecycle state.
type JobSnapshot struct {
	Kind       JobKind         `json:"kind"`
	Status     JobStatus       `json:"status"`
	Trigger    SyncTrigger     `json:"trigger"`
	Progress   json.RawMessage `json:"progress,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// SyncEvent is the persistent record of one job invocation.
type SyncEvent struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"user_id"`
	Kind           JobKind     `json:"kind"`
	Trigger        SyncTrigger `json:"trigger"`
	Status         JobStatus   `json:"status"`
	ItemsProcessed int         `json:"items_processed"`
	ItemsUpdated   int         `json:"items_updated"`
	ItemsCreated   int         `json:"items_created"`
	ItemsFailed    int         `json:"items_failed"`
	BytesFreed     int64       `json:"bytes_freed,omitempty"`
	Source         string      `json:"source,omitempty"`
	Error          string      `json:"error,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

type WebhookStatus string

const (
	WebhookAccepted WebhookStatus = "accepted"
	WebhookRejected WebhookStatus = "rejected"
	WebhookIgnored  WebhookStatus = "ignored"
)

// WebhookEvent records one webhook intake with its processing outcome.
type WebhookEvent struct {
	ID               int64         `json:"id"`
	UserID           int64         `json:"user_id"`
	Service          string        `json:"service"`
	Event            string        `json:"event,omitempty"`
	PayloadHash      string        `json:"payload_hash"`
	PayloadBytes     int           `json:"payload_bytes"`
	ProcessingStatus WebhookStatus `json:"processing_status"`
	ActionsTriggered string        `json:"actions_triggered,omitempty"`
	ReceivedAt       time.Time     `json:"received_at"`
}

// SyncSchedule configures the scheduler for one (owner, kind).
type SyncSchedule struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	Kind          JobKind    `json:"kind"`
	IntervalHours int        `json:"interval_hours"`
	Enabled       bool       `json:"enabled"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastStatus    string     `json:"last_status,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	RunCount      int        `json:"run_count"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ScheduleInput struct {
	Kind          JobKind `json:"kind"`
	IntervalHours int     `json:"interval_hours"`
	Enabled       bool    `json:"enabled"`
}

func (si *ScheduleInput) Validate() error {
	if !si.Kind.Valid() {
		return errors.New("kind must be library_sync, history_sync, or cascade_delete")
	}
	if si.IntervalHours < 1 {
		return errors.New("interval_hours must be at least 1")
	}
	return nil
}

type ChannelType string

const (
	ChannelTypeDiscord  ChannelType = "discord"
	ChannelTypeWebhook  ChannelType = "webhook"
	ChannelTypePushover ChannelType = "pushover"
	ChannelTypeNtfy     ChannelType = "ntfy"
)

// NotificationChannel is a configured outbound notification target.
type NotificationChannel struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Name        string          `json:"name"`
	ChannelType ChannelType     `json:"channel_type"`
	Config      json.RawMessage `json:"config"`
	Enabled     bool            `json:"enabled"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ValidateConfig checks that the channel's config parses for its type.
func (ch *NotificationChannel) ValidateConfig() error {
	if ch.Name == "" {
		return &ValidationError{Field: "name", Msg: "name is required"}
	}
	var cfg interface{ Validate() error }
	switch ch.ChannelType {
	case ChannelTypeDiscord:
		cfg = &DiscordConfig{}
	case ChannelTypeWebhook:
		cfg = &WebhookConfig{}
	case ChannelTypePushover:
		cfg = &PushoverConfig{}
	case ChannelTypeNtfy:
		cfg = &NtfyConfig{}
	default:
		return &ValidationError{Field: "channel_type", Msg: "channel_type must be discord, webhook, pushover, or ntfy"}
	}
	if err := json.Unmarshal(ch.Config, cfg); err != nil {
		return &ValidationError{Field: "config", Msg: "config is not valid json"}
	}
	if err := cfg.Validate(); err != nil {
		return &ValidationError{Field: "config", Msg: err.Error()}
	}
	return nil
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *DiscordConfig) Validate() error {
	if c.WebhookURL == "" {
		return errors.New("webhook_url is required")
	}
	return nil
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	return nil
}

type PushoverConfig struct {
	AppToken string `json:"app_token"`
	UserKey  string `json:"user_key"`
}

func (c *PushoverConfig) Validate() error {
	if c.AppToken == "" || c.UserKey == "" {
		return errors.New("app_token and user_key are required")
	}
	return nil
}

type NtfyConfig struct {
	ServerURL string `json:"server_url"`
	Topic     string `json:"topic"`
	Token     string `json:"token,omitempty"`
}

func (c *NtfyConfig) Validate() error {
	if c.ServerURL == "" || c.Topic == "" {
		return errors.New("server_url and topic are required")
	}
	return nil
}
