package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"sweeparr/internal/models"
)

// Severity grades a message so channels can map it onto their own
// priority schemes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Field is one short label/value pair attached to a message.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is one channel-agnostic outbound notification.
type Message struct {
	Event      string    `json:"event"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Severity   Severity  `json:"severity"`
	Fields     []Field   `json:"fields,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// plainText renders the message for channels without structured fields.
func (m *Message) plainText() string {
	if len(m.Fields) == 0 {
		return m.Body
	}
	var b strings.Builder
	b.WriteString(m.Body)
	for _, f := range m.Fields {
		b.WriteString("\n")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

type Notifier struct {
	client *http.Client
}

func New() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send delivers the message to all channels in parallel and joins the
// failures into one error.
func (n *Notifier) Send(ctx context.Context, msg *Message, channels []models.NotificationChannel) error {
	if len(channels) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []string

	for _, ch := range channels {
		wg.Add(1)
		go func(ch models.NotificationChannel) {
			defer wg.Done()

			var err error
			switch ch.ChannelType {
			case models.ChannelTypeDiscord:
				err = n.sendDiscord(ctx, ch, msg)
			case models.ChannelTypeWebhook:
				err = n.sendWebhook(ctx, ch, msg)
			case models.ChannelTypePushover:
				err = n.sendPushover(ctx, ch, msg)
			case models.ChannelTypeNtfy:
				err = n.sendNtfy(ctx, ch, msg)
			default:
				err = fmt.Errorf("unknown channel type: %s", ch.ChannelType)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name, err))
				mu.Unlock()
			}
		}(ch)
	}

	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (n *Notifier) sendDiscord(ctx context.Context, ch models.NotificationChannel, msg *Message) error {
	var config models.DiscordConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	color := 0x808080
	switch msg.Severity {
	case SeverityCritical:
		color = 0xFF0000
	case SeverityWarning:
		color = 0xFFA500
	case SeverityInfo:
		color = 0x2ECC71
	}

	fields := make([]map[string]interface{}, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, map[string]interface{}{"name": f.Name, "value": f.Value, "inline": true})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       msg.Title,
				"description": msg.Body,
				"color":       color,
				"fields":      fields,
				"timestamp":   msg.OccurredAt.Format(time.RFC3339),
				"footer": map[string]string{
					"text": "Sweeparr",
				},
			},
		},
	}

	return n.postJSON(ctx, config.WebhookURL, payload)
}

func (n *Notifier) sendWebhook(ctx context.Context, ch models.NotificationChannel, msg *Message) error {
	var config models.WebhookConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range config.Headers {
		req.Header.Set(k, val)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendPushover(ctx context.Context, ch models.NotificationChannel, msg *Message) error {
	var config models.PushoverConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	priority := "0"
	switch msg.Severity {
	case SeverityCritical:
		priority = "1"
	case SeverityInfo:
		priority = "-1"
	}

	form := url.Values{}
	form.Set("token", config.AppToken)
	form.Set("user", config.UserKey)
	form.Set("title", msg.Title)
	form.Set("message", msg.plainText())
	form.Set("priority", priority)
	form.Set("timestamp", fmt.Sprintf("%d", msg.OccurredAt.Unix()))

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.pushover.net/1/messages.json",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendNtfy(ctx context.Context, ch models.NotificationChannel, msg *Message) error {
	var config models.NtfyConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	ntfyURL := strings.TrimRight(config.ServerURL, "/") + "/" + config.Topic

	priority := "default"
	switch msg.Severity {
	case SeverityCritical:
		priority = "urgent"
	case SeverityWarning:
		priority = "high"
	case SeverityInfo:
		priority = "low"
	}

	req, err := http.NewRequestWithContext(ctx, "POST", ntfyURL, strings.NewReader(msg.plainText()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", msg.Title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", string(msg.Severity))

	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) postJSON(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

// TestChannel sends a throwaway message so an admin can verify a
// channel's config before trusting it with real outcomes.
func (n *Notifier) TestChannel(ctx context.Context, ch *models.NotificationChannel) error {
	msg := &Message{
		Event:      "test",
		Title:      "Sweeparr test notification",
		Body:       "The channel is configured correctly.",
		Severity:   SeverityInfo,
		OccurredAt: time.Now().UTC(),
	}
	return n.Send(ctx, msg, []models.NotificationChannel{*ch})
}
