package webhook

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sweeparr/internal/events"
	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// maxPayload caps webhook bodies. Senders with more to say than this
// are not sending notifications.
const maxPayload = 64 << 10

// Dispatcher authenticates service webhooks and turns them into
// debounced sync nudges or immediate engagement patches. Every
// authenticated intake leaves a WebhookEvent row; failed
// authentication leaves nothing, not even a hint the owner exists.
type Dispatcher struct {
	st  *store.Store
	deb *events.Debouncer
}

func NewDispatcher(st *store.Store, deb *events.Debouncer) *Dispatcher {
	return &Dispatcher{st: st, deb: deb}
}

// Handler routes POST /{service}/{owner}. Mount it under /webhook.
func (d *Dispatcher) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/{service}/{owner}", d.handle)
	return r
}

var knownServices = map[string]bool{
	"plex":      true,
	"tautulli":  true,
	"sonarr":    true,
	"radarr":    true,
	"overseerr": true,
}

func (d *Dispatcher) handle(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	ownerID, err := strconv.ParseInt(chi.URLParam(r, "owner"), 10, 64)
	if !knownServices[service] || err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	servers, err := d.st.ListServers(r.Context(), ownerID)
	if err != nil || len(servers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	secret := r.Header.Get("X-Webhook-Secret")
	if secret == "" {
		secret = r.URL.Query().Get("secret")
	}
	matched := matchServer(servers, secret)
	if matched == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.ContentLength > maxPayload {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)

	payload, err := readPayload(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		d.record(r.Context(), ownerID, service, "", payload, models.WebhookRejected, nil)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	event, status, actions := d.route(r.Context(), service, ownerID, servers, matched, payload)
	d.record(r.Context(), ownerID, service, event, payload, status, actions)
	w.WriteHeader(http.StatusAccepted)
}

// readPayload returns the notification body. Plex wraps its JSON in a
// multipart form under the `payload` field; everyone else posts plain
// JSON.
func readPayload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxPayload); err != nil {
			return nil, err
		}
		return []byte(r.FormValue("payload")), nil
	}
	return io.ReadAll(r.Body)
}

// matchServer finds the server row whose webhook secret matches,
// comparing every row in constant time so a miss costs the same as a
// hit.
func matchServer(servers []models.Server, secret string) *models.Server {
	if secret == "" {
		return nil
	}
	var matched *models.Server
	for i := range servers {
		if subtle.ConstantTimeCompare([]byte(servers[i].WebhookSecret), []byte(secret)) == 1 && matched == nil {
			matched = &servers[i]
		}
	}
	return matched
}

type plexPayload struct {
	Event  string `json:"event"`
	Server struct {
		UUID string `json:"uuid"`
	} `json:"Server"`
	Metadata struct {
		RatingKey string `json:"ratingKey"`
		Type      string `json:"type"`
		Title     string `json:"title"`
	} `json:"Metadata"`
}

func (d *Dispatcher) route(ctx context.Context, service string, ownerID int64, servers []models.Server, matched *models.Server, payload []byte) (string, models.WebhookStatus, []string) {
	switch service {
	case "plex":
		var p plexPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", models.WebhookRejected, nil
		}
		switch p.Event {
		case "library.new", "library.on.deck":
			d.deb.Signal(ownerID, models.JobLibrarySync)
			return p.Event, models.WebhookAccepted, []string{"library_sync"}
		case "media.scrobble":
			// Music and photo scrobbles name kinds the mirror never
			// carries; minting placeholders for them would only pollute
			// the inaccessible-files report.
			if p.Metadata.RatingKey == "" || !models.MediaKind(p.Metadata.Type).Valid() {
				return p.Event, models.WebhookIgnored, nil
			}
			target := matched
			if p.Server.UUID != "" {
				for i := range servers {
					if servers[i].MachineID == p.Server.UUID {
						target = &servers[i]
						break
					}
				}
			}
			d.applyScrobble(ctx, target, &p)
			return p.Event, models.WebhookAccepted, []string{"scrobble"}
		}
		return p.Event, models.WebhookIgnored, nil

	case "sonarr", "radarr":
		var p struct {
			EventType string `json:"eventType"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", models.WebhookRejected, nil
		}
		switch p.EventType {
		case "Download", "download.completed":
			d.deb.Signal(ownerID, models.JobLibrarySync)
			return p.EventType, models.WebhookAccepted, []string{"library_sync"}
		}
		return p.EventType, models.WebhookIgnored, nil

	case "tautulli":
		// Tautulli notification agents post whatever shape the admin
		// configured; any valid notification means watch history moved.
		var p struct {
			Action string `json:"action"`
			Event  string `json:"event"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", models.WebhookRejected, nil
		}
		event := p.Action
		if event == "" {
			event = p.Event
		}
		if event == "" {
			event = "notification"
		}
		d.deb.Signal(ownerID, models.JobHistorySync)
		return event, models.WebhookAccepted, []string{"history_sync"}

	case "overseerr":
		var p struct {
			NotificationType string `json:"notification_type"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", models.WebhookRejected, nil
		}
		// Request lifecycle is Overseerr's; the intake row is the
		// forwarding record.
		return p.NotificationType, models.WebhookAccepted, nil
	}
	return "", models.WebhookIgnored, nil
}

// applyScrobble merges a finished-watching signal straight into the
// mirror. Items the catalog has not seen yet get a placeholder so the
// play is not lost; the next library sync fills in the rest.
func (d *Dispatcher) applyScrobble(ctx context.Context, srv *models.Server, p *plexPayload) {
	kind := models.MediaKind(p.Metadata.Type)
	if _, err := d.st.EnsurePlaceholder(ctx, srv.ID, p.Metadata.RatingKey, kind, p.Metadata.Title); err != nil {
		log.Printf("[webhook] placeholder for scrobble %s: %v", p.Metadata.RatingKey, err)
		return
	}
	if err := d.st.RecordScrobble(ctx, srv.ID, p.Metadata.RatingKey, time.Now().UTC()); err != nil {
		log.Printf("[webhook] scrobble %s: %v", p.Metadata.RatingKey, err)
	}
}

func (d *Dispatcher) record(ctx context.Context, ownerID int64, service, event string, payload []byte, status models.WebhookStatus, actions []string) {
	sum := sha256.Sum256(payload)
	row := &models.WebhookEvent{
		UserID:           ownerID,
		Service:          service,
		Event:            event,
		PayloadHash:      hex.EncodeToString(sum[:]),
		PayloadBytes:     len(payload),
		ProcessingStatus: status,
		ActionsTriggered: strings.Join(actions, ","),
		ReceivedAt:       time.Now().UTC(),
	}
	if err := d.st.CreateWebhookEvent(ctx, row); err != nil {
		log.Printf("[webhook] record %s intake: %v", service, err)
	}
}
