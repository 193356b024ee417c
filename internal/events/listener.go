package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"

	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// rescanInterval is how often the listener reconciles its socket loops
// against the registered servers.
const rescanInterval = time.Minute

// timelineFinished is the timeline state of a fully processed item:
// metadata extracted, file analyzed, ready in the library.
const timelineFinished = 5

// Listener keeps one notification socket per connected server and
// nudges the owner's library sync when the server reports library
// changes. Webhooks cover the same ground for servers configured to
// send them; the socket needs no server-side setup at all.
type Listener struct {
	st  *store.Store
	deb *Debouncer

	mu    stdsync.Mutex
	loops map[int64]context.CancelFunc
}

func NewListener(st *store.Store, deb *Debouncer) *Listener {
	return &Listener{st: st, deb: deb, loops: map[int64]context.CancelFunc{}}
}

// Run reconciles socket loops until ctx ends. Newly registered servers
// get a loop on the next rescan; deleted servers lose theirs.
func (l *Listener) Run(ctx context.Context) {
	l.rescan(ctx)
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.stopAll()
			return
		case <-ticker.C:
			l.rescan(ctx)
		}
	}
}

func (l *Listener) rescan(ctx context.Context) {
	servers, err := l.st.ListAllServers(ctx)
	if err != nil {
		log.Printf("[events] list servers: %v", err)
		return
	}

	want := map[int64]models.Server{}
	for _, srv := range servers {
		if srv.PreferredConnectionURL != nil {
			want[srv.ID] = srv
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cancel := range l.loops {
		if _, keep := want[id]; !keep {
			cancel()
			delete(l.loops, id)
		}
	}
	for id, srv := range want {
		if _, running := l.loops[id]; running {
			continue
		}
		token, err := l.st.ServerToken(&srv)
		if err != nil {
			log.Printf("[events] server %q token: %v", srv.Name, err)
			continue
		}
		lctx, cancel := context.WithCancel(ctx)
		l.loops[id] = cancel
		go l.watch(lctx, srv, token)
	}
}

func (l *Listener) stopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cancel := range l.loops {
		cancel()
		delete(l.loops, id)
	}
}

// watch dials the server's socket and redials with exponential backoff
// when it drops. A connection that held for a while earns a fresh
// backoff.
func (l *Listener) watch(ctx context.Context, srv models.Server, token string) {
	backoff := time.Second
	for {
		start := time.Now()
		err := l.stream(ctx, srv, token)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[events] server %q socket: %v", srv.Name, err)
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, 30*time.Second)
		}
	}
}

func (l *Listener) stream(ctx context.Context, srv models.Server, token string) error {
	wsURL := strings.Replace(*srv.PreferredConnectionURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/:/websockets/notifications"

	header := http.Header{"X-Plex-Token": {token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if libraryChanged(msg) {
			l.deb.Signal(srv.UserID, models.JobLibrarySync)
		}
	}
}

type notification struct {
	NotificationContainer struct {
		Type     string `json:"type"`
		Timeline []struct {
			Identifier string `json:"identifier"`
			State      int    `json:"state"`
		} `json:"TimelineEntry"`
		Activity []struct {
			Event string `json:"event"`
		} `json:"ActivityNotification"`
	} `json:"NotificationContainer"`
}

// libraryChanged reports whether a socket message describes a library
// mutation worth a refresh: a timeline entry reaching its final state,
// or a server activity finishing. Play-state chatter does not count.
func libraryChanged(data []byte) bool {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		return false
	}
	c := n.NotificationContainer
	switch c.Type {
	case "timeline":
		for _, e := range c.Timeline {
			if e.Identifier == "com.plexapp.plugins.library" && e.State == timelineFinished {
				return true
			}
		}
	case "activity":
		for _, a := range c.Activity {
			if a.Event == "ended" {
				return true
			}
		}
	}
	return false
}
