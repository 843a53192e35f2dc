// Package monitor streams generation progress of running searches to
// websocket clients.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"evopattern/internal/model"
)

type HubConfig struct {
	// BufferSize is the per-client event buffer. Events beyond it are dropped
	// for that client.
	BufferSize   int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:   256,
		WriteTimeout: 10 * time.Second,
	}
}

// ProgressEvent is the JSON message sent to clients.
type ProgressEvent struct {
	Type        string                       `json:"type"`
	RunID       string                       `json:"run_id"`
	Diagnostics *model.GenerationDiagnostics `json:"diagnostics,omitempty"`
	Patterns    int                          `json:"patterns,omitempty"`
	Done        bool                         `json:"done"`
}

type client struct {
	id   uint64
	ch   chan ProgressEvent
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Hub fans progress events out to every connected websocket client.
type Hub struct {
	config  HubConfig
	log     *slog.Logger
	mu      sync.RWMutex
	clients map[uint64]*client
	nextID  uint64
}

func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		config:  cfg,
		log:     logger,
		clients: make(map[uint64]*client),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	c := h.register()
	defer h.unregister(c)

	// Clients never send anything meaningful; reading detects disconnects.
	go func() {
		defer c.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case ev := <-c.ch:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("progress marshal error", "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &client{
		id:   h.nextID,
		ch:   make(chan ProgressEvent, h.config.BufferSize),
		done: make(chan struct{}),
	}
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// Publish queues ev for every client without blocking.
func (h *Hub) Publish(ev ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.ch <- ev:
		default:
			h.log.Warn("progress buffer full, dropping event", "client", c.id, "run_id", ev.RunID)
		}
	}
}

// Observer returns a per-generation callback publishing diagnostics for runID.
func (h *Hub) Observer(runID string) func(model.GenerationDiagnostics) {
	return func(d model.GenerationDiagnostics) {
		diag := d
		h.Publish(ProgressEvent{Type: "generation", RunID: runID, Diagnostics: &diag})
	}
}

// Finish announces that runID completed with the given pattern count.
func (h *Hub) Finish(runID string, patterns int) {
	h.Publish(ProgressEvent{Type: "done", RunID: runID, Patterns: patterns, Done: true})
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ListenAndServe serves the hub at /progress on addr until the returned
// shutdown function is called.
func (h *Hub) ListenAndServe(addr string) (func() error, error) {
	mux := http.NewServeMux()
	mux.Handle("/progress", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return nil, fmt.Errorf("serve progress hub on %s: %w", addr, err)
		}
	case <-time.After(50 * time.Millisecond):
	}
	h.log.Info("progress hub listening", "addr", addr, "path", "/progress")
	return srv.Close, nil
}
