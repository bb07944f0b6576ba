// Package hub pushes sync events to a local UI over websockets and exposes
// status and manual sync endpoints.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/asteroid-belt/fieldsync/internal/connectivity"
	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/syncer"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var errForeignOrigin = errors.New("origin not allowed")

// Service is the part of the offline service the hub drives.
type Service interface {
	Subscribe(buffer int) (<-chan events.Event, func(), error)
	GetConnectivityStatus() (connectivity.Status, error)
	ForceSync(ctx context.Context) (syncer.Result, error)
}

// Hub fans service events out to websocket clients.
type Hub struct {
	svc      Service
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a hub for svc.
func New(svc Service, logger zerolog.Logger) *Hub {
	h := &Hub{
		svc:     svc,
		log:     logger.With().Str("component", "hub").Logger(),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     localOrigin,
	}
	return h
}

// localOrigin only accepts browser connections from a local page. Non-browser
// clients send no Origin header.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", h.handleEvents)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("POST /sync", h.handleSync)
	return mux
}

// Run forwards service events to connected clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ch, unsub, err := h.svc.Subscribe(256)
	if err != nil {
		return err
	}
	defer unsub()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			h.broadcast(e)
		}
	}
}

// ListenAndServe serves the hub on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.log.Info().Str("addr", addr).Msg("event hub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-runErr
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(e events.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(e.Type) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow client: drop it rather than stall the others.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("clients", n).Msg("client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		filter: make(map[events.Type]bool),
	}
	h.register(c)

	go c.writePump()
	c.readPump()
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetConnectivityStatus()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Hub) handleSync(w http.ResponseWriter, r *http.Request) {
	if !localOrigin(r) {
		h.log.Warn().Str("origin", r.Header.Get("Origin")).Msg("rejected sync request from foreign origin")
		writeError(w, http.StatusForbidden, errForeignOrigin)
		return
	}
	res, err := h.svc.ForceSync(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
