package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/fieldsync/internal/connectivity"
	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/syncer"
)

type fakeService struct {
	notifier *events.Notifier
	online   bool
	syncs    atomic.Int32
}

func (f *fakeService) Subscribe(buffer int) (<-chan events.Event, func(), error) {
	ch, unsub := f.notifier.Subscribe(buffer)
	return ch, unsub, nil
}

func (f *fakeService) GetConnectivityStatus() (connectivity.Status, error) {
	return connectivity.Status{IsOnline: f.online, UnsyncedItems: 4}, nil
}

func (f *fakeService) ForceSync(ctx context.Context) (syncer.Result, error) {
	f.syncs.Add(1)
	if !f.online {
		return syncer.Result{Skipped: true, Offline: true}, nil
	}
	return syncer.Result{Succeeded: 4}, nil
}

func startHub(t *testing.T, online bool) (*Hub, *fakeService, *httptest.Server) {
	t.Helper()

	svc := &fakeService{notifier: events.NewNotifier(), online: online}
	t.Cleanup(svc.notifier.Close)

	h := New(svc, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	// Run subscribes asynchronously.
	require.Eventually(t, func() bool { return svc.notifier.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	return h, svc, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestEventsAreBroadcast(t *testing.T) {
	h, svc, srv := startHub(t, true)

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	svc.notifier.Publish(events.Event{Type: events.ItemSucceeded, QueueID: 9, TargetID: "i1"})

	for _, conn := range []*websocket.Conn{a, b} {
		e := readEvent(t, conn)
		assert.Equal(t, events.ItemSucceeded, e.Type)
		assert.Equal(t, uint64(9), e.QueueID)
		assert.Equal(t, "i1", e.TargetID)
	}
}

func TestClientSubscriptionFilter(t *testing.T) {
	h, svc, srv := startHub(t, true)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Events: []string{string(events.SyncCompleted)}}))
	require.Eventually(t, func() bool {
		for c := range snapshot(h) {
			if c.wants(events.SyncCompleted) && !c.wants(events.SyncStarted) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	svc.notifier.Publish(events.Event{Type: events.SyncStarted})
	svc.notifier.Publish(events.Event{Type: events.SyncCompleted, Succeeded: 2})

	e := readEvent(t, conn)
	assert.Equal(t, events.SyncCompleted, e.Type)
	assert.Equal(t, 2, e.Succeeded)
}

func snapshot(h *Hub) map[*client]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[*client]struct{}, len(h.clients))
	for c := range h.clients {
		out[c] = struct{}{}
	}
	return out
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h, _, srv := startHub(t, true)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStatusEndpoint(t *testing.T) {
	_, _, srv := startHub(t, true)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st connectivity.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.IsOnline)
	assert.Equal(t, int64(4), st.UnsyncedItems)
}

func TestSyncEndpoint(t *testing.T) {
	_, svc, srv := startHub(t, false)

	resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "offline sync is skipped")
	var res syncer.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Offline)
	assert.Equal(t, int32(1), svc.syncs.Load())

	get, err := http.Get(srv.URL + "/sync")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestSyncEndpoint_RejectsForeignOrigin(t *testing.T) {
	_, svc, srv := startHub(t, true)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sync", strings.NewReader("x=1"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(0), svc.syncs.Load(), "no drain was triggered")

	local, err := http.NewRequest(http.MethodPost, srv.URL+"/sync", nil)
	require.NoError(t, err)
	local.Header.Set("Origin", "http://localhost:3000")
	ok, err := http.DefaultClient.Do(local)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Equal(t, int32(1), svc.syncs.Load())
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:5173", true},
		{"http://[::1]:8080", true},
		{"https://evil.example.com", false},
		{"http://192.168.1.20", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/events", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, localOrigin(r))
		})
	}
}
