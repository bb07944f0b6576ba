// Package connectivity tracks whether the remote is reachable and triggers
// a queue drain when it comes back.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Signal reports reachability. Watch delivers the current state first and
// then every change until ctx is done, at which point the channel closes.
type Signal interface {
	Watch(ctx context.Context) (<-chan bool, error)
}

// ManualSignal is a Signal driven by SetOnline. Used by tests and by the
// CLI's --offline flag.
type ManualSignal struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

// NewManualSignal creates a signal with the given initial state.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{
		online: online,
		subs:   make(map[chan bool]struct{}),
	}
}

// Watch implements Signal.
func (s *ManualSignal) Watch(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 1)

	s.mu.Lock()
	ch <- s.online
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

// SetOnline changes the state and notifies watchers. Setting the current
// state again is a no-op. A watcher that has not consumed the previous
// value only sees the latest one.
func (s *ManualSignal) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return
	}
	s.online = online

	for ch := range s.subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

// IsOnline returns the current state.
func (s *ManualSignal) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// HTTPProbe polls a URL with HEAD requests. Any HTTP response counts as
// reachable; only transport failures count as offline.
type HTTPProbe struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// DefaultProbeInterval is used when Interval is zero.
const DefaultProbeInterval = 15 * time.Second

// NewHTTPProbe creates a probe for url.
func NewHTTPProbe(url string, interval time.Duration) *HTTPProbe {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &HTTPProbe{
		URL:      url,
		Interval: interval,
		Timeout:  5 * time.Second,
		Client:   &http.Client{},
	}
}

// Watch implements Signal.
func (p *HTTPProbe) Watch(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 1)

	go func() {
		defer close(ch)

		interval := p.Interval
		if interval <= 0 {
			interval = DefaultProbeInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := p.Check(ctx)
		select {
		case ch <- last:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur := p.Check(ctx)
				if cur == last {
					continue
				}
				last = cur
				select {
				case ch <- cur:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// Check performs one reachability probe.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	if p.URL == "" {
		return false
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}
