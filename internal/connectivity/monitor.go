package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the delay between coming online and draining.
const DefaultDebounce = 2 * time.Second

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("connectivity monitor already started")

// Status is the connectivity snapshot shown to the UI.
type Status struct {
	IsOnline      bool       `json:"is_online"`
	UnsyncedItems int64      `json:"unsynced_items"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}

// StatusStore is the part of the store the monitor reads.
type StatusStore interface {
	CountQueue() (int64, error)
	LastSyncTime() (*time.Time, error)
}

// Options configures a Monitor.
type Options struct {
	Signal   Signal
	Store    StatusStore
	Notifier *events.Notifier

	// Trigger is invoked once per debounced offline->online transition.
	Trigger func(ctx context.Context)

	// Debounce delays Trigger; zero triggers immediately.
	Debounce time.Duration

	Logger zerolog.Logger
}

// Monitor follows a Signal, exposes the online flag and schedules drains.
type Monitor struct {
	opts Options

	online  atomic.Bool
	started atomic.Bool

	mu      sync.Mutex
	gen     uint64
	pending *time.Timer

	done chan struct{}
}

// NewMonitor creates a monitor. It starts offline until Start reads the
// signal's initial state.
func NewMonitor(opts Options) *Monitor {
	return &Monitor{
		opts: opts,
		done: make(chan struct{}),
	}
}

// Start subscribes to the signal and blocks until its initial state is
// known. Being online at start counts as a transition, so items left from
// a previous run are drained.
func (m *Monitor) Start(ctx context.Context) error {
	if m.opts.Signal == nil {
		return errors.New("connectivity monitor: nil signal")
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ch, err := m.opts.Signal.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch connectivity: %w", err)
	}

	select {
	case v, ok := <-ch:
		if !ok {
			close(m.done)
			return ctx.Err()
		}
		m.apply(ctx, v)
	case <-ctx.Done():
		close(m.done)
		return ctx.Err()
	}

	go m.loop(ctx, ch)
	return nil
}

func (m *Monitor) loop(ctx context.Context, ch <-chan bool) {
	defer close(m.done)
	defer m.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if v == m.online.Load() {
				continue
			}
			m.apply(ctx, v)
		}
	}
}

func (m *Monitor) apply(ctx context.Context, online bool) {
	m.online.Store(online)
	m.opts.Logger.Info().Bool("online", online).Msg("connectivity changed")

	if m.opts.Notifier != nil {
		m.opts.Notifier.Publish(events.Event{
			Type:   events.ConnectivityChanged,
			Online: events.Online(online),
		})
	}

	if online {
		m.schedule(ctx)
	} else {
		m.cancelPending()
	}
}

// schedule arms the debounced trigger, replacing any pending one.
func (m *Monitor) schedule(ctx context.Context) {
	if m.opts.Trigger == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	gen := m.gen
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}

	fire := func() {
		m.mu.Lock()
		current := gen == m.gen
		m.mu.Unlock()
		if !current || !m.online.Load() || ctx.Err() != nil {
			return
		}
		m.opts.Trigger(ctx)
	}

	if m.opts.Debounce <= 0 {
		go fire()
		return
	}
	m.pending = time.AfterFunc(m.opts.Debounce, fire)
}

func (m *Monitor) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

// IsOnline reports the last known reachability.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Status reads the unsynced count and last sync time from the store.
func (m *Monitor) Status() (Status, error) {
	st := Status{IsOnline: m.IsOnline()}
	if m.opts.Store == nil {
		return st, nil
	}

	count, err := m.opts.Store.CountQueue()
	if err != nil {
		return st, fmt.Errorf("count queue: %w", err)
	}
	st.UnsyncedItems = count

	last, err := m.opts.Store.LastSyncTime()
	if err != nil {
		return st, fmt.Errorf("read last sync time: %w", err)
	}
	st.LastSyncTime = last
	return st, nil
}

// Done is closed once the monitor stops following its signal.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}
