package testutil

import (
	"context"
	"sync"

	"github.com/asteroid-belt/fieldsync/internal/remote"
)

// FakeRemote is a scripted remote.Applier. Each Apply call consumes the next
// scripted result; once the script is exhausted every call succeeds.
type FakeRemote struct {
	mu     sync.Mutex
	script []error
	calls  []remote.Mutation

	// Gate, when set, blocks every Apply until a value is received or the
	// call's context ends.
	Gate chan struct{}

	// Entered receives one value per Apply call when set.
	Entered chan remote.Mutation
}

// NewFakeRemote creates a fake that returns results in order.
func NewFakeRemote(results ...error) *FakeRemote {
	return &FakeRemote{script: results}
}

// Script appends results for future calls.
func (f *FakeRemote) Script(results ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, results...)
}

// Apply implements remote.Applier.
func (f *FakeRemote) Apply(ctx context.Context, m remote.Mutation) error {
	if f.Entered != nil {
		f.Entered <- m
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			f.record(m)
			return ctx.Err()
		}
	}
	return f.record(m)
}

func (f *FakeRemote) record(m remote.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, m)
	if len(f.script) == 0 {
		return nil
	}
	err := f.script[0]
	f.script = f.script[1:]
	return err
}

// Calls returns a copy of every mutation received so far.
func (f *FakeRemote) Calls() []remote.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.Mutation, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of Apply calls.
func (f *FakeRemote) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// QueueIDs returns the queue ids in call order.
func (f *FakeRemote) QueueIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, len(f.calls))
	for i, c := range f.calls {
		ids[i] = c.QueueID
	}
	return ids
}
