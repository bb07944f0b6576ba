package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asteroid-belt/fieldsync/internal/db"
	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/models"
	"github.com/asteroid-belt/fieldsync/internal/remote"
	"github.com/asteroid-belt/fieldsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = fmt.Errorf("%w: 503 service unavailable", remote.ErrTransient)
var errPermanent = fmt.Errorf("%w: 422 unprocessable", remote.ErrPermanent)

type harness struct {
	store  *db.DB
	fake   *testutil.FakeRemote
	orch   *Orchestrator
	events <-chan events.Event
	online atomic.Bool
}

func newHarness(t *testing.T, fake *testutil.FakeRemote, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{store: testutil.NewDB(t), fake: fake}
	h.online.Store(true)

	n := events.NewNotifier()
	t.Cleanup(n.Close)
	ch, unsub := n.Subscribe(256)
	t.Cleanup(unsub)
	h.events = ch

	opts := Options{
		Store:            h.store,
		Remote:           fake,
		Notifier:         n,
		Online:           h.online.Load,
		DisableAutoRetry: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.orch = New(opts)
	t.Cleanup(h.orch.Close)
	return h
}

// capture stores an entity offline and enqueues its mutation, the way the
// facade does.
func (h *harness) capture(t *testing.T, action models.Action, entityType, id, payload string) *models.SyncQueueItem {
	t.Helper()

	var item *models.SyncQueueItem
	err := h.store.Transaction(func(tx *db.DB) error {
		if err := tx.PutEntity(&models.Entity{
			EntityType: entityType,
			ID:         id,
			Payload:    []byte(payload),
			Offline:    true,
		}); err != nil {
			return err
		}
		var err error
		item, err = tx.Enqueue(action, entityType, id, []byte(payload))
		return err
	})
	require.NoError(t, err)
	return item
}

func (h *harness) drainEvents() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventTypes(evs []events.Event) []events.Type {
	types := make([]events.Type, len(evs))
	for i, e := range evs {
		types[i] = e.Type
	}
	return types
}

func TestDrain_TransientStopsRunAfterPartialSuccess(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(nil, nil, errTransient), nil)

	h.capture(t, models.ActionCreate, "inspection", "i1", `{"n":1}`)
	h.capture(t, models.ActionCreate, "inspection", "i2", `{"n":2}`)
	third := h.capture(t, models.ActionCreate, "inspection", "i3", `{"n":3}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Remaining)
	assert.True(t, res.Stopped)

	queue, err := h.store.ListQueue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, third.ID, queue[0].ID)
	assert.Equal(t, 1, queue[0].Retries)
	assert.Contains(t, queue[0].LastError, "503")
	assert.NotNil(t, queue[0].NextAttemptAt)

	last, err := h.store.LastSyncTime()
	require.NoError(t, err)
	require.NotNil(t, last)

	e, err := h.store.GetEntity("inspection", "i1")
	require.NoError(t, err)
	assert.False(t, e.Offline)
	e, err = h.store.GetEntity("inspection", "i3")
	require.NoError(t, err)
	assert.True(t, e.Offline)

	assert.Equal(t, []events.Type{
		events.SyncStarted,
		events.ItemSucceeded,
		events.ItemSucceeded,
		events.ItemFailed,
		events.SyncCompleted,
	}, eventTypes(h.drainEvents()))
}

func TestDrain_EmptyQueueMakesNoCalls(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, h.fake.CallCount())
	assert.Equal(t, []events.Type{events.SyncStarted, events.SyncCompleted}, eventTypes(h.drainEvents()))

	last, err := h.store.LastSyncTime()
	require.NoError(t, err)
	assert.Nil(t, last, "no success means no last sync time")
}

func TestDrain_PermanentFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(errPermanent, nil), nil)

	rejected := h.capture(t, models.ActionCreate, "comment", "c1", `{"text":"bad"}`)
	h.capture(t, models.ActionCreate, "comment", "c2", `{"text":"good"}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 2, h.fake.CallCount())

	dead, err := h.store.ListDeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, rejected.ID, dead[0].QueueID)
	assert.Equal(t, models.DeadLetterRejected, dead[0].Reason)

	// A dead-lettered entity stays flagged offline.
	e, err := h.store.GetEntity("comment", "c1")
	require.NoError(t, err)
	assert.True(t, e.Offline)

	var failed events.Event
	for _, ev := range h.drainEvents() {
		if ev.Type == events.ItemFailed {
			failed = ev
		}
	}
	assert.Equal(t, rejected.ID, failed.QueueID)
	assert.False(t, failed.Retryable)
}

func TestDrain_OrderingPerEntity(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	first := h.capture(t, models.ActionCreate, "inspection", "e", `{"v":1}`)
	other := h.capture(t, models.ActionCreate, "inspection", "f", `{"v":1}`)
	second := h.capture(t, models.ActionUpdate, "inspection", "e", `{"v":2}`)

	_, err := h.orch.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint64{first.ID, other.ID, second.ID}, h.fake.QueueIDs())
}

func TestDrain_TransientKeepsHeadPosition(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(errTransient), nil)

	a1 := h.capture(t, models.ActionCreate, "inspection", "a", `{"v":1}`)
	b1 := h.capture(t, models.ActionCreate, "inspection", "b", `{"v":1}`)
	a2 := h.capture(t, models.ActionUpdate, "inspection", "a", `{"v":2}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Remaining)

	res, err = h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)

	assert.Equal(t, []uint64{a1.ID, a1.ID, b1.ID, a2.ID}, h.fake.QueueIDs())
}

func TestDrain_OfflineFlagClearedOnlyAfterLastItem(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(nil, errTransient), nil)

	h.capture(t, models.ActionCreate, "inspection", "e", `{"v":1}`)
	h.capture(t, models.ActionUpdate, "inspection", "e", `{"v":2}`)

	_, err := h.orch.Drain(context.Background())
	require.NoError(t, err)

	e, err := h.store.GetEntity("inspection", "e")
	require.NoError(t, err)
	assert.True(t, e.Offline, "second item still pending")

	_, err = h.orch.Drain(context.Background())
	require.NoError(t, err)

	e, err = h.store.GetEntity("inspection", "e")
	require.NoError(t, err)
	assert.False(t, e.Offline)
}

func TestDrain_MutualExclusion(t *testing.T) {
	fake := testutil.NewFakeRemote()
	fake.Gate = make(chan struct{})
	fake.Entered = make(chan remote.Mutation, 8)
	h := newHarness(t, fake, nil)

	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)
	h.capture(t, models.ActionCreate, "inspection", "i2", `{}`)

	var wg sync.WaitGroup
	var first Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = h.orch.Drain(context.Background())
	}()

	<-fake.Entered
	assert.True(t, h.orch.Running())

	second, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(fake.Gate)
	wg.Wait()

	assert.False(t, first.Skipped)
	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, 2, fake.CallCount(), "each item submitted exactly once")
	assert.False(t, h.orch.Running())
}

func TestDrain_RetriesExhaustedDeadLetters(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(errTransient, errTransient), func(o *Options) {
		o.MaxRetries = 2
	})

	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)
	next := h.capture(t, models.ActionCreate, "inspection", "i2", `{}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	res, err = h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.Remaining)

	dead, err := h.store.ListDeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, models.DeadLetterRetriesExhausted, dead[0].Reason)
	assert.Equal(t, 2, dead[0].Retries)

	assert.Equal(t, next.ID, h.fake.QueueIDs()[2])
}

func TestDrain_CorruptItemIsDeadLettered(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	orphan, err := h.store.Enqueue(models.ActionUpdate, "inspection", "gone", []byte(`{}`))
	require.NoError(t, err)
	ok := h.capture(t, models.ActionCreate, "inspection", "here", `{}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []uint64{ok.ID}, h.fake.QueueIDs(), "corrupt item never reaches the remote")

	dead, err := h.store.ListDeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, orphan.ID, dead[0].QueueID)
	assert.Equal(t, models.DeadLetterCorrupt, dead[0].Reason)
	assert.Contains(t, dead[0].Error, ErrQueueCorruption.Error())
}

func TestDrain_DeleteOfMissingEntityIsApplied(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	del, err := h.store.Enqueue(models.ActionDelete, "inspection", "removed", nil)
	require.NoError(t, err)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	calls := h.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, del.ID, calls[0].QueueID)
	assert.Equal(t, models.ActionDelete, calls[0].Action)
}

func TestDrain_CreateThenDeleteWhileOffline(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	create := h.capture(t, models.ActionCreate, "comment", "c1", `{"text":"typo"}`)
	var del *models.SyncQueueItem
	require.NoError(t, h.store.Transaction(func(tx *db.DB) error {
		if err := tx.RemoveEntity("comment", "c1"); err != nil {
			return err
		}
		var err error
		del, err = tx.Enqueue(models.ActionDelete, "comment", "c1", nil)
		return err
	}))

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 0, res.DeadLettered)
	assert.Equal(t, []uint64{create.ID, del.ID}, h.fake.QueueIDs())
}

func TestDrain_PhotoUploadCarriesBytes(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	photo := &models.Photo{
		ID:         "p1",
		ParentType: "inspection",
		ParentID:   "i1",
		MIMEType:   "image/png",
		Data:       []byte{1, 2, 3, 4},
		Caption:    "crack, east side",
		Offline:    true,
	}
	require.NoError(t, h.store.PutPhoto(photo))
	manifest, err := json.Marshal(photo.Manifest())
	require.NoError(t, err)
	_, err = h.store.Enqueue(models.ActionUpload, models.EntityTypePhoto, "p1", manifest)
	require.NoError(t, err)

	_, err = h.orch.Drain(context.Background())
	require.NoError(t, err)

	calls := h.fake.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Photo)
	assert.Equal(t, []byte{1, 2, 3, 4}, calls[0].Photo.Data)
	assert.Equal(t, "image/png", calls[0].Photo.MIMEType)
	assert.Equal(t, "i1", calls[0].Photo.ParentID)
	assert.Equal(t, "crack, east side", calls[0].Photo.Caption)
	assert.Equal(t, photo.SHA256, calls[0].Photo.SHA256)

	stored, err := h.store.GetPhoto("p1")
	require.NoError(t, err)
	assert.False(t, stored.Offline)
}

// capturePhoto stores photo bytes and enqueues the upload with its manifest.
func (h *harness) capturePhoto(t *testing.T, id string, data []byte) *models.PhotoManifest {
	t.Helper()

	photo := &models.Photo{
		ID:         id,
		ParentType: models.EntityTypeInspection,
		ParentID:   "i1",
		MIMEType:   "image/png",
		Data:       data,
		Offline:    true,
	}
	require.NoError(t, h.store.PutPhoto(photo))
	manifest := photo.Manifest()
	payload, err := json.Marshal(manifest)
	require.NoError(t, err)
	_, err = h.store.Enqueue(models.ActionUpload, models.EntityTypePhoto, id, payload)
	require.NoError(t, err)
	return &manifest
}

func TestDrain_ResavedPhotoSendsOnlyLatestBytes(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	first := h.capturePhoto(t, "p1", []byte{1, 1, 1})
	second := h.capturePhoto(t, "p1", []byte{2, 2, 2, 2})
	require.NotEqual(t, first.SHA256, second.SHA256)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Superseded)
	assert.Equal(t, 0, res.DeadLettered)
	assert.Equal(t, 0, res.Remaining)

	calls := h.fake.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Photo)
	assert.Equal(t, []byte{2, 2, 2, 2}, calls[0].Photo.Data)
	assert.Equal(t, second.SHA256, calls[0].Photo.SHA256)

	stored, err := h.store.GetPhoto("p1")
	require.NoError(t, err)
	assert.False(t, stored.Offline)
}

func TestDrain_PhotoBytesChangedWithoutUploadIsCorrupt(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)

	h.capturePhoto(t, "p1", []byte{1, 1, 1})
	require.NoError(t, h.store.PutPhoto(&models.Photo{
		ID:         "p1",
		ParentType: models.EntityTypeInspection,
		ParentID:   "i1",
		MIMEType:   "image/png",
		Data:       []byte{9, 9},
		Offline:    true,
	}))

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Empty(t, h.fake.Calls())

	dead, err := h.store.ListDeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, models.DeadLetterCorrupt, dead[0].Reason)
}

func TestDrain_StopsWhenOffline(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)
	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)
	h.online.Store(false)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 0, h.fake.CallCount())
}

func TestForceSync(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)
	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)

	h.online.Store(false)
	res, err := h.orch.ForceSync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, res.Offline)
	assert.Equal(t, 0, h.fake.CallCount())

	h.online.Store(true)
	res, err = h.orch.ForceSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestDrain_InFlightCallSurvivesCancel(t *testing.T) {
	fake := testutil.NewFakeRemote()
	fake.Gate = make(chan struct{})
	fake.Entered = make(chan remote.Mutation, 8)
	h := newHarness(t, fake, nil)

	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)
	h.capture(t, models.ActionCreate, "inspection", "i2", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := h.orch.Drain(ctx)
		done <- res
	}()

	<-fake.Entered
	cancel()
	fake.Gate <- struct{}{}

	res := <-done
	assert.Equal(t, 1, res.Succeeded, "in-flight item completes")
	assert.True(t, res.Stopped)
	assert.Equal(t, 1, res.Remaining)
}

func TestDrain_RequestTimeoutIsTransient(t *testing.T) {
	fake := testutil.NewFakeRemote()
	fake.Gate = make(chan struct{})
	h := newHarness(t, fake, func(o *Options) {
		o.RequestTimeout = 30 * time.Millisecond
	})
	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 1, res.Remaining)

	item, err := h.store.ListQueue()
	require.NoError(t, err)
	require.Len(t, item, 1)
	assert.Equal(t, 1, item[0].Retries)
}

func TestDrain_SchedulesAutomaticRetry(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(errTransient), func(o *Options) {
		o.DisableAutoRetry = false
		o.BackoffBase = 20 * time.Millisecond
	})
	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)

	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, res.RetryIn)

	require.Eventually(t, func() bool {
		n, err := h.store.CountQueue()
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.fake.CallCount())
	assert.False(t, h.orch.RetryPending())
}

func TestDrain_NoAutomaticRetryWhileOffline(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(errTransient), func(o *Options) {
		o.DisableAutoRetry = false
		o.BackoffBase = 10 * time.Millisecond
	})
	h.capture(t, models.ActionCreate, "inspection", "i1", `{}`)

	_, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	h.online.Store(false)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.fake.CallCount())
}

func TestDrain_Convergence(t *testing.T) {
	h := newHarness(t, testutil.NewFakeRemote(), nil)
	h.online.Store(false)

	h.capture(t, models.ActionCreate, "inspection", "a", `{"v":1}`)
	h.capture(t, models.ActionUpdate, "inspection", "a", `{"v":2}`)
	h.capture(t, models.ActionCreate, "comment", "c", `{"t":"x"}`)
	h.capture(t, models.ActionUpdate, "inspection", "a", `{"v":3}`)
	h.capture(t, models.ActionUpdate, "comment", "c", `{"t":"y"}`)

	h.online.Store(true)
	res, err := h.orch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.DeadLettered)

	remoteState := map[string]json.RawMessage{}
	for _, c := range h.fake.Calls() {
		remoteState[c.TargetType+"/"+c.TargetID] = c.Payload
	}

	for _, key := range [][2]string{{"inspection", "a"}, {"comment", "c"}} {
		local, err := h.store.GetEntity(key[0], key[1])
		require.NoError(t, err)
		assert.JSONEq(t, string(local.Payload), string(remoteState[key[0]+"/"+key[1]]))
		assert.False(t, local.Offline)
	}
}
