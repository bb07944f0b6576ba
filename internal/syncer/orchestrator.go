// Package syncer drains the sync queue against the remote, one item at a
// time and strictly in queue order.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asteroid-belt/fieldsync/internal/db"
	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/models"
	"github.com/asteroid-belt/fieldsync/internal/remote"
	"github.com/rs/zerolog"
)

// ErrQueueCorruption marks a queue item that can never be applied, such as
// one whose target record no longer exists.
var ErrQueueCorruption = errors.New("sync queue corruption")

// errSuperseded marks an upload whose bytes were replaced by a later upload
// of the same photo still in the queue.
var errSuperseded = errors.New("superseded by a later upload")

// Defaults applied by New for zero-valued options.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRetries     = 8
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// Options configures an Orchestrator.
type Options struct {
	Store    *db.DB
	Remote   remote.Applier
	Notifier *events.Notifier

	// Online gates each item; nil means always online.
	Online func() bool

	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	// DisableAutoRetry turns off the scheduled drain after a transient stop.
	DisableAutoRetry bool

	Logger zerolog.Logger
}

// Result summarizes one drain.
type Result struct {
	// Skipped is set when another drain was running or, for ForceSync,
	// when offline.
	Skipped bool `json:"skipped"`
	Offline bool `json:"offline"`

	Processed    int  `json:"processed"`
	Succeeded    int  `json:"succeeded"`
	DeadLettered int  `json:"dead_lettered"`
	Superseded   int  `json:"superseded,omitempty"`
	Remaining    int  `json:"remaining"`
	Stopped      bool `json:"stopped"`

	// RetryIn is the scheduled automatic retry delay after a transient stop.
	RetryIn time.Duration `json:"retry_in,omitempty"`
}

// step is what the loop does after an item.
type step int

const (
	next step = iota
	stop
)

// Orchestrator owns the drain loop.
type Orchestrator struct {
	opts Options
	log  zerolog.Logger

	running atomic.Bool
	again   atomic.Bool

	retryMu    sync.Mutex
	retryTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "syncer").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Running reports whether a drain is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// ForceSync drains now if online and is a no-op otherwise.
func (o *Orchestrator) ForceSync(ctx context.Context) (Result, error) {
	if !o.opts.Online() {
		return Result{Skipped: true, Offline: true}, nil
	}
	o.cancelRetry()
	return o.Drain(ctx)
}

// Drain processes queued items oldest first until the queue is empty, the
// remote reports a transient failure, connectivity drops or ctx is done.
// Only one drain runs at a time; a concurrent call returns Skipped.
func (o *Orchestrator) Drain(ctx context.Context) (Result, error) {
	// A skipped caller leaves a request behind so the running drain takes
	// another pass for items it may have missed.
	o.again.Store(true)
	if !o.running.CompareAndSwap(false, true) {
		return Result{Skipped: true}, nil
	}

	var total Result
	for {
		o.again.Store(false)
		res, err := o.run(ctx)
		o.running.Store(false)

		total.Processed += res.Processed
		total.Succeeded += res.Succeeded
		total.DeadLettered += res.DeadLettered
		total.Remaining = res.Remaining
		total.Stopped = res.Stopped
		total.Offline = res.Offline
		total.RetryIn = res.RetryIn
		if err != nil {
			return total, err
		}

		if res.Stopped || !o.again.Load() {
			return total, nil
		}
		if !o.running.CompareAndSwap(false, true) {
			return total, nil
		}
	}
}

func (o *Orchestrator) run(ctx context.Context) (Result, error) {
	var res Result
	o.publish(events.Event{Type: events.SyncStarted})

	items, err := o.opts.Store.ListQueue()
	if err != nil {
		o.log.Error().Err(err).Msg("list sync queue")
		o.publish(events.Event{Type: events.SyncCompleted})
		return res, fmt.Errorf("list sync queue: %w", err)
	}

	// Items enqueued while draining are picked up by re-listing; each item
	// is attempted at most once per run.
	seen := make(map[uint64]struct{})
	var retryIn time.Duration
	for !res.Stopped {
		fresh := 0
		for i := range items {
			item := &items[i]
			if _, ok := seen[item.ID]; ok {
				continue
			}
			fresh++

			if ctx.Err() != nil {
				res.Stopped = true
				break
			}
			if !o.opts.Online() {
				res.Offline = true
				res.Stopped = true
				break
			}

			seen[item.ID] = struct{}{}
			res.Processed++
			s, delay := o.process(ctx, item, &res)
			if s == stop {
				res.Stopped = true
				retryIn = delay
				break
			}
		}
		if res.Stopped || fresh == 0 {
			break
		}

		items, err = o.opts.Store.ListQueue()
		if err != nil {
			o.log.Error().Err(err).Msg("list sync queue")
			break
		}
	}

	if count, err := o.opts.Store.CountQueue(); err != nil {
		o.log.Error().Err(err).Msg("count sync queue")
	} else {
		res.Remaining = int(count)
	}

	if res.Succeeded > 0 {
		if err := o.opts.Store.SetLastSyncTime(time.Now()); err != nil {
			o.log.Error().Err(err).Msg("persist last sync time")
		}
	}

	if retryIn > 0 && !o.opts.DisableAutoRetry && o.opts.Online() {
		o.scheduleRetry(retryIn)
		res.RetryIn = retryIn
	}

	o.log.Info().
		Int("succeeded", res.Succeeded).
		Int("dead_lettered", res.DeadLettered).
		Int("superseded", res.Superseded).
		Int("remaining", res.Remaining).
		Bool("stopped", res.Stopped).
		Msg("sync completed")

	o.publish(events.Event{
		Type:      events.SyncCompleted,
		Succeeded: res.Succeeded,
		Failed:    res.DeadLettered,
		Remaining: res.Remaining,
	})
	return res, nil
}

// process applies one item. On stop it also returns the retry delay.
func (o *Orchestrator) process(ctx context.Context, item *models.SyncQueueItem, res *Result) (step, time.Duration) {
	ilog := o.log.With().
		Uint64("queue_id", item.ID).
		Str("action", string(item.Action)).
		Str("target_type", item.TargetType).
		Str("target_id", item.TargetID).
		Logger()

	m, err := o.mutation(item)
	if err != nil {
		if errors.Is(err, errSuperseded) {
			if _, err := o.opts.Store.AcknowledgeQueueItem(item); err != nil {
				ilog.Error().Err(err).Msg("remove superseded upload")
				return stop, 0
			}
			res.Superseded++
			ilog.Debug().Msg("skipping superseded upload")
			return next, 0
		}
		if errors.Is(err, ErrQueueCorruption) {
			ilog.Error().Err(err).Msg("dead-lettering corrupt queue item")
			o.deadLetter(ilog, item, models.DeadLetterCorrupt, err, res)
			return next, 0
		}
		// Storage trouble: leave the item and try again on the next drain.
		ilog.Error().Err(err).Msg("prepare queue item")
		return stop, 0
	}

	applyErr := o.apply(ctx, m)

	switch remote.Classify(applyErr) {
	case remote.Success:
		cleared, err := o.opts.Store.AcknowledgeQueueItem(item)
		if err != nil {
			ilog.Error().Err(err).Msg("remove synced queue item")
		}
		res.Succeeded++
		ilog.Debug().Bool("reconciled", cleared).Msg("queue item synced")
		o.publish(o.itemEvent(events.ItemSucceeded, item, nil, false))
		return next, 0

	case remote.Permanent:
		ilog.Warn().Err(applyErr).Msg("remote rejected queue item")
		o.deadLetter(ilog, item, models.DeadLetterRejected, applyErr, res)
		return next, 0

	default:
		attempt := item.Retries + 1
		delay := Backoff(o.opts.BackoffBase, o.opts.BackoffMax, attempt)
		nextAttempt := time.Now().Add(delay).UTC()

		retries, err := o.opts.Store.RecordQueueFailure(item.ID, applyErr.Error(), &nextAttempt)
		if err != nil {
			ilog.Error().Err(err).Msg("record queue failure")
			return stop, delay
		}
		item.Retries = retries
		item.LastError = applyErr.Error()

		if retries >= o.opts.MaxRetries {
			ilog.Warn().Err(applyErr).Int("retries", retries).Msg("retries exhausted")
			o.deadLetter(ilog, item, models.DeadLetterRetriesExhausted, applyErr, res)
			return next, 0
		}

		ilog.Warn().Err(applyErr).Int("retries", retries).Dur("retry_in", delay).Msg("transient sync failure")
		o.publish(o.itemEvent(events.ItemFailed, item, applyErr, true))
		return stop, delay
	}
}

// apply bounds the remote call by the request timeout only. Cancelling the
// drain does not abort a call already in flight.
func (o *Orchestrator) apply(ctx context.Context, m remote.Mutation) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RequestTimeout)
	defer cancel()
	return o.opts.Remote.Apply(callCtx, m)
}

// mutation builds the remote request for an item, checking that it can
// still be applied.
func (o *Orchestrator) mutation(item *models.SyncQueueItem) (remote.Mutation, error) {
	m := remote.Mutation{
		QueueID:    item.ID,
		Action:     item.Action,
		TargetType: item.TargetType,
		TargetID:   item.TargetID,
		Payload:    json.RawMessage(item.Payload),
	}

	if !item.Action.Valid() {
		return m, fmt.Errorf("%w: unknown action %q", ErrQueueCorruption, item.Action)
	}
	if len(item.Payload) > 0 && !json.Valid(item.Payload) {
		return m, fmt.Errorf("%w: payload is not valid JSON", ErrQueueCorruption)
	}

	// A delete never needs the local record.
	if item.Action == models.ActionDelete {
		return m, nil
	}

	if item.Action == models.ActionUpload {
		return o.uploadMutation(item, m)
	}

	exists, err := o.opts.Store.TargetExists(item.TargetType, item.TargetID)
	if err != nil {
		return m, fmt.Errorf("check target %s/%s: %w", item.TargetType, item.TargetID, err)
	}
	if exists {
		return m, nil
	}

	// Deleted locally after this mutation was queued: the frozen snapshot is
	// still sent so the remote sees the full history.
	deleted, err := o.opts.Store.PendingDelete(item.TargetType, item.TargetID, item.ID)
	if err != nil {
		return m, fmt.Errorf("check pending delete %s/%s: %w", item.TargetType, item.TargetID, err)
	}
	if !deleted {
		return m, fmt.Errorf("%w: %s/%s no longer stored", ErrQueueCorruption, item.TargetType, item.TargetID)
	}
	return m, nil
}

// uploadMutation attaches the stored bytes to an upload. Metadata comes from
// the manifest frozen at enqueue time, and the bytes must still match its
// checksum.
func (o *Orchestrator) uploadMutation(item *models.SyncQueueItem, m remote.Mutation) (remote.Mutation, error) {
	var manifest models.PhotoManifest
	if err := json.Unmarshal(item.Payload, &manifest); err != nil {
		return m, fmt.Errorf("%w: upload manifest: %w", ErrQueueCorruption, err)
	}

	photo, err := o.opts.Store.GetPhoto(item.TargetID)
	if errors.Is(err, db.ErrNotFound) {
		return m, fmt.Errorf("%w: photo %s no longer stored", ErrQueueCorruption, item.TargetID)
	}
	if err != nil {
		return m, fmt.Errorf("load photo %s: %w", item.TargetID, err)
	}

	if manifest.SHA256 != "" && manifest.SHA256 != photo.SHA256 {
		later, err := o.opts.Store.PendingUpload(item.TargetID, item.ID)
		if err != nil {
			return m, fmt.Errorf("check pending upload %s: %w", item.TargetID, err)
		}
		if later {
			return m, errSuperseded
		}
		return m, fmt.Errorf("%w: photo %s bytes do not match the queued manifest", ErrQueueCorruption, item.TargetID)
	}

	m.Photo = &remote.PhotoUpload{
		MIMEType:   orDefault(manifest.MIMEType, photo.MIMEType),
		ParentType: orDefault(manifest.ParentType, photo.ParentType),
		ParentID:   orDefault(manifest.ParentID, photo.ParentID),
		Caption:    manifest.Caption,
		SHA256:     photo.SHA256,
		Data:       photo.Data,
	}
	return m, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (o *Orchestrator) deadLetter(ilog zerolog.Logger, item *models.SyncQueueItem, reason models.DeadLetterReason, cause error, res *Result) {
	if _, err := o.opts.Store.DeadLetter(item, reason, cause.Error()); err != nil {
		ilog.Error().Err(err).Str("reason", string(reason)).Msg("dead-letter queue item")
		return
	}
	res.DeadLettered++
	o.publish(o.itemEvent(events.ItemFailed, item, cause, false))
}

func (o *Orchestrator) itemEvent(t events.Type, item *models.SyncQueueItem, cause error, retryable bool) events.Event {
	e := events.Event{
		Type:       t,
		QueueID:    item.ID,
		Action:     string(item.Action),
		TargetType: item.TargetType,
		TargetID:   item.TargetID,
		Retryable:  retryable,
		Retries:    item.Retries,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

func (o *Orchestrator) publish(e events.Event) {
	if o.opts.Notifier != nil {
		o.opts.Notifier.Publish(e)
	}
}

// scheduleRetry arms a single automatic drain, replacing any pending one.
func (o *Orchestrator) scheduleRetry(delay time.Duration) {
	o.retryMu.Lock()
	defer o.retryMu.Unlock()

	if o.ctx.Err() != nil {
		return
	}
	if o.retryTimer != nil {
		o.retryTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		o.retryMu.Lock()
		if o.retryTimer == t {
			o.retryTimer = nil
		}
		if o.ctx.Err() != nil {
			o.retryMu.Unlock()
			return
		}
		o.wg.Add(1)
		o.retryMu.Unlock()
		defer o.wg.Done()

		if !o.opts.Online() {
			return
		}
		if _, err := o.Drain(o.ctx); err != nil {
			o.log.Error().Err(err).Msg("scheduled retry drain")
		}
	})
	o.retryTimer = t
}

func (o *Orchestrator) cancelRetry() {
	o.retryMu.Lock()
	defer o.retryMu.Unlock()

	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
}

// RetryPending reports whether an automatic retry is scheduled.
func (o *Orchestrator) RetryPending() bool {
	o.retryMu.Lock()
	defer o.retryMu.Unlock()
	return o.retryTimer != nil
}

// Close cancels any scheduled retry and waits for a retry drain already
// running to finish its current item.
func (o *Orchestrator) Close() {
	o.retryMu.Lock()
	o.cancel()
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.retryMu.Unlock()
	o.wg.Wait()
}
