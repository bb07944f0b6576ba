// Package offline is the facade the capture client uses: it writes records
// and their queue items atomically and keeps the sync engine running.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/asteroid-belt/fieldsync/internal/config"
	"github.com/asteroid-belt/fieldsync/internal/connectivity"
	"github.com/asteroid-belt/fieldsync/internal/db"
	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/models"
	"github.com/asteroid-belt/fieldsync/internal/remote"
	"github.com/asteroid-belt/fieldsync/internal/syncer"
)

var (
	// ErrNotInitialized is returned by every operation before Init.
	ErrNotInitialized = errors.New("offline service not initialized")

	// ErrInvalidInput is returned for malformed save requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Options configures a Service.
type Options struct {
	DBPath string
	Remote remote.Applier
	Signal connectivity.Signal

	Sync     config.SyncConfig
	Debounce time.Duration

	Logger zerolog.Logger
}

// OptionsFromConfig wires the HTTP remote and probe from configuration.
func OptionsFromConfig(cfg *config.Config, logger zerolog.Logger) Options {
	return Options{
		DBPath:   config.GetPaths(cfg).Database,
		Remote:   remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.RateLimit),
		Signal:   connectivity.NewHTTPProbe(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval),
		Sync:     cfg.Sync,
		Debounce: cfg.Connectivity.Debounce,
		Logger:   logger,
	}
}

// SaveInput describes an entity write.
type SaveInput struct {
	// ID is generated when empty.
	ID       string          `json:"id,omitempty"`
	ParentID string          `json:"parent_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// PhotoInput describes a captured photo.
type PhotoInput struct {
	// ID is generated when empty.
	ID         string
	ParentType string
	ParentID   string
	// MIMEType is sniffed from Data when empty.
	MIMEType string
	Data     []byte
	Caption  string
}

// Service is the offline store plus its sync engine.
type Service struct {
	opts Options
	log  zerolog.Logger

	mu       sync.RWMutex
	ready    bool
	store    *db.DB
	deviceID string
	notifier *events.Notifier
	orch     *syncer.Orchestrator
	monitor  *connectivity.Monitor

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an uninitialized service.
func New(opts Options) *Service {
	return &Service{
		opts: opts,
		log:  opts.Logger.With().Str("component", "offline").Logger(),
	}
}

// Init opens the store and starts the connectivity monitor. Calling it
// again on an initialized service is a no-op.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if s.opts.Remote == nil {
		return errors.New("offline service: remote applier is required")
	}
	if s.opts.Signal == nil {
		return errors.New("offline service: connectivity signal is required")
	}

	store, err := db.New(db.DefaultConfig(s.opts.DBPath))
	if err != nil {
		return err
	}

	deviceID, err := store.GetOrCreateTrackingID()
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("%w: %w", db.ErrStorageUnavailable, err)
	}
	if scoped, ok := s.opts.Remote.(remote.DeviceScoped); ok {
		scoped.SetDeviceID(deviceID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	notifier := events.NewNotifier()

	var monitor *connectivity.Monitor
	orch := syncer.New(syncer.Options{
		Store:          store,
		Remote:         s.opts.Remote,
		Notifier:       notifier,
		Online:         func() bool { return monitor.IsOnline() },
		RequestTimeout: s.opts.Sync.RequestTimeout,
		MaxRetries:     s.opts.Sync.MaxRetries,
		BackoffBase:    s.opts.Sync.BackoffBase,
		BackoffMax:     s.opts.Sync.BackoffMax,
		Logger:         s.opts.Logger,
	})
	monitor = connectivity.NewMonitor(connectivity.Options{
		Signal:   s.opts.Signal,
		Store:    store,
		Notifier: notifier,
		Trigger:  func(context.Context) { s.drain("connectivity restored") },
		Debounce: s.opts.Debounce,
		Logger:   s.opts.Logger,
	})

	s.store = store
	s.deviceID = deviceID
	s.notifier = notifier
	s.orch = orch
	s.monitor = monitor
	s.runCtx = runCtx
	s.cancel = cancel
	s.ready = true

	// Start may fire the trigger, which needs the read lock.
	s.mu.Unlock()
	err = monitor.Start(runCtx)
	s.mu.Lock()
	if err != nil {
		s.teardownLocked()
		return fmt.Errorf("start connectivity monitor: %w", err)
	}

	s.log.Info().Str("db", store.Path()).Bool("online", monitor.IsOnline()).Msg("offline service initialized")
	return nil
}

// Close stops the sync engine and closes the store. A drain in progress
// finishes its current item first.
func (s *Service) Close() error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil
	}
	s.ready = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardownLocked()
}

func (s *Service) teardownLocked() error {
	s.ready = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.orch != nil {
		s.orch.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	s.store, s.orch, s.notifier, s.monitor = nil, nil, nil, nil
	return err
}

// drain runs a background drain if the service is still open.
func (s *Service) drain(reason string) {
	s.mu.RLock()
	if !s.ready {
		s.mu.RUnlock()
		return
	}
	orch, ctx := s.orch, s.runCtx
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	res, err := orch.Drain(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("reason", reason).Msg("drain failed")
		return
	}
	if !res.Skipped {
		s.log.Debug().Str("reason", reason).Int("succeeded", res.Succeeded).Int("remaining", res.Remaining).Msg("drain finished")
	}
}

// kick starts a drain after a local write when online.
func (s *Service) kick() {
	if s.monitor != nil && s.monitor.IsOnline() {
		go s.drain("local write")
	}
}

func (s *Service) state() (*db.DB, error) {
	if !s.ready {
		return nil, ErrNotInitialized
	}
	return s.store, nil
}

// SaveEntity stores an entity and enqueues its create or update in one
// transaction. The returned entity is flagged offline until synced.
func (s *Service) SaveEntity(ctx context.Context, entityType string, in SaveInput) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	if entityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", ErrInvalidInput)
	}
	if entityType == models.EntityTypePhoto {
		return nil, fmt.Errorf("%w: photos are saved with SavePhoto", ErrInvalidInput)
	}
	payload := []byte(in.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidInput)
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}

	entity := &models.Entity{
		EntityType: entityType,
		ID:         id,
		ParentID:   in.ParentID,
		Payload:    payload,
		Offline:    true,
	}

	err = store.WithContext(ctx).Transaction(func(tx *db.DB) error {
		action := models.ActionCreate
		if _, err := tx.GetEntity(entityType, id); err == nil {
			action = models.ActionUpdate
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}

		if err := tx.PutEntity(entity); err != nil {
			return err
		}
		_, err := tx.Enqueue(action, entityType, id, payload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save %s/%s: %w", entityType, id, err)
	}

	s.log.Debug().Str("target_type", entityType).Str("target_id", id).Msg("entity saved")
	s.kick()
	return entity, nil
}

// DeleteEntity removes the local record and enqueues a delete in one
// transaction.
func (s *Service) DeleteEntity(ctx context.Context, entityType, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return err
	}
	if entityType == "" || id == "" {
		return fmt.Errorf("%w: entity type and id are required", ErrInvalidInput)
	}

	err = store.WithContext(ctx).Transaction(func(tx *db.DB) error {
		if _, err := tx.GetEntity(entityType, id); err != nil {
			return err
		}
		if err := tx.RemoveEntity(entityType, id); err != nil {
			return err
		}
		_, err := tx.Enqueue(models.ActionDelete, entityType, id, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entityType, id, err)
	}

	s.kick()
	return nil
}

// GetEntities returns every stored entity of a type in insertion order.
func (s *Service) GetEntities(entityType string) ([]models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.GetEntities(entityType)
}

// GetEntitiesByParent returns entities of a type attached to parentID.
func (s *Service) GetEntitiesByParent(entityType, parentID string) ([]models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.GetEntitiesByIndex(entityType, db.IndexParentID, parentID)
}

// EntityTypes lists the entity types present in the store.
func (s *Service) EntityTypes() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.EntityTypes()
}

// SavePhoto stores the photo bytes and enqueues an upload in one
// transaction.
func (s *Service) SavePhoto(ctx context.Context, in PhotoInput) (*models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: photo has no data", ErrInvalidInput)
	}
	if in.ParentID == "" {
		return nil, fmt.Errorf("%w: photo parent id is required", ErrInvalidInput)
	}

	photo := &models.Photo{
		ID:         in.ID,
		ParentType: in.ParentType,
		ParentID:   in.ParentID,
		MIMEType:   in.MIMEType,
		Data:       in.Data,
		Caption:    in.Caption,
		Offline:    true,
	}
	if photo.ID == "" {
		photo.ID = uuid.New().String()
	}
	if photo.ParentType == "" {
		photo.ParentType = models.EntityTypeInspection
	}
	if photo.MIMEType == "" {
		photo.MIMEType = http.DetectContentType(in.Data)
	}

	err = store.WithContext(ctx).Transaction(func(tx *db.DB) error {
		if err := tx.PutPhoto(photo); err != nil {
			return err
		}
		manifest, err := json.Marshal(photo.Manifest())
		if err != nil {
			return err
		}
		_, err = tx.Enqueue(models.ActionUpload, models.EntityTypePhoto, photo.ID, manifest)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save photo %s: %w", photo.ID, err)
	}

	s.kick()
	return photo, nil
}

// GetPhotosByParent returns the photos attached to parentID.
func (s *Service) GetPhotosByParent(parentID string) ([]models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.GetPhotosByParent(parentID)
}

// GetSyncQueue returns pending queue items, oldest first.
func (s *Service) GetSyncQueue() ([]models.SyncQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.ListQueue()
}

// ClearSyncQueue drops every pending item. Diagnostic reset only; records
// keep their offline flag.
func (s *Service) ClearSyncQueue() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return 0, err
	}
	n, err := store.ClearQueue()
	if err == nil {
		s.log.Warn().Int64("removed", n).Msg("sync queue cleared")
	}
	return n, err
}

// GetDeadLetters returns items that left the queue without syncing.
func (s *Service) GetDeadLetters() ([]models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.ListDeadLetters()
}

// ClearDeadLetters deletes all dead letters.
func (s *Service) ClearDeadLetters() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return 0, err
	}
	return store.ClearDeadLetters()
}

// ForceSync drains now when online; offline it returns a skipped result.
func (s *Service) ForceSync(ctx context.Context) (syncer.Result, error) {
	s.mu.RLock()
	if !s.ready {
		s.mu.RUnlock()
		return syncer.Result{}, ErrNotInitialized
	}
	orch := s.orch
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	return orch.ForceSync(ctx)
}

// GetConnectivityStatus returns online state, unsynced count and last sync
// time.
func (s *Service) GetConnectivityStatus() (connectivity.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return connectivity.Status{}, ErrNotInitialized
	}
	return s.monitor.Status()
}

// Stats returns store statistics.
func (s *Service) Stats() (*db.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, err := s.state()
	if err != nil {
		return nil, err
	}
	return store.GetStats()
}

// TrackingID returns the persistent anonymous device id. It is empty before
// Init.
func (s *Service) TrackingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return ""
	}
	return s.deviceID
}

// Subscribe registers an event subscriber.
func (s *Service) Subscribe(buffer int) (<-chan events.Event, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return nil, nil, ErrNotInitialized
	}
	ch, unsub := s.notifier.Subscribe(buffer)
	return ch, unsub, nil
}
