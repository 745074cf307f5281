package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
	"github.com/luminastream/studio/backend/internal/storeclient"
	"go.uber.org/zap"
)

const defaultPersistTimeout = 10 * time.Second

var (
	errMissingStoreClient = errors.New("registry: store client is required")

	// ErrUnknownOverlay indicates a registry operation against an id that is
	// not part of the current overlay set.
	ErrUnknownOverlay = errors.New("registry: unknown overlay")
	// ErrSuperseded reports that a newer geometry commit replaced this one
	// before its persist resolved. The result of the superseded persist is
	// discarded, never replayed.
	ErrSuperseded = errors.New("registry: geometry commit superseded")
)

// StoreClient is the persistence boundary the registry reconciles against.
type StoreClient interface {
	List(ctx context.Context) ([]overlay.Overlay, error)
	Create(ctx context.Context, draft overlay.Draft) (overlay.Overlay, error)
	Update(ctx context.Context, id overlay.ID, patch storeclient.OverlayPatch) (overlay.Overlay, error)
	Delete(ctx context.Context, id overlay.ID) error
}

// GeometryFailureFunc receives the id and cause whenever an asynchronous
// geometry persist fails and local state is rolled back.
type GeometryFailureFunc func(overlayID overlay.ID, cause error)

// Config wires the registry dependencies.
type Config struct {
	Store          StoreClient
	OnGeometryLost GeometryFailureFunc
	PersistTimeout time.Duration
	Logger         *zap.Logger
}

// Registry is the authoritative in-memory overlay set for one session. All
// mutations flow through its methods; the composition surface and the edit
// session controller never reach into the set directly.
type Registry struct {
	store          StoreClient
	onGeometryLost GeometryFailureFunc
	persistTimeout time.Duration
	logger         *zap.Logger

	mu        sync.Mutex
	entries   []overlay.Overlay           // creation order
	index     map[string]int              // id -> entries position
	persisted map[string]overlay.Geometry // last geometry confirmed by the store
	pending   map[string]*geometryState
}

// geometryState serializes geometry persists per overlay id: one in flight,
// at most one pending slot that newer commits overwrite (last-drag-wins).
type geometryState struct {
	inflight  bool
	pending   *overlay.Geometry
	pendingCh chan error
}

// New validates the configuration and constructs a Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errMissingStoreClient
	}

	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		store:          cfg.Store,
		onGeometryLost: cfg.OnGeometryLost,
		persistTimeout: timeout,
		logger:         logger,
		index:          make(map[string]int),
		persisted:      make(map[string]overlay.Geometry),
		pending:        make(map[string]*geometryState),
	}, nil
}

// All returns the overlay set in creation order. The slice is a copy; edits
// to it never touch registry state.
func (r *Registry) All() []overlay.Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]overlay.Overlay, len(r.entries))
	copy(snapshot, r.entries)
	return snapshot
}

// Get returns the overlay for the provided id, if present.
func (r *Registry) Get(id overlay.ID) (overlay.Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	position, ok := r.index[id.String()]
	if !ok {
		return overlay.Overlay{}, false
	}
	return r.entries[position], true
}

// Refresh re-pulls the overlay set from the store and replaces local state
// wholesale. Optimistic edits still in flight lose to the refreshed state;
// their persist results are discarded when they land.
func (r *Registry) Refresh(ctx context.Context) error {
	overlays, err := r.store.List(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make([]overlay.Overlay, len(overlays))
	copy(r.entries, overlays)
	r.index = make(map[string]int, len(overlays))
	r.persisted = make(map[string]overlay.Geometry, len(overlays))
	for position, record := range r.entries {
		r.index[record.ID] = position
		r.persisted[record.ID] = record.Geometry()
	}
	// Detach in-flight persists: their geometryState pointers are no longer
	// reachable from the map, so their results can never touch refreshed state.
	r.pending = make(map[string]*geometryState)
	return nil
}

// Upsert inserts the overlay or replaces the entry with the same id in place.
// Creation order is preserved: an existing overlay keeps its position, a new
// one is appended. Upserting an identical value is a no-op.
func (r *Registry) Upsert(record overlay.Overlay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(record)
}

func (r *Registry) upsertLocked(record overlay.Overlay) {
	if position, ok := r.index[record.ID]; ok {
		r.entries[position] = record
	} else {
		r.index[record.ID] = len(r.entries)
		r.entries = append(r.entries, record)
	}
	r.persisted[record.ID] = record.Geometry()
}

// Create submits a validated draft through the store client and inserts the
// created overlay on success.
func (r *Registry) Create(ctx context.Context, draft overlay.Draft) (overlay.Overlay, error) {
	created, err := r.store.Create(ctx, overlay.NormalizeDraft(draft))
	if err != nil {
		return overlay.Overlay{}, err
	}
	r.Upsert(created)
	return created, nil
}

// Update round-trips a full-field edit through the store client and replaces
// the local entry on success.
func (r *Registry) Update(ctx context.Context, id overlay.ID, draft overlay.Draft) (overlay.Overlay, error) {
	updated, err := r.store.Update(ctx, id, storeclient.DraftPatch(overlay.NormalizeDraft(draft)))
	if err != nil {
		return overlay.Overlay{}, err
	}
	r.Upsert(updated)
	return updated, nil
}

// Delete removes the overlay from the store first and from local state only
// after the store confirms. A store failure leaves the overlay in place.
func (r *Registry) Delete(ctx context.Context, id overlay.ID) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	position, ok := r.index[id.String()]
	if !ok {
		return nil
	}
	r.entries = append(r.entries[:position], r.entries[position+1:]...)
	delete(r.index, id.String())
	delete(r.persisted, id.String())
	delete(r.pending, id.String())
	for shifted := position; shifted < len(r.entries); shifted++ {
		r.index[r.entries[shifted].ID] = shifted
	}
	return nil
}

// CommitGeometry applies a drag/resize result optimistically and persists it
// asynchronously. The returned channel delivers the outcome of this commit:
// nil on success, ErrSuperseded when a newer commit replaced it, or the store
// failure after the optimistic geometry has been rolled back.
func (r *Registry) CommitGeometry(ctx context.Context, id overlay.ID, geometry overlay.Geometry) (<-chan error, error) {
	done := make(chan error, 1)

	r.mu.Lock()
	position, ok := r.index[id.String()]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownOverlay
	}
	r.entries[position] = r.entries[position].WithGeometry(geometry)

	state, ok := r.pending[id.String()]
	if !ok {
		state = &geometryState{}
		r.pending[id.String()] = state
	}
	if state.inflight {
		// Last-drag-wins: overwrite the pending slot and discard the commit
		// it previously held.
		if state.pendingCh != nil {
			state.pendingCh <- ErrSuperseded
		}
		pendingCopy := geometry
		state.pending = &pendingCopy
		state.pendingCh = done
		r.mu.Unlock()
		return done, nil
	}
	state.inflight = true
	r.mu.Unlock()

	go r.persistGeometry(ctx, id, geometry, state, done)
	return done, nil
}

func (r *Registry) persistGeometry(ctx context.Context, id overlay.ID, geometry overlay.Geometry, state *geometryState, done chan error) {
	persistCtx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	updated, err := r.store.Update(persistCtx, id, storeclient.GeometryPatch(geometry))
	cancel()

	r.mu.Lock()
	if r.pending[id.String()] != state {
		// A refresh or delete detached this persist; drop the result.
		r.mu.Unlock()
		done <- ErrSuperseded
		return
	}

	if state.pending != nil {
		// A newer commit landed while this persist was in flight. Ignore
		// this result, whichever way it went, and issue the latest geometry.
		next := *state.pending
		nextCh := state.pendingCh
		state.pending = nil
		state.pendingCh = nil
		r.mu.Unlock()
		done <- ErrSuperseded
		go r.persistGeometry(ctx, id, next, state, nextCh)
		return
	}

	state.inflight = false
	if err == nil {
		r.persisted[id.String()] = geometry
		if position, ok := r.index[id.String()]; ok {
			r.entries[position].UpdatedAtSeconds = updated.UpdatedAtSeconds
		}
		r.mu.Unlock()
		done <- nil
		return
	}

	// Roll back to the last geometry the store confirmed and surface the
	// failure; stale drags are discarded, never replayed.
	lastPersisted, known := r.persisted[id.String()]
	if known {
		if position, ok := r.index[id.String()]; ok {
			r.entries[position] = r.entries[position].WithGeometry(lastPersisted)
		}
	}
	r.mu.Unlock()

	r.logger.Warn("geometry persist failed",
		zap.String("overlay_id", id.String()),
		zap.Error(err))
	if r.onGeometryLost != nil {
		r.onGeometryLost(id, err)
	}
	done <- err
}
