// Package registry owns the process-wide mapping from room identity to live
// collaboration room. It creates rooms on first join, autosaves them on a
// fixed interval and tears them down when the last session leaves.
package registry

import (
	"context"
	"sync"
	"time"

	"tldraw-collab/auth"
	"tldraw-collab/core"

	"github.com/sirupsen/logrus"
)

// Storage is the slice of the storage bridge the registry needs. It is an
// interface so tests can drive lifecycle scenarios without a live store.
type Storage interface {
	Load(ctx context.Context) ([]byte, error)
	Flush(ctx context.Context, snapshot []byte) error
}

type (
	// StorageFactory builds the storage adapter for a room from the storage
	// token of its first joiner.
	StorageFactory func(rawToken string, claims auth.StorageClaims) Storage

	// EngineFactory builds a fresh collaboration engine.
	EngineFactory func() core.Engine
)

const flushTimeout = 30 * time.Second

type entry struct {
	roomID  string
	engine  core.Engine
	storage Storage

	sessions    int
	tearingDown bool

	ready    chan struct{} // closed once load+construct finished
	gone     chan struct{} // closed once teardown finished
	stop     chan struct{} // stops the autosave loop
	stopOnce sync.Once

	// flushMu serializes persistence: a periodic flush is skipped while a
	// prior one is in flight, and the teardown flush waits for it.
	flushMu sync.Mutex
}

// Registry is safe for concurrent use. All map mutations and session-count
// transitions for a given identity are mutually exclusive.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*entry

	newStorage StorageFactory
	newEngine  EngineFactory
	saveEvery  time.Duration
}

func New(newStorage StorageFactory, newEngine EngineFactory, saveEvery time.Duration) *Registry {
	return &Registry{
		rooms:      make(map[string]*entry),
		newStorage: newStorage,
		newEngine:  newEngine,
		saveEvery:  saveEvery,
	}
}

// Handle is one admitted session's grip on a room. Serve it, then Leave.
type Handle struct {
	r *Registry
	e *entry
}

// Serve runs the connection inside the room until it disconnects.
func (h *Handle) Serve(sessionID string, conn core.Conn) {
	h.e.engine.Serve(sessionID, conn)
}

// Leave releases the session's slot; the last leaver triggers teardown.
func (h *Handle) Leave() {
	h.r.leave(h.e)
}

// Join resolves or creates the room for roomID. The storage token is only
// consulted when the room does not exist yet: a later joiner attaches to
// the shared state loaded by the first. Concurrent first joins construct
// the room exactly once; a join racing a teardown waits for the teardown to
// finish and then creates a fresh room.
func (r *Registry) Join(ctx context.Context, roomID, rawToken string, claims auth.StorageClaims) (*Handle, error) {
	for {
		r.mu.Lock()
		e, ok := r.rooms[roomID]
		if ok && e.tearingDown {
			r.mu.Unlock()
			select {
			case <-e.gone:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if ok {
			e.sessions++
			r.mu.Unlock()
			select {
			case <-e.ready:
				return &Handle{r: r, e: e}, nil
			case <-ctx.Done():
				r.leave(e)
				return nil, ctx.Err()
			}
		}

		e = &entry{
			roomID:   roomID,
			sessions: 1,
			ready:    make(chan struct{}),
			gone:     make(chan struct{}),
			stop:     make(chan struct{}),
		}
		r.rooms[roomID] = e
		r.mu.Unlock()

		r.construct(ctx, e, rawToken, claims)
		close(e.ready)
		return &Handle{r: r, e: e}, nil
	}
}

// construct loads the snapshot and builds the engine. Storage failures are
// logged and degrade to an empty document; room creation never blocks on a
// broken store.
func (r *Registry) construct(ctx context.Context, e *entry, rawToken string, claims auth.StorageClaims) {
	log := logrus.WithFields(logrus.Fields{
		"room_id": e.roomID,
		"file_id": claims.FileID,
	})

	e.storage = r.newStorage(rawToken, claims)
	snapshot, err := e.storage.Load(ctx)
	if err != nil {
		log.WithError(err).Error("snapshot load failed, starting blank room")
		snapshot = nil
	}

	e.engine = r.newEngine()
	if err := e.engine.LoadSnapshot(snapshot); err != nil {
		log.WithError(err).Error("snapshot rejected by engine, starting blank room")
		_ = e.engine.LoadSnapshot(nil)
	}

	go r.autosave(e)
	log.Info("room created")
}

func (r *Registry) autosave(e *entry) {
	ticker := time.NewTicker(r.saveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			r.periodicFlush(e)
		}
	}
}

// periodicFlush persists the current snapshot unless a flush is already in
// flight; a failed flush is simply retried by the next tick.
func (r *Registry) periodicFlush(e *entry) {
	if !e.flushMu.TryLock() {
		logrus.WithField("room_id", e.roomID).Debug("flush already in flight, skipping tick")
		return
	}
	defer e.flushMu.Unlock()

	// A tick delivered just before the stop channel closed may reach this
	// point after the teardown flush has already run; the entry must not be
	// flushed again once it is gone.
	select {
	case <-e.stop:
		return
	default:
	}
	r.flushLocked(e)
}

func (r *Registry) flushLocked(e *entry) {
	log := logrus.WithField("room_id", e.roomID)

	snapshot, err := e.engine.Snapshot()
	if err != nil {
		log.WithError(err).Error("snapshot failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := e.storage.Flush(ctx, snapshot); err != nil {
		log.WithError(err).Error("flush failed")
		return
	}
	log.Debug("room flushed")
}

func (r *Registry) leave(e *entry) {
	r.mu.Lock()
	e.sessions--
	if e.sessions > 0 || e.tearingDown {
		// Still occupied, or a shutdown already owns the teardown.
		r.mu.Unlock()
		return
	}
	// Last session left. Mark the entry so joins racing the teardown wait
	// for it instead of attaching to a dying room.
	e.tearingDown = true
	r.mu.Unlock()

	<-e.ready
	r.teardown(e)

	r.mu.Lock()
	if r.rooms[e.roomID] == e {
		delete(r.rooms, e.roomID)
	}
	r.mu.Unlock()
	close(e.gone)

	logrus.WithField("room_id", e.roomID).Info("room closed")
}

// teardown stops the autosave timer, performs exactly one final flush
// (waiting out any in-flight periodic flush) and releases the engine.
func (r *Registry) teardown(e *entry) {
	e.stopOnce.Do(func() { close(e.stop) })

	e.flushMu.Lock()
	r.flushLocked(e)
	e.flushMu.Unlock()

	e.engine.Close()
}

// Rooms reports the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Shutdown flushes and closes every live room. Used on process exit so a
// SIGTERM does not lose up to one autosave interval of edits.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.rooms))
	for _, e := range r.rooms {
		if !e.tearingDown {
			e.tearingDown = true
			entries = append(entries, e)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			<-e.ready
			r.teardown(e)
			r.mu.Lock()
			if r.rooms[e.roomID] == e {
				delete(r.rooms, e.roomID)
			}
			r.mu.Unlock()
			close(e.gone)
		}(e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logrus.Warn("shutdown flush timed out")
	}
}
