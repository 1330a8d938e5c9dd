// Package registry hands each goroutine its own transaction engine,
// mirroring the thread-local TransactionEngine instance the original
// implementation keeps per OS thread and the per-goroutine lookup table
// a predecessor of this module used to find per-goroutine race-detector
// state: a sync.Map keyed by goroutine id.
//
// It also implements cm.Directory, resolving a write lock's numeric
// owner id back to that owner's contention manager — the reason this
// package, rather than internal/stm/engine itself, owns the id-to-Engine
// map: engine must not import registry, or the two would cycle.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/go-swisstm/stm/internal/stm/cm"
	"github.com/go-swisstm/stm/internal/stm/engine"
	"github.com/go-swisstm/stm/internal/stm/prng"
	"github.com/go-swisstm/stm/internal/stm/threadid"
)

// Registry is a process-wide directory of live engines. The zero value
// is not ready to use; call New.
type Registry struct {
	world  *engine.World
	root   *prng.Root
	nextID atomic.Uint32

	byGoroutine sync.Map // int64 -> *engine.Engine
	byEngineID  sync.Map // uint32 -> *engine.Engine
}

// New returns an empty Registry backed by a fresh World.
func New() *Registry {
	return &Registry{world: engine.NewWorld(), root: prng.NewRoot()}
}

// Default is the process-wide Registry every package-level stm function
// uses. Tests that need isolation from each other construct their own
// Registry instead of touching this one.
var Default = New()

// ThreadInit returns the calling goroutine's Engine, creating one the
// first time a given goroutine calls it. It is idempotent: calling it
// again from the same goroutine returns the same Engine.
func (r *Registry) ThreadInit() *engine.Engine {
	gid := threadid.Current()
	if e, ok := r.byGoroutine.Load(gid); ok {
		return e.(*engine.Engine)
	}

	id := r.nextID.Add(1)
	e := engine.New(id, r.world, r.root.Derive(), r)

	if existing, loaded := r.byGoroutine.LoadOrStore(gid, e); loaded {
		return existing.(*engine.Engine)
	}
	r.byEngineID.Store(id, e)
	return e
}

// Current returns the calling goroutine's Engine and true, or nil and
// false if ThreadInit has not been called on this goroutine yet.
func (r *Registry) Current() (*engine.Engine, bool) {
	gid := threadid.Current()
	e, ok := r.byGoroutine.Load(gid)
	if !ok {
		return nil, false
	}
	return e.(*engine.Engine), true
}

// Lookup implements cm.Directory: it resolves an engine id (as packed
// into a locktable.WriteLock) back to that engine's contention manager.
func (r *Registry) Lookup(ownerID uint32) (*cm.Manager, bool) {
	e, ok := r.byEngineID.Load(ownerID)
	if !ok {
		return nil, false
	}
	return e.(*engine.Engine).CM(), true
}

// Forget drops the calling goroutine's Engine from the registry. Go has
// no goroutine-exit hook, so nothing calls this automatically; it exists
// for long-lived worker pools that want to release a retiring worker's
// slot explicitly rather than leaking it for the life of the process.
func (r *Registry) Forget() {
	gid := threadid.Current()
	if e, ok := r.byGoroutine.LoadAndDelete(gid); ok {
		r.byEngineID.Delete(e.(*engine.Engine).ID())
	}
}
