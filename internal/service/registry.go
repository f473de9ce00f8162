package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultRegistrySize = 128

// Registry caches loaded trees by family id. Evicted trees are reloaded on the
// next Get.
//
// Writes to a family are serialized by a lock the registry keeps for the life
// of the process, so a caller still holding an evicted Tree cannot race the
// Tree that replaced it. Such a write reloads the old Tree first and then
// drops the cached one.
type Registry struct {
	stores   Stores
	base     *slog.Logger
	logger   *slog.Logger
	onChange func(ChangeEvent)

	// locks maps family id to *sync.Mutex. Lock order: a family lock before mu.
	locks sync.Map

	mu    sync.Mutex
	cache *lru.Cache[string, *Tree]
}

// NewRegistry creates a registry holding at most size trees. onChange, if
// set, receives every change event of every tree the registry built.
func NewRegistry(stores Stores, size int, logger *slog.Logger, onChange func(ChangeEvent)) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	r := &Registry{
		stores:   stores,
		base:     logger,
		logger:   logger.With("component", "tree_registry"),
		onChange: onChange,
	}
	cache, err := lru.NewWithEvict[string, *Tree](size, func(familyID string, t *Tree) {
		t.retired.Store(true)
		r.logger.Debug("family tree evicted", "family_id", familyID)
	})
	if err != nil {
		return nil, fmt.Errorf("create tree cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

func (r *Registry) familyLock(familyID string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(familyID, new(sync.Mutex))
	return mu.(*sync.Mutex)
}

// LockFamily blocks tree writes and loads for familyID until unlock is called.
func (r *Registry) LockFamily(familyID string) (unlock func()) {
	mu := r.familyLock(familyID)
	mu.Lock()
	return mu.Unlock
}

func (r *Registry) cached(familyID string) (*Tree, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Get(familyID)
}

// Get returns the loaded tree for familyID, loading it on a miss.
func (r *Registry) Get(ctx context.Context, familyID string) (*Tree, error) {
	if t, ok := r.cached(familyID); ok {
		return t, nil
	}

	mu := r.familyLock(familyID)
	mu.Lock()
	defer mu.Unlock()

	// another caller may have loaded it while we waited
	if t, ok := r.cached(familyID); ok {
		return t, nil
	}

	t := newTree(familyID, r.stores, r.base, mu, r.forward)
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache.Add(familyID, t)
	r.mu.Unlock()
	return t, nil
}

// forward delivers a tree's change event. A change made through a retired
// tree also drops the cached tree for that family, which was loaded without it.
func (r *Registry) forward(t *Tree, ev ChangeEvent) {
	if t.retired.Load() {
		r.mu.Lock()
		if cur, ok := r.cache.Peek(t.familyID); ok && cur != t {
			r.cache.Remove(t.familyID)
		}
		r.mu.Unlock()
		r.logger.Debug("change through retired tree", "family_id", t.familyID, "entity", ev.Entity, "action", ev.Action)
	}
	if r.onChange != nil {
		r.onChange(ev)
	}
}

// Invalidate drops the cached tree so the next Get reloads it.
func (r *Registry) Invalidate(familyID string) {
	r.mu.Lock()
	r.cache.Remove(familyID)
	r.mu.Unlock()
}

// Len returns the number of cached trees.
func (r *Registry) Len() int {
	return r.cache.Len()
}
