package tree

import (
	"context"
	"sort"
	"strings"

	"github.com/jacentio/arbor/internal/keyspace"
	"github.com/jacentio/arbor/lock"
	"github.com/jacentio/arbor/store"
)

// Storage is the slice of the persistence layer the engine consumes.
// *store.Store is the production implementation; tests substitute an
// in-memory one.
type Storage interface {
	// GetNode retrieves a live node by id, or store.ErrNotFound.
	GetNode(ctx context.Context, id string) (*store.Node, error)

	// ChildrenByLabel returns all live children of parentRef with the
	// given label. More than one only ever appears when advisory
	// locking was bypassed.
	ChildrenByLabel(ctx context.Context, parentRef, label string) ([]*store.Node, error)

	// Children returns the live children of parentRef ordered by
	// order_value.
	Children(ctx context.Context, parentRef string) ([]*store.Node, error)

	// CreateNode persists a new node, assigning its id and version.
	CreateNode(ctx context.Context, n *store.Node) error

	// UpdateOrderValue changes order_value with optimistic locking.
	UpdateOrderValue(ctx context.Context, n *store.Node, orderValue float64) error

	// Reparent rewrites parent_ref and ancestry_path with optimistic
	// locking.
	Reparent(ctx context.Context, n *store.Node, newParentRef, newAncestryPath string) error

	// MarkDeleted soft-deletes a node. Idempotent.
	MarkDeleted(ctx context.Context, id string) error
}

// Locker serializes structural mutations by named key. *lock.Manager is
// the production implementation.
type Locker interface {
	WithLock(ctx context.Context, key string, body func(context.Context) error) error
}

var (
	_ Storage = (*store.Store)(nil)
	_ Locker  = (*lock.Manager)(nil)
)

// CascadePolicy governs what Delete does with a node's descendants.
type CascadePolicy int

const (
	// CascadeDelete removes the node and its whole subtree.
	CascadeDelete CascadePolicy = iota

	// RestrictDelete fails with ErrHasChildren when live children exist.
	RestrictDelete

	// ReparentChildren moves the node's children under its parent
	// before removing it.
	ReparentChildren
)

// Config holds configuration for the Engine.
type Config struct {
	// CascadePolicy applied by Delete. Default: CascadeDelete.
	CascadePolicy CascadePolicy

	// NormalizeLabel canonicalizes path segments before comparison.
	// Default: strings.TrimSpace. Label equality alone determines node
	// identity during resolution.
	NormalizeLabel func(string) string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CascadePolicy:  CascadeDelete,
		NormalizeLabel: strings.TrimSpace,
	}
}

// validate ensures config values are usable.
func (c *Config) validate() {
	if c.NormalizeLabel == nil {
		c.NormalizeLabel = strings.TrimSpace
	}
}

// Engine maintains a tree of labeled nodes in shared storage, safe
// against concurrent resolvers, sibling mutators, and deleters in any
// number of processes.
type Engine struct {
	storage Storage
	locks   Locker
	config  Config
}

// New creates a new Engine. A nil locker disables advisory locking and
// with it the no-duplicate guarantee.
func New(storage Storage, locks Locker, config Config) *Engine {
	config.validate()
	return &Engine{
		storage: storage,
		locks:   locks,
		config:  config,
	}
}

// withLock runs body under one advisory lock, tolerating a nil locker.
func (e *Engine) withLock(ctx context.Context, key string, body func(context.Context) error) error {
	if e.locks == nil {
		return body(ctx)
	}
	return e.locks.WithLock(ctx, key, body)
}

// groupRef identifies a sibling group together with its depth in the
// hierarchy, for ordered multi-lock acquisition.
type groupRef struct {
	depth int
	ref   string
}

// withGroupLocks acquires the sibling-group locks for all groups in a
// single global order (shallowest first, ties broken by ref) and runs
// body under all of them. Two operations locking overlapping group sets
// therefore never wait on each other in opposite orders.
func (e *Engine) withGroupLocks(ctx context.Context, groups []groupRef, body func(context.Context) error) error {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].depth != groups[j].depth {
			return groups[i].depth < groups[j].depth
		}
		return groups[i].ref < groups[j].ref
	})

	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		key := keyspace.SiblingKey(g.ref)
		if len(keys) > 0 && keys[len(keys)-1] == key {
			continue
		}
		keys = append(keys, key)
	}

	var run func(ctx context.Context, keys []string) error
	run = func(ctx context.Context, keys []string) error {
		if len(keys) == 0 {
			return body(ctx)
		}
		return e.withLock(ctx, keys[0], func(ctx context.Context) error {
			return run(ctx, keys[1:])
		})
	}
	return run(ctx, keys)
}

// groupDepth returns the hierarchy depth of the sibling group directly
// under parentRef. The forest root group is depth 0.
func groupDepth(parent *store.Node) int {
	if parent == nil {
		return 0
	}
	return parent.Depth() + 1
}
