package tree_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/tree"
)

// memStore is an in-memory Storage with DynamoDB's semantics where they
// matter: id-keyed rows, no uniqueness on (parent, label), soft delete
// via TTL, optimistic versioning. Each exported call holds the mutex for
// its whole duration, mirroring per-request atomicity; nothing spans
// calls, so read-then-write races are as real as against the actual
// store.
type memStore struct {
	mu    sync.Mutex
	seq   int
	nodes map[string]*store.Node

	// beforeCreate, when set, runs before CreateNode takes the mutex.
	// Tests use it to force specific interleavings.
	beforeCreate func(n *store.Node)
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[string]*store.Node)}
}

func (m *memStore) GetNode(ctx context.Context, id string) (*store.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok || n.TTL != 0 {
		return nil, store.ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (m *memStore) ChildrenByLabel(ctx context.Context, parentRef, label string) ([]*store.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*store.Node
	for _, n := range m.nodes {
		if n.TTL == 0 && n.ParentRef == parentRef && n.Label == label {
			copied := *n
			result = append(result, &copied)
		}
	}
	sortGroup(result)
	return result, nil
}

func (m *memStore) Children(ctx context.Context, parentRef string) ([]*store.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*store.Node
	for _, n := range m.nodes {
		if n.TTL == 0 && n.ParentRef == parentRef {
			copied := *n
			result = append(result, &copied)
		}
	}
	sortGroup(result)
	return result, nil
}

func (m *memStore) CreateNode(ctx context.Context, n *store.Node) error {
	if m.beforeCreate != nil {
		m.beforeCreate(n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		m.seq++
		n.ID = fmt.Sprintf("n%04d", m.seq)
	}
	if n.ParentRef == "" {
		n.ParentRef = store.RootRef
	}
	if _, exists := m.nodes[n.ID]; exists {
		return store.ErrAlreadyExists
	}
	if parentID := store.RefID(n.ParentRef); parentID != "" {
		parent, ok := m.nodes[parentID]
		if !ok || parent.TTL != 0 {
			return store.ErrParentNotFound
		}
	}
	n.Version = 1

	copied := *n
	m.nodes[n.ID] = &copied
	return nil
}

func (m *memStore) UpdateOrderValue(ctx context.Context, n *store.Node, orderValue float64) error {
	return m.updateStructural(n, func(stored *store.Node) {
		stored.OrderValue = orderValue
	})
}

func (m *memStore) Reparent(ctx context.Context, n *store.Node, newParentRef, newAncestryPath string) error {
	return m.updateStructural(n, func(stored *store.Node) {
		stored.ParentRef = newParentRef
		stored.AncestryPath = newAncestryPath
	})
}

func (m *memStore) updateStructural(n *store.Node, mutate func(stored *store.Node)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.nodes[n.ID]
	if !ok || stored.TTL != 0 || stored.Version != n.Version {
		return store.ErrConcurrentModification
	}
	mutate(stored)
	stored.Version++

	copied := *stored
	*n = copied
	return nil
}

func (m *memStore) MarkDeleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.nodes[id]
	if !ok || stored.TTL != 0 {
		return nil // idempotent
	}
	stored.TTL = 1
	stored.Version++
	return nil
}

// liveCountByLabel counts live nodes per label across the whole store.
func (m *memStore) liveCountByLabel() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, n := range m.nodes {
		if n.TTL == 0 {
			counts[n.Label]++
		}
	}
	return counts
}

// liveCount counts all live nodes.
func (m *memStore) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, n := range m.nodes {
		if n.TTL == 0 {
			count++
		}
	}
	return count
}

func sortGroup(nodes []*store.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].OrderValue != nodes[j].OrderValue {
			return nodes[i].OrderValue < nodes[j].OrderValue
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// memLocker serializes bodies per key with in-process mutexes. It stands
// in for the DynamoDB lock table in engine tests; the locking protocol
// under test is the engine's, not the table's.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithLock(ctx context.Context, key string, body func(context.Context) error) error {
	l.mu.Lock()
	mtx, ok := l.locks[key]
	if !ok {
		mtx = &sync.Mutex{}
		l.locks[key] = mtx
	}
	l.mu.Unlock()

	mtx.Lock()
	defer mtx.Unlock()
	return body(ctx)
}

// parentScope builds the scope node for reading a node's own sibling
// group: nil when the node is root-level, otherwise a stub carrying the
// parent's id.
func parentScope(n *store.Node) *store.Node {
	id := store.RefID(n.ParentRef)
	if id == "" {
		return nil
	}
	return &store.Node{ID: id}
}

// labelsOf extracts labels in group order.
func labelsOf(nodes []*store.Node) []string {
	labels := make([]string, len(nodes))
	for i, n := range nodes {
		labels[i] = n.Label
	}
	return labels
}

// newTestEngine wires an engine with in-memory storage and locking.
func newTestEngine() (*tree.Engine, *memStore) {
	ms := newMemStore()
	return tree.New(ms, newMemLocker(), tree.DefaultConfig()), ms
}

// newUnlockedEngine wires an engine with locking bypassed entirely.
func newUnlockedEngine() (*tree.Engine, *memStore) {
	ms := newMemStore()
	return tree.New(ms, nil, tree.DefaultConfig()), ms
}
