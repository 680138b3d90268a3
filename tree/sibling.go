package tree

import (
	"context"

	"github.com/jacentio/arbor/internal/keyspace"
	"github.com/jacentio/arbor/store"
)

// Position selects where InsertSibling places the new node within the
// group.
type Position int

const (
	// PositionFirst places the new node before every current sibling.
	PositionFirst Position = iota

	// PositionLast places the new node after every current sibling.
	PositionLast

	// PositionAfter places the new node directly after the existing
	// sibling passed to InsertSibling.
	PositionAfter
)

// orderGap is the spacing between order values at the ends of a group.
// Interior inserts take midpoints, so no insert ever renumbers
// unaffected siblings.
const orderGap = 1.0

// InsertSibling creates a node with the given label in the sibling group
// of existing, at the requested position, and returns it.
//
// The whole read-compute-write sequence runs under the group's single
// advisory lock, so N concurrent inserts into one group serialize and
// each ends up with a distinct order value. No second group's lock is
// ever taken while holding it, which rules out cross-group deadlock
// structurally; the lock exists to prevent lost-update interleavings of
// the order computation.
func (e *Engine) InsertSibling(ctx context.Context, existing *store.Node, label string, position Position) (*store.Node, error) {
	label = e.config.NormalizeLabel(label)
	if label == "" {
		return nil, ErrEmptyLabel
	}

	var inserted *store.Node
	err := e.withLock(ctx, keyspace.SiblingKey(existing.ParentRef), func(ctx context.Context) error {
		// The caller's snapshot may predate a move of the parent chain.
		// The ancestry path the new sibling inherits must be the live
		// one, so re-read the node under the lock.
		fresh, err := e.storage.GetNode(ctx, existing.ID)
		if err != nil {
			return err
		}
		if fresh.ParentRef != existing.ParentRef {
			// The node changed groups after the snapshot was taken;
			// we are holding the old group's lock.
			return store.ErrConcurrentModification
		}

		group, err := e.storage.Children(ctx, fresh.ParentRef)
		if err != nil {
			return err
		}
		for _, sibling := range group {
			if sibling.Label == label {
				return ErrDuplicateLabel
			}
		}

		orderValue, err := orderValueAt(group, fresh, position)
		if err != nil {
			return err
		}

		inserted = &store.Node{
			Label:        label,
			ParentRef:    fresh.ParentRef,
			AncestryPath: fresh.AncestryPath,
			OrderValue:   orderValue,
		}
		return e.storage.CreateNode(ctx, inserted)
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// ChildrenOf returns the live children of node ordered by order value.
// A nil node reads the forest root group.
func (e *Engine) ChildrenOf(ctx context.Context, node *store.Node) ([]*store.Node, error) {
	ref := store.RootRef
	if node != nil {
		ref = node.Ref()
	}
	return e.storage.Children(ctx, ref)
}

// orderValueAt computes the order value for a node entering group at
// position relative to existing. group is ordered ascending.
func orderValueAt(group []*store.Node, existing *store.Node, position Position) (float64, error) {
	if len(group) == 0 {
		// Degenerate group: existing itself is gone. The insert still
		// has a well-defined spot.
		return orderGap, nil
	}

	switch position {
	case PositionFirst:
		return group[0].OrderValue - orderGap, nil
	case PositionLast:
		return appendOrderValue(group), nil
	case PositionAfter:
		for i, sibling := range group {
			if sibling.ID != existing.ID {
				continue
			}
			if i == len(group)-1 {
				return sibling.OrderValue + orderGap, nil
			}
			return midpoint(sibling.OrderValue, group[i+1].OrderValue), nil
		}
		// existing was deleted between the caller's read and our
		// locked read; treat like an append.
		return appendOrderValue(group), nil
	default:
		return appendOrderValue(group), nil
	}
}

// appendOrderValue returns the order value for appending to group.
func appendOrderValue(group []*store.Node) float64 {
	if len(group) == 0 {
		return orderGap
	}
	max := group[0].OrderValue
	for _, sibling := range group[1:] {
		if sibling.OrderValue > max {
			max = sibling.OrderValue
		}
	}
	return max + orderGap
}

// midpoint bisects the gap between two adjacent order values.
func midpoint(a, b float64) float64 {
	return a + (b-a)/2
}
