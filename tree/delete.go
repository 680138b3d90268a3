package tree

import (
	"context"
	"errors"

	"github.com/jacentio/arbor/internal/keyspace"
	"github.com/jacentio/arbor/store"
)

// Delete removes node under the engine's cascade policy. Concurrent
// deletions of different nodes in the same hierarchy never deadlock:
// every policy takes its sibling-group locks in the one global order
// (shallowest group first), and the cascade walk below the unlinked node
// runs lock-free on idempotent marks.
func (e *Engine) Delete(ctx context.Context, node *store.Node) error {
	switch e.config.CascadePolicy {
	case RestrictDelete:
		return e.deleteRestrict(ctx, node)
	case ReparentChildren:
		return e.deleteReparent(ctx, node)
	default:
		return e.deleteCascade(ctx, node)
	}
}

// deleteCascade unlinks the node under its group lock, then marks the
// whole subtree deleted top-down. Marks are idempotent, so overlapping
// cascades from concurrent deletions along one chain are harmless. If
// the walk is cut short, the stream cascade handler finishes the job.
func (e *Engine) deleteCascade(ctx context.Context, node *store.Node) error {
	err := e.withLock(ctx, keyspace.SiblingKey(node.ParentRef), func(ctx context.Context) error {
		return e.storage.MarkDeleted(ctx, node.ID)
	})
	if err != nil {
		return err
	}
	return e.markSubtree(ctx, node.Ref())
}

// markSubtree marks every live descendant of ref deleted, breadth-first.
func (e *Engine) markSubtree(ctx context.Context, ref string) error {
	queue := []string{ref}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		children, err := e.storage.Children(ctx, ref)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.storage.MarkDeleted(ctx, child.ID); err != nil {
				return err
			}
			queue = append(queue, child.Ref())
		}
	}
	return nil
}

// deleteRestrict refuses to remove a node that still has live children.
func (e *Engine) deleteRestrict(ctx context.Context, node *store.Node) error {
	return e.withLock(ctx, keyspace.SiblingKey(node.ParentRef), func(ctx context.Context) error {
		children, err := e.storage.Children(ctx, node.Ref())
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return ErrHasChildren
		}
		return e.storage.MarkDeleted(ctx, node.ID)
	})
}

// deleteReparent moves the node's children under its parent, then
// removes the node. Needs both the group the node leaves and the group
// the children leave, acquired in global order by withGroupLocks.
func (e *Engine) deleteReparent(ctx context.Context, node *store.Node) error {
	groups := []groupRef{
		{depth: node.Depth(), ref: node.ParentRef},
		{depth: node.Depth() + 1, ref: node.Ref()},
	}
	return e.withGroupLocks(ctx, groups, func(ctx context.Context) error {
		// The caller's snapshot may carry a pre-move ancestry path; the
		// promoted children must inherit the live one. A snapshot whose
		// group changed means we locked the wrong groups.
		fresh, err := e.storage.GetNode(ctx, node.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil // already deleted
		}
		if err != nil {
			return err
		}
		if fresh.ParentRef != node.ParentRef {
			return store.ErrConcurrentModification
		}

		children, err := e.storage.Children(ctx, fresh.Ref())
		if err != nil {
			return err
		}
		adoptive, err := e.storage.Children(ctx, fresh.ParentRef)
		if err != nil {
			return err
		}

		// Label collisions abort before any write.
		labels := make(map[string]bool, len(adoptive))
		for _, sibling := range adoptive {
			if sibling.ID != fresh.ID {
				labels[sibling.Label] = true
			}
		}
		for _, child := range children {
			if labels[child.Label] {
				return ErrDuplicateLabel
			}
		}

		// Children keep their relative order, appended after the
		// current members of the adoptive group.
		next := appendOrderValue(adoptive)
		for _, child := range children {
			if err := e.storage.UpdateOrderValue(ctx, child, next); err != nil {
				return err
			}
			next += orderGap
			if err := e.storage.Reparent(ctx, child, fresh.ParentRef, fresh.AncestryPath); err != nil {
				return err
			}
			if err := e.rewriteSubtreePaths(ctx, child); err != nil {
				return err
			}
		}
		return e.storage.MarkDeleted(ctx, fresh.ID)
	})
}

// Move reparents node under newParent (nil moves it to the forest root),
// appending it to the target group. Fails with ErrCycle before any write
// when the move would make node its own ancestor, and with
// ErrDuplicateLabel when the target group already has the label.
func (e *Engine) Move(ctx context.Context, node *store.Node, newParent *store.Node) error {
	if newParent != nil && (newParent.ID == node.ID || newParent.HasAncestor(node.ID)) {
		return ErrCycle
	}

	newParentRef, newPath := store.RootRef, ""
	if newParent != nil {
		newParentRef, newPath = newParent.Ref(), newParent.ChildPath()
	}

	groups := []groupRef{
		{depth: node.Depth(), ref: node.ParentRef},
		{depth: groupDepth(newParent), ref: newParentRef},
	}
	return e.withGroupLocks(ctx, groups, func(ctx context.Context) error {
		fresh, err := e.storage.GetNode(ctx, node.ID)
		if err != nil {
			return err
		}

		// Re-check the cycle against current ancestry: the target may
		// itself have been moved since the caller read it.
		if newParent != nil {
			target, err := e.storage.GetNode(ctx, newParent.ID)
			if err != nil {
				return err
			}
			if target.HasAncestor(fresh.ID) {
				return ErrCycle
			}
			newPath = target.ChildPath()
		}

		group, err := e.storage.Children(ctx, newParentRef)
		if err != nil {
			return err
		}
		peers := group[:0:0]
		for _, sibling := range group {
			if sibling.ID == fresh.ID {
				continue
			}
			if sibling.Label == fresh.Label {
				return ErrDuplicateLabel
			}
			peers = append(peers, sibling)
		}

		if err := e.storage.UpdateOrderValue(ctx, fresh, appendOrderValue(peers)); err != nil {
			return err
		}
		if err := e.storage.Reparent(ctx, fresh, newParentRef, newPath); err != nil {
			return err
		}
		if err := e.rewriteSubtreePaths(ctx, fresh); err != nil {
			return err
		}
		*node = *fresh
		return nil
	})
}

// rewriteSubtreePaths recomputes ancestry_path for every descendant of n
// after n's own path changed.
func (e *Engine) rewriteSubtreePaths(ctx context.Context, n *store.Node) error {
	children, err := e.storage.Children(ctx, n.Ref())
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := e.storage.Reparent(ctx, child, child.ParentRef, n.ChildPath()); err != nil {
			return err
		}
		if err := e.rewriteSubtreePaths(ctx, child); err != nil {
			return err
		}
	}
	return nil
}
