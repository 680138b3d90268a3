package tree

import (
	"context"

	"github.com/jacentio/arbor/internal/keyspace"
	"github.com/jacentio/arbor/store"
)

// Resolve walks path from scope as a left fold, finding or creating the
// child for each label in order and descending into it. A nil scope
// resolves against the forest root: the first label names a top-level
// node. The empty path returns scope itself (ErrNoScope for nil scope).
//
// With advisory locking enabled, concurrent resolutions of overlapping
// paths materialize exactly one node per (parent, label) pair, and all
// callers observe that node. With locking disabled the same walk runs
// unguarded and duplicate children become possible.
func (e *Engine) Resolve(ctx context.Context, scope *store.Node, path []string) (*store.Node, error) {
	if len(path) == 0 {
		if scope == nil {
			return nil, ErrNoScope
		}
		return scope, nil
	}

	parentRef := store.RootRef
	if scope != nil {
		parentRef = scope.Ref()
	}

	var current *store.Node
	for _, raw := range path {
		label := e.config.NormalizeLabel(raw)
		if label == "" {
			return nil, ErrEmptyLabel
		}
		child, err := e.findOrCreateChild(ctx, parentRef, label)
		if err != nil {
			return nil, err
		}
		current = child
		parentRef = child.Ref()
	}
	return current, nil
}

// findOrCreateChild resolves one level of the path.
func (e *Engine) findOrCreateChild(ctx context.Context, parentRef, label string) (*store.Node, error) {
	// Warm path: an existing child needs no lock.
	existing, err := e.storage.ChildrenByLabel(ctx, parentRef, label)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	var child *store.Node
	err = e.withLock(ctx, keyspace.ChildKey(parentRef, label), func(ctx context.Context) error {
		// Mandatory re-check: another holder may have created the
		// child between our plain read and this acquisition.
		again, err := e.storage.ChildrenByLabel(ctx, parentRef, label)
		if err != nil {
			return err
		}
		if len(again) > 0 {
			child = again[0]
			return nil
		}

		// The order computation has to see every in-flight sibling, so
		// the group read and the create run under the group's lock as
		// well. Resolvers of distinct labels would otherwise both read
		// the same group and both append at the same order value.
		// Child-creation locks are only ever taken before group locks,
		// never while holding one, so the nesting cannot deadlock.
		return e.withLock(ctx, keyspace.SiblingKey(parentRef), func(ctx context.Context) error {
			// The caller's scope snapshot may predate a move, so the
			// ancestry is derived from the live parent row, never from
			// the snapshot.
			ancestry := ""
			if parentID := store.RefID(parentRef); parentID != "" {
				parent, err := e.storage.GetNode(ctx, parentID)
				if err != nil {
					return err
				}
				ancestry = parent.ChildPath()
			}

			siblings, err := e.storage.Children(ctx, parentRef)
			if err != nil {
				return err
			}
			child = &store.Node{
				Label:        label,
				ParentRef:    parentRef,
				AncestryPath: ancestry,
				OrderValue:   appendOrderValue(siblings),
			}
			return e.storage.CreateNode(ctx, child)
		})
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}
