package tree_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/tree"
)

func TestInsertSibling_First(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	base, err := engine.Resolve(ctx, nil, []string{"group", "existing"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	inserted, err := engine.InsertSibling(ctx, base, "newcomer", tree.PositionFirst)
	if err != nil {
		t.Fatalf("InsertSibling failed: %v", err)
	}
	if inserted.ParentRef != base.ParentRef {
		t.Errorf("expected same parent %q, got %q", base.ParentRef, inserted.ParentRef)
	}
	if inserted.OrderValue >= base.OrderValue {
		t.Errorf("prepended order value %v not less than existing %v", inserted.OrderValue, base.OrderValue)
	}

	group, err := engine.ChildrenOf(ctx, parentScope(base))
	if err != nil {
		t.Fatalf("ChildrenOf failed: %v", err)
	}
	if len(group) != 2 || group[0].ID != inserted.ID {
		t.Errorf("expected newcomer first, got %v", labelsOf(group))
	}
}

func TestInsertSibling_Last(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	base, _ := engine.Resolve(ctx, nil, []string{"group", "existing"})

	inserted, err := engine.InsertSibling(ctx, base, "tail", tree.PositionLast)
	if err != nil {
		t.Fatalf("InsertSibling failed: %v", err)
	}
	if inserted.OrderValue <= base.OrderValue {
		t.Errorf("appended order value %v not greater than existing %v", inserted.OrderValue, base.OrderValue)
	}
}

func TestInsertSibling_After(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	first, _ := engine.Resolve(ctx, nil, []string{"group", "one"})
	if _, err := engine.InsertSibling(ctx, first, "three", tree.PositionLast); err != nil {
		t.Fatalf("setup insert failed: %v", err)
	}

	two, err := engine.InsertSibling(ctx, first, "two", tree.PositionAfter)
	if err != nil {
		t.Fatalf("InsertSibling failed: %v", err)
	}

	group, err := engine.ChildrenOf(ctx, parentScope(first))
	if err != nil {
		t.Fatalf("ChildrenOf failed: %v", err)
	}
	want := []string{"one", "two", "three"}
	got := labelsOf(group)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
	if group[1].ID != two.ID {
		t.Errorf("expected 'two' in the middle, got %q", group[1].Label)
	}
}

func TestInsertSibling_DuplicateLabel(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	base, _ := engine.Resolve(ctx, nil, []string{"group", "existing"})

	_, err := engine.InsertSibling(ctx, base, "existing", tree.PositionFirst)
	if !errors.Is(err, tree.ErrDuplicateLabel) {
		t.Errorf("expected ErrDuplicateLabel, got %v", err)
	}
}

func TestInsertSibling_EmptyLabel(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	base, _ := engine.Resolve(ctx, nil, []string{"group", "existing"})

	_, err := engine.InsertSibling(ctx, base, "  ", tree.PositionFirst)
	if !errors.Is(err, tree.ErrEmptyLabel) {
		t.Errorf("expected ErrEmptyLabel, got %v", err)
	}
}

func TestInsertSibling_IntoRootGroup(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	root, _ := engine.Resolve(ctx, nil, []string{"first-root"})

	inserted, err := engine.InsertSibling(ctx, root, "second-root", tree.PositionFirst)
	if err != nil {
		t.Fatalf("InsertSibling failed: %v", err)
	}
	if inserted.Depth() != 0 {
		t.Errorf("expected a root-level node, depth %d", inserted.Depth())
	}

	roots, _ := engine.ChildrenOf(ctx, nil)
	if len(roots) != 2 || roots[0].ID != inserted.ID {
		t.Errorf("expected new root first, got %v", labelsOf(roots))
	}
}

// An insert through a snapshot taken before the parent chain moved must
// write the live ancestry path, not the snapshot's.
func TestInsertSibling_StaleSnapshotAfterMove(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	stale, err := engine.Resolve(ctx, nil, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	dst, _ := engine.Resolve(ctx, nil, []string{"dst"})
	b, _ := engine.Resolve(ctx, nil, []string{"a", "b"})
	if err := engine.Move(ctx, b, dst); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	// stale still carries the pre-move ancestry; its parent is unchanged.
	inserted, err := engine.InsertSibling(ctx, stale, "d", tree.PositionLast)
	if err != nil {
		t.Fatalf("InsertSibling failed: %v", err)
	}

	live, err := engine.Resolve(ctx, nil, []string{"dst", "b", "c"})
	if err != nil {
		t.Fatalf("Resolve after move failed: %v", err)
	}
	if inserted.AncestryPath != live.AncestryPath {
		t.Errorf("expected inserted ancestry %q, got %q", live.AncestryPath, inserted.AncestryPath)
	}
}

// A snapshot whose node changed groups entirely locks the wrong group
// and must be rejected rather than insert into the old one.
func TestInsertSibling_SnapshotMovedToOtherGroup(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	stale, err := engine.Resolve(ctx, nil, []string{"src", "n"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	dst, _ := engine.Resolve(ctx, nil, []string{"dst"})
	moved, _ := engine.Resolve(ctx, nil, []string{"src", "n"})
	if err := engine.Move(ctx, moved, dst); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	_, err = engine.InsertSibling(ctx, stale, "m", tree.PositionLast)
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}
}

// M concurrent prepends into one group must each land: M+1 members,
// pairwise distinct order values, nothing lost or merged.
func TestInsertSibling_ConcurrentPrepends(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	base, err := engine.Resolve(ctx, nil, []string{"group", "existing"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	const workers = 25
	start := make(chan struct{})
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = engine.InsertSibling(ctx, base, fmt.Sprintf("prepended-%02d", i), tree.PositionFirst)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
	}

	group, err := engine.ChildrenOf(ctx, parentScope(base))
	if err != nil {
		t.Fatalf("ChildrenOf failed: %v", err)
	}
	if len(group) != workers+1 {
		t.Fatalf("expected %d siblings, got %d", workers+1, len(group))
	}

	seen := make(map[float64]string, len(group))
	for _, n := range group {
		if other, dup := seen[n.OrderValue]; dup {
			t.Errorf("order value %v shared by %q and %q", n.OrderValue, other, n.Label)
		}
		seen[n.OrderValue] = n.Label
	}
	for i := 1; i < len(group); i++ {
		if group[i-1].OrderValue >= group[i].OrderValue {
			t.Errorf("group not strictly ordered at %d: %v >= %v", i, group[i-1].OrderValue, group[i].OrderValue)
		}
	}
	// Every insert went before the original member.
	if group[len(group)-1].ID != base.ID {
		t.Errorf("expected original sibling last, got %q", group[len(group)-1].Label)
	}
}
