// Package tree is the arbor maintenance engine: concurrency-safe path
// resolution, sibling ordering, and subtree deletion over shared
// storage.
//
// Any number of processes may operate on one tree simultaneously. The
// engine never holds in-process state between calls; all coordination
// happens through store transactions plus named advisory locks (package
// lock). Three protocols carry the guarantees:
//
//   - Resolve double-checks child existence under a per-(parent, label)
//     lock and creates the missing child under the group's lock, so
//     racing resolutions of overlapping paths create each node exactly
//     once and racing creations of distinct labels land on distinct
//     order values. Per-label locks are only ever taken before group
//     locks, keeping the nesting acyclic.
//   - InsertSibling runs its read-compute-write of order values under
//     the single per-group lock, so concurrent inserts never lose or
//     merge updates. No operation takes a second group's lock while
//     holding one for an insert, making cross-group deadlock impossible.
//   - Delete and Move take the group locks they need in one global
//     order (shallowest group first, ties by ref), so concurrent
//     deletions along a shared ancestry chain cannot wait on each other
//     in opposite orders.
//
// Passing a nil Locker (or lock.Disabled()) bypasses all of this: the
// operations still work, but duplicate (parent, label) children become
// possible. That degraded mode is deliberate and observable, not an
// error.
package tree
