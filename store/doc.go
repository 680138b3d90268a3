// Package store provides the DynamoDB persistence layer for arbor trees.
//
// Arbor keeps every tree vertex as one row in a single node table keyed
// by id, with all structural edges expressed as id references rather
// than in-memory pointers. Two global secondary indexes serve the
// structural reads:
//
//   - parent-label-index (parent_ref, label): child-by-label lookup
//   - parent-order-index (parent_ref, order_value): ordered sibling groups
//
// Neither index is unique. Uniqueness of (parent, label) among live
// siblings is the advisory-lock protocol's job (see package tree); the
// storage layer deliberately keeps duplicates representable so that
// running with locking disabled degrades visibly.
//
// # Deletion
//
// Nodes are soft-deleted by setting a TTL, the same mechanism used for
// cascade: the stream handler (package stream) propagates a newly set
// TTL to all children. All read paths filter expired TTLs, so readers
// observe either the pre- or post-deletion state of any single node.
//
// # Errors
//
//   - [ErrNotFound] - node doesn't exist or is deleted
//   - [ErrParentNotFound] - parent validation failed during create
//   - [ErrAlreadyExists] - node with this id already exists
//   - [ErrConcurrentModification] - optimistic lock failed
package store
