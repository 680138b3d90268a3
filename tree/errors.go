package tree

import "errors"

var (
	// ErrDuplicateLabel is returned when an insert would place a second
	// live child with the same label into a sibling group. Only
	// reachable through explicit inserts or when advisory locking is
	// bypassed; retrying does not help and is not attempted.
	ErrDuplicateLabel = errors.New("arbor: duplicate sibling label")

	// ErrCycle is returned when a move would make a node its own
	// ancestor. Detected before any write.
	ErrCycle = errors.New("arbor: move would make node its own ancestor")

	// ErrHasChildren is returned by Delete under the RestrictDelete
	// policy when the node still has live children.
	ErrHasChildren = errors.New("arbor: node has live children")

	// ErrNoScope is returned by Resolve for an empty path with no
	// scope node: there is no materialized forest root to hand back.
	ErrNoScope = errors.New("arbor: empty path resolved against nil scope")

	// ErrEmptyLabel is returned when a path segment normalizes to the
	// empty string.
	ErrEmptyLabel = errors.New("arbor: empty label in path")
)
