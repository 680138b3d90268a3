package store

import (
	"strings"
)

// RootRef is the parent_ref sentinel for top-level nodes. DynamoDB drops
// items with a missing GSI key attribute, so roots carry this ref instead
// of an empty one to stay queryable as a sibling group.
const RootRef = "root#forest"

// Node is one tree vertex as stored in the node table.
type Node struct {
	// ID is the immutable partition key, assigned at creation.
	ID string `dynamodbav:"id"`

	// Label is the path segment name, unique among live siblings
	// (by lock protocol, not by key schema).
	Label string `dynamodbav:"label"`

	// ParentRef is the parent's node ref ("node#<id>"), or RootRef.
	ParentRef string `dynamodbav:"parent_ref"`

	// AncestryPath is the slash-joined chain of ancestor ids, root
	// first. Empty for top-level nodes. Recomputed on reparent.
	AncestryPath string `dynamodbav:"ancestry_path"`

	// OrderValue positions the node among its siblings. Values are
	// fractional so inserts never renumber neighbors.
	OrderValue float64 `dynamodbav:"order_value"`

	// Version is the optimistic lock version.
	Version int64 `dynamodbav:"version"`

	// CreatedAt and UpdatedAt are ISO 8601 timestamps.
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`

	// TTL marks the node deleted when set (unix seconds).
	TTL int64 `dynamodbav:"ttl,omitempty"`
}

// Ref returns the node's type-qualified reference ("node#<id>").
func (n *Node) Ref() string {
	return "node#" + n.ID
}

// ChildPath returns the ancestry_path that children of this node carry.
func (n *Node) ChildPath() string {
	if n.AncestryPath == "" {
		return n.ID
	}
	return n.AncestryPath + "/" + n.ID
}

// AncestorIDs returns the ids along the ancestry path, root first.
func (n *Node) AncestorIDs() []string {
	if n.AncestryPath == "" {
		return nil
	}
	return strings.Split(n.AncestryPath, "/")
}

// HasAncestor reports whether id appears in the node's ancestry chain.
func (n *Node) HasAncestor(id string) bool {
	for _, a := range n.AncestorIDs() {
		if a == id {
			return true
		}
	}
	return false
}

// Depth returns the number of ancestors above the node.
func (n *Node) Depth() int {
	return len(n.AncestorIDs())
}

// RefID extracts the node id from a "node#<id>" reference.
// Returns empty string for RootRef or malformed refs.
func RefID(ref string) string {
	if id, ok := strings.CutPrefix(ref, "node#"); ok {
		return id
	}
	return ""
}
