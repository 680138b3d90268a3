// Package keyspace derives deterministic advisory-lock keys for tree operations.
package keyspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChildKey computes the lock key guarding creation of a single child.
// Every resolver creating a child with this label under this parent
// contends for the same key, regardless of process.
func ChildKey(parentRef, label string) string {
	return "child#" + digest(fmt.Sprintf("%s\x1f%s", parentRef, label))
}

// SiblingKey computes the lock key guarding a whole sibling group.
// All mutators of the group (inserts, reorders, unlinks) serialize on it.
func SiblingKey(parentRef string) string {
	return "siblings#" + digest(parentRef+"\x1fsiblings")
}

// digest returns a 128-bit hex digest, enough to make collisions
// between distinct logical keys a non-concern.
func digest(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}
