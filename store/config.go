package store

// Config holds configuration for the Store.
type Config struct {
	// NodeTable is the name of the node table.
	// Default: "arbor_nodes"
	NodeTable string

	// ParentLabelIndex is the GSI keyed (parent_ref, label), used for
	// child-by-label lookups. The index is intentionally non-unique:
	// duplicate (parent, label) pairs must remain representable so that
	// running without advisory locks degrades visibly instead of being
	// masked by the key schema.
	// Default: "parent-label-index"
	ParentLabelIndex string

	// ParentOrderIndex is the GSI keyed (parent_ref, order_value),
	// used to read a sibling group in order.
	// Default: "parent-order-index"
	ParentOrderIndex string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NodeTable:        "arbor_nodes",
		ParentLabelIndex: "parent-label-index",
		ParentOrderIndex: "parent-order-index",
	}
}

// validate ensures config values are usable.
func (c *Config) validate() {
	if c.NodeTable == "" {
		c.NodeTable = "arbor_nodes"
	}
	if c.ParentLabelIndex == "" {
		c.ParentLabelIndex = "parent-label-index"
	}
	if c.ParentOrderIndex == "" {
		c.ParentOrderIndex = "parent-order-index"
	}
}
