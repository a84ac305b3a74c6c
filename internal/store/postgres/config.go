package postgres

import (
	"fmt"

	"github.com/wolfeidau/orgsync/internal/store"
)

// NodeStoreConfig holds node store configuration for the PostgreSQL backend.
// Pool configuration is handled separately via PoolConfig.
type NodeStoreConfig struct {
	// DefaultACL is attached to every node in addition to the ACL passed to Create.
	DefaultACL []store.ACL

	// QueryTimeoutSeconds is the maximum time a query can run before timing out.
	// Default: 10 seconds
	QueryTimeoutSeconds int32
}

// Validate checks that the configuration is valid.
func (c *NodeStoreConfig) Validate() error {
	for _, entry := range c.DefaultACL {
		if entry.Scheme == "" || entry.ID == "" {
			return fmt.Errorf("default ACL entries require a scheme and an id")
		}
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *NodeStoreConfig) ApplyDefaults() {
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 10
	}
}
