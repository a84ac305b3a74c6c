// Package zookeeper grants organizations and users access to a subtree of a
// ZooKeeper ensemble. Each organization owns a node below Base whose ACL
// lists the organization and its users.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/orgsync/internal/store"
	zkstore "github.com/wolfeidau/orgsync/internal/store/zookeeper"
)

const anyVersion int32 = -1

// maxACLAttempts bounds retries of a read-modify-write on a node ACL that
// lost a race with a concurrent writer.
const maxACLAttempts = 3

var ErrOrgNotProvisioned = errors.New("organization node does not exist")

// Config holds settings for the ZooKeeper ACL connector.
type Config struct {
	// Base is the parent of the organization nodes.
	Base string `yaml:"base" validate:"required,startswith=/"`

	// Scheme is the ACL scheme used for organization and user ids.
	// Default: sasl
	Scheme string `yaml:"scheme"`

	// Perms is the permission mask granted to organizations and users.
	// Default: read | write | create | delete
	Perms int32 `yaml:"perms" validate:"gte=0,lte=31"`

	// AdminACL is kept on every organization node so the gateway keeps control.
	AdminACL []store.ACL `yaml:"admin_acl" validate:"dive"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "sasl"
	}
	if c.Perms == 0 {
		c.Perms = store.PermRead | store.PermWrite | store.PermCreate | store.PermDelete
	}
	if len(c.AdminACL) == 0 {
		c.AdminACL = store.WorldACL(store.PermAll)
	}
}

// Connector manages organization node ACLs.
type Connector struct {
	name string
	conn zkstore.Conn
	cfg  Config
}

// New creates a connector named name.
func New(name string, conn zkstore.Conn, cfg Config) *Connector {
	cfg.ApplyDefaults()
	return &Connector{name: name, conn: conn, cfg: cfg}
}

func (c *Connector) Name() string { return c.name }

// AddOrganization creates the organization node with an ACL granting the
// organization access.
func (c *Connector) AddOrganization(ctx context.Context, orgID string) error {
	acl := zkstore.ToZKACL(store.MergeACLs(c.cfg.AdminACL, []store.ACL{c.entry(orgID)}))

	_, err := c.conn.Create(c.orgPath(orgID), nil, 0, acl)
	switch {
	case err == nil:
		zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Msg("Created organization node")
		return nil
	case errors.Is(err, zk.ErrNodeExists):
		// An earlier partial run may have left a node without the org entry
		return c.updateACL(ctx, orgID, func(acl []store.ACL) []store.ACL {
			return store.MergeACLs(acl, []store.ACL{c.entry(orgID)})
		})
	default:
		return fmt.Errorf("failed to create node for organization %s: %w", orgID, err)
	}
}

// AddUserToOrg adds the user to the organization node ACL.
func (c *Connector) AddUserToOrg(ctx context.Context, userID, orgID string) error {
	err := c.updateACL(ctx, orgID, func(acl []store.ACL) []store.ACL {
		return store.MergeACLs(acl, []store.ACL{c.entry(userID)})
	})
	if errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("add user %s: %w: %s", userID, ErrOrgNotProvisioned, orgID)
	}
	return err
}

// RemoveUserFromOrg drops the user from the organization node ACL.
func (c *Connector) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	err := c.updateACL(ctx, orgID, func(acl []store.ACL) []store.ACL {
		return slices.DeleteFunc(acl, func(a store.ACL) bool {
			return a.Scheme == c.cfg.Scheme && a.ID == userID
		})
	})
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	return err
}

// RemoveOrganization deletes the organization node and anything below it.
func (c *Connector) RemoveOrganization(ctx context.Context, orgID string) error {
	if err := c.deleteTree(c.orgPath(orgID)); err != nil {
		return fmt.Errorf("failed to delete node for organization %s: %w", orgID, err)
	}
	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Msg("Deleted organization node")
	return nil
}

// Synchronize ensures the base node and its ancestors exist.
func (c *Connector) Synchronize(ctx context.Context) error {
	base := store.Join(c.cfg.Base)
	var missing []string
	for p := base; p != store.Separator; p = store.Parent(p) {
		missing = append(missing, p)
	}

	acl := zkstore.ToZKACL(c.cfg.AdminACL)
	for i := len(missing) - 1; i >= 0; i-- {
		if _, err := c.conn.Create(missing[i], nil, 0, acl); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", missing[i], err)
		}
	}
	return nil
}

// updateACL applies change to the organization node ACL using the node's
// ACL version to detect concurrent writers.
func (c *Connector) updateACL(ctx context.Context, orgID string, change func([]store.ACL) []store.ACL) error {
	p := c.orgPath(orgID)

	for attempt := 1; ; attempt++ {
		current, stat, err := c.conn.GetACL(p)
		if err != nil {
			return fmt.Errorf("failed to read acl of %s: %w", p, err)
		}

		existing := zkstore.FromZKACL(current)
		updated := change(slices.Clone(existing))
		if slices.Equal(existing, updated) {
			return nil
		}

		_, err = c.conn.SetACL(p, zkstore.ToZKACL(updated), stat.Aversion)
		if err == nil {
			zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Int("entries", len(updated)).Msg("Updated organization acl")
			return nil
		}
		if !errors.Is(err, zk.ErrBadVersion) || attempt == maxACLAttempts {
			return fmt.Errorf("failed to update acl of %s: %w", p, err)
		}
	}
}

func (c *Connector) deleteTree(p string) error {
	for {
		children, _, err := c.conn.Children(p)
		if errors.Is(err, zk.ErrNoNode) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := c.deleteTree(store.Join(p, child)); err != nil {
				return err
			}
		}

		err = c.conn.Delete(p, anyVersion)
		switch {
		case err == nil, errors.Is(err, zk.ErrNoNode):
			return nil
		case errors.Is(err, zk.ErrNotEmpty):
			continue
		default:
			return err
		}
	}
}

func (c *Connector) orgPath(orgID string) string {
	return store.Join(c.cfg.Base, orgID)
}

func (c *Connector) entry(id string) store.ACL {
	return store.ACL{Scheme: c.cfg.Scheme, ID: id, Perms: c.cfg.Perms}
}
