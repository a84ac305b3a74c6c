// Package warehouse maps organizations and users to PostgreSQL roles: each
// organization is a group role and each user a role granted membership of
// the groups of its organizations.
package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/orgsync/internal/store/postgres"
)

// DB executes statements; *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Config holds settings for the warehouse role connector.
type Config struct {
	Pool postgres.PoolConfig `yaml:"pool"`

	// RolePrefix is prepended to every managed role name.
	// Default: orgsync_
	RolePrefix string `yaml:"role_prefix" validate:"omitempty,max=20"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.RolePrefix == "" {
		c.RolePrefix = "orgsync_"
	}
}

// Connector manages warehouse roles.
type Connector struct {
	name   string
	db     DB
	prefix string
}

// New creates a connector named name.
func New(name string, db DB, cfg Config) *Connector {
	cfg.ApplyDefaults()
	return &Connector{name: name, db: db, prefix: cfg.RolePrefix}
}

func (c *Connector) Name() string { return c.name }

// AddOrganization creates the organization group role.
func (c *Connector) AddOrganization(ctx context.Context, orgID string) error {
	return c.createRole(ctx, c.orgRole(orgID))
}

// AddUserToOrg creates the user role and grants it the organization role.
func (c *Connector) AddUserToOrg(ctx context.Context, userID, orgID string) error {
	if err := c.createRole(ctx, c.userRole(userID)); err != nil {
		return err
	}

	sql := fmt.Sprintf("GRANT %s TO %s", c.orgRole(orgID).Sanitize(), c.userRole(userID).Sanitize())
	if _, err := c.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to grant organization %s to user %s: %w", orgID, userID, err)
	}

	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Str("user_id", userID).Msg("Granted warehouse role")
	return nil
}

// RemoveUserFromOrg revokes the organization role from the user. The user
// role is kept since it may belong to other organizations.
func (c *Connector) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	sql := fmt.Sprintf("REVOKE %s FROM %s", c.orgRole(orgID).Sanitize(), c.userRole(userID).Sanitize())
	_, err := c.db.Exec(ctx, sql)
	if err != nil && !hasCode(err, pgerrcode.UndefinedObject) {
		return fmt.Errorf("failed to revoke organization %s from user %s: %w", orgID, userID, err)
	}
	return nil
}

// RemoveOrganization drops the organization group role.
func (c *Connector) RemoveOrganization(ctx context.Context, orgID string) error {
	sql := "DROP ROLE IF EXISTS " + c.orgRole(orgID).Sanitize()
	if _, err := c.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to drop role of organization %s: %w", orgID, err)
	}
	return nil
}

// Synchronize checks the warehouse is reachable.
func (c *Connector) Synchronize(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("warehouse unreachable: %w", err)
	}
	return nil
}

func (c *Connector) createRole(ctx context.Context, role pgx.Identifier) error {
	_, err := c.db.Exec(ctx, "CREATE ROLE "+role.Sanitize()+" NOLOGIN")
	switch {
	case err == nil:
		zerolog.Ctx(ctx).Debug().Str("role", role[0]).Msg("Created warehouse role")
		return nil
	case hasCode(err, pgerrcode.DuplicateObject):
		return nil
	default:
		return fmt.Errorf("failed to create role %s: %w", role[0], err)
	}
}

func (c *Connector) orgRole(orgID string) pgx.Identifier {
	return pgx.Identifier{c.prefix + "org_" + orgID}
}

func (c *Connector) userRole(userID string) pgx.Identifier {
	return pgx.Identifier{c.prefix + "user_" + userID}
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
