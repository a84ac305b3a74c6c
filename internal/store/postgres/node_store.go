package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/store"
)

// NodeStore implements store.NodeStore using PostgreSQL.
//
// Nodes live in a single table keyed by path; each row references its parent
// so a delete cascades through the subtree and a create under a missing
// parent fails on the foreign key.
type NodeStore struct {
	pool *pgxpool.Pool
	cfg  NodeStoreConfig
}

var (
	_ store.NodeStore = (*NodeStore)(nil)
	_ store.Locker    = (*NodeStore)(nil)
)

// NewNodeStore creates a new PostgreSQL-backed node store on a shared pool.
// The schema must exist, see RunMigrations.
func NewNodeStore(pool *pgxpool.Pool, cfg *NodeStoreConfig) (*NodeStore, error) {
	if cfg == nil {
		cfg = &NodeStoreConfig{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node store config: %w", err)
	}

	return &NodeStore{
		pool: pool,
		cfg:  *cfg,
	}, nil
}

// Exists reports whether a node is present at p.
func (s *NodeStore) Exists(ctx context.Context, p string) (bool, error) {
	if err := store.ValidatePath(p); err != nil {
		return false, err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE path = $1)`, p).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check node: %w", mapPostgresError(err))
	}

	return exists, nil
}

// Create inserts a node; an existing node is left untouched.
func (s *NodeStore) Create(ctx context.Context, p string, data []byte, acl ...store.ACL) error {
	if err := store.ValidatePath(p); err != nil {
		return err
	}
	if p == store.Separator {
		return nil
	}

	aclJSON, err := json.Marshal(store.MergeACLs(s.cfg.DefaultACL, acl))
	if err != nil {
		return fmt.Errorf("failed to encode acl: %w", err)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO nodes (path, parent, data, acl)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (path) DO NOTHING
	`, p, store.Parent(p), data, string(aclJSON))
	if err != nil {
		return fmt.Errorf("failed to create node %s: %w", p, mapPostgresError(err))
	}

	if tag.RowsAffected() > 0 {
		log.Debug().Str("path", p).Msg("Created node")
	}

	return nil
}

// Delete removes a node and, through the parent foreign key, its subtree.
// Deleting the root clears every node below it.
func (s *NodeStore) Delete(ctx context.Context, p string) error {
	if err := store.ValidatePath(p); err != nil {
		return err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	query := `DELETE FROM nodes WHERE path = $1`
	if p == store.Separator {
		query = `DELETE FROM nodes WHERE parent = $1`
	}

	tag, err := s.pool.Exec(ctx, query, p)
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", p, mapPostgresError(err))
	}

	log.Debug().Str("path", p).Int64("rows", tag.RowsAffected()).Msg("Deleted node")

	return nil
}

// GetData returns the payload of a node.
func (s *NodeStore) GetData(ctx context.Context, p string) ([]byte, error) {
	if err := store.ValidatePath(p); err != nil {
		return nil, err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM nodes WHERE path = $1`, p).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node %s: %w", p, mapPostgresError(err))
	}

	return data, nil
}

// SetData replaces the payload of a node.
func (s *NodeStore) SetData(ctx context.Context, p string, data []byte) error {
	if err := store.ValidatePath(p); err != nil {
		return err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE nodes SET data = $2, updated_at = now() WHERE path = $1
	`, p, data)
	if err != nil {
		return fmt.Errorf("failed to set node %s: %w", p, mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrNodeNotFound
	}

	return nil
}

// Children returns the sorted names of the direct children of a node.
func (s *NodeStore) Children(ctx context.Context, p string) ([]string, error) {
	if err := store.ValidatePath(p); err != nil {
		return nil, err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT path FROM nodes WHERE parent = $1 ORDER BY path`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", p, mapPostgresError(err))
	}

	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan children of %s: %w", p, mapPostgresError(err))
	}

	if len(paths) == 0 {
		exists, err := s.Exists(ctx, p)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNodeNotFound
		}
	}

	children := make([]string, 0, len(paths))
	for _, child := range paths {
		children = append(children, path.Base(child))
	}

	return children, nil
}

// Lock takes a session-level advisory lock on a dedicated connection.
// The returned func releases the lock and returns the connection to the pool.
func (s *NodeStore) Lock(ctx context.Context, name string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for lock %s: %w", name, err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, name); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take lock %s: %w", name, mapPostgresError(err))
	}

	log.Debug().Str("lock", name).Msg("Advisory lock acquired")

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			log.Error().Err(err).Str("lock", name).Msg("Failed to release advisory lock")
		}
		conn.Release()
	}, nil
}

func (s *NodeStore) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeoutSeconds <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(s.cfg.QueryTimeoutSeconds)*time.Second)
}
