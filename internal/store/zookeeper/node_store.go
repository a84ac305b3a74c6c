package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/store"
)

const anyVersion int32 = -1

type lock interface {
	Lock() error
	Unlock() error
}

// NodeStore implements store.NodeStore on a ZooKeeper ensemble. All paths are
// resolved below chroot, which is created on construction.
type NodeStore struct {
	conn       Conn
	chroot     string
	defaultACL []store.ACL
	newLock    func(path string, acl []zk.ACL) lock
}

var (
	_ store.NodeStore = (*NodeStore)(nil)
	_ store.Locker    = (*NodeStore)(nil)
)

// NewNodeStore creates a node store rooted at chroot ("/" for no chroot).
func NewNodeStore(conn *zk.Conn, chroot string, defaultACL ...store.ACL) (*NodeStore, error) {
	s := newNodeStore(conn, chroot, defaultACL)
	s.newLock = func(path string, acl []zk.ACL) lock {
		return zk.NewLock(conn, path, acl)
	}

	if err := s.ensureChroot(); err != nil {
		return nil, err
	}

	return s, nil
}

func newNodeStore(conn Conn, chroot string, defaultACL []store.ACL) *NodeStore {
	if chroot == "" {
		chroot = store.Separator
	}
	return &NodeStore{
		conn:       conn,
		chroot:     chroot,
		defaultACL: defaultACL,
	}
}

// Exists reports whether a node is present at path.
func (s *NodeStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := store.ValidatePath(path); err != nil {
		return false, err
	}

	exists, _, err := s.conn.Exists(s.resolve(path))
	if err != nil {
		return false, fmt.Errorf("failed to check node %s: %w", path, err)
	}

	return exists, nil
}

// Create creates a persistent node; ErrNodeExists is treated as success.
func (s *NodeStore) Create(ctx context.Context, path string, data []byte, acl ...store.ACL) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}
	if path == store.Separator {
		return nil
	}

	_, err := s.conn.Create(s.resolve(path), data, 0, toZKACL(store.MergeACLs(s.defaultACL, acl)))
	switch {
	case err == nil:
		log.Debug().Str("path", path).Msg("Created znode")
		return nil
	case errors.Is(err, zk.ErrNodeExists):
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return store.ErrNoParent
	default:
		return fmt.Errorf("failed to create node %s: %w", path, err)
	}
}

// Delete removes a node and its descendants depth first. Nodes that vanish
// concurrently are ignored.
func (s *NodeStore) Delete(ctx context.Context, path string) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}

	if path == store.Separator {
		children, err := s.Children(ctx, path)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := s.Delete(ctx, store.Join(child)); err != nil {
				return err
			}
		}
		return nil
	}

	return s.deleteRecursive(ctx, s.resolve(path))
}

func (s *NodeStore) deleteRecursive(ctx context.Context, full string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, _, err := s.conn.Children(full)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil
		}
		return fmt.Errorf("failed to list children of %s: %w", full, err)
	}

	for _, child := range children {
		if err := s.deleteRecursive(ctx, full+store.Separator+child); err != nil {
			return err
		}
	}

	err = s.conn.Delete(full, anyVersion)
	switch {
	case err == nil, errors.Is(err, zk.ErrNoNode):
		return nil
	case errors.Is(err, zk.ErrNotEmpty):
		// a child appeared while we were deleting
		return s.deleteRecursive(ctx, full)
	default:
		return fmt.Errorf("failed to delete node %s: %w", full, err)
	}
}

// GetData returns the payload of a node.
func (s *NodeStore) GetData(ctx context.Context, path string) ([]byte, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}

	data, _, err := s.conn.Get(s.resolve(path))
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, store.ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node %s: %w", path, err)
	}

	return data, nil
}

// SetData replaces the payload of a node regardless of its version.
func (s *NodeStore) SetData(ctx context.Context, path string, data []byte) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}

	if _, err := s.conn.Set(s.resolve(path), data, anyVersion); err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return store.ErrNodeNotFound
		}
		return fmt.Errorf("failed to set node %s: %w", path, err)
	}

	return nil
}

// Children returns the sorted names of the direct children of a node.
func (s *NodeStore) Children(ctx context.Context, path string) ([]string, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}

	children, _, err := s.conn.Children(s.resolve(path))
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, store.ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to list children of %s: %w", path, err)
	}

	if s.chroot == store.Separator && path == store.Separator {
		// hide the ensemble's own bookkeeping node
		children = slices.DeleteFunc(children, func(c string) bool { return c == "zookeeper" })
	}
	slices.Sort(children)

	return children, nil
}

// Lock uses the ZooKeeper lock recipe below the chroot. The recipe call
// blocks without observing ctx; ctx is checked before and after.
func (s *NodeStore) Lock(ctx context.Context, name string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.newLock(s.resolve(store.Join("_locks", name)), toZKACL(s.defaultACLOrWorld()))
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("failed to take lock %s: %w", name, err)
	}

	unlock := func() {
		if err := l.Unlock(); err != nil {
			log.Error().Err(err).Str("lock", name).Msg("Failed to release zookeeper lock")
		}
	}

	if err := ctx.Err(); err != nil {
		unlock()
		return nil, err
	}

	return unlock, nil
}

func (s *NodeStore) ensureChroot() error {
	if s.chroot == store.Separator {
		return nil
	}

	acl := toZKACL(s.defaultACLOrWorld())
	current := ""
	for _, segment := range strings.Split(strings.Trim(s.chroot, store.Separator), store.Separator) {
		current += store.Separator + segment
		if _, err := s.conn.Create(current, nil, 0, acl); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create chroot %s: %w", current, err)
		}
	}

	return nil
}

func (s *NodeStore) resolve(path string) string {
	if s.chroot == store.Separator {
		return path
	}
	if path == store.Separator {
		return s.chroot
	}
	return s.chroot + path
}

func (s *NodeStore) defaultACLOrWorld() []store.ACL {
	if len(s.defaultACL) == 0 {
		return store.WorldACL(store.PermAll)
	}
	return s.defaultACL
}

func toZKACL(acl []store.ACL) []zk.ACL {
	if len(acl) == 0 {
		return zk.WorldACL(zk.PermAll)
	}

	out := make([]zk.ACL, 0, len(acl))
	for _, entry := range acl {
		out = append(out, zk.ACL{Scheme: entry.Scheme, ID: entry.ID, Perms: entry.Perms})
	}
	return out
}

// FromZKACL converts ZooKeeper ACL entries to store ACL entries.
func FromZKACL(acl []zk.ACL) []store.ACL {
	out := make([]store.ACL, 0, len(acl))
	for _, entry := range acl {
		out = append(out, store.ACL{Scheme: entry.Scheme, ID: entry.ID, Perms: entry.Perms})
	}
	return out
}

// ToZKACL converts store ACL entries to ZooKeeper ACL entries.
func ToZKACL(acl []store.ACL) []zk.ACL {
	return toZKACL(acl)
}
