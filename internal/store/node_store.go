package store

import (
	"context"
	"errors"
	"path"
	"strings"
)

// Sentinel errors for node store operations
var (
	ErrNodeNotFound = errors.New("node not found")
	ErrNoParent     = errors.New("parent node does not exist")
	ErrInvalidPath  = errors.New("invalid node path")
	ErrUnavailable  = errors.New("node store unavailable")
)

// Separator joins path segments in every node store.
const Separator = "/"

// Permission bits carried by an ACL entry. The values match the ZooKeeper
// permission bitmask so entries can be handed to a ZooKeeper ensemble as-is.
const (
	PermRead   int32 = 1 << 0
	PermWrite  int32 = 1 << 1
	PermCreate int32 = 1 << 2
	PermDelete int32 = 1 << 3
	PermAdmin  int32 = 1 << 4
	PermAll    int32 = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// ACL is a single (scheme, identity, permissions) entry attached to a node.
type ACL struct {
	Scheme string `json:"scheme" yaml:"scheme" validate:"required"`
	ID     string `json:"id" yaml:"id" validate:"required"`
	Perms  int32  `json:"perms" yaml:"perms" validate:"min=0,max=31"`
}

// WorldACL grants perms to everyone.
func WorldACL(perms int32) []ACL {
	return []ACL{{Scheme: "world", ID: "anyone", Perms: perms}}
}

// NodeStore is a rooted hierarchical namespace with per-node ACLs.
//
// Paths are absolute within the store root and use Separator between
// segments. Create and Delete are idempotent: creating an existing node and
// deleting an absent node both succeed.
type NodeStore interface {
	// Exists reports whether a node is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Create creates a node holding data. The node carries the store's default
	// ACLs merged with acl. Returns ErrNoParent if the parent node is missing.
	Create(ctx context.Context, path string, data []byte, acl ...ACL) error

	// Delete removes the node and all of its descendants.
	Delete(ctx context.Context, path string) error

	// GetData returns the payload of a node.
	// Returns ErrNodeNotFound if the node doesn't exist.
	GetData(ctx context.Context, path string) ([]byte, error)

	// SetData replaces the payload of a node.
	// Returns ErrNodeNotFound if the node doesn't exist.
	SetData(ctx context.Context, path string, data []byte) error

	// Children returns the names of the direct children of a node, sorted.
	// Returns ErrNodeNotFound if the node doesn't exist.
	Children(ctx context.Context, path string) ([]string, error)
}

// Locker is implemented by node stores able to provide a named lock shared
// by every process using the same backend.
type Locker interface {
	// Lock blocks until the named lock is held and returns the release func.
	Lock(ctx context.Context, name string) (func(), error)
}

// Join builds a node path from segments. Empty segments are dropped and the
// result always starts with Separator.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, Separator)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return Separator + strings.Join(parts, Separator)
}

// Parent returns the parent path of p, or Separator for top level nodes.
func Parent(p string) string {
	return path.Dir(p)
}

// ValidatePath checks that p is an absolute, clean node path.
func ValidatePath(p string) error {
	if p == "" || !strings.HasPrefix(p, Separator) {
		return ErrInvalidPath
	}
	if p != Separator && (strings.HasSuffix(p, Separator) || path.Clean(p) != p) {
		return ErrInvalidPath
	}
	return nil
}

// MergeACLs unions defaults with extra, de-duplicated by (scheme, id).
// When both lists carry the same identity the entry from extra wins.
func MergeACLs(defaults []ACL, extra []ACL) []ACL {
	type key struct{ scheme, id string }

	merged := make([]ACL, 0, len(defaults)+len(extra))
	index := make(map[key]int, len(defaults)+len(extra))

	for _, list := range [][]ACL{defaults, extra} {
		for _, entry := range list {
			k := key{entry.Scheme, entry.ID}
			if i, ok := index[k]; ok {
				merged[i] = entry
				continue
			}
			index[k] = len(merged)
			merged = append(merged, entry)
		}
	}

	return merged
}
