package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/wolfeidau/orgsync/internal/store"
)

type node struct {
	data []byte
	acl  []store.ACL
}

// NodeStore implements store.NodeStore using in-memory storage.
// This implementation is for development and testing - data is lost on restart.
type NodeStore struct {
	mu sync.RWMutex

	nodes      map[string]*node // path -> node
	defaultACL []store.ACL

	locksMu sync.Mutex
	locks   map[string]chan struct{} // lock name -> held token
}

var (
	_ store.NodeStore = (*NodeStore)(nil)
	_ store.Locker    = (*NodeStore)(nil)
)

// NewNodeStore creates a new in-memory node store whose nodes carry
// defaultACL in addition to any ACL passed to Create.
func NewNodeStore(defaultACL ...store.ACL) *NodeStore {
	return &NodeStore{
		nodes:      make(map[string]*node),
		defaultACL: defaultACL,
		locks:      make(map[string]chan struct{}),
	}
}

// Exists reports whether a node is present at path.
func (s *NodeStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := store.ValidatePath(path); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.exists(path), nil
}

// Create creates a node; an existing node is left untouched.
func (s *NodeStore) Create(ctx context.Context, path string, data []byte, acl ...store.ACL) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}
	if path == store.Separator {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[path]; exists {
		return nil
	}
	if !s.exists(store.Parent(path)) {
		return store.ErrNoParent
	}

	s.nodes[path] = &node{
		data: slices.Clone(data),
		acl:  store.MergeACLs(s.defaultACL, acl),
	}

	return nil
}

// Delete removes the node and its descendants; an absent node is a no-op.
func (s *NodeStore) Delete(ctx context.Context, path string) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := strings.TrimSuffix(path, store.Separator) + store.Separator
	for p := range s.nodes {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.nodes, p)
		}
	}

	return nil
}

// GetData returns a copy of the payload of a node.
func (s *NodeStore) GetData(ctx context.Context, path string) ([]byte, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[path]
	if !exists {
		return nil, store.ErrNodeNotFound
	}

	return slices.Clone(n.data), nil
}

// SetData replaces the payload of a node.
func (s *NodeStore) SetData(ctx context.Context, path string, data []byte) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.nodes[path]
	if !exists {
		return store.ErrNodeNotFound
	}
	n.data = slices.Clone(data)

	return nil
}

// Children returns the sorted names of the direct children of a node.
func (s *NodeStore) Children(ctx context.Context, path string) ([]string, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists(path) {
		return nil, store.ErrNodeNotFound
	}

	var children []string
	for p := range s.nodes {
		if p != path && store.Parent(p) == path {
			children = append(children, p[strings.LastIndex(p, store.Separator)+1:])
		}
	}
	slices.Sort(children)

	return children, nil
}

// ACL returns the access control list attached to a node.
func (s *NodeStore) ACL(ctx context.Context, path string) ([]store.ACL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[path]
	if !exists {
		return nil, store.ErrNodeNotFound
	}

	return slices.Clone(n.acl), nil
}

// Lock acquires an in-process named lock.
func (s *NodeStore) Lock(ctx context.Context, name string) (func(), error) {
	s.locksMu.Lock()
	token, ok := s.locks[name]
	if !ok {
		token = make(chan struct{}, 1)
		s.locks[name] = token
	}
	s.locksMu.Unlock()

	select {
	case token <- struct{}{}:
		return func() { <-token }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exists must be called with mu held.
func (s *NodeStore) exists(path string) bool {
	if path == store.Separator {
		return true
	}
	_, ok := s.nodes[path]
	return ok
}
