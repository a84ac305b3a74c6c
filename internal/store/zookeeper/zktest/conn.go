// Package zktest provides an in-memory stand-in for a ZooKeeper connection.
package zktest

import (
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

type znode struct {
	data    []byte
	acl     []zk.ACL
	version int32
}

// Conn mimics the znode semantics of a ZooKeeper ensemble: creates need a
// parent, deletes need an empty node, and the root always exists.
type Conn struct {
	mu    sync.Mutex
	nodes map[string]*znode

	// Calls counts operations by name.
	Calls map[string]int
}

// NewConn returns an empty tree.
func NewConn() *Conn {
	return &Conn{
		nodes: map[string]*znode{"/": {}},
		Calls: map[string]int{},
	}
}

func (c *Conn) Exists(p string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["exists"]++

	n, ok := c.nodes[p]
	if !ok {
		return false, nil, nil
	}
	return true, &zk.Stat{Version: n.version}, nil
}

func (c *Conn) Create(p string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["create"]++

	if _, ok := c.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	if _, ok := c.nodes[path.Dir(p)]; !ok {
		return "", zk.ErrNoNode
	}
	c.nodes[p] = &znode{data: slices.Clone(data), acl: slices.Clone(acl)}
	return p, nil
}

func (c *Conn) Delete(p string, version int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["delete"]++

	if _, ok := c.nodes[p]; !ok {
		return zk.ErrNoNode
	}
	if len(c.children(p)) > 0 {
		return zk.ErrNotEmpty
	}
	delete(c.nodes, p)
	return nil
}

func (c *Conn) Get(p string) ([]byte, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return slices.Clone(n.data), &zk.Stat{Version: n.version}, nil
}

func (c *Conn) Set(p string, data []byte, version int32) (*zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[p]
	if !ok {
		return nil, zk.ErrNoNode
	}
	if version >= 0 && version != n.version {
		return nil, zk.ErrBadVersion
	}
	n.data = slices.Clone(data)
	n.version++
	return &zk.Stat{Version: n.version}, nil
}

func (c *Conn) Children(p string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[p]; !ok {
		return nil, nil, zk.ErrNoNode
	}
	return c.children(p), &zk.Stat{}, nil
}

func (c *Conn) GetACL(p string) ([]zk.ACL, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return slices.Clone(n.acl), &zk.Stat{Version: n.version}, nil
}

func (c *Conn) SetACL(p string, acl []zk.ACL, version int32) (*zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["setacl"]++

	n, ok := c.nodes[p]
	if !ok {
		return nil, zk.ErrNoNode
	}
	n.acl = slices.Clone(acl)
	return &zk.Stat{Version: n.version}, nil
}

// Paths returns every node path, sorted.
func (c *Conn) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make([]string, 0, len(c.nodes))
	for p := range c.nodes {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// children must be called with mu held.
func (c *Conn) children(p string) []string {
	prefix := strings.TrimSuffix(p, "/") + "/"
	var out []string
	for candidate := range c.nodes {
		if candidate != p && strings.HasPrefix(candidate, prefix) && !strings.Contains(candidate[len(prefix):], "/") {
			out = append(out, candidate[len(prefix):])
		}
	}
	slices.Sort(out)
	return out
}
