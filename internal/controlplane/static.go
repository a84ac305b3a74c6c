package controlplane

import (
	"context"
	"sync"

	"github.com/wolfeidau/orgsync/internal/models"
)

const defaultStaticPageSize = 100

// StaticClient serves listings held in memory. It backs development servers
// started without a control-plane URL.
type StaticClient struct {
	mu       sync.Mutex
	pageSize int
	orgs     []models.Organization
	users    map[string][]models.User

	// Requests counts page requests served.
	Requests int
}

// NewStaticClient creates an empty client serving pages of pageSize items.
func NewStaticClient(pageSize int) *StaticClient {
	if pageSize <= 0 {
		pageSize = defaultStaticPageSize
	}
	return &StaticClient{
		pageSize: pageSize,
		users:    map[string][]models.User{},
	}
}

// AddOrganization appends org to the listing, replacing an org with the same guid.
func (c *StaticClient) AddOrganization(org models.Organization) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.orgs {
		if c.orgs[i].GUID == org.GUID {
			c.orgs[i] = org
			return
		}
	}
	c.orgs = append(c.orgs, org)
}

// AddUser appends user to the listing of orgID.
func (c *StaticClient) AddUser(orgID string, user models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := c.users[orgID]
	for i := range users {
		if users[i].GUID == user.GUID {
			users[i] = user
			return
		}
	}
	c.users[orgID] = append(users, user)
}

// RemoveOrganization drops orgID and its users from the listing.
func (c *StaticClient) RemoveOrganization(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.orgs {
		if c.orgs[i].GUID == orgID {
			c.orgs = append(c.orgs[:i], c.orgs[i+1:]...)
			break
		}
	}
	delete(c.users, orgID)
}

func (c *StaticClient) Organizations(ctx context.Context, page int) (Page[models.Organization], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests++

	return paginate(c.orgs, page, c.pageSize), nil
}

func (c *StaticClient) Users(ctx context.Context, orgID string, page int) (Page[models.User], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests++

	return paginate(c.users[orgID], page, c.pageSize), nil
}

func paginate[T any](items []T, page, size int) Page[T] {
	start := (page - 1) * size
	if page < 1 || start >= len(items) {
		return Page[T]{}
	}
	end := min(start+size, len(items))

	p := Page[T]{Items: append([]T(nil), items[start:end]...)}
	if end < len(items) {
		p.Next = page + 1
	}
	return p
}
