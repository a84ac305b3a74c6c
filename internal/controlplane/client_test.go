package controlplane

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/orgsync/internal/models"
)

// pagedClient serves organization pages of the given sizes.
type pagedClient struct {
	sizes    []int
	requests []int
	err      error
}

func (c *pagedClient) Organizations(ctx context.Context, page int) (Page[models.Organization], error) {
	c.requests = append(c.requests, page)
	if c.err != nil {
		return Page[models.Organization]{}, c.err
	}

	var p Page[models.Organization]
	for i := range c.sizes[page-1] {
		p.Items = append(p.Items, models.Organization{GUID: fmt.Sprintf("org-%d-%d", page, i)})
	}
	if page < len(c.sizes) {
		p.Next = page + 1
	}
	return p, nil
}

func (c *pagedClient) Users(ctx context.Context, orgID string, page int) (Page[models.User], error) {
	c.requests = append(c.requests, page)
	return Page[models.User]{Items: []models.User{{GUID: orgID + "-user", Name: "alice"}}}, nil
}

func TestListOrganizations_ConcatenatesPages(t *testing.T) {
	c := &pagedClient{sizes: []int{100, 100, 40}}

	orgs, err := ListOrganizations(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, orgs, 240)
	require.Equal(t, []int{1, 2, 3}, c.requests)

	require.Equal(t, "org-1-0", orgs[0].GUID)
	require.Equal(t, "org-2-0", orgs[100].GUID)
	require.Equal(t, "org-3-39", orgs[239].GUID)
}

func TestListOrganizations_Error(t *testing.T) {
	c := &pagedClient{err: errors.New("connection refused")}

	_, err := ListOrganizations(context.Background(), c)
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, []int{1}, c.requests)
}

func TestListOrganizations_RejectsBackwardsPage(t *testing.T) {
	c := loopingClient{}

	_, err := ListOrganizations(context.Background(), c)
	require.ErrorIs(t, err, ErrInvalidPage)
}

type loopingClient struct{}

func (loopingClient) Organizations(ctx context.Context, page int) (Page[models.Organization], error) {
	return Page[models.Organization]{Next: 1}, nil
}

func (loopingClient) Users(ctx context.Context, orgID string, page int) (Page[models.User], error) {
	return Page[models.User]{}, nil
}

func TestListUsers(t *testing.T) {
	c := &pagedClient{}

	users, err := ListUsers(context.Background(), c, "org-1")
	require.NoError(t, err)
	require.Equal(t, []models.User{{GUID: "org-1-user", Name: "alice"}}, users)
}

func TestStaticClient(t *testing.T) {
	ctx := context.Background()
	c := NewStaticClient(2)

	for i := range 5 {
		c.AddOrganization(models.Organization{GUID: fmt.Sprintf("org-%d", i), Name: fmt.Sprintf("Org %d", i)})
	}
	c.AddOrganization(models.Organization{GUID: "org-0", Name: "Renamed"})
	c.AddUser("org-1", models.User{GUID: "user-1", Name: "alice"})

	orgs, err := ListOrganizations(ctx, c)
	require.NoError(t, err)
	require.Len(t, orgs, 5)
	require.Equal(t, "Renamed", orgs[0].Name)
	require.Equal(t, 3, c.Requests)

	users, err := ListUsers(ctx, c, "org-1")
	require.NoError(t, err)
	require.Equal(t, []models.User{{GUID: "user-1", Name: "alice"}}, users)

	users, err = ListUsers(ctx, c, "org-4")
	require.NoError(t, err)
	require.Empty(t, users)

	c.RemoveOrganization("org-1")
	orgs, err = ListOrganizations(ctx, c)
	require.NoError(t, err)
	require.Len(t, orgs, 4)

	users, err = ListUsers(ctx, c, "org-1")
	require.NoError(t, err)
	require.Empty(t, users)
}
