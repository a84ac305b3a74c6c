package zookeeper

import (
	"context"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/orgsync/internal/store"
	"github.com/wolfeidau/orgsync/internal/store/zookeeper/zktest"
)

var admin = store.ACL{Scheme: "sasl", ID: "gateway", Perms: store.PermAll}

func newTestConnector(t *testing.T) (*Connector, *zktest.Conn) {
	t.Helper()

	conn := zktest.NewConn()
	c := New("coordination", conn, Config{
		Base:     "/tenants/acl",
		Perms:    store.PermRead,
		AdminACL: []store.ACL{admin},
	})
	require.NoError(t, c.Synchronize(context.Background()))

	return c, conn
}

func TestConnector_Synchronize(t *testing.T) {
	c, conn := newTestConnector(t)

	require.Equal(t, []string{"/", "/tenants", "/tenants/acl"}, conn.Paths())
	require.NoError(t, c.Synchronize(context.Background()))
	require.Equal(t, "coordination", c.Name())
}

func TestConnector_Organization(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestConnector(t)

	require.NoError(t, c.AddOrganization(ctx, "org-1"))
	require.NoError(t, c.AddOrganization(ctx, "org-1"))

	acl, _, err := conn.GetACL("/tenants/acl/org-1")
	require.NoError(t, err)
	require.Equal(t, []zk.ACL{
		{Scheme: "sasl", ID: "gateway", Perms: zk.PermAll},
		{Scheme: "sasl", ID: "org-1", Perms: zk.PermRead},
	}, acl)

	_, err = conn.Create("/tenants/acl/org-1/topic", nil, 0, nil)
	require.NoError(t, err)

	require.NoError(t, c.RemoveOrganization(ctx, "org-1"))
	require.NoError(t, c.RemoveOrganization(ctx, "org-1"))
	require.Equal(t, []string{"/", "/tenants", "/tenants/acl"}, conn.Paths())
}

func TestConnector_HealsExistingNode(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestConnector(t)

	_, err := conn.Create("/tenants/acl/org-1", nil, 0, zk.WorldACL(zk.PermRead))
	require.NoError(t, err)

	require.NoError(t, c.AddOrganization(ctx, "org-1"))

	acl, _, err := conn.GetACL("/tenants/acl/org-1")
	require.NoError(t, err)
	require.Contains(t, acl, zk.ACL{Scheme: "sasl", ID: "org-1", Perms: zk.PermRead})
}

func TestConnector_Users(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestConnector(t)

	t.Run("organization must exist", func(t *testing.T) {
		err := c.AddUserToOrg(ctx, "user-1", "org-9")
		require.ErrorIs(t, err, ErrOrgNotProvisioned)
		require.NoError(t, c.RemoveUserFromOrg(ctx, "user-1", "org-9"))
	})

	require.NoError(t, c.AddOrganization(ctx, "org-1"))
	require.NoError(t, c.AddUserToOrg(ctx, "user-1", "org-1"))

	setACLs := conn.Calls["setacl"]
	require.NoError(t, c.AddUserToOrg(ctx, "user-1", "org-1"))
	require.Equal(t, setACLs, conn.Calls["setacl"], "unchanged acl is not written")

	acl, _, err := conn.GetACL("/tenants/acl/org-1")
	require.NoError(t, err)
	require.Len(t, acl, 3)
	require.Contains(t, acl, zk.ACL{Scheme: "sasl", ID: "user-1", Perms: zk.PermRead})

	require.NoError(t, c.RemoveUserFromOrg(ctx, "user-1", "org-1"))
	require.NoError(t, c.RemoveUserFromOrg(ctx, "user-1", "org-1"))

	acl, _, err = conn.GetACL("/tenants/acl/org-1")
	require.NoError(t, err)
	require.NotContains(t, acl, zk.ACL{Scheme: "sasl", ID: "user-1", Perms: zk.PermRead})
}
