package zookeeper

import (
	"context"
	"errors"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/orgsync/internal/store"
	"github.com/wolfeidau/orgsync/internal/store/zookeeper/zktest"
)

var _ Conn = (*zktest.Conn)(nil)

type fakeLock struct {
	locked   bool
	lockErr  error
	unlocked bool
}

func (l *fakeLock) Lock() error {
	if l.lockErr != nil {
		return l.lockErr
	}
	l.locked = true
	return nil
}

func (l *fakeLock) Unlock() error {
	l.unlocked = true
	return nil
}

func newTestStore(t *testing.T, chroot string, defaultACL ...store.ACL) (*NodeStore, *zktest.Conn) {
	t.Helper()

	conn := zktest.NewConn()
	st := newNodeStore(conn, chroot, defaultACL)
	require.NoError(t, st.ensureChroot())

	return st, conn
}

func TestNodeStore_Chroot(t *testing.T) {
	st, conn := newTestStore(t, "/gateway/orgsync")
	ctx := context.Background()

	require.Equal(t, []string{"/", "/gateway", "/gateway/orgsync"}, conn.Paths())

	require.NoError(t, st.Create(ctx, "/ledger", []byte("1")))
	require.Contains(t, conn.Paths(), "/gateway/orgsync/ledger")

	exists, err := st.Exists(ctx, "/ledger")
	require.NoError(t, err)
	require.True(t, exists)

	// Chroot creation is idempotent
	require.NoError(t, st.ensureChroot())
}

func TestNodeStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("existing node is success", func(t *testing.T) {
		st, _ := newTestStore(t, "")

		require.NoError(t, st.Create(ctx, "/ledger", []byte("1")))
		require.NoError(t, st.Create(ctx, "/ledger", []byte("2")))

		data, err := st.GetData(ctx, "/ledger")
		require.NoError(t, err)
		require.Equal(t, []byte("1"), data)
	})

	t.Run("missing parent", func(t *testing.T) {
		st, _ := newTestStore(t, "")

		err := st.Create(ctx, "/ledger/org", nil)
		require.ErrorIs(t, err, store.ErrNoParent)
	})

	t.Run("acl merges defaults", func(t *testing.T) {
		st, conn := newTestStore(t, "", store.ACL{Scheme: "sasl", ID: "gateway", Perms: store.PermAll})

		require.NoError(t, st.Create(ctx, "/ledger", nil, store.ACL{Scheme: "sasl", ID: "org-1", Perms: store.PermRead}))

		acl, _, err := conn.GetACL("/ledger")
		require.NoError(t, err)
		require.Equal(t, []zk.ACL{
			{Scheme: "sasl", ID: "gateway", Perms: zk.PermAll},
			{Scheme: "sasl", ID: "org-1", Perms: zk.PermRead},
		}, acl)
	})

	t.Run("no acl falls back to world", func(t *testing.T) {
		st, conn := newTestStore(t, "")

		require.NoError(t, st.Create(ctx, "/open", nil))

		acl, _, err := conn.GetACL("/open")
		require.NoError(t, err)
		require.Equal(t, zk.WorldACL(zk.PermAll), acl)
	})
}

func TestNodeStore_Delete(t *testing.T) {
	ctx := context.Background()
	st, conn := newTestStore(t, "/chroot")

	require.NoError(t, st.Create(ctx, "/ledger", nil))
	require.NoError(t, st.Create(ctx, "/ledger/org-1", nil))
	require.NoError(t, st.Create(ctx, "/ledger/org-1/user-1", nil))
	require.NoError(t, st.Create(ctx, "/ledger/org-2", nil))

	require.NoError(t, st.Delete(ctx, "/ledger"))
	require.Equal(t, []string{"/", "/chroot"}, conn.Paths())

	// Absent node
	require.NoError(t, st.Delete(ctx, "/ledger"))

	// Root clears everything below the chroot but keeps the chroot
	require.NoError(t, st.Create(ctx, "/a", nil))
	require.NoError(t, st.Create(ctx, "/b", nil))
	require.NoError(t, st.Delete(ctx, "/"))
	require.Equal(t, []string{"/", "/chroot"}, conn.Paths())
}

func TestNodeStore_Data(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, "")

	_, err := st.GetData(ctx, "/ledger")
	require.ErrorIs(t, err, store.ErrNodeNotFound)
	require.ErrorIs(t, st.SetData(ctx, "/ledger", nil), store.ErrNodeNotFound)

	require.NoError(t, st.Create(ctx, "/ledger", []byte("1")))
	require.NoError(t, st.SetData(ctx, "/ledger", []byte("2")))

	data, err := st.GetData(ctx, "/ledger")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), data)
}

func TestNodeStore_Children(t *testing.T) {
	ctx := context.Background()
	st, conn := newTestStore(t, "")

	_, err := conn.Create("/zookeeper", nil, 0, nil)
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, "/b", nil))
	require.NoError(t, st.Create(ctx, "/a", nil))

	children, err := st.Children(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, children)

	_, err = st.Children(ctx, "/missing")
	require.ErrorIs(t, err, store.ErrNodeNotFound)
}

func TestNodeStore_Lock(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, "/chroot")

	var lockedPath string
	l := &fakeLock{}
	st.newLock = func(path string, acl []zk.ACL) lock {
		lockedPath = path
		return l
	}

	unlock, err := st.Lock(ctx, "ledger-init")
	require.NoError(t, err)
	require.True(t, l.locked)
	require.Equal(t, "/chroot/_locks/ledger-init", lockedPath)

	unlock()
	require.True(t, l.unlocked)

	t.Run("lock failure", func(t *testing.T) {
		st.newLock = func(string, []zk.ACL) lock { return &fakeLock{lockErr: errors.New("session expired")} }

		_, err := st.Lock(ctx, "ledger-init")
		require.ErrorContains(t, err, "session expired")
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := st.Lock(cancelled, "ledger-init")
		require.ErrorIs(t, err, context.Canceled)
	})
}
