package warehouse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeDB records statements and behaves like a server holding a set of roles.
type fakeDB struct {
	statements []string
	roles      map[string]bool
	err        error
}

func newFakeDB() *fakeDB {
	return &fakeDB{roles: map[string]bool{}}
}

func (db *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, sql)
	if db.err != nil {
		return pgconn.CommandTag{}, db.err
	}

	switch {
	case strings.HasPrefix(sql, "CREATE ROLE "):
		role := strings.TrimSuffix(strings.TrimPrefix(sql, "CREATE ROLE "), " NOLOGIN")
		if db.roles[role] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: pgerrcode.DuplicateObject, Message: "role already exists"}
		}
		db.roles[role] = true
	case strings.HasPrefix(sql, "REVOKE "):
		fields := strings.Fields(sql)
		if !db.roles[fields[1]] || !db.roles[fields[3]] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: pgerrcode.UndefinedObject, Message: "role does not exist"}
		}
	case strings.HasPrefix(sql, "DROP ROLE IF EXISTS "):
		delete(db.roles, strings.TrimPrefix(sql, "DROP ROLE IF EXISTS "))
	}
	return pgconn.CommandTag{}, nil
}

func TestConnector_Roles(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	c := New("warehouse", db, Config{})

	require.NoError(t, c.AddOrganization(ctx, "org-1"))
	require.NoError(t, c.AddOrganization(ctx, "org-1"))
	require.NoError(t, c.AddUserToOrg(ctx, "user-1", "org-1"))
	require.NoError(t, c.AddUserToOrg(ctx, "user-1", "org-1"))

	require.True(t, db.roles[`"orgsync_org_org-1"`])
	require.True(t, db.roles[`"orgsync_user_user-1"`])
	require.Contains(t, db.statements, `GRANT "orgsync_org_org-1" TO "orgsync_user_user-1"`)

	require.NoError(t, c.RemoveUserFromOrg(ctx, "user-1", "org-1"))
	require.NoError(t, c.RemoveOrganization(ctx, "org-1"))
	require.NoError(t, c.RemoveOrganization(ctx, "org-1"))
	require.False(t, db.roles[`"orgsync_org_org-1"`])

	// Revoking from a dropped organization role is already done
	require.NoError(t, c.RemoveUserFromOrg(ctx, "user-1", "org-1"))
}

func TestConnector_QuotesIdentifiers(t *testing.T) {
	db := newFakeDB()
	c := New("warehouse", db, Config{RolePrefix: "gw_"})

	require.NoError(t, c.AddOrganization(context.Background(), `evil"; DROP TABLE x; --`))
	require.Equal(t, []string{`CREATE ROLE "gw_org_evil""; DROP TABLE x; --" NOLOGIN`}, db.statements)
}

func TestConnector_Errors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	db.err = errors.New("connection reset")
	c := New("warehouse", db, Config{})

	require.ErrorContains(t, c.AddOrganization(ctx, "org-1"), "connection reset")
	require.ErrorContains(t, c.AddUserToOrg(ctx, "user-1", "org-1"), "connection reset")
	require.ErrorContains(t, c.RemoveOrganization(ctx, "org-1"), "connection reset")
	require.ErrorContains(t, c.Synchronize(ctx), "warehouse unreachable")

	db.err = &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege, Message: "permission denied"}
	require.ErrorContains(t, c.RemoveUserFromOrg(ctx, "user-1", "org-1"), "permission denied")
}
