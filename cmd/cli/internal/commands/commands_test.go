package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/orgsync/internal/api"
	"github.com/wolfeidau/orgsync/internal/client"
	"github.com/wolfeidau/orgsync/internal/controlplane"
	"github.com/wolfeidau/orgsync/internal/engine"
	"github.com/wolfeidau/orgsync/internal/jobs"
	"github.com/wolfeidau/orgsync/internal/ledger"
	"github.com/wolfeidau/orgsync/internal/models"
	"github.com/wolfeidau/orgsync/internal/store/memory"
)

func newServer(t *testing.T) ClientFlags {
	t.Helper()

	cp := controlplane.NewStaticClient(10)
	cp.AddOrganization(models.Organization{GUID: "org1", Name: "Org One"})
	cp.AddUser("org1", models.User{GUID: "user1", Name: "alice"})

	l := ledger.New(memory.NewNodeStore(), "/orgsync")
	require.NoError(t, l.Init(context.Background(), ledger.Version))

	eng := engine.New(cp, l, nil, engine.Config{Timeout: time.Second})
	srv := httptest.NewServer(api.NewServer(eng, l, jobs.NewRegistry(jobs.Config{})).Handler(api.Options{Logger: zerolog.Nop()}))
	t.Cleanup(srv.Close)

	return ClientFlags{Server: srv.URL, Timeout: 5 * time.Second, PollTimeout: 5 * time.Second}
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestCommands_Workflow(t *testing.T) {
	ctx := context.Background()
	globals := &Globals{}
	flags := newServer(t)
	out := captureStdout(t)

	require.NoError(t, (&AddOrgCmd{ClientFlags: flags, Org: "org1"}).Run(ctx, globals))
	require.Contains(t, out.String(), "Org One")

	out.Reset()
	require.NoError(t, (&AddUserCmd{ClientFlags: flags, Org: "org1", User: "user1"}).Run(ctx, globals))
	require.Contains(t, out.String(), "alice")
	require.Contains(t, out.String(), "yes")

	out.Reset()
	require.NoError(t, (&StateCmd{ClientFlags: flags}).Run(ctx, globals))
	require.Contains(t, out.String(), "Total: 1 organizations, 1 users")

	out.Reset()
	jsonFlags := flags
	jsonFlags.JSON = true
	require.NoError(t, (&StateCmd{ClientFlags: jsonFlags, Org: "org1", User: "user1"}).Run(ctx, globals))
	var user models.UserState
	require.NoError(t, json.Unmarshal(out.Bytes(), &user))
	require.True(t, user.Synchronized)

	out.Reset()
	require.NoError(t, (&LedgerCmd{ClientFlags: flags}).Run(ctx, globals))
	require.Contains(t, out.String(), "version "+ledger.Version)
	require.Contains(t, out.String(), "org1")

	out.Reset()
	require.NoError(t, (&RemoveUserCmd{ClientFlags: flags, Org: "org1", User: "user1"}).Run(ctx, globals))
	require.Equal(t, "User user1 removed from organization org1\n", out.String())

	out.Reset()
	require.NoError(t, (&RemoveOrgCmd{ClientFlags: flags, Org: "org1"}).Run(ctx, globals))
	require.Equal(t, "Organization org1 removed\n", out.String())

	out.Reset()
	require.NoError(t, (&SyncCmd{ClientFlags: flags}).Run(ctx, globals))
	require.Contains(t, out.String(), "Total: 1 organizations, 1 users")

	out.Reset()
	require.NoError(t, (&AddOrgCmd{ClientFlags: flags, Org: "org-new", Name: "New Org"}).Run(ctx, globals))
	require.Contains(t, out.String(), "org-new")
	require.Contains(t, out.String(), "New Org")
}

func TestCommands_Errors(t *testing.T) {
	ctx := context.Background()
	globals := &Globals{}
	flags := newServer(t)
	captureStdout(t)

	err := (&AddUserCmd{ClientFlags: flags, Org: "org1", User: "user1"}).Run(ctx, globals)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 412, apiErr.StatusCode)

	err = (&PollCmd{ClientFlags: flags, JobID: "unknown"}).Run(ctx, globals)
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.StatusCode)

	err = (&RemoveUserCmd{ClientFlags: flags, Org: "org1", User: "user1"}).Run(ctx, globals)
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 412, apiErr.StatusCode)

	err = (&StateCmd{ClientFlags: flags, User: "user1"}).Run(ctx, globals)
	require.ErrorContains(t, err, "--user requires --org")
}

func TestPrintSnapshot_Empty(t *testing.T) {
	out := captureStdout(t)
	printSnapshot(&models.Snapshot{})
	require.Equal(t, "No organizations found.\n", out.String())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "a-very-...", truncate("a-very-long-name", 10))
}
