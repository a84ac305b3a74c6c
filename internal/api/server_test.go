package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/orgsync/internal/controlplane"
	"github.com/wolfeidau/orgsync/internal/engine"
	"github.com/wolfeidau/orgsync/internal/jobs"
	"github.com/wolfeidau/orgsync/internal/ledger"
	"github.com/wolfeidau/orgsync/internal/models"
	"github.com/wolfeidau/orgsync/internal/store/memory"
)

// gatedConnector blocks every call until release is closed, when set.
type gatedConnector struct {
	release chan struct{}
	err     error

	mu    sync.Mutex
	calls int
}

func (c *gatedConnector) Name() string { return "gated" }

func (c *gatedConnector) call() error {
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.err
}

func (c *gatedConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *gatedConnector) AddOrganization(ctx context.Context, orgID string) error { return c.call() }
func (c *gatedConnector) AddUserToOrg(ctx context.Context, userID, orgID string) error {
	return c.call()
}
func (c *gatedConnector) RemoveOrganization(ctx context.Context, orgID string) error { return c.call() }
func (c *gatedConnector) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	return c.call()
}
func (c *gatedConnector) Synchronize(ctx context.Context) error { return c.call() }

type testServer struct {
	*httptest.Server
	ledger *ledger.Ledger
}

func newTestServer(t *testing.T, conn *gatedConnector, grace time.Duration) *testServer {
	t.Helper()

	cp := controlplane.NewStaticClient(10)
	cp.AddOrganization(models.Organization{GUID: "org1", Name: "Org One"})
	cp.AddUser("org1", models.User{GUID: "user1", Name: "alice"})

	l := ledger.New(memory.NewNodeStore(), "/orgsync")
	require.NoError(t, l.Init(context.Background(), ledger.Version))

	eng := engine.New(cp, l, []engine.Connector{conn}, engine.Config{Timeout: 5 * time.Second})
	registry := jobs.NewRegistry(jobs.Config{GracePeriod: grace})

	srv := httptest.NewServer(NewServer(eng, l, registry).Handler(Options{Logger: zerolog.Nop()}))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, ledger: l}
}

func (s *testServer) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	return s.doBody(t, method, path, "")
}

func (s *testServer) doBody(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, &gatedConnector{}, time.Second)

	resp := s.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, HealthResponse{Status: "ok", Connectors: []string{"gated"}}, decode[HealthResponse](t, resp))
}

func TestServer_AddAndQuery(t *testing.T) {
	conn := &gatedConnector{}
	s := newTestServer(t, conn, time.Second)

	resp := s.do(t, http.MethodPut, "/organizations/org1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	org := decode[models.OrgState](t, resp)
	require.True(t, org.Synchronized)
	require.Equal(t, "Org One", org.Name)

	resp = s.do(t, http.MethodPut, "/organizations/org1/users/user1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.UserState{GUID: "user1", Name: "alice", Synchronized: true}, decode[models.UserState](t, resp))

	resp = s.do(t, http.MethodGet, "/organizations")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snapshot := decode[models.Snapshot](t, resp)
	require.Len(t, snapshot.Organizations, 1)
	require.True(t, snapshot.Organizations[0].Users[0].Synchronized)

	resp = s.do(t, http.MethodGet, "/organizations/org1/users/user1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/ledger")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, LedgerResponse{Root: "/orgsync", Version: ledger.Version, Organizations: []string{"org1"}},
		decode[LedgerResponse](t, resp))

	resp = s.do(t, http.MethodDelete, "/organizations/org1/users/user1")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/organizations/org1")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	orgs, err := s.ledger.Orgs(context.Background())
	require.NoError(t, err)
	require.Empty(t, orgs)
	require.Equal(t, 4, conn.Calls())
}

func TestServer_AddOrganizationWithName(t *testing.T) {
	conn := &gatedConnector{}
	s := newTestServer(t, conn, time.Second)

	resp := s.doBody(t, http.MethodPut, "/organizations/org-new", `{"name":"New Org"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.OrgState{GUID: "org-new", Name: "New Org", Synchronized: true, Users: []models.UserState{}},
		decode[models.OrgState](t, resp))

	resp = s.doBody(t, http.MethodPut, "/organizations/org-bad", `{"name":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decode[ErrorResponse](t, resp).Error, "invalid request body")
	require.Equal(t, 1, conn.Calls())
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		conn   *gatedConnector
		method string
		path   string
		status int
	}{
		{"unknown organization", &gatedConnector{}, http.MethodGet, "/organizations/missing", http.StatusNotFound},
		{"unknown user", &gatedConnector{}, http.MethodGet, "/organizations/org1/users/missing", http.StatusNotFound},
		{"unknown job", &gatedConnector{}, http.MethodGet, "/jobs/7d444840-9dc0-11d1-b245-5ffdce74fad2", http.StatusNotFound},
		{"user before org", &gatedConnector{}, http.MethodPut, "/organizations/org1/users/user1", http.StatusPreconditionFailed},
		{"user removal before org", &gatedConnector{}, http.MethodDelete, "/organizations/org1/users/user1", http.StatusPreconditionFailed},
		{"connector failure", &gatedConnector{err: errors.New("backend down")}, http.MethodPut, "/organizations/org1", http.StatusBadGateway},
		{"method not allowed", &gatedConnector{}, http.MethodPost, "/organizations/org1", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.conn, time.Second)

			resp := s.do(t, tt.method, tt.path)
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusMethodNotAllowed {
				require.NotEmpty(t, decode[ErrorResponse](t, resp).Error)
			}
		})
	}
}

func TestServer_AsyncRoundTrip(t *testing.T) {
	conn := &gatedConnector{release: make(chan struct{})}
	s := newTestServer(t, conn, 50*time.Millisecond)

	resp := s.do(t, http.MethodPut, "/synchronize")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	accepted := decode[JobResponse](t, resp)
	require.Equal(t, accepted.Location, resp.Header.Get("Location"))
	require.True(t, strings.HasPrefix(accepted.Location, "/jobs/"))

	resp = s.do(t, http.MethodGet, accepted.Location)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	close(conn.release)

	require.Eventually(t, func() bool {
		return s.do(t, http.MethodGet, accepted.Location).StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp = s.do(t, http.MethodGet, accepted.Location)
	snapshot := decode[models.Snapshot](t, resp)
	require.Len(t, snapshot.Organizations, 1)
	require.True(t, snapshot.Organizations[0].Synchronized)
}

func TestServer_GzipResponse(t *testing.T) {
	s := newTestServer(t, &gatedConnector{}, time.Second)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Values("Vary"), "Accept-Encoding")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("org x: %w", engine.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("poll: %w", jobs.ErrJobNotFound), http.StatusNotFound},
		{engine.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{&engine.ConnectorError{Connector: "a", Op: "add organization", Err: errors.New("boom")}, http.StatusBadGateway},
		{engine.ErrTimeout, http.StatusBadGateway},
		{fmt.Errorf("%w: mark org", ledger.ErrLedgerFailure), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %q", ledger.ErrInvalidID, ""), http.StatusBadRequest},
		{fmt.Errorf("%w: unexpected EOF", ErrInvalidBody), http.StatusBadRequest},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.status, StatusCode(tt.err))
		})
	}
}
