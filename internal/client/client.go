package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/api"
	"github.com/wolfeidau/orgsync/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotFinished is returned when a job is still running after the caller
// stopped waiting for it.
var ErrNotFinished = errors.New("job has not finished")

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration

	// PollTimeout bounds how long a mutation waits for its job to finish.
	// Zero returns ErrNotFinished on the first accepted response.
	PollTimeout time.Duration

	// PollMaxInterval caps the delay between two polls.
	PollMaxInterval time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL:       "http://localhost:8080",
		Timeout:         time.Minute,
		PollTimeout:     10 * time.Minute,
		PollMaxInterval: 10 * time.Second,
	}
}

// Client calls the provisioning API.
type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
}

// New creates a client for cfg.ServerURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.ServerURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.ServerURL)
	}

	return &Client{
		cfg:  cfg,
		base: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

func (c *Client) Ledger(ctx context.Context) (*api.LedgerResponse, error) {
	var out api.LedgerResponse
	return &out, c.do(ctx, http.MethodGet, "/ledger", nil, &out)
}

func (c *Client) State(ctx context.Context) (*models.Snapshot, error) {
	var out models.Snapshot
	return &out, c.do(ctx, http.MethodGet, "/organizations", nil, &out)
}

func (c *Client) OrgState(ctx context.Context, orgID string) (*models.OrgState, error) {
	var out models.OrgState
	return &out, c.do(ctx, http.MethodGet, orgPath(orgID), nil, &out)
}

func (c *Client) UserState(ctx context.Context, orgID, userID string) (*models.UserState, error) {
	var out models.UserState
	return &out, c.do(ctx, http.MethodGet, userPath(orgID, userID), nil, &out)
}

// AddOrganization provisions orgID. name is optional; the server falls back
// to the control-plane listing.
func (c *Client) AddOrganization(ctx context.Context, orgID, name string) (*models.OrgState, error) {
	var out models.OrgState
	return &out, c.do(ctx, http.MethodPut, orgPath(orgID), &api.AddOrganizationRequest{Name: name}, &out)
}

func (c *Client) RemoveOrganization(ctx context.Context, orgID string) error {
	return c.do(ctx, http.MethodDelete, orgPath(orgID), nil, nil)
}

func (c *Client) AddUserToOrg(ctx context.Context, userID, orgID string) (*models.UserState, error) {
	var out models.UserState
	return &out, c.do(ctx, http.MethodPut, userPath(orgID, userID), nil, &out)
}

func (c *Client) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	return c.do(ctx, http.MethodDelete, userPath(orgID, userID), nil, nil)
}

func (c *Client) Synchronize(ctx context.Context) (*models.Snapshot, error) {
	var out models.Snapshot
	return &out, c.do(ctx, http.MethodPut, "/synchronize", nil, &out)
}

// Job decodes the result of jobID into out. While the job runs the returned
// error wraps ErrNotFinished; with wait set the job is polled until it
// finishes or PollTimeout passes.
func (c *Client) Job(ctx context.Context, jobID string, wait bool, out any) error {
	location := "/jobs/" + url.PathEscape(jobID)
	if wait {
		return c.wait(ctx, location, out)
	}

	accepted, err := c.send(ctx, http.MethodGet, location, nil, out)
	if err != nil {
		return err
	}
	if accepted != nil {
		return fmt.Errorf("%w: job %s submitted at %s", ErrNotFinished, accepted.JobID, accepted.SubmittedAt.Format(time.RFC3339))
	}
	return nil
}

// do sends a request and follows an accepted response to its job.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	accepted, err := c.send(ctx, method, path, body, out)
	if err != nil {
		return err
	}
	if accepted == nil {
		return nil
	}

	log.Ctx(ctx).Debug().Str("job_id", accepted.JobID).Str("location", accepted.Location).Msg("Waiting for job")

	return c.wait(ctx, accepted.Location, out)
}

func (c *Client) wait(ctx context.Context, location string, out any) error {
	if c.cfg.PollTimeout <= 0 {
		return fmt.Errorf("%w: poll %s", ErrNotFinished, location)
	}

	bo := backoff.NewExponentialBackOff()
	if c.cfg.PollMaxInterval > 0 {
		bo.MaxInterval = c.cfg.PollMaxInterval
	}

	operation := func() (struct{}, error) {
		accepted, err := c.send(ctx, http.MethodGet, location, nil, out)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if accepted != nil {
			return struct{}{}, fmt.Errorf("%w: poll %s", ErrNotFinished, accepted.Location)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(c.cfg.PollTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Debug().Str("location", location).Dur("retry_in", next).Msg("Job still running")
		}),
	)
	return err
}

// send performs one request, encoding body as JSON when set. An accepted
// response is returned instead of being decoded into out.
func (c *Client) send(ctx context.Context, method, path string, body, out any) (*api.JobResponse, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		var accepted api.JobResponse
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			return nil, fmt.Errorf("failed to decode accepted response: %w", err)
		}
		if accepted.Location == "" {
			accepted.Location = resp.Header.Get("Location")
		}
		return &accepted, nil

	case resp.StatusCode >= http.StatusBadRequest:
		return nil, decodeError(resp)

	case resp.StatusCode == http.StatusNoContent || out == nil:
		return nil, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return nil, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func orgPath(orgID string) string {
	return "/organizations/" + url.PathEscape(orgID)
}

func userPath(orgID, userID string) string {
	return orgPath(orgID) + "/users/" + url.PathEscape(userID)
}
