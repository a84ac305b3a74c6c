package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/models"
	"github.com/wolfeidau/orgsync/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrUnexpectedStatus = errors.New("unexpected control-plane response status")

// HTTPConfig holds configuration for the control-plane HTTP client.
type HTTPConfig struct {
	// BaseURL is the control-plane API endpoint, for example https://api.example.com
	BaseURL string

	// TokenURL, ClientID and ClientSecret configure the OAuth2 client
	// credentials grant. Requests are unauthenticated when TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string

	// PerPage is the page size requested from the control-plane.
	// Default: 100
	PerPage int

	// MaxTries bounds attempts per page request.
	// Default: 3
	MaxTries uint

	// RequestTimeout bounds a single page request.
	// Default: 10 seconds
	RequestTimeout time.Duration

	// Cache keeps listings in memory and revalidates them with the
	// control-plane's ETag and Cache-Control headers.
	Cache bool
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *HTTPConfig) ApplyDefaults() {
	if c.PerPage <= 0 {
		c.PerPage = 100
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// HTTPClient reads the v2 organizations and users listings.
type HTTPClient struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// NewHTTPClient creates a control-plane client. ctx carries the HTTP client
// used for token requests.
func NewHTTPClient(ctx context.Context, cfg HTTPConfig) (*HTTPClient, error) {
	cfg.ApplyDefaults()

	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid control-plane url %q", cfg.BaseURL)
	}

	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)

	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		transport = &oauth2.Transport{Source: cc.TokenSource(ctx), Base: transport}
	}

	if cfg.Cache {
		cached := httpcache.NewMemoryCacheTransport()
		cached.Transport = transport
		transport = cached
	}

	return &HTTPClient{cfg: cfg, httpClient: &http.Client{Transport: transport}}, nil
}

type listResponse struct {
	TotalResults int        `json:"total_results"`
	NextURL      string     `json:"next_url"`
	Resources    []resource `json:"resources"`
}

type resource struct {
	Metadata struct {
		GUID string `json:"guid"`
	} `json:"metadata"`
	Entity struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"entity"`
}

func (c *HTTPClient) Organizations(ctx context.Context, page int) (Page[models.Organization], error) {
	resp, err := c.list(ctx, "organizations", "/v2/organizations", page)
	if err != nil {
		return Page[models.Organization]{}, err
	}

	p := Page[models.Organization]{Items: make([]models.Organization, 0, len(resp.Resources))}
	for _, r := range resp.Resources {
		p.Items = append(p.Items, models.Organization{GUID: r.Metadata.GUID, Name: r.Entity.Name})
	}
	if resp.NextURL != "" {
		p.Next = page + 1
	}
	return p, nil
}

func (c *HTTPClient) Users(ctx context.Context, orgID string, page int) (Page[models.User], error) {
	resp, err := c.list(ctx, "users", "/v2/organizations/"+url.PathEscape(orgID)+"/users", page)
	if err != nil {
		return Page[models.User]{}, err
	}

	p := Page[models.User]{Items: make([]models.User, 0, len(resp.Resources))}
	for _, r := range resp.Resources {
		p.Items = append(p.Items, models.User{GUID: r.Metadata.GUID, Name: r.Entity.Username})
	}
	if resp.NextURL != "" {
		p.Next = page + 1
	}
	return p, nil
}

func (c *HTTPClient) list(ctx context.Context, kind, path string, page int) (*listResponse, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("results-per-page", strconv.Itoa(c.cfg.PerPage))
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + path + "?" + query.Encode()

	operation := func() (*listResponse, error) {
		return c.get(ctx, endpoint)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().Err(err).Str("url", endpoint).Dur("retry_in", next).Msg("Control-plane request failed")
		}),
	)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().ControlPlanePagesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))

	return resp, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string) (*listResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: HTTP %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode listing: %w", err))
	}

	return &list, nil
}
