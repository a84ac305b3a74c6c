// Package api serves the provisioning engine over HTTP with JSON bodies.
//
// Reads answer directly. Mutations and synchronization run through the job
// registry: a result available within the grace period is returned with 200,
// otherwise the response is 202 with a Location to poll.
package api

import (
	"context"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/orgsync/internal/jobs"
	"github.com/wolfeidau/orgsync/internal/logger"
	"github.com/wolfeidau/orgsync/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provisioner is the engine surface used by the API.
type Provisioner interface {
	Connectors() []string
	AddOrganization(ctx context.Context, orgID, name string) (*models.OrgState, error)
	AddUserToOrg(ctx context.Context, userID, orgID string) (*models.UserState, error)
	RemoveOrganization(ctx context.Context, orgID string) error
	RemoveUserFromOrg(ctx context.Context, userID, orgID string) error
	Synchronize(ctx context.Context) (*models.Snapshot, error)
	State(ctx context.Context) (*models.Snapshot, error)
	OrgState(ctx context.Context, orgID string) (*models.OrgState, error)
	UserState(ctx context.Context, orgID, userID string) (*models.UserState, error)
}

// Ledger is the ledger introspection surface used by the API.
type Ledger interface {
	Root() string
	Version(ctx context.Context) (string, error)
	Orgs(ctx context.Context) ([]string, error)
}

// Options configures the middleware around the API routes.
type Options struct {
	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string

	// Logger is the base request logger.
	Logger zerolog.Logger
}

// Server exposes the engine, the ledger and the job registry.
type Server struct {
	engine Provisioner
	ledger Ledger
	jobs   *jobs.Registry
}

// NewServer creates an API server.
func NewServer(engine Provisioner, ledger Ledger, registry *jobs.Registry) *Server {
	return &Server{
		engine: engine,
		ledger: ledger,
		jobs:   registry,
	}
}

// Routes registers the API routes on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ledger", s.ledgerInfo)

	mux.HandleFunc("GET /organizations", s.listOrganizations)
	mux.HandleFunc("GET /organizations/{org}", s.getOrganization)
	mux.HandleFunc("PUT /organizations/{org}", s.addOrganization)
	mux.HandleFunc("DELETE /organizations/{org}", s.removeOrganization)

	mux.HandleFunc("GET /organizations/{org}/users/{user}", s.getUser)
	mux.HandleFunc("PUT /organizations/{org}/users/{user}", s.addUser)
	mux.HandleFunc("DELETE /organizations/{org}/users/{user}", s.removeUser)

	mux.HandleFunc("PUT /synchronize", s.synchronize)
	mux.HandleFunc("GET /jobs/{id}", s.pollJob)

	return mux
}

// Handler returns the routes wrapped with tracing, compression, CORS and
// request logging.
func (s *Server) Handler(opts Options) http.Handler {
	var h http.Handler = otelhttp.NewHandler(s.Routes(), "orgsync-api")
	h = gzhttp.GzipHandler(h)
	h = withCORS(opts.CORSOrigins, h)
	return logger.RequestLogger(opts.Logger)(h)
}

// withCORS adds CORS support to the API handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Location"},
	})
	return middleware.Handler(h)
}
