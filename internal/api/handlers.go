package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfeidau/orgsync/internal/jobs"
)

// AddOrganizationRequest is the optional body of PUT /organizations/{org}.
type AddOrganizationRequest struct {
	Name string `json:"name"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string   `json:"status"`
	Connectors []string `json:"connectors"`
}

// LedgerResponse is returned by GET /ledger.
type LedgerResponse struct {
	Root          string   `json:"root"`
	Version       string   `json:"version"`
	Organizations []string `json:"organizations"`
}

// JobResponse describes a job that has not finished yet.
type JobResponse struct {
	JobID       string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Location    string    `json:"location"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Connectors: s.engine.Connectors()})
}

func (s *Server) ledgerInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.ledger.Version(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orgs, err := s.ledger.Orgs(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []string{}
	}

	writeJSON(w, http.StatusOK, LedgerResponse{Root: s.ledger.Root(), Version: version, Organizations: orgs})
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.engine.OrgState(r.Context(), r.PathValue("org"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.UserState(r.Context(), r.PathValue("org"), r.PathValue("user"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) addOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("org")

	var req AddOrganizationRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	s.submit(w, r, func(ctx context.Context) (any, error) {
		return s.engine.AddOrganization(ctx, orgID, req.Name)
	})
}

func (s *Server) removeOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("org")
	s.submit(w, r, func(ctx context.Context) (any, error) {
		return nil, s.engine.RemoveOrganization(ctx, orgID)
	})
}

func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	orgID, userID := r.PathValue("org"), r.PathValue("user")
	s.submit(w, r, func(ctx context.Context) (any, error) {
		return s.engine.AddUserToOrg(ctx, userID, orgID)
	})
}

func (s *Server) removeUser(w http.ResponseWriter, r *http.Request) {
	orgID, userID := r.PathValue("org"), r.PathValue("user")
	s.submit(w, r, func(ctx context.Context) (any, error) {
		return nil, s.engine.RemoveUserFromOrg(ctx, userID, orgID)
	})
}

func (s *Server) synchronize(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, func(ctx context.Context) (any, error) {
		return s.engine.Synchronize(ctx)
	})
}

func (s *Server) pollJob(w http.ResponseWriter, r *http.Request) {
	value, err := s.jobs.Poll(r.PathValue("id"))
	writeResult(w, r, value, err)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, work jobs.Work) {
	value, err := s.jobs.Submit(r.Context(), work)
	writeResult(w, r, value, err)
}

// decodeOptionalBody decodes a JSON body into v. An empty body leaves v as is.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidBody, err)
}
