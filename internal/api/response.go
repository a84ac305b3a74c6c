package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/orgsync/internal/controlplane"
	"github.com/wolfeidau/orgsync/internal/engine"
	"github.com/wolfeidau/orgsync/internal/jobs"
	"github.com/wolfeidau/orgsync/internal/ledger"
)

// ErrInvalidBody is returned for a request body that is not valid JSON.
var ErrInvalidBody = errors.New("invalid request body")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusCode maps an error to the HTTP status reported for it.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ledger.ErrInvalidID), errors.Is(err, ErrInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrProvisioningFailed), errors.Is(err, controlplane.ErrUnexpectedStatus):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrLedgerFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes the outcome of a submitted or polled job.
func writeResult(w http.ResponseWriter, r *http.Request, value any, err error) {
	var notFinished *jobs.NotFinishedError
	switch {
	case errors.As(err, &notFinished):
		w.Header().Set("Location", notFinished.Location)
		writeJSON(w, http.StatusAccepted, JobResponse{
			JobID:       notFinished.JobID,
			SubmittedAt: notFinished.SubmittedAt,
			Location:    notFinished.Location,
		})
	case err != nil:
		writeError(w, r, err)
	case value == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, value)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)

	ev := zerolog.Ctx(r.Context()).Warn()
	if status == http.StatusInternalServerError {
		ev = zerolog.Ctx(r.Context()).Error()
	}
	ev.Err(err).Int("status", status).Msg("Request failed")

	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
