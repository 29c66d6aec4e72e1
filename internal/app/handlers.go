package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"civicmatch/internal/match"
	"civicmatch/internal/matching"
)

const maxBodyBytes = 64 << 10

var errFeedbackFailed = errors.New("failed to record feedback, please try again")

type concernsRequest struct {
	Concerns     []string `json:"concerns"`
	LocationHint string   `json:"location_hint,omitempty"`
}

func (a *App) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req match.Request
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.Service.MatchPolicies(r.Context(), req)
	if err != nil {
		writeError(w, err, matching.ErrMatchFailed)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleRefine(w http.ResponseWriter, r *http.Request) {
	var ref match.Refinement
	if !decode(w, r, &ref) {
		return
	}
	resp, err := a.Service.RefinePolicies(r.Context(), ref)
	if err != nil {
		writeError(w, err, matching.ErrRefineFailed)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleConcerns(w http.ResponseWriter, r *http.Request) {
	var req concernsRequest
	if !decode(w, r, &req) {
		return
	}
	if n := len(req.Concerns); n == 0 || n > a.Config.Matching.MaxConcerns {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("between 1 and %d concerns are required", a.Config.Matching.MaxConcerns),
		})
		return
	}
	batch, err := a.Service.MatchConcerns(r.Context(), req.Concerns, req.LocationHint)
	if err != nil {
		writeError(w, err, matching.ErrMatchFailed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Responses   []match.Response `json:"responses"`
		Confidences []*int           `json:"confidences"`
	}{batch.Responses, batch.Confidences()})
}

func (a *App) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb matching.Feedback
	if !decode(w, r, &fb) {
		return
	}
	if err := a.Service.RecordFeedback(r.Context(), fb); err != nil {
		if !errors.Is(err, matching.ErrInvalidInput) {
			a.Logger.Warn("record feedback failed", zap.Error(err))
		}
		writeError(w, err, errFeedbackFailed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

// writeError maps service errors onto a status code. Anything other than
// invalid input is reported with the generic message only.
func writeError(w http.ResponseWriter, err error, generic error) {
	if errors.Is(err, matching.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: matching.ErrInvalidInput.Error()})
		return
	}
	writeJSON(w, http.StatusBadGateway, errorBody{Error: generic.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
