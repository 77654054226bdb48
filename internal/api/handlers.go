package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	errs "igautomate/pkg/errors"
	"igautomate/pkg/ratelimit"
)

// CallRequest names the account and, optionally, the end user of a call
type CallRequest struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id,omitempty"`
}

// LimitsResponse is the current platform budget of an account
type LimitsResponse struct {
	TenantID      string `json:"tenant_id"`
	AccountID     string `json:"account_id"`
	EngagedUsers  int    `json:"engaged_users"`
	PlatformLimit int    `json:"platform_limit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	api, err := ratelimit.ParseAPIType(chi.URLParam(r, "api"))
	if err != nil {
		respondErr(w, err)
		return
	}

	req, err := decodeCall(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}
	if api.RequiresUser() && req.UserID == "" {
		respondErr(w, errs.Validation("admission", "user_id is required for %s", api))
		return
	}

	respondJSON(w, http.StatusOK, s.tracker.Allow(api, req.TenantID, req.AccountID, req.UserID))
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCall(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.tracker.RecordEngagement(req.TenantID, req.AccountID, req.UserID); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	tenant, account := chi.URLParam(r, "tenant"), chi.URLParam(r, "account")
	respondJSON(w, http.StatusOK, LimitsResponse{
		TenantID:      tenant,
		AccountID:     account,
		EngagedUsers:  s.tracker.EngagedUserCount(tenant, account),
		PlatformLimit: s.tracker.GetPlatformRateLimit(tenant, account),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.Stats())
}

// decodeCall parses the body and checks the account ids
func decodeCall(w http.ResponseWriter, r *http.Request) (CallRequest, error) {
	var req CallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, errs.New(errs.ErrorTypeValidation, "decode request", err)
	}
	if req.TenantID == "" || req.AccountID == "" {
		return req, errs.Validation("decode request", "tenant_id and account_id are required")
	}
	return req, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.TypeOf(err) {
	case errs.ErrorTypeValidation:
		status = http.StatusBadRequest
	case errs.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errs.ErrorTypeStore, errs.ErrorTypeTimeout:
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	var typed *errs.Error
	if errors.As(err, &typed) && typed.Err != nil {
		msg = typed.Err.Error()
	}
	respondJSON(w, status, map[string]string{"error": msg})
}
