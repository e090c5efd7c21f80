// ABOUTME: HTTP API handlers for the gateway decision layer.
// ABOUTME: Exposes dispatch, discovery, backend status, and passport delegation.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glinthq/glint-gateway/internal/auth"
	"github.com/glinthq/glint-gateway/internal/delegation"
	"github.com/glinthq/glint-gateway/internal/dispatch"
	"github.com/glinthq/glint-gateway/internal/passport"
	"github.com/glinthq/glint-gateway/internal/store"
)

// CallRequest is the JSON request body for POST /api/call.
type CallRequest struct {
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// CallResponse is the JSON response for POST /api/call.
type CallResponse struct {
	RequestID string          `json:"request_id"`
	Output    json.RawMessage `json:"output"`
}

// BackendStatusResponse is the JSON response for backend status queries.
type BackendStatusResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name,omitempty"`
	ToolCount           int    `json:"tool_count"`
	Healthy             bool   `json:"healthy"`
	LastCheckedAt       string `json:"last_checked_at,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	CircuitState        string `json:"circuit_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// DelegateRequest is the JSON request body for POST /api/passports/{id}/delegate.
type DelegateRequest struct {
	Name   string            `json:"name"`
	Scopes []string          `json:"scopes"`
	Budget delegation.Budget `json:"budget"`
}

// DelegateResponse is the JSON response for a granted delegation.
type DelegateResponse struct {
	PassportID string   `json:"passport_id"`
	Name       string   `json:"name"`
	ParentID   string   `json:"parent_id"`
	RootID     string   `json:"root_id"`
	Depth      int      `json:"depth"`
	Scopes     []string `json:"scopes"`
	Token      string   `json:"token,omitempty"`
}

// AuditEntryResponse is one audit log entry in GET /api/audit.
type AuditEntryResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	TargetID  string `json:"target_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// handleHealth reports gateway liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCall dispatches a tool call through the circuit breaker.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseCallRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	} else if g.cfg.Dedupe != nil && g.cfg.Dedupe.CheckAndMark(req.RequestID) {
		g.sendJSONError(w, http.StatusConflict, "duplicate request")
		return
	}

	output, err := g.cfg.Router.RouteToolCall(r.Context(), req.ToolName, req.Input, req.RequestID)
	switch {
	case errors.Is(err, dispatch.ErrToolNotFound):
		g.sendJSONError(w, http.StatusNotFound, "tool not found")
	case errors.Is(err, dispatch.ErrBackendUnavailable):
		g.sendJSONError(w, http.StatusServiceUnavailable, "backend unavailable")
	case err != nil:
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
	default:
		g.writeJSON(w, http.StatusOK, CallResponse{RequestID: req.RequestID, Output: output})
	}
}

// handleToolSearch ranks the catalogue against a free-text query.
func (g *Gateway) handleToolSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	topK := g.cfg.TopK
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = parsed
	}

	results := g.cfg.Index.Search(query, topK)
	g.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleListBackends lists every registered backend with its status.
func (g *Gateway) handleListBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	backends := g.cfg.Registry.ListBackends()
	out := make([]BackendStatusResponse, 0, len(backends))
	for _, b := range backends {
		out = append(out, g.backendStatus(b.ID, b.Name, len(b.Tools)))
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"backends": out})
}

// handleBackendRoutes dispatches /api/backends/{id}/status and
// /api/backends/{id}/reset.
func (g *Gateway) handleBackendRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/backends/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	backendID, action := parts[0], parts[1]

	switch action {
	case "status":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleBackendStatus(w, backendID)
	case "reset":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.protected(func(w http.ResponseWriter, r *http.Request) {
			g.handleBackendReset(w, r, backendID)
		})(w, r)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleBackendStatus reports one backend's health and circuit state.
// Unregistered backends still get a status: untracked means closed/healthy.
func (g *Gateway) handleBackendStatus(w http.ResponseWriter, backendID string) {
	name := ""
	toolCount := 0
	if b := g.cfg.Registry.GetBackend(backendID); b != nil {
		name = b.Name
		toolCount = len(b.Tools)
	}
	g.writeJSON(w, http.StatusOK, g.backendStatus(backendID, name, toolCount))
}

// handleBackendReset clears the backend's circuit and audits the action.
// The audited actor is the authenticated passport, or "operator" when the
// API runs without a verifier.
func (g *Gateway) handleBackendReset(w http.ResponseWriter, r *http.Request, backendID string) {
	g.cfg.Breaker.Reset(backendID)

	actor := "operator"
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		actor = claims.PassportID
	}

	entry := &store.AuditEntry{
		ID:        uuid.NewString(),
		ActorID:   actor,
		Action:    store.AuditBreakerReset,
		TargetID:  backendID,
		Timestamp: time.Now().UTC(),
	}
	if err := g.cfg.Store.AppendAudit(r.Context(), entry); err != nil {
		g.logger.Error("audit write failed", "action", "breaker_reset", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePassportRoutes dispatches /api/passports/{id} and
// /api/passports/{id}/delegate.
func (g *Gateway) handlePassportRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/passports/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleGetPassport(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "delegate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		parentID := parts[0]
		g.protected(func(w http.ResponseWriter, r *http.Request) {
			g.handleDelegate(w, r, parentID)
		})(w, r)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleGetPassport returns one passport's public attributes.
func (g *Gateway) handleGetPassport(w http.ResponseWriter, r *http.Request, id string) {
	p, err := g.cfg.Passports.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "passport not found")
			return
		}
		g.sendJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	g.writeJSON(w, http.StatusOK, DelegateResponse{
		PassportID: p.ID,
		Name:       p.Name,
		ParentID:   p.ParentID,
		RootID:     p.RootID,
		Depth:      p.Depth,
		Scopes:     p.Scopes,
	})
}

// handleDelegate creates a child passport under the given parent.
func (g *Gateway) handleDelegate(w http.ResponseWriter, r *http.Request, parentID string) {
	var req DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	res, err := g.cfg.Passports.Delegate(r.Context(), passport.DelegateRequest{
		ParentID: parentID,
		Name:     req.Name,
		Scopes:   req.Scopes,
		Budget:   req.Budget,
	})
	switch {
	case errors.Is(err, passport.ErrParentNotFound):
		g.sendJSONError(w, http.StatusNotFound, "parent passport not found")
	case errors.Is(err, passport.ErrDelegationDenied):
		// The validator's reason is the payload; delegation denial is a
		// policy outcome, not a server error.
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case err != nil:
		g.sendJSONError(w, http.StatusInternalServerError, "delegation failed")
	default:
		p := res.Passport
		g.writeJSON(w, http.StatusCreated, DelegateResponse{
			PassportID: p.ID,
			Name:       p.Name,
			ParentID:   p.ParentID,
			RootID:     p.RootID,
			Depth:      p.Depth,
			Scopes:     p.Scopes,
			Token:      res.Token,
		})
	}
}

// handleListAudit returns recent audit entries, newest first.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter := store.AuditFilter{Limit: 100}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	entries, err := g.cfg.Store.ListAudit(r.Context(), filter)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "audit query failed")
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			TargetID:  e.TargetID,
			Reason:    e.Reason,
			Timestamp: e.Timestamp.Format(time.RFC3339),
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// backendStatus assembles the combined health and circuit view.
func (g *Gateway) backendStatus(id, name string, toolCount int) BackendStatusResponse {
	st := g.cfg.Breaker.Status(id)
	resp := BackendStatusResponse{
		ID:                  id,
		Name:                name,
		ToolCount:           toolCount,
		Healthy:             g.cfg.Tracker.IsHealthy(id),
		CircuitState:        string(st.State),
		ConsecutiveFailures: st.ConsecutiveFailures,
	}
	if rec, ok := g.cfg.Tracker.Get(id); ok {
		resp.LastCheckedAt = rec.LastCheckedAt.Format(time.RFC3339)
		resp.LastError = rec.LastError
	}
	return resp
}

// parseCallRequest parses and validates a CallRequest from the given reader.
func parseCallRequest(r io.Reader) (*CallRequest, error) {
	var req CallRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.ToolName == "" {
		return nil, errors.New("tool_name is required")
	}
	return &req, nil
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
