// ABOUTME: Tests for the gateway HTTP API.
// ABOUTME: Covers dispatch, discovery, backend status, delegation, and audit endpoints.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinthq/glint-gateway/internal/auth"
	"github.com/glinthq/glint-gateway/internal/breaker"
	"github.com/glinthq/glint-gateway/internal/dedupe"
	"github.com/glinthq/glint-gateway/internal/delegation"
	"github.com/glinthq/glint-gateway/internal/dispatch"
	"github.com/glinthq/glint-gateway/internal/health"
	"github.com/glinthq/glint-gateway/internal/passport"
	"github.com/glinthq/glint-gateway/internal/registry"
	"github.com/glinthq/glint-gateway/internal/search"
	"github.com/glinthq/glint-gateway/internal/store"
)

// testCaller fails for backends listed in failing.
type testCaller struct {
	failing map[string]bool
}

func (c *testCaller) Call(_ context.Context, backendID, _ string, _ json.RawMessage) (json.RawMessage, error) {
	if c.failing[backendID] {
		return nil, errors.New("upstream failure")
	}
	return json.RawMessage(`{"ok":true}`), nil
}

// testGateway is a fully wired gateway over in-memory collaborators.
type testGateway struct {
	server *httptest.Server
	store  *store.MockStore
	br     *breaker.Breaker
	tr     *health.Tracker
	caller *testCaller
	svc    *passport.Service
}

func newTestGateway(t *testing.T) *testGateway {
	return newTestGatewayWith(t, nil)
}

// newTestGatewayWith wires the gateway with an optional verifier guarding
// the mutating endpoints.
func newTestGatewayWith(t *testing.T, verifier auth.TokenVerifier) *testGateway {
	t.Helper()

	mock := store.NewMockStore()
	br := breaker.New(nil)
	tr := health.NewTracker(0)
	idx := search.New()
	caller := &testCaller{failing: make(map[string]bool)}

	reg := registry.New(registry.Config{Indexer: idx})
	require.NoError(t, reg.RegisterBackend("github", "GitHub", []registry.ToolDefinition{
		{Name: "search_code", Description: "Search code across GitHub repositories"},
		{Name: "create_issue", Description: "Create a GitHub issue"},
	}))
	require.NoError(t, reg.RegisterBackend("resend", "Resend", []registry.ToolDefinition{
		{Name: "send_email", Description: "Send an email via Resend"},
	}))

	router := dispatch.New(dispatch.Config{Registry: reg, Breaker: br, Caller: caller})
	svc := passport.NewService(mock, auth.NewJWTVerifier([]byte("test-secret")), nil)

	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	g := New(Config{
		HTTPAddr:  "127.0.0.1:0",
		Store:     mock,
		Registry:  reg,
		Breaker:   br,
		Tracker:   tr,
		Router:    router,
		Passports: svc,
		Index:     idx,
		Dedupe:    cache,
		Verifier:  verifier,
	})

	server := httptest.NewServer(g.httpServer.Handler)
	t.Cleanup(server.Close)

	return &testGateway{server: server, store: mock, br: br, tr: tr, caller: caller, svc: svc}
}

// doJSON issues a request and decodes the JSON response into out.
func (tg *testGateway) doJSON(t *testing.T, method, path, body string, out any) *http.Response {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, tg.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// doAuthed issues a request carrying a bearer token.
func (tg *testGateway) doAuthed(t *testing.T, token, method, path, body string, out any) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, tg.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAPI_Health(t *testing.T) {
	tg := newTestGateway(t)

	var body map[string]string
	resp := tg.doJSON(t, http.MethodGet, "/health", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_Call_Success(t *testing.T) {
	tg := newTestGateway(t)

	var body CallResponse
	resp := tg.doJSON(t, http.MethodPost, "/api/call",
		`{"tool_name":"search_code","input":{"query":"breaker"}}`, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body.RequestID)
	assert.JSONEq(t, `{"ok":true}`, string(body.Output))
}

func TestAPI_Call_DuplicateRequestID(t *testing.T) {
	tg := newTestGateway(t)

	body := `{"tool_name":"search_code","request_id":"req-1"}`
	resp := tg.doJSON(t, http.MethodPost, "/api/call", body, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = tg.doJSON(t, http.MethodPost, "/api/call", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A fresh request ID goes through.
	resp = tg.doJSON(t, http.MethodPost, "/api/call", `{"tool_name":"search_code","request_id":"req-2"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_Call_UnknownTool(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.doJSON(t, http.MethodPost, "/api/call", `{"tool_name":"nope"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Call_MissingToolName(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.doJSON(t, http.MethodPost, "/api/call", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Call_OpenCircuitReturns503(t *testing.T) {
	tg := newTestGateway(t)
	tg.caller.failing["github"] = true
	tg.br.Configure("github", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})

	resp := tg.doJSON(t, http.MethodPost, "/api/call", `{"tool_name":"search_code"}`, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// Circuit is now open: rejected before reaching the backend.
	resp = tg.doJSON(t, http.MethodPost, "/api/call", `{"tool_name":"search_code"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Other backends are unaffected.
	resp = tg.doJSON(t, http.MethodPost, "/api/call", `{"tool_name":"send_email"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ToolSearch(t *testing.T) {
	tg := newTestGateway(t)

	var body struct {
		Results []search.Result `json:"results"`
	}
	resp := tg.doJSON(t, http.MethodGet, "/api/tools/search?q=send+email", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body.Results)
	assert.Equal(t, "send_email", body.Results[0].Tool.ToolName)

	// Unrelated queries return an empty list, not an error.
	resp = tg.doJSON(t, http.MethodGet, "/api/tools/search?q=zebra+quantum", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body.Results)
}

func TestAPI_ToolSearch_InvalidTopK(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.doJSON(t, http.MethodGet, "/api/tools/search?q=email&top_k=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListBackends(t *testing.T) {
	tg := newTestGateway(t)
	tg.tr.MarkUnhealthy("github", "probe timeout")

	var body struct {
		Backends []BackendStatusResponse `json:"backends"`
	}
	resp := tg.doJSON(t, http.MethodGet, "/api/backends", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Backends, 2)

	assert.Equal(t, "github", body.Backends[0].ID)
	assert.False(t, body.Backends[0].Healthy)
	assert.Equal(t, "probe timeout", body.Backends[0].LastError)
	assert.Equal(t, 2, body.Backends[0].ToolCount)

	assert.Equal(t, "resend", body.Backends[1].ID)
	assert.True(t, body.Backends[1].Healthy)
	assert.Equal(t, "closed", body.Backends[1].CircuitState)
}

func TestAPI_BackendStatusAndReset(t *testing.T) {
	tg := newTestGateway(t)
	tg.br.Configure("github", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	tg.br.RecordFailure("github")

	var st BackendStatusResponse
	resp := tg.doJSON(t, http.MethodGet, "/api/backends/github/status", "", &st)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "open", st.CircuitState)
	assert.Equal(t, 1, st.ConsecutiveFailures)

	resp = tg.doJSON(t, http.MethodPost, "/api/backends/github/reset", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = tg.doJSON(t, http.MethodGet, "/api/backends/github/status", "", &st)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", st.CircuitState)

	// The reset was audited.
	action := store.AuditBreakerReset
	entries, err := tg.store.ListAudit(context.Background(), store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "github", entries[0].TargetID)
}

func TestAPI_Delegate(t *testing.T) {
	tg := newTestGateway(t)

	root, err := tg.svc.CreateRoot(context.Background(), "owner", []string{"github:*"}, delegation.Budget{})
	require.NoError(t, err)

	var body DelegateResponse
	resp := tg.doJSON(t, http.MethodPost, "/api/passports/"+root.Passport.ID+"/delegate",
		`{"name":"code-searcher","scopes":["github:search_code"]}`, &body)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, root.Passport.ID, body.ParentID)
	assert.Equal(t, 1, body.Depth)
	assert.NotEmpty(t, body.Token)

	// The created passport is retrievable; the token never leaves creation.
	var fetched DelegateResponse
	resp = tg.doJSON(t, http.MethodGet, "/api/passports/"+body.PassportID, "", &fetched)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "code-searcher", fetched.Name)
	assert.Empty(t, fetched.Token)
}

func TestAPI_Delegate_Denied(t *testing.T) {
	tg := newTestGateway(t)

	root, err := tg.svc.CreateRoot(context.Background(), "owner", []string{"github:*"}, delegation.Budget{})
	require.NoError(t, err)

	var body map[string]string
	resp := tg.doJSON(t, http.MethodPost, "/api/passports/"+root.Passport.ID+"/delegate",
		`{"name":"overreacher","scopes":["slack:post"]}`, &body)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body["error"], delegation.ReasonScopeExceeded)
}

func TestAPI_Delegate_UnknownParent(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.doJSON(t, http.MethodPost, "/api/passports/ghost/delegate",
		`{"name":"orphan","scopes":[]}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListAudit(t *testing.T) {
	tg := newTestGateway(t)

	root, err := tg.svc.CreateRoot(context.Background(), "owner", []string{"*"}, delegation.Budget{})
	require.NoError(t, err)
	_, err = tg.svc.Delegate(context.Background(), passport.DelegateRequest{
		ParentID: root.Passport.ID,
		Name:     "child",
		Scopes:   []string{"github:search_code"},
	})
	require.NoError(t, err)

	var body struct {
		Entries []AuditEntryResponse `json:"entries"`
	}
	resp := tg.doJSON(t, http.MethodGet, "/api/audit?limit=10", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Entries, 2)

	actions := []string{body.Entries[0].Action, body.Entries[1].Action}
	assert.Contains(t, actions, string(store.AuditCreatePassport))
	assert.Contains(t, actions, string(store.AuditDelegationGrant))
}

func TestAPI_AuthRequiredForMutations(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	tg := newTestGatewayWith(t, verifier)

	root, err := tg.svc.CreateRoot(context.Background(), "owner", []string{"*"}, delegation.Budget{})
	require.NoError(t, err)

	// Anonymous callers cannot dispatch, delegate, or reset breakers.
	resp := tg.doJSON(t, http.MethodPost, "/api/call", `{"tool_name":"search_code"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = tg.doJSON(t, http.MethodPost, "/api/passports/"+root.Passport.ID+"/delegate",
		`{"name":"sneaky","scopes":["*"]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = tg.doJSON(t, http.MethodPost, "/api/backends/github/reset", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Nothing was minted and no audit trail of a grant exists.
	children, err := tg.store.ListChildren(context.Background(), root.Passport.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	// Read-only endpoints stay open.
	resp = tg.doJSON(t, http.MethodGet, "/api/backends", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = tg.doJSON(t, http.MethodGet, "/api/tools/search?q=email", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = tg.doJSON(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_AuthAcceptsValidToken(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	tg := newTestGatewayWith(t, verifier)

	root, err := tg.svc.CreateRoot(context.Background(), "owner", []string{"*"}, delegation.Budget{})
	require.NoError(t, err)
	require.NotEmpty(t, root.Token)

	resp := tg.doAuthed(t, root.Token, http.MethodPost, "/api/call", `{"tool_name":"search_code"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body DelegateResponse
	resp = tg.doAuthed(t, root.Token, http.MethodPost, "/api/passports/"+root.Passport.ID+"/delegate",
		`{"name":"code-searcher","scopes":["github:search_code"]}`, &body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, body.Depth)

	// A garbage token is still rejected.
	resp = tg.doAuthed(t, "not-a-jwt", http.MethodPost, "/api/call", `{"tool_name":"search_code"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ResetAuditsAuthenticatedActor(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	tg := newTestGatewayWith(t, verifier)

	root, err := tg.svc.CreateRoot(context.Background(), "owner", []string{"*"}, delegation.Budget{})
	require.NoError(t, err)

	resp := tg.doAuthed(t, root.Token, http.MethodPost, "/api/backends/github/reset", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	action := store.AuditBreakerReset
	entries, err := tg.store.ListAudit(context.Background(), store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, root.Passport.ID, entries[0].ActorID)
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.doJSON(t, http.MethodGet, "/api/call", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = tg.doJSON(t, http.MethodPost, "/api/tools/search", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
