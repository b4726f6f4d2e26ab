package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/medchat/internal/agent"
	"github.com/loykin/medchat/internal/agentconfig"
	"github.com/loykin/medchat/internal/auth"
	"github.com/loykin/medchat/internal/chat"
	"github.com/loykin/medchat/internal/state"
)

type echoInvoker struct {
	mu   sync.Mutex
	reqs []agent.Request
	err  error
}

func (e *echoInvoker) Invoke(_ context.Context, req agent.Request) (agent.Response, error) {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	if e.err != nil {
		return agent.Response{}, e.err
	}
	return agent.Response{Text: "echo: " + req.Text}, nil
}

type uiFixture struct {
	h     http.Handler
	inv   *echoInvoker
	state *state.Manager
}

func newUI(t *testing.T, svc *auth.Service) uiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	inv := &echoInvoker{}
	st := state.NewManager(filepath.Join(dir, "ui_state"))
	r := NewUIRouter(UIOptions{
		Agents:   agentconfig.NewLoader(filepath.Join(dir, "missing.json"), nil),
		Invoker:  inv,
		Checker:  agent.NewStatusChecker(inv, agent.CheckerOptions{MaxTries: 1}),
		Auth:     svc,
		State:    st,
		Sessions: chat.NewRegistry(),
		BasePath: "/api",
	})
	return uiFixture{h: r.Handler(), inv: inv, state: st}
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestUIChatWithoutAuth(t *testing.T) {
	f := newUI(t, nil)

	rec := call(t, f.h, http.MethodGet, "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var agents struct {
		Selected string `json:"selected"`
		Agents   []struct {
			Name   string       `json:"name"`
			Status agent.Status `json:"status"`
		} `json:"agents"`
	}
	decode(t, rec, &agents)
	assert.Equal(t, "Normal RAG+OpenSearch", agents.Selected)
	require.Len(t, agents.Agents, 3)
	assert.Equal(t, agent.StatusUnknown, agents.Agents[0].Status)

	rec = call(t, f.h, http.MethodPost, "/api/chat", "", chatReq{Message: "What is ISO 13485?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reply struct {
		Reply     chat.Message `json:"reply"`
		SessionID string       `json:"session_id"`
	}
	decode(t, rec, &reply)
	assert.Equal(t, "echo: What is ISO 13485?", reply.Reply.Content)
	require.Len(t, f.inv.reqs, 1)
	assert.Equal(t, "ZUJPK3HE6I", f.inv.reqs[0].ID)
	assert.Equal(t, reply.SessionID, f.inv.reqs[0].SessionID)

	saved, err := f.state.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Messages, 2)

	rec = call(t, f.h, http.MethodPost, "/api/chat", "", chatReq{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, call(t, f.h, http.MethodPost, "/api/login", "", loginReq{"a", "b"}).Code)
	assert.Equal(t, http.StatusOK, call(t, f.h, http.MethodGet, "/healthz", "", nil).Code)
}

func TestUISelectAgentNewSession(t *testing.T) {
	f := newUI(t, nil)
	var before chat.Snapshot
	decode(t, call(t, f.h, http.MethodGet, "/api/session", "", nil), &before)

	rec := call(t, f.h, http.MethodPost, "/api/agent", "", selectReq{Name: "GraphRAG+Neptune"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var after chat.Snapshot
	decode(t, rec, &after)
	assert.Equal(t, "GraphRAG+Neptune", after.Agent)
	assert.NotEqual(t, before.SessionID, after.SessionID)
	require.NotNil(t, after.Status)
	assert.Equal(t, agent.StatusAvailable, after.Status.Status)

	saved, ok := f.state.LoadAgentStatus("WN79XAAFL6")
	require.True(t, ok)
	assert.Equal(t, "available", saved.Status)

	app, err := f.state.LoadApp()
	require.NoError(t, err)
	assert.Equal(t, "GraphRAG+Neptune", app.SelectedAgent)

	assert.Equal(t, http.StatusNotFound, call(t, f.h, http.MethodPost, "/api/agent", "", selectReq{Name: "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, f.h, http.MethodPost, "/api/agent", "", selectReq{}).Code)
}

func TestUICustomAgentWithoutID(t *testing.T) {
	f := newUI(t, nil)
	rec := call(t, f.h, http.MethodPost, "/api/agent", "", selectReq{Name: chat.CustomAgent})
	require.Equal(t, http.StatusOK, rec.Code)
	var snap chat.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, agent.StatusNoAgentID, snap.Status.Status)

	rec = call(t, f.h, http.MethodPost, "/api/chat", "", chatReq{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e ErrorResponse
	decode(t, rec, &e)
	assert.Equal(t, "no_agent_id", e.Error)
}

func TestUIChatErrorsAreCategorized(t *testing.T) {
	f := newUI(t, nil)
	f.inv.err = agent.ErrAccessDenied
	rec := call(t, f.h, http.MethodPost, "/api/chat", "", chatReq{Message: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var snap chat.Snapshot
	decode(t, call(t, f.h, http.MethodGet, "/api/session", "", nil), &snap)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, chat.RoleUser, snap.Messages[0].Role)

	rec = call(t, f.h, http.MethodPost, "/api/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &snap)
	assert.Empty(t, snap.Messages)
}

func TestUISessionsAreKeyed(t *testing.T) {
	f := newUI(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/agent", bytes.NewBufferString(`{"name":"GraphRAG+Neptune"}`))
	req.Header.Set(SessionHeader, "tab-1")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var def chat.Snapshot
	decode(t, call(t, f.h, http.MethodGet, "/api/session", "", nil), &def)
	assert.Equal(t, "default", def.Key)
	// the default session was created after tab-1 saved its choice
	assert.Equal(t, "GraphRAG+Neptune", def.Agent)
	assert.Empty(t, def.Messages)
}

func TestUIAuthFlow(t *testing.T) {
	users := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, auth.NewStore(users).WithCost(bcrypt.MinCost).Add("admin", "bedrock2024", auth.RoleAdmin, "Administrator"))
	svc, err := auth.NewService(auth.Config{UsersFile: users, JWTSecret: "s"})
	require.NoError(t, err)
	f := newUI(t, svc)

	assert.Equal(t, http.StatusUnauthorized, call(t, f.h, http.MethodPost, "/api/chat", "", chatReq{Message: "hi"}).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, f.h, http.MethodPost, "/api/login", "", loginReq{"admin", "nope"}).Code)

	rec := call(t, f.h, http.MethodPost, "/api/login", "", loginReq{"admin", "bedrock2024"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res auth.AuthResult
	decode(t, rec, &res)
	tok := res.Token.Value

	rec = call(t, f.h, http.MethodPost, "/api/chat", tok, chatReq{Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	var snap chat.Snapshot
	decode(t, call(t, f.h, http.MethodGet, "/api/session", tok, nil), &snap)
	assert.Equal(t, "admin", snap.Key)

	assert.Equal(t, http.StatusOK, call(t, f.h, http.MethodPost, "/api/logout", tok, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, f.h, http.MethodPost, "/api/chat", tok, chatReq{Message: "hi"}).Code)
}

func TestUILoginLockout(t *testing.T) {
	users := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, auth.NewStore(users).WithCost(bcrypt.MinCost).Add("amy", "pw", auth.RoleUser, ""))
	svc, err := auth.NewService(auth.Config{UsersFile: users, MaxAttempts: 2})
	require.NoError(t, err)
	f := newUI(t, svc)

	assert.Equal(t, http.StatusUnauthorized, call(t, f.h, http.MethodPost, "/api/login", "", loginReq{"amy", "x"}).Code)
	assert.Equal(t, http.StatusLocked, call(t, f.h, http.MethodPost, "/api/login", "", loginReq{"amy", "x"}).Code)
	assert.Equal(t, http.StatusLocked, call(t, f.h, http.MethodPost, "/api/login", "", loginReq{"amy", "pw"}).Code)
}
