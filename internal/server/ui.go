package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/medchat/internal/agent"
	"github.com/loykin/medchat/internal/agentconfig"
	"github.com/loykin/medchat/internal/auth"
	"github.com/loykin/medchat/internal/chat"
	"github.com/loykin/medchat/internal/logger"
	"github.com/loykin/medchat/internal/state"
)

// SessionHeader selects the chat session. Without it the logged-in user
// name (or "default" when auth is off) is used.
const SessionHeader = "X-Session-Key"

// UIOptions wires the chat server. Auth and State may be nil.
type UIOptions struct {
	Agents   *agentconfig.Loader
	Invoker  agent.Invoker
	Checker  *agent.StatusChecker
	Auth     *auth.Service
	State    *state.Manager
	Sessions *chat.Registry
	BasePath string
	Logger   *slog.Logger
}

// UIRouter serves the chat API:
//
//	POST {basePath}/login    {"username","password"}
//	POST {basePath}/logout
//	GET  {basePath}/agents   query: check=true probes every agent
//	POST {basePath}/agent    {"name","custom_id"}
//	POST {basePath}/chat     {"message"}
//	POST {basePath}/reset
//	GET  {basePath}/session
//	GET  /healthz
type UIRouter struct {
	o   UIOptions
	mw  *auth.Middleware
	log *slog.Logger
}

func NewUIRouter(o UIOptions) *UIRouter {
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	if o.Sessions == nil {
		o.Sessions = chat.NewRegistry()
	}
	if o.Checker == nil && o.Invoker != nil {
		o.Checker = agent.NewStatusChecker(o.Invoker, agent.CheckerOptions{Logger: o.Logger})
	}
	o.BasePath = sanitizeBase(o.BasePath)
	return &UIRouter{o: o, mw: auth.NewMiddleware(o.Auth), log: o.Logger.With("component", "chat-api")}
}

func (r *UIRouter) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealth)

	group := g.Group(r.o.BasePath)
	group.POST("/login", r.handleLogin)
	authed := group.Group("", r.mw.GinAuth())
	authed.POST("/logout", r.handleLogout)
	authed.GET("/agents", r.handleAgents)
	authed.POST("/agent", r.handleSelect)
	authed.POST("/chat", r.handleChat)
	authed.POST("/reset", r.handleReset)
	authed.GET("/session", r.handleSession)
	return g
}

func (r *UIRouter) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"ok":                 true,
		"agent_config":       r.o.Agents.Path(),
		"using_default_conf": r.o.Agents.UsingDefaults(),
		"sessions":           r.o.Sessions.Len(),
	})
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *UIRouter) handleLogin(c *gin.Context) {
	if r.o.Auth == nil {
		respondError(c, http.StatusNotFound, "auth_disabled", "authentication is not enabled")
		return
	}
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}
	res, err := r.o.Auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrLocked):
		respondError(c, http.StatusLocked, "account_locked", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "authentication_failed", err.Error())
	case err != nil:
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
	default:
		writeJSON(c, http.StatusOK, res)
	}
}

func (r *UIRouter) handleLogout(c *gin.Context) {
	if r.o.Auth == nil {
		writeJSON(c, http.StatusOK, okResp{OK: true})
		return
	}
	if err := r.o.Auth.Logout(auth.BearerToken(c.Request)); err != nil {
		respondError(c, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	if res, ok := auth.Result(c); ok {
		r.log.Info("logout", "user", res.Username)
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// session returns the caller's chat session, creating it from the saved
// UI state or the default agent.
func (r *UIRouter) session(c *gin.Context) *chat.Session {
	key := c.GetHeader(SessionHeader)
	if key == "" {
		key = "default"
		if res, ok := auth.Result(c); ok {
			key = res.Username
		}
	}
	return r.o.Sessions.GetOrCreate(key, r.initSession)
}

func (r *UIRouter) initSession(s *chat.Session) {
	cfg := r.o.Agents.Load()
	name := cfg.DefaultAgent
	custom := ""
	if r.o.State != nil {
		if app, err := r.o.State.LoadApp(); err == nil && app != nil {
			if _, ok := cfg.Agents[app.SelectedAgent]; ok {
				name, custom = app.SelectedAgent, app.CustomAgentID
			}
		}
	}
	s.SelectAgent(name, cfg.Agents[name], custom)
	if r.o.State == nil {
		return
	}
	if d, err := r.o.State.LoadSession(); err == nil && d != nil && d.Key == s.Key() && d.SelectedAgent == name {
		s.Restore(*d)
	}
}

func (r *UIRouter) persist(s *chat.Session) {
	if r.o.State == nil {
		return
	}
	if err := r.o.State.SaveApp(s.AppState()); err != nil {
		r.log.Warn("save app state", "error", err)
	}
	if err := r.o.State.SaveSession(s.Data()); err != nil {
		r.log.Warn("save session", "error", err)
	}
}

type agentView struct {
	Name         string       `json:"name"`
	ID           string       `json:"id"`
	Alias        string       `json:"alias"`
	Region       string       `json:"region"`
	Description  string       `json:"description"`
	Capabilities []string     `json:"capabilities"`
	Default      bool         `json:"default"`
	Status       agent.Status `json:"status"`
	StatusLabel  string       `json:"status_label"`
}

func (r *UIRouter) handleAgents(c *gin.Context) {
	cfg := r.o.Agents.Load()
	probe := c.Query("check") == "true" || c.Query("check") == "1"
	s := r.session(c)
	out := struct {
		Selected  string      `json:"selected"`
		SessionID string      `json:"session_id"`
		Agents    []agentView `json:"agents"`
	}{Selected: s.Snapshot().Agent, SessionID: s.SessionID()}

	for _, name := range cfg.Names() {
		a := cfg.Agents[name]
		v := agentView{
			Name: name, ID: a.ID, Alias: a.Alias, Region: a.Region,
			Description: a.Description, Capabilities: a.Capabilities,
			Default: name == cfg.DefaultAgent, Status: agent.StatusUnknown,
		}
		if res, ok := r.status(c.Request.Context(), targetOf(a), probe); ok {
			v.Status = res.Status
		}
		v.StatusLabel = v.Status.Label()
		out.Agents = append(out.Agents, v)
	}
	writeJSON(c, http.StatusOK, out)
}

func targetOf(a agentconfig.Agent) agent.Target {
	return agent.Target{ID: a.ID, Alias: a.Alias, Region: a.Region}
}

// status reports t's availability from the checker cache, probing when
// asked to, and records fresh probes in the state directory.
func (r *UIRouter) status(ctx context.Context, t agent.Target, probe bool) (agent.CheckResult, bool) {
	if r.o.Checker == nil {
		return agent.CheckResult{}, false
	}
	if !probe {
		if res, ok := r.o.Checker.Cached(t); ok {
			return res, true
		}
		if r.o.State != nil && t.ID != "" {
			if saved, ok := r.o.State.LoadAgentStatus(t.ID); ok {
				return agent.CheckResult{Target: t, Status: agent.Status(saved.Status), CheckedAt: saved.LastChecked}, true
			}
		}
		return agent.CheckResult{}, false
	}
	res := r.o.Checker.Check(ctx, t)
	if r.o.State != nil && t.ID != "" {
		if err := r.o.State.SaveAgentStatus(t.ID, string(res.Status), res.CheckedAt); err != nil {
			r.log.Warn("save agent status", "error", err)
		}
	}
	return res, true
}

type selectReq struct {
	Name     string `json:"name"`
	CustomID string `json:"custom_id"`
}

func (r *UIRouter) handleSelect(c *gin.Context) {
	var req selectReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "agent name is required")
		return
	}
	a, ok := r.o.Agents.Agent(req.Name)
	if !ok {
		respondError(c, http.StatusNotFound, "unknown_agent", "no agent named "+req.Name)
		return
	}
	s := r.session(c)
	s.SelectAgent(req.Name, a, req.CustomID)
	if res, ok := r.status(c.Request.Context(), s.Target(), true); ok {
		s.SetStatus(res)
	}
	r.persist(s)
	r.log.Info("agent selected", "agent", req.Name, "target", s.Target().String())
	writeJSON(c, http.StatusOK, s.Snapshot())
}

type chatReq struct {
	Message string `json:"message"`
}

func (r *UIRouter) handleChat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}
	if r.o.Invoker == nil {
		respondError(c, http.StatusServiceUnavailable, "no_agent_client", "agent client is not configured")
		return
	}
	s := r.session(c)
	msg, err := s.Send(c.Request.Context(), r.o.Invoker, req.Message)
	r.persist(s)
	if err != nil {
		code, errCode := chatErrorCode(err)
		r.log.Warn("chat failed", "target", s.Target().String(), "error", err)
		respondError(c, code, errCode, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"reply": msg, "session_id": s.SessionID()})
}

func chatErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, agent.ErrNoAgentID):
		return http.StatusBadRequest, string(agent.StatusNoAgentID)
	case errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound, string(agent.StatusNotFound)
	case errors.Is(err, agent.ErrAccessDenied):
		return http.StatusForbidden, string(agent.StatusAccessDenied)
	case errors.Is(err, agent.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity, string(agent.StatusInvalidConfig)
	case errors.Is(err, agent.ErrTransient):
		return http.StatusServiceUnavailable, string(agent.StatusUnavailable)
	case errors.Is(err, chat.ErrSuperseded):
		return http.StatusConflict, "superseded"
	default:
		return http.StatusBadGateway, string(agent.StatusError)
	}
}

func (r *UIRouter) handleReset(c *gin.Context) {
	s := r.session(c)
	s.Reset()
	r.persist(s)
	writeJSON(c, http.StatusOK, s.Snapshot())
}

func (r *UIRouter) handleSession(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.session(c).Snapshot())
}
