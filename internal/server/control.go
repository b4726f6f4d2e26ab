package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loykin/medchat/internal/auth"
	"github.com/loykin/medchat/internal/logger"
	"github.com/loykin/medchat/internal/logstore"
	"github.com/loykin/medchat/internal/metrics"
	"github.com/loykin/medchat/internal/supervisor"
)

// Controller is the part of *supervisor.Supervisor the control API uses.
type Controller interface {
	Start(ctx context.Context, d supervisor.Descriptor) (supervisor.Result, error)
	Stop(ctx context.Context) (supervisor.Result, error)
	Restart(ctx context.Context, d supervisor.Descriptor) (supervisor.Result, error)
	Status(ctx context.Context) (supervisor.Status, error)
	Logs(stream logstore.Stream, n int) (supervisor.Tail, error)
}

// ControlRouter exposes the supervisor over HTTP. Endpoints:
//
//	GET  {basePath}/status
//	GET  {basePath}/logs     query: type=stdout|stderr&lines=N
//	POST {basePath}/start    body (optional): {"port":8501,"host":"0.0.0.0","app":"/abs/app.py"}
//	POST {basePath}/stop
//	POST {basePath}/restart  body as start
//	GET  /metrics, /healthz
type ControlRouter struct {
	ctl      Controller
	base     supervisor.Descriptor
	basePath string
	mw       *auth.Middleware
	log      *slog.Logger
}

// NewControlRouter builds the control API. base is the configured launch
// descriptor that request bodies may override. A nil mw leaves the API open.
func NewControlRouter(ctl Controller, base supervisor.Descriptor, basePath string, mw *auth.Middleware, log *slog.Logger) *ControlRouter {
	if log == nil {
		log = logger.Discard()
	}
	return &ControlRouter{
		ctl:      ctl,
		base:     base,
		basePath: sanitizeBase(basePath),
		mw:       mw,
		log:      log.With("component", "control-api"),
	}
}

func (r *ControlRouter) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := g.Group(r.basePath)
	if r.mw.Enabled() {
		group.Use(r.mw.GinAuth(), r.mw.GinRequireRole(auth.RoleAdmin))
	}
	group.GET("/status", r.handleStatus)
	group.GET("/logs", r.handleLogs)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	return g
}

// ResultResponse is the body of a successful start, stop or restart.
type ResultResponse struct {
	supervisor.Result
	Message string `json:"message"`
}

// StartRequest overrides parts of the configured launch descriptor.
type StartRequest struct {
	Port int      `json:"port"`
	Host string   `json:"host"`
	App  string   `json:"app"`
	Args []string `json:"args"`
}

func (r *ControlRouter) descriptor(c *gin.Context) (supervisor.Descriptor, bool) {
	d := r.base
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
			return d, false
		}
	}
	if !isSafeAbsPath(req.App) {
		respondError(c, http.StatusBadRequest, "invalid_request", "app must be an absolute path without traversal")
		return d, false
	}
	if req.Port != 0 {
		d.Port = req.Port
	}
	if req.Host != "" {
		d.Host = req.Host
	}
	if req.App != "" {
		d.App = req.App
	}
	if req.Args != nil {
		d.Args = req.Args
	}
	// a web request cannot wait on a foreground child
	d.Background = true
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return d, false
	}
	return d, true
}

func (r *ControlRouter) handleStart(c *gin.Context) {
	d, ok := r.descriptor(c)
	if !ok {
		return
	}
	res, err := r.ctl.Start(c.Request.Context(), d)
	r.reply(c, "start", res, err)
}

func (r *ControlRouter) handleRestart(c *gin.Context) {
	d, ok := r.descriptor(c)
	if !ok {
		return
	}
	res, err := r.ctl.Restart(c.Request.Context(), d)
	r.reply(c, "restart", res, err)
}

func (r *ControlRouter) handleStop(c *gin.Context) {
	res, err := r.ctl.Stop(c.Request.Context())
	r.reply(c, "stop", res, err)
}

func (r *ControlRouter) reply(c *gin.Context, op string, res supervisor.Result, err error) {
	if err != nil {
		code, errCode := supervisorErrorCode(err)
		r.log.Warn("control request failed", "op", op, "error", err)
		respondError(c, code, errCode, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, ResultResponse{Result: res, Message: res.Message()})
}

func (r *ControlRouter) handleStatus(c *gin.Context) {
	st, err := r.ctl.Status(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *ControlRouter) handleLogs(c *gin.Context) {
	stream, err := logstore.ParseStream(c.Query("type"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	n := supervisor.DefaultLogLines
	if s := c.Query("lines"); s != "" {
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", "lines must be a positive number")
			return
		}
	}
	tail, err := r.ctl.Logs(stream, n)
	if err != nil {
		code, errCode := supervisorErrorCode(err)
		respondError(c, code, errCode, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, tail)
}

func supervisorErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, supervisor.ErrInProgress):
		return http.StatusConflict, "in_progress"
	case errors.Is(err, supervisor.ErrPortInUse):
		return http.StatusConflict, "port_in_use"
	case errors.Is(err, supervisor.ErrNoLogs):
		return http.StatusNotFound, "no_logs"
	case errors.Is(err, supervisor.ErrSpawn):
		return http.StatusInternalServerError, "spawn_failed"
	case errors.Is(err, supervisor.ErrExitedDuringStart):
		return http.StatusInternalServerError, "exited_during_start"
	case errors.Is(err, supervisor.ErrTerminationFailed):
		return http.StatusInternalServerError, "termination_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
