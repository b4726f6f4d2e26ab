package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/medchat/internal/agent"
	"github.com/loykin/medchat/internal/agentconfig"
	"github.com/loykin/medchat/internal/auth"
	"github.com/loykin/medchat/internal/chat"
	"github.com/loykin/medchat/internal/metrics"
	"github.com/loykin/medchat/internal/server"
	"github.com/loykin/medchat/internal/state"
	"github.com/loykin/medchat/internal/tlsutil"
)

const shutdownTimeout = 10 * time.Second

func createUICommand(g *GlobalFlags) *cobra.Command {
	f := &UIFlags{}
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Run the chat UI server in the foreground (what `start` launches)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			defer e.Close()
			port, host := e.cfg.UI.Port, e.cfg.UI.Host
			if cmd.Flags().Changed("port") {
				port = f.Port
			}
			if cmd.Flags().Changed("host") {
				host = f.Host
			}
			h, err := newUIHandler(e)
			if err != nil {
				return err
			}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			return serveUntilSignal(contextOf(cmd), e.log, server.NewHTTPServer(addr, h))
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 8501, "listen port")
	cmd.Flags().StringVar(&f.Host, "host", "0.0.0.0", "listen address")
	return cmd
}

func newUIHandler(e *env) (http.Handler, error) {
	cfg := e.cfg
	loader := agentconfig.NewLoader(cfg.Agents.File, e.log)
	inv := agent.WithTimeout(agent.NewBedrockClient(), cfg.Agents.InvokeTimeout)
	checker := agent.NewStatusChecker(inv, agent.CheckerOptions{
		TTL:      cfg.Agents.StatusTTL,
		MaxTries: cfg.Agents.StatusTries,
		Logger:   e.log,
	})

	var svc *auth.Service
	if cfg.Auth.Enabled {
		var err error
		svc, err = newAuthService(e)
		if err != nil {
			return nil, err
		}
	} else {
		e.log.Warn("authentication disabled; the chat API is open")
	}

	gin.SetMode(gin.ReleaseMode)
	r := server.NewUIRouter(server.UIOptions{
		Agents:   loader,
		Invoker:  inv,
		Checker:  checker,
		Auth:     svc,
		State:    state.NewManager(cfg.State.Dir),
		Sessions: chat.NewRegistry(),
		Logger:   e.log,
	})
	return r.Handler(), nil
}

func newAuthService(e *env) (*auth.Service, error) {
	a := e.cfg.Auth
	svc, err := auth.NewService(auth.Config{
		UsersFile:   a.UsersFile,
		JWTSecret:   a.JWTSecret,
		TokenTTL:    a.TokenTTL,
		Issuer:      a.JWTIssuer,
		MaxAttempts: a.MaxAttempt,
		Lockout:     a.Lockout,
		Logger:      e.log,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if users, err := svc.Store().List(); err == nil && len(users) == 0 {
		e.log.Warn("no users configured; add one with `medchat user add`", "users_file", a.UsersFile)
	}
	return svc, nil
}

func createServeCommand(g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the supervisor control API and /metrics",
		Long: `Serve an HTTP control API for the chat UI supervisor:

  GET  <base>/status   GET <base>/logs?type=stdout&lines=50
  POST <base>/start    POST <base>/stop    POST <base>/restart
  GET  /metrics        GET /healthz

When auth is enabled every <base> route needs an admin bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			defer e.Close()
			addr, base := e.cfg.Server.Addr, e.cfg.Server.BasePath
			if cmd.Flags().Changed("addr") {
				addr = f.Addr
			}
			if cmd.Flags().Changed("base-path") {
				base = f.BasePath
			}
			h, err := newControlHandler(e, base)
			if err != nil {
				return err
			}
			srv := server.NewHTTPServer(addr, h)
			if srv.TLSConfig, err = tlsutil.Setup(e.cfg.Server.TLS); err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			return serveUntilSignal(contextOf(cmd), e.log, srv)
		},
	}
	cmd.Flags().StringVar(&f.Addr, "addr", "127.0.0.1:8600", "listen address")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "/api", "route prefix of the control API")
	return cmd
}

func newControlHandler(e *env, base string) (http.Handler, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	sup, err := e.supervisor(false)
	if err != nil {
		return nil, err
	}
	d, err := e.descriptor()
	if err != nil {
		return nil, err
	}
	var mw *auth.Middleware
	if e.cfg.Auth.Enabled {
		svc, err := newAuthService(e)
		if err != nil {
			return nil, err
		}
		mw = auth.NewMiddleware(svc)
	} else {
		e.log.Warn("authentication disabled; the control API is open")
	}
	gin.SetMode(gin.ReleaseMode)
	return server.NewControlRouter(sup, d, base, mw, e.log).Handler(), nil
}

// serveUntilSignal runs srv until it fails or SIGINT/SIGTERM arrives, then
// drains in-flight requests.
func serveUntilSignal(ctx context.Context, log *slog.Logger, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			log.Info("listening", "addr", srv.Addr, "tls", true)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return &exitError{code: exitFailure, err: err}
	case <-ctx.Done():
	}
	log.Info("shutting down", "addr", srv.Addr)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
