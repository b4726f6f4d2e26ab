package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loykin/medchat/internal/config"
	"github.com/loykin/medchat/internal/history"
	"github.com/loykin/medchat/internal/history/factory"
	"github.com/loykin/medchat/internal/supervisor"
)

// env is what every command needs: config, logger and output streams.
type env struct {
	g      *GlobalFlags
	cfg    *config.Config
	log    *slog.Logger
	sink   history.Sink
	out    io.Writer
	errOut io.Writer
}

func loadEnv(cmd *cobra.Command, g *GlobalFlags) (*env, error) {
	cfg, err := config.LoadWithFlags(g.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	e := &env{
		g:      g,
		cfg:    cfg,
		log:    cfg.Log.NewSloggerTo(cmd.ErrOrStderr()),
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			// history is best effort; supervision works without it
			e.log.Warn("history sink unavailable", "error", err)
		} else {
			e.sink = sink
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.sink != nil {
		if err := history.Close(e.sink); err != nil {
			e.log.Warn("close history sink", "error", err)
		}
	}
}

func (e *env) supervisor(foreground bool) (*supervisor.Supervisor, error) {
	c := e.cfg.Supervisor
	opts := supervisor.Options{
		StateDir:       e.cfg.StateDir,
		LogDir:         c.LogDir,
		Python:         c.Python,
		StopTimeout:    c.StopTimeout,
		KillTimeout:    c.KillTimeout,
		StartGrace:     c.StartGrace,
		StartTolerance: c.StartTolerance,
		LockWait:       c.LockWait,
		Logger:         e.log,
		Sink:           e.sink,
	}
	if foreground {
		opts.ForegroundStdout = e.out
		opts.ForegroundStderr = e.errOut
	}
	return supervisor.New(opts)
}

// descriptor builds the launch parameters from config. When the UI is this
// binary, the child gets the same config and state directory.
func (e *env) descriptor() (supervisor.Descriptor, error) {
	childEnv, err := e.cfg.ChildEnv()
	if err != nil {
		return supervisor.Descriptor{}, fmt.Errorf("load env files: %w", err)
	}
	ui := e.cfg.UI
	d := supervisor.Descriptor{
		App:        ui.App,
		Port:       ui.Port,
		Host:       ui.Host,
		Background: true,
		Args:       append([]string{}, ui.Args...),
		Env:        childEnv,
		WorkDir:    ui.WorkDir,
	}
	if d.App == "" {
		if e.g.ConfigPath != "" {
			p, err := filepath.Abs(e.g.ConfigPath)
			if err != nil {
				return d, err
			}
			d.Args = append(d.Args, "--config", p)
		}
		d.Args = append(d.Args, "--state-dir", e.cfg.StateDir)
	}
	return d, nil
}
