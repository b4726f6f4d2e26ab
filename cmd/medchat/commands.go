package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/medchat/internal/logstore"
	"github.com/loykin/medchat/internal/server"
	"github.com/loykin/medchat/internal/supervisor"
	"github.com/loykin/medchat/pkg/client"
)

func createStartCommand(g *GlobalFlags) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chat UI in the background (or foreground)",
		Long: `Start the chat UI unless it is already running.

Examples:
  medchat start
  medchat start --port 8502 --host 127.0.0.1
  medchat start --app ./app.py          # serve a streamlit script
  medchat start --foreground            # block until the UI exits`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStartCommand(cmd, g, f, false)
		},
	}
	addStartFlags(cmd, f)
	return cmd
}

func createRestartCommand(g *GlobalFlags) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the chat UI if running, then start it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStartCommand(cmd, g, f, true)
		},
	}
	addStartFlags(cmd, f)
	return cmd
}

func addStartFlags(cmd *cobra.Command, f *StartFlags) {
	cmd.Flags().IntVar(&f.Port, "port", supervisor.DefaultPort, "port the UI listens on")
	cmd.Flags().StringVar(&f.Host, "host", supervisor.DefaultHost, "address the UI binds")
	cmd.Flags().StringVar(&f.App, "app", "", "program to run instead of the built-in UI (.py files run via streamlit)")
	cmd.Flags().BoolVar(&f.Foreground, "foreground", false, "run attached and return the UI's exit code")
	cmd.Flags().DurationVar(&f.StartGrace, "start-grace", 0, "fail if the UI exits within this long after spawning")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the result as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
}

func addAPIFlags(cmd *cobra.Command, u *string, timeout *time.Duration) {
	cmd.Flags().StringVar(u, "api-url", "", "control API of a remote `medchat serve` (e.g. http://host:8600/api)")
	cmd.Flags().DurationVar(timeout, "api-timeout", 30*time.Second, "request timeout for --api-url")
}

func runStartCommand(cmd *cobra.Command, g *GlobalFlags, f *StartFlags, restart bool) error {
	if f.APIUrl != "" {
		return remoteStart(cmd, f, restart)
	}
	e, err := loadEnv(cmd, g)
	if err != nil {
		return err
	}
	defer e.Close()

	d, err := e.descriptor()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		d.Port = f.Port
	}
	if flags.Changed("host") {
		d.Host = f.Host
	}
	if flags.Changed("app") {
		d.App = f.App
	}
	if flags.Changed("start-grace") {
		e.cfg.Supervisor.StartGrace = f.StartGrace
	}
	d.Background = !f.Foreground
	return cmdStart(contextOf(cmd), e, d, f.JSON, restart)
}

func cmdStart(ctx context.Context, e *env, d supervisor.Descriptor, asJSON, restart bool) error {
	sup, err := e.supervisor(!d.Background)
	if err != nil {
		return err
	}
	if !d.Background {
		// the child shares our terminal and gets ^C itself
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
	}

	var res supervisor.Result
	if restart {
		res, err = sup.Restart(ctx, d)
	} else {
		res, err = sup.Start(ctx, d)
	}
	if err != nil {
		return opError(err)
	}
	if asJSON {
		printJSON(e.out, res)
	} else {
		_, _ = fmt.Fprintln(e.out, res.Message())
		if !res.Foreground && res.StdoutLog != "" {
			_, _ = fmt.Fprintf(e.out, "  url:    http://%s:%d\n", displayHost(res.Host), res.Port)
			_, _ = fmt.Fprintf(e.out, "  stdout: %s\n  stderr: %s\n", res.StdoutLog, res.StderrLog)
		}
	}
	if res.Foreground && res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

func displayHost(h string) string {
	if h == "" || h == "0.0.0.0" || h == "::" {
		return "localhost"
	}
	return h
}

// opError maps supervisor errors onto exit codes.
func opError(err error) error {
	if errors.Is(err, supervisor.ErrInProgress) {
		return &exitError{code: exitBusy, err: err}
	}
	var ae *client.APIError
	if errors.As(err, &ae) && ae.Busy() {
		return &exitError{code: exitBusy, err: err}
	}
	return &exitError{code: exitFailure, err: err}
}

func remoteStart(cmd *cobra.Command, f *StartFlags, restart bool) error {
	if f.Foreground {
		return &exitError{code: exitUsage, err: errors.New("--foreground cannot be used with --api-url")}
	}
	req := server.StartRequest{}
	if cmd.Flags().Changed("port") {
		req.Port = f.Port
	}
	if cmd.Flags().Changed("host") {
		req.Host = f.Host
	}
	if cmd.Flags().Changed("app") {
		req.App = f.App
	}
	c, err := newRemoteClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	res, err := c.Start(contextOf(cmd), req, restart)
	if err != nil {
		return opError(err)
	}
	if f.JSON {
		printJSON(cmd.OutOrStdout(), res)
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func createStopCommand(g *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the chat UI (SIGTERM, then SIGKILL after the timeout)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.APIUrl != "" {
				c, err := newRemoteClient(f.APIUrl, f.APITimeout)
				if err != nil {
					return &exitError{code: exitUsage, err: err}
				}
				res, err := c.Stop(contextOf(cmd))
				if err != nil {
					return opError(err)
				}
				if f.JSON {
					printJSON(cmd.OutOrStdout(), res)
					return nil
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				return nil
			}
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			defer e.Close()
			if cmd.Flags().Changed("timeout") {
				e.cfg.Supervisor.StopTimeout = f.Timeout
			}
			return cmdStop(contextOf(cmd), e, f.JSON)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", supervisor.DefaultStopTimeout, "graceful stop timeout before SIGKILL")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the result as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func cmdStop(ctx context.Context, e *env, asJSON bool) error {
	sup, err := e.supervisor(false)
	if err != nil {
		return err
	}
	res, err := sup.Stop(ctx)
	if err != nil {
		return opError(err)
	}
	if asJSON {
		printJSON(e.out, res)
		return nil
	}
	_, _ = fmt.Fprintln(e.out, res.Message())
	return nil
}

func createStatusCommand(g *GlobalFlags) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the chat UI is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.APIUrl != "" {
				c, err := newRemoteClient(f.APIUrl, f.APITimeout)
				if err != nil {
					return &exitError{code: exitUsage, err: err}
				}
				st, err := c.Status(contextOf(cmd))
				if err != nil {
					return &exitError{code: exitFailure, err: err}
				}
				printStatus(cmd.OutOrStdout(), st, f.JSON)
				return nil
			}
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			defer e.Close()
			return cmdStatus(contextOf(cmd), e, f.JSON)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the report as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func cmdStatus(ctx context.Context, e *env, asJSON bool) error {
	sup, err := e.supervisor(false)
	if err != nil {
		return err
	}
	st, err := sup.Status(ctx)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	printStatus(e.out, st, asJSON)
	return nil
}

func printStatus(w io.Writer, st supervisor.Status, asJSON bool) {
	if asJSON {
		printJSON(w, st)
		return
	}
	_, _ = fmt.Fprintf(w, "State:    %s\n", st.State)
	if st.Cleared {
		_, _ = fmt.Fprintf(w, "Note:     cleared stale status record (%s)\n", st.ClearReason)
	}
	if st.Op != "" {
		_, _ = fmt.Fprintf(w, "Busy:     %s in progress (pid %d)\n", st.Op, st.OpPID)
	}
	if st.PID == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "PID:      %d\n", st.PID)
	_, _ = fmt.Fprintf(w, "Address:  %s:%d\n", st.Host, st.Port)
	if st.App != "" {
		_, _ = fmt.Fprintf(w, "App:      %s\n", st.App)
	}
	if len(st.Command) > 0 {
		_, _ = fmt.Fprintf(w, "Command:  %s\n", strings.Join(st.Command, " "))
	}
	_, _ = fmt.Fprintf(w, "Started:  %s (up %s)\n", st.StartedAt.Local().Format(time.RFC3339), st.Uptime)
	_, _ = fmt.Fprintf(w, "Stdout:   %s\n", st.StdoutLog)
	_, _ = fmt.Fprintf(w, "Stderr:   %s\n", st.StderrLog)
	if s := st.Sample; s != nil {
		_, _ = fmt.Fprintf(w, "Usage:    cpu %.1f%%  rss %.1f MB  threads %d\n", s.CPUPercent, s.MemoryMB, s.NumThreads)
	}
}

func createLogsCommand(g *GlobalFlags) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the current (or last) run's log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, err := logstore.ParseStream(f.Type)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			if f.Lines <= 0 {
				return &exitError{code: exitUsage, err: errors.New("--lines must be positive")}
			}
			if f.APIUrl != "" {
				c, err := newRemoteClient(f.APIUrl, f.APITimeout)
				if err != nil {
					return &exitError{code: exitUsage, err: err}
				}
				tail, err := c.Logs(contextOf(cmd), stream, f.Lines)
				if err != nil {
					return &exitError{code: exitFailure, err: err}
				}
				printTail(cmd.OutOrStdout(), tail)
				return nil
			}
			e, err := loadEnv(cmd, g)
			if err != nil {
				return err
			}
			defer e.Close()
			return cmdLogs(e, stream, f.Lines)
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "stdout", "stream to show: stdout or stderr")
	cmd.Flags().IntVar(&f.Lines, "lines", supervisor.DefaultLogLines, "number of trailing lines")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func cmdLogs(e *env, stream logstore.Stream, n int) error {
	sup, err := e.supervisor(false)
	if err != nil {
		return err
	}
	tail, err := sup.Logs(stream, n)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	printTail(e.out, tail)
	return nil
}

func printTail(w io.Writer, t supervisor.Tail) {
	_, _ = fmt.Fprintf(w, "==> %s (%s) <==\n", t.Path, t.Stream)
	for _, l := range t.Lines {
		_, _ = fmt.Fprintln(w, l)
	}
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
