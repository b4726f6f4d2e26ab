package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes besides a child's own code in foreground mode.
const (
	exitFailure = 1
	exitUsage   = 2
	exitBusy    = 3
)

// exitError carries a process exit code out of a command. A nil err exits
// silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	root := buildRoot(os.Stdout, os.Stderr)
	os.Exit(run(root, os.Stderr))
}

func run(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintln(stderr, "Error:", err)
	return exitFailure
}

// GlobalFlags are persistent on the root command.
type GlobalFlags struct {
	ConfigPath string
	StateDir   string
	LogDir     string
}

func buildRoot(stdout, stderr io.Writer) *cobra.Command {
	g := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "medchat",
		Short: "Supervise the medical-device chat UI and manage its agents",
		Long: `medchat runs and supervises the Bedrock agent chat UI as a single
background process, and manages the agent configuration and UI users.

Examples:
  medchat start                       # launch the UI in the background
  medchat start --foreground --port 8502
  medchat status --json
  medchat logs --type stderr --lines 100
  medchat stop
  medchat config list
  medchat serve                       # control API + /metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&g.StateDir, "state-dir", "", "directory for the status record, lock and logs")
	root.PersistentFlags().StringVar(&g.LogDir, "log-dir", "", "directory for run logs (default <state-dir>/logs)")

	root.AddCommand(
		createStartCommand(g),
		createRestartCommand(g),
		createStopCommand(g),
		createStatusCommand(g),
		createLogsCommand(g),
		createConfigCommand(g),
		createUICommand(g),
		createServeCommand(g),
		createUserCommand(g),
	)
	return root
}
