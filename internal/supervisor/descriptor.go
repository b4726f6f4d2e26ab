package supervisor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPort = 8501
	DefaultHost = "0.0.0.0"
)

// Descriptor holds the launch parameters of the managed UI process. It is
// supplied fresh on every Start or Restart.
type Descriptor struct {
	// App is the program to run. Empty runs this binary's own "ui" command;
	// a ".py" file is served through streamlit.
	App        string
	Port       int
	Host       string
	Background bool
	Args       []string
	Env        []string // KEY=VALUE pairs appended to the inherited environment
	WorkDir    string
}

// Normalize fills in the default port and host.
func (d Descriptor) Normalize() Descriptor {
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if strings.TrimSpace(d.Host) == "" {
		d.Host = DefaultHost
	}
	return d
}

func (d Descriptor) Validate() error {
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("invalid port %d", d.Port)
	}
	if d.Host == "" {
		return errors.New("host is required")
	}
	for _, kv := range d.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("invalid env entry %q (want KEY=VALUE)", kv)
		}
	}
	return nil
}

// Command renders the argv for d. self is the executable used when App is
// empty, python the interpreter used for .py apps.
func (d Descriptor) Command(self, python string) []string {
	port := strconv.Itoa(d.Port)
	var argv []string
	switch {
	case d.App == "":
		argv = []string{self, "ui", "--port", port, "--host", d.Host}
	case strings.HasSuffix(strings.ToLower(d.App), ".py"):
		if python == "" {
			python = "python3"
		}
		argv = []string{python, "-m", "streamlit", "run", d.App,
			"--server.port", port,
			"--server.address", d.Host,
			"--server.headless", "true",
		}
	default:
		argv = []string{d.App, "--port", port, "--host", d.Host}
	}
	return append(argv, d.Args...)
}
