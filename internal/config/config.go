package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/medchat/internal/logger"
	"github.com/loykin/medchat/internal/tlsutil"
)

// EnvPrefix is prepended to every environment override, e.g. MEDCHAT_UI_PORT.
const EnvPrefix = "MEDCHAT"

// Config is the top-level TOML structure.
type Config struct {
	StateDir string   `mapstructure:"state_dir"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	UI         UIConfig         `mapstructure:"ui"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	History    HistoryConfig    `mapstructure:"history"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Auth       AuthConfig       `mapstructure:"auth"`
	State      StateConfig      `mapstructure:"state"`
	Server     ServerConfig     `mapstructure:"server"`
}

// UIConfig describes the managed chat UI launch.
type UIConfig struct {
	App     string   `mapstructure:"app"`
	Port    int      `mapstructure:"port"`
	Host    string   `mapstructure:"host"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"workdir"`
}

type SupervisorConfig struct {
	LogDir         string        `mapstructure:"log_dir"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	KillTimeout    time.Duration `mapstructure:"kill_timeout"`
	StartGrace     time.Duration `mapstructure:"start_grace"`
	StartTolerance time.Duration `mapstructure:"start_tolerance"`
	LockWait       time.Duration `mapstructure:"lock_wait"`
	Python         string        `mapstructure:"python"`
}

// HistoryConfig enables the lifecycle event sink. See history/factory for DSN forms.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type AgentsConfig struct {
	File          string        `mapstructure:"file"`
	StatusTTL     time.Duration `mapstructure:"status_ttl"`
	StatusTries   int           `mapstructure:"status_tries"`
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout"`
}

type AuthConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	UsersFile  string        `mapstructure:"users_file"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	JWTIssuer  string        `mapstructure:"jwt_issuer"`
	MaxAttempt int           `mapstructure:"max_attempts"`
	Lockout    time.Duration `mapstructure:"lockout"`
}

type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServerConfig struct {
	Addr     string         `mapstructure:"addr"` // control API listen address
	BasePath string         `mapstructure:"base_path"`
	TLS      tlsutil.Config `mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", "~/.medchat")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("ui.app", "")
	v.SetDefault("ui.port", 8501)
	v.SetDefault("ui.host", "0.0.0.0")
	v.SetDefault("ui.args", []string{})
	v.SetDefault("ui.workdir", "")

	v.SetDefault("supervisor.log_dir", "")
	v.SetDefault("supervisor.stop_timeout", "10s")
	v.SetDefault("supervisor.kill_timeout", "5s")
	v.SetDefault("supervisor.start_grace", "2s")
	v.SetDefault("supervisor.start_tolerance", "2s")
	v.SetDefault("supervisor.lock_wait", "2s")
	v.SetDefault("supervisor.python", "python3")

	v.SetDefault("log.slog.level", "info")
	v.SetDefault("log.slog.format", "text")
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")

	v.SetDefault("agents.file", "agent_config.json")
	v.SetDefault("agents.status_ttl", "5m")
	v.SetDefault("agents.status_tries", 3)
	v.SetDefault("agents.invoke_timeout", "60s")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.users_file", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.jwt_issuer", "medchat")
	v.SetDefault("auth.max_attempts", 5)
	v.SetDefault("auth.lockout", "15m")

	v.SetDefault("state.dir", "")

	v.SetDefault("server.addr", "127.0.0.1:8600")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.hosts", []string{})
	v.SetDefault("server.tls.min_version", "1.2")
}

// Load reads path (TOML) when non-empty, applies MEDCHAT_* environment
// overrides and resolves derived paths. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// FlagKeys maps command-line flags onto config keys for LoadWithFlags.
var FlagKeys = map[string]string{
	"state-dir": "state_dir",
	"log-dir":   "supervisor.log_dir",
}

// LoadWithFlags is Load with the flags named in FlagKeys taking priority
// over the file and the environment when they were set.
func LoadWithFlags(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, func(v *viper.Viper) error {
		for flag, key := range FlagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind --%s: %w", flag, err)
				}
			}
		}
		return nil
	})
}

func load(path string, bind func(*viper.Viper) error) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if bind != nil {
		if err := bind(v); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.resolve(path)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve expands ~ and fills paths derived from StateDir. Relative env
// files are taken relative to the config file.
func (c *Config) resolve(cfgPath string) {
	c.StateDir = expandHome(c.StateDir)
	if c.Supervisor.LogDir == "" {
		c.Supervisor.LogDir = filepath.Join(c.StateDir, "logs")
	}
	c.Supervisor.LogDir = expandHome(c.Supervisor.LogDir)
	if c.Log.File.Dir == "" && c.Log.File.Path == "" {
		c.Log.File.Dir = c.Supervisor.LogDir
	}
	if c.State.Dir == "" {
		c.State.Dir = filepath.Join(c.StateDir, "ui_state")
	}
	c.State.Dir = expandHome(c.State.Dir)
	if c.Auth.UsersFile == "" {
		c.Auth.UsersFile = filepath.Join(c.StateDir, "users.json")
	}
	c.Auth.UsersFile = expandHome(c.Auth.UsersFile)
	c.Agents.File = expandHome(c.Agents.File)
	if t := &c.Server.TLS; t.Enabled && t.CertFile == "" && t.Dir == "" {
		t.Dir = filepath.Join(c.StateDir, "tls")
	}
	c.Server.TLS.Dir = expandHome(c.Server.TLS.Dir)
	base := ""
	if cfgPath != "" {
		base = filepath.Dir(cfgPath)
	}
	for i, f := range c.EnvFiles {
		f = expandHome(f)
		if base != "" && !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		c.EnvFiles[i] = f
	}
}

func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.UI.Port < 1 || c.UI.Port > 65535 {
		return fmt.Errorf("ui.port %d out of range", c.UI.Port)
	}
	if c.Supervisor.StopTimeout < 0 || c.Supervisor.KillTimeout < 0 || c.Supervisor.StartGrace < 0 {
		return fmt.Errorf("supervisor timeouts must not be negative")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("history.enabled requires history.dsn")
	}
	return nil
}

// ChildEnv merges env_files (in order) and then the env list, later entries
// winning. ${VAR} references are expanded against earlier entries and then the
// process environment. The result is appended to the managed process's
// inherited environment.
func (c *Config) ChildEnv() ([]string, error) {
	m := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = expandBraced(v, m)
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			set(kv[0], kv[1])
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// expandBraced replaces ${NAME}; a bare $ is left alone so secrets survive.
func expandBraced(s string, m map[string]string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(os.Getenv(name))
		}
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}

// loadEnvFile parses KEY=VALUE lines; "#" comments, an "export " prefix and
// surrounding quotes are accepted.
func loadEnvFile(path string) ([][2]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
