// Package agentconfig loads the named Bedrock agent descriptors shown in the
// chat UI from a JSON file. A missing or malformed file never surfaces as an
// error to readers: the built-in agents are served instead.
package agentconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/loykin/medchat/internal/fsutil"
	"github.com/loykin/medchat/internal/logger"
)

const (
	DefaultAlias  = "TSTALIASID"
	DefaultRegion = "us-west-2"
	DefaultFile   = "agent_config.json"

	// agent names may contain dots, so keys are split on something else
	delim = "::"
)

// Agent is one configured conversational backend.
type Agent struct {
	ID           string   `json:"id" koanf:"id"`
	Alias        string   `json:"alias" koanf:"alias"`
	Description  string   `json:"description" koanf:"description"`
	Region       string   `json:"region" koanf:"region"`
	Capabilities []string `json:"capabilities" koanf:"capabilities"`
}

// Config is the whole file.
type Config struct {
	Agents        map[string]Agent `json:"agents"`
	DefaultAgent  string           `json:"default_agent"`
	DefaultRegion string           `json:"default_region"`
}

// Names returns the agent names in sorted order.
func (c Config) Names() []string {
	names := make([]string, 0, len(c.Agents))
	for n := range c.Agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// normalize fills per-agent defaults and a default agent.
func (c *Config) normalize() {
	if c.DefaultRegion == "" {
		c.DefaultRegion = DefaultRegion
	}
	if c.Agents == nil {
		c.Agents = map[string]Agent{}
	}
	for name, a := range c.Agents {
		if a.Alias == "" {
			a.Alias = DefaultAlias
		}
		if a.Description == "" {
			a.Description = "Agent: " + name
		}
		if a.Region == "" {
			a.Region = c.DefaultRegion
		}
		if a.Capabilities == nil {
			a.Capabilities = []string{}
		}
		c.Agents[name] = a
	}
	if _, ok := c.Agents[c.DefaultAgent]; !ok {
		c.DefaultAgent = ""
		if names := c.Names(); len(names) > 0 {
			c.DefaultAgent = names[0]
		}
	}
}

// Defaults is served whenever the file cannot be used.
func Defaults() Config {
	c := Config{
		Agents: map[string]Agent{
			"GraphRAG+Neptune": {
				ID:           "WN79XAAFL6",
				Alias:        DefaultAlias,
				Description:  "GraphRAG with Neptune - Advanced knowledge graph analysis and document processing",
				Region:       DefaultRegion,
				Capabilities: []string{"Knowledge Graph", "Graph Analysis", "Document Processing", "Neptune DB"},
			},
			"Normal RAG+OpenSearch": {
				ID:           "ZUJPK3HE6I",
				Alias:        DefaultAlias,
				Description:  "Traditional RAG with OpenSearch - Standard document retrieval and Q&A",
				Region:       DefaultRegion,
				Capabilities: []string{"Document Retrieval", "Vector Search", "Q&A", "OpenSearch"},
			},
			"Custom Agent": {
				ID:           "",
				Alias:        DefaultAlias,
				Description:  "Custom agent configuration - Enter your own Agent ID",
				Region:       DefaultRegion,
				Capabilities: []string{"Custom"},
			},
		},
		DefaultAgent:  "Normal RAG+OpenSearch",
		DefaultRegion: DefaultRegion,
	}
	return c
}

// Loader caches the parsed file and re-reads it when its mtime or size changes.
type Loader struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	cached   *Config
	modTime  time.Time
	size     int64
	fallback bool
}

func NewLoader(path string, log *slog.Logger) *Loader {
	if path == "" {
		path = DefaultFile
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Loader{path: path, log: log.With("component", "agentconfig")}
}

func (l *Loader) Path() string { return l.path }

// Load returns the current configuration, reading the file only when it changed.
func (l *Loader) Load() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(false)
}

// Reload forces a re-read.
func (l *Loader) Reload() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(true)
}

// UsingDefaults reports whether the last load fell back to the built-in agents.
func (l *Loader) UsingDefaults() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fallback
}

func (l *Loader) load(force bool) Config {
	fi, err := os.Stat(l.path)
	if err != nil {
		l.log.Error("agent configuration file not readable, using defaults", "path", l.path, "error", err)
		return l.useDefaults()
	}
	if !force && l.cached != nil && fi.ModTime().Equal(l.modTime) && fi.Size() == l.size {
		return clone(*l.cached)
	}
	c, err := readFile(l.path)
	if err != nil {
		l.log.Error("invalid agent configuration, using defaults", "path", l.path, "error", err)
		return l.useDefaults()
	}
	l.cached = &c
	l.modTime = fi.ModTime()
	l.size = fi.Size()
	l.fallback = false
	l.log.Info("loaded agent configuration", "path", l.path, "agents", len(c.Agents))
	return clone(c)
}

func (l *Loader) useDefaults() Config {
	l.cached = nil
	l.fallback = true
	return Defaults()
}

// Validate reads the file strictly and reports the first problem.
func (l *Loader) Validate() (Config, error) {
	return readFile(l.path)
}

// Agent looks up one agent by name.
func (l *Loader) Agent(name string) (Agent, bool) {
	a, ok := l.Load().Agents[name]
	return a, ok
}

func (l *Loader) Names() []string { return l.Load().Names() }

func (l *Loader) Default() string { return l.Load().DefaultAgent }

// Save normalizes c and writes it atomically.
func (l *Loader) Save(c Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save(c)
}

func (l *Loader) save(c Config) error {
	c = clone(c)
	c.normalize()
	if err := fsutil.AtomicWriteJSON(l.path, c); err != nil {
		return fmt.Errorf("save agent configuration: %w", err)
	}
	l.cached = nil
	l.log.Info("saved agent configuration", "path", l.path)
	return nil
}

// Add inserts or replaces an agent.
func (l *Loader) Add(name string, a Agent) error {
	if name == "" {
		return errors.New("agent name is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.load(false)
	c.Agents[name] = a
	return l.save(c)
}

// Remove deletes an agent; removing the default reassigns it. Unknown names are a no-op.
func (l *Loader) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.load(false)
	if _, ok := c.Agents[name]; !ok {
		return nil
	}
	delete(c.Agents, name)
	if c.DefaultAgent == name {
		c.DefaultAgent = ""
	}
	return l.save(c)
}

// SetDefault makes name the default agent.
func (l *Loader) SetDefault(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.load(false)
	if _, ok := c.Agents[name]; !ok {
		return fmt.Errorf("unknown agent %q", name)
	}
	c.DefaultAgent = name
	return l.save(c)
}

// readFile parses and validates path with koanf.
func readFile(path string) (Config, error) {
	k := koanf.New(delim)
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return Config{}, err
	}
	if !k.Exists("agents") {
		return Config{}, errors.New("configuration must contain 'agents' key")
	}
	raw, ok := k.Get("agents").(map[string]interface{})
	if !ok {
		return Config{}, errors.New("'agents' must be an object")
	}
	c := Config{
		Agents:        make(map[string]Agent, len(raw)),
		DefaultAgent:  k.String("default_agent"),
		DefaultRegion: k.String("default_region"),
	}
	for name, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			return Config{}, fmt.Errorf("agent %q configuration must be an object", name)
		}
		a := Agent{
			ID:          str(m["id"]),
			Alias:       str(m["alias"]),
			Description: str(m["description"]),
			Region:      str(m["region"]),
		}
		if list, ok := m["capabilities"].([]interface{}); ok {
			a.Capabilities = make([]string, 0, len(list))
			for _, item := range list {
				a.Capabilities = append(a.Capabilities, str(item))
			}
		}
		c.Agents[name] = a
	}
	c.normalize()
	return c, nil
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func clone(c Config) Config {
	out := c
	out.Agents = make(map[string]Agent, len(c.Agents))
	for n, a := range c.Agents {
		if a.Capabilities != nil {
			caps := make([]string, len(a.Capabilities))
			copy(caps, a.Capabilities)
			a.Capabilities = caps
		}
		out.Agents[n] = a
	}
	return out
}
