package agentconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// bumpMTime guarantees the loader sees a change even on coarse-mtime filesystems.
func bumpMTime(t *testing.T, path string, d time.Duration) {
	t.Helper()
	ts := time.Now().Add(d)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "agents.json")
	writeConfig(t, p, `{
  "agents": {
    "Triage": {"id": "ABC123", "capabilities": ["Q&A"]},
    "Bare": {},
    "Odd": {"id": "X", "capabilities": "not-a-list"}
  },
  "default_region": "eu-central-1"
}`)
	l := NewLoader(p, nil)
	c := l.Load()
	require.False(t, l.UsingDefaults())

	assert.Equal(t, []string{"Bare", "Odd", "Triage"}, c.Names())
	assert.Equal(t, "Bare", c.DefaultAgent)
	tri := c.Agents["Triage"]
	assert.Equal(t, "ABC123", tri.ID)
	assert.Equal(t, DefaultAlias, tri.Alias)
	assert.Equal(t, "Agent: Triage", tri.Description)
	assert.Equal(t, "eu-central-1", tri.Region)
	assert.Equal(t, []string{"Q&A"}, tri.Capabilities)
	assert.Equal(t, []string{}, c.Agents["Odd"].Capabilities)
	assert.Equal(t, "", c.Agents["Bare"].ID)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"malformed":      `{"agents": {`,
		"no agents":      `{"default_agent": "x"}`,
		"agents not obj": `{"agents": ["a", "b"]}`,
		"agent not obj":  `{"agents": {"a": 5}}`,
		"top level list": `[1, 2]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name+".json")
			writeConfig(t, p, body)
			l := NewLoader(p, nil)
			c := l.Load()
			assert.True(t, l.UsingDefaults())
			assert.Equal(t, Defaults(), c)
			_, err := l.Validate()
			assert.Error(t, err)
		})
	}

	l := NewLoader(filepath.Join(dir, "missing.json"), nil)
	assert.Equal(t, "Normal RAG+OpenSearch", l.Default())
	a, ok := l.Agent("GraphRAG+Neptune")
	require.True(t, ok)
	assert.Equal(t, "WN79XAAFL6", a.ID)
}

func TestReloadOnModification(t *testing.T) {
	p := filepath.Join(t.TempDir(), "agents.json")
	writeConfig(t, p, `{"agents": {"One": {"id": "1"}}}`)
	l := NewLoader(p, nil)
	assert.Equal(t, []string{"One"}, l.Names())

	writeConfig(t, p, `{"agents": {"One": {"id": "1"}, "Two": {"id": "2"}}, "default_agent": "Two"}`)
	bumpMTime(t, p, time.Second)
	assert.Equal(t, []string{"One", "Two"}, l.Names())
	assert.Equal(t, "Two", l.Default())

	// A broken edit falls back, a fixed one is picked up again.
	writeConfig(t, p, `{broken`)
	bumpMTime(t, p, 2*time.Second)
	assert.Equal(t, Defaults().Names(), l.Names())
	writeConfig(t, p, `{"agents": {"Three": {}}}`)
	bumpMTime(t, p, 3*time.Second)
	assert.Equal(t, []string{"Three"}, l.Reload().Names())
}

func TestLoadReturnsCopies(t *testing.T) {
	p := filepath.Join(t.TempDir(), "agents.json")
	writeConfig(t, p, `{"agents": {"One": {"id": "1", "capabilities": ["a"]}}}`)
	l := NewLoader(p, nil)
	c := l.Load()
	c.Agents["One"].Capabilities[0] = "mutated"
	delete(c.Agents, "One")
	a, ok := l.Agent("One")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, a.Capabilities)
}

func TestAddRemoveSetDefault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "agents.json")
	l := NewLoader(p, nil)

	// Adding to a missing file starts from the built-in agents.
	require.NoError(t, l.Add("Device QA", Agent{ID: "DQ1", Capabilities: []string{"Manuals"}}))
	c, err := l.Validate()
	require.NoError(t, err)
	assert.Len(t, c.Agents, 4)
	assert.Equal(t, "Normal RAG+OpenSearch", c.DefaultAgent)
	assert.Equal(t, DefaultAlias, c.Agents["Device QA"].Alias)
	assert.Equal(t, DefaultRegion, c.Agents["Device QA"].Region)

	require.NoError(t, l.SetDefault("Device QA"))
	assert.Equal(t, "Device QA", l.Default())
	assert.Error(t, l.SetDefault("nope"))

	require.NoError(t, l.Remove("Device QA"))
	assert.Equal(t, "Custom Agent", l.Default(), "default reassigned to first remaining agent")
	require.NoError(t, l.Remove("not there"))
	assert.Error(t, l.Add("", Agent{}))

	_, ok := l.Agent("Device QA")
	assert.False(t, ok)
}

func TestSaveWritesNormalizedJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "agents.json")
	l := NewLoader(p, nil)
	require.NoError(t, l.Save(Config{Agents: map[string]Agent{"Solo": {ID: "S"}}}))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"default_agent": "Solo"`)
	assert.Contains(t, string(b), `"capabilities": []`)
	assert.Equal(t, "Solo", l.Default())
}
