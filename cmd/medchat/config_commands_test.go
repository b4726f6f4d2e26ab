package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/medchat/internal/agentconfig"
)

// configWith writes a config file pointing the agent and users files into a temp dir.
func configWith(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "medchat.toml")
	body := "state_dir = \"" + dir + "\"\n\n[agents]\nfile = \"" + filepath.Join(dir, "agents.json") + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dir
}

func TestConfigCommands(t *testing.T) {
	cfg, dir := configWith(t)

	r := execute(t, "", "config", "list", "--config", cfg)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "built-in agents")
	assert.Contains(t, r.stdout, "* Normal RAG+OpenSearch")

	r = execute(t, "", "config", "validate", "--config", cfg)
	assert.Equal(t, exitFailure, r.code)

	r = execute(t, "", "config", "add", "Support Bot", "--config", cfg)
	assert.Equal(t, exitUsage, r.code, "an id is required")

	r = execute(t, "", "config", "add", "Support Bot", "--id", "ABCDEF1234", "--region", "us-east-1",
		"--capability", "Q&A", "--default", "--config", cfg)
	require.Equal(t, 0, r.code, r.stderr)

	r = execute(t, "", "config", "list", "--config", cfg)
	require.Equal(t, 0, r.code, r.stderr)
	assert.NotContains(t, r.stdout, "built-in agents")
	assert.Contains(t, r.stdout, "* Support Bot")

	r = execute(t, "", "config", "show", "Support Bot", "--config", cfg)
	require.Equal(t, 0, r.code, r.stderr)
	var a agentconfig.Agent
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &a))
	assert.Equal(t, "ABCDEF1234", a.ID)
	assert.Equal(t, agentconfig.DefaultAlias, a.Alias)
	assert.Equal(t, "us-east-1", a.Region)
	assert.Equal(t, []string{"Q&A"}, a.Capabilities)

	r = execute(t, "", "config", "validate", "--config", cfg)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "ok")

	r = execute(t, "", "config", "set-default", "Nope", "--config", cfg)
	assert.Equal(t, exitFailure, r.code)

	r = execute(t, "", "config", "remove", "Support Bot", "--config", cfg)
	require.Equal(t, 0, r.code, r.stderr)
	r = execute(t, "", "config", "show", "Support Bot", "--config", cfg)
	assert.Equal(t, exitFailure, r.code)

	// the default moved to another remaining agent
	c, err := agentconfig.NewLoader(filepath.Join(dir, "agents.json"), nil).Validate()
	require.NoError(t, err)
	assert.NotEqual(t, "Support Bot", c.DefaultAgent)
	assert.Contains(t, c.Agents, c.DefaultAgent)
}

func TestCustomAgentNeedsNoID(t *testing.T) {
	cfg, _ := configWith(t)
	r := execute(t, "", "config", "add", "Custom Agent", "--config", cfg)
	assert.Equal(t, 0, r.code, r.stderr)
}
