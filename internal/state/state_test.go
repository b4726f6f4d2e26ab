package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedManager(t *testing.T) (*Manager, time.Time) {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "ui_state"))
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, now
}

func TestAgentStatusKeepsOtherAgents(t *testing.T) {
	m, now := fixedManager(t)
	checked := now.Add(-time.Minute)

	require.NoError(t, m.SaveAgentStatus("WN79XAAFL6", "available", checked))
	require.NoError(t, m.SaveAgentStatus("ZUJPK3HE6I", "not_found", time.Time{}))

	a, ok := m.LoadAgentStatus("WN79XAAFL6")
	require.True(t, ok)
	assert.Equal(t, "available", a.Status)
	assert.True(t, a.LastChecked.Equal(checked))
	assert.True(t, a.UpdatedAt.Equal(now))

	b, ok := m.LoadAgentStatus("ZUJPK3HE6I")
	require.True(t, ok)
	assert.True(t, b.LastChecked.Equal(now), "zero check time means now")

	_, ok = m.LoadAgentStatus("unknown")
	assert.False(t, ok)
	assert.Error(t, m.SaveAgentStatus("", "x", now))
}

func TestCorruptAgentStatusIsEmpty(t *testing.T) {
	m, now := fixedManager(t)
	require.NoError(t, os.MkdirAll(m.Dir(), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), AgentStatusFile), []byte("{oops"), 0o600))

	_, ok := m.LoadAgentStatus("any")
	assert.False(t, ok)
	require.NoError(t, m.SaveAgentStatus("A1", "available", now))
	_, ok = m.LoadAgentStatus("A1")
	assert.True(t, ok)
}

func TestAppAndSessionRoundTrip(t *testing.T) {
	m, now := fixedManager(t)

	app, err := m.LoadApp()
	require.NoError(t, err)
	assert.Nil(t, app)

	require.NoError(t, m.SaveApp(AppState{SelectedAgent: "Custom Agent", CustomAgentID: "C1", SessionID: "s-1", MessagesCount: 4}))
	app, err = m.LoadApp()
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, "Custom Agent", app.SelectedAgent)
	assert.Equal(t, 4, app.MessagesCount)
	assert.True(t, app.SavedAt.Equal(now))

	sess := SessionData{Key: "k", SelectedAgent: "GraphRAG+Neptune", SessionID: "s-2",
		Messages: []Message{{Role: "user", Content: "What is ISO 13485?"}}}
	require.NoError(t, m.SaveSession(sess))
	got, err := m.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s-2", got.SessionID)
	assert.Equal(t, "What is ISO 13485?", got.Messages[0].Content)
}

func TestLoadAppCorrupt(t *testing.T) {
	m, _ := fixedManager(t)
	require.NoError(t, os.MkdirAll(m.Dir(), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), AppFile), []byte("nope"), 0o600))
	_, err := m.LoadApp()
	assert.Error(t, err)
}

func TestClearAndInfo(t *testing.T) {
	m, now := fixedManager(t)
	info := m.Info()
	assert.False(t, info.Files["app_state"].Exists)

	require.NoError(t, m.SaveApp(AppState{SelectedAgent: "x"}))
	require.NoError(t, m.SaveAgentStatus("A", "available", now))
	info = m.Info()
	assert.True(t, info.Files["app_state"].Exists)
	assert.True(t, info.Files["agent_status"].Exists)
	assert.False(t, info.Files["session_data"].Exists)
	assert.Greater(t, info.Files["app_state"].Size, int64(0))

	require.NoError(t, m.Clear())
	require.NoError(t, m.Clear())
	for name, f := range m.Info().Files {
		assert.False(t, f.Exists, name)
	}
}
