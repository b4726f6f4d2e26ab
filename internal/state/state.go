// Package state persists UI preferences between chat server restarts:
// the last selected agent, cached agent availability and the session.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/medchat/internal/fsutil"
)

const (
	AppFile         = "app_state.json"
	AgentStatusFile = "agent_status.json"
	SessionFile     = "session_data.json"
)

// AgentStatus is the last known availability of one agent ID.
type AgentStatus struct {
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AppState is the UI's selection at the time it was saved.
type AppState struct {
	SelectedAgent string    `json:"selected_agent"`
	CustomAgentID string    `json:"custom_agent_id,omitempty"`
	SessionID     string    `json:"session_id"`
	MessagesCount int       `json:"messages_count"`
	SavedAt       time.Time `json:"saved_at"`
}

// Message is one persisted chat turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// SessionData is a persisted chat session.
type SessionData struct {
	Key           string    `json:"key"`
	SelectedAgent string    `json:"selected_agent"`
	SessionID     string    `json:"session_id"`
	Messages      []Message `json:"messages"`
	SavedAt       time.Time `json:"saved_at"`
}

// FileInfo describes one state file.
type FileInfo struct {
	Exists   bool      `json:"exists"`
	Size     int64     `json:"size,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
}

// Info summarizes the state directory.
type Info struct {
	Dir   string              `json:"state_directory"`
	Files map[string]FileInfo `json:"files"`
}

// Manager reads and writes the state files under Dir. Writes are atomic.
type Manager struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func NewManager(dir string) *Manager {
	if dir == "" {
		dir = "app_state"
	}
	return &Manager{dir: dir, now: time.Now}
}

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path(name string) string { return filepath.Join(m.dir, name) }

// SaveAgentStatus records status for agentID, keeping other agents' entries.
// A zero checked time means now.
func (m *Manager) SaveAgentStatus(agentID, status string, checked time.Time) error {
	if agentID == "" {
		return errors.New("agent id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.loadStatuses()
	now := m.now().UTC()
	if checked.IsZero() {
		checked = now
	}
	all[agentID] = AgentStatus{Status: status, LastChecked: checked.UTC(), UpdatedAt: now}
	if err := fsutil.AtomicWriteJSON(m.path(AgentStatusFile), all); err != nil {
		return fmt.Errorf("save agent status: %w", err)
	}
	return nil
}

// LoadAgentStatus returns the stored status for agentID.
func (m *Manager) LoadAgentStatus(agentID string) (AgentStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.loadStatuses()[agentID]
	return s, ok
}

// an unreadable status file counts as empty
func (m *Manager) loadStatuses() map[string]AgentStatus {
	all := map[string]AgentStatus{}
	if err := fsutil.ReadJSON(m.path(AgentStatusFile), &all); err != nil || all == nil {
		return map[string]AgentStatus{}
	}
	return all
}

func (m *Manager) SaveApp(s AppState) error {
	s.SavedAt = m.now().UTC()
	return m.write(AppFile, s)
}

// LoadApp returns nil when nothing was saved.
func (m *Manager) LoadApp() (*AppState, error) {
	var s AppState
	ok, err := m.read(AppFile, &s)
	if !ok {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) SaveSession(s SessionData) error {
	s.SavedAt = m.now().UTC()
	return m.write(SessionFile, s)
}

// LoadSession returns nil when nothing was saved.
func (m *Manager) LoadSession() (*SessionData, error) {
	var s SessionData
	ok, err := m.read(SessionFile, &s)
	if !ok {
		return nil, err
	}
	return &s, nil
}

// Clear removes every state file.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, f := range []string{AppFile, AgentStatusFile, SessionFile} {
		if err := os.Remove(m.path(f)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Info() Info {
	info := Info{Dir: m.dir, Files: map[string]FileInfo{}}
	for name, f := range map[string]string{
		"app_state":    AppFile,
		"agent_status": AgentStatusFile,
		"session_data": SessionFile,
	} {
		fi, err := os.Stat(m.path(f))
		if err != nil {
			info.Files[name] = FileInfo{}
			continue
		}
		info.Files[name] = FileInfo{Exists: true, Size: fi.Size(), Modified: fi.ModTime()}
	}
	return info
}

func (m *Manager) write(name string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fsutil.AtomicWriteJSON(m.path(name), v); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (m *Manager) read(name string, v interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := fsutil.ReadJSON(m.path(name), v)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", name, err)
	}
	return true, nil
}
