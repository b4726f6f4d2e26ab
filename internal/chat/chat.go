// Package chat keeps per-browser conversation state: the selected agent,
// the Bedrock session ID and the message history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/medchat/internal/agent"
	"github.com/loykin/medchat/internal/agentconfig"
	"github.com/loykin/medchat/internal/state"
)

// CustomAgent is the entry whose agent ID is supplied by the user.
const CustomAgent = "Custom Agent"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSuperseded is returned by Send when the session was reset or
	// switched agents while the request was in flight.
	ErrSuperseded = errors.New("session changed during request")
)

type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is one conversation. Safe for concurrent use.
type Session struct {
	key string
	now func() time.Time

	mu        sync.Mutex
	agentName string
	customID  string
	target    agent.Target
	sessionID string
	messages  []Message
	status    *agent.CheckResult
	// bumped whenever history is discarded so in-flight replies are dropped
	gen uint64
}

func NewSession(key string) *Session {
	return &Session{key: key, now: time.Now, sessionID: uuid.NewString()}
}

func (s *Session) Key() string { return s.key }

// SelectAgent switches to the named agent and starts a new Bedrock session.
// For CustomAgent, customID replaces the configured ID.
func (s *Session) SelectAgent(name string, a agentconfig.Agent, customID string) {
	customID = strings.TrimSpace(customID)
	t := agent.Target{ID: a.ID, Alias: a.Alias, Region: a.Region}
	if name == CustomAgent && customID != "" {
		t.ID = customID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentName = name
	s.customID = customID
	s.target = t
	s.sessionID = uuid.NewString()
	s.status = nil
	s.gen++
}

// Target is the currently selected agent alias.
func (s *Session) Target() agent.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Send appends text as a user message and asks the agent for a reply. On
// failure the user message stays in history and no assistant message is
// added; the error is categorized with the agent package sentinels.
func (s *Session) Send(ctx context.Context, inv agent.Invoker, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.target.ID == "" {
		s.mu.Unlock()
		return Message{}, agent.ErrNoAgentID
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text, At: s.now()})
	req := agent.Request{Target: s.target, SessionID: s.sessionID, Text: text}
	gen := s.gen
	s.mu.Unlock()

	resp, err := inv.Invoke(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("invoke %s: %w", req.Target, agent.Categorize(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return Message{}, ErrSuperseded
	}
	if resp.SessionID != "" {
		s.sessionID = resp.SessionID
	}
	m := Message{Role: RoleAssistant, Content: resp.Text, At: s.now()}
	s.messages = append(s.messages, m)
	return m, nil
}

// Reset clears history and starts a new Bedrock session with the same agent.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.sessionID = uuid.NewString()
	s.gen++
}

func (s *Session) SetStatus(r agent.CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &r
}

// Snapshot is a copy of a Session safe to serialize.
type Snapshot struct {
	Key       string             `json:"key"`
	Agent     string             `json:"agent"`
	CustomID  string             `json:"custom_agent_id,omitempty"`
	Target    agent.Target       `json:"target"`
	SessionID string             `json:"session_id"`
	Messages  []Message          `json:"messages"`
	Status    *agent.CheckResult `json:"status,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Key:       s.key,
		Agent:     s.agentName,
		CustomID:  s.customID,
		Target:    s.target,
		SessionID: s.sessionID,
		Messages:  append([]Message{}, s.messages...),
	}
	if s.status != nil {
		st := *s.status
		snap.Status = &st
	}
	return snap
}

// AppState is what the UI persists between restarts.
func (s *Session) AppState() state.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return state.AppState{
		SelectedAgent: s.agentName,
		CustomAgentID: s.customID,
		SessionID:     s.sessionID,
		MessagesCount: len(s.messages),
	}
}

// Data converts the session into its persisted form.
func (s *Session) Data() state.SessionData {
	snap := s.Snapshot()
	d := state.SessionData{Key: snap.Key, SelectedAgent: snap.Agent, SessionID: snap.SessionID}
	for _, m := range snap.Messages {
		d.Messages = append(d.Messages, state.Message{Role: string(m.Role), Content: m.Content, At: m.At})
	}
	return d
}

// Restore replaces history and session ID from persisted data. The agent
// must be selected separately.
func (s *Session) Restore(d state.SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
	for _, m := range d.Messages {
		s.messages = append(s.messages, Message{Role: Role(m.Role), Content: m.Content, At: m.At})
	}
	if d.SessionID != "" {
		s.sessionID = d.SessionID
	}
	s.gen++
}
