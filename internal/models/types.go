package models

import (
	"errors"
	"fmt"
)

// Mode selects the research pipeline.
type Mode string

// Execution modes
const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

// Valid reports whether m names a supported pipeline.
func (m Mode) Valid() bool {
	return m == ModeQuick || m == ModeDeep
}

// Status is the lifecycle state of a research task.
type Status string

// Task statuses
const (
	StatusPending     Status = "pending"
	StatusResearching Status = "researching"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:     {StatusResearching, StatusFailed},
	StatusResearching: {StatusCompleted, StatusFailed},
}

// ErrInvalidTransition is returned when a status change skips the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Agent names used in task logs.
const (
	AgentSystem     = "System"
	AgentPlanner    = "Planner"
	AgentResearcher = "Researcher"
	AgentWriter     = "Writer"
	AgentCritic     = "Critic"
)

// TokenUsage reports the tokens consumed by one completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LogEntry is one line of a task's activity log.
type LogEntry struct {
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ResearchModels names the model used for each pipeline role.
type ResearchModels struct {
	Planner    string `json:"planner" yaml:"planner" mapstructure:"planner"`
	Researcher string `json:"researcher" yaml:"researcher" mapstructure:"researcher"`
	Writer     string `json:"writer" yaml:"writer" mapstructure:"writer"`
	Critic     string `json:"critic" yaml:"critic" mapstructure:"critic"`
}

// Merge returns m with every non-empty field of override applied on top.
func (m ResearchModels) Merge(override ResearchModels) ResearchModels {
	if override.Planner != "" {
		m.Planner = override.Planner
	}
	if override.Researcher != "" {
		m.Researcher = override.Researcher
	}
	if override.Writer != "" {
		m.Writer = override.Writer
	}
	if override.Critic != "" {
		m.Critic = override.Critic
	}
	return m
}

// ResearchTask is the unit of work tracked from creation to a terminal state.
type ResearchTask struct {
	ID            string         `json:"id"`
	Query         string         `json:"query"`
	Mode          Mode           `json:"mode"`
	Models        ResearchModels `json:"models"`
	CriticEnabled bool           `json:"critic_enabled"`
	Status        Status         `json:"status"`
	Progress      int            `json:"progress"`
	Results       []string       `json:"results"`
	Logs          []LogEntry     `json:"logs"`
	TotalCost     float64        `json:"total_cost"`
	Timestamp     int64          `json:"timestamp"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Transition moves the task to the given status, enforcing the lifecycle.
func (t *ResearchTask) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// AdvanceProgress raises progress to p. Lower values are ignored and the
// result is clamped to 0..100.
func (t *ResearchTask) AdvanceProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > t.Progress {
		t.Progress = p
	}
}

// AddLog appends a log entry.
func (t *ResearchTask) AddLog(agent, message string, ts int64) {
	t.Logs = append(t.Logs, LogEntry{Agent: agent, Message: message, Timestamp: ts})
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *ResearchTask) Clone() *ResearchTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.Results != nil {
		c.Results = append([]string(nil), t.Results...)
	}
	if t.Logs != nil {
		c.Logs = append([]LogEntry(nil), t.Logs...)
	}
	return &c
}
