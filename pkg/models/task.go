package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates no eligible agent is available yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusBlocked indicates at least one dependency is not completed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusAssigned indicates an agent has been selected but has not
	// started executing.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the assigned agent is executing.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully. Terminal.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed after retry exhaustion. Terminal.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing. Terminal.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusBlocked, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a task never leaves.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo reports whether the task state machine permits moving
// from s to next. Transitions are owned solely by the task coordinator.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if next == TaskStatusCancelled {
		return true
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusAssigned || next == TaskStatusBlocked
	case TaskStatusBlocked:
		return next == TaskStatusPending || next == TaskStatusFailed
	case TaskStatusAssigned:
		return next == TaskStatusInProgress || next == TaskStatusPending
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusPending
	default:
		return false
	}
}

// Task represents a unit of work delegated to the swarm.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is the human-readable statement of the work.
	Description string `json:"description"`
	// RequiredCapability is the capability an agent must declare to run it.
	RequiredCapability Capability `json:"required_capability"`
	// Priority orders competing tasks; higher wins (0-4).
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must complete before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the agent working on this task, if any.
	AssignedTo string `json:"assigned_to,omitempty"`
	// ExcludedAgents lists agents that must not receive this task again
	// (failed attempts, capability mismatches).
	ExcludedAgents []string `json:"excluded_agents,omitempty"`
	// Input is the opaque task payload handed to the executor.
	Input json.RawMessage `json:"input,omitempty"`
	// Output is the result payload reported on completion.
	Output json.RawMessage `json:"output,omitempty"`
	// Error contains the failure detail if the task failed.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of retry attempts made so far.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the task was delegated.
	CreatedAt time.Time `json:"created_at"`
	// AssignedAt is when the current assignment was made, if any.
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand outside the coordinator.
func (t *Task) Clone() *Task {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.ExcludedAgents = append([]string(nil), t.ExcludedAgents...)
	cp.Input = append(json.RawMessage(nil), t.Input...)
	cp.Output = append(json.RawMessage(nil), t.Output...)
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		cp.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		cp.CompletedAt = &ct
	}
	return &cp
}
