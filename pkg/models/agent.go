package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is executing at least one task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusLearning indicates the agent is consuming shared knowledge.
	AgentStatusLearning AgentStatus = "learning"
	// AgentStatusError indicates the agent hit an unrecoverable fault and
	// needs an explicit recovery call before accepting work again.
	AgentStatusError AgentStatus = "error"
	// AgentStatusMaintenance blocks new task assignment without
	// interrupting in-flight tasks.
	AgentStatusMaintenance AgentStatus = "maintenance"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusLearning,
		AgentStatusError, AgentStatusMaintenance:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status machine permits moving from
// s to next. Any state may enter error or maintenance; error only leaves
// through an explicit recovery (handled by the agent manager, which calls
// this with next == idle after Recover).
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	if !next.Valid() {
		return false
	}
	if next == AgentStatusError || next == AgentStatusMaintenance {
		return true
	}
	switch s {
	case AgentStatusIdle:
		return next == AgentStatusBusy || next == AgentStatusLearning
	case AgentStatusBusy:
		return next == AgentStatusIdle
	case AgentStatusLearning:
		return next == AgentStatusIdle
	case AgentStatusMaintenance:
		return next == AgentStatusIdle
	case AgentStatusError:
		// Only Recover may move error back to idle.
		return false
	default:
		return false
	}
}

// ResourceLimits bounds what a single agent may consume.
type ResourceLimits struct {
	// MaxConcurrentTasks is the maximum number of tasks the agent may
	// execute at once. An agent's active task count never exceeds it.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// MaxMemoryEntries caps the agent's working-tier memory entries.
	MaxMemoryEntries int `json:"max_memory_entries"`
}

// PerformanceSummary is the rolled-up performance of an agent, maintained
// by the learning engine.
type PerformanceSummary struct {
	// TasksCompleted is the number of tasks finished successfully.
	TasksCompleted int `json:"tasks_completed"`
	// TasksFailed is the number of tasks that ended in failure.
	TasksFailed int `json:"tasks_failed"`
	// AvgDuration is the mean task duration across completions.
	AvgDuration time.Duration `json:"avg_duration"`
	// QualityScore is the mean reported quality (0-1) across completions.
	QualityScore float64 `json:"quality_score"`
	// LastActive is the last time the agent finished a task.
	LastActive time.Time `json:"last_active"`
}

// Agent represents an independently executing worker with a declared
// capability set.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Type is the agent's declared specialization.
	Type AgentType `json:"type"`
	// Capabilities is the closed set of skills the agent declares.
	// The learning engine never mutates this set.
	Capabilities []Capability `json:"capabilities"`
	// Status is the current lifecycle state.
	Status AgentStatus `json:"status"`
	// Limits bounds the agent's resource consumption.
	Limits ResourceLimits `json:"limits"`
	// ActiveTasks is the number of tasks currently assigned.
	ActiveTasks int `json:"active_tasks"`
	// Performance is the learning engine's rolled-up view.
	Performance PerformanceSummary `json:"performance"`
	// NeedsHealthCheck flags the agent after a forced task timeout.
	NeedsHealthCheck bool `json:"needs_health_check,omitempty"`
	// RegisteredAt is when the agent joined the swarm.
	RegisteredAt time.Time `json:"registered_at"`
	// UpdatedAt is the last time any field changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the owning manager.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]Capability(nil), a.Capabilities...)
	return &cp
}
