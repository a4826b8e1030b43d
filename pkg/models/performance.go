package models

import "time"

// PerformanceRecord is one outcome sample for an agent+capability pair,
// persisted by the learning engine and aggregated into rolling windows.
type PerformanceRecord struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// AgentID is the agent that executed the task.
	AgentID string `json:"agent_id"`
	// Capability is the capability the task required.
	Capability Capability `json:"capability"`
	// TaskID is the task that produced this sample.
	TaskID string `json:"task_id"`
	// Success records whether the task completed successfully.
	Success bool `json:"success"`
	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`
	// Quality is the reported quality score (0-1); zero when unreported.
	Quality float64 `json:"quality"`
	// Complexity is the task complexity attribute, if the task payload
	// declared one; zero otherwise.
	Complexity float64 `json:"complexity,omitempty"`
	// RecordedAt is when the outcome was recorded.
	RecordedAt time.Time `json:"recorded_at"`
}

// BehaviorDelta is the bounded, auditable adaptation the learning engine
// may apply to an agent. It biases scheduling but never changes what the
// agent claims to be able to do.
type BehaviorDelta struct {
	// AgentID is the adapted agent.
	AgentID string `json:"agent_id"`
	// SelectionPenalty (0-0.5) lowers the agent's selection score during
	// capability-based candidate ranking.
	SelectionPenalty float64 `json:"selection_penalty"`
	// ComplexityCeiling soft-caps the task complexity the agent should be
	// handed; zero means no ceiling.
	ComplexityCeiling float64 `json:"complexity_ceiling,omitempty"`
	// Reason explains the adaptation for audit.
	Reason string `json:"reason"`
	// AppliedAt is when the delta took effect.
	AppliedAt time.Time `json:"applied_at"`
}
