package models

import "time"

// ConflictType classifies a detected contention between agents.
type ConflictType string

const (
	// ConflictResourceContention: two agents require the same exclusive resource.
	ConflictResourceContention ConflictType = "resource_contention"
	// ConflictTaskOverlap: two agents are assigned overlapping work.
	ConflictTaskOverlap ConflictType = "task_overlap"
	// ConflictCommunicationDeadlock: a circular request-response wait.
	ConflictCommunicationDeadlock ConflictType = "communication_deadlock"
	// ConflictCapabilityMismatch: the assigned agent cannot actually
	// perform the task at runtime.
	ConflictCapabilityMismatch ConflictType = "capability_mismatch"
)

// Valid returns true if the conflict type is a known value.
func (t ConflictType) Valid() bool {
	switch t {
	case ConflictResourceContention, ConflictTaskOverlap,
		ConflictCommunicationDeadlock, ConflictCapabilityMismatch:
		return true
	default:
		return false
	}
}

// ResolutionStrategy selects how a conflict is handled.
type ResolutionStrategy string

const (
	// ResolutionAutomatic applies the default strategy for the conflict type.
	ResolutionAutomatic ResolutionStrategy = "automatic"
	// ResolutionEscalate surfaces the conflict to the escalation sink and
	// blocks only the involved agents.
	ResolutionEscalate ResolutionStrategy = "escalate"
	// ResolutionManual records the conflict and waits for an explicit
	// Resolve call.
	ResolutionManual ResolutionStrategy = "manual"
)

// Valid returns true if the strategy is a known value.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolutionAutomatic, ResolutionEscalate, ResolutionManual:
		return true
	default:
		return false
	}
}

// Conflict records a detected contention and its resolution. A conflict
// is terminal once its outcome is recorded.
type Conflict struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// Type classifies the conflict.
	Type ConflictType `json:"type"`
	// Agents lists the involved agent IDs.
	Agents []string `json:"agents"`
	// TaskIDs lists the involved task IDs, if any.
	TaskIDs []string `json:"task_ids,omitempty"`
	// Context is a snapshot of the contested state (resource key,
	// correlation IDs, assignment timestamps).
	Context map[string]string `json:"context,omitempty"`
	// Strategy is the resolution strategy chosen.
	Strategy ResolutionStrategy `json:"strategy"`
	// Outcome describes how the conflict was resolved.
	Outcome string `json:"outcome,omitempty"`
	// DetectedAt is when the conflict was detected.
	DetectedAt time.Time `json:"detected_at"`
	// ResolvedAt is when the outcome was recorded, if it has been.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the conflict has reached its terminal state.
func (c *Conflict) Resolved() bool {
	return c.ResolvedAt != nil
}
