package models

import "time"

// KnowledgeKind classifies a shared piece of knowledge.
type KnowledgeKind string

const (
	// KnowledgePattern is a statistically observed correlation.
	KnowledgePattern KnowledgeKind = "pattern"
	// KnowledgeInsight is a distilled observation without hard statistics.
	KnowledgeInsight KnowledgeKind = "insight"
	// KnowledgeSolution is a concrete fix for a known problem.
	KnowledgeSolution KnowledgeKind = "solution"
	// KnowledgeStrategy is an approach recommendation.
	KnowledgeStrategy KnowledgeKind = "strategy"
)

// Valid returns true if the kind is a known value.
func (k KnowledgeKind) Valid() bool {
	switch k {
	case KnowledgePattern, KnowledgeInsight, KnowledgeSolution, KnowledgeStrategy:
		return true
	default:
		return false
	}
}

// KnowledgeRecord is a distilled, reusable insight shared between agents.
type KnowledgeRecord struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// SourceAgent is the agent (or component) that produced the knowledge.
	SourceAgent string `json:"source_agent"`
	// TargetAgent is the intended consumer; empty means broadcast to
	// capability-matching agents.
	TargetAgent string `json:"target_agent,omitempty"`
	// Kind classifies the knowledge.
	Kind KnowledgeKind `json:"kind"`
	// Content is the knowledge body.
	Content string `json:"content"`
	// Context describes when the knowledge applies, typically the
	// capability it concerns.
	Context string `json:"context,omitempty"`
	// Confidence is the producer's confidence at creation (0-1).
	Confidence float64 `json:"confidence"`
	// Effectiveness is updated asynchronously as consumers report
	// application outcomes (0-1).
	Effectiveness float64 `json:"effectiveness"`
	// Applications is the number of reported applications.
	Applications int `json:"applications"`
	// CreatedAt is when the knowledge was produced.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last effectiveness update.
	UpdatedAt time.Time `json:"updated_at"`
}
