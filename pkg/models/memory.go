package models

import (
	"encoding/json"
	"time"
)

// MemoryTier identifies one layer of the tiered memory store.
type MemoryTier string

const (
	// TierWorking is the hot tier searched first on retrieval.
	TierWorking MemoryTier = "working"
	// TierShortTerm holds recent context that has aged out of working.
	TierShortTerm MemoryTier = "short_term"
	// TierLongTerm holds durable per-agent knowledge.
	TierLongTerm MemoryTier = "long_term"
	// TierShared is readable and writable by any agent, subject to
	// version arbitration.
	TierShared MemoryTier = "shared"
)

// Valid returns true if the tier is a known value.
func (t MemoryTier) Valid() bool {
	switch t {
	case TierWorking, TierShortTerm, TierLongTerm, TierShared:
		return true
	default:
		return false
	}
}

// RetrievalOrder is the tier search order for reads. A hit outside the
// working tier is promoted into working.
var RetrievalOrder = []MemoryTier{TierWorking, TierShortTerm, TierLongTerm, TierShared}

// MemoryRecord is one entry in an agent's tiered memory.
type MemoryRecord struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// AgentID is the owning agent. Shared-tier records keep the writer's ID.
	AgentID string `json:"agent_id"`
	// Tier is the layer this record lives in.
	Tier MemoryTier `json:"tier"`
	// Category namespaces keys (e.g. "task_context", "observations").
	Category string `json:"category"`
	// Key identifies the record within its category.
	Key string `json:"key"`
	// Value is the stored payload.
	Value json.RawMessage `json:"value"`
	// Importance weights eviction; 0 is disposable, 1 is critical.
	Importance float64 `json:"importance"`
	// AccessCount is incremented on every retrieval hit.
	AccessCount int `json:"access_count"`
	// LastAccessed is the time of the most recent retrieval or store.
	LastAccessed time.Time `json:"last_accessed"`
	// Version increments on every shared-tier write; used for
	// compare-and-swap arbitration.
	Version int `json:"version"`
	// ExpiresAt is the optional expiry; zero means no TTL.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// CreatedAt is when the record was first stored.
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the record's TTL has elapsed at now.
func (r *MemoryRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
