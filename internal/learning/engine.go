package learning

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrKnowledgeNotFound indicates no knowledge record under the given ID.
	ErrKnowledgeNotFound = errors.New("knowledge not found")
	// ErrInvalidKnowledge indicates a malformed knowledge record.
	ErrInvalidKnowledge = errors.New("invalid knowledge")
)

// Config tunes the learning engine.
type Config struct {
	// WindowSize is the rolling sample window per agent+capability pair.
	WindowSize int
	// MinSamples is how many samples a window needs before the engine
	// draws conclusions from it.
	MinSamples int
	// PatternConfidence is the minimum confidence for extracting a
	// pattern into shared knowledge.
	PatternConfidence float64
	// MaxPenalty caps the selection penalty an adaptation may apply.
	// Adaptations bias scheduling; they never disqualify an agent.
	MaxPenalty float64
}

// DefaultConfig returns the learning defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:        20,
		MinSamples:        5,
		PatternConfidence: 0.7,
		MaxPenalty:        0.5,
	}
}

// windowKey identifies one rolling performance window.
type windowKey struct {
	agentID    string
	capability models.Capability
}

// Engine turns task outcomes into performance windows, bounded behavior
// adaptations, and shareable knowledge. It never mutates an agent's
// declared capability set.
type Engine struct {
	db     *store.DB
	agents *agents.Manager
	comms  *comms.Manager
	cfg    Config

	mu        sync.RWMutex
	windows   map[windowKey][]*models.PerformanceRecord
	deltas    map[windowKey]*models.BehaviorDelta
	knowledge map[string]*models.KnowledgeRecord
	extracted map[windowKey]bool
}

// New creates a learning engine. db, agents and comms may be nil in tests.
func New(db *store.DB, am *agents.Manager, cm *comms.Manager, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.PatternConfidence <= 0 {
		cfg.PatternConfidence = def.PatternConfidence
	}
	if cfg.MaxPenalty <= 0 || cfg.MaxPenalty > 0.5 {
		cfg.MaxPenalty = def.MaxPenalty
	}
	return &Engine{
		db:        db,
		agents:    am,
		comms:     cm,
		cfg:       cfg,
		windows:   make(map[windowKey][]*models.PerformanceRecord),
		deltas:    make(map[windowKey]*models.BehaviorDelta),
		knowledge: make(map[string]*models.KnowledgeRecord),
		extracted: make(map[windowKey]bool),
	}
}

// RecordOutcome ingests one task outcome: it lands in the rolling
// window, updates the agent's rolled-up summary, and re-evaluates the
// agent's adaptation for that capability. Implements the coordinator's
// outcome recorder.
func (e *Engine) RecordOutcome(rec *models.PerformanceRecord, input json.RawMessage) {
	if rec.Complexity == 0 {
		rec.Complexity = extractComplexity(input)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	key := windowKey{agentID: rec.AgentID, capability: rec.Capability}

	e.mu.Lock()
	window := append(e.windows[key], rec)
	if len(window) > e.cfg.WindowSize {
		window = window[len(window)-e.cfg.WindowSize:]
	}
	e.windows[key] = window
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.PutPerformance(rec); err != nil {
			log.Printf("[learning] persist outcome %s: %v", rec.ID, err)
		}
	}

	e.updateSummary(rec)
	e.reevaluate(key)
}

// SuccessRate returns the success ratio of the rolling window for an
// agent+capability pair, and the number of samples backing it.
func (e *Engine) SuccessRate(agentID string, capability models.Capability) (float64, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	window := e.windows[windowKey{agentID: agentID, capability: capability}]
	if len(window) == 0 {
		return 0, 0
	}
	successes := 0
	for _, rec := range window {
		if rec.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(window)), len(window)
}

// Window returns a copy of the rolling window for inspection.
func (e *Engine) Window(agentID string, capability models.Capability) []*models.PerformanceRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	window := e.windows[windowKey{agentID: agentID, capability: capability}]
	out := make([]*models.PerformanceRecord, len(window))
	copy(out, window)
	return out
}

// updateSummary folds an outcome into the agent's rolled-up view using
// rolling averages over its lifetime counts.
func (e *Engine) updateSummary(rec *models.PerformanceRecord) {
	if e.agents == nil {
		return
	}
	err := e.agents.UpdatePerformance(rec.AgentID, func(p *models.PerformanceSummary) {
		if rec.Success {
			p.TasksCompleted++
		} else {
			p.TasksFailed++
		}
		n := p.TasksCompleted + p.TasksFailed
		p.AvgDuration = time.Duration((int64(p.AvgDuration)*int64(n-1) + int64(rec.Duration)) / int64(n))
		if rec.Quality > 0 {
			p.QualityScore = (p.QualityScore*float64(n-1) + rec.Quality) / float64(n)
		}
		p.LastActive = rec.RecordedAt
	})
	if err != nil {
		log.Printf("[learning] summary %s: %v", rec.AgentID, err)
	}
}
