package learning

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// adaptThreshold is the success rate below which an adaptation kicks in.
const adaptThreshold = 0.8

// SelectionPenalty returns the current scheduling penalty for an
// agent+capability pair. Implements the coordinator's penalty provider.
func (e *Engine) SelectionPenalty(agentID string, capability models.Capability) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if delta, ok := e.deltas[windowKey{agentID: agentID, capability: capability}]; ok {
		return delta.SelectionPenalty
	}
	return 0
}

// Adapt forces a re-evaluation of every window the agent has and
// returns the resulting behavior deltas. RecordOutcome re-evaluates
// incrementally, so calling this is only needed to pick up config
// changes or for inspection.
func (e *Engine) Adapt(agentID string) []models.BehaviorDelta {
	e.mu.RLock()
	var keys []windowKey
	for key := range e.windows {
		if key.agentID == agentID {
			keys = append(keys, key)
		}
	}
	e.mu.RUnlock()

	for _, key := range keys {
		e.reevaluate(key)
	}
	return e.Deltas(agentID)
}

// Deltas returns the active behavior adaptations for an agent, for audit.
func (e *Engine) Deltas(agentID string) []models.BehaviorDelta {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.BehaviorDelta
	for key, delta := range e.deltas {
		if key.agentID == agentID {
			out = append(out, *delta)
		}
	}
	return out
}

// reevaluate recomputes the adaptation for one window. A struggling
// window gets a penalty proportional to its failure rate, capped at
// MaxPenalty; a recovered window clears its delta. The penalty biases
// selection but never removes the agent from consideration, and the
// agent's declared capability set is untouched.
func (e *Engine) reevaluate(key windowKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	window := e.windows[key]
	if len(window) < e.cfg.MinSamples {
		return
	}

	successes := 0
	var successCeiling float64
	failuresWithComplexity := 0
	for _, rec := range window {
		if rec.Success {
			successes++
			if rec.Complexity > successCeiling {
				successCeiling = rec.Complexity
			}
		} else if rec.Complexity > 0 {
			failuresWithComplexity++
		}
	}
	rate := float64(successes) / float64(len(window))

	if rate >= adaptThreshold {
		delete(e.deltas, key)
		e.extracted[key] = false
		return
	}

	delta := &models.BehaviorDelta{
		AgentID:          key.agentID,
		SelectionPenalty: (1 - rate) * e.cfg.MaxPenalty,
		Reason: fmt.Sprintf("success rate %.2f over %d %s tasks",
			rate, len(window), key.capability),
		AppliedAt: time.Now().UTC(),
	}
	// When failures carry complexity attributes, soft-cap the agent at
	// the highest complexity it has handled successfully.
	if failuresWithComplexity >= 2 && successCeiling > 0 {
		delta.ComplexityCeiling = successCeiling
	}
	e.deltas[key] = delta
}
