package coordinator

import (
	"sort"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PenaltyProvider exposes the learning engine's selection adjustments.
// A penalty in [0, 0.5] lowers an agent's standing for a capability
// without ever disqualifying it outright.
type PenaltyProvider interface {
	SelectionPenalty(agentID string, capability models.Capability) float64
}

// selectAgent picks the best agent for a task: capability match first,
// then least loaded, with success rate and learning penalty breaking
// ties. Agent ID is the final tie-break so selection is deterministic.
// Returns nil when no agent qualifies.
func selectAgent(task *models.Task, candidates []*models.Agent, penalties PenaltyProvider) *models.Agent {
	excluded := make(map[string]bool, len(task.ExcludedAgents))
	for _, id := range task.ExcludedAgents {
		excluded[id] = true
	}
	return selectForCapability(task.RequiredCapability, candidates, penalties, excluded)
}

// selectForCapability picks the best available agent declaring a single
// capability, skipping excluded IDs. Also used for team assembly.
func selectForCapability(capability models.Capability, candidates []*models.Agent, penalties PenaltyProvider, excluded map[string]bool) *models.Agent {
	var eligible []*models.Agent
	for _, a := range candidates {
		if excluded[a.ID] || a.NeedsHealthCheck {
			continue
		}
		if a.Status != models.AgentStatusIdle && a.Status != models.AgentStatusBusy {
			continue
		}
		if a.ActiveTasks >= a.Limits.MaxConcurrentTasks {
			continue
		}
		if !models.HasCapability(a.Capabilities, capability) {
			continue
		}
		eligible = append(eligible, a)
	}
	if len(eligible) == 0 {
		return nil
	}

	score := func(a *models.Agent) float64 {
		load := float64(a.ActiveTasks) / float64(a.Limits.MaxConcurrentTasks)
		s := load - successRate(a)
		if penalties != nil {
			s += penalties.SelectionPenalty(a.ID, capability)
		}
		return s
	}

	sort.Slice(eligible, func(i, j int) bool {
		si, sj := score(eligible[i]), score(eligible[j])
		if si != sj {
			return si < sj
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0]
}

// successRate returns the agent's completion ratio, optimistically 1.0
// for agents with no history so new agents get work.
func successRate(a *models.Agent) float64 {
	total := a.Performance.TasksCompleted + a.Performance.TasksFailed
	if total == 0 {
		return 1.0
	}
	return float64(a.Performance.TasksCompleted) / float64(total)
}
