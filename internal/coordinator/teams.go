package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrTeamNotFound indicates no team exists under the given ID.
	ErrTeamNotFound = errors.New("team not found")
	// ErrInvalidTeam indicates a team formation request that fails validation.
	ErrInvalidTeam = errors.New("invalid team")
)

// FormTeam assembles a team covering the given capabilities: one member
// is selected per capability with the same scoring used for task
// assignment, and an agent already on the team covers every capability
// it declares. Hierarchical and star teams get the first member as
// coordinator; mesh teams have none. A team formed around a task
// disbands automatically when that task reaches a terminal state.
func (c *Coordinator) FormTeam(name, taskID string, capabilities []models.Capability, policy models.TeamPolicy) (*models.AgentTeam, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidTeam, policy)
	}
	if len(capabilities) == 0 {
		return nil, fmt.Errorf("%w: no capabilities", ErrInvalidTeam)
	}
	for _, cap := range capabilities {
		if !cap.Valid() {
			return nil, fmt.Errorf("%w: %q", agents.ErrInvalidCapability, cap)
		}
	}
	if taskID != "" {
		if _, err := c.Get(taskID); err != nil {
			return nil, err
		}
	}

	candidates := c.agents.List("")
	var members []string
	onTeam := make(map[string]bool)
	covered := func(cap models.Capability) bool {
		for _, a := range candidates {
			if onTeam[a.ID] && models.HasCapability(a.Capabilities, cap) {
				return true
			}
		}
		return false
	}
	for _, cap := range capabilities {
		if covered(cap) {
			continue
		}
		agent := selectForCapability(cap, candidates, c.penalties, onTeam)
		if agent == nil {
			return nil, fmt.Errorf("%w: no agent offers %q", ErrInvalidTeam, cap)
		}
		members = append(members, agent.ID)
		onTeam[agent.ID] = true
	}

	team := &models.AgentTeam{
		ID:       uuid.NewString(),
		Name:     name,
		TaskID:   taskID,
		Members:  members,
		Policy:   policy,
		FormedAt: time.Now().UTC(),
	}
	if policy != models.PolicyMesh {
		team.Coordinator = members[0]
	}

	c.mu.Lock()
	c.teams[team.ID] = team
	c.mu.Unlock()
	return cloneTeam(team), nil
}

// Team returns a copy of a team.
func (c *Coordinator) Team(teamID string) (*models.AgentTeam, error) {
	c.mu.RLock()
	team, ok := c.teams[teamID]
	var snapshot *models.AgentTeam
	if ok {
		snapshot = cloneTeam(team)
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}
	return snapshot, nil
}

// Teams returns copies of all teams, including disbanded ones, ordered
// by formation time.
func (c *Coordinator) Teams() []*models.AgentTeam {
	c.mu.RLock()
	out := make([]*models.AgentTeam, 0, len(c.teams))
	for _, t := range c.teams {
		out = append(out, cloneTeam(t))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FormedAt.Equal(out[j].FormedAt) {
			return out[i].FormedAt.Before(out[j].FormedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DisbandTeam marks a team as disbanded. Idempotent.
func (c *Coordinator) DisbandTeam(teamID string) error {
	now := time.Now().UTC()
	c.mu.Lock()
	team, ok := c.teams[teamID]
	if ok && team.DisbandedAt == nil {
		team.DisbandedAt = &now
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}
	return nil
}

// disbandForTask disbands every active team formed around the task.
func (c *Coordinator) disbandForTask(taskID string) {
	now := time.Now().UTC()
	c.mu.Lock()
	for _, team := range c.teams {
		if team.TaskID == taskID && team.DisbandedAt == nil {
			team.DisbandedAt = &now
		}
	}
	c.mu.Unlock()
}

func cloneTeam(t *models.AgentTeam) *models.AgentTeam {
	cp := *t
	cp.Members = append([]string(nil), t.Members...)
	if t.DisbandedAt != nil {
		at := *t.DisbandedAt
		cp.DisbandedAt = &at
	}
	return &cp
}
