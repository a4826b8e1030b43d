package models

import "time"

// TeamPolicy is the coordination topology of an agent team.
type TeamPolicy string

const (
	// PolicyHierarchical routes all coordination through the team coordinator.
	PolicyHierarchical TeamPolicy = "hierarchical"
	// PolicyMesh lets every member communicate with every other member.
	PolicyMesh TeamPolicy = "mesh"
	// PolicyStar routes member-to-member traffic through the coordinator
	// but lets the coordinator broadcast to all members.
	PolicyStar TeamPolicy = "star"
)

// Valid returns true if the policy is a known value.
func (p TeamPolicy) Valid() bool {
	switch p {
	case PolicyHierarchical, PolicyMesh, PolicyStar:
		return true
	default:
		return false
	}
}

// AgentTeam is a named group of agents formed for one composite task.
// The team is disbanded when the composite task reaches a terminal state.
type AgentTeam struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// Name is the human-readable team name.
	Name string `json:"name"`
	// TaskID is the composite task the team was formed for.
	TaskID string `json:"task_id"`
	// Members lists the member agent IDs.
	Members []string `json:"members"`
	// Coordinator is the coordinating member for hierarchical and star
	// policies; empty for mesh.
	Coordinator string `json:"coordinator,omitempty"`
	// Policy is the coordination topology.
	Policy TeamPolicy `json:"policy"`
	// FormedAt is when the team was created.
	FormedAt time.Time `json:"formed_at"`
	// DisbandedAt is when the team was disbanded, if it has been.
	DisbandedAt *time.Time `json:"disbanded_at,omitempty"`
}
