package api

import (
	"encoding/json"
	"net/http"

	"github.com/ShayCichocki/swarm/internal/orchestrator"
	"github.com/ShayCichocki/swarm/pkg/models"
)

type createAgentRequest struct {
	Type         models.AgentType      `json:"type"`
	Capabilities []models.Capability   `json:"capabilities,omitempty"`
	Limits       models.ResourceLimits `json:"limits"`
}

func (s *Server) createAgent(r *http.Request) (any, error) {
	var req createAgentRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Agents.Register(req.Type, req.Capabilities, req.Limits)
}

type agentIDRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) deregisterAgent(r *http.Request) (any, error) {
	var req agentIDRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.orch.Agents.Deregister(req.AgentID); err != nil {
		return nil, err
	}
	return map[string]string{"agent_id": req.AgentID, "status": "deregistered"}, nil
}

type listAgentsRequest struct {
	Status models.AgentStatus `json:"status,omitempty"`
}

func (s *Server) listAgents(r *http.Request) (any, error) {
	var req listAgentsRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Agents.List(req.Status), nil
}

func (s *Server) getAgentStatus(r *http.Request) (any, error) {
	var req agentIDRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if req.AgentID != "" {
		return s.orch.AgentStatus(req.AgentID)
	}
	// No agent named: report the whole roster.
	all := s.orch.Agents.List("")
	statuses := make([]*orchestrator.AgentStatus, 0, len(all))
	for _, agent := range all {
		status, err := s.orch.AgentStatus(agent.ID)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

type delegateTaskRequest struct {
	Description        string            `json:"description"`
	RequiredCapability models.Capability `json:"required_capability"`
	Priority           int               `json:"priority"`
	DependsOn          []string          `json:"depends_on,omitempty"`
	Input              json.RawMessage   `json:"input,omitempty"`
}

func (req *delegateTaskRequest) toTask() *models.Task {
	return &models.Task{
		Description:        req.Description,
		RequiredCapability: req.RequiredCapability,
		Priority:           req.Priority,
		DependsOn:          req.DependsOn,
		Input:              req.Input,
	}
}

func (s *Server) delegateTask(r *http.Request) (any, error) {
	var req delegateTaskRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Coordinator.Delegate(req.toTask())
}

type delegateBatchRequest struct {
	Tasks []delegateBatchItem `json:"tasks"`
}

// delegateBatchItem carries an ID so items in the same batch can
// reference each other as dependencies before any of them exist.
type delegateBatchItem struct {
	ID string `json:"id,omitempty"`
	delegateTaskRequest
}

func (s *Server) delegateBatch(r *http.Request) (any, error) {
	var req delegateBatchRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(req.Tasks))
	for _, item := range req.Tasks {
		task := item.toTask()
		task.ID = item.ID
		tasks = append(tasks, task)
	}
	return s.orch.Coordinator.DelegateBatch(tasks)
}

type taskIDRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) getTask(r *http.Request) (any, error) {
	var req taskIDRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Coordinator.Get(req.TaskID)
}

type listTasksRequest struct {
	Status models.TaskStatus `json:"status,omitempty"`
}

func (s *Server) listTasks(r *http.Request) (any, error) {
	var req listTasksRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Coordinator.List(req.Status), nil
}

func (s *Server) cancelTask(r *http.Request) (any, error) {
	var req taskIDRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.orch.Coordinator.Cancel(req.TaskID); err != nil {
		return nil, err
	}
	return s.orch.Coordinator.Get(req.TaskID)
}

type coordinateTeamRequest struct {
	Name         string              `json:"name"`
	TaskID       string              `json:"task_id,omitempty"`
	Capabilities []models.Capability `json:"capabilities"`
	Policy       models.TeamPolicy   `json:"policy"`
}

func (s *Server) coordinateTeam(r *http.Request) (any, error) {
	var req coordinateTeamRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Coordinator.FormTeam(req.Name, req.TaskID, req.Capabilities, req.Policy)
}

type teamIDRequest struct {
	TeamID string `json:"team_id"`
}

func (s *Server) disbandTeam(r *http.Request) (any, error) {
	var req teamIDRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.orch.Coordinator.DisbandTeam(req.TeamID); err != nil {
		return nil, err
	}
	return map[string]string{"team_id": req.TeamID, "status": "disbanded"}, nil
}

type listConflictsRequest struct {
	UnresolvedOnly bool `json:"unresolved_only,omitempty"`
}

func (s *Server) listConflicts(r *http.Request) (any, error) {
	var req listConflictsRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Conflicts.List(req.UnresolvedOnly), nil
}

type resolveConflictRequest struct {
	ConflictID string `json:"conflict_id"`
	Outcome    string `json:"outcome"`
}

func (s *Server) resolveConflict(r *http.Request) (any, error) {
	var req resolveConflictRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.orch.Conflicts.Resolve(req.ConflictID, req.Outcome); err != nil {
		return nil, err
	}
	return s.orch.Conflicts.Get(req.ConflictID)
}

func (s *Server) shareKnowledge(r *http.Request) (any, error) {
	var k models.KnowledgeRecord
	if err := decode(r, &k); err != nil {
		return nil, err
	}
	if err := s.orch.Learning.ShareKnowledge(&k); err != nil {
		return nil, err
	}
	return &k, nil
}

type listKnowledgeRequest struct {
	Context string `json:"context,omitempty"`
}

func (s *Server) listKnowledge(r *http.Request) (any, error) {
	var req listKnowledgeRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.orch.Learning.Knowledge(req.Context), nil
}

type storeMemoryRequest struct {
	AgentID    string            `json:"agent_id"`
	Tier       models.MemoryTier `json:"tier"`
	Category   string            `json:"category"`
	Key        string            `json:"key"`
	Value      json.RawMessage   `json:"value"`
	Importance float64           `json:"importance"`
	// ExpectedVersion applies to the shared tier only: the write is a
	// compare-and-swap against the current version (0 for a fresh key).
	ExpectedVersion int `json:"expected_version,omitempty"`
}

func (s *Server) storeMemory(r *http.Request) (any, error) {
	var req storeMemoryRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if req.Tier == models.TierShared {
		return s.orch.Memory.StoreShared(req.AgentID, req.Category, req.Key, req.Value, req.Importance, req.ExpectedVersion)
	}
	return s.orch.Memory.Store(req.AgentID, req.Tier, req.Category, req.Key, req.Value, req.Importance, 0)
}

type retrieveMemoryRequest struct {
	AgentID  string `json:"agent_id"`
	Category string `json:"category"`
	Key      string `json:"key"`
}

func (s *Server) retrieveMemory(r *http.Request) (any, error) {
	var req retrieveMemoryRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	rec, err := s.orch.Memory.Retrieve(req.AgentID, req.Category, req.Key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]any{"found": false}, nil
	}
	return rec, nil
}
