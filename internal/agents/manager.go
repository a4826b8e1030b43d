package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrAgentNotFound indicates no agent is registered under the given ID.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrInvalidAgentType indicates an unknown agent type.
	ErrInvalidAgentType = errors.New("invalid agent type")
	// ErrInvalidCapability indicates a capability outside the known vocabulary.
	ErrInvalidCapability = errors.New("invalid capability")
	// ErrInvalidTransition indicates a status change the lifecycle machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrResourceExhausted indicates the agent is at its concurrent task cap.
	ErrResourceExhausted = errors.New("resource limit exhausted")
	// ErrTooManyAgents indicates the per-type registration cap was hit.
	ErrTooManyAgents = errors.New("too many agents of type")
)

// Config bounds the agent population.
type Config struct {
	// MaxAgentsPerType caps registrations per agent type.
	MaxAgentsPerType int
	// DefaultLimits applies when registration supplies zero limits.
	DefaultLimits models.ResourceLimits
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAgentsPerType: 10,
		DefaultLimits: models.ResourceLimits{
			MaxConcurrentTasks: 3,
			MaxMemoryEntries:   50,
		},
	}
}

// StatusUpdate is the body of a status_update broadcast. The
// coordinator decodes these to react to availability changes.
type StatusUpdate struct {
	AgentID string             `json:"agent_id"`
	Status  models.AgentStatus `json:"status"`
}

// Manager is the agent registry: it owns the lifecycle state machine,
// enforces resource limits, and announces status changes to the swarm.
type Manager struct {
	db    *store.DB
	comms *comms.Manager
	cfg   Config

	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewManager creates an agent registry. db and comms may be nil in tests.
func NewManager(db *store.DB, cm *comms.Manager, cfg Config) *Manager {
	if cfg.MaxAgentsPerType <= 0 {
		cfg.MaxAgentsPerType = DefaultConfig().MaxAgentsPerType
	}
	if cfg.DefaultLimits.MaxConcurrentTasks <= 0 {
		cfg.DefaultLimits = DefaultConfig().DefaultLimits
	}
	return &Manager{
		db:     db,
		comms:  cm,
		cfg:    cfg,
		agents: make(map[string]*models.Agent),
	}
}

// Load rehydrates the registry from the store. Agents come back idle
// with no active tasks; in-flight work did not survive the restart.
func (m *Manager) Load() error {
	if m.db == nil {
		return nil
	}
	stored, err := m.db.ListAgents("")
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range stored {
		a.ActiveTasks = 0
		if a.Status == models.AgentStatusBusy || a.Status == models.AgentStatusLearning {
			a.Status = models.AgentStatusIdle
		}
		m.agents[a.ID] = a
		if m.comms != nil {
			m.comms.RegisterInbox(a.ID)
		}
	}
	return nil
}

// Register adds an agent to the swarm. An empty capability set takes the
// type's defaults; explicit capabilities must come from the known
// vocabulary. The new agent starts idle with a registered inbox.
func (m *Manager) Register(typ models.AgentType, capabilities []models.Capability, limits models.ResourceLimits) (*models.Agent, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentType, typ)
	}
	if len(capabilities) == 0 {
		capabilities = models.DefaultCapabilities(typ)
	}
	for _, c := range capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapability, c)
		}
	}
	if limits.MaxConcurrentTasks <= 0 {
		limits.MaxConcurrentTasks = m.cfg.DefaultLimits.MaxConcurrentTasks
	}
	if limits.MaxMemoryEntries <= 0 {
		limits.MaxMemoryEntries = m.cfg.DefaultLimits.MaxMemoryEntries
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           fmt.Sprintf("%s-%s", typ, uuid.NewString()[:8]),
		Type:         typ,
		Capabilities: append([]models.Capability(nil), capabilities...),
		Status:       models.AgentStatusIdle,
		Limits:       limits,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	count := 0
	for _, a := range m.agents {
		if a.Type == typ {
			count++
		}
	}
	if count >= m.cfg.MaxAgentsPerType {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w %s: limit %d", ErrTooManyAgents, typ, m.cfg.MaxAgentsPerType)
	}
	m.agents[agent.ID] = agent
	m.mu.Unlock()

	if m.comms != nil {
		m.comms.RegisterInbox(agent.ID)
	}
	m.persist(agent)
	return agent.Clone(), nil
}

// Deregister removes an agent from the swarm and tears down its inbox.
func (m *Manager) Deregister(id string) error {
	m.mu.Lock()
	_, ok := m.agents[id]
	if ok {
		delete(m.agents, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	if m.comms != nil {
		m.comms.DeregisterInbox(id)
	}
	if m.db != nil {
		if err := m.db.DeleteAgent(id); err != nil {
			return fmt.Errorf("deregister %s: %w", id, err)
		}
	}
	return nil
}

// Get returns a copy of the agent, or ErrAgentNotFound.
func (m *Manager) Get(id string) (*models.Agent, error) {
	m.mu.RLock()
	agent, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent.Clone(), nil
}

// List returns copies of all agents, optionally filtered by status,
// ordered by ID for determinism.
func (m *Manager) List(status models.AgentStatus) []*models.Agent {
	m.mu.RLock()
	out := make([]*models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus moves an agent through its lifecycle machine and broadcasts
// the change to the swarm.
func (m *Manager) SetStatus(id string, next models.AgentStatus) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if !agent.Status.CanTransitionTo(next) {
		current := agent.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	agent.Status = next
	agent.UpdatedAt = time.Now().UTC()
	snapshot := agent.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	m.announce(snapshot)
	return nil
}

// Recover returns an errored agent to idle. This is the only exit from
// the error state.
func (m *Manager) Recover(id string) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if agent.Status != models.AgentStatusError {
		current := agent.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: recover from %s", ErrInvalidTransition, current)
	}
	agent.Status = models.AgentStatusIdle
	agent.ActiveTasks = 0
	agent.NeedsHealthCheck = false
	agent.UpdatedAt = time.Now().UTC()
	snapshot := agent.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	m.announce(snapshot)
	return nil
}

// MarkForHealthCheck flags an agent after a forced task timeout. The
// flag clears on Recover.
func (m *Manager) MarkForHealthCheck(id string) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if ok {
		agent.NeedsHealthCheck = true
		agent.UpdatedAt = time.Now().UTC()
	}
	var snapshot *models.Agent
	if ok {
		snapshot = agent.Clone()
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	m.persist(snapshot)
	return nil
}

// ReserveSlot claims one concurrent-task slot on the agent, moving it
// to busy. Fails with ErrResourceExhausted at the agent's limit.
func (m *Manager) ReserveSlot(id string) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if agent.Status != models.AgentStatusIdle && agent.Status != models.AgentStatusBusy {
		current := agent.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: reserve on %s agent", ErrInvalidTransition, current)
	}
	if agent.ActiveTasks >= agent.Limits.MaxConcurrentTasks {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s at %d tasks", ErrResourceExhausted, id, agent.ActiveTasks)
	}
	agent.ActiveTasks++
	becameBusy := agent.Status == models.AgentStatusIdle
	if becameBusy {
		agent.Status = models.AgentStatusBusy
	}
	agent.UpdatedAt = time.Now().UTC()
	snapshot := agent.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	if becameBusy {
		m.announce(snapshot)
	}
	return nil
}

// ReleaseSlot returns a concurrent-task slot. An agent with no active
// tasks left goes back to idle, which the swarm hears about.
func (m *Manager) ReleaseSlot(id string) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if agent.ActiveTasks > 0 {
		agent.ActiveTasks--
	}
	becameIdle := agent.ActiveTasks == 0 && agent.Status == models.AgentStatusBusy
	if becameIdle {
		agent.Status = models.AgentStatusIdle
	}
	agent.UpdatedAt = time.Now().UTC()
	snapshot := agent.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	if becameIdle {
		m.announce(snapshot)
	}
	return nil
}

// MemoryQuota reports the agent's MaxMemoryEntries limit, or zero for
// unknown agents. Implements the memory manager's quota provider.
func (m *Manager) MemoryQuota(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if agent, ok := m.agents[agentID]; ok {
		return agent.Limits.MaxMemoryEntries
	}
	return 0
}

// UpdatePerformance lets the learning engine adjust an agent's rolled-up
// performance view.
func (m *Manager) UpdatePerformance(id string, update func(*models.PerformanceSummary)) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	update(&agent.Performance)
	agent.UpdatedAt = time.Now().UTC()
	snapshot := agent.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	return nil
}

func (m *Manager) persist(agent *models.Agent) {
	if m.db == nil {
		return
	}
	if err := m.db.PutAgent(agent); err != nil {
		log.Printf("[agents] persist %s: %v", agent.ID, err)
	}
}

// announce broadcasts a status_update so peers and the coordinator can
// react to availability changes.
func (m *Manager) announce(agent *models.Agent) {
	if m.comms == nil {
		return
	}
	payload, err := json.Marshal(StatusUpdate{AgentID: agent.ID, Status: agent.Status})
	if err != nil {
		return
	}
	msg := comms.NewMessage(models.MessageStatusUpdate, agent.ID, "", models.PriorityNormal, payload)
	if _, err := m.comms.Broadcast(msg, nil); err != nil {
		log.Printf("[agents] announce %s: %v", agent.ID, err)
	}
}
