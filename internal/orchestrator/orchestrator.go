// Package orchestrator wires the swarm subsystems together: persistence,
// messaging, memory, the agent registry, task coordination, conflict
// resolution, and learning. It owns startup order, background
// maintenance, and shutdown.
package orchestrator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/conflict"
	"github.com/ShayCichocki/swarm/internal/coordinator"
	"github.com/ShayCichocki/swarm/internal/learning"
	"github.com/ShayCichocki/swarm/internal/memory"
	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// Orchestrator composes the swarm subsystems. Construct with New, then
// Start; subsystems are exported for the API and CLI layers.
type Orchestrator struct {
	cfg *config.Config
	db  *store.DB

	Comms       *comms.Manager
	Memory      *memory.Manager
	Agents      *agents.Manager
	Coordinator *coordinator.Coordinator
	Conflicts   *conflict.Resolver
	Learning    *learning.Engine

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// Option customizes orchestrator construction.
type Option func(*options)

type options struct {
	executor coordinator.TaskExecutor
}

// WithExecutor overrides the default comms-backed task executor.
// Embedded deployments use this to run tasks in-process.
func WithExecutor(e coordinator.TaskExecutor) Option {
	return func(o *options) { o.executor = e }
}

// New builds the full subsystem graph from configuration. The database
// is opened (and its schema migrated) here; persisted agents and memory
// are rehydrated so a restart resumes where the previous run stopped.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	path := cfg.Store.Path
	if path == "" {
		path = config.DefaultStorePath()
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	cm := comms.NewManager(db, comms.Config{
		InboxSize:     cfg.Comms.InboxSize,
		MaxRetries:    cfg.Comms.MaxRetries,
		RetryBackoff:  cfg.Comms.RetryBackoff,
		AckTimeout:    cfg.Comms.AckTimeout,
		SweepInterval: cfg.Comms.SweepInterval,
	})

	mm := memory.NewManager(db, memory.Config{
		Capacity: map[models.MemoryTier]int{
			models.TierWorking:   cfg.Memory.Working.Capacity,
			models.TierShortTerm: cfg.Memory.ShortTerm.Capacity,
			models.TierLongTerm:  cfg.Memory.LongTerm.Capacity,
			models.TierShared:    cfg.Memory.Shared.Capacity,
		},
		TTL: map[models.MemoryTier]time.Duration{
			models.TierWorking:   cfg.Memory.Working.TTL,
			models.TierShortTerm: cfg.Memory.ShortTerm.TTL,
			models.TierLongTerm:  cfg.Memory.LongTerm.TTL,
			models.TierShared:    cfg.Memory.Shared.TTL,
		},
	})

	am := agents.NewManager(db, cm, agents.Config{
		MaxAgentsPerType: cfg.Agents.MaxAgentsPerType,
		DefaultLimits: models.ResourceLimits{
			MaxConcurrentTasks: cfg.Agents.MaxConcurrentTasks,
			MaxMemoryEntries:   cfg.Agents.MaxMemoryEntries,
		},
	})

	executor := o.executor
	if executor == nil {
		executor = NewCommsExecutor(cm, cfg.Coordinator.TaskTimeout)
	}
	coord := coordinator.New(db, am, cm, executor, coordinator.Config{
		TaskTimeout:      cfg.Coordinator.TaskTimeout,
		MaxRetries:       cfg.Coordinator.MaxRetries,
		ScheduleInterval: cfg.Coordinator.ScheduleInterval,
	})

	resolver := conflict.New(db, coord, cm, conflict.Config{
		EscalationTimeout: cfg.Conflict.EscalationTimeout,
		DeadlockThreshold: cfg.Conflict.DeadlockThreshold,
		ScanInterval:      cfg.Conflict.ScanInterval,
	})

	engine := learning.New(db, am, cm, learning.Config{
		WindowSize:        cfg.Learning.WindowSize,
		MinSamples:        cfg.Learning.MinSamples,
		PatternConfidence: cfg.Learning.PatternConfidence,
		MaxPenalty:        cfg.Learning.MaxPenalty,
	})

	// Cross-wiring: the learning engine biases agent selection and
	// ingests outcomes; the resolver receives detected conflicts; the
	// agent registry supplies per-agent working-memory quotas.
	coord.SetPenaltyProvider(engine)
	coord.SetOutcomeRecorder(engine)
	coord.SetConflictSink(resolver)
	mm.SetQuotaProvider(am)

	orch := &Orchestrator{
		cfg:         cfg,
		db:          db,
		Comms:       cm,
		Memory:      mm,
		Agents:      am,
		Coordinator: coord,
		Conflicts:   resolver,
		Learning:    engine,
		stopCh:      make(chan struct{}),
	}

	if err := am.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load agents: %w", err)
	}
	if err := mm.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load memory: %w", err)
	}

	return orch, nil
}

// Start launches all background loops.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	o.Comms.Start()
	o.Coordinator.Start()
	o.Conflicts.Start()

	o.wg.Add(1)
	go o.maintain()

	log.Printf("[orchestrator] started")
}

// Stop shuts the swarm down: coordinator first so no new work starts,
// then the resolver and the bus, then the database.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	close(o.stopCh)
	o.wg.Wait()

	o.Coordinator.Stop()
	o.Conflicts.Stop()
	o.Comms.Stop()

	if err := o.db.Close(); err != nil {
		log.Printf("[orchestrator] close store: %v", err)
	}
	log.Printf("[orchestrator] stopped")
}

// Config returns the active configuration.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// maintain runs the periodic housekeeping: expired-memory sweeps and
// pattern extraction.
func (o *Orchestrator) maintain() {
	defer o.wg.Done()

	cleanupEvery := o.cfg.Memory.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	patternsEvery := o.cfg.Learning.PatternInterval
	if patternsEvery <= 0 {
		patternsEvery = 30 * time.Second
	}

	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()
	patterns := time.NewTicker(patternsEvery)
	defer patterns.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-cleanup.C:
			if n := o.Memory.Cleanup(time.Now().UTC()); n > 0 {
				log.Printf("[orchestrator] swept %d expired memory records", n)
			}
		case <-patterns.C:
			if recs := o.Learning.ExtractPatterns(); len(recs) > 0 {
				log.Printf("[orchestrator] extracted %d patterns", len(recs))
			}
		}
	}
}

// AgentStatus is the rolled-up view of one agent: registry state,
// memory usage per tier, and any active behavior adaptations.
type AgentStatus struct {
	Agent  *models.Agent             `json:"agent"`
	Memory map[models.MemoryTier]int `json:"memory"`
	Deltas []models.BehaviorDelta    `json:"deltas,omitempty"`
	Tasks  map[models.TaskStatus]int `json:"tasks,omitempty"`
}

// AgentStatus reports one agent's state. The read is side-effect free;
// repeated calls return the same view until the swarm moves on.
func (o *Orchestrator) AgentStatus(agentID string) (*AgentStatus, error) {
	agent, err := o.Agents.Get(agentID)
	if err != nil {
		return nil, err
	}

	tasks := make(map[models.TaskStatus]int)
	for _, t := range o.Coordinator.List("") {
		if t.AssignedTo == agentID {
			tasks[t.Status]++
		}
	}

	return &AgentStatus{
		Agent:  agent,
		Memory: o.Memory.Counts(agentID),
		Deltas: o.Learning.Deltas(agentID),
		Tasks:  tasks,
	}, nil
}
