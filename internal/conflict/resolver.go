package conflict

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrConflictNotFound indicates no conflict exists under the given ID.
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrConflictUnresolved indicates a resolution attempt that could not
	// produce an outcome.
	ErrConflictUnresolved = errors.New("conflict unresolved")
	// ErrInvalidConflict indicates a malformed conflict report.
	ErrInvalidConflict = errors.New("invalid conflict")
)

// TaskControl is the narrow slice of the coordinator the resolver needs
// to act on conflicts.
type TaskControl interface {
	Get(taskID string) (*models.Task, error)
	Preempt(taskID string) error
	Reassign(taskID, excludeAgent string) error
}

// Config tunes resolution behavior.
type Config struct {
	// EscalationTimeout is how long an escalated conflict waits for an
	// external decision before falling back to automatic resolution.
	EscalationTimeout time.Duration
	// DeadlockThreshold is how old a pending request must be before the
	// deadlock scan considers it part of a cycle.
	DeadlockThreshold time.Duration
	// ScanInterval is the deadlock scan period.
	ScanInterval time.Duration
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{
		EscalationTimeout: 30 * time.Second,
		DeadlockThreshold: 5 * time.Second,
		ScanInterval:      time.Second,
	}
}

// EscalationRequest surfaces a conflict to an external decision maker.
// Respond by sending an outcome string on Response; silence past the
// escalation timeout falls back to automatic resolution.
type EscalationRequest struct {
	Conflict *models.Conflict
	Response chan string
}

// Resolver detects and resolves conflicts between agents. Each conflict
// type has a deterministic automatic strategy; escalation hands the
// decision outward with a timeout fallback, and manual resolution waits
// for an explicit Resolve call.
type Resolver struct {
	db    *store.DB
	coord TaskControl
	comms *comms.Manager
	cfg   Config

	mu        sync.RWMutex
	conflicts map[string]*models.Conflict

	escalations chan *EscalationRequest
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New creates a resolver. db may be nil in tests.
func New(db *store.DB, coord TaskControl, cm *comms.Manager, cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = def.EscalationTimeout
	}
	if cfg.DeadlockThreshold <= 0 {
		cfg.DeadlockThreshold = def.DeadlockThreshold
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	return &Resolver{
		db:          db,
		coord:       coord,
		comms:       cm,
		cfg:         cfg,
		conflicts:   make(map[string]*models.Conflict),
		escalations: make(chan *EscalationRequest, 16),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the deadlock scan loop.
func (r *Resolver) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop shuts the scan loop down.
func (r *Resolver) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Escalations returns the stream of conflicts awaiting an external
// decision.
func (r *Resolver) Escalations() <-chan *EscalationRequest {
	return r.escalations
}

// Detect records a conflict and resolves it with the automatic strategy
// for its type. Implements the coordinator's conflict sink.
func (r *Resolver) Detect(typ models.ConflictType, agentIDs, taskIDs []string, context map[string]string) {
	c, err := r.Raise(typ, agentIDs, taskIDs, context, models.ResolutionAutomatic)
	if err != nil {
		log.Printf("[conflict] detect %s: %v", typ, err)
		return
	}
	if err := r.resolve(c); err != nil {
		log.Printf("[conflict] resolve %s: %v", c.ID, err)
	}
}

// Raise records a conflict under the given strategy. Automatic and
// escalated conflicts should be passed to resolve; manual conflicts
// wait for Resolve.
func (r *Resolver) Raise(typ models.ConflictType, agentIDs, taskIDs []string, context map[string]string, strategy models.ResolutionStrategy) (*models.Conflict, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidConflict, typ)
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConflict, strategy)
	}
	if len(agentIDs) == 0 && len(taskIDs) == 0 {
		return nil, fmt.Errorf("%w: no agents or tasks involved", ErrInvalidConflict)
	}

	c := &models.Conflict{
		ID:         uuid.NewString(),
		Type:       typ,
		Agents:     append([]string(nil), agentIDs...),
		TaskIDs:    append([]string(nil), taskIDs...),
		Context:    context,
		Strategy:   strategy,
		DetectedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.conflicts[c.ID] = c
	r.mu.Unlock()
	r.persist(c)
	return c, nil
}

// Submit runs the recorded conflict through its strategy: automatic
// resolves immediately, escalate waits for an external decision with an
// automatic fallback, manual returns ErrConflictUnresolved until
// Resolve is called.
func (r *Resolver) Submit(conflictID string) error {
	r.mu.RLock()
	c, ok := r.conflicts[conflictID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	if c.Resolved() {
		return nil
	}

	switch c.Strategy {
	case models.ResolutionAutomatic:
		return r.resolve(c)
	case models.ResolutionEscalate:
		return r.escalate(c)
	case models.ResolutionManual:
		return fmt.Errorf("%w: %s awaits manual resolution", ErrConflictUnresolved, conflictID)
	default:
		return fmt.Errorf("%w: strategy %q", ErrInvalidConflict, c.Strategy)
	}
}

// Resolve records an outcome for a conflict, completing manual and
// escalated resolutions.
func (r *Resolver) Resolve(conflictID, outcome string) error {
	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if ok && !c.Resolved() {
		now := time.Now().UTC()
		c.Outcome = outcome
		c.ResolvedAt = &now
	}
	var snapshot *models.Conflict
	if ok {
		snapshot = c
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	r.persist(snapshot)
	return nil
}

// Get returns a conflict by ID.
func (r *Resolver) Get(conflictID string) (*models.Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	return cloneConflict(c), nil
}

// List returns conflicts, newest first, optionally only unresolved ones.
func (r *Resolver) List(unresolvedOnly bool) []*models.Conflict {
	r.mu.RLock()
	out := make([]*models.Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		if unresolvedOnly && c.Resolved() {
			continue
		}
		out = append(out, cloneConflict(c))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// resolve applies the automatic strategy for the conflict's type.
func (r *Resolver) resolve(c *models.Conflict) error {
	var outcome string
	var err error

	switch c.Type {
	case models.ConflictResourceContention:
		outcome, err = r.resolveContention(c)
	case models.ConflictTaskOverlap:
		outcome, err = r.resolveOverlap(c)
	case models.ConflictCommunicationDeadlock:
		outcome, err = r.resolveDeadlock(c)
	case models.ConflictCapabilityMismatch:
		// The coordinator reselects on mismatch; the resolver records it.
		outcome = fmt.Sprintf("reselected excluding agent %s", joinIDs(c.Agents))
	default:
		err = fmt.Errorf("%w: type %q", ErrInvalidConflict, c.Type)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConflictUnresolved, err)
	}
	return r.Resolve(c.ID, outcome)
}

// resolveContention preempts all but the highest-priority task fighting
// over a resource. Priority ties go to the earlier delegation, then to
// the lexicographically smaller task ID so the result is deterministic.
func (r *Resolver) resolveContention(c *models.Conflict) (string, error) {
	tasks, err := r.loadTasks(c.TaskIDs)
	if err != nil {
		return "", err
	}
	if len(tasks) < 2 {
		return "", fmt.Errorf("contention needs at least two live tasks")
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})

	winner := tasks[0]
	var preempted []string
	for _, t := range tasks[1:] {
		if err := r.coord.Preempt(t.ID); err != nil {
			log.Printf("[conflict] preempt %s: %v", t.ID, err)
			continue
		}
		preempted = append(preempted, t.ID)
	}
	return fmt.Sprintf("task %s holds %s; preempted %s",
		winner.ID, c.Context["resource"], joinIDs(preempted)), nil
}

// resolveOverlap keeps the earliest assignment and requeues the rest,
// excluding their agents so the overlap does not immediately recur.
// Assignment-time ties break on task ID.
func (r *Resolver) resolveOverlap(c *models.Conflict) (string, error) {
	tasks, err := r.loadTasks(c.TaskIDs)
	if err != nil {
		return "", err
	}
	if len(tasks) < 2 {
		return "", fmt.Errorf("overlap needs at least two live tasks")
	}

	sort.Slice(tasks, func(i, j int) bool {
		ai, aj := tasks[i].AssignedAt, tasks[j].AssignedAt
		switch {
		case ai != nil && aj != nil && !ai.Equal(*aj):
			return ai.Before(*aj)
		case ai != nil && aj == nil:
			return true
		case ai == nil && aj != nil:
			return false
		}
		return tasks[i].ID < tasks[j].ID
	})

	winner := tasks[0]
	var requeued []string
	for _, t := range tasks[1:] {
		if err := r.coord.Reassign(t.ID, t.AssignedTo); err != nil {
			log.Printf("[conflict] reassign %s: %v", t.ID, err)
			continue
		}
		requeued = append(requeued, t.ID)
	}
	return fmt.Sprintf("task %s keeps the work; requeued %s", winner.ID, joinIDs(requeued)), nil
}

// resolveDeadlock breaks a request/response cycle by force-timing-out
// the oldest pending request in it.
func (r *Resolver) resolveDeadlock(c *models.Conflict) (string, error) {
	corrID := c.Context["correlation_id"]
	if corrID == "" {
		return "", fmt.Errorf("no correlation to break")
	}
	if !r.comms.ForceTimeout(corrID) {
		return fmt.Sprintf("request %s already completed", corrID), nil
	}
	return fmt.Sprintf("forced timeout of request %s", corrID), nil
}

// escalate hands a conflict to the escalation channel and waits for an
// outcome, falling back to automatic resolution on timeout.
func (r *Resolver) escalate(c *models.Conflict) error {
	req := &EscalationRequest{
		Conflict: c,
		Response: make(chan string, 1),
	}

	timer := time.NewTimer(r.cfg.EscalationTimeout)
	defer timer.Stop()

	select {
	case r.escalations <- req:
	case <-timer.C:
		return r.fallback(c, "escalation queue full")
	case <-r.stopCh:
		return fmt.Errorf("%w: resolver stopped", ErrConflictUnresolved)
	}

	select {
	case outcome := <-req.Response:
		return r.Resolve(c.ID, outcome)
	case <-timer.C:
		return r.fallback(c, "escalation timed out")
	case <-r.stopCh:
		return fmt.Errorf("%w: resolver stopped", ErrConflictUnresolved)
	}
}

func (r *Resolver) fallback(c *models.Conflict, reason string) error {
	log.Printf("[conflict] %s for %s; applying automatic strategy", reason, c.ID)
	return r.resolve(c)
}

func (r *Resolver) loadTasks(ids []string) ([]*models.Task, error) {
	var tasks []*models.Task
	for _, id := range ids {
		t, err := r.coord.Get(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *Resolver) persist(c *models.Conflict) {
	if r.db == nil {
		return
	}
	if err := r.db.PutConflict(c); err != nil {
		log.Printf("[conflict] persist %s: %v", c.ID, err)
	}
}

func cloneConflict(c *models.Conflict) *models.Conflict {
	cp := *c
	cp.Agents = append([]string(nil), c.Agents...)
	cp.TaskIDs = append([]string(nil), c.TaskIDs...)
	if c.Context != nil {
		cp.Context = make(map[string]string, len(c.Context))
		for k, v := range c.Context {
			cp.Context[k] = v
		}
	}
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

// joinIDs formats ID lists for outcome messages.
func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
