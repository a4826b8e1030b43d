package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrTaskNotFound indicates no task exists under the given ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask indicates a delegation request that fails validation.
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidTransition indicates a task status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrCapabilityMismatch is returned by executors when the assigned
	// agent cannot actually perform the task. The coordinator reacts by
	// raising a conflict and reselecting.
	ErrCapabilityMismatch = errors.New("capability mismatch")
)

// TaskExecutor performs the actual work of a task on behalf of an
// agent. Implementations must respect ctx cancellation.
type TaskExecutor interface {
	Execute(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error)
}

// OutcomeRecorder receives task outcomes for the learning engine. The
// raw task input rides along so the engine can extract complexity
// attributes from the payload.
type OutcomeRecorder interface {
	RecordOutcome(rec *models.PerformanceRecord, input json.RawMessage)
}

// ConflictSink receives conflicts the coordinator detects during
// scheduling and execution.
type ConflictSink interface {
	Detect(typ models.ConflictType, agentIDs, taskIDs []string, context map[string]string)
}

// Config tunes scheduling and execution.
type Config struct {
	// TaskTimeout bounds a single execution attempt.
	TaskTimeout time.Duration
	// MaxRetries is how many times a failed task is retried, each time
	// on a different agent.
	MaxRetries int
	// ScheduleInterval is the idle-scan period of the scheduling loop.
	ScheduleInterval time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:      2 * time.Minute,
		MaxRetries:       1,
		ScheduleInterval: 500 * time.Millisecond,
	}
}

// execHandle identifies one execution attempt so a stale attempt never
// clears the cancel registration of its successor.
type execHandle struct {
	cancel context.CancelFunc
}

// taskUpdate is the body of task_update and task_completion messages.
type taskUpdate struct {
	TaskID     string            `json:"task_id"`
	Status     models.TaskStatus `json:"status"`
	AssignedTo string            `json:"assigned_to,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Coordinator owns the task lifecycle: it accepts delegations, tracks
// dependencies, selects agents, drives execution, and is the only
// component that moves tasks between states.
type Coordinator struct {
	db       *store.DB
	agents   *agents.Manager
	comms    *comms.Manager
	executor TaskExecutor
	cfg      Config

	penalties PenaltyProvider
	recorder  OutcomeRecorder
	conflicts ConflictSink

	mu      sync.RWMutex
	tasks   map[string]*models.Task
	graph   *depGraph
	teams   map[string]*models.AgentTeam
	cancels map[string]*execHandle

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a coordinator. db may be nil in tests; agents, comms and
// executor are required.
func New(db *store.DB, am *agents.Manager, cm *comms.Manager, executor TaskExecutor, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = def.ScheduleInterval
	}
	return &Coordinator{
		db:       db,
		agents:   am,
		comms:    cm,
		executor: executor,
		cfg:      cfg,
		tasks:    make(map[string]*models.Task),
		graph:    newDepGraph(),
		teams:    make(map[string]*models.AgentTeam),
		cancels:  make(map[string]*execHandle),
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// SetPenaltyProvider wires the learning engine's selection adjustments.
func (c *Coordinator) SetPenaltyProvider(p PenaltyProvider) { c.penalties = p }

// SetOutcomeRecorder wires the learning engine's outcome intake.
func (c *Coordinator) SetOutcomeRecorder(r OutcomeRecorder) { c.recorder = r }

// SetConflictSink wires the conflict resolver.
func (c *Coordinator) SetConflictSink(s ConflictSink) { c.conflicts = s }

// Start launches the scheduling loop.
func (c *Coordinator) Start() {
	inbox := c.comms.RegisterInbox(comms.CoordinatorID)
	c.wg.Add(1)
	go c.run(inbox)
}

// Stop cancels running tasks and shuts the scheduling loop down.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	for _, h := range c.cancels {
		h.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Delegate accepts a task into the swarm. The task enters blocked if it
// has incomplete dependencies, otherwise pending; assignment happens
// asynchronously as agents become available.
func (c *Coordinator) Delegate(task *models.Task) (*models.Task, error) {
	if task.Description == "" {
		return nil, fmt.Errorf("%w: empty description", ErrInvalidTask)
	}
	if !task.RequiredCapability.Valid() {
		return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidTask, task.RequiredCapability)
	}
	if task.Priority < models.PriorityLowest || task.Priority > models.PriorityUrgent {
		return nil, fmt.Errorf("%w: priority %d out of range", ErrInvalidTask, task.Priority)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.CreatedAt = time.Now().UTC()

	if err := c.graph.Add(task.ID, task.DependsOn); err != nil {
		return nil, err
	}

	if c.graph.Satisfied(task.ID) {
		task.Status = models.TaskStatusPending
	} else {
		task.Status = models.TaskStatusBlocked
	}

	c.mu.Lock()
	c.tasks[task.ID] = task
	snapshot := task.Clone()
	c.mu.Unlock()

	c.persist(snapshot)
	c.wake()
	return snapshot, nil
}

// DelegateBatch accepts a set of interdependent tasks atomically.
// Dependencies may reference other tasks in the batch in any order; a
// cycle or a dependency on an unknown task rejects the whole batch.
func (c *Coordinator) DelegateBatch(tasks []*models.Task) ([]*models.Task, error) {
	now := time.Now().UTC()
	edges := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		if task.Description == "" {
			return nil, fmt.Errorf("%w: empty description", ErrInvalidTask)
		}
		if !task.RequiredCapability.Valid() {
			return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidTask, task.RequiredCapability)
		}
		if task.Priority < models.PriorityLowest || task.Priority > models.PriorityUrgent {
			return nil, fmt.Errorf("%w: priority %d out of range", ErrInvalidTask, task.Priority)
		}
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		task.CreatedAt = now
		edges[task.ID] = task.DependsOn
	}
	if len(edges) != len(tasks) {
		return nil, fmt.Errorf("%w: duplicate task IDs in batch", ErrInvalidTask)
	}

	if err := c.graph.AddBatch(edges); err != nil {
		return nil, err
	}

	snapshots := make([]*models.Task, 0, len(tasks))
	c.mu.Lock()
	for _, task := range tasks {
		if c.graph.Satisfied(task.ID) {
			task.Status = models.TaskStatusPending
		} else {
			task.Status = models.TaskStatusBlocked
		}
		c.tasks[task.ID] = task
		snapshots = append(snapshots, task.Clone())
	}
	c.mu.Unlock()

	for _, s := range snapshots {
		c.persist(s)
	}
	c.wake()
	return snapshots, nil
}

// Get returns a copy of a task.
func (c *Coordinator) Get(taskID string) (*models.Task, error) {
	c.mu.RLock()
	task, ok := c.tasks[taskID]
	var snapshot *models.Task
	if ok {
		snapshot = task.Clone()
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return snapshot, nil
}

// List returns copies of all tasks, optionally filtered by status,
// ordered by creation time.
func (c *Coordinator) List(status models.TaskStatus) []*models.Task {
	c.mu.RLock()
	out := make([]*models.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel stops a task. Pending, blocked, and assigned tasks cancel
// immediately; an in-progress task has its execution context cancelled
// and the executor is expected to stop cooperatively.
func (c *Coordinator) Cancel(taskID string) error {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.Terminal() {
		status := task.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: cancel %s task", ErrInvalidTransition, status)
	}
	task.Status = models.TaskStatusCancelled
	now := time.Now().UTC()
	task.CompletedAt = &now
	handle := c.cancels[taskID]
	snapshot := task.Clone()
	c.mu.Unlock()

	// The execution goroutine owns the agent's slot; cancelling the
	// context makes it return and release.
	if handle != nil {
		handle.cancel()
	}
	c.persist(snapshot)
	c.announce(snapshot, models.MessageTaskUpdate)
	c.disbandForTask(taskID)
	return nil
}

// UpdateStatus applies an externally reported task transition, for
// agents that drive their own work instead of going through the
// executor: assigned -> in_progress when work starts, then completed or
// failed with the result payload. A failure payload may carry the
// detail in an "error" field. Cancellation routes through Cancel.
func (c *Coordinator) UpdateStatus(taskID string, status models.TaskStatus, result json.RawMessage) error {
	switch status {
	case models.TaskStatusInProgress:
		c.mu.Lock()
		task, ok := c.tasks[taskID]
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if task.Status != models.TaskStatusAssigned {
			from := task.Status
			c.mu.Unlock()
			return fmt.Errorf("%w: %s -> in_progress", ErrInvalidTransition, from)
		}
		task.Status = models.TaskStatusInProgress
		snapshot := task.Clone()
		c.mu.Unlock()

		c.persist(snapshot)
		c.announce(snapshot, models.MessageTaskUpdate)
		return nil

	case models.TaskStatusCompleted, models.TaskStatusFailed:
		current, err := c.Get(taskID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
		}
		var errMsg string
		if status == models.TaskStatusFailed {
			errMsg = gjson.GetBytes(result, "error").String()
			if errMsg == "" {
				errMsg = "reported failed"
			}
		}
		c.finish(taskID, status, result, errMsg)
		return nil

	case models.TaskStatusCancelled:
		return c.Cancel(taskID)

	default:
		return fmt.Errorf("%w: %s is not externally reportable", ErrInvalidTransition, status)
	}
}

// Reassign pushes a scheduled task back to pending, excluding the given
// agent from future selection. Used by the conflict resolver for
// capability mismatches.
func (c *Coordinator) Reassign(taskID, excludeAgent string) error {
	return c.requeue(taskID, excludeAgent, "reassigned")
}

// Preempt pushes a scheduled task back to pending without excluding its
// agent, freeing the agent for higher-priority work. Used by the
// conflict resolver for resource contention.
func (c *Coordinator) Preempt(taskID string) error {
	return c.requeue(taskID, "", "preempted")
}

func (c *Coordinator) requeue(taskID, excludeAgent, reason string) error {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !task.Status.CanTransitionTo(models.TaskStatusPending) {
		status := task.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> pending (%s)", ErrInvalidTransition, status, reason)
	}
	task.Status = models.TaskStatusPending
	task.AssignedTo = ""
	task.AssignedAt = nil
	if excludeAgent != "" {
		task.ExcludedAgents = append(task.ExcludedAgents, excludeAgent)
	}
	handle := c.cancels[taskID]
	snapshot := task.Clone()
	c.mu.Unlock()

	// Slot release belongs to the execution goroutine, which the
	// context cancellation unblocks.
	if handle != nil {
		handle.cancel()
	}
	c.persist(snapshot)
	c.announce(snapshot, models.MessageTaskUpdate)
	c.wake()
	return nil
}

func (c *Coordinator) run(inbox <-chan *models.Message) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case msg := <-inbox:
			c.handleMessage(msg)
		case <-c.notify:
			c.schedule()
		case <-ticker.C:
			c.schedule()
		}
	}
}

func (c *Coordinator) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageStatusUpdate:
		var update agents.StatusUpdate
		if err := json.Unmarshal(msg.Payload, &update); err != nil {
			return
		}
		// Newly idle agents may unblock pending work.
		if update.Status == models.AgentStatusIdle {
			c.schedule()
		}
	default:
		if msg.RequiresResponse {
			if err := c.comms.Acknowledge(msg.ID); err != nil {
				log.Printf("[coordinator] ack %s: %v", msg.ID, err)
			}
		}
	}
}

func (c *Coordinator) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// schedule assigns pending tasks to eligible agents, highest priority
// first. Tasks with no eligible agent stay pending.
func (c *Coordinator) schedule() {
	c.mu.RLock()
	var pending []*models.Task
	for _, t := range c.tasks {
		if t.Status == models.TaskStatusPending {
			pending = append(pending, t.Clone())
		}
	}
	c.mu.RUnlock()
	if len(pending) == 0 {
		return
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	candidates := c.agents.List("")
	for _, task := range pending {
		if !c.graph.Satisfied(task.ID) {
			continue
		}
		agent := selectAgent(task, candidates, c.penalties)
		if agent == nil {
			continue
		}
		if err := c.agents.ReserveSlot(agent.ID); err != nil {
			continue
		}
		if !c.assign(task.ID, agent) {
			if err := c.agents.ReleaseSlot(agent.ID); err != nil {
				log.Printf("[coordinator] release slot %s: %v", agent.ID, err)
			}
			continue
		}
		// Refresh the candidate view so load changes register.
		candidates = c.agents.List("")
	}
}

// assign moves a pending task to in_progress on the given agent and
// spawns its execution goroutine. Returns false if the task changed
// state since the scheduling snapshot.
func (c *Coordinator) assign(taskID string, agent *models.Agent) bool {
	now := time.Now().UTC()

	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || task.Status != models.TaskStatusPending {
		c.mu.Unlock()
		return false
	}
	task.Status = models.TaskStatusAssigned
	task.AssignedTo = agent.ID
	task.AssignedAt = &now
	snapshot := task.Clone()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TaskTimeout)
	handle := &execHandle{cancel: cancel}
	c.cancels[taskID] = handle
	task.Status = models.TaskStatusInProgress
	running := task.Clone()
	c.mu.Unlock()

	c.persist(snapshot)
	c.notifyAgent(snapshot, agent.ID)
	c.persist(running)
	c.announce(running, models.MessageTaskUpdate)
	c.detectConflicts(running)

	c.wg.Add(1)
	go c.execute(ctx, handle, agent, running)
	return true
}

// detectConflicts checks a newly placed task against other live
// assignments. A shared exclusive resource claim raises
// resource_contention; duplicate work on the same capability raises
// task_overlap. Must not be called with mu held: the sink resolves
// synchronously and calls back into Preempt/Reassign.
func (c *Coordinator) detectConflicts(task *models.Task) {
	if c.conflicts == nil {
		return
	}
	claims := resourceClaims(task.Input)

	c.mu.RLock()
	var live []*models.Task
	for _, t := range c.tasks {
		if t.ID == task.ID {
			continue
		}
		if t.Status != models.TaskStatusAssigned && t.Status != models.TaskStatusInProgress {
			continue
		}
		live = append(live, t.Clone())
	}
	c.mu.RUnlock()

	for _, other := range live {
		if key := sharedClaim(claims, resourceClaims(other.Input)); key != "" {
			c.conflicts.Detect(models.ConflictResourceContention,
				involvedAgents(other, task), []string{other.ID, task.ID},
				map[string]string{"resource": key})
			continue
		}
		if other.RequiredCapability == task.RequiredCapability && other.Description == task.Description {
			c.conflicts.Detect(models.ConflictTaskOverlap,
				involvedAgents(other, task), []string{other.ID, task.ID}, nil)
		}
	}
}

// resourceClaims extracts the exclusive resource keys a task declares
// in its input payload ("resources" array).
func resourceClaims(input json.RawMessage) []string {
	var keys []string
	for _, v := range gjson.GetBytes(input, "resources").Array() {
		if s := v.String(); s != "" {
			keys = append(keys, s)
		}
	}
	return keys
}

// sharedClaim returns the first resource key claimed by both tasks.
func sharedClaim(a, b []string) string {
	for _, ka := range a {
		for _, kb := range b {
			if ka == kb {
				return ka
			}
		}
	}
	return ""
}

func involvedAgents(tasks ...*models.Task) []string {
	var ids []string
	for _, t := range tasks {
		if t.AssignedTo != "" {
			ids = append(ids, t.AssignedTo)
		}
	}
	return ids
}

// execute runs one attempt of a task and routes the outcome.
func (c *Coordinator) execute(ctx context.Context, handle *execHandle, agent *models.Agent, task *models.Task) {
	defer c.wg.Done()
	defer handle.cancel()

	started := time.Now()
	output, err := c.executor.Execute(ctx, agent, task)
	duration := time.Since(started)

	c.mu.Lock()
	if c.cancels[task.ID] == handle {
		delete(c.cancels, task.ID)
	}
	current, ok := c.tasks[task.ID]
	alreadyFinal := !ok || current.Status.Terminal() || current.Status == models.TaskStatusPending
	c.mu.Unlock()

	if releaseErr := c.agents.ReleaseSlot(agent.ID); releaseErr != nil {
		log.Printf("[coordinator] release slot %s: %v", agent.ID, releaseErr)
	}

	// Cancelled, preempted, or reassigned while running: the outcome no
	// longer matters.
	if alreadyFinal {
		return
	}

	switch {
	case err == nil:
		c.finish(task.ID, models.TaskStatusCompleted, output, "")
		c.record(agent, task, true, duration)

	case errors.Is(err, ErrCapabilityMismatch):
		if c.conflicts != nil {
			c.conflicts.Detect(models.ConflictCapabilityMismatch,
				[]string{agent.ID}, []string{task.ID},
				map[string]string{"capability": string(task.RequiredCapability)})
		}
		if requeueErr := c.Reassign(task.ID, agent.ID); requeueErr != nil {
			log.Printf("[coordinator] reassign %s: %v", task.ID, requeueErr)
		}

	case errors.Is(err, context.DeadlineExceeded):
		// Forced timeout: the agent may be wedged, flag it for a health
		// check before it gets more work.
		if hcErr := c.agents.MarkForHealthCheck(agent.ID); hcErr != nil {
			log.Printf("[coordinator] health check %s: %v", agent.ID, hcErr)
		}
		c.retryOrFail(agent, task, fmt.Sprintf("timed out after %s", c.cfg.TaskTimeout), duration)

	case errors.Is(err, context.Canceled):
		// Cancellation was handled by whoever cancelled.

	default:
		c.retryOrFail(agent, task, err.Error(), duration)
	}
}

// retryOrFail retries a failed task on a different agent until the
// retry budget runs out.
func (c *Coordinator) retryOrFail(agent *models.Agent, task *models.Task, reason string, duration time.Duration) {
	c.mu.Lock()
	current, ok := c.tasks[task.ID]
	canRetry := ok && current.RetryCount < c.cfg.MaxRetries
	if canRetry {
		current.RetryCount++
	}
	c.mu.Unlock()

	c.record(agent, task, false, duration)

	if canRetry {
		if err := c.Reassign(task.ID, agent.ID); err != nil {
			log.Printf("[coordinator] retry %s: %v", task.ID, err)
		}
		return
	}
	c.finish(task.ID, models.TaskStatusFailed, nil, reason)
}

// finish moves a task to a terminal state and runs completion side
// effects: dependent unblocking (or cascading failure), completion
// messaging, and team disbanding.
func (c *Coordinator) finish(taskID string, status models.TaskStatus, output json.RawMessage, errMsg string) {
	now := time.Now().UTC()

	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || !task.Status.CanTransitionTo(status) {
		c.mu.Unlock()
		return
	}
	task.Status = status
	task.Output = output
	task.Error = errMsg
	task.CompletedAt = &now
	snapshot := task.Clone()
	handle := c.cancels[taskID]

	var unblocked, cascaded []*models.Task
	if status == models.TaskStatusCompleted {
		c.graph.MarkComplete(taskID)
		for _, depID := range c.graph.Dependents(taskID) {
			dep, ok := c.tasks[depID]
			if !ok || dep.Status != models.TaskStatusBlocked || !c.graph.Satisfied(depID) {
				continue
			}
			dep.Status = models.TaskStatusPending
			unblocked = append(unblocked, dep.Clone())
		}
	} else if status == models.TaskStatusFailed {
		cascaded = c.failDependentsLocked(taskID, now)
	}
	c.mu.Unlock()

	// An externally reported result supersedes any attempt still running.
	if handle != nil {
		handle.cancel()
	}
	c.persist(snapshot)
	// Terminal outcomes, success or failure, go out as task_completion;
	// the taskUpdate body carries the failure detail.
	c.announce(snapshot, models.MessageTaskCompletion)
	for _, t := range unblocked {
		c.persist(t)
		c.announce(t, models.MessageTaskUpdate)
	}
	for _, t := range cascaded {
		c.persist(t)
		c.announce(t, models.MessageTaskUpdate)
	}
	c.disbandForTask(taskID)
	c.wake()
}

// failDependentsLocked cascades a failure through blocked dependents.
// Caller holds mu.
func (c *Coordinator) failDependentsLocked(taskID string, now time.Time) []*models.Task {
	var failed []*models.Task
	for _, depID := range c.graph.Dependents(taskID) {
		dep, ok := c.tasks[depID]
		if !ok || dep.Status != models.TaskStatusBlocked {
			continue
		}
		dep.Status = models.TaskStatusFailed
		dep.Error = fmt.Sprintf("dependency %s failed", taskID)
		dep.CompletedAt = &now
		failed = append(failed, dep.Clone())
		failed = append(failed, c.failDependentsLocked(depID, now)...)
	}
	return failed
}

// record hands a task outcome to the learning engine.
func (c *Coordinator) record(agent *models.Agent, task *models.Task, success bool, duration time.Duration) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordOutcome(&models.PerformanceRecord{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		Capability: task.RequiredCapability,
		TaskID:     task.ID,
		Success:    success,
		Duration:   duration,
		RecordedAt: time.Now().UTC(),
	}, task.Input)
}

// notifyAgent sends the task_delegation message that hands a task to
// its assigned agent.
func (c *Coordinator) notifyAgent(task *models.Task, agentID string) {
	payload, err := json.Marshal(task)
	if err != nil {
		return
	}
	msg := comms.NewMessage(models.MessageTaskDelegation, comms.CoordinatorID, agentID, task.Priority, payload)
	if _, err := c.comms.Send(msg); err != nil {
		log.Printf("[coordinator] delegate notify %s: %v", task.ID, err)
	}
}

// announce broadcasts a task lifecycle change.
func (c *Coordinator) announce(task *models.Task, typ models.MessageType) {
	payload, err := json.Marshal(taskUpdate{
		TaskID:     task.ID,
		Status:     task.Status,
		AssignedTo: task.AssignedTo,
		Error:      task.Error,
	})
	if err != nil {
		return
	}
	msg := comms.NewMessage(typ, comms.CoordinatorID, "", task.Priority, payload)
	if _, err := c.comms.Broadcast(msg, nil); err != nil {
		log.Printf("[coordinator] announce %s: %v", task.ID, err)
	}
}

func (c *Coordinator) persist(task *models.Task) {
	if c.db == nil {
		return
	}
	if err := c.db.PutTask(task); err != nil {
		log.Printf("[coordinator] persist %s: %v", task.ID, err)
	}
}
