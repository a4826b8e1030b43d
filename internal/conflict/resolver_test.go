package conflict

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// fakeControl records resolver actions against the coordinator.
type fakeControl struct {
	mu         sync.Mutex
	tasks      map[string]*models.Task
	preempted  []string
	reassigned map[string]string // task ID -> excluded agent
}

func newFakeControl(tasks ...*models.Task) *fakeControl {
	f := &fakeControl{
		tasks:      make(map[string]*models.Task),
		reassigned: make(map[string]string),
	}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeControl) Get(taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return t.Clone(), nil
}

func (f *fakeControl) Preempt(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preempted = append(f.preempted, taskID)
	return nil
}

func (f *fakeControl) Reassign(taskID, excludeAgent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reassigned[taskID] = excludeAgent
	return nil
}

func TestRaise_Validation(t *testing.T) {
	r := New(nil, newFakeControl(), nil, Config{})

	_, err := r.Raise("gridlock", []string{"a"}, nil, nil, models.ResolutionAutomatic)
	assert.ErrorIs(t, err, ErrInvalidConflict)

	_, err = r.Raise(models.ConflictTaskOverlap, []string{"a"}, nil, nil, "coin-flip")
	assert.ErrorIs(t, err, ErrInvalidConflict)

	_, err = r.Raise(models.ConflictTaskOverlap, nil, nil, nil, models.ResolutionAutomatic)
	assert.ErrorIs(t, err, ErrInvalidConflict)
}

func TestResourceContention_PriorityPreemption(t *testing.T) {
	now := time.Now().UTC()
	high := &models.Task{ID: "t-high", Priority: models.PriorityUrgent, Status: models.TaskStatusInProgress, CreatedAt: now}
	low := &models.Task{ID: "t-low", Priority: models.PriorityLow, Status: models.TaskStatusInProgress, CreatedAt: now}
	ctl := newFakeControl(high, low)
	r := New(nil, ctl, nil, Config{})

	r.Detect(models.ConflictResourceContention, []string{"a1", "a2"},
		[]string{"t-high", "t-low"}, map[string]string{"resource": "db-main"})

	conflicts := r.List(false)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.True(t, c.Resolved())
	assert.Contains(t, c.Outcome, "t-high holds db-main")

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Equal(t, []string{"t-low"}, ctl.preempted)
}

func TestResourceContention_DeterministicTieBreak(t *testing.T) {
	now := time.Now().UTC()
	a := &models.Task{ID: "t-a", Priority: models.PriorityNormal, Status: models.TaskStatusInProgress, CreatedAt: now}
	b := &models.Task{ID: "t-b", Priority: models.PriorityNormal, Status: models.TaskStatusInProgress, CreatedAt: now}
	ctl := newFakeControl(a, b)
	r := New(nil, ctl, nil, Config{})

	// Equal priority and creation time: the smaller task ID wins.
	r.Detect(models.ConflictResourceContention, nil, []string{"t-b", "t-a"},
		map[string]string{"resource": "index"})

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Equal(t, []string{"t-b"}, ctl.preempted)
}

func TestTaskOverlap_EarliestAssignmentWins(t *testing.T) {
	early := time.Now().UTC().Add(-time.Minute)
	late := time.Now().UTC()
	first := &models.Task{ID: "t-1", Status: models.TaskStatusInProgress, AssignedTo: "a1", AssignedAt: &early}
	second := &models.Task{ID: "t-2", Status: models.TaskStatusInProgress, AssignedTo: "a2", AssignedAt: &late}
	ctl := newFakeControl(first, second)
	r := New(nil, ctl, nil, Config{})

	r.Detect(models.ConflictTaskOverlap, []string{"a1", "a2"}, []string{"t-2", "t-1"}, nil)

	conflicts := r.List(false)
	require.Len(t, conflicts, 1)
	assert.Contains(t, conflicts[0].Outcome, "t-1 keeps the work")

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Empty(t, ctl.preempted)
	assert.Equal(t, "a2", ctl.reassigned["t-2"], "loser requeues excluding its agent")
	_, winnerTouched := ctl.reassigned["t-1"]
	assert.False(t, winnerTouched)
}

func TestManual_WaitsForResolve(t *testing.T) {
	r := New(nil, newFakeControl(), nil, Config{})

	c, err := r.Raise(models.ConflictTaskOverlap, []string{"a1"}, []string{"t-1"}, nil, models.ResolutionManual)
	require.NoError(t, err)

	err = r.Submit(c.ID)
	assert.ErrorIs(t, err, ErrConflictUnresolved)

	unresolved := r.List(true)
	require.Len(t, unresolved, 1)

	require.NoError(t, r.Resolve(c.ID, "operator reassigned t-1 by hand"))
	assert.Empty(t, r.List(true))
	require.NoError(t, r.Submit(c.ID), "submitting a resolved conflict is a no-op")

	assert.ErrorIs(t, r.Resolve("nope", "x"), ErrConflictNotFound)
}

func TestEscalation_ExternalDecision(t *testing.T) {
	r := New(nil, newFakeControl(), nil, Config{EscalationTimeout: 5 * time.Second})

	go func() {
		req := <-r.Escalations()
		req.Response <- "operator sided with a1"
	}()

	c, err := r.Raise(models.ConflictTaskOverlap, []string{"a1", "a2"}, []string{"t-1"}, nil, models.ResolutionEscalate)
	require.NoError(t, err)
	require.NoError(t, r.Submit(c.ID))

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "operator sided with a1", got.Outcome)
	assert.True(t, got.Resolved())
}

func TestEscalation_TimeoutFallsBackToAutomatic(t *testing.T) {
	now := time.Now().UTC()
	high := &models.Task{ID: "t-high", Priority: models.PriorityHigh, Status: models.TaskStatusInProgress, CreatedAt: now}
	low := &models.Task{ID: "t-low", Priority: models.PriorityLow, Status: models.TaskStatusInProgress, CreatedAt: now}
	ctl := newFakeControl(high, low)
	r := New(nil, ctl, nil, Config{EscalationTimeout: 50 * time.Millisecond})

	// Nobody listens on Escalations; drain the queue slot so the send
	// succeeds but the response never comes.
	c, err := r.Raise(models.ConflictResourceContention, nil, []string{"t-high", "t-low"},
		map[string]string{"resource": "gpu"}, models.ResolutionEscalate)
	require.NoError(t, err)
	require.NoError(t, r.Submit(c.ID))

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved())
	assert.Contains(t, got.Outcome, "t-high holds gpu")

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Equal(t, []string{"t-low"}, ctl.preempted)
}

func TestDeadlockScan_BreaksCycle(t *testing.T) {
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)
	cm.RegisterInbox("agent-a")
	cm.RegisterInbox("agent-b")

	r := New(nil, newFakeControl(), cm, Config{DeadlockThreshold: 20 * time.Millisecond})

	// a waits on b while b waits on a; neither ever answers. The context
	// is cancelled at cleanup so the surviving waiter does not outlive
	// the test.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	results := make(chan *models.Message, 2)
	for _, pair := range [][2]string{{"agent-a", "agent-b"}, {"agent-b", "agent-a"}} {
		sender, receiver := pair[0], pair[1]
		go func() {
			msg := comms.NewMessage(models.MessageResourceRequest, sender, receiver, models.PriorityNormal, nil)
			resp, _ := cm.RequestResponse(ctx, msg, time.Minute)
			results <- resp
		}()
	}

	require.Eventually(t, func() bool {
		return len(cm.PendingRequests()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // age past the threshold

	r.ScanDeadlocks()

	// One side of the cycle was force-timed-out.
	select {
	case resp := <-results:
		assert.Nil(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("deadlocked waiter never unblocked")
	}

	conflicts := r.List(false)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictCommunicationDeadlock, conflicts[0].Type)
	assert.True(t, conflicts[0].Resolved())
	assert.ElementsMatch(t, []string{"agent-a", "agent-b"}, conflicts[0].Agents)
}
