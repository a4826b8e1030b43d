package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/pkg/models"
)

type executorFunc func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error)

func (f executorFunc) Execute(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
	return f(ctx, agent, task)
}

type fixture struct {
	agents *agents.Manager
	comms  *comms.Manager
	coord  *Coordinator
}

func newFixture(t *testing.T, exec TaskExecutor, cfg Config) *fixture {
	t.Helper()
	if cfg.ScheduleInterval == 0 {
		cfg.ScheduleInterval = 20 * time.Millisecond
	}
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)

	am := agents.NewManager(nil, cm, agents.Config{})
	coord := New(nil, am, cm, exec, cfg)
	coord.Start()
	t.Cleanup(coord.Stop)
	return &fixture{agents: am, comms: cm, coord: coord}
}

func codeTask(desc string, deps ...string) *models.Task {
	return &models.Task{
		Description:        desc,
		RequiredCapability: models.CapabilityCode,
		Priority:           models.PriorityNormal,
		DependsOn:          deps,
	}
}

func waitForStatus(t *testing.T, c *Coordinator, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	var got *models.Task
	require.Eventually(t, func() bool {
		task, err := c.Get(taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s (last: %+v)", taskID, want, got)
	return got
}

func TestDelegate_Validation(t *testing.T) {
	f := newFixture(t, executorFunc(func(context.Context, *models.Agent, *models.Task) (json.RawMessage, error) {
		return nil, nil
	}), Config{})

	_, err := f.coord.Delegate(&models.Task{RequiredCapability: models.CapabilityCode})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = f.coord.Delegate(&models.Task{Description: "x", RequiredCapability: "juggle"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = f.coord.Delegate(&models.Task{Description: "x", RequiredCapability: models.CapabilityCode, Priority: 7})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = f.coord.Delegate(codeTask("x", "no-such-task"))
	assert.ErrorIs(t, err, ErrDependencyUnmet)
}

func TestDelegateBatch_RejectsCycles(t *testing.T) {
	f := newFixture(t, executorFunc(func(context.Context, *models.Agent, *models.Task) (json.RawMessage, error) {
		return nil, nil
	}), Config{})

	a := codeTask("a")
	a.ID = "task-a"
	a.DependsOn = []string{"task-b"}
	b := codeTask("b")
	b.ID = "task-b"
	b.DependsOn = []string{"task-a"}

	_, err := f.coord.DelegateBatch([]*models.Task{a, b})
	assert.ErrorIs(t, err, ErrCycleDetected)

	// The failed batch must not leave residue that blocks reuse.
	a.DependsOn = nil
	b.DependsOn = []string{"task-a"}
	_, err = f.coord.DelegateBatch([]*models.Task{a, b})
	require.NoError(t, err)
}

func TestExecution_EndToEnd(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return json.RawMessage(`{"done":true}`), nil
	})
	f := newFixture(t, exec, Config{})

	agent, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("build the thing"))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	done := waitForStatus(t, f.coord, task.ID, models.TaskStatusCompleted)
	assert.JSONEq(t, `{"done":true}`, string(done.Output))
	assert.Equal(t, agent.ID, done.AssignedTo)
	require.NotNil(t, done.CompletedAt)

	// The agent's slot came back.
	require.Eventually(t, func() bool {
		a, err := f.agents.Get(agent.ID)
		return err == nil && a.Status == models.AgentStatusIdle && a.ActiveTasks == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduling_NeverExceedsConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	var current, peak int
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	})
	f := newFixture(t, exec, Config{})

	agent, err := f.agents.Register(models.AgentTypeImplementation, nil,
		models.ResourceLimits{MaxConcurrentTasks: 2})
	require.NoError(t, err)

	tasks := make([]*models.Task, 0, 6)
	for i := 0; i < 6; i++ {
		task, err := f.coord.Delegate(codeTask(fmt.Sprintf("backlog item %d", i)))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		waitForStatus(t, f.coord, task.ID, models.TaskStatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "the scheduler handed out more slots than the agent has")

	got, err := f.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ActiveTasks)
}

func TestDependencies_BlockUntilCompleted(t *testing.T) {
	var mu sync.Mutex
	var order []string
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, task.Description)
		mu.Unlock()
		return nil, nil
	})
	f := newFixture(t, exec, Config{})
	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	first, err := f.coord.Delegate(codeTask("first"))
	require.NoError(t, err)
	second, err := f.coord.Delegate(codeTask("second", first.ID))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, second.Status)

	waitForStatus(t, f.coord, second.ID, models.TaskStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestScheduling_WaitsForCapability(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return nil, nil
	})
	f := newFixture(t, exec, Config{})

	// Only a research agent is around; a debug task cannot be placed.
	_, err := f.agents.Register(models.AgentTypeResearch, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(&models.Task{
		Description:        "chase the segfault",
		RequiredCapability: models.CapabilityDebug,
		Priority:           models.PriorityHigh,
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	got, err := f.coord.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status, "no capable agent yet")

	_, err = f.agents.Register(models.AgentTypeDebugger, nil, models.ResourceLimits{})
	require.NoError(t, err)
	waitForStatus(t, f.coord, task.ID, models.TaskStatusCompleted)
}

func TestRetry_MovesToDifferentAgent(t *testing.T) {
	var mu sync.Mutex
	var attempts []string
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		mu.Lock()
		attempts = append(attempts, agent.ID)
		first := len(attempts) == 1
		mu.Unlock()
		if first {
			return nil, errors.New("transient failure")
		}
		return nil, nil
	})
	f := newFixture(t, exec, Config{MaxRetries: 1})

	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	_, err = f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("flaky"))
	require.NoError(t, err)
	done := waitForStatus(t, f.coord, task.ID, models.TaskStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 2)
	assert.NotEqual(t, attempts[0], attempts[1], "retry must land on a different agent")
}

func TestFailure_CascadesThroughBlockedDependents(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	f := newFixture(t, exec, Config{MaxRetries: 0})
	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	root, err := f.coord.Delegate(codeTask("root"))
	require.NoError(t, err)
	mid, err := f.coord.Delegate(codeTask("mid", root.ID))
	require.NoError(t, err)
	leaf, err := f.coord.Delegate(codeTask("leaf", mid.ID))
	require.NoError(t, err)

	waitForStatus(t, f.coord, root.ID, models.TaskStatusFailed)
	midGot := waitForStatus(t, f.coord, mid.ID, models.TaskStatusFailed)
	leafGot := waitForStatus(t, f.coord, leaf.ID, models.TaskStatusFailed)
	assert.Contains(t, midGot.Error, root.ID)
	assert.Contains(t, leafGot.Error, mid.ID)
}

func TestFailure_BroadcastsCompletionWithDetail(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	f := newFixture(t, exec, Config{MaxRetries: 0})

	observer := f.comms.RegisterInbox("observer")
	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("doomed"))
	require.NoError(t, err)
	waitForStatus(t, f.coord, task.ID, models.TaskStatusFailed)

	// The terminal failure reaches observers as task_completion, with
	// the failure detail in the body.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-observer:
			if msg.Type != models.MessageTaskCompletion {
				continue
			}
			var update taskUpdate
			require.NoError(t, json.Unmarshal(msg.Payload, &update))
			require.Equal(t, task.ID, update.TaskID)
			assert.Equal(t, models.TaskStatusFailed, update.Status)
			assert.Equal(t, "boom", update.Error)
			return
		case <-deadline:
			t.Fatal("no task_completion broadcast for the failed task")
		}
	}
}

func TestCancel_StopsRunningTask(t *testing.T) {
	started := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, exec, Config{})
	agent, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("long haul"))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	require.NoError(t, f.coord.Cancel(task.ID))
	got, err := f.coord.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)

	// Cancelling a terminal task is rejected.
	assert.ErrorIs(t, f.coord.Cancel(task.ID), ErrInvalidTransition)

	require.Eventually(t, func() bool {
		a, err := f.agents.Get(agent.ID)
		return err == nil && a.ActiveTasks == 0
	}, 5*time.Second, 10*time.Millisecond)
}

type sinkFunc func(typ models.ConflictType, agentIDs, taskIDs []string, context map[string]string)

func (f sinkFunc) Detect(typ models.ConflictType, agentIDs, taskIDs []string, context map[string]string) {
	f(typ, agentIDs, taskIDs, context)
}

func TestCapabilityMismatch_RaisesConflictAndReselects(t *testing.T) {
	var mu sync.Mutex
	var mismatched string
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		if mismatched == "" {
			mismatched = agent.ID
			return nil, ErrCapabilityMismatch
		}
		return nil, nil
	})
	f := newFixture(t, exec, Config{})

	var conflicts []models.ConflictType
	f.coord.SetConflictSink(sinkFunc(func(typ models.ConflictType, agentIDs, taskIDs []string, _ map[string]string) {
		mu.Lock()
		conflicts = append(conflicts, typ)
		mu.Unlock()
	}))

	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	_, err = f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("misdeclared"))
	require.NoError(t, err)
	done := waitForStatus(t, f.coord, task.ID, models.TaskStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, done.ExcludedAgents, mismatched)
	assert.NotEqual(t, mismatched, done.AssignedTo)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictCapabilityMismatch, conflicts[0])
	assert.Zero(t, done.RetryCount, "mismatch reselection is not a retry")
}

func TestTimeout_FlagsAgentForHealthCheck(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, exec, Config{TaskTimeout: 50 * time.Millisecond, MaxRetries: 0})
	agent, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("wedged"))
	require.NoError(t, err)

	done := waitForStatus(t, f.coord, task.ID, models.TaskStatusFailed)
	assert.Contains(t, done.Error, "timed out")

	got, err := f.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsHealthCheck)
}

func TestTeams_FormAndAutoDisband(t *testing.T) {
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	f := newFixture(t, exec, Config{})

	a1, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	a2, err := f.agents.Register(models.AgentTypeTesting, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("composite"))
	require.NoError(t, err)

	crew := []models.Capability{models.CapabilityCode, models.CapabilityTest}
	_, err = f.coord.FormTeam("build-crew", task.ID, crew, "ring")
	assert.ErrorIs(t, err, ErrInvalidTeam)
	_, err = f.coord.FormTeam("build-crew", task.ID, []models.Capability{"juggle"}, models.PolicyMesh)
	assert.ErrorIs(t, err, agents.ErrInvalidCapability)
	_, err = f.coord.FormTeam("build-crew", task.ID, []models.Capability{models.CapabilityDebug}, models.PolicyMesh)
	assert.ErrorIs(t, err, ErrInvalidTeam, "nobody offers debug")

	team, err := f.coord.FormTeam("build-crew", task.ID, crew, models.PolicyHierarchical)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a1.ID, a2.ID}, team.Members)
	assert.Equal(t, a1.ID, team.Coordinator)
	assert.Nil(t, team.DisbandedAt)

	// One agent covering several capabilities joins once.
	solo, err := f.coord.FormTeam("solo", task.ID,
		[]models.Capability{models.CapabilityCode, models.CapabilityRefactor}, models.PolicyStar)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID}, solo.Members)

	close(release)
	waitForStatus(t, f.coord, task.ID, models.TaskStatusCompleted)

	require.Eventually(t, func() bool {
		got, err := f.coord.Team(team.ID)
		return err == nil && got.DisbandedAt != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUpdateStatus_ExternalReport(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, exec, Config{})
	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("self-driven"))
	require.NoError(t, err)
	waitForStatus(t, f.coord, task.ID, models.TaskStatusInProgress)

	err = f.coord.UpdateStatus("ghost", models.TaskStatusCompleted, nil)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	err = f.coord.UpdateStatus(task.ID, models.TaskStatusBlocked, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = f.coord.UpdateStatus(task.ID, models.TaskStatusInProgress, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition, "already in progress")

	require.NoError(t, f.coord.UpdateStatus(task.ID, models.TaskStatusCompleted, json.RawMessage(`{"built":true}`)))
	got, err := f.coord.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.JSONEq(t, `{"built":true}`, string(got.Output))

	// The reported result is final; the hung attempt cannot override it.
	err = f.coord.UpdateStatus(task.ID, models.TaskStatusFailed, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_FailureCarriesDetail(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, exec, Config{})
	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := f.coord.Delegate(codeTask("doomed"))
	require.NoError(t, err)
	waitForStatus(t, f.coord, task.ID, models.TaskStatusInProgress)

	require.NoError(t, f.coord.UpdateStatus(task.ID, models.TaskStatusFailed, json.RawMessage(`{"error":"disk full"}`)))
	got, err := f.coord.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, "disk full", got.Error)
}

func TestDetect_ResourceContention(t *testing.T) {
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	f := newFixture(t, exec, Config{})
	defer close(release)

	var mu sync.Mutex
	type detection struct {
		typ      models.ConflictType
		resource string
	}
	var seen []detection
	f.coord.SetConflictSink(sinkFunc(func(typ models.ConflictType, agentIDs, taskIDs []string, context map[string]string) {
		mu.Lock()
		seen = append(seen, detection{typ, context["resource"]})
		mu.Unlock()
	}))

	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	_, err = f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	first := codeTask("hold the database")
	first.Input = json.RawMessage(`{"resources":["db-main"]}`)
	_, err = f.coord.Delegate(first)
	require.NoError(t, err)

	second := codeTask("also needs the database")
	second.Input = json.RawMessage(`{"resources":["db-main","scratch"]}`)
	_, err = f.coord.Delegate(second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.ConflictResourceContention, seen[0].typ)
	assert.Equal(t, "db-main", seen[0].resource)
}

func TestDetect_TaskOverlap(t *testing.T) {
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	f := newFixture(t, exec, Config{})
	defer close(release)

	var mu sync.Mutex
	var seen []models.ConflictType
	f.coord.SetConflictSink(sinkFunc(func(typ models.ConflictType, agentIDs, taskIDs []string, _ map[string]string) {
		mu.Lock()
		seen = append(seen, typ)
		mu.Unlock()
	}))

	_, err := f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	_, err = f.agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	_, err = f.coord.Delegate(codeTask("reindex the archive"))
	require.NoError(t, err)
	_, err = f.coord.Delegate(codeTask("reindex the archive"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.ConflictTaskOverlap, seen[0])
}

func TestGraph_SatisfiedAndDependents(t *testing.T) {
	g := newDepGraph()
	require.NoError(t, g.Add("a", nil))
	require.NoError(t, g.Add("b", []string{"a"}))
	require.NoError(t, g.Add("c", []string{"a", "b"}))

	assert.True(t, g.Satisfied("a"))
	assert.False(t, g.Satisfied("c"))
	assert.ElementsMatch(t, []string{"b", "c"}, g.Dependents("a"))

	g.MarkComplete("a")
	assert.True(t, g.Satisfied("b"))
	assert.False(t, g.Satisfied("c"))
	g.MarkComplete("b")
	assert.True(t, g.Satisfied("c"))

	err := g.Add("d", []string{"zzz"})
	assert.ErrorIs(t, err, ErrDependencyUnmet)
}
