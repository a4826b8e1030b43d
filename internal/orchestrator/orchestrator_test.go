package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/coordinator"
	"github.com/ShayCichocki/swarm/pkg/models"
)

type executorFunc func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error)

func (f executorFunc) Execute(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
	return f(ctx, agent, task)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "swarm.db")
	cfg.Coordinator.ScheduleInterval = 20 * time.Millisecond
	cfg.Coordinator.TaskTimeout = 5 * time.Second
	cfg.Memory.CleanupInterval = 50 * time.Millisecond
	cfg.Learning.PatternInterval = 50 * time.Millisecond
	return cfg
}

func waitForStatus(t *testing.T, o *Orchestrator, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	var got *models.Task
	require.Eventually(t, func() bool {
		task, err := o.Coordinator.Get(taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskID, want)
	return got
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	done := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})

	o, err := New(testConfig(t), WithExecutor(done))
	require.NoError(t, err)
	o.Start()
	t.Cleanup(o.Stop)

	agent, err := o.Agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	task, err := o.Coordinator.Delegate(&models.Task{
		Description:        "implement the widget",
		RequiredCapability: models.CapabilityCode,
		Priority:           models.PriorityNormal,
	})
	require.NoError(t, err)

	got := waitForStatus(t, o, task.ID, models.TaskStatusCompleted)
	assert.Equal(t, agent.ID, got.AssignedTo)
	assert.JSONEq(t, `{"ok":true}`, string(got.Output))

	// The outcome reached the learning engine.
	rate, samples := o.Learning.SuccessRate(agent.ID, models.CapabilityCode)
	assert.Equal(t, 1, samples)
	assert.Equal(t, 1.0, rate)
}

func TestOrchestrator_AgentStatusIsIdempotent(t *testing.T) {
	o, err := New(testConfig(t), WithExecutor(executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return nil, nil
	})))
	require.NoError(t, err)
	o.Start()
	t.Cleanup(o.Stop)

	agent, err := o.Agents.Register(models.AgentTypeResearch, nil, models.ResourceLimits{})
	require.NoError(t, err)

	_, err = o.Memory.Store(agent.ID, models.TierWorking, "notes", "k1", json.RawMessage(`"v"`), 0.5, 0)
	require.NoError(t, err)

	first, err := o.AgentStatus(agent.ID)
	require.NoError(t, err)
	second, err := o.AgentStatus(agent.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Agent.ID, second.Agent.ID)
	assert.Equal(t, first.Memory, second.Memory)
	assert.Equal(t, 1, first.Memory[models.TierWorking])

	_, err = o.AgentStatus("no-such-agent")
	assert.Error(t, err)
}

func TestOrchestrator_RestartRehydratesState(t *testing.T) {
	cfg := testConfig(t)
	noop := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		return nil, nil
	})

	o, err := New(cfg, WithExecutor(noop))
	require.NoError(t, err)
	o.Start()

	agent, err := o.Agents.Register(models.AgentTypeTesting, nil, models.ResourceLimits{})
	require.NoError(t, err)
	_, err = o.Memory.Store(agent.ID, models.TierLongTerm, "lessons", "k1", json.RawMessage(`"keep tests fast"`), 0.9, 0)
	require.NoError(t, err)

	o.Stop()

	// Same database, fresh process.
	o2, err := New(cfg, WithExecutor(noop))
	require.NoError(t, err)
	o2.Start()
	t.Cleanup(o2.Stop)

	got, err := o2.Agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentTypeTesting, got.Type)

	rec, err := o2.Memory.Retrieve(agent.ID, "lessons", "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `"keep tests fast"`, string(rec.Value))
}

func TestOrchestrator_ResourceContentionResolved(t *testing.T) {
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	cfg := testConfig(t)
	cfg.Coordinator.TaskTimeout = 10 * time.Second
	o, err := New(cfg, WithExecutor(exec))
	require.NoError(t, err)
	o.Start()
	t.Cleanup(o.Stop)

	_, err = o.Agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	_, err = o.Agents.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	holder, err := o.Coordinator.Delegate(&models.Task{
		Description:        "migrate the schema",
		RequiredCapability: models.CapabilityCode,
		Priority:           models.PriorityHigh,
		Input:              json.RawMessage(`{"resources":["db-main"]}`),
	})
	require.NoError(t, err)
	waitForStatus(t, o, holder.ID, models.TaskStatusInProgress)

	rival, err := o.Coordinator.Delegate(&models.Task{
		Description:        "backfill the index",
		RequiredCapability: models.CapabilityCode,
		Priority:           models.PriorityNormal,
		Input:              json.RawMessage(`{"resources":["db-main"]}`),
	})
	require.NoError(t, err)

	// The lower-priority claimant is detected and preempted.
	require.Eventually(t, func() bool {
		for _, c := range o.Conflicts.List(false) {
			if c.Type == models.ConflictResourceContention && c.Resolved() {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	got, err := o.Coordinator.Get(holder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, got.Status, "the high-priority holder keeps running")

	// Once the holder releases the resource, the rival goes through.
	close(release)
	waitForStatus(t, o, holder.ID, models.TaskStatusCompleted)
	waitForStatus(t, o, rival.ID, models.TaskStatusCompleted)
}

func TestCommsExecutor_RoundTrip(t *testing.T) {
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)

	inbox := cm.RegisterInbox("worker-1")
	go func() {
		for msg := range inbox {
			if msg.Type != models.MessageTaskDelegation {
				continue
			}
			payload, _ := json.Marshal(ExecReply{Output: json.RawMessage(`{"done":1}`)})
			reply := comms.Reply(msg, "worker-1", payload)
			cm.Send(reply)
		}
	}()

	x := NewCommsExecutor(cm, 2*time.Second)
	out, err := x.Execute(context.Background(), &models.Agent{ID: "worker-1"}, &models.Task{
		ID:          "t1",
		Description: "do the thing",
		Priority:    models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":1}`, string(out))
}

func TestCommsExecutor_AgentErrorPropagates(t *testing.T) {
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)

	inbox := cm.RegisterInbox("worker-2")
	go func() {
		for msg := range inbox {
			payload, _ := json.Marshal(ExecReply{Error: "tool exploded"})
			cm.Send(comms.Reply(msg, "worker-2", payload))
		}
	}()

	x := NewCommsExecutor(cm, 2*time.Second)
	_, err := x.Execute(context.Background(), &models.Agent{ID: "worker-2"}, &models.Task{
		ID:          "t2",
		Description: "do the thing",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestCommsExecutor_CapabilityMismatchCode(t *testing.T) {
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)

	inbox := cm.RegisterInbox("worker-4")
	go func() {
		for msg := range inbox {
			payload, _ := json.Marshal(ExecReply{
				Code:  ReplyCodeCapabilityMismatch,
				Error: "cannot parse spreadsheets",
			})
			cm.Send(comms.Reply(msg, "worker-4", payload))
		}
	}()

	x := NewCommsExecutor(cm, 2*time.Second)
	_, err := x.Execute(context.Background(), &models.Agent{ID: "worker-4"}, &models.Task{
		ID:          "t4",
		Description: "crunch the numbers",
	})
	// The coded reply must survive the bus as the sentinel the
	// coordinator reselects on.
	require.ErrorIs(t, err, coordinator.ErrCapabilityMismatch)
	assert.Contains(t, err.Error(), "cannot parse spreadsheets")
}

func TestCommsExecutor_SilenceIsNoResponse(t *testing.T) {
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)

	cm.RegisterInbox("worker-3")

	x := NewCommsExecutor(cm, 100*time.Millisecond)
	_, err := x.Execute(context.Background(), &models.Agent{ID: "worker-3"}, &models.Task{
		ID:          "t3",
		Description: "do the thing",
	})
	assert.ErrorIs(t, err, ErrNoResponse)
}
