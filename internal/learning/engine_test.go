package learning

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/agents"
	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func outcome(agentID string, success bool, complexity float64) *models.PerformanceRecord {
	return &models.PerformanceRecord{
		ID:         fmt.Sprintf("rec-%d", time.Now().UnixNano()),
		AgentID:    agentID,
		Capability: models.CapabilityCode,
		TaskID:     "task-1",
		Success:    success,
		Duration:   time.Second,
		Complexity: complexity,
		RecordedAt: time.Now().UTC(),
	}
}

func TestRecordOutcome_WindowRollsOver(t *testing.T) {
	e := New(nil, nil, nil, Config{WindowSize: 10})

	// 15 failures then 10 successes; only the last 10 samples survive.
	for i := 0; i < 15; i++ {
		e.RecordOutcome(outcome("a1", false, 0), nil)
	}
	for i := 0; i < 10; i++ {
		e.RecordOutcome(outcome("a1", true, 0), nil)
	}

	rate, samples := e.SuccessRate("a1", models.CapabilityCode)
	assert.Equal(t, 10, samples)
	assert.Equal(t, 1.0, rate)
	assert.Len(t, e.Window("a1", models.CapabilityCode), 10)

	rate, samples = e.SuccessRate("a1", models.CapabilityDebug)
	assert.Zero(t, samples, "windows are per capability")
	assert.Zero(t, rate)
}

func TestRecordOutcome_UpdatesAgentSummary(t *testing.T) {
	am := agents.NewManager(nil, nil, agents.Config{})
	agent, err := am.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)

	e := New(nil, am, nil, Config{})

	rec := outcome(agent.ID, true, 0)
	rec.Duration = 2 * time.Second
	rec.Quality = 0.8
	e.RecordOutcome(rec, nil)

	rec = outcome(agent.ID, false, 0)
	rec.Duration = 4 * time.Second
	e.RecordOutcome(rec, nil)

	got, err := am.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Performance.TasksCompleted)
	assert.Equal(t, 1, got.Performance.TasksFailed)
	assert.Equal(t, 3*time.Second, got.Performance.AvgDuration)
	assert.False(t, got.Performance.LastActive.IsZero())
}

func TestAdaptation_BoundedPenaltyAppearsAndClears(t *testing.T) {
	e := New(nil, nil, nil, Config{WindowSize: 10, MinSamples: 5})

	// Below MinSamples nothing happens.
	for i := 0; i < 4; i++ {
		e.RecordOutcome(outcome("a1", false, 0), nil)
	}
	assert.Zero(t, e.SelectionPenalty("a1", models.CapabilityCode))

	e.RecordOutcome(outcome("a1", false, 0), nil)
	penalty := e.SelectionPenalty("a1", models.CapabilityCode)
	assert.Greater(t, penalty, 0.0)
	assert.LessOrEqual(t, penalty, 0.5, "penalty must stay within the adaptation bound")

	deltas := e.Deltas("a1")
	require.Len(t, deltas, 1)
	assert.NotEmpty(t, deltas[0].Reason)

	// Forcing a re-evaluation of an unchanged window keeps the penalty.
	forced := e.Adapt("a1")
	require.Len(t, forced, 1)
	assert.Equal(t, penalty, forced[0].SelectionPenalty)

	// A run of successes pushes the window back over the threshold and
	// clears the adaptation.
	for i := 0; i < 10; i++ {
		e.RecordOutcome(outcome("a1", true, 0), nil)
	}
	assert.Zero(t, e.SelectionPenalty("a1", models.CapabilityCode))
	assert.Empty(t, e.Deltas("a1"))
}

func TestAdaptation_ComplexityCeiling(t *testing.T) {
	e := New(nil, nil, nil, Config{WindowSize: 10, MinSamples: 5})

	e.RecordOutcome(outcome("a1", true, 3), nil)
	e.RecordOutcome(outcome("a1", true, 4), nil)
	e.RecordOutcome(outcome("a1", false, 8), nil)
	e.RecordOutcome(outcome("a1", false, 9), nil)
	e.RecordOutcome(outcome("a1", false, 7), nil)

	deltas := e.Deltas("a1")
	require.Len(t, deltas, 1)
	assert.Equal(t, 4.0, deltas[0].ComplexityCeiling)
}

func TestExtractComplexity(t *testing.T) {
	assert.Equal(t, 7.5, extractComplexity(json.RawMessage(`{"complexity":7.5}`)))
	assert.Equal(t, 3.0, extractComplexity(json.RawMessage(`{"task":{"complexity":3}}`)))
	assert.Zero(t, extractComplexity(json.RawMessage(`{"complexity":"high"}`)))
	assert.Zero(t, extractComplexity(json.RawMessage(`{"other":1}`)))
	assert.Zero(t, extractComplexity(nil))
}

func TestExtractPatterns_OncePerWindow(t *testing.T) {
	e := New(nil, nil, nil, Config{WindowSize: 10, MinSamples: 5, PatternConfidence: 0.7})

	e.RecordOutcome(outcome("a1", true, 2), nil)
	for i := 0; i < 4; i++ {
		e.RecordOutcome(outcome("a1", false, float64(7+i)), nil)
	}

	records := e.ExtractPatterns()
	require.Len(t, records, 1)
	assert.Equal(t, models.KnowledgePattern, records[0].Kind)
	assert.Equal(t, string(models.CapabilityCode), records[0].Context)
	assert.Contains(t, records[0].Content, "complexity 7.0 and above")
	assert.GreaterOrEqual(t, records[0].Confidence, 0.7)

	assert.Empty(t, e.ExtractPatterns(), "a window yields one pattern until it recovers")

	shared := e.Knowledge(string(models.CapabilityCode))
	require.Len(t, shared, 1)
	assert.Equal(t, records[0].ID, shared[0].ID)
}

func TestShareKnowledge_Validation(t *testing.T) {
	e := New(nil, nil, nil, Config{})

	err := e.ShareKnowledge(&models.KnowledgeRecord{Kind: "rumor", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidKnowledge)
	err = e.ShareKnowledge(&models.KnowledgeRecord{Kind: models.KnowledgeInsight})
	assert.ErrorIs(t, err, ErrInvalidKnowledge)
	err = e.ShareKnowledge(&models.KnowledgeRecord{Kind: models.KnowledgeInsight, Content: "x", Confidence: 1.5})
	assert.ErrorIs(t, err, ErrInvalidKnowledge)
}

func TestShareKnowledge_RoutesByCapability(t *testing.T) {
	cm := comms.NewManager(nil, comms.DefaultConfig())
	cm.Start()
	t.Cleanup(cm.Stop)

	am := agents.NewManager(nil, cm, agents.Config{})
	coder, err := am.Register(models.AgentTypeImplementation, nil, models.ResourceLimits{})
	require.NoError(t, err)
	researcher, err := am.Register(models.AgentTypeResearch, nil, models.ResourceLimits{})
	require.NoError(t, err)

	coderInbox := cm.RegisterInbox(coder.ID)
	researcherInbox := cm.RegisterInbox(researcher.ID)

	e := New(nil, am, cm, Config{})
	err = e.ShareKnowledge(&models.KnowledgeRecord{
		SourceAgent: researcher.ID,
		Kind:        models.KnowledgeStrategy,
		Content:     "refactor in small steps",
		Context:     string(models.CapabilityCode),
		Confidence:  0.9,
	})
	require.NoError(t, err)

	select {
	case msg := <-coderInbox:
		assert.Equal(t, models.MessageKnowledgeShare, msg.Type)
		var k models.KnowledgeRecord
		require.NoError(t, json.Unmarshal(msg.Payload, &k))
		assert.Equal(t, "refactor in small steps", k.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("capability-matched agent never received knowledge")
	}

	select {
	case <-researcherInbox:
		t.Fatal("knowledge leaked to an agent without the capability")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecordApplication_TracksEffectiveness(t *testing.T) {
	e := New(nil, nil, nil, Config{})

	k := &models.KnowledgeRecord{Kind: models.KnowledgeSolution, Content: "pin the dependency", Confidence: 0.8}
	require.NoError(t, e.ShareKnowledge(k))

	require.NoError(t, e.RecordApplication(k.ID, true))
	require.NoError(t, e.RecordApplication(k.ID, true))
	require.NoError(t, e.RecordApplication(k.ID, false))

	got := e.Knowledge("")
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Applications)
	assert.InDelta(t, 2.0/3.0, got[0].Effectiveness, 1e-9)

	assert.ErrorIs(t, e.RecordApplication("missing", true), ErrKnowledgeNotFound)
}
