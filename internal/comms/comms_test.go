package comms

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func testManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(nil, cfg)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestQueue_PriorityAcrossPairs_FIFOWithinPair(t *testing.T) {
	q := newPriorityQueue()

	mk := func(id, sender, receiver string, priority int) *models.Message {
		return &models.Message{ID: id, Sender: sender, Receiver: receiver, Priority: priority}
	}

	// Pair a->b sends a low-priority message before an urgent one; the
	// pair's FIFO order must hold even though c->d outranks the head.
	q.Push(mk("m1", "a", "b", models.PriorityLowest))
	q.Push(mk("m2", "a", "b", models.PriorityUrgent))
	q.Push(mk("m3", "c", "d", models.PriorityHigh))
	q.Push(mk("m4", "e", "f", models.PriorityHigh))

	var order []string
	for q.Len() > 0 {
		order = append(order, q.Pop().ID)
	}
	// m3 beats m4 on sequence at equal priority; m1 precedes m2 within
	// its pair despite lower priority.
	assert.Equal(t, []string{"m3", "m4", "m1", "m2"}, order)
	assert.Nil(t, q.Pop())
}

func TestSend_DeliversToInbox(t *testing.T) {
	m := testManager(t, DefaultConfig())
	inbox := m.RegisterInbox("agent-1")

	msg := NewMessage(models.MessageStatusUpdate, "coordinator", "agent-1",
		models.PriorityNormal, json.RawMessage(`{"status":"idle"}`))
	id, err := m.Send(msg)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case got := <-inbox:
		assert.Equal(t, id, got.ID)
		assert.Equal(t, models.DeliveryDelivered, got.Delivery)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSend_Validation(t *testing.T) {
	m := testManager(t, DefaultConfig())

	_, err := m.Send(&models.Message{Type: "bogus", Sender: "a", Receiver: "b"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = m.Send(&models.Message{Type: models.MessageStatusUpdate, Receiver: "b"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = m.Send(&models.Message{Type: models.MessageStatusUpdate, Sender: "a", Receiver: "b", Priority: 9})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = m.Send(&models.Message{Type: models.MessageStatusUpdate, Sender: "a"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestBroadcast_FansOutWithFilter(t *testing.T) {
	m := testManager(t, DefaultConfig())
	in1 := m.RegisterInbox("agent-1")
	in2 := m.RegisterInbox("agent-2")
	m.RegisterInbox("agent-3")

	msg := NewMessage(models.MessageKnowledgeShare, "agent-3", "",
		models.PriorityNormal, json.RawMessage(`{"k":"v"}`))
	ids, err := m.Broadcast(msg, func(id string) bool { return id != "agent-2" })
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	select {
	case got := <-in1:
		assert.Equal(t, models.MessageKnowledgeShare, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
	select {
	case <-in2:
		t.Fatal("filtered recipient received broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestResponse_RoundTrip(t *testing.T) {
	m := testManager(t, DefaultConfig())
	inbox := m.RegisterInbox("agent-1")
	m.RegisterInbox("coordinator")

	// Responder echoes the payload back via the correlation ID.
	go func() {
		req := <-inbox
		resp := Reply(req, "agent-1", req.Payload)
		m.Send(resp)
	}()

	msg := NewMessage(models.MessageResourceRequest, "coordinator", "agent-1",
		models.PriorityHigh, json.RawMessage(`{"resource":"db-main"}`))
	resp, err := m.RequestResponse(context.Background(), msg, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.JSONEq(t, `{"resource":"db-main"}`, string(resp.Payload))
	assert.Equal(t, "agent-1", resp.Sender)
}

func TestRequestResponse_TimeoutReturnsNil(t *testing.T) {
	m := testManager(t, DefaultConfig())
	m.RegisterInbox("agent-1") // delivered but never answered
	m.RegisterInbox("coordinator")

	msg := NewMessage(models.MessageResourceRequest, "coordinator", "agent-1",
		models.PriorityNormal, nil)
	start := time.Now()
	resp, err := m.RequestResponse(context.Background(), msg, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetry_ExhaustionExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	m := testManager(t, cfg)

	// No inbox for the receiver: delivery fails, retries, then expires.
	msg := NewMessage(models.MessageResourceRequest, "coordinator", "ghost",
		models.PriorityNormal, nil)
	msg.RequiresResponse = true
	_, err := m.Send(msg)
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == EventExpired {
				assert.Equal(t, "ghost", ev.Receiver)
				assert.Equal(t, int64(1), m.Stats().Expired)
				return
			}
		case <-deadline:
			t.Fatal("message never expired")
		}
	}
}

func TestForceTimeout_UnblocksWaiter(t *testing.T) {
	m := testManager(t, DefaultConfig())
	m.RegisterInbox("agent-1")
	m.RegisterInbox("agent-2")

	msg := NewMessage(models.MessageResourceRequest, "agent-2", "agent-1",
		models.PriorityNormal, nil)
	msg.CorrelationID = "corr-1"

	done := make(chan *models.Message, 1)
	go func() {
		resp, _ := m.RequestResponse(context.Background(), msg, time.Minute)
		done <- resp
	}()

	// Wait until the exchange shows up as pending, then break it.
	require.Eventually(t, func() bool {
		return len(m.PendingRequests()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, m.ForceTimeout("corr-1"))
	select {
	case resp := <-done:
		assert.Nil(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not unblocked")
	}
	assert.False(t, m.ForceTimeout("corr-1"))
}
