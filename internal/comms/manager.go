package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// Reserved inbox IDs for system components that participate in message
// exchange alongside agents.
const (
	CoordinatorID = "coordinator"
	ResolverID    = "resolver"
)

var (
	// ErrInvalidMessage indicates a message failed validation before queueing.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrUnknownReceiver indicates no inbox is registered for the receiver.
	ErrUnknownReceiver = errors.New("unknown receiver")
	// ErrDeliveryExpired indicates retries were exhausted without delivery.
	ErrDeliveryExpired = errors.New("delivery expired")
)

// Config controls queueing and retry behavior.
type Config struct {
	// InboxSize is the buffer size of each registered inbox.
	InboxSize int
	// MaxRetries is the delivery attempt cap for requires-response messages.
	MaxRetries int
	// RetryBackoff is the base delay before a redelivery attempt; it
	// doubles per attempt.
	RetryBackoff time.Duration
	// AckTimeout is how long a delivered requires-response message may
	// sit unacknowledged before redelivery.
	AckTimeout time.Duration
	// SweepInterval is how often the retry sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		InboxSize:     64,
		MaxRetries:    3,
		RetryBackoff:  200 * time.Millisecond,
		AckTimeout:    5 * time.Second,
		SweepInterval: 250 * time.Millisecond,
	}
}

// EventType identifies a delivery lifecycle event.
type EventType string

const (
	// EventExpired fires when a message exhausts its delivery retries.
	EventExpired EventType = "message_expired"
	// EventRequestTimeout fires when a request/response exchange times out.
	EventRequestTimeout EventType = "request_timeout"
)

// Event is a delivery lifecycle notification.
type Event struct {
	Type      EventType
	MessageID string
	Sender    string
	Receiver  string
	Timestamp time.Time
}

// PendingRequest describes an in-flight request/response exchange. The
// conflict resolver inspects these when hunting communication deadlocks.
type PendingRequest struct {
	CorrelationID string
	RequestID     string
	Sender        string
	Receiver      string
	Since         time.Time
}

// pendingWaiter is the sender side of a request/response exchange.
type pendingWaiter struct {
	requestID string
	sender    string
	receiver  string
	since     time.Time
	ch        chan *models.Message
}

// ackState tracks a delivered requires-response message awaiting
// acknowledgement.
type ackState struct {
	msg      *models.Message
	deadline time.Time
}

// retryEntry is a message scheduled for redelivery after backoff.
type retryEntry struct {
	msg   *models.Message
	dueAt time.Time
}

// Manager routes typed messages between agents through a priority queue
// with per-pair FIFO ordering, tracks delivery state, and retries
// requires-response messages until acknowledged or expired.
type Manager struct {
	db  *store.DB
	cfg Config

	mu       sync.Mutex
	queue    *priorityQueue
	inboxes  map[string]chan *models.Message
	pending  map[string]*pendingWaiter // correlation ID -> waiter
	awaiting map[string]*ackState      // message ID -> ack state
	retries  []retryEntry

	delivered atomic.Int64
	expired   atomic.Int64

	notify chan struct{}
	events chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a communication manager. db may be nil, in which
// case delivery state is not persisted (used in tests).
func NewManager(db *store.DB, cfg Config) *Manager {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Manager{
		db:       db,
		cfg:      cfg,
		queue:    newPriorityQueue(),
		inboxes:  make(map[string]chan *models.Message),
		pending:  make(map[string]*pendingWaiter),
		awaiting: make(map[string]*ackState),
		notify:   make(chan struct{}, 1),
		events:   make(chan Event, 64),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop shuts the dispatch loop down and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Events returns the delivery event stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// RegisterInbox creates the receive channel for an agent or component
// ID. Re-registering an ID returns the existing channel.
func (m *Manager) RegisterInbox(id string) <-chan *models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.inboxes[id]; ok {
		return ch
	}
	ch := make(chan *models.Message, m.cfg.InboxSize)
	m.inboxes[id] = ch
	return ch
}

// DeregisterInbox removes an inbox. Messages queued for it will follow
// the retry-then-expire path.
func (m *Manager) DeregisterInbox(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inboxes, id)
}

// NewMessage builds a message with a fresh ID ready for Send.
func NewMessage(typ models.MessageType, sender, receiver string, priority int, payload json.RawMessage) *models.Message {
	return &models.Message{
		ID:       uuid.NewString(),
		Type:     typ,
		Sender:   sender,
		Receiver: receiver,
		Priority: priority,
		Payload:  payload,
	}
}

// Reply builds a response to a requires-response message, carrying the
// request's correlation ID so the exchange can be matched.
func Reply(req *models.Message, sender string, payload json.RawMessage) *models.Message {
	resp := NewMessage(req.Type, sender, req.Sender, req.Priority, payload)
	resp.CorrelationID = req.CorrelationID
	return resp
}

// Send validates, persists, and enqueues a direct message. The returned
// ID doubles as the delivery ID for state tracking.
func (m *Manager) Send(msg *models.Message) (string, error) {
	if err := m.prepare(msg); err != nil {
		return "", err
	}
	if msg.Receiver == "" {
		return "", fmt.Errorf("%w: empty receiver, use Broadcast", ErrInvalidMessage)
	}

	if err := m.persist(msg); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.queue.Push(msg)
	m.mu.Unlock()
	m.wake()
	return msg.ID, nil
}

// Broadcast fans a message out to every registered inbox except the
// sender's, optionally filtered. Each copy gets its own delivery ID and
// is tracked independently.
func (m *Manager) Broadcast(msg *models.Message, filter func(id string) bool) ([]string, error) {
	if err := m.prepare(msg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	var recipients []string
	for id := range m.inboxes {
		if id == msg.Sender {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		recipients = append(recipients, id)
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(recipients))
	for _, receiver := range recipients {
		dup := *msg
		dup.ID = uuid.NewString()
		dup.Receiver = receiver
		if err := m.persist(&dup); err != nil {
			return ids, err
		}
		m.mu.Lock()
		m.queue.Push(&dup)
		m.mu.Unlock()
		ids = append(ids, dup.ID)
	}
	m.wake()
	return ids, nil
}

// RequestResponse sends a requires-response message and blocks until a
// reply carrying the same correlation ID arrives, the timeout elapses,
// or ctx is cancelled. A timeout returns (nil, nil): the caller decides
// whether silence is an error.
func (m *Manager) RequestResponse(ctx context.Context, msg *models.Message, timeout time.Duration) (*models.Message, error) {
	msg.RequiresResponse = true
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	if err := m.prepare(msg); err != nil {
		return nil, err
	}

	waiter := &pendingWaiter{
		requestID: msg.ID,
		sender:    msg.Sender,
		receiver:  msg.Receiver,
		since:     time.Now().UTC(),
		ch:        make(chan *models.Message, 1),
	}
	m.mu.Lock()
	m.pending[msg.CorrelationID] = waiter
	m.mu.Unlock()

	if _, err := m.Send(msg); err != nil {
		m.dropWaiter(msg.CorrelationID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter.ch:
		return resp, nil
	case <-timer.C:
		m.dropWaiter(msg.CorrelationID)
		m.emitEvent(Event{
			Type:      EventRequestTimeout,
			MessageID: msg.ID,
			Sender:    msg.Sender,
			Receiver:  msg.Receiver,
			Timestamp: time.Now().UTC(),
		})
		return nil, nil
	case <-ctx.Done():
		m.dropWaiter(msg.CorrelationID)
		return nil, ctx.Err()
	}
}

// Acknowledge confirms a delivered message was processed, cancelling
// any pending redelivery.
func (m *Manager) Acknowledge(messageID string) error {
	m.mu.Lock()
	state, ok := m.awaiting[messageID]
	if ok {
		delete(m.awaiting, messageID)
	}
	m.mu.Unlock()

	if m.db != nil {
		attempts := 0
		if ok {
			attempts = state.msg.Attempts
		}
		if err := m.db.UpdateMessageDelivery(messageID, models.DeliveryAcknowledged, attempts, nil); err != nil {
			return fmt.Errorf("acknowledge %s: %w", messageID, err)
		}
	}
	return nil
}

// PendingRequests snapshots in-flight request/response exchanges.
func (m *Manager) PendingRequests() []PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingRequest, 0, len(m.pending))
	for corrID, w := range m.pending {
		out = append(out, PendingRequest{
			CorrelationID: corrID,
			RequestID:     w.requestID,
			Sender:        w.sender,
			Receiver:      w.receiver,
			Since:         w.since,
		})
	}
	return out
}

// ForceTimeout cancels a pending request/response exchange, unblocking
// the waiting sender with a nil response. Used to break communication
// deadlocks. Returns false if no such exchange is pending.
func (m *Manager) ForceTimeout(correlationID string) bool {
	m.mu.Lock()
	waiter, ok := m.pending[correlationID]
	if ok {
		delete(m.pending, correlationID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	close(waiter.ch)
	return true
}

// Stats reports delivery counters.
type Stats struct {
	Delivered int64
	Expired   int64
	Queued    int
}

// Stats returns a snapshot of delivery counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	queued := m.queue.Len()
	m.mu.Unlock()
	return Stats{
		Delivered: m.delivered.Load(),
		Expired:   m.expired.Load(),
		Queued:    queued,
	}
}

func (m *Manager) prepare(msg *models.Message) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	if msg.Sender == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidMessage)
	}
	if msg.Priority < models.PriorityLowest || msg.Priority > models.PriorityUrgent {
		return fmt.Errorf("%w: priority %d out of range", ErrInvalidMessage, msg.Priority)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	msg.Delivery = models.DeliveryQueued
	return nil
}

func (m *Manager) persist(msg *models.Message) error {
	if m.db == nil {
		return nil
	}
	if err := m.db.PutMessage(msg); err != nil {
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	return nil
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) dropWaiter(correlationID string) {
	m.mu.Lock()
	delete(m.pending, correlationID)
	m.mu.Unlock()
}

func (m *Manager) emitEvent(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Slow consumers drop events rather than block delivery.
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.notify:
			m.drain()
		case <-ticker.C:
			m.sweep()
			m.drain()
		}
	}
}

// drain delivers queued messages in priority order until the queue is
// empty. Delivery happens on the single dispatch goroutine, so per-pair
// send order is preserved in inbox order.
func (m *Manager) drain() {
	for {
		m.mu.Lock()
		msg := m.queue.Pop()
		m.mu.Unlock()
		if msg == nil {
			return
		}
		m.deliver(msg)
	}
}

func (m *Manager) deliver(msg *models.Message) {
	// Responses route straight to the waiting sender.
	if msg.CorrelationID != "" {
		m.mu.Lock()
		waiter, ok := m.pending[msg.CorrelationID]
		if ok && waiter.requestID != msg.ID {
			delete(m.pending, msg.CorrelationID)
			m.mu.Unlock()
			waiter.ch <- msg
			m.finishDelivery(msg, models.DeliveryAcknowledged)
			return
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	inbox, ok := m.inboxes[msg.Receiver]
	m.mu.Unlock()

	msg.Attempts++

	if ok {
		select {
		case inbox <- msg:
			m.finishDelivery(msg, models.DeliveryDelivered)
			if msg.RequiresResponse {
				m.mu.Lock()
				m.awaiting[msg.ID] = &ackState{
					msg:      msg,
					deadline: time.Now().Add(m.cfg.AckTimeout),
				}
				m.mu.Unlock()
			}
			return
		default:
			// Inbox full; fall through to retry handling.
		}
	}

	if msg.RequiresResponse && msg.Attempts < m.cfg.MaxRetries {
		backoff := m.cfg.RetryBackoff << (msg.Attempts - 1)
		m.mu.Lock()
		m.retries = append(m.retries, retryEntry{msg: msg, dueAt: time.Now().Add(backoff)})
		m.mu.Unlock()
		return
	}
	m.expire(msg)
}

// sweep requeues due retries and redelivers messages whose
// acknowledgement deadline has passed.
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var due []retryEntry
	var remaining []retryEntry
	for _, entry := range m.retries {
		if now.After(entry.dueAt) {
			due = append(due, entry)
		} else {
			remaining = append(remaining, entry)
		}
	}
	m.retries = remaining

	var redeliver []*models.Message
	for id, state := range m.awaiting {
		if now.After(state.deadline) {
			delete(m.awaiting, id)
			redeliver = append(redeliver, state.msg)
		}
	}

	for _, entry := range due {
		m.queue.Push(entry.msg)
	}
	for _, msg := range redeliver {
		if msg.Attempts >= m.cfg.MaxRetries {
			continue
		}
		m.queue.Push(msg)
	}
	m.mu.Unlock()

	for _, msg := range redeliver {
		if msg.Attempts >= m.cfg.MaxRetries {
			m.expire(msg)
		}
	}
}

func (m *Manager) finishDelivery(msg *models.Message, state models.DeliveryState) {
	msg.Delivery = state
	now := time.Now().UTC()
	msg.DeliveredAt = &now
	m.delivered.Inc()
	if m.db != nil {
		if err := m.db.UpdateMessageDelivery(msg.ID, state, msg.Attempts, store.FormatTime(now)); err != nil {
			log.Printf("[comms] persist delivery %s: %v", msg.ID, err)
		}
	}
}

func (m *Manager) expire(msg *models.Message) {
	msg.Delivery = models.DeliveryExpired
	m.expired.Inc()
	if m.db != nil {
		if err := m.db.UpdateMessageDelivery(msg.ID, models.DeliveryExpired, msg.Attempts, nil); err != nil {
			log.Printf("[comms] persist expiry %s: %v", msg.ID, err)
		}
	}
	m.emitEvent(Event{
		Type:      EventExpired,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Timestamp: time.Now().UTC(),
	})
}
