package models

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the kinds of inter-agent messages.
type MessageType string

const (
	MessageTaskDelegation     MessageType = "task_delegation"
	MessageTaskUpdate         MessageType = "task_update"
	MessageTaskCompletion     MessageType = "task_completion"
	MessageKnowledgeShare     MessageType = "knowledge_share"
	MessageConflictEscalation MessageType = "conflict_escalation"
	MessageResourceRequest    MessageType = "resource_request"
	MessageStatusUpdate       MessageType = "status_update"
	MessageHealthCheck        MessageType = "health_check"
)

// Valid returns true if the message type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTaskDelegation, MessageTaskUpdate, MessageTaskCompletion,
		MessageKnowledgeShare, MessageConflictEscalation,
		MessageResourceRequest, MessageStatusUpdate, MessageHealthCheck:
		return true
	default:
		return false
	}
}

// Message priorities. Five levels, FIFO within a level.
const (
	PriorityLowest  = 0
	PriorityLow     = 1
	PriorityNormal  = 2
	PriorityHigh    = 3
	PriorityUrgent  = 4
	PriorityLevels  = 5
)

// DeliveryState tracks a message through the delivery pipeline.
type DeliveryState string

const (
	// DeliveryQueued indicates the message is waiting in the priority queue.
	DeliveryQueued DeliveryState = "queued"
	// DeliveryDelivered indicates the message reached the recipient inbox.
	DeliveryDelivered DeliveryState = "delivered"
	// DeliveryAcknowledged indicates the recipient confirmed processing.
	DeliveryAcknowledged DeliveryState = "acknowledged"
	// DeliveryExpired indicates retries were exhausted without acknowledgement.
	DeliveryExpired DeliveryState = "expired"
)

// Valid returns true if the delivery state is a known value.
func (s DeliveryState) Valid() bool {
	switch s {
	case DeliveryQueued, DeliveryDelivered, DeliveryAcknowledged, DeliveryExpired:
		return true
	default:
		return false
	}
}

// Message is a typed unit of inter-agent communication. Once persisted a
// message is immutable except for its delivery-state transitions.
type Message struct {
	// ID is the unique identifier (also the delivery ID).
	ID string `json:"id"`
	// Type is the kind of message.
	Type MessageType `json:"type"`
	// Sender is the originating agent or component ID.
	Sender string `json:"sender"`
	// Receiver is the destination agent ID; empty means broadcast.
	Receiver string `json:"receiver,omitempty"`
	// Priority is the queue priority (0=lowest .. 4=urgent).
	Priority int `json:"priority"`
	// Payload is the opaque message body.
	Payload json.RawMessage `json:"payload,omitempty"`
	// CorrelationID pairs requests with responses.
	CorrelationID string `json:"correlation_id,omitempty"`
	// RequiresResponse marks messages eligible for delivery retry.
	RequiresResponse bool `json:"requires_response,omitempty"`
	// Delivery is the current delivery state.
	Delivery DeliveryState `json:"delivery"`
	// Attempts is the number of delivery attempts made.
	Attempts int `json:"attempts"`
	// SentAt is when the message was accepted for delivery.
	SentAt time.Time `json:"sent_at"`
	// DeliveredAt is when the message reached the recipient, if it has.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
