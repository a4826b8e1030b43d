package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/internal/coordinator"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// ErrNoResponse indicates the assigned agent never answered a work request.
var ErrNoResponse = errors.New("agent did not respond")

// ReplyCodeCapabilityMismatch is the reply code an agent sends when it
// cannot actually perform the task it was handed. The coordinator
// reacts by reselecting instead of burning the retry budget.
const ReplyCodeCapabilityMismatch = "capability_mismatch"

// ExecReply is the payload an agent sends back when it finishes a task.
type ExecReply struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Code classifies a failure beyond its message text.
	Code string `json:"code,omitempty"`
}

// CommsExecutor drives task execution over the message bus: it sends
// the task to the assigned agent as a request and waits for the reply.
// Agent processes consume their inbox and answer with an ExecReply.
type CommsExecutor struct {
	comms   *comms.Manager
	timeout time.Duration
}

// NewCommsExecutor creates an executor bound to the message bus.
// timeout bounds the wait for an agent reply; the execution context
// usually cancels first.
func NewCommsExecutor(cm *comms.Manager, timeout time.Duration) *CommsExecutor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommsExecutor{comms: cm, timeout: timeout}
}

// Execute hands a task to an agent and blocks until the agent replies,
// the context is canceled, or the reply window closes.
func (x *CommsExecutor) Execute(ctx context.Context, agent *models.Agent, task *models.Task) (json.RawMessage, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	msg := comms.NewMessage(models.MessageTaskDelegation, comms.CoordinatorID, agent.ID, task.Priority, payload)
	resp, err := x.comms.RequestResponse(ctx, msg, x.timeout)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoResponse
	}

	var reply ExecReply
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Code == ReplyCodeCapabilityMismatch {
		if reply.Error != "" {
			return nil, fmt.Errorf("%w: %s", coordinator.ErrCapabilityMismatch, reply.Error)
		}
		return nil, coordinator.ErrCapabilityMismatch
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Output, nil
}
