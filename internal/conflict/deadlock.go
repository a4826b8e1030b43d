package conflict

import (
	"time"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func (r *Resolver) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.ScanDeadlocks()
		}
	}
}

// ScanDeadlocks inspects in-flight request/response exchanges for
// circular waits. Each detected cycle raises a communication_deadlock
// conflict whose automatic resolution force-times-out the oldest
// request in the cycle, unblocking every waiter behind it.
func (r *Resolver) ScanDeadlocks() {
	cutoff := time.Now().UTC().Add(-r.cfg.DeadlockThreshold)

	var aged []comms.PendingRequest
	for _, req := range r.comms.PendingRequests() {
		if req.Since.Before(cutoff) {
			aged = append(aged, req)
		}
	}
	if len(aged) < 2 {
		return
	}

	cycle := findWaitCycle(aged)
	if len(cycle) == 0 {
		return
	}

	// Break the cycle at its oldest request.
	oldest := cycle[0]
	for _, req := range cycle[1:] {
		if req.Since.Before(oldest.Since) {
			oldest = req
		}
	}

	agentSet := make(map[string]bool)
	var agentIDs []string
	for _, req := range cycle {
		if !agentSet[req.Sender] {
			agentSet[req.Sender] = true
			agentIDs = append(agentIDs, req.Sender)
		}
	}

	r.Detect(models.ConflictCommunicationDeadlock, agentIDs, nil, map[string]string{
		"correlation_id": oldest.CorrelationID,
	})
}

// findWaitCycle runs a depth-first search with coloring over the
// wait-for graph (sender waits on receiver) and returns the requests
// forming the first cycle found, or nil.
func findWaitCycle(pending []comms.PendingRequest) []comms.PendingRequest {
	waits := make(map[string][]comms.PendingRequest)
	for _, req := range pending {
		waits[req.Sender] = append(waits[req.Sender], req)
	}

	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int)
	var stack []comms.PendingRequest

	var visit func(id string) []comms.PendingRequest
	visit = func(id string) []comms.PendingRequest {
		colors[id] = 1
		for _, req := range waits[id] {
			switch colors[req.Receiver] {
			case 1:
				// Back edge: unwind the stack to the cycle entry.
				cycle := []comms.PendingRequest{req}
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i].Sender == req.Receiver {
						cycle = append(cycle, stack[i:]...)
						break
					}
				}
				return cycle
			case 0:
				stack = append(stack, req)
				if cycle := visit(req.Receiver); cycle != nil {
					return cycle
				}
				stack = stack[:len(stack)-1]
			}
		}
		colors[id] = 2
		return nil
	}

	for id := range waits {
		if colors[id] == 0 {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
