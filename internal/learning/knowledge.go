package learning

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/swarm/internal/comms"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// ShareKnowledge records a knowledge item and distributes it: targeted
// knowledge goes to its recipient, untargeted knowledge broadcasts to
// agents whose capability set matches the knowledge context.
func (e *Engine) ShareKnowledge(k *models.KnowledgeRecord) error {
	if !k.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKnowledge, k.Kind)
	}
	if k.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidKnowledge)
	}
	if k.Confidence < 0 || k.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidKnowledge, k.Confidence)
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now

	e.mu.Lock()
	e.knowledge[k.ID] = k
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.PutKnowledge(k); err != nil {
			log.Printf("[learning] persist knowledge %s: %v", k.ID, err)
		}
	}

	e.distribute(k)
	return nil
}

// RecordApplication folds a consumer's report of applying a piece of
// knowledge into its effectiveness score.
func (e *Engine) RecordApplication(knowledgeID string, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	e.mu.Lock()
	k, ok := e.knowledge[knowledgeID]
	if ok {
		k.Applications++
		n := float64(k.Applications)
		k.Effectiveness = (k.Effectiveness*(n-1) + outcome) / n
		k.UpdatedAt = time.Now().UTC()
	}
	var snapshot *models.KnowledgeRecord
	if ok {
		cp := *k
		snapshot = &cp
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrKnowledgeNotFound, knowledgeID)
	}

	if e.db != nil {
		if err := e.db.PutKnowledge(snapshot); err != nil {
			log.Printf("[learning] persist knowledge %s: %v", snapshot.ID, err)
		}
	}
	return nil
}

// Knowledge returns records matching an applicability context (or all
// records when context is empty), most recent first.
func (e *Engine) Knowledge(context string) []*models.KnowledgeRecord {
	e.mu.RLock()
	out := make([]*models.KnowledgeRecord, 0, len(e.knowledge))
	for _, k := range e.knowledge {
		if context != "" && k.Context != context {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// distribute delivers a knowledge record as knowledge_share messages.
func (e *Engine) distribute(k *models.KnowledgeRecord) {
	if e.comms == nil {
		return
	}
	payload, err := json.Marshal(k)
	if err != nil {
		return
	}

	sender := k.SourceAgent
	if sender == "" {
		sender = comms.CoordinatorID
	}
	msg := comms.NewMessage(models.MessageKnowledgeShare, sender, k.TargetAgent, models.PriorityLow, payload)

	if k.TargetAgent != "" {
		if _, err := e.comms.Send(msg); err != nil {
			log.Printf("[learning] share %s: %v", k.ID, err)
		}
		return
	}

	// Untargeted knowledge goes to agents that can act on its context.
	filter := func(id string) bool {
		if e.agents == nil {
			return true
		}
		agent, err := e.agents.Get(id)
		if err != nil {
			return false
		}
		if k.Context == "" {
			return true
		}
		return models.HasCapability(agent.Capabilities, models.Capability(k.Context))
	}
	if _, err := e.comms.Broadcast(msg, filter); err != nil {
		log.Printf("[learning] share %s: %v", k.ID, err)
	}
}
