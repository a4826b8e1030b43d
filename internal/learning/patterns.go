package learning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// extractComplexity pulls a numeric complexity attribute out of an
// opaque task payload. Payloads are free-form JSON, so the lookup is
// best effort; absent or non-numeric attributes yield zero.
func extractComplexity(input json.RawMessage) float64 {
	if len(input) == 0 {
		return 0
	}
	if v := gjson.GetBytes(input, "complexity"); v.Exists() {
		return v.Float()
	}
	return gjson.GetBytes(input, "task.complexity").Float()
}

// ExtractPatterns mines the rolling windows for statistically backed
// patterns and turns them into knowledge records. Each window produces
// at most one pattern until its adaptation clears, so repeated scans do
// not flood the knowledge base.
func (e *Engine) ExtractPatterns() []*models.KnowledgeRecord {
	type candidate struct {
		key     windowKey
		content string
		conf    float64
	}

	e.mu.Lock()
	var found []candidate
	for key, window := range e.windows {
		if len(window) < e.cfg.MinSamples || e.extracted[key] {
			continue
		}

		failures := 0
		var minFailComplexity float64
		var maxSuccessComplexity float64
		for _, rec := range window {
			if rec.Success {
				if rec.Complexity > maxSuccessComplexity {
					maxSuccessComplexity = rec.Complexity
				}
				continue
			}
			failures++
			if rec.Complexity > 0 && (minFailComplexity == 0 || rec.Complexity < minFailComplexity) {
				minFailComplexity = rec.Complexity
			}
		}
		failRate := float64(failures) / float64(len(window))
		if failRate < e.cfg.PatternConfidence {
			continue
		}

		content := fmt.Sprintf("agent %s fails %.0f%% of %s tasks",
			key.agentID, failRate*100, key.capability)
		// A clean complexity split is a sharper pattern than a raw
		// failure rate.
		if minFailComplexity > 0 && minFailComplexity > maxSuccessComplexity {
			content = fmt.Sprintf("agent %s fails %s tasks at complexity %.1f and above",
				key.agentID, key.capability, minFailComplexity)
		}
		found = append(found, candidate{key: key, content: content, conf: failRate})
		e.extracted[key] = true
	}
	e.mu.Unlock()

	var records []*models.KnowledgeRecord
	now := time.Now().UTC()
	for _, c := range found {
		rec := &models.KnowledgeRecord{
			ID:          uuid.NewString(),
			SourceAgent: c.key.agentID,
			Kind:        models.KnowledgePattern,
			Content:     c.content,
			Context:     string(c.key.capability),
			Confidence:  c.conf,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.ShareKnowledge(rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}
