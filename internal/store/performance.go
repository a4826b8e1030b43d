package store

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutPerformance inserts an outcome sample.
func (db *DB) PutPerformance(r *models.PerformanceRecord) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO performance
		(id, agent_id, capability, task_id, success, duration_ms, quality, complexity, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.AgentID, string(r.Capability), r.TaskID, boolToInt(r.Success),
		r.Duration.Milliseconds(), r.Quality, r.Complexity, formatTime(r.RecordedAt))
	if err != nil {
		return fmt.Errorf("put performance %s: %w", r.ID, err)
	}
	return nil
}

// ListPerformance returns the most recent outcome samples for an
// agent+capability pair, newest first, up to limit.
func (db *DB) ListPerformance(agentID string, capability models.Capability, limit int) ([]*models.PerformanceRecord, error) {
	rows, err := db.Query(`
		SELECT id, agent_id, capability, task_id, success, duration_ms,
		       quality, complexity, recorded_at
		FROM performance
		WHERE agent_id = ? AND capability = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`, agentID, string(capability), limit)
	if err != nil {
		return nil, fmt.Errorf("list performance: %w", err)
	}
	defer rows.Close()

	var records []*models.PerformanceRecord
	for rows.Next() {
		var (
			r          models.PerformanceRecord
			capStr     string
			success    int
			durationMS int64
			recorded   string
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &capStr, &r.TaskID,
			&success, &durationMS, &r.Quality, &r.Complexity, &recorded); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		r.Capability = models.Capability(capStr)
		r.Success = success != 0
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if r.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
