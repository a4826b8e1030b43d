package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutConflict inserts or replaces a conflict record.
func (db *DB) PutConflict(c *models.Conflict) error {
	agents, err := json.Marshal(c.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	taskIDs, err := json.Marshal(c.TaskIDs)
	if err != nil {
		return fmt.Errorf("marshal task_ids: %w", err)
	}
	context, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO conflicts
		(id, type, agents, task_ids, context, strategy, outcome, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, string(c.Type), string(agents), string(taskIDs), string(context),
		string(c.Strategy), nullString(c.Outcome), formatTime(c.DetectedAt),
		formatNullableTime(c.ResolvedAt))
	if err != nil {
		return fmt.Errorf("put conflict %s: %w", c.ID, err)
	}
	return nil
}

// GetConflict retrieves a conflict by ID. Returns nil if not found.
func (db *DB) GetConflict(id string) (*models.Conflict, error) {
	row := db.QueryRow(conflictSelect+" WHERE id = ?", id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict %s: %w", id, err)
	}
	return c, nil
}

// ListConflicts returns all conflicts, newest first. When unresolvedOnly
// is set, resolved conflicts are filtered out.
func (db *DB) ListConflicts(unresolvedOnly bool) ([]*models.Conflict, error) {
	query := conflictSelect
	if unresolvedOnly {
		query += " WHERE resolved_at IS NULL"
	}
	query += " ORDER BY detected_at DESC"

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

const conflictSelect = `
	SELECT id, type, agents, task_ids, context, strategy, outcome, detected_at, resolved_at
	FROM conflicts`

func scanConflict(s scanner) (*models.Conflict, error) {
	var (
		c                       models.Conflict
		typ, strategy           string
		agents, taskIDs, cctx   string
		outcome                 sql.NullString
		detected                string
		resolved                sql.NullString
	)
	if err := s.Scan(&c.ID, &typ, &agents, &taskIDs, &cctx, &strategy,
		&outcome, &detected, &resolved); err != nil {
		return nil, err
	}

	c.Type = models.ConflictType(typ)
	c.Strategy = models.ResolutionStrategy(strategy)
	c.Outcome = outcome.String
	if err := json.Unmarshal([]byte(agents), &c.Agents); err != nil {
		return nil, fmt.Errorf("unmarshal agents: %w", err)
	}
	if err := json.Unmarshal([]byte(taskIDs), &c.TaskIDs); err != nil {
		return nil, fmt.Errorf("unmarshal task_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(cctx), &c.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}

	var err error
	if c.DetectedAt, err = parseTime(detected); err != nil {
		return nil, fmt.Errorf("parse detected_at: %w", err)
	}
	c.ResolvedAt = parseNullableTime(resolved)
	return &c, nil
}
