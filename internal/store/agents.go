package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutAgent inserts or replaces an agent record.
func (db *DB) PutAgent(a *models.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	perf, err := json.Marshal(a.Performance)
	if err != nil {
		return fmt.Errorf("marshal performance: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO agents
		(id, type, capabilities, status, max_concurrent_tasks, max_memory_entries,
		 active_tasks, performance, needs_health_check, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Type), string(caps), string(a.Status),
		a.Limits.MaxConcurrentTasks, a.Limits.MaxMemoryEntries,
		a.ActiveTasks, string(perf), boolToInt(a.NeedsHealthCheck),
		formatTime(a.RegisteredAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns nil if not found.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	row := db.QueryRow(`
		SELECT id, type, capabilities, status, max_concurrent_tasks,
		       max_memory_entries, active_tasks, performance,
		       needs_health_check, registered_at, updated_at
		FROM agents WHERE id = ?
	`, id)

	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// ListAgents returns all agents, optionally filtered by status.
func (db *DB) ListAgents(status models.AgentStatus) ([]*models.Agent, error) {
	query := `
		SELECT id, type, capabilities, status, max_concurrent_tasks,
		       max_memory_entries, active_tasks, performance,
		       needs_health_check, registered_at, updated_at
		FROM agents`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY registered_at"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent record.
func (db *DB) DeleteAgent(id string) error {
	_, err := db.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(s scanner) (*models.Agent, error) {
	var (
		a           models.Agent
		typ, status string
		caps, perf  string
		healthCheck int
		registered  string
		updated     string
	)
	if err := s.Scan(&a.ID, &typ, &caps, &status,
		&a.Limits.MaxConcurrentTasks, &a.Limits.MaxMemoryEntries,
		&a.ActiveTasks, &perf, &healthCheck, &registered, &updated); err != nil {
		return nil, err
	}

	a.Type = models.AgentType(typ)
	a.Status = models.AgentStatus(status)
	a.NeedsHealthCheck = healthCheck != 0
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if perf != "" {
		if err := json.Unmarshal([]byte(perf), &a.Performance); err != nil {
			return nil, fmt.Errorf("unmarshal performance: %w", err)
		}
	}

	var err error
	if a.RegisteredAt, err = parseTime(registered); err != nil {
		return nil, fmt.Errorf("parse registered_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
