package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutTask inserts or replaces a task record.
func (db *DB) PutTask(t *models.Task) error {
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	excluded, err := json.Marshal(t.ExcludedAgents)
	if err != nil {
		return fmt.Errorf("marshal excluded_agents: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO tasks
		(id, description, required_capability, priority, depends_on, status,
		 assigned_to, excluded_agents, input, output, error, retry_count,
		 created_at, assigned_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Description, string(t.RequiredCapability), t.Priority,
		string(deps), string(t.Status), nullString(t.AssignedTo),
		string(excluded), nullString(string(t.Input)), nullString(string(t.Output)),
		nullString(t.Error), t.RetryCount, formatTime(t.CreatedAt),
		formatNullableTime(t.AssignedAt), formatNullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("put task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (db *DB) ListTasks(status models.TaskStatus) ([]*models.Task, error) {
	query := taskSelect
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasksByAgent returns tasks currently assigned to an agent.
func (db *DB) ListTasksByAgent(agentID string) ([]*models.Task, error) {
	rows, err := db.Query(taskSelect+" WHERE assigned_to = ? ORDER BY created_at", agentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by agent: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const taskSelect = `
	SELECT id, description, required_capability, priority, depends_on, status,
	       assigned_to, excluded_agents, input, output, error, retry_count,
	       created_at, assigned_at, completed_at
	FROM tasks`

func scanTask(s scanner) (*models.Task, error) {
	var (
		t                     models.Task
		capability, status    string
		deps, excluded        string
		assignedTo            sql.NullString
		input, output, errMsg sql.NullString
		created               string
		assigned, completed   sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Description, &capability, &t.Priority, &deps,
		&status, &assignedTo, &excluded, &input, &output, &errMsg,
		&t.RetryCount, &created, &assigned, &completed); err != nil {
		return nil, err
	}

	t.RequiredCapability = models.Capability(capability)
	t.Status = models.TaskStatus(status)
	t.AssignedTo = assignedTo.String
	t.Error = errMsg.String
	if input.Valid {
		t.Input = json.RawMessage(input.String)
	}
	if output.Valid {
		t.Output = json.RawMessage(output.String)
	}
	if err := json.Unmarshal([]byte(deps), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("unmarshal depends_on: %w", err)
	}
	if err := json.Unmarshal([]byte(excluded), &t.ExcludedAgents); err != nil {
		return nil, fmt.Errorf("unmarshal excluded_agents: %w", err)
	}

	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.AssignedAt = parseNullableTime(assigned)
	t.CompletedAt = parseNullableTime(completed)
	return &t, nil
}
