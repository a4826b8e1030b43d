package store

import (
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutKnowledge inserts or replaces a knowledge record.
func (db *DB) PutKnowledge(k *models.KnowledgeRecord) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO knowledge
		(id, source_agent, target_agent, kind, content, context, confidence,
		 effectiveness, applications, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.SourceAgent, nullString(k.TargetAgent), string(k.Kind),
		k.Content, nullString(k.Context), k.Confidence, k.Effectiveness,
		k.Applications, formatTime(k.CreatedAt), formatTime(k.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put knowledge %s: %w", k.ID, err)
	}
	return nil
}

// GetKnowledge retrieves a knowledge record by ID. Returns nil if not found.
func (db *DB) GetKnowledge(id string) (*models.KnowledgeRecord, error) {
	row := db.QueryRow(knowledgeSelect+" WHERE id = ?", id)
	k, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge %s: %w", id, err)
	}
	return k, nil
}

// ListKnowledgeByContext returns knowledge records matching an
// applicability context (typically a capability name).
func (db *DB) ListKnowledgeByContext(context string) ([]*models.KnowledgeRecord, error) {
	rows, err := db.Query(knowledgeSelect+" WHERE context = ? ORDER BY created_at DESC", context)
	if err != nil {
		return nil, fmt.Errorf("list knowledge by context: %w", err)
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

// ListKnowledgeBySource returns knowledge records produced by an agent.
func (db *DB) ListKnowledgeBySource(sourceAgent string) ([]*models.KnowledgeRecord, error) {
	rows, err := db.Query(knowledgeSelect+" WHERE source_agent = ? ORDER BY created_at DESC", sourceAgent)
	if err != nil {
		return nil, fmt.Errorf("list knowledge by source: %w", err)
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

const knowledgeSelect = `
	SELECT id, source_agent, target_agent, kind, content, context, confidence,
	       effectiveness, applications, created_at, updated_at
	FROM knowledge`

func collectKnowledge(rows *sql.Rows) ([]*models.KnowledgeRecord, error) {
	var records []*models.KnowledgeRecord
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		records = append(records, k)
	}
	return records, rows.Err()
}

func scanKnowledge(s scanner) (*models.KnowledgeRecord, error) {
	var (
		k                models.KnowledgeRecord
		kind             string
		target, context  sql.NullString
		created, updated string
	)
	if err := s.Scan(&k.ID, &k.SourceAgent, &target, &kind, &k.Content,
		&context, &k.Confidence, &k.Effectiveness, &k.Applications,
		&created, &updated); err != nil {
		return nil, err
	}

	k.Kind = models.KnowledgeKind(kind)
	k.TargetAgent = target.String
	k.Context = context.String

	var err error
	if k.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if k.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &k, nil
}
