package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutMemory inserts or replaces a memory record.
func (db *DB) PutMemory(r *models.MemoryRecord) error {
	var expires any
	if !r.ExpiresAt.IsZero() {
		expires = formatTime(r.ExpiresAt)
	}

	_, err := db.Exec(`
		INSERT OR REPLACE INTO memory
		(id, agent_id, tier, category, key, value, importance, access_count,
		 last_accessed, version, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.AgentID, string(r.Tier), r.Category, r.Key,
		nullString(string(r.Value)), r.Importance, r.AccessCount,
		formatTime(r.LastAccessed), r.Version, expires, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("put memory %s: %w", r.ID, err)
	}
	return nil
}

// GetMemory retrieves a memory record by owner, tier, category and key.
// Returns nil if not found.
func (db *DB) GetMemory(agentID string, tier models.MemoryTier, category, key string) (*models.MemoryRecord, error) {
	row := db.QueryRow(memorySelect+`
		WHERE agent_id = ? AND tier = ? AND category = ? AND key = ?
	`, agentID, string(tier), category, key)

	r, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return r, nil
}

// ListMemoryByTier returns an agent's records in one tier.
func (db *DB) ListMemoryByTier(agentID string, tier models.MemoryTier) ([]*models.MemoryRecord, error) {
	rows, err := db.Query(memorySelect+`
		WHERE agent_id = ? AND tier = ? ORDER BY last_accessed DESC
	`, agentID, string(tier))
	if err != nil {
		return nil, fmt.Errorf("list memory by tier: %w", err)
	}
	defer rows.Close()

	var records []*models.MemoryRecord
	for rows.Next() {
		r, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListAllMemory returns every memory record. Used to rehydrate the
// memory manager on startup.
func (db *DB) ListAllMemory() ([]*models.MemoryRecord, error) {
	rows, err := db.Query(memorySelect + " ORDER BY last_accessed DESC")
	if err != nil {
		return nil, fmt.Errorf("list all memory: %w", err)
	}
	defer rows.Close()

	var records []*models.MemoryRecord
	for rows.Next() {
		r, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteMemory removes a memory record by ID.
func (db *DB) DeleteMemory(id string) error {
	_, err := db.Exec("DELETE FROM memory WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// PurgeExpiredMemory deletes records whose TTL elapsed before cutoff.
// Returns the number of records deleted.
func (db *DB) PurgeExpiredMemory(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM memory WHERE expires_at IS NOT NULL AND expires_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge expired memory: %w", err)
	}
	return result.RowsAffected()
}

const memorySelect = `
	SELECT id, agent_id, tier, category, key, value, importance, access_count,
	       last_accessed, version, expires_at, created_at
	FROM memory`

func scanMemory(s scanner) (*models.MemoryRecord, error) {
	var (
		r             models.MemoryRecord
		tier          string
		value         sql.NullString
		lastAccessed  string
		expires       sql.NullString
		created       string
	)
	if err := s.Scan(&r.ID, &r.AgentID, &tier, &r.Category, &r.Key, &value,
		&r.Importance, &r.AccessCount, &lastAccessed, &r.Version, &expires, &created); err != nil {
		return nil, err
	}

	r.Tier = models.MemoryTier(tier)
	if value.Valid {
		r.Value = json.RawMessage(value.String)
	}

	var err error
	if r.LastAccessed, err = parseTime(lastAccessed); err != nil {
		return nil, fmt.Errorf("parse last_accessed: %w", err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t := parseNullableTime(expires); t != nil {
		r.ExpiresAt = *t
	}
	return &r, nil
}
