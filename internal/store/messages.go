package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// PutMessage inserts or replaces a message record.
func (db *DB) PutMessage(m *models.Message) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO messages
		(id, type, sender, receiver, priority, payload, correlation_id,
		 requires_response, delivery, attempts, sent_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, string(m.Type), m.Sender, nullString(m.Receiver), m.Priority,
		nullString(string(m.Payload)), nullString(m.CorrelationID),
		boolToInt(m.RequiresResponse), string(m.Delivery), m.Attempts,
		formatTime(m.SentAt), formatNullableTime(m.DeliveredAt))
	if err != nil {
		return fmt.Errorf("put message %s: %w", m.ID, err)
	}
	return nil
}

// UpdateMessageDelivery transitions a message's delivery state. Messages
// are immutable once persisted except for this transition.
func (db *DB) UpdateMessageDelivery(id string, state models.DeliveryState, attempts int, deliveredAt any) error {
	_, err := db.Exec(`
		UPDATE messages SET delivery = ?, attempts = ?, delivered_at = COALESCE(?, delivered_at)
		WHERE id = ?
	`, string(state), attempts, deliveredAt, id)
	if err != nil {
		return fmt.Errorf("update message delivery %s: %w", id, err)
	}
	return nil
}

// GetMessage retrieves a message by ID. Returns nil if not found.
func (db *DB) GetMessage(id string) (*models.Message, error) {
	row := db.QueryRow(messageSelect+" WHERE id = ?", id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// ListMessagesByReceiver returns messages addressed to the given receiver,
// in send order.
func (db *DB) ListMessagesByReceiver(receiver string) ([]*models.Message, error) {
	rows, err := db.Query(messageSelect+" WHERE receiver = ? ORDER BY sent_at", receiver)
	if err != nil {
		return nil, fmt.Errorf("list messages by receiver: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListMessagesByDelivery returns messages in a given delivery state.
func (db *DB) ListMessagesByDelivery(state models.DeliveryState) ([]*models.Message, error) {
	rows, err := db.Query(messageSelect+" WHERE delivery = ? ORDER BY sent_at", string(state))
	if err != nil {
		return nil, fmt.Errorf("list messages by delivery: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

const messageSelect = `
	SELECT id, type, sender, receiver, priority, payload, correlation_id,
	       requires_response, delivery, attempts, sent_at, delivered_at
	FROM messages`

func collectMessages(rows *sql.Rows) ([]*models.Message, error) {
	var msgs []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(s scanner) (*models.Message, error) {
	var (
		m                  models.Message
		typ, delivery      string
		receiver, payload  sql.NullString
		correlation        sql.NullString
		requiresResp       int
		sent               string
		delivered          sql.NullString
	)
	if err := s.Scan(&m.ID, &typ, &m.Sender, &receiver, &m.Priority, &payload,
		&correlation, &requiresResp, &delivery, &m.Attempts, &sent, &delivered); err != nil {
		return nil, err
	}

	m.Type = models.MessageType(typ)
	m.Receiver = receiver.String
	m.CorrelationID = correlation.String
	m.RequiresResponse = requiresResp != 0
	m.Delivery = models.DeliveryState(delivery)
	if payload.Valid {
		m.Payload = json.RawMessage(payload.String)
	}

	var err error
	if m.SentAt, err = parseTime(sent); err != nil {
		return nil, fmt.Errorf("parse sent_at: %w", err)
	}
	m.DeliveredAt = parseNullableTime(delivered)
	return &m, nil
}
