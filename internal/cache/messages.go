package cache

import (
	"fmt"
	"time"

	"github.com/mvalente/tablechat/internal/chat"
)

// UpsertMessage writes one confirmed message. Optimistic messages never
// reach the cache, they have no durable id to key on.
func (db *DB) UpsertMessage(m chat.Message) error {
	if m.Optimistic || m.ID == 0 {
		return nil
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, id, sender_id, body, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO UPDATE SET
			sender_id = excluded.sender_id,
			body = excluded.body,
			created_at = excluded.created_at,
			read_at = excluded.read_at
	`, m.ConversationID, m.ID, m.SenderID, m.Body, m.CreatedAt.UnixMilli(), seenColumn(m))
	if err != nil {
		return fmt.Errorf("upsert message %d/%d: %w", m.ConversationID, m.ID, err)
	}
	return nil
}

// ReplaceMessages swaps a conversation's history in one transaction.
func (db *DB) ReplaceMessages(convID int64, msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, convID); err != nil {
		return fmt.Errorf("clear messages of %d: %w", convID, err)
	}
	for _, m := range msgs {
		if m.Optimistic || m.ID == 0 {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO messages (conversation_id, id, sender_id, body, created_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, convID, m.ID, m.SenderID, m.Body, m.CreatedAt.UnixMilli(), seenColumn(m))
		if err != nil {
			return fmt.Errorf("insert message %d/%d: %w", convID, m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages loads the cached history of one conversation in
// chronological order.
func (db *DB) ListMessages(convID int64) ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, id, sender_id, body, created_at, read_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, convID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %d: %w", convID, err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var createdAt int64
		var readAt *int64
		err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Body, &createdAt, &readAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		if readAt != nil {
			t := time.UnixMilli(*readAt)
			m.ReadAt = &t
			m.Read = true
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ConversationIDs returns the ids of all conversations with cached
// message history.
func (db *DB) ConversationIDs() ([]int64, error) {
	rows, err := db.Query(`SELECT DISTINCT conversation_id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("list cached conversation ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
