package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mvalente/tablechat/internal/chat"
)

// UpsertConversation writes one conversation snapshot row.
func (db *DB) UpsertConversation(c chat.Conversation) error {
	_, err := db.Exec(`
		INSERT INTO conversations
			(id, other_id, other_name, other_avatar, unread_count,
			 last_msg_id, last_msg_body, last_msg_sender_id, last_msg_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			other_id = excluded.other_id,
			other_name = excluded.other_name,
			other_avatar = excluded.other_avatar,
			unread_count = excluded.unread_count,
			last_msg_id = excluded.last_msg_id,
			last_msg_body = excluded.last_msg_body,
			last_msg_sender_id = excluded.last_msg_sender_id,
			last_msg_at = excluded.last_msg_at,
			updated_at = excluded.updated_at
	`, c.ID, c.Other.ID, c.Other.Name, c.Other.Avatar, c.UnreadCount,
		c.LastMessage.ID, c.LastMessage.Body, c.LastMessage.SenderID,
		unixMilliOrZero(c.LastMessage.At), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert conversation %d: %w", c.ID, err)
	}
	return nil
}

// ReplaceConversations swaps the whole snapshot in one transaction.
func (db *DB) ReplaceConversations(convs []chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range convs {
		_, err := tx.Exec(`
			INSERT INTO conversations
				(id, other_id, other_name, other_avatar, unread_count,
				 last_msg_id, last_msg_body, last_msg_sender_id, last_msg_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.Other.ID, c.Other.Name, c.Other.Avatar, c.UnreadCount,
			c.LastMessage.ID, c.LastMessage.Body, c.LastMessage.SenderID,
			unixMilliOrZero(c.LastMessage.At), now)
		if err != nil {
			return fmt.Errorf("insert conversation %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations loads the cached snapshot, newest activity first.
func (db *DB) ListConversations() ([]chat.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, other_id, other_name, other_avatar, unread_count,
		       last_msg_id, last_msg_body, last_msg_sender_id, last_msg_at
		FROM conversations
		ORDER BY last_msg_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		var lastAt int64
		err := rows.Scan(&c.ID, &c.Other.ID, &c.Other.Name, &c.Other.Avatar,
			&c.UnreadCount, &c.LastMessage.ID, &c.LastMessage.Body,
			&c.LastMessage.SenderID, &lastAt)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if lastAt != 0 {
			c.LastMessage.At = time.UnixMilli(lastAt)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and its cached messages.
func (db *DB) DeleteConversation(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages of %d: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return tx.Commit()
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func seenColumn(m chat.Message) sql.NullInt64 {
	if seen, ok := m.SeenTime(); ok {
		return sql.NullInt64{Int64: seen.UnixMilli(), Valid: true}
	}
	return sql.NullInt64{}
}
