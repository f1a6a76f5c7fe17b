package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChatChange reports what UpsertChatFromGateway did.
type ChatChange int

const (
	ChatUnchanged ChatChange = iota
	ChatInserted
	ChatRenamed
)

// UpsertChatFromGateway records a chat reported by the gateway. New chats are
// inserted as-is. For known chats the display name is only replaced when the
// stored one is empty, or when it is unclean and the candidate is clean, so a
// good name is never overwritten by a worse one. Selections are not touched.
func (db *DB) UpsertChatFromGateway(c *Chat) (ChatChange, error) {
	tx, err := db.Begin()
	if err != nil {
		return ChatUnchanged, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	candidateClean := IsCleanName(c.DisplayName)

	var storedName string
	var storedClean bool
	err = tx.QueryRow(`SELECT display_name, display_name_is_clean FROM chats WHERE chat_id = ?`, c.ChatID).
		Scan(&storedName, &storedClean)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(`
			INSERT INTO chats (chat_id, kind, display_name, phone_or_group_id, company, category, display_name_is_clean, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ChatID, c.Kind, c.DisplayName, c.PhoneOrGroupID, c.Company, c.Category, candidateClean, now, now); err != nil {
			return ChatUnchanged, fmt.Errorf("insert chat %q: %w", c.ChatID, err)
		}
		return ChatInserted, tx.Commit()
	case err != nil:
		return ChatUnchanged, fmt.Errorf("read chat %q: %w", c.ChatID, err)
	}

	replace := c.DisplayName != "" && c.DisplayName != storedName &&
		(storedName == "" || (!storedClean && candidateClean))
	if !replace {
		return ChatUnchanged, nil
	}
	if _, err := tx.Exec(`
		UPDATE chats SET display_name = ?, display_name_is_clean = ?, updated_at = ?
		WHERE chat_id = ?`,
		c.DisplayName, candidateClean, now, c.ChatID); err != nil {
		return ChatUnchanged, fmt.Errorf("rename chat %q: %w", c.ChatID, err)
	}
	return ChatRenamed, tx.Commit()
}

// SetChatTags updates the operator-owned company and category of a chat.
// Empty arguments leave the stored value untouched.
func (db *DB) SetChatTags(chatID, company, category string) error {
	res, err := db.Exec(`
		UPDATE chats SET
			company = CASE WHEN ? != '' THEN ? ELSE company END,
			category = CASE WHEN ? != '' THEN ? ELSE category END,
			updated_at = ?
		WHERE chat_id = ?`,
		company, company, category, category, time.Now().UnixMilli(), chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chat %q not found", chatID)
	}
	return nil
}

const chatColumns = `chat_id, kind, display_name, phone_or_group_id, company, category, display_name_is_clean, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(s scanner) (*Chat, error) {
	var c Chat
	var created, updated int64
	if err := s.Scan(&c.ChatID, &c.Kind, &c.DisplayName, &c.PhoneOrGroupID, &c.Company, &c.Category, &c.DisplayNameIsClean, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// GetChat returns a single chat by id, or nil when the gateway never reported it.
func (db *DB) GetChat(chatID string) (*Chat, error) {
	c, err := scanChat(db.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ChatListing is a chat together with its selection, for the operator.
type ChatListing struct {
	Chat
	InScope  bool
	Priority int
}

// ListChats returns every known chat with its selection, ordered by name.
func (db *DB) ListChats() ([]ChatListing, error) {
	rows, err := db.Query(`
		SELECT c.chat_id, c.kind, c.display_name, c.phone_or_group_id, c.company, c.category,
			c.display_name_is_clean, c.created_at, c.updated_at,
			COALESCE(s.in_scope, 0), COALESCE(s.priority, ?)
		FROM chats c
		LEFT JOIN selections s ON s.chat_id = c.chat_id
		ORDER BY COALESCE(NULLIF(c.display_name, ''), c.chat_id) ASC`, DefaultPriority)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChatListing
	for rows.Next() {
		var l ChatListing
		var created, updated int64
		if err := rows.Scan(&l.ChatID, &l.Kind, &l.DisplayName, &l.PhoneOrGroupID, &l.Company, &l.Category,
			&l.DisplayNameIsClean, &created, &updated, &l.InScope, &l.Priority); err != nil {
			return nil, err
		}
		l.CreatedAt = fromMillis(created)
		l.UpdatedAt = fromMillis(updated)
		out = append(out, l)
	}
	return out, rows.Err()
}
