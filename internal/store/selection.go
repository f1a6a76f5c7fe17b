package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ValidPriority reports whether p is in the accepted 1..10 range.
func ValidPriority(p int) bool {
	return p >= 1 && p <= 10
}

// SetSelection updates the scope and/or priority of a chat. nil arguments keep
// the stored value (or the default for a chat that was never marked).
func (db *DB) SetSelection(chatID string, inScope *bool, priority *int) (*Selection, error) {
	if priority != nil && !ValidPriority(*priority) {
		return nil, fmt.Errorf("priority %d out of range 1..10", *priority)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sel := Selection{ChatID: chatID, Priority: DefaultPriority}
	err = tx.QueryRow(`SELECT in_scope, priority FROM selections WHERE chat_id = ?`, chatID).
		Scan(&sel.InScope, &sel.Priority)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read selection %q: %w", chatID, err)
	}
	if inScope != nil {
		sel.InScope = *inScope
	}
	if priority != nil {
		sel.Priority = *priority
	}
	sel.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(`
		INSERT INTO selections (chat_id, in_scope, priority, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			in_scope = excluded.in_scope,
			priority = excluded.priority,
			updated_at = excluded.updated_at`,
		sel.ChatID, sel.InScope, sel.Priority, sel.UpdatedAt.UnixMilli()); err != nil {
		return nil, fmt.Errorf("write selection %q: %w", chatID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sel, nil
}

// GetSelection returns the selection for a chat. Chats never marked are out of
// scope with the default priority.
func (db *DB) GetSelection(chatID string) (*Selection, error) {
	sel := Selection{ChatID: chatID, Priority: DefaultPriority}
	var updated int64
	err := db.QueryRow(`SELECT in_scope, priority, updated_at FROM selections WHERE chat_id = ?`, chatID).
		Scan(&sel.InScope, &sel.Priority, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &sel, nil
	}
	if err != nil {
		return nil, err
	}
	sel.UpdatedAt = fromMillis(updated)
	return &sel, nil
}

// ListInScope returns every in-scope chat ordered by priority descending, then
// display name (falling back to the chat id for chats without a record).
func (db *DB) ListInScope() ([]ScopedChat, error) {
	rows, err := db.Query(`
		SELECT s.chat_id, s.in_scope, s.priority, s.updated_at,
			c.chat_id, c.kind, c.display_name, c.phone_or_group_id, c.company, c.category,
			c.display_name_is_clean, c.created_at, c.updated_at
		FROM selections s
		LEFT JOIN chats c ON c.chat_id = s.chat_id
		WHERE s.in_scope = 1
		ORDER BY s.priority DESC, COALESCE(NULLIF(c.display_name, ''), s.chat_id) ASC, s.chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ScopedChat
	for rows.Next() {
		var sc ScopedChat
		var selUpdated int64
		var (
			id, kind, name, phone, company, category sql.NullString
			clean                                    sql.NullBool
			created, updated                         sql.NullInt64
		)
		if err := rows.Scan(&sc.ChatID, &sc.InScope, &sc.Priority, &selUpdated,
			&id, &kind, &name, &phone, &company, &category, &clean, &created, &updated); err != nil {
			return nil, err
		}
		sc.UpdatedAt = fromMillis(selUpdated)
		if id.Valid {
			sc.Chat = &Chat{
				ChatID:             id.String,
				Kind:               ChatKind(kind.String),
				DisplayName:        name.String,
				PhoneOrGroupID:     phone.String,
				Company:            company.String,
				Category:           category.String,
				DisplayNameIsClean: clean.Bool,
				CreatedAt:          fromMillis(created.Int64),
				UpdatedAt:          fromMillis(updated.Int64),
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
