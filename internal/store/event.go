package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordEvent stores the ledger row for a created event. Re-recording the same
// marker keeps the first row.
func (db *DB) RecordEvent(e *EventRecord) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO events (marker, chat_id, external_event_id, start_utc, end_utc, title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(marker) DO NOTHING`,
		e.Marker, e.ChatID, e.ExternalEventID, e.Start.UnixMilli(), e.End.UnixMilli(), e.Title, created.UnixMilli())
	return err
}

// GetEvent returns the ledger row for a marker, or nil.
func (db *DB) GetEvent(marker string) (*EventRecord, error) {
	var e EventRecord
	var start, end, created int64
	err := db.QueryRow(`
		SELECT marker, chat_id, external_event_id, start_utc, end_utc, title, created_at
		FROM events WHERE marker = ?`, marker).
		Scan(&e.Marker, &e.ChatID, &e.ExternalEventID, &start, &end, &e.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Start = fromMillis(start)
	e.End = fromMillis(end)
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

// ListEvents returns ledger rows for a chat (all chats when chatID is empty)
// ordered by start.
func (db *DB) ListEvents(chatID string) ([]EventRecord, error) {
	q := `SELECT marker, chat_id, external_event_id, start_utc, end_utc, title, created_at FROM events`
	var args []any
	if chatID != "" {
		q += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	q += ` ORDER BY start_utc ASC, marker ASC`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var start, end, created int64
		if err := rows.Scan(&e.Marker, &e.ChatID, &e.ExternalEventID, &start, &end, &e.Title, &created); err != nil {
			return nil, err
		}
		e.Start = fromMillis(start)
		e.End = fromMillis(end)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TombstoneEvent removes the ledger row for a marker and records a tombstone
// in the same transaction, so the marker is never recreated.
func (db *DB) TombstoneEvent(marker, chatID, reason string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM events WHERE marker = ?`, marker); err != nil {
		return fmt.Errorf("delete ledger row: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO tombstones (marker, chat_id, deleted_at, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(marker) DO UPDATE SET deleted_at = excluded.deleted_at, reason = excluded.reason`,
		marker, chatID, time.Now().UnixMilli(), reason); err != nil {
		return fmt.Errorf("insert tombstone: %w", err)
	}
	return tx.Commit()
}

// IsTombstoned reports whether the marker was deleted on purpose.
func (db *DB) IsTombstoned(marker string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM tombstones WHERE marker = ?`, marker).Scan(&n)
	return n > 0, err
}

// ListTombstones returns tombstones for a chat (all when chatID is empty).
func (db *DB) ListTombstones(chatID string) ([]Tombstone, error) {
	q := `SELECT marker, chat_id, deleted_at, reason FROM tombstones`
	var args []any
	if chatID != "" {
		q += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	q += ` ORDER BY deleted_at ASC`
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Tombstone
	for rows.Next() {
		var t Tombstone
		var deleted int64
		if err := rows.Scan(&t.Marker, &t.ChatID, &deleted, &t.Reason); err != nil {
			return nil, err
		}
		t.DeletedAt = fromMillis(deleted)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ForgetTombstones deletes tombstones for a chat, or all of them when chatID
// is empty. Returns the number removed.
func (db *DB) ForgetTombstones(chatID string) (int64, error) {
	var res sql.Result
	var err error
	if chatID == "" {
		res, err = db.Exec(`DELETE FROM tombstones`)
	} else {
		res, err = db.Exec(`DELETE FROM tombstones WHERE chat_id = ?`, chatID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
