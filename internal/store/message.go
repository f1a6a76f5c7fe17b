package store

import (
	"fmt"
	"sort"
	"time"
)

// PutBatch stores messages in one transaction. Messages are immutable: a key
// that already exists is left as it was. Returns how many rows were new.
func (db *DB) PutBatch(msgs []Message) (int, error) {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessMessage(sorted[i], sorted[j])
	})

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (chat_id, external_message_id, timestamp_utc, direction, sender_id, body_text, has_media, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, external_message_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, m := range sorted {
		if m.ChatID == "" || m.ExternalID == "" {
			return 0, fmt.Errorf("message without key (chat=%q id=%q)", m.ChatID, m.ExternalID)
		}
		res, err := stmt.Exec(m.ChatID, m.ExternalID, m.Timestamp.UnixMilli(), m.Direction, m.SenderID, m.Body, m.HasMedia, now)
		if err != nil {
			return 0, fmt.Errorf("insert message %q/%q: %w", m.ChatID, m.ExternalID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return inserted, nil
}

// RangeMessages returns the messages of one chat with from <= timestamp <= to,
// ordered by timestamp then external id.
func (db *DB) RangeMessages(chatID string, from, to time.Time) ([]Message, error) {
	rows, err := db.Query(`
		SELECT chat_id, external_message_id, timestamp_utc, direction, sender_id, body_text, has_media
		FROM messages
		WHERE chat_id = ? AND timestamp_utc >= ? AND timestamp_utc <= ?
		ORDER BY timestamp_utc ASC, external_message_id ASC`,
		chatID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ChatID, &m.ExternalID, &ts, &m.Direction, &m.SenderID, &m.Body, &m.HasMedia); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func lessMessage(a, b Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ExternalID < b.ExternalID
}

// SortMessages orders messages by timestamp, breaking ties on external id.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return lessMessage(msgs[i], msgs[j])
	})
}
