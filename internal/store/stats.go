package store

import (
	"database/sql"
	"fmt"
)

// Stats aggregates store-wide totals for the operator.
func (db *DB) Stats() (*Stats, error) {
	var s Stats
	counts := []struct {
		dst   *int64
		query string
	}{
		{&s.Chats, `SELECT COUNT(*) FROM chats`},
		{&s.Contacts, `SELECT COUNT(*) FROM chats WHERE kind = 'contact'`},
		{&s.Groups, `SELECT COUNT(*) FROM chats WHERE kind = 'group'`},
		{&s.InScope, `SELECT COUNT(*) FROM selections WHERE in_scope = 1`},
		{&s.Messages, `SELECT COUNT(*) FROM messages`},
		{&s.Events, `SELECT COUNT(*) FROM events`},
		{&s.Tombstones, `SELECT COUNT(*) FROM tombstones`},
		{&s.SyncAttempts, `SELECT COUNT(*) FROM sync_status WHERE item_type != 'fleet'`},
		{&s.SyncFailures, `SELECT COUNT(*) FROM sync_status WHERE item_type != 'fleet' AND success = 0`},
		{&s.EventsCreated, `SELECT COALESCE(SUM(events_created), 0) FROM sync_status WHERE item_type != 'fleet'`},
	}
	for _, c := range counts {
		if err := db.QueryRow(c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats %q: %w", c.query, err)
		}
	}

	var last sql.NullInt64
	var ok sql.NullBool
	err := db.QueryRow(`
		SELECT last_attempt_utc, success FROM sync_status
		WHERE item_type = 'fleet' ORDER BY last_attempt_utc DESC, id DESC LIMIT 1`).Scan(&last, &ok)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("last fleet run: %w", err)
	}
	if last.Valid {
		t := fromMillis(last.Int64)
		s.LastFleetRun = &t
		s.LastFleetOK = ok.Bool
	}
	return &s, nil
}
