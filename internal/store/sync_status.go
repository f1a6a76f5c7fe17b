package store

import "time"

// RecordSyncStatus appends one attempt to the sync history and sets s.ID.
func (db *DB) RecordSyncStatus(s *SyncStatus) error {
	attempt := s.LastAttempt
	if attempt.IsZero() {
		attempt = time.Now().UTC()
		s.LastAttempt = attempt
	}
	res, err := db.Exec(`
		INSERT INTO sync_status (run_id, item_id, item_type, window_start, window_end, last_attempt_utc,
			success, messages_fetched, events_created, error_kind, error_summary, final_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.ItemID, s.ItemType, s.WindowStart.UnixMilli(), s.WindowEnd.UnixMilli(), attempt.UnixMilli(),
		s.Success, s.MessagesFetched, s.EventsCreated, s.ErrorKind, s.ErrorSummary, s.FinalState)
	if err != nil {
		return err
	}
	s.ID, err = res.LastInsertId()
	return err
}

// LatestSyncStatus returns the most recent attempts for an item, newest first.
func (db *DB) LatestSyncStatus(itemID string, limit int) ([]SyncStatus, error) {
	if limit <= 0 {
		limit = 20
	}
	return db.querySyncStatus(`
		SELECT id, run_id, item_id, item_type, window_start, window_end, last_attempt_utc,
			success, messages_fetched, events_created, error_kind, error_summary, final_state
		FROM sync_status WHERE item_id = ?
		ORDER BY last_attempt_utc DESC, id DESC LIMIT ?`, itemID, limit)
}

// RunSyncStatus returns every row written by one run, in insertion order.
func (db *DB) RunSyncStatus(runID string) ([]SyncStatus, error) {
	return db.querySyncStatus(`
		SELECT id, run_id, item_id, item_type, window_start, window_end, last_attempt_utc,
			success, messages_fetched, events_created, error_kind, error_summary, final_state
		FROM sync_status WHERE run_id = ?
		ORDER BY id ASC`, runID)
}

func (db *DB) querySyncStatus(q string, args ...any) ([]SyncStatus, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SyncStatus
	for rows.Next() {
		var s SyncStatus
		var ws, we, la int64
		if err := rows.Scan(&s.ID, &s.RunID, &s.ItemID, &s.ItemType, &ws, &we, &la,
			&s.Success, &s.MessagesFetched, &s.EventsCreated, &s.ErrorKind, &s.ErrorSummary, &s.FinalState); err != nil {
			return nil, err
		}
		s.WindowStart = fromMillis(ws)
		s.WindowEnd = fromMillis(we)
		s.LastAttempt = fromMillis(la)
		out = append(out, s)
	}
	return out, rows.Err()
}
