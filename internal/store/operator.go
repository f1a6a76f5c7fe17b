package store

import (
	"database/sql"
	"errors"
	"time"
)

// CreateOperatorSession stores a new bearer token valid until expiresAt.
func (db *DB) CreateOperatorSession(token, label string, expiresAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO operator_sessions (token, label, created_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		token, label, time.Now().UnixMilli(), expiresAt.UnixMilli())
	return err
}

// GetOperatorSession returns the session for a token, or nil.
func (db *DB) GetOperatorSession(token string) (*OperatorSession, error) {
	var s OperatorSession
	var created, expires int64
	var revoked, seen sql.NullInt64
	err := db.QueryRow(`
		SELECT token, label, created_at, expires_at, revoked_at, last_seen_at
		FROM operator_sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.Label, &created, &expires, &revoked, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(created)
	s.ExpiresAt = fromMillis(expires)
	if revoked.Valid {
		t := fromMillis(revoked.Int64)
		s.RevokedAt = &t
	}
	if seen.Valid {
		t := fromMillis(seen.Int64)
		s.LastSeenAt = &t
	}
	return &s, nil
}

// TouchOperatorSession records that the token was just used.
func (db *DB) TouchOperatorSession(token string, at time.Time) error {
	_, err := db.Exec(`UPDATE operator_sessions SET last_seen_at = ? WHERE token = ?`, at.UnixMilli(), token)
	return err
}

// RevokeOperatorSessions revokes every live session with the given label.
func (db *DB) RevokeOperatorSessions(label string) error {
	_, err := db.Exec(`UPDATE operator_sessions SET revoked_at = ? WHERE label = ? AND revoked_at IS NULL`,
		time.Now().UnixMilli(), label)
	return err
}
