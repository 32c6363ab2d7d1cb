package store

import (
	"database/sql"
	"fmt"
	"sort"

	"moorgate/pkg/crypto"
	"moorgate/pkg/models"
)

// CreateSession mints a session with fresh tokens for a (user, device).
func (s *Store) CreateSession(userID, deviceID, clientLabel string, ttlMs int64) (*models.Session, error) {
	now := s.nowMs()
	session := &models.Session{
		SessionToken: crypto.NewToken(),
		ResumeToken:  crypto.NewToken(),
		UserID:       userID,
		DeviceID:     deviceID,
		ClientLabel:  clientLabel,
		CreatedAtMs:  now,
		LastSeenAtMs: now,
		ExpiresAtMs:  now + ttlMs,
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_token, resume_token, user_id, device_id,
		   expires_at_ms, created_at_ms, last_seen_at_ms, client_label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionToken, session.ResumeToken, session.UserID, session.DeviceID,
		session.ExpiresAtMs, session.CreatedAtMs, session.LastSeenAtMs, session.ClientLabel,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ResolveSession returns the live session for a session token, refreshing
// last_seen. Expired sessions are deleted on sight.
func (s *Store) ResolveSession(token string) (*models.Session, error) {
	session, err := s.sessionByColumn("session_token", token)
	if err != nil {
		return nil, err
	}
	now := s.nowMs()
	if session.ExpiresAtMs <= now {
		_, _ = s.db.Exec(`DELETE FROM sessions WHERE session_token = ?`, session.SessionToken)
		return nil, models.ErrUnauthorized("session expired")
	}
	session.LastSeenAtMs = now
	_, _ = s.db.Exec(`UPDATE sessions SET last_seen_at_ms = ? WHERE session_token = ?`, now, session.SessionToken)
	return session, nil
}

// ConsumeResume atomically validates a resume token, rotates both tokens and
// extends expiry. The old resume token is dead after this returns, success
// or not-found alike.
func (s *Store) ConsumeResume(resumeToken string, ttlMs int64) (*models.Session, error) {
	mu := s.userLock(resumeToken)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("resume: begin: %w", err)
	}
	defer tx.Rollback()

	session := &models.Session{}
	err = tx.QueryRow(
		`SELECT session_token, resume_token, user_id, device_id,
		        expires_at_ms, created_at_ms, last_seen_at_ms, client_label
		   FROM sessions WHERE resume_token = ?`,
		resumeToken,
	).Scan(&session.SessionToken, &session.ResumeToken, &session.UserID, &session.DeviceID,
		&session.ExpiresAtMs, &session.CreatedAtMs, &session.LastSeenAtMs, &session.ClientLabel)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnauthorized("unknown resume token")
	}
	if err != nil {
		return nil, fmt.Errorf("resume: lookup: %w", err)
	}

	now := s.nowMs()
	if session.ExpiresAtMs <= now {
		_, _ = tx.Exec(`DELETE FROM sessions WHERE session_token = ?`, session.SessionToken)
		_ = tx.Commit()
		return nil, models.ErrUnauthorized("session expired")
	}

	old := session.SessionToken
	session.SessionToken = crypto.NewToken()
	session.ResumeToken = crypto.NewToken()
	session.ExpiresAtMs = now + ttlMs
	session.LastSeenAtMs = now

	if _, err := tx.Exec(
		`UPDATE sessions SET session_token = ?, resume_token = ?, expires_at_ms = ?, last_seen_at_ms = ?
		  WHERE session_token = ?`,
		session.SessionToken, session.ResumeToken, session.ExpiresAtMs, session.LastSeenAtMs, old,
	); err != nil {
		return nil, fmt.Errorf("resume: rotate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("resume: commit: %w", err)
	}
	return session, nil
}

// ListSessions returns the token-free view of a user's live sessions sorted
// by (is_current desc, device_id asc, session_id asc).
func (s *Store) ListSessions(userID, currentToken string) ([]models.SessionInfo, error) {
	rows, err := s.db.Query(
		`SELECT session_token, device_id, expires_at_ms, created_at_ms, last_seen_at_ms, client_label
		   FROM sessions WHERE user_id = ? AND expires_at_ms > ?`,
		userID, s.nowMs(),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []models.SessionInfo
	for rows.Next() {
		var token string
		var info models.SessionInfo
		if err := rows.Scan(&token, &info.DeviceID, &info.ExpiresAtMs,
			&info.CreatedAtMs, &info.LastSeenAtMs, &info.ClientLabel); err != nil {
			return nil, fmt.Errorf("list sessions: scan: %w", err)
		}
		info.SessionID = crypto.SessionID(token)
		info.IsCurrent = token == currentToken
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].IsCurrent != infos[j].IsCurrent {
			return infos[i].IsCurrent
		}
		if infos[i].DeviceID != infos[j].DeviceID {
			return infos[i].DeviceID < infos[j].DeviceID
		}
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos, nil
}

// RevokeSessionID deletes the user's session whose derived id matches.
// Returns the id when a row was removed.
func (s *Store) RevokeSessionID(userID, sessionID string) (bool, error) {
	token, err := s.tokenForSessionID(userID, sessionID)
	if err != nil || token == "" {
		return false, err
	}
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RevokeDevice deletes the user's sessions on a device, optionally sparing
// the current one. Returns the revoked session ids.
func (s *Store) RevokeDevice(userID, deviceID, keepToken string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT session_token FROM sessions WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("revoke device: %w", err)
	}
	tokens, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}

	var revoked []string
	for _, token := range tokens {
		if token == keepToken {
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_token = ?`, token); err != nil {
			return revoked, fmt.Errorf("revoke device: delete: %w", err)
		}
		revoked = append(revoked, crypto.SessionID(token))
	}
	sort.Strings(revoked)
	return revoked, nil
}

// RevokeAll deletes every session of a user except keepToken (empty keeps
// nothing). Returns how many were removed.
func (s *Store) RevokeAll(userID, keepToken string) (int, error) {
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE user_id = ? AND session_token != ?`,
		userID, keepToken,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TouchSession refreshes last_seen on connection teardown.
func (s *Store) TouchSession(token string) {
	_, _ = s.db.Exec(`UPDATE sessions SET last_seen_at_ms = ? WHERE session_token = ?`, s.nowMs(), token)
}

// DeleteExpiredSessions garbage-collects expired rows.
func (s *Store) DeleteExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at_ms <= ?`, s.nowMs())
	if err != nil {
		return 0, fmt.Errorf("session gc: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) sessionByColumn(column, value string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRow(
		`SELECT session_token, resume_token, user_id, device_id,
		        expires_at_ms, created_at_ms, last_seen_at_ms, client_label
		   FROM sessions WHERE `+column+` = ?`,
		value,
	).Scan(&session.SessionToken, &session.ResumeToken, &session.UserID, &session.DeviceID,
		&session.ExpiresAtMs, &session.CreatedAtMs, &session.LastSeenAtMs, &session.ClientLabel)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnauthorized("unknown session")
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	return session, nil
}

// tokenForSessionID scans the user's sessions for the one whose derived id
// matches. Session ids are one-way, so there is nothing to index on.
func (s *Store) tokenForSessionID(userID, sessionID string) (string, error) {
	rows, err := s.db.Query(`SELECT session_token FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return "", fmt.Errorf("session id lookup: %w", err)
	}
	tokens, err := collectStrings(rows)
	if err != nil {
		return "", err
	}
	for _, token := range tokens {
		if crypto.SessionID(token) == sessionID {
			return token, nil
		}
	}
	return "", nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
