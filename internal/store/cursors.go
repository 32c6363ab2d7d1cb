package store

import (
	"database/sql"
	"fmt"

	"moorgate/pkg/models"
)

// Ack advances a device cursor to ackedSeq+1. Regressions are clamped, not
// rejected; the returned value is the effective next_seq.
func (s *Store) Ack(deviceID, convID string, ackedSeq int64) (int64, error) {
	next := ackedSeq + 1
	now := s.nowMs()
	_, err := s.db.Exec(
		`INSERT INTO cursors (device_id, conv_id, next_seq, updated_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id, conv_id) DO UPDATE SET
		   next_seq = MAX(next_seq, excluded.next_seq),
		   updated_ms = excluded.updated_ms`,
		deviceID, convID, next, now,
	)
	if err != nil {
		return 0, fmt.Errorf("ack: %w", err)
	}
	return s.NextSeq(deviceID, convID)
}

// NextSeq returns the device's cursor in a conversation, defaulting to 1.
func (s *Store) NextSeq(deviceID, convID string) (int64, error) {
	var next int64
	err := s.db.QueryRow(
		`SELECT next_seq FROM cursors WHERE device_id = ? AND conv_id = ?`,
		deviceID, convID,
	).Scan(&next)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("next_seq: %w", err)
	}
	return next, nil
}

// ListCursors returns every cursor a device holds, ordered by conv_id.
func (s *Store) ListCursors(deviceID string) ([]models.Cursor, error) {
	rows, err := s.db.Query(
		`SELECT conv_id, next_seq FROM cursors WHERE device_id = ? ORDER BY conv_id ASC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []models.Cursor
	for rows.Next() {
		var c models.Cursor
		if err := rows.Scan(&c.ConvID, &c.NextSeq); err != nil {
			return nil, fmt.Errorf("list cursors: scan: %w", err)
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}

// ActiveMinNextSeq returns the minimum next_seq across cursors refreshed
// within staleAfterMs. ok=false when no fresh cursor exists; safe-mode
// retention then falls back to the configured caps alone.
func (s *Store) ActiveMinNextSeq(convID string, nowMs, staleAfterMs int64) (int64, bool, error) {
	var min sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MIN(next_seq) FROM cursors WHERE conv_id = ? AND updated_ms >= ?`,
		convID, nowMs-staleAfterMs,
	).Scan(&min)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("active min cursor: %w", err)
	}
	if !min.Valid {
		return 0, false, nil
	}
	return min.Int64, true, nil
}
