package store

import (
	"database/sql"
	"fmt"

	"moorgate/pkg/models"
)

// Bounds describes the retained range of one conversation log.
type Bounds struct {
	EarliestSeq int64 // lowest retained seq; LatestSeq+1 when the log is empty
	LatestSeq   int64 // highest allocated seq, 0 when nothing was ever appended
	LatestTsMs  int64
}

// Append appends an envelope to a conversation log, allocating the next
// sequence number. If (conv_id, msg_id) already exists the stored event is
// returned with created=false and nothing is written.
func (s *Store) Append(convID, msgID, envB64, senderDeviceID string) (models.ConvEvent, bool, error) {
	mu := s.convLock(convID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return models.ConvEvent{}, false, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	var existing models.ConvEvent
	err = tx.QueryRow(
		`SELECT conv_id, seq, msg_id, env_b64, sender_device_id, ts_ms
		   FROM conv_events WHERE conv_id = ? AND msg_id = ?`,
		convID, msgID,
	).Scan(&existing.ConvID, &existing.Seq, &existing.MsgID, &existing.EnvB64, &existing.SenderDeviceID, &existing.TsMs)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return models.ConvEvent{}, false, fmt.Errorf("append: lookup msg_id: %w", err)
	}

	var seq int64
	err = tx.QueryRow(`SELECT next_seq FROM conv_seq WHERE conv_id = ?`, convID).Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		seq = 1
		if _, err := tx.Exec(`INSERT INTO conv_seq (conv_id, next_seq) VALUES (?, 2)`, convID); err != nil {
			return models.ConvEvent{}, false, fmt.Errorf("append: init seq: %w", err)
		}
	case err != nil:
		return models.ConvEvent{}, false, fmt.Errorf("append: read seq: %w", err)
	default:
		if _, err := tx.Exec(`UPDATE conv_seq SET next_seq = ? WHERE conv_id = ?`, seq+1, convID); err != nil {
			return models.ConvEvent{}, false, fmt.Errorf("append: advance seq: %w", err)
		}
	}

	event := models.ConvEvent{
		ConvID:         convID,
		Seq:            seq,
		MsgID:          msgID,
		EnvB64:         envB64,
		SenderDeviceID: senderDeviceID,
		TsMs:           s.nowMs(),
	}
	if _, err := tx.Exec(
		`INSERT INTO conv_events (conv_id, seq, msg_id, env_b64, sender_device_id, ts_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ConvID, event.Seq, event.MsgID, event.EnvB64, event.SenderDeviceID, event.TsMs,
	); err != nil {
		return models.ConvEvent{}, false, fmt.Errorf("append: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ConvEvent{}, false, fmt.Errorf("append: commit: %w", err)
	}
	return event, true, nil
}

// ConvBounds returns the retained range of a conversation log.
func (s *Store) ConvBounds(convID string) (Bounds, error) {
	var b Bounds

	var next sql.NullInt64
	if err := s.db.QueryRow(`SELECT next_seq FROM conv_seq WHERE conv_id = ?`, convID).Scan(&next); err != nil {
		if err != sql.ErrNoRows {
			return Bounds{}, fmt.Errorf("bounds: seq: %w", err)
		}
	}
	if next.Valid {
		b.LatestSeq = next.Int64 - 1
	}

	var earliest, latestTs sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MIN(seq), (SELECT ts_ms FROM conv_events WHERE conv_id = ? ORDER BY seq DESC LIMIT 1)
		   FROM conv_events WHERE conv_id = ?`,
		convID, convID,
	).Scan(&earliest, &latestTs)
	if err != nil && err != sql.ErrNoRows {
		return Bounds{}, fmt.Errorf("bounds: events: %w", err)
	}
	if earliest.Valid {
		b.EarliestSeq = earliest.Int64
	} else {
		// Everything pruned (or never written): the window is empty.
		b.EarliestSeq = b.LatestSeq + 1
	}
	if latestTs.Valid {
		b.LatestTsMs = latestTs.Int64
	}
	return b, nil
}

// ListFrom returns events with seq >= fromSeq in ascending order, at most
// limit rows (0 means no cap). Requests below the retained window fail with
// replay_window_exceeded so clients resubscribe at earliest_seq instead of
// silently missing history.
func (s *Store) ListFrom(convID string, fromSeq int64, limit int) ([]models.ConvEvent, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	bounds, err := s.ConvBounds(convID)
	if err != nil {
		return nil, err
	}
	if fromSeq < bounds.EarliestSeq && bounds.EarliestSeq > 1 {
		return nil, models.ErrReplayWindowExceeded(convID, fromSeq, bounds.EarliestSeq, bounds.LatestSeq)
	}

	query := `SELECT conv_id, seq, msg_id, env_b64, sender_device_id, ts_ms
	            FROM conv_events WHERE conv_id = ? AND seq >= ? ORDER BY seq ASC`
	args := []any{convID, fromSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list_from: %w", err)
	}
	defer rows.Close()

	var events []models.ConvEvent
	for rows.Next() {
		var e models.ConvEvent
		if err := rows.Scan(&e.ConvID, &e.Seq, &e.MsgID, &e.EnvB64, &e.SenderDeviceID, &e.TsMs); err != nil {
			return nil, fmt.Errorf("list_from: scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ConvIDsWithEvents lists every conversation that currently has log rows.
// The retention sweeper iterates this set.
func (s *Store) ConvIDsWithEvents() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT conv_id FROM conv_events`)
	if err != nil {
		return nil, fmt.Errorf("conv ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("conv ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteUpTo removes events with seq <= upToSeq and reports the count.
func (s *Store) DeleteUpTo(convID string, upToSeq int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM conv_events WHERE conv_id = ? AND seq <= ?`, convID, upToSeq)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MaxSeqOlderThan returns the largest seq whose ts_ms is strictly below
// cutoffMs, or 0 when none qualify.
func (s *Store) MaxSeqOlderThan(convID string, cutoffMs int64) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(seq) FROM conv_events WHERE conv_id = ? AND ts_ms < ?`,
		convID, cutoffMs,
	).Scan(&seq)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("age scan: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
