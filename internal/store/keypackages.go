package store

import (
	"fmt"
)

// PublishKeypackages appends one-time keypackages for a device. When the
// device's unissued pool exceeds poolMax, the oldest surplus entries are
// dropped; issued rows and other devices' pools are never touched.
func (s *Store) PublishKeypackages(userID, deviceID string, kps []string, poolMax int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("publish keypackages: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.nowMs()
	for _, kp := range kps {
		if _, err := tx.Exec(
			`INSERT INTO keypackages (user_id, device_id, kp_b64, created_ms) VALUES (?, ?, ?, ?)`,
			userID, deviceID, kp, now,
		); err != nil {
			return fmt.Errorf("publish keypackages: insert: %w", err)
		}
	}

	if poolMax > 0 {
		var count int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM keypackages
			  WHERE user_id = ? AND device_id = ? AND issued_ms IS NULL AND revoked_ms IS NULL`,
			userID, deviceID,
		).Scan(&count); err != nil {
			return fmt.Errorf("publish keypackages: count: %w", err)
		}
		if surplus := count - poolMax; surplus > 0 {
			if _, err := tx.Exec(
				`DELETE FROM keypackages WHERE kp_id IN (
				   SELECT kp_id FROM keypackages
				    WHERE user_id = ? AND device_id = ? AND issued_ms IS NULL AND revoked_ms IS NULL
				    ORDER BY kp_id ASC LIMIT ?)`,
				userID, deviceID, surplus,
			); err != nil {
				return fmt.Errorf("publish keypackages: trim: %w", err)
			}
		}
	}
	return tx.Commit()
}

// FetchKeypackages atomically issues up to count unissued keypackages for a
// user, lowest kp_id first. Each keypackage is issued at most once.
func (s *Store) FetchKeypackages(userID string, count int) ([]string, error) {
	if count < 1 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("fetch keypackages: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT kp_id, kp_b64 FROM keypackages
		  WHERE user_id = ? AND issued_ms IS NULL AND revoked_ms IS NULL
		  ORDER BY kp_id ASC LIMIT ?`,
		userID, count,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch keypackages: select: %w", err)
	}
	var ids []int64
	var blobs []string
	for rows.Next() {
		var id int64
		var blob string
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("fetch keypackages: scan: %w", err)
		}
		ids = append(ids, id)
		blobs = append(blobs, blob)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := s.nowMs()
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE keypackages SET issued_ms = ? WHERE kp_id = ?`, now, id); err != nil {
			return nil, fmt.Errorf("fetch keypackages: issue: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("fetch keypackages: commit: %w", err)
	}
	return blobs, nil
}

// RotateKeypackages optionally revokes all of a device's unissued
// keypackages, then publishes the replacement set.
func (s *Store) RotateKeypackages(userID, deviceID string, revoke bool, replacement []string, poolMax int) error {
	if revoke {
		if _, err := s.db.Exec(
			`UPDATE keypackages SET revoked_ms = ?
			  WHERE user_id = ? AND device_id = ? AND issued_ms IS NULL AND revoked_ms IS NULL`,
			s.nowMs(), userID, deviceID,
		); err != nil {
			return fmt.Errorf("rotate keypackages: revoke: %w", err)
		}
	}
	if len(replacement) == 0 {
		return nil
	}
	return s.PublishKeypackages(userID, deviceID, replacement, poolMax)
}

// UnissuedKeypackageCount reports the size of a user's available pool.
func (s *Store) UnissuedKeypackageCount(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM keypackages
		  WHERE user_id = ? AND issued_ms IS NULL AND revoked_ms IS NULL`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("keypackage count: %w", err)
	}
	return n, nil
}
