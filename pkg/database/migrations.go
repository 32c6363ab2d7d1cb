package database

// migrations holds the ordered schema history. Index i corresponds to
// user_version i+1. Append new migrations; never edit or reorder existing
// entries.
var migrations = [][]string{
	// v1: conversation log
	{
		`CREATE TABLE IF NOT EXISTS conv_events (
			conv_id          TEXT    NOT NULL,
			seq              INTEGER NOT NULL,
			msg_id           TEXT    NOT NULL,
			env_b64          TEXT    NOT NULL,
			sender_device_id TEXT    NOT NULL DEFAULT '',
			ts_ms            INTEGER NOT NULL,
			PRIMARY KEY (conv_id, seq)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conv_events_msg ON conv_events(conv_id, msg_id)`,
		`CREATE TABLE IF NOT EXISTS conv_seq (
			conv_id  TEXT PRIMARY KEY,
			next_seq INTEGER NOT NULL
		)`,
	},
	// v2: device cursors
	{
		`CREATE TABLE IF NOT EXISTS cursors (
			device_id  TEXT    NOT NULL,
			conv_id    TEXT    NOT NULL,
			next_seq   INTEGER NOT NULL,
			updated_ms INTEGER NOT NULL,
			PRIMARY KEY (device_id, conv_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cursors_conv ON cursors(conv_id)`,
	},
	// v3: sessions
	{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_token   TEXT PRIMARY KEY,
			resume_token    TEXT NOT NULL UNIQUE,
			user_id         TEXT NOT NULL,
			device_id       TEXT NOT NULL,
			expires_at_ms   INTEGER NOT NULL,
			created_at_ms   INTEGER NOT NULL,
			last_seen_at_ms INTEGER NOT NULL,
			client_label    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	},
	// v4: conversations, membership, bans, reads, per-member view state
	{
		`CREATE TABLE IF NOT EXISTS conversations (
			conv_id       TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			home_gateway  TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_members (
			conv_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role    TEXT NOT NULL,
			PRIMARY KEY (conv_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_user ON conversation_members(user_id)`,
		`CREATE TABLE IF NOT EXISTS conversation_bans (
			conv_id           TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			banned_by_user_id TEXT NOT NULL,
			banned_at_ms      INTEGER NOT NULL,
			PRIMARY KEY (conv_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_reads (
			conv_id       TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			last_read_seq INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conv_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_user_meta (
			conv_id       TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			label         TEXT NOT NULL DEFAULT '',
			pinned        INTEGER NOT NULL DEFAULT 0,
			pinned_at_ms  INTEGER NOT NULL DEFAULT 0,
			muted         INTEGER NOT NULL DEFAULT 0,
			archived      INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conv_id, user_id)
		)`,
	},
	// v5: keypackage pool
	{
		`CREATE TABLE IF NOT EXISTS keypackages (
			kp_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			device_id  TEXT NOT NULL,
			kp_b64     TEXT NOT NULL,
			created_ms INTEGER NOT NULL,
			issued_ms  INTEGER,
			revoked_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keypackages_user ON keypackages(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_keypackages_device ON keypackages(device_id)`,
	},
	// v6: social event chains
	{
		`CREATE TABLE IF NOT EXISTS social_events (
			event_id    TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			ts_ms       INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			body_json   TEXT NOT NULL,
			pub_key_b64 TEXT NOT NULL,
			sig_b64     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_social_user_ts ON social_events(user_id, ts_ms, event_id)`,
	},
	// v7: room moderation mutes
	{
		`CREATE TABLE IF NOT EXISTS conversation_mutes (
			conv_id          TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			muted_by_user_id TEXT NOT NULL,
			muted_at_ms      INTEGER NOT NULL,
			PRIMARY KEY (conv_id, user_id)
		)`,
	},
}
