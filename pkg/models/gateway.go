package models

import "encoding/json"

// ConvEvent is the unit of fan-out: one appended envelope in a conversation
// log. Seq is assigned by the gateway at append time and is the single
// ordering authority; ts_ms is informational.
type ConvEvent struct {
	ConvID         string `json:"conv_id"`
	Seq            int64  `json:"seq"`
	MsgID          string `json:"msg_id"`
	EnvB64         string `json:"env"`
	SenderDeviceID string `json:"sender_device_id"`
	TsMs           int64  `json:"ts_ms"`
}

// Session is an authenticated (user, device) binding. Tokens are opaque
// high-entropy strings; ResumeToken is single-use and rotates on resume.
type Session struct {
	SessionToken string
	ResumeToken  string
	UserID       string
	DeviceID     string
	ClientLabel  string
	CreatedAtMs  int64
	LastSeenAtMs int64
	ExpiresAtMs  int64
}

// SessionInfo is the token-free projection of a session exposed by
// session/list. SessionID is derived from the session token and is not
// reversible.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	DeviceID     string `json:"device_id"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
	IsCurrent    bool   `json:"is_current"`
	CreatedAtMs  int64  `json:"created_at_ms"`
	LastSeenAtMs int64  `json:"last_seen_at_ms"`
	ClientLabel  string `json:"client_label,omitempty"`
}

// Cursor is a device's delivery progress in one conversation.
type Cursor struct {
	ConvID  string `json:"conv_id"`
	NextSeq int64  `json:"next_seq"`
}

// Role is a member's role within a conversation.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// AtLeastAdmin reports whether the role carries admin privileges.
func (r Role) AtLeastAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// Member is one (user, role) membership row.
type Member struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Ban records a banned user in a conversation.
type Ban struct {
	UserID     string `json:"user_id"`
	BannedBy   string `json:"banned_by"`
	BannedAtMs int64  `json:"banned_at_ms"`
}

// Mute records a moderation mute in a conversation. Muted members remain
// members but their sends are rejected.
type Mute struct {
	UserID    string `json:"user_id"`
	MutedBy   string `json:"muted_by"`
	MutedAtMs int64  `json:"muted_at_ms"`
}

// ConversationRow is one entry of the per-user conversation list, combining
// membership, per-member view state and log bounds.
type ConversationRow struct {
	ConvID      string   `json:"conv_id"`
	Role        Role     `json:"role"`
	MemberCount int      `json:"member_count"`
	Members     []string `json:"members,omitempty"` // inlined only when small
	Title       string   `json:"title,omitempty"`
	Label       string   `json:"label,omitempty"`
	Pinned      bool     `json:"pinned"`
	PinnedAtMs  int64    `json:"pinned_at_ms,omitempty"`
	Muted       bool     `json:"muted"`
	Archived    bool     `json:"archived"`
	CreatedAtMs int64    `json:"created_at_ms"`
	EarliestSeq int64    `json:"earliest_seq"`
	LatestSeq   int64    `json:"latest_seq"`
	LatestTsMs  int64    `json:"latest_ts_ms,omitempty"`
	LastReadSeq int64    `json:"last_read_seq"`
	UnreadCount int64    `json:"unread_count"`
}

// SocialEvent is one node of a user's signed, prev-hash-linked chain.
// Payload is arbitrary JSON chosen by the client; EventHash is the SHA-256
// of the canonical body and is server-computed.
type SocialEvent struct {
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	TsMs      int64           `json:"ts_ms"`
	SigB64    string          `json:"sig_b64"`
	EventHash string          `json:"event_hash"`
}

// Profile kinds projected last-writer-wins into a profile view.
const (
	SocialKindUsername    = "username"
	SocialKindDescription = "description"
	SocialKindAvatar      = "avatar"
	SocialKindBanner      = "banner"
	SocialKindInterests   = "interests"
	SocialKindPost        = "post"
	SocialKindFollow      = "follow"
)

// ProfileView is the last-writer-wins projection of a user's chain.
type ProfileView struct {
	UserID      string                     `json:"user_id"`
	Fields      map[string]json.RawMessage `json:"fields"`
	Friends     []string                   `json:"friends"`
	LatestPosts []SocialEvent              `json:"latest_posts"`
	UpdatedAtMs int64                      `json:"updated_at_ms,omitempty"`
}

// FeedPage is one page of the post feed.
type FeedPage struct {
	Items      []SocialEvent `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Presence statuses and last-seen buckets. Buckets deliberately coarse:
// precise timestamps are never leaked to watchers.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"

	BucketNow = "now"
	Bucket5m  = "5m"
	Bucket1h  = "1h"
	Bucket1d  = "1d"
	Bucket7d  = "7d"
)

// PresenceStatus is one entry of a presence/status response and the body of
// a presence.update frame.
type PresenceStatus struct {
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
	LastSeenBucket string `json:"last_seen_bucket,omitempty"`
}
