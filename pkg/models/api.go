package models

import "encoding/json"

// Request/response bodies of the JSON endpoints. Success bodies are plain
// objects; error bodies are GatewayError.Body().

// SessionStartRequest starts a session over HTTP.
type SessionStartRequest struct {
	AuthToken        string `json:"auth_token"`
	DeviceID         string `json:"device_id"`
	DeviceCredential string `json:"device_credential,omitempty"`
	ClientLabel      string `json:"client_label,omitempty"`
}

// SessionStartResponse is shared by session/start and session/resume.
type SessionStartResponse struct {
	SessionToken string `json:"session_token"`
	ResumeToken  string `json:"resume_token"`
	UserID       string `json:"user_id"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
}

// SessionResumeRequest rotates a resume token.
type SessionResumeRequest struct {
	ResumeToken string `json:"resume_token"`
}

// SessionListResponse lists the user's sessions, tokens never included.
type SessionListResponse struct {
	Sessions         []SessionInfo `json:"sessions"`
	CurrentSessionID string        `json:"current_session_id"`
}

// SessionRevokeRequest revokes by session id or device id.
type SessionRevokeRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	IncludeSelf bool   `json:"include_self,omitempty"`
}

// SessionRevokeResponse reports what was revoked.
type SessionRevokeResponse struct {
	Status            string   `json:"status"`
	Revoked           int      `json:"revoked"`
	RevokedSessionIDs []string `json:"revoked_session_ids"`
}

// LogoutAllRequest revokes every session, optionally keeping the current one.
type LogoutAllRequest struct {
	IncludeSelf bool `json:"include_self,omitempty"`
}

// LogoutAllResponse reports whether the current session survived.
type LogoutAllResponse struct {
	Status      string `json:"status"`
	KeptCurrent bool   `json:"kept_current"`
}

// StatusResponse is the minimal {"status":"ok"} success body.
type StatusResponse struct {
	Status string `json:"status"`
}

// DMCreateRequest creates a two-party conversation.
type DMCreateRequest struct {
	PeerUserID string `json:"peer_user_id"`
	ConvID     string `json:"conv_id"`
}

// DMCreateResponse returns the conversation id.
type DMCreateResponse struct {
	ConvID string `json:"conv_id"`
}

// RoomCreateRequest creates a room with an initial member set.
type RoomCreateRequest struct {
	ConvID  string   `json:"conv_id"`
	Members []string `json:"members,omitempty"`
	Title   string   `json:"title,omitempty"`
}

// RoomMembersRequest is shared by invite/remove/ban/unban/promote/demote/
// mute/unmute.
type RoomMembersRequest struct {
	ConvID  string   `json:"conv_id"`
	Members []string `json:"members"`
}

// RoomMembersResponse lists members with roles.
type RoomMembersResponse struct {
	Members []Member `json:"members"`
}

// RoomBansResponse lists banned users.
type RoomBansResponse struct {
	Bans []Ban `json:"bans"`
}

// RoomMutesResponse lists moderation-muted members.
type RoomMutesResponse struct {
	Mutes []Mute `json:"mutes"`
}

// ConversationsResponse is the per-user conversation list.
type ConversationsResponse struct {
	Items []ConversationRow `json:"items"`
}

// ConvTitleRequest sets the shared conversation title (admin/owner).
type ConvTitleRequest struct {
	ConvID string `json:"conv_id"`
	Title  string `json:"title"`
}

// ConvLabelRequest sets the caller's private label.
type ConvLabelRequest struct {
	ConvID string `json:"conv_id"`
	Label  string `json:"label"`
}

// ConvPinRequest sets the caller's pin flag.
type ConvPinRequest struct {
	ConvID string `json:"conv_id"`
	Pinned bool   `json:"pinned"`
}

// ConvMuteRequest sets the caller's personal mute flag.
type ConvMuteRequest struct {
	ConvID string `json:"conv_id"`
	Muted  bool   `json:"muted"`
}

// ConvArchiveRequest sets the caller's archive flag.
type ConvArchiveRequest struct {
	ConvID   string `json:"conv_id"`
	Archived bool   `json:"archived"`
}

// MarkReadRequest advances the caller's read cursor. ToSeq defaults to
// latest_seq when absent.
type MarkReadRequest struct {
	ConvID string `json:"conv_id"`
	ToSeq  *int64 `json:"to_seq,omitempty"`
}

// MarkReadResponse reports the clamped result.
type MarkReadResponse struct {
	Status      string `json:"status"`
	ConvID      string `json:"conv_id"`
	LastReadSeq int64  `json:"last_read_seq"`
	UnreadCount int64  `json:"unread_count"`
}

// MarkAllReadResponse reports how many conversations moved.
type MarkAllReadResponse struct {
	Status    string `json:"status"`
	ConvCount int    `json:"conv_count"`
}

// InboxSendResponse returns the assigned sequence number.
type InboxSendResponse struct {
	Seq int64 `json:"seq"`
}

// KeypackagesPublishRequest appends one-time keypackages for a device.
type KeypackagesPublishRequest struct {
	DeviceID    string   `json:"device_id"`
	Keypackages []string `json:"keypackages"`
}

// KeypackagesFetchRequest issues keypackages for a target user.
type KeypackagesFetchRequest struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// KeypackagesFetchResponse carries the issued blobs.
type KeypackagesFetchResponse struct {
	Keypackages []string `json:"keypackages"`
}

// KeypackagesRotateRequest optionally revokes all unissued keypackages and
// publishes replacements.
type KeypackagesRotateRequest struct {
	DeviceID    string   `json:"device_id"`
	Revoke      bool     `json:"revoke"`
	Replacement []string `json:"replacement"`
}

// SocialPublishRequest appends a signed event to the caller's chain.
type SocialPublishRequest struct {
	PrevHash string          `json:"prev_hash,omitempty"`
	TsMs     int64           `json:"ts_ms"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	SigB64   string          `json:"sig_b64"`
}

// SocialEventsResponse lists chain events after a cursor.
type SocialEventsResponse struct {
	Events []SocialEvent `json:"events"`
}

// PresenceLeaseRequest asserts device liveness.
type PresenceLeaseRequest struct {
	DeviceID   string `json:"device_id"`
	TTLSeconds int    `json:"ttl_seconds"`
	Invisible  bool   `json:"invisible,omitempty"`
}

// PresenceLeaseResponse returns the clamped expiry.
type PresenceLeaseResponse struct {
	ExpiresAt int64 `json:"expires_at"`
}

// PresenceContactsRequest is shared by watch/unwatch/block/unblock.
type PresenceContactsRequest struct {
	Contacts []string `json:"contacts"`
}

// PresenceWatchResponse reports the watchlist size after the mutation.
type PresenceWatchResponse struct {
	Watching int `json:"watching"`
}

// PresenceBlockResponse reports the block-list size after the mutation.
type PresenceBlockResponse struct {
	Blocked int `json:"blocked"`
}

// PresenceStatusRequest queries the presence of contacts.
type PresenceStatusRequest struct {
	Contacts []string `json:"contacts"`
}

// PresenceStatusResponse lists statuses sorted by user id.
type PresenceStatusResponse struct {
	Statuses []PresenceStatus `json:"statuses"`
}

// PresenceBlocklistResponse lists the caller's blocked users, sorted.
type PresenceBlocklistResponse struct {
	Blocked []string `json:"blocked"`
}

// GatewayResolveResponse resolves a gateway id from the static directory.
type GatewayResolveResponse struct {
	GatewayID  string `json:"gateway_id"`
	GatewayURL string `json:"gateway_url"`
}
