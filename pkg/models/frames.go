package models

import "encoding/json"

// FrameVersion is the only protocol version the gateway speaks.
const FrameVersion = 1

// Duplex frame types, client to server.
const (
	FrameSessionStart  = "session.start"
	FrameSessionResume = "session.resume"
	FrameConvSubscribe = "conv.subscribe"
	FrameConvSend      = "conv.send"
	FrameConvAck       = "conv.ack"
	FramePing          = "ping"
	FramePong          = "pong"
)

// Duplex frame types, server to client.
const (
	FrameSessionReady   = "session.ready"
	FrameConvAcked      = "conv.acked"
	FrameConvEvent      = "conv.event"
	FramePresenceUpdate = "presence.update"
	FrameError          = "error"
)

// Frame is the envelope of every duplex message:
// {v: 1, t: <type>, id?: <corr>, body?: {...}}.
type Frame struct {
	V    int             `json:"v"`
	T    string          `json:"t"`
	ID   string          `json:"id,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewFrame builds a frame with a marshaled body. A nil body is omitted.
func NewFrame(t, id string, body any) (Frame, error) {
	f := Frame{V: FrameVersion, T: t, ID: id}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Frame{}, err
		}
		f.Body = raw
	}
	return f, nil
}

// SessionStartBody authenticates a device with a login token.
type SessionStartBody struct {
	AuthToken        string `json:"auth_token"`
	DeviceID         string `json:"device_id"`
	DeviceCredential string `json:"device_credential,omitempty"`
	ClientLabel      string `json:"client_label,omitempty"`
}

// SessionResumeBody resumes with a single-use resume token.
type SessionResumeBody struct {
	ResumeToken string `json:"resume_token"`
}

// SessionReadyBody confirms the handshake and hands back the device's
// cursor positions for default subscription points.
type SessionReadyBody struct {
	SessionToken string   `json:"session_token"`
	ResumeToken  string   `json:"resume_token"`
	UserID       string   `json:"user_id"`
	ExpiresAt    int64    `json:"expires_at"`
	Cursors      []Cursor `json:"cursors"`
}

// ConvSubscribeBody subscribes to a conversation. FromSeq defaults to the
// device's cursor when absent.
type ConvSubscribeBody struct {
	ConvID  string `json:"conv_id"`
	FromSeq *int64 `json:"from_seq,omitempty"`
}

// ConvSendBody appends an envelope. MsgID is the per-conversation
// idempotency key; Ts is advisory and never trusted for ordering.
type ConvSendBody struct {
	ConvID string `json:"conv_id"`
	MsgID  string `json:"msg_id"`
	Env    string `json:"env"`
	Ts     *int64 `json:"ts,omitempty"`
}

// ConvAckBody advances the device cursor.
type ConvAckBody struct {
	ConvID string `json:"conv_id"`
	Seq    int64  `json:"seq"`
}

// ConvAckedBody confirms a send with its assigned seq.
type ConvAckedBody struct {
	ConvID string `json:"conv_id"`
	MsgID  string `json:"msg_id"`
	Seq    int64  `json:"seq"`
}
