// Package gateway is the service core: one Core value owns the store, hub,
// presence manager and rate limiter, and implements every operation the
// transports expose. Handlers and the duplex stream both call into it; no
// state lives at package level.
package gateway

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"moorgate/internal/hub"
	"moorgate/internal/metrics"
	"moorgate/internal/presence"
	"moorgate/internal/ratelimit"
	"moorgate/internal/store"
	"moorgate/pkg/auth"
	"moorgate/pkg/config"
	"moorgate/pkg/crypto"
	"moorgate/pkg/logging"
	"moorgate/pkg/models"
)

// Core is the gateway runtime shared by all transports.
type Core struct {
	Store    *store.Store
	Hub      *hub.Hub
	Presence *presence.Manager
	Limiter  *ratelimit.Limiter
	Config   config.Gateway
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// New assembles a core over its parts.
func New(st *store.Store, h *hub.Hub, pm *presence.Manager, rl *ratelimit.Limiter,
	cfg config.Gateway, logger logging.Logger, m *metrics.Metrics) *Core {
	return &Core{
		Store:    st,
		Hub:      h,
		Presence: pm,
		Limiter:  rl,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
	}
}

// Field caps on client-supplied strings.
const (
	maxTitleLen       = 64
	maxLabelLen       = 64
	maxClientLabelLen = 32
)

// NormalizeTitle collapses whitespace runs to single spaces and trims.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// ValidateTitle normalizes a shared title and enforces the length cap,
// returning the form to store.
func ValidateTitle(title string) (string, error) {
	title = NormalizeTitle(title)
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", models.ErrInvalidRequest("title exceeds %d characters", maxTitleLen)
	}
	return title, nil
}

// ValidateLabel enforces the private-label length cap.
func ValidateLabel(label string) error {
	if utf8.RuneCountInString(label) > maxLabelLen {
		return models.ErrInvalidRequest("label exceeds %d characters", maxLabelLen)
	}
	return nil
}

func validateClientLabel(label string) error {
	if utf8.RuneCountInString(label) > maxClientLabelLen {
		return models.ErrInvalidRequest("client_label exceeds %d characters", maxClientLabelLen)
	}
	for _, r := range label {
		if !unicode.IsPrint(r) {
			return models.ErrInvalidRequest("client_label must be printable")
		}
	}
	return nil
}

// StartSession validates a login token and mints a session for the device.
func (c *Core) StartSession(authToken, deviceID, clientLabel string) (*models.Session, error) {
	if authToken == "" || deviceID == "" {
		return nil, models.ErrInvalidRequest("auth_token and device_id are required")
	}
	if err := validateClientLabel(clientLabel); err != nil {
		return nil, err
	}
	userID, err := auth.VerifyLoginToken(c.Config.AuthSecret, authToken)
	if err != nil {
		return nil, models.ErrUnauthorized("invalid login token")
	}
	return c.Store.CreateSession(userID, deviceID, clientLabel, c.Config.SessionTTLSeconds*1000)
}

// ResumeSession consumes a resume token and returns the rotated session.
func (c *Core) ResumeSession(resumeToken string) (*models.Session, error) {
	if resumeToken == "" {
		return nil, models.ErrInvalidRequest("resume_token is required")
	}
	return c.Store.ConsumeResume(resumeToken, c.Config.SessionTTLSeconds*1000)
}

// SendEnvelope validates and appends one envelope, broadcasting on first
// append. Duplicate (conv_id, msg_id) returns the stored event without a
// second broadcast.
func (c *Core) SendEnvelope(session *models.Session, convID, msgID, envB64, transport string) (models.ConvEvent, error) {
	if convID == "" || msgID == "" || envB64 == "" {
		return models.ConvEvent{}, models.ErrInvalidRequest("conv_id, msg_id and env are required")
	}
	if max := c.Config.Limits.MaxEnvB64Len; max > 0 && len(envB64) > max {
		return models.ConvEvent{}, models.ErrInvalidRequest("envelope exceeds %d bytes", max)
	}
	if err := c.authorizeSend(session.UserID, convID); err != nil {
		return models.ConvEvent{}, err
	}
	if err := c.checkLimit(ratelimit.ActionConvSend, session.UserID, c.Config.Limits.ConvSendsPerMin); err != nil {
		return models.ConvEvent{}, err
	}

	event, created, err := c.Store.Append(convID, msgID, envB64, session.DeviceID)
	if err != nil {
		return models.ConvEvent{}, err
	}
	if created {
		c.Metrics.EventsAppended.WithLabelValues(transport).Inc()
		c.Metrics.EventsBroadcast.WithLabelValues().Inc()
		c.Hub.Broadcast(event)
	}
	return event, nil
}

// authorizeSend enforces membership, moderation mutes and DM block state.
func (c *Core) authorizeSend(userID, convID string) error {
	_, isMember, err := c.Store.MemberRole(convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return models.ErrForbidden("not a member of %q", convID)
	}

	muted, err := c.Store.IsModMuted(convID, userID)
	if err != nil {
		return err
	}
	if muted {
		return models.ErrForbidden("muted in %q", convID)
	}

	members, err := c.Store.Members(convID)
	if err != nil {
		return err
	}
	if len(members) == 2 {
		for _, m := range members {
			if m.UserID != userID && c.Presence.BlockedEither(userID, m.UserID) {
				return models.ErrForbidden("conversation is blocked")
			}
		}
	}
	return nil
}

// AckCursor advances the device cursor for a conversation.
func (c *Core) AckCursor(session *models.Session, convID string, seq int64) (int64, error) {
	if convID == "" {
		return 0, models.ErrInvalidRequest("conv_id is required")
	}
	return c.Store.Ack(session.DeviceID, convID, seq)
}

// Backlog authorizes a subscribe and returns the replay starting point with
// the stored backlog. A nil fromSeq starts at the device's cursor.
func (c *Core) Backlog(session *models.Session, convID string, fromSeq *int64) (int64, []models.ConvEvent, error) {
	if convID == "" {
		return 0, nil, models.ErrInvalidRequest("conv_id is required")
	}
	if _, isMember, err := c.Store.MemberRole(convID, session.UserID); err != nil {
		return 0, nil, err
	} else if !isMember {
		return 0, nil, models.ErrForbidden("not a member of %q", convID)
	}

	start := int64(1)
	if fromSeq != nil {
		start = *fromSeq
	} else {
		cursor, err := c.Store.NextSeq(session.DeviceID, convID)
		if err != nil {
			return 0, nil, err
		}
		start = cursor
	}

	backlog, err := c.Store.ListFrom(convID, start, 0)
	if err != nil {
		return 0, nil, err
	}
	return start, backlog, nil
}

// CreateDM creates a two-party conversation unless either side blocks the
// other.
func (c *Core) CreateDM(userID string, req models.DMCreateRequest) error {
	if req.ConvID == "" || req.PeerUserID == "" {
		return models.ErrInvalidRequest("conv_id and peer_user_id are required")
	}
	if req.PeerUserID == userID {
		return models.ErrInvalidRequest("peer must differ from the caller")
	}
	if c.Presence.BlockedEither(userID, req.PeerUserID) {
		return models.ErrForbidden("peer is blocked")
	}
	if err := c.checkLimit(ratelimit.ActionDMCreate, userID, c.Config.Limits.DMCreatesPerMin); err != nil {
		return err
	}
	return c.Store.CreateDM(req.ConvID, userID, req.PeerUserID, c.Config.HomeID)
}

// PublishSocial verifies and appends one signed event to the caller's chain.
func (c *Core) PublishSocial(userID string, req models.SocialPublishRequest) (*models.SocialEvent, error) {
	if req.Kind == "" || len(req.Payload) == 0 || req.SigB64 == "" {
		return nil, models.ErrInvalidRequest("kind, payload and sig_b64 are required")
	}
	if max := c.Config.Limits.MaxSocialEventBytes; max > 0 && len(req.Payload) > max {
		return nil, models.ErrInvalidRequest("payload exceeds %d bytes", max)
	}
	if err := c.checkLimit(ratelimit.ActionSocialPublish, userID, c.Config.Limits.SocialPublishesPerMin); err != nil {
		return nil, err
	}

	canonical, err := crypto.CanonicalSocialBody(req.Kind, req.Payload, req.PrevHash, req.TsMs, userID)
	if err != nil {
		return nil, models.ErrInvalidRequest("payload is not valid JSON")
	}
	if err := crypto.VerifySocialSignature(userID, canonical, req.SigB64); err != nil {
		return nil, models.ErrInvalidRequest("signature verification failed")
	}
	eventHash := crypto.EventHash(canonical)

	return c.Store.PublishSocialEvent(userID, req.Kind, compactPayload(req.Payload), req.PrevHash, req.TsMs, req.SigB64, eventHash, canonical)
}

// compactPayload normalizes payload whitespace for storage and responses.
func compactPayload(payload json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}

// RequireRole loads the actor's role in a conversation and checks it against
// the minimum.
func (c *Core) RequireRole(convID, userID string, needAdmin, needOwner bool) (models.Role, error) {
	role, isMember, err := c.Store.MemberRole(convID, userID)
	if err != nil {
		return "", err
	}
	if !isMember {
		return "", models.ErrForbidden("not a member of %q", convID)
	}
	if needOwner && role != models.RoleOwner {
		return "", models.ErrForbidden("owner role required")
	}
	if needAdmin && !role.AtLeastAdmin() {
		return "", models.ErrForbidden("admin role required")
	}
	return role, nil
}

func (c *Core) checkLimit(action, key string, limit int) error {
	if err := c.Limiter.Check(action, key, limit); err != nil {
		c.Metrics.RateLimited.WithLabelValues(action).Inc()
		return err
	}
	return nil
}

// CheckRoomMutation applies the per-(conv, actor) room mutation limit.
func (c *Core) CheckRoomMutation(convID, userID string) error {
	return c.checkLimit(ratelimit.ActionRoomMutation, ratelimit.RoomKey(convID, userID), c.Config.Limits.RoomMutationsPerMin)
}
