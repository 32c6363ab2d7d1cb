package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moorgate/internal/gateway"
	"moorgate/internal/hub"
	"moorgate/internal/metrics"
	"moorgate/internal/presence"
	"moorgate/internal/ratelimit"
	"moorgate/internal/store"
	"moorgate/internal/websocket"
	"moorgate/pkg/auth"
	"moorgate/pkg/config"
	"moorgate/pkg/database"
	"moorgate/pkg/logging"
	"moorgate/pkg/models"
	"moorgate/pkg/monitoring"
)

const testSecret = "test-secret"

// envSeq keeps Prometheus metric names unique across test environments; the
// default registry rejects duplicate registration.
var envSeq int64

type env struct {
	srv  *httptest.Server
	core *gateway.Core
}

func testConfig() config.Gateway {
	return config.Gateway{
		AuthSecret:        testSecret,
		HomeID:            "gw.local",
		SessionTTLSeconds: 3600,
		MaxMembersPerConv: 16,
		KeypackagePoolMax: 100,
		Limits: config.Limits{
			ConvSendsPerMin:       1000,
			SocialPublishesPerMin: 1000,
			DMCreatesPerMin:       1000,
			RoomMutationsPerMin:   1000,
			WatchMutationsPerMin:  1000,
			LeaseRenewsPerMin:     1000,
			MaxEnvB64Len:          65536,
			MaxSocialEventBytes:   16384,
		},
		Presence: config.Presence{
			MinTTLSeconds:        1,
			MaxTTLSeconds:        3600,
			SweepIntervalS:       10,
			MaxWatchlistSize:     100,
			MaxWatchersPerTarget: 100,
		},
		Transport: config.Transport{
			PingIntervalS:   30,
			PingMissLimit:   2,
			OutboundQueue:   64,
			RequestTimeoutS: 5,
		},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Gateway)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(":memory:"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	collector := monitoring.NewMetricsCollector(
		fmt.Sprintf("postmaster_test_%d", atomic.AddInt64(&envSeq, 1)), "test", "none")
	core := gateway.New(
		store.New(db, logger),
		hub.New(logger),
		presence.New(cfg.Presence, logger),
		ratelimit.New(time.Minute),
		cfg, logger, metrics.New(collector),
	)

	router := gin.New()
	h := NewHandlers(core, map[string]string{"gw.local": "https://gw.local.example"})
	h.RegisterRoutes(router, websocket.NewServer(core), monitoring.NewHealthChecker("postmaster", "test"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &env{srv: srv, core: core}
}

// do issues one JSON request and decodes the response body into out when the
// status matches.
func (e *env) do(t *testing.T, method, path, token string, body, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *env) startSession(t *testing.T, userID, deviceID string) models.SessionStartResponse {
	t.Helper()
	loginToken, err := auth.IssueLoginToken(testSecret, userID, time.Hour)
	require.NoError(t, err)

	var out models.SessionStartResponse
	resp := e.do(t, http.MethodPost, "/v1/session/start", "", models.SessionStartRequest{
		AuthToken: loginToken,
		DeviceID:  deviceID,
	}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, userID, out.UserID)
	return out
}

func (e *env) createDM(t *testing.T, token, convID, peer string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/dms/create", token,
		models.DMCreateRequest{ConvID: convID, PeerUserID: peer}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func sendFrame(convID, msgID, env string) models.Frame {
	body, _ := json.Marshal(models.ConvSendBody{ConvID: convID, MsgID: msgID, Env: env})
	return models.Frame{V: models.FrameVersion, T: models.FrameConvSend, Body: body}
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	e := newTestEnv(t, nil)

	var body map[string]any
	resp := e.do(t, http.MethodGet, "/v1/conversations", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, models.CodeUnauthorized, body["code"])

	resp = e.do(t, http.MethodGet, "/v1/conversations", "bogus-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionStartRejectsBadLoginToken(t *testing.T) {
	e := newTestEnv(t, nil)

	var body map[string]any
	resp := e.do(t, http.MethodPost, "/v1/session/start", "", models.SessionStartRequest{
		AuthToken: "not-a-jwt",
		DeviceID:  "d1",
	}, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeUnauthorized, body["code"])
}

func TestSessionStartRejectsOversizedClientLabel(t *testing.T) {
	e := newTestEnv(t, nil)
	loginToken, err := auth.IssueLoginToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	var body map[string]any
	resp := e.do(t, http.MethodPost, "/v1/session/start", "", models.SessionStartRequest{
		AuthToken:   loginToken,
		DeviceID:    "d1",
		ClientLabel: strings.Repeat("x", 33),
	}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidRequest, body["code"])

	resp = e.do(t, http.MethodPost, "/v1/session/start", "", models.SessionStartRequest{
		AuthToken:   loginToken,
		DeviceID:    "d1",
		ClientLabel: "tab\tlabel",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/session/start", "", models.SessionStartRequest{
		AuthToken:   loginToken,
		DeviceID:    "d1",
		ClientLabel: "Aurora on desk",
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionResumeRotatesTokens(t *testing.T) {
	e := newTestEnv(t, nil)
	first := e.startSession(t, "alice", "d1")

	var rotated models.SessionStartResponse
	resp := e.do(t, http.MethodPost, "/v1/session/resume", "",
		models.SessionResumeRequest{ResumeToken: first.ResumeToken}, &rotated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, first.SessionToken, rotated.SessionToken)

	// The consumed resume token and the old session token are both dead.
	resp = e.do(t, http.MethodPost, "/v1/session/resume", "",
		models.SessionResumeRequest{ResumeToken: first.ResumeToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/v1/conversations", first.SessionToken, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/v1/conversations", rotated.SessionToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionListAndRevoke(t *testing.T) {
	e := newTestEnv(t, nil)
	phone := e.startSession(t, "alice", "phone")
	desk := e.startSession(t, "alice", "desk")

	var list models.SessionListResponse
	resp := e.do(t, http.MethodGet, "/v1/session/list", phone.SessionToken, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Sessions, 2)
	assert.True(t, list.Sessions[0].IsCurrent)
	assert.Equal(t, list.CurrentSessionID, list.Sessions[0].SessionID)

	// Revoking the current session without include_self is rejected.
	var errBody map[string]any
	resp = e.do(t, http.MethodPost, "/v1/session/revoke", phone.SessionToken,
		models.SessionRevokeRequest{SessionID: list.CurrentSessionID}, &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidRequest, errBody["code"])

	var revoked models.SessionRevokeResponse
	resp = e.do(t, http.MethodPost, "/v1/session/revoke", phone.SessionToken,
		models.SessionRevokeRequest{DeviceID: "desk"}, &revoked)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, revoked.Revoked)

	resp = e.do(t, http.MethodGet, "/v1/conversations", desk.SessionToken, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/v1/conversations", phone.SessionToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInboxSendIsIdempotent(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	e.createDM(t, alice.SessionToken, "dm1", "bob")

	var first models.InboxSendResponse
	resp := e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken, sendFrame("dm1", "m1", "ZW52"), &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), first.Seq)

	var again models.InboxSendResponse
	resp = e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken, sendFrame("dm1", "m1", "ZW52"), &again)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.Seq, again.Seq)

	var second models.InboxSendResponse
	resp = e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken, sendFrame("dm1", "m2", "ZW52"), &second)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), second.Seq)
}

func TestInboxRejectsNonMembersAndBadFrames(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	carol := e.startSession(t, "carol", "d2")
	e.createDM(t, alice.SessionToken, "dm1", "bob")

	var body map[string]any
	resp := e.do(t, http.MethodPost, "/v1/inbox", carol.SessionToken, sendFrame("dm1", "m1", "ZW52"), &body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeForbidden, body["code"])

	resp = e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken,
		models.Frame{V: 9, T: models.FrameConvSend}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken,
		models.Frame{V: models.FrameVersion, T: models.FramePing}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendRateLimitedWithRetryAfter(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Gateway) {
		cfg.Limits.ConvSendsPerMin = 2
	})
	alice := e.startSession(t, "alice", "d1")
	e.createDM(t, alice.SessionToken, "dm1", "bob")

	for i := 1; i <= 2; i++ {
		resp := e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken,
			sendFrame("dm1", fmt.Sprintf("m%d", i), "ZW52"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var body map[string]any
	resp := e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken, sendFrame("dm1", "m3", "ZW52"), &body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, models.CodeRateLimited, body["code"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.NotZero(t, body["retry_after_s"])
}

func TestRoomModerationFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	bob := e.startSession(t, "bob", "d2")

	resp := e.do(t, http.MethodPost, "/v1/rooms/create", alice.SessionToken,
		models.RoomCreateRequest{ConvID: "r1", Members: []string{"bob"}, Title: "crew"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A plain member cannot invite.
	resp = e.do(t, http.MethodPost, "/v1/rooms/invite", bob.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"carol"}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Promote bob, then he can.
	resp = e.do(t, http.MethodPost, "/v1/rooms/promote", alice.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"bob"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/rooms/invite", bob.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"carol"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Only the owner promotes; bob cannot.
	resp = e.do(t, http.MethodPost, "/v1/rooms/promote", bob.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"carol"}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A moderation mute blocks sends until lifted.
	resp = e.do(t, http.MethodPost, "/v1/rooms/mute", alice.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"carol"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	carol := e.startSession(t, "carol", "d3")
	resp = e.do(t, http.MethodPost, "/v1/inbox", carol.SessionToken, sendFrame("r1", "m1", "ZW52"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/rooms/unmute", alice.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"carol"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/inbox", carol.SessionToken, sendFrame("r1", "m1", "ZW52"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A ban removes membership and blocks sends.
	resp = e.do(t, http.MethodPost, "/v1/rooms/ban", alice.SessionToken,
		models.RoomMembersRequest{ConvID: "r1", Members: []string{"carol"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/inbox", carol.SessionToken, sendFrame("r1", "m2", "ZW52"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var members models.RoomMembersResponse
	resp = e.do(t, http.MethodGet, "/v1/rooms/members?conv_id=r1", alice.SessionToken, nil, &members)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, members.Members, 2)

	var bans models.RoomBansResponse
	resp = e.do(t, http.MethodGet, "/v1/rooms/bans?conv_id=r1", alice.SessionToken, nil, &bans)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, bans.Bans, 1)
	assert.Equal(t, "carol", bans.Bans[0].UserID)
}

func TestConversationListAndMarkRead(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	e.createDM(t, alice.SessionToken, "dm1", "bob")

	for i := 1; i <= 3; i++ {
		resp := e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken,
			sendFrame("dm1", fmt.Sprintf("m%d", i), "ZW52"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var marked models.MarkReadResponse
	resp := e.do(t, http.MethodPost, "/v1/conversations/mark_read", alice.SessionToken,
		models.MarkReadRequest{ConvID: "dm1", ToSeq: ptr(int64(2))}, &marked)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), marked.LastReadSeq)
	assert.Equal(t, int64(1), marked.UnreadCount)

	resp = e.do(t, http.MethodPost, "/v1/conversations/pin", alice.SessionToken,
		models.ConvPinRequest{ConvID: "dm1", Pinned: true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list models.ConversationsResponse
	resp = e.do(t, http.MethodGet, "/v1/conversations", alice.SessionToken, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "dm1", list.Items[0].ConvID)
	assert.True(t, list.Items[0].Pinned)
	assert.Equal(t, int64(3), list.Items[0].LatestSeq)
	assert.Equal(t, int64(1), list.Items[0].UnreadCount)

	var all models.MarkAllReadResponse
	resp = e.do(t, http.MethodPost, "/v1/conversations/mark_all_read", alice.SessionToken, nil, &all)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, all.ConvCount)
}

func TestTitleAndLabelLengthCaps(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	long := strings.Repeat("x", 65)

	var body map[string]any
	resp := e.do(t, http.MethodPost, "/v1/rooms/create", alice.SessionToken,
		models.RoomCreateRequest{ConvID: "r1", Members: []string{"bob"}, Title: long}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidRequest, body["code"])

	resp = e.do(t, http.MethodPost, "/v1/rooms/create", alice.SessionToken,
		models.RoomCreateRequest{ConvID: "r1", Members: []string{"bob"}, Title: "crew"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/conversations/title", alice.SessionToken,
		models.ConvTitleRequest{ConvID: "r1", Title: long}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Whitespace normalizes before the cap applies and before storage.
	padded := "  the   " + strings.Repeat("y", 60) + "  "
	resp = e.do(t, http.MethodPost, "/v1/conversations/title", alice.SessionToken,
		models.ConvTitleRequest{ConvID: "r1", Title: padded}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list models.ConversationsResponse
	resp = e.do(t, http.MethodGet, "/v1/conversations", alice.SessionToken, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "the "+strings.Repeat("y", 60), list.Items[0].Title)

	resp = e.do(t, http.MethodPost, "/v1/conversations/label", alice.SessionToken,
		models.ConvLabelRequest{ConvID: "r1", Label: long}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidRequest, body["code"])
}

func TestDMCreateRejectsSelfAndBlockedPeers(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")

	resp := e.do(t, http.MethodPost, "/v1/dms/create", alice.SessionToken,
		models.DMCreateRequest{ConvID: "dm1", PeerUserID: "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/presence/block", alice.SessionToken,
		models.PresenceContactsRequest{Contacts: []string{"bob"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/dms/create", alice.SessionToken,
		models.DMCreateRequest{ConvID: "dm1", PeerUserID: "bob"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestKeypackagesRoundTrip(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	bob := e.startSession(t, "bob", "d2")

	resp := e.do(t, http.MethodPost, "/v1/keypackages", alice.SessionToken,
		models.KeypackagesPublishRequest{DeviceID: "d1", Keypackages: []string{"kp1", "kp2"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.KeypackagesFetchResponse
	resp = e.do(t, http.MethodPost, "/v1/keypackages/fetch", bob.SessionToken,
		models.KeypackagesFetchRequest{UserID: "alice", Count: 1}, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"kp1"}, fetched.Keypackages)
}

func TestPresenceLeaseWatchStatus(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	bob := e.startSession(t, "bob", "d2")

	var lease models.PresenceLeaseResponse
	resp := e.do(t, http.MethodPost, "/v1/presence/lease", bob.SessionToken,
		models.PresenceLeaseRequest{TTLSeconds: 60}, &lease)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Positive(t, lease.ExpiresAt)

	// One-sided watch reads offline.
	resp = e.do(t, http.MethodPost, "/v1/presence/watch", alice.SessionToken,
		models.PresenceContactsRequest{Contacts: []string{"bob"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.PresenceStatusResponse
	resp = e.do(t, http.MethodPost, "/v1/presence/status", alice.SessionToken,
		models.PresenceStatusRequest{Contacts: []string{"bob"}}, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, status.Statuses, 1)
	assert.Equal(t, models.PresenceOffline, status.Statuses[0].Status)

	// Mutual watch reads online.
	resp = e.do(t, http.MethodPost, "/v1/presence/watch", bob.SessionToken,
		models.PresenceContactsRequest{Contacts: []string{"alice"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/presence/status", alice.SessionToken,
		models.PresenceStatusRequest{Contacts: []string{"bob"}}, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.PresenceOnline, status.Statuses[0].Status)
	assert.Equal(t, lease.ExpiresAt, status.Statuses[0].ExpiresAt)
}

func TestGatewayResolve(t *testing.T) {
	e := newTestEnv(t, nil)

	var out models.GatewayResolveResponse
	resp := e.do(t, http.MethodGet, "/v1/gateways/resolve?gateway_id=gw.local", "", nil, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://gw.local.example", out.GatewayURL)

	resp = e.do(t, http.MethodGet, "/v1/gateways/resolve?gateway_id=nowhere", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEStreamsBacklogThenLive(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	e.createDM(t, alice.SessionToken, "dm1", "bob")

	for i := 1; i <= 2; i++ {
		resp := e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken,
			sendFrame("dm1", fmt.Sprintf("m%d", i), "ZW52"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/sse?conv_id=dm1&from_seq=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.SessionToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	readEvent := func() models.ConvEvent {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				var event models.ConvEvent
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
				return event
			}
		}
		t.Fatalf("stream ended early: %v", scanner.Err())
		return models.ConvEvent{}
	}

	assert.Equal(t, int64(1), readEvent().Seq)
	assert.Equal(t, int64(2), readEvent().Seq)

	// A live append reaches the open stream.
	session := &models.Session{UserID: "alice", DeviceID: "d1", SessionToken: alice.SessionToken}
	_, err = e.core.SendEnvelope(session, "dm1", "m3", "ZW52", "test")
	require.NoError(t, err)
	assert.Equal(t, int64(3), readEvent().Seq)
}

func TestSSEBelowPrunedWindowReturnsGone(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.startSession(t, "alice", "d1")
	e.createDM(t, alice.SessionToken, "dm1", "bob")

	for i := 1; i <= 10; i++ {
		resp := e.do(t, http.MethodPost, "/v1/inbox", alice.SessionToken,
			sendFrame("dm1", fmt.Sprintf("m%d", i), "ZW52"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	_, err := e.core.Store.DeleteUpTo("dm1", 7)
	require.NoError(t, err)

	var body map[string]any
	resp := e.do(t, http.MethodGet, "/v1/sse?conv_id=dm1&from_seq=1", alice.SessionToken, nil, &body)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, models.CodeReplayWindowExceeded, body["code"])
	assert.Equal(t, float64(8), body["earliest_seq"])
	assert.Equal(t, float64(10), body["latest_seq"])
	assert.Equal(t, float64(1), body["requested_from_seq"])
}

func ptr[T any](v T) *T { return &v }
