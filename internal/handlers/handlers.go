// Package handlers implements the JSON endpoint surface under /v1/.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"moorgate/internal/gateway"
	"moorgate/pkg/crypto"
	"moorgate/pkg/logging"
	"moorgate/pkg/models"
)

// Handlers carries the service core into the HTTP layer.
type Handlers struct {
	core      *gateway.Core
	logger    logging.Logger
	directory map[string]string
}

// NewHandlers creates the endpoint set. directory maps gateway ids to URLs
// for /v1/gateways/resolve.
func NewHandlers(core *gateway.Core, directory map[string]string) *Handlers {
	return &Handlers{
		core:      core,
		logger:    core.Logger,
		directory: directory,
	}
}

// fail renders a typed error body with its HTTP status. Internal failures
// are logged; their detail never reaches the client.
func (h *Handlers) fail(c *gin.Context, err error) {
	ge := models.AsGatewayError(err)
	if ge.Code == models.CodeInternal {
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	if ge.Code == models.CodeRateLimited {
		c.Header("Retry-After", strconv.Itoa(ge.RetryAfterS()))
	}
	if ge.Code == models.CodeUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
		c.Header("Cache-Control", "no-store")
	}
	c.JSON(ge.HTTPStatus(), ge.Body())
}

// session rebuilds the authenticated session identity from the middleware
// keys.
func (h *Handlers) session(c *gin.Context) *models.Session {
	return &models.Session{
		UserID:       c.GetString("user_id"),
		DeviceID:     c.GetString("device_id"),
		SessionToken: c.GetString("session_token"),
	}
}

func bindJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return models.ErrInvalidRequest("malformed request body")
	}
	return nil
}

// SessionStart handles POST /v1/session/start.
func (h *Handlers) SessionStart(c *gin.Context) {
	var req models.SessionStartRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session, err := h.core.StartSession(req.AuthToken, req.DeviceID, req.ClientLabel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SessionStartResponse{
		SessionToken: session.SessionToken,
		ResumeToken:  session.ResumeToken,
		UserID:       session.UserID,
		ExpiresAtMs:  session.ExpiresAtMs,
	})
}

// SessionResume handles POST /v1/session/resume.
func (h *Handlers) SessionResume(c *gin.Context) {
	var req models.SessionResumeRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session, err := h.core.ResumeSession(req.ResumeToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SessionStartResponse{
		SessionToken: session.SessionToken,
		ResumeToken:  session.ResumeToken,
		UserID:       session.UserID,
		ExpiresAtMs:  session.ExpiresAtMs,
	})
}

// SessionList handles GET /v1/session/list.
func (h *Handlers) SessionList(c *gin.Context) {
	session := h.session(c)
	sessions, err := h.core.Store.ListSessions(session.UserID, session.SessionToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionInfo{}
	}
	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions:         sessions,
		CurrentSessionID: crypto.SessionID(session.SessionToken),
	})
}

// SessionRevoke handles POST /v1/session/revoke. Revoking the current
// session requires include_self=true.
func (h *Handlers) SessionRevoke(c *gin.Context) {
	var req models.SessionRevokeRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	currentID := crypto.SessionID(session.SessionToken)

	var revoked []string
	switch {
	case req.SessionID != "":
		if req.SessionID == currentID && !req.IncludeSelf {
			h.fail(c, models.ErrInvalidRequest("revoking the current session requires include_self"))
			return
		}
		ok, err := h.core.Store.RevokeSessionID(session.UserID, req.SessionID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if !ok {
			h.fail(c, models.ErrNotFound("unknown session id"))
			return
		}
		revoked = []string{req.SessionID}

	case req.DeviceID != "":
		keep := session.SessionToken
		if req.IncludeSelf {
			keep = ""
		}
		ids, err := h.core.Store.RevokeDevice(session.UserID, req.DeviceID, keep)
		if err != nil {
			h.fail(c, err)
			return
		}
		revoked = ids

	default:
		h.fail(c, models.ErrInvalidRequest("session_id or device_id is required"))
		return
	}

	if revoked == nil {
		revoked = []string{}
	}
	c.JSON(http.StatusOK, models.SessionRevokeResponse{
		Status:            "ok",
		Revoked:           len(revoked),
		RevokedSessionIDs: revoked,
	})
}

// SessionLogout handles POST /v1/session/logout: revokes the current
// session.
func (h *Handlers) SessionLogout(c *gin.Context) {
	session := h.session(c)
	currentID := crypto.SessionID(session.SessionToken)
	if _, err := h.core.Store.RevokeSessionID(session.UserID, currentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// SessionLogoutAll handles POST /v1/session/logout_all.
func (h *Handlers) SessionLogoutAll(c *gin.Context) {
	var req models.LogoutAllRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	keep := session.SessionToken
	if req.IncludeSelf {
		keep = ""
	}
	if _, err := h.core.Store.RevokeAll(session.UserID, keep); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.LogoutAllResponse{
		Status:      "ok",
		KeptCurrent: !req.IncludeSelf,
	})
}

// GatewayResolve handles GET /v1/gateways/resolve?gateway_id=...
func (h *Handlers) GatewayResolve(c *gin.Context) {
	gatewayID := c.Query("gateway_id")
	if gatewayID == "" {
		h.fail(c, models.ErrInvalidRequest("gateway_id is required"))
		return
	}
	url, ok := h.directory[gatewayID]
	if !ok {
		h.fail(c, models.ErrNotFound("unknown gateway %q", gatewayID))
		return
	}
	c.JSON(http.StatusOK, models.GatewayResolveResponse{
		GatewayID:  gatewayID,
		GatewayURL: url,
	})
}
