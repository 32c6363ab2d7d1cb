package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"moorgate/internal/ratelimit"
	"moorgate/pkg/models"
)

// PresenceLease handles POST /v1/presence/lease and /v1/presence/renew.
func (h *Handlers) PresenceLease(c *gin.Context) {
	var req models.PresenceLeaseRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = session.DeviceID
	}
	if err := h.core.Limiter.Check(ratelimit.ActionLeaseRenew, deviceID,
		h.core.Config.Limits.LeaseRenewsPerMin); err != nil {
		h.fail(c, err)
		return
	}
	expiresAt := h.core.Presence.Lease(session.UserID, deviceID, req.TTLSeconds, req.Invisible)
	c.JSON(http.StatusOK, models.PresenceLeaseResponse{ExpiresAt: expiresAt})
}

// PresenceWatch handles POST /v1/presence/watch.
func (h *Handlers) PresenceWatch(c *gin.Context) {
	contacts, session, ok := h.presenceContacts(c)
	if !ok {
		return
	}
	if err := h.core.Limiter.Check(ratelimit.ActionWatchMutation, session.DeviceID,
		h.core.Config.Limits.WatchMutationsPerMin); err != nil {
		h.fail(c, err)
		return
	}
	watching, err := h.core.Presence.Watch(session.UserID, contacts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PresenceWatchResponse{Watching: watching})
}

// PresenceUnwatch handles POST /v1/presence/unwatch.
func (h *Handlers) PresenceUnwatch(c *gin.Context) {
	contacts, session, ok := h.presenceContacts(c)
	if !ok {
		return
	}
	if err := h.core.Limiter.Check(ratelimit.ActionWatchMutation, session.DeviceID,
		h.core.Config.Limits.WatchMutationsPerMin); err != nil {
		h.fail(c, err)
		return
	}
	watching := h.core.Presence.Unwatch(session.UserID, contacts)
	c.JSON(http.StatusOK, models.PresenceWatchResponse{Watching: watching})
}

// PresenceBlock handles POST /v1/presence/block.
func (h *Handlers) PresenceBlock(c *gin.Context) {
	contacts, session, ok := h.presenceContacts(c)
	if !ok {
		return
	}
	blocked := h.core.Presence.Block(session.UserID, contacts)
	c.JSON(http.StatusOK, models.PresenceBlockResponse{Blocked: blocked})
}

// PresenceUnblock handles POST /v1/presence/unblock.
func (h *Handlers) PresenceUnblock(c *gin.Context) {
	contacts, session, ok := h.presenceContacts(c)
	if !ok {
		return
	}
	blocked := h.core.Presence.Unblock(session.UserID, contacts)
	c.JSON(http.StatusOK, models.PresenceBlockResponse{Blocked: blocked})
}

// PresenceStatus handles POST /v1/presence/status.
func (h *Handlers) PresenceStatus(c *gin.Context) {
	var req models.PresenceStatusRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	statuses := h.core.Presence.Status(session.UserID, req.Contacts)
	if statuses == nil {
		statuses = []models.PresenceStatus{}
	}
	c.JSON(http.StatusOK, models.PresenceStatusResponse{Statuses: statuses})
}

// PresenceBlocklist handles GET /v1/presence/blocklist.
func (h *Handlers) PresenceBlocklist(c *gin.Context) {
	session := h.session(c)
	c.JSON(http.StatusOK, models.PresenceBlocklistResponse{
		Blocked: h.core.Presence.Blocklist(session.UserID),
	})
}

func (h *Handlers) presenceContacts(c *gin.Context) ([]string, *models.Session, bool) {
	var req models.PresenceContactsRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return nil, nil, false
	}
	if len(req.Contacts) == 0 {
		h.fail(c, models.ErrInvalidRequest("contacts are required"))
		return nil, nil, false
	}
	return req.Contacts, h.session(c), true
}
