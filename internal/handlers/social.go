package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"moorgate/pkg/crypto"
	"moorgate/pkg/models"
)

// SocialPublish handles POST /v1/social/events.
func (h *Handlers) SocialPublish(c *gin.Context) {
	var req models.SocialPublishRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	event, err := h.core.PublishSocial(session.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// SocialEvents handles GET /v1/social/events?user_id=...&after_hash=...&limit=...
func (h *Handlers) SocialEvents(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		h.fail(c, models.ErrInvalidRequest("user_id is required"))
		return
	}
	limit := queryInt(c, "limit", 100)
	events, err := h.core.Store.ListSocialEvents(userID, c.Query("after_hash"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if events == nil {
		events = []models.SocialEvent{}
	}
	c.JSON(http.StatusOK, models.SocialEventsResponse{Events: events})
}

// SocialEvent handles GET /v1/social/event?hash=..., a single chain event.
// Events are content-addressed, so the response is immutable.
func (h *Handlers) SocialEvent(c *gin.Context) {
	hash := c.Query("hash")
	if hash == "" {
		h.fail(c, models.ErrInvalidRequest("hash is required"))
		return
	}
	event, err := h.core.Store.SocialEventByHash(hash)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.JSON(http.StatusOK, event)
}

// SocialProfile handles GET /v1/social/profile?user_id=...&limit=... with
// short-lived caching headers.
func (h *Handlers) SocialProfile(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		h.fail(c, models.ErrInvalidRequest("user_id is required"))
		return
	}
	limit := queryInt(c, "limit", 10)
	view, err := h.core.Store.Profile(userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if view.UpdatedAtMs > 0 {
		c.Header("Last-Modified", time.UnixMilli(view.UpdatedAtMs).UTC().Format(http.TimeFormat))
	}
	h.writeCached(c, view)
}

// SocialFeed handles GET /v1/social/feed?limit=...&cursor=... for the
// caller's follow graph.
func (h *Handlers) SocialFeed(c *gin.Context) {
	session := h.session(c)
	userID := c.Query("user_id")
	if userID == "" {
		userID = session.UserID
	}
	limit := queryInt(c, "limit", 50)
	page, err := h.core.Store.Feed(userID, limit, c.Query("cursor"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeCached(c, page)
}

// writeCached renders a short-cacheable JSON body with a content ETag and
// answers If-None-Match with 304.
func (h *Handlers) writeCached(c *gin.Context, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.fail(c, models.ErrInternal())
		return
	}
	etag := `"` + crypto.EventHash(data) + `"`
	c.Header("Cache-Control", "public, max-age=30")
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
