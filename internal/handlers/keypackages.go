package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"moorgate/pkg/models"
)

// KeypackagesPublish handles POST /v1/keypackages.
func (h *Handlers) KeypackagesPublish(c *gin.Context) {
	var req models.KeypackagesPublishRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.DeviceID == "" || len(req.Keypackages) == 0 {
		h.fail(c, models.ErrInvalidRequest("device_id and keypackages are required"))
		return
	}
	session := h.session(c)
	err := h.core.Store.PublishKeypackages(session.UserID, req.DeviceID,
		req.Keypackages, h.core.Config.KeypackagePoolMax)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// KeypackagesFetch handles POST /v1/keypackages/fetch: issues one-time
// keypackages for the target user.
func (h *Handlers) KeypackagesFetch(c *gin.Context) {
	var req models.KeypackagesFetchRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.UserID == "" || req.Count < 1 {
		h.fail(c, models.ErrInvalidRequest("user_id and a positive count are required"))
		return
	}
	blobs, err := h.core.Store.FetchKeypackages(req.UserID, req.Count)
	if err != nil {
		h.fail(c, err)
		return
	}
	if blobs == nil {
		blobs = []string{}
	}
	c.JSON(http.StatusOK, models.KeypackagesFetchResponse{Keypackages: blobs})
}

// KeypackagesRotate handles POST /v1/keypackages/rotate.
func (h *Handlers) KeypackagesRotate(c *gin.Context) {
	var req models.KeypackagesRotateRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.DeviceID == "" {
		h.fail(c, models.ErrInvalidRequest("device_id is required"))
		return
	}
	session := h.session(c)
	err := h.core.Store.RotateKeypackages(session.UserID, req.DeviceID,
		req.Revoke, req.Replacement, h.core.Config.KeypackagePoolMax)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
