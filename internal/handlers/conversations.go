package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"moorgate/internal/gateway"
	"moorgate/pkg/models"
)

// DMCreate handles POST /v1/dms/create.
func (h *Handlers) DMCreate(c *gin.Context) {
	var req models.DMCreateRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	if err := h.core.CreateDM(session.UserID, req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DMCreateResponse{ConvID: req.ConvID})
}

// RoomCreate handles POST /v1/rooms/create.
func (h *Handlers) RoomCreate(c *gin.Context) {
	var req models.RoomCreateRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.ConvID == "" {
		h.fail(c, models.ErrInvalidRequest("conv_id is required"))
		return
	}
	title, err := gateway.ValidateTitle(req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	err = h.core.Store.CreateRoom(req.ConvID, session.UserID, req.Members,
		title, h.core.Config.HomeID, h.core.Config.MaxMembersPerConv)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// roomMutation factors the shared shape of the role-gated member endpoints:
// parse, rate limit, check the actor's role, apply.
func (h *Handlers) roomMutation(c *gin.Context, needOwner bool, apply func(convID, actorID string, members []string) error) {
	var req models.RoomMembersRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.ConvID == "" || len(req.Members) == 0 {
		h.fail(c, models.ErrInvalidRequest("conv_id and members are required"))
		return
	}
	session := h.session(c)
	if _, err := h.core.RequireRole(req.ConvID, session.UserID, true, needOwner); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.core.CheckRoomMutation(req.ConvID, session.UserID); err != nil {
		h.fail(c, err)
		return
	}
	if err := apply(req.ConvID, session.UserID, req.Members); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// RoomInvite handles POST /v1/rooms/invite (admin or owner).
func (h *Handlers) RoomInvite(c *gin.Context) {
	h.roomMutation(c, false, func(convID, _ string, members []string) error {
		return h.core.Store.AddMembers(convID, members, h.core.Config.MaxMembersPerConv)
	})
}

// RoomRemove handles POST /v1/rooms/remove (admin or owner).
func (h *Handlers) RoomRemove(c *gin.Context) {
	h.roomMutation(c, false, func(convID, _ string, members []string) error {
		return h.core.Store.RemoveMembers(convID, members)
	})
}

// RoomBan handles POST /v1/rooms/ban (admin or owner).
func (h *Handlers) RoomBan(c *gin.Context) {
	h.roomMutation(c, false, func(convID, actorID string, members []string) error {
		return h.core.Store.BanMembers(convID, actorID, members)
	})
}

// RoomUnban handles POST /v1/rooms/unban (admin or owner).
func (h *Handlers) RoomUnban(c *gin.Context) {
	h.roomMutation(c, false, func(convID, _ string, members []string) error {
		return h.core.Store.UnbanMembers(convID, members)
	})
}

// RoomPromote handles POST /v1/rooms/promote (owner only).
func (h *Handlers) RoomPromote(c *gin.Context) {
	h.roomMutation(c, true, func(convID, _ string, members []string) error {
		for _, userID := range members {
			if err := h.core.Store.SetRole(convID, userID, models.RoleAdmin); err != nil {
				return err
			}
		}
		return nil
	})
}

// RoomDemote handles POST /v1/rooms/demote (owner only).
func (h *Handlers) RoomDemote(c *gin.Context) {
	h.roomMutation(c, true, func(convID, _ string, members []string) error {
		for _, userID := range members {
			if err := h.core.Store.SetRole(convID, userID, models.RoleMember); err != nil {
				return err
			}
		}
		return nil
	})
}

// RoomMute handles POST /v1/rooms/mute (admin or owner).
func (h *Handlers) RoomMute(c *gin.Context) {
	h.roomMutation(c, false, func(convID, actorID string, members []string) error {
		return h.core.Store.ModMuteMembers(convID, actorID, members)
	})
}

// RoomUnmute handles POST /v1/rooms/unmute (admin or owner).
func (h *Handlers) RoomUnmute(c *gin.Context) {
	h.roomMutation(c, false, func(convID, _ string, members []string) error {
		return h.core.Store.ModUnmuteMembers(convID, members)
	})
}

// roomQuery checks membership for the GET endpoints.
func (h *Handlers) roomQuery(c *gin.Context) (string, bool) {
	convID := c.Query("conv_id")
	if convID == "" {
		h.fail(c, models.ErrInvalidRequest("conv_id is required"))
		return "", false
	}
	session := h.session(c)
	if _, err := h.core.RequireRole(convID, session.UserID, false, false); err != nil {
		h.fail(c, err)
		return "", false
	}
	return convID, true
}

// RoomMembers handles GET /v1/rooms/members?conv_id=...
func (h *Handlers) RoomMembers(c *gin.Context) {
	convID, ok := h.roomQuery(c)
	if !ok {
		return
	}
	members, err := h.core.Store.Members(convID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if members == nil {
		members = []models.Member{}
	}
	c.JSON(http.StatusOK, models.RoomMembersResponse{Members: members})
}

// RoomBans handles GET /v1/rooms/bans?conv_id=...
func (h *Handlers) RoomBans(c *gin.Context) {
	convID, ok := h.roomQuery(c)
	if !ok {
		return
	}
	bans, err := h.core.Store.Bans(convID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if bans == nil {
		bans = []models.Ban{}
	}
	c.JSON(http.StatusOK, models.RoomBansResponse{Bans: bans})
}

// RoomMutes handles GET /v1/rooms/mutes?conv_id=...
func (h *Handlers) RoomMutes(c *gin.Context) {
	convID, ok := h.roomQuery(c)
	if !ok {
		return
	}
	mutes, err := h.core.Store.ModMutes(convID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if mutes == nil {
		mutes = []models.Mute{}
	}
	c.JSON(http.StatusOK, models.RoomMutesResponse{Mutes: mutes})
}

// Conversations handles GET /v1/conversations[?include_archived=1].
func (h *Handlers) Conversations(c *gin.Context) {
	session := h.session(c)
	includeArchived := c.Query("include_archived") == "1"
	items, err := h.core.Store.ListConversations(session.UserID, includeArchived)
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []models.ConversationRow{}
	}
	c.JSON(http.StatusOK, models.ConversationsResponse{Items: items})
}

// ConvTitle handles POST /v1/conversations/title (admin or owner).
func (h *Handlers) ConvTitle(c *gin.Context) {
	var req models.ConvTitleRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	title, err := gateway.ValidateTitle(req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	session := h.session(c)
	if _, err := h.core.RequireRole(req.ConvID, session.UserID, true, false); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.core.Store.SetTitle(req.ConvID, title); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// memberMutation factors the member-only per-user view mutations.
func (h *Handlers) memberMutation(c *gin.Context, convID string, apply func(userID string) error) {
	session := h.session(c)
	if _, err := h.core.RequireRole(convID, session.UserID, false, false); err != nil {
		h.fail(c, err)
		return
	}
	if err := apply(session.UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// ConvLabel handles POST /v1/conversations/label.
func (h *Handlers) ConvLabel(c *gin.Context) {
	var req models.ConvLabelRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if err := gateway.ValidateLabel(req.Label); err != nil {
		h.fail(c, err)
		return
	}
	h.memberMutation(c, req.ConvID, func(userID string) error {
		return h.core.Store.SetLabel(req.ConvID, userID, req.Label)
	})
}

// ConvPin handles POST /v1/conversations/pin.
func (h *Handlers) ConvPin(c *gin.Context) {
	var req models.ConvPinRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.memberMutation(c, req.ConvID, func(userID string) error {
		return h.core.Store.SetPinned(req.ConvID, userID, req.Pinned)
	})
}

// ConvMute handles POST /v1/conversations/mute (personal notification
// preference, not a moderation mute).
func (h *Handlers) ConvMute(c *gin.Context) {
	var req models.ConvMuteRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.memberMutation(c, req.ConvID, func(userID string) error {
		return h.core.Store.SetMuted(req.ConvID, userID, req.Muted)
	})
}

// ConvArchive handles POST /v1/conversations/archive.
func (h *Handlers) ConvArchive(c *gin.Context) {
	var req models.ConvArchiveRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.memberMutation(c, req.ConvID, func(userID string) error {
		return h.core.Store.SetArchived(req.ConvID, userID, req.Archived)
	})
}

// MarkRead handles POST /v1/conversations/mark_read.
func (h *Handlers) MarkRead(c *gin.Context) {
	var req models.MarkReadRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.ConvID == "" {
		h.fail(c, models.ErrInvalidRequest("conv_id is required"))
		return
	}
	session := h.session(c)
	if _, err := h.core.RequireRole(req.ConvID, session.UserID, false, false); err != nil {
		h.fail(c, err)
		return
	}
	lastRead, unread, err := h.core.Store.MarkRead(req.ConvID, session.UserID, req.ToSeq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MarkReadResponse{
		Status:      "ok",
		ConvID:      req.ConvID,
		LastReadSeq: lastRead,
		UnreadCount: unread,
	})
}

// MarkAllRead handles POST /v1/conversations/mark_all_read.
func (h *Handlers) MarkAllRead(c *gin.Context) {
	session := h.session(c)
	count, err := h.core.Store.MarkAllRead(session.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MarkAllReadResponse{Status: "ok", ConvCount: count})
}
