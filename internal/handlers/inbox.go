package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"moorgate/pkg/models"
)

// sseKeepalive is the idle comment interval on push streams.
const sseKeepalive = 15 * time.Second

// Inbox handles POST /v1/inbox: a single conv.send or conv.ack frame over
// plain HTTP for clients without a duplex stream.
func (h *Handlers) Inbox(c *gin.Context) {
	var frame models.Frame
	if err := bindJSON(c, &frame); err != nil {
		h.fail(c, err)
		return
	}
	if frame.V != models.FrameVersion {
		h.fail(c, models.ErrInvalidRequest("unsupported frame version %d", frame.V))
		return
	}
	session := h.session(c)

	switch frame.T {
	case models.FrameConvSend:
		var body models.ConvSendBody
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			h.fail(c, models.ErrInvalidRequest("malformed conv.send body"))
			return
		}
		event, err := h.core.SendEnvelope(session, body.ConvID, body.MsgID, body.Env, "inbox")
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, models.InboxSendResponse{Seq: event.Seq})

	case models.FrameConvAck:
		var body models.ConvAckBody
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			h.fail(c, models.ErrInvalidRequest("malformed conv.ack body"))
			return
		}
		if _, err := h.core.AckCursor(session, body.ConvID, body.Seq); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{})

	default:
		h.fail(c, models.ErrInvalidRequest("inbox accepts conv.send or conv.ack frames"))
	}
}

// SSE handles GET /v1/sse?conv_id=...&from_seq=N: a one-way push stream
// that emits the backlog first, then follows the live log.
func (h *Handlers) SSE(c *gin.Context) {
	convID := c.Query("conv_id")
	if convID == "" {
		h.fail(c, models.ErrInvalidRequest("conv_id is required"))
		return
	}
	var fromSeq *int64
	if raw := c.Query("from_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(c, models.ErrInvalidRequest("from_seq must be an integer"))
			return
		}
		fromSeq = &n
	}

	session := h.session(c)

	// The live feed buffers into a bounded channel and is installed before
	// the backlog read, so an append landing during the read is not lost;
	// the lastSeq check below drops the overlap. Overflow ends the stream
	// and the client resumes from its cursor.
	live := make(chan models.ConvEvent, h.core.Config.Transport.OutboundQueue)
	sub := h.core.Hub.Subscribe(session.DeviceID, convID, func(event models.ConvEvent) bool {
		select {
		case live <- event:
			return true
		default:
			return false
		}
	})
	defer h.core.Hub.Unsubscribe(sub)

	start, backlog, err := h.core.Backlog(session, convID, fromSeq)
	if err != nil {
		h.fail(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.fail(c, models.ErrInternal())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	h.core.Metrics.ActiveConnections.WithLabelValues("sse").Inc()
	defer h.core.Metrics.ActiveConnections.WithLabelValues("sse").Dec()

	lastSeq := start - 1
	for _, event := range backlog {
		if !writeSSEEvent(c, flusher, event) {
			return
		}
		lastSeq = event.Seq
	}

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case event := <-live:
			if event.Seq <= lastSeq {
				continue
			}
			lastSeq = event.Seq
			if !writeSSEEvent(c, flusher, event) {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeSSEEvent(c *gin.Context, flusher http.Flusher, event models.ConvEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "event: conv.event\ndata: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
