// Package websocket carries the duplex frame protocol over a WebSocket
// upgrade. Each connection owns a bounded outbound queue; overflow closes
// the connection with a backpressure reason and the client replays from its
// cursor after resuming.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"moorgate/internal/gateway"
	"moorgate/internal/hub"
	"moorgate/pkg/logging"
	"moorgate/pkg/models"
)

// writeWait is the per-message write deadline.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server upgrades and drives duplex connections.
type Server struct {
	core   *gateway.Core
	logger logging.Logger
}

// NewServer creates the duplex endpoint handler.
func NewServer(core *gateway.Core) *Server {
	return &Server{core: core, logger: core.Logger}
}

type conn struct {
	server *Server
	ws     *websocket.Conn
	send   chan models.Frame

	session *models.Session

	mu       sync.Mutex
	subs     map[string]*convSub
	sinkID   uint64
	sinkSet  bool
	closed   bool
	closeMsg []byte
}

// convSub bridges one hub subscription into the connection's outbound
// queue. While syncing, live events buffer until the backlog has been
// enqueued so the client observes [backlog, live] dense and in order.
type convSub struct {
	conn    *conn
	handle  *hub.Subscription
	mu      sync.Mutex
	syncing bool
	pending []models.ConvEvent
	lastSeq int64
}

func (cs *convSub) deliver(event models.ConvEvent) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.syncing {
		cs.pending = append(cs.pending, event)
		return true
	}
	if event.Seq <= cs.lastSeq {
		return true
	}
	cs.lastSeq = event.Seq
	return cs.conn.enqueueEvent(event)
}

// finishSync drains buffered live events past the backlog and switches to
// direct delivery.
func (cs *convSub) finishSync(backlogEnd int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.lastSeq = backlogEnd
	for _, event := range cs.pending {
		if event.Seq > cs.lastSeq {
			cs.lastSeq = event.Seq
			if !cs.conn.enqueueEvent(event) {
				break
			}
		}
	}
	cs.pending = nil
	cs.syncing = false
}

// Handle upgrades the request and runs the connection until either side
// closes it. Authentication happens in-band: the first frame must be
// session.start or session.resume.
func (s *Server) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade duplex connection")
		return
	}

	conn := &conn{
		server: s,
		ws:     ws,
		send:   make(chan models.Frame, s.core.Config.Transport.OutboundQueue),
		subs:   make(map[string]*convSub),
	}

	s.core.Metrics.ActiveConnections.WithLabelValues("ws").Inc()
	go conn.writePump()
	conn.readPump()
}

func (c *conn) readDeadline() time.Time {
	t := c.server.core.Config.Transport
	grace := time.Duration(t.PingIntervalS*(t.PingMissLimit+1)) * time.Second
	return time.Now().Add(grace)
}

func (c *conn) readPump() {
	core := c.server.core
	defer c.teardown()

	maxFrame := int64(core.Config.Limits.MaxEnvB64Len + 4096)
	c.ws.SetReadLimit(maxFrame)
	c.ws.SetReadDeadline(c.readDeadline())
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(c.readDeadline())
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.WithError(err).Debug("Duplex connection error")
			}
			return
		}
		c.ws.SetReadDeadline(c.readDeadline())

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("", models.ErrInvalidRequest("malformed frame"))
			if c.session == nil {
				return
			}
			continue
		}
		if frame.V != models.FrameVersion {
			c.sendError(frame.ID, models.ErrInvalidRequest("unsupported frame version %d", frame.V))
			if c.session == nil {
				return
			}
			continue
		}
		core.Metrics.FramesTotal.WithLabelValues("in", frame.T).Inc()

		if c.session == nil {
			if !c.handleHandshake(frame) {
				return
			}
			continue
		}
		c.handleFrame(frame)
	}
}

// handleHandshake processes the mandatory first frame. Anything but
// session.start/session.resume closes the connection.
func (c *conn) handleHandshake(frame models.Frame) bool {
	core := c.server.core

	var session *models.Session
	var err error
	switch frame.T {
	case models.FrameSessionStart:
		var body models.SessionStartBody
		if jerr := json.Unmarshal(frame.Body, &body); jerr != nil {
			c.sendError(frame.ID, models.ErrInvalidRequest("malformed session.start body"))
			return false
		}
		session, err = core.StartSession(body.AuthToken, body.DeviceID, body.ClientLabel)
	case models.FrameSessionResume:
		var body models.SessionResumeBody
		if jerr := json.Unmarshal(frame.Body, &body); jerr != nil {
			c.sendError(frame.ID, models.ErrInvalidRequest("malformed session.resume body"))
			return false
		}
		session, err = core.ResumeSession(body.ResumeToken)
	default:
		c.sendError(frame.ID, models.ErrInvalidRequest("first frame must start or resume a session"))
		return false
	}
	if err != nil {
		c.sendError(frame.ID, err)
		return false
	}
	c.session = session

	cursors, err := core.Store.ListCursors(session.DeviceID)
	if err != nil {
		c.sendError(frame.ID, err)
		return false
	}
	if cursors == nil {
		cursors = []models.Cursor{}
	}
	c.enqueue(models.FrameSessionReady, frame.ID, models.SessionReadyBody{
		SessionToken: session.SessionToken,
		ResumeToken:  session.ResumeToken,
		UserID:       session.UserID,
		ExpiresAt:    session.ExpiresAtMs,
		Cursors:      cursors,
	})

	sinkUser := session.UserID
	c.mu.Lock()
	c.sinkID = core.Presence.RegisterSink(sinkUser, func(update models.PresenceStatus) bool {
		core.Metrics.PresenceUpdates.WithLabelValues(update.Status).Inc()
		return c.enqueue(models.FramePresenceUpdate, "", update)
	})
	c.sinkSet = true
	c.mu.Unlock()
	return true
}

func (c *conn) handleFrame(frame models.Frame) {
	core := c.server.core

	switch frame.T {
	case models.FramePing:
		c.enqueue(models.FramePong, frame.ID, nil)

	case models.FramePong:
		// Deadline already refreshed on read.

	case models.FrameConvSubscribe:
		var body models.ConvSubscribeBody
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			c.sendError(frame.ID, models.ErrInvalidRequest("malformed conv.subscribe body"))
			return
		}
		c.subscribe(frame.ID, body)

	case models.FrameConvSend:
		var body models.ConvSendBody
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			c.sendError(frame.ID, models.ErrInvalidRequest("malformed conv.send body"))
			return
		}
		event, err := core.SendEnvelope(c.session, body.ConvID, body.MsgID, body.Env, "ws")
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		c.enqueue(models.FrameConvAcked, frame.ID, models.ConvAckedBody{
			ConvID: event.ConvID,
			MsgID:  event.MsgID,
			Seq:    event.Seq,
		})

	case models.FrameConvAck:
		var body models.ConvAckBody
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			c.sendError(frame.ID, models.ErrInvalidRequest("malformed conv.ack body"))
			return
		}
		if _, err := core.AckCursor(c.session, body.ConvID, body.Seq); err != nil {
			c.sendError(frame.ID, err)
		}

	case models.FrameSessionStart, models.FrameSessionResume:
		c.sendError(frame.ID, models.ErrInvalidRequest("session is already established"))

	default:
		c.sendError(frame.ID, models.ErrInvalidRequest("unknown frame type %q", frame.T))
	}
}

// subscribe installs the live subscription before reading the backlog, so
// an append landing during the read buffers in the convSub instead of
// slipping past unseen. On a pruned from_seq one error frame is sent and
// nothing stays installed.
func (c *conn) subscribe(frameID string, body models.ConvSubscribeBody) {
	core := c.server.core

	c.mu.Lock()
	if prev, ok := c.subs[body.ConvID]; ok {
		core.Hub.Unsubscribe(prev.handle)
		delete(c.subs, body.ConvID)
	}
	c.mu.Unlock()

	cs := &convSub{conn: c, syncing: true}
	cs.handle = core.Hub.Subscribe(c.session.DeviceID, body.ConvID, cs.deliver)

	start, backlog, err := core.Backlog(c.session, body.ConvID, body.FromSeq)
	if err != nil {
		core.Hub.Unsubscribe(cs.handle)
		c.sendError(frameID, err)
		return
	}

	backlogEnd := start - 1
	for _, event := range backlog {
		if !c.enqueueEvent(event) {
			core.Hub.Unsubscribe(cs.handle)
			return
		}
		backlogEnd = event.Seq
	}
	cs.finishSync(backlogEnd)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		core.Hub.Unsubscribe(cs.handle)
		return
	}
	c.subs[body.ConvID] = cs
	c.mu.Unlock()
}

func (c *conn) enqueueEvent(event models.ConvEvent) bool {
	return c.enqueue(models.FrameConvEvent, "", event)
}

// enqueue puts a frame on the outbound queue without blocking. Overflow
// marks the connection for a backpressure close.
func (c *conn) enqueue(frameType, id string, body any) bool {
	frame, err := models.NewFrame(frameType, id, body)
	if err != nil {
		c.server.logger.WithError(err).Error("Failed to build frame")
		return true
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return true
	default:
		c.closed = true
		c.closeMsg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, models.CodeBackpressure)
		close(c.send)
		c.mu.Unlock()
		return false
	}
}

func (c *conn) sendError(frameID string, err error) {
	ge := models.AsGatewayError(err)
	if ge.Code == models.CodeInternal {
		c.server.logger.WithError(err).Error("Duplex operation failed")
	}
	c.enqueue(models.FrameError, frameID, ge.Body())
}

func (c *conn) writePump() {
	core := c.server.core
	pingPeriod := time.Duration(core.Config.Transport.PingIntervalS) * time.Second
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				msg := c.closeMsg
				c.mu.Unlock()
				if msg == nil {
					msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				}
				c.ws.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
			core.Metrics.FramesTotal.WithLabelValues("out", frame.T).Inc()

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown frees subscriptions, the presence sink and the lease, then
// records last_seen on the session.
func (c *conn) teardown() {
	core := c.server.core
	core.Metrics.ActiveConnections.WithLabelValues("ws").Dec()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	subs := c.subs
	c.subs = map[string]*convSub{}
	sinkSet, sinkID := c.sinkSet, c.sinkID
	c.mu.Unlock()

	for _, cs := range subs {
		core.Hub.Unsubscribe(cs.handle)
	}
	if c.session != nil {
		if sinkSet {
			core.Presence.UnregisterSink(c.session.UserID, sinkID)
		}
		core.Presence.DropDevice(c.session.DeviceID)
		core.Store.TouchSession(c.session.SessionToken)
	}
	c.ws.Close()
}
