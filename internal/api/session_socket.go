package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/debatecast/internal/broadcast"
	"github.com/onnwee/debatecast/internal/coordinator"
	"github.com/onnwee/debatecast/internal/middleware"
)

// Socket defaults.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPongWait     = 30 * time.Second
	DefaultMaxMessage   = 16 << 10
	outboxSize          = 32
)

// SocketConfig tunes the session socket.
type SocketConfig struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PongWait is how long the socket may stay silent before it is dropped.
	// Pings are sent at 9/10 of it.
	PongWait time.Duration
	// MaxMessage is the largest client frame accepted, in bytes.
	MaxMessage int64
	// CheckOrigin validates the handshake Origin. Nil allows all.
	CheckOrigin func(origin string) bool
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = DefaultMaxMessage
	}
	return c
}

// SessionSocketHandler serves GET /debates/{id}/ws. One socket holds at most
// one session connection at a time; a client may leave and join again on the
// same socket, which is how a role change takes effect.
type SessionSocketHandler struct {
	manager  *coordinator.Manager
	metrics  *middleware.Metrics
	logger   *slog.Logger
	cfg      SocketConfig
	upgrader websocket.Upgrader
}

// NewSessionSocketHandler creates the socket endpoint. metrics may be nil.
func NewSessionSocketHandler(manager *coordinator.Manager, cfg SocketConfig, metrics *middleware.Metrics, logger *slog.Logger) *SessionSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	h := &SessionSocketHandler{
		manager: manager,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || cfg.CheckOrigin == nil {
				return true
			}
			return cfg.CheckOrigin(origin)
		},
	}
	return h
}

// ServeHTTP upgrades the request and runs the socket until either side
// closes it. The caller must be authenticated.
func (h *SessionSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	debateID := r.PathValue("id")
	if debateID == "" {
		WriteError(w, middleware.SetErrorCode(ctx, ErrCodeBadRequest), http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}
	identity := middleware.GetIdentity(ctx)
	if identity == "" {
		WriteError(w, middleware.SetErrorCode(ctx, ErrCodeAuthFailed), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("debate_id", debateID),
			slog.String("error", err.Error()),
		)
		return
	}

	if h.metrics != nil {
		h.metrics.SocketOpened()
		defer h.metrics.SocketClosed()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &socketConn{
		h:        h,
		ws:       ws,
		debateID: debateID,
		identity: identity,
		out:      make(chan any, outboxSize),
		ctx:      ctx,
		cancel:   cancel,
		logger: h.logger.With(
			slog.String("debate_id", debateID),
			slog.String("identity", identity),
			slog.String("request_id", middleware.GetRequestID(ctx)),
		),
	}
	c.run()
}

// socketConn is one upgraded socket. The reader runs on the handler's
// goroutine; a single writer goroutine owns all frame writes.
type socketConn struct {
	h        *SessionSocketHandler
	ws       *websocket.Conn
	debateID string
	identity string
	out      chan any
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	mu       sync.Mutex
	connID   string
	stopPump context.CancelFunc
}

// closeFrame asks the writer to close the socket after the queued messages.
type closeFrame struct {
	code   int
	reason string
}

func (c *socketConn) run() {
	c.logger.InfoContext(c.ctx, "session socket opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop()

	c.cancel()
	<-writerDone
	c.leave(context.WithoutCancel(c.ctx))
	c.logger.InfoContext(c.ctx, "session socket closed")
}

func (c *socketConn) readLoop() {
	c.ws.SetReadLimit(c.h.cfg.MaxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.h.cfg.PongWait))
		if id := c.connectionID(); id != "" {
			_ = c.h.manager.Heartbeat(c.debateID, id)
		}
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && c.ctx.Err() == nil {
				c.logger.WarnContext(c.ctx, "session socket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.h.cfg.PongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", ErrCodeValidation, "message is not valid JSON", 0)
			continue
		}
		c.handle(msg)
	}
}

func (c *socketConn) writeLoop() {
	defer c.ws.Close()

	ticker := time.NewTicker(c.h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.writeClose(websocket.CloseNormalClosure, "")
			return
		case msg := <-c.out:
			if cf, ok := msg.(closeFrame); ok {
				c.writeClose(cf.code, cf.reason)
				c.cancel()
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.DebugContext(c.ctx, "session socket write failed", slog.String("error", err.Error()))
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.h.cfg.WriteTimeout)); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *socketConn) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.h.cfg.WriteTimeout))
}

// send queues msg for the writer unless the socket is closing.
func (c *socketConn) send(msg any) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *socketConn) sendError(ref, kind, msg string, retryAfter int) {
	c.send(ErrorMessage{
		Type:       MsgError,
		Ref:        ref,
		Kind:       kind,
		Message:    msg,
		Retryable:  Retryable(kind),
		RetryAfter: retryAfter,
	})
}

func (c *socketConn) fail(ref string, err error) {
	kind := ErrorKind(err)
	if kind == ErrCodeInternal || kind == ErrCodeProviderUnavailable {
		c.logger.WarnContext(c.ctx, "session message failed", slog.String("error", err.Error()))
	}
	retryAfter := 0
	var rl *coordinator.RateLimitError
	if errors.As(err, &rl) {
		retryAfter = rl.RetryAfter
	}
	c.sendError(ref, kind, message(kind, err), retryAfter)
}

func (c *socketConn) connectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// pump forwards the subscription's events to the writer. When the session
// ends the subscription (kick, eviction, end or cancel) the socket is closed
// once every queued event has been delivered.
func (c *socketConn) pump(ctx context.Context, sub *broadcast.Subscription) {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			if c.connID == sub.ConnectionID() {
				c.connID = ""
				c.stopPump = nil
			}
			c.mu.Unlock()
			c.send(closeFrame{code: websocket.CloseNormalClosure, reason: "session ended"})
			return
		}
		select {
		case c.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// leave releases the socket's session connection, if any.
func (c *socketConn) leave(ctx context.Context) {
	c.mu.Lock()
	connID, stop := c.connID, c.stopPump
	c.connID, c.stopPump = "", nil
	c.mu.Unlock()

	if connID == "" {
		return
	}
	stop()
	if err := c.h.manager.Leave(ctx, c.debateID, connID); err != nil {
		c.logger.DebugContext(ctx, "leave found no connection", slog.String("error", err.Error()))
	}
}

var errNotJoined = fmt.Errorf("%w: join the session first", coordinator.ErrValidation)

func (c *socketConn) handle(msg ClientMessage) {
	ctx := c.ctx

	if msg.Type == MsgJoin {
		c.join(ctx, msg)
		return
	}

	connID := c.connectionID()
	if connID == "" {
		c.fail(msg.Ref, errNotJoined)
		return
	}

	switch msg.Type {
	case MsgLeave:
		c.leave(ctx)
		c.send(Ack{Type: MsgAck, Ref: msg.Ref, Action: MsgLeave})

	case MsgHeartbeat:
		if err := c.h.manager.Heartbeat(c.debateID, connID); err != nil {
			c.fail(msg.Ref, err)
		}

	case MsgChat:
		if err := c.h.manager.Chat(ctx, c.debateID, connID, msg.Text); err != nil {
			c.fail(msg.Ref, err)
		}

	case MsgReaction:
		if err := c.h.manager.React(ctx, c.debateID, connID, msg.Kind); err != nil {
			c.fail(msg.Ref, err)
		}

	case MsgVote:
		res, err := c.h.manager.Vote(ctx, c.debateID, connID, msg.Position)
		if err != nil {
			c.fail(msg.Ref, err)
			return
		}
		tally := res.Tally
		c.send(Ack{Type: MsgAck, Ref: msg.Ref, Action: MsgVote, Duplicate: res.Duplicate, Tally: &tally})

	case MsgModeratorAction:
		c.moderate(ctx, connID, msg)

	case MsgMedia:
		_, err := c.h.manager.UpdateMedia(ctx, c.debateID, connID, coordinator.MediaUpdate{
			MicMuted: msg.MicMuted,
			VideoOff: msg.VideoOff,
		})
		if err != nil {
			c.fail(msg.Ref, err)
		}

	case MsgEnlist:
		if err := c.h.manager.Enlist(ctx, c.debateID, connID, msg.Position); err != nil {
			c.fail(msg.Ref, err)
			return
		}
		c.send(Ack{Type: MsgAck, Ref: msg.Ref, Action: MsgEnlist})

	case MsgWithdraw:
		if err := c.h.manager.Withdraw(ctx, c.debateID, connID); err != nil {
			c.fail(msg.Ref, err)
			return
		}
		c.send(Ack{Type: MsgAck, Ref: msg.Ref, Action: MsgWithdraw})

	default:
		c.sendError(msg.Ref, ErrCodeValidation, fmt.Sprintf("unknown message type %q", msg.Type), 0)
	}
}

func (c *socketConn) join(ctx context.Context, msg ClientMessage) {
	if msg.DebateID != "" && msg.DebateID != c.debateID {
		c.sendError(msg.Ref, ErrCodeValidation, "debateId does not match the socket's debate", 0)
		return
	}

	// Messages are handled one at a time on the reader goroutine, so mu only
	// guards the handoff to the pump and never spans the manager call.
	res, err := c.h.manager.Join(ctx, c.debateID, c.identity)
	if err != nil {
		c.fail(msg.Ref, err)
		return
	}

	pumpCtx, stop := context.WithCancel(c.ctx)
	c.mu.Lock()
	prev := c.stopPump
	c.connID = res.Connection.ConnectionID
	c.stopPump = stop
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	ack := JoinAck{
		Type:         MsgJoinAck,
		Ref:          msg.Ref,
		ConnectionID: res.Connection.ConnectionID,
		Role:         res.Connection.Role,
		Position:     res.Connection.Position,
		Status:       res.Status,
		Features:     res.Features,
		Session:      res.Snapshot,
		Room:         res.Room,
		RoomToken:    res.RoomToken,
	}
	if res.RoomErr != nil {
		ack.RoomError = message(ErrorKind(res.RoomErr), res.RoomErr)
	}
	// The ack is queued before the pump starts so it precedes every event.
	c.send(ack)
	go c.pump(pumpCtx, res.Subscription)
}

func (c *socketConn) moderate(ctx context.Context, connID string, msg ClientMessage) {
	ack := Ack{Type: MsgAck, Ref: msg.Ref, Action: msg.Action}
	var err error

	switch msg.Action {
	case ModStart:
		var res *coordinator.StartResult
		if res, err = c.h.manager.Start(ctx, c.debateID, connID); err == nil && res.RoomErr != nil {
			ack.RoomError = message(ErrorKind(res.RoomErr), res.RoomErr)
		}
	case ModEnd:
		// The session closes right after; the final endDebate event carries
		// the same outcome if this ack is lost.
		var res *coordinator.EndResult
		if res, err = c.h.manager.End(ctx, c.debateID, connID); err == nil {
			tally := res.Tally
			ack.Tally, ack.Winner = &tally, res.Winner
		}
	case ModCancel:
		err = c.h.manager.Cancel(ctx, c.debateID, connID)
	case ModMute:
		err = c.h.manager.Mute(ctx, c.debateID, connID, strings.TrimSpace(msg.TargetIdentity))
	case ModKick:
		err = c.h.manager.Kick(ctx, c.debateID, connID, strings.TrimSpace(msg.TargetIdentity))
	case ModToggleSpeaking:
		var speaking bool
		if speaking, err = c.h.manager.ToggleSpeaking(ctx, c.debateID, connID, strings.TrimSpace(msg.TargetIdentity)); err == nil {
			ack.Speaking = &speaking
		}
	default:
		c.sendError(msg.Ref, ErrCodeValidation, fmt.Sprintf("unknown moderator action %q", msg.Action), 0)
		return
	}

	if err != nil {
		c.fail(msg.Ref, err)
		return
	}
	c.send(ack)
}
