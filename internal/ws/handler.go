package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"bingo-service/internal/feed"
	"bingo-service/internal/middleware"
	"bingo-service/internal/service/session"
	pkgAuth "bingo-service/pkg/auth"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"
	"bingo-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingEvery    = 25 * time.Second
)

type Handler struct {
	sessionSvc *session.Service
	hub        *feed.Hub
}

func NewHandler(sessionSvc *session.Service, hub *feed.Hub) *Handler {
	return &Handler{sessionSvc: sessionSvc, hub: hub}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// OutgoingMessage is what every frame sent to a client looks like.
type OutgoingMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type incomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleGameWS streams a game's room, participant and number topics to the
// caller and accepts mark and claim commands.
func (h *Handler) HandleGameWS(c *gin.Context) {
	gameID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || gameID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid game id")
		return
	}

	token, err := middleware.BearerOrQueryToken(c)
	if err != nil {
		response.Fail(c, appErr.ErrUnauthorized)
		return
	}
	claims, err := pkgAuth.ParseToken(token)
	if err != nil {
		response.Fail(c, appErr.ErrUnauthorized)
		return
	}
	userID := claims.SubjectID

	state, err := h.sessionSvc.GameState(c.Request.Context(), gameID, userID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New WebSocket connection",
		zap.Int64("gameID", gameID),
		zap.Int64("userID", userID),
	)

	sub := h.hub.Subscribe(
		feed.RoomTopic(state.Game.RoomID),
		feed.ParticipantsTopic(gameID),
		feed.NumbersTopic(gameID),
	)
	cl := newClient(conn, h.sessionSvc, sub, userID, gameID)
	cl.replies <- OutgoingMessage{Type: "state", Data: state}
	cl.run()
}

type client struct {
	conn       *websocket.Conn
	sessionSvc *session.Service
	sub        *feed.Subscription
	userID     int64
	gameID     int64
	replies    chan OutgoingMessage
	done       chan struct{}
	stopped    chan struct{}
}

func newClient(conn *websocket.Conn, sessionSvc *session.Service, sub *feed.Subscription, userID, gameID int64) *client {
	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	return &client{
		conn:       conn,
		sessionSvc: sessionSvc,
		sub:        sub,
		userID:     userID,
		gameID:     gameID,
		replies:    make(chan OutgoingMessage, 8),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("userID", c.userID), zap.Int64("gameID", c.gameID))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming incomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.reply(errorMessage("invalid payload", nil))
			continue
		}
		if incoming.Type == "" {
			continue
		}
		c.reply(c.handle(incoming))
	}
}

func (c *client) handle(msg incomingMessage) OutgoingMessage {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch msg.Type {
	case "ping":
		return OutgoingMessage{Type: "pong", Data: gin.H{"at": time.Now().UTC()}}
	case "mark":
		var body struct {
			Number int `json:"number"`
		}
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			return errorMessage("invalid mark payload", nil)
		}
		marked, err := c.sessionSvc.MarkNumber(ctx, c.gameID, c.userID, body.Number)
		if err != nil {
			return errorMessage(err.Error(), err)
		}
		return OutgoingMessage{Type: "marked", Data: marked}
	case "claim":
		result, err := c.sessionSvc.ClaimWin(ctx, c.gameID, c.userID)
		if err != nil {
			return errorMessage(err.Error(), err)
		}
		return OutgoingMessage{Type: "claimed", Data: result}
	default:
		return errorMessage("unknown action "+msg.Type, nil)
	}
}

func errorMessage(msg string, err error) OutgoingMessage {
	data := gin.H{"message": msg}
	if err != nil {
		data["kind"] = appErr.KindOf(err)
	}
	return OutgoingMessage{Type: "error", Data: data}
}

func (c *client) reply(msg OutgoingMessage) {
	select {
	case c.replies <- msg:
	case <-c.stopped:
	}
}

// writePump is the connection's only writer.
func (c *client) writePump() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		close(c.stopped)
		c.conn.Close()
	}()

	for {
		var msg OutgoingMessage
		select {
		case ev, ok := <-c.sub.C():
			if !ok {
				return
			}
			msg = OutgoingMessage{Type: string(ev.Type), Data: ev}
		case msg = <-c.replies:
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
			continue
		case <-c.done:
			return
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID), zap.Int64("gameID", c.gameID))
			return
		}
	}
}
