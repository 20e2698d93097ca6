package server

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/stats"
	"github.com/slamtalk/slamtalk/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	stats      stats.StatsProvider
	user       types.User
	send       chan *ServerMessage
	rooms      map[int64]struct{}
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, logger zerolog.Logger, su stats.StatsProvider) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        logger.With().Str("client_id", id).Int64("user_id", user.Id).Logger(),
		stats:      su,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[int64]struct{}),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()
		c.handle(&msg)
	}
}

func (c *Client) handle(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case msg.Join != nil:
		c.handleJoin(ctx, msg)
	case msg.Leave != nil:
		c.handleLeave(ctx, msg)
	case msg.Publish != nil:
		c.handlePublish(ctx, msg)
	case msg.Read != nil:
		c.handleRead(ctx, msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) handleJoin(ctx context.Context, msg *ClientMessage) {
	roomId, ok := parseRoomId(msg.Join.RoomId)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	res, err := c.chatServer.chat.Join(ctx, msg.GetUserId(), roomId)
	if err != nil {
		c.log.Debug().Err(err).Int64("room_id", roomId).Msg("join failed")
		c.queueMessage(ErrFromError(msg.Id, err))
		return
	}

	if err := c.chatServer.subscribe(ctx, c, roomId); err != nil {
		c.log.Error().Err(err).Int64("room_id", roomId).Msg("failed to subscribe after join")
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"room_id": roomId,
		"result":  res.String(),
	}))
}

func (c *Client) handlePublish(ctx context.Context, msg *ClientMessage) {
	if strings.TrimSpace(msg.Publish.Content) == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if roomId, ok := parseRoomId(msg.Publish.RoomId); ok && !c.inRoom(roomId) {
		// joined over HTTP, possibly through another instance
		member, err := c.chatServer.chat.IsMember(ctx, msg.GetUserId(), roomId)
		if err != nil {
			c.queueMessage(ErrFromError(msg.Id, err))
			return
		}
		if !member {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}
		if err := c.chatServer.subscribe(ctx, c, roomId); err != nil {
			c.log.Warn().Err(err).Int64("room_id", roomId).Msg("failed to subscribe before publish")
		}
	}

	saved, err := c.chatServer.chat.SendMessage(ctx, chat.SendMessageRequest{
		RoomId:         msg.Publish.RoomId,
		SenderId:       msg.GetUserId(),
		SenderNickname: c.user.Nickname,
		Content:        msg.Publish.Content,
		Timestamp:      msg.Timestamp,
	})
	if err != nil {
		c.queueMessage(ErrFromError(msg.Id, err))
		return
	}

	c.stats.Incr(MetricMessagesSent)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message": types.MessageFrom(saved)}))
}

func (c *Client) handleRead(ctx context.Context, msg *ClientMessage) {
	roomId, ok := parseRoomId(msg.Read.RoomId)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if err := c.chatServer.chat.UpdateReadIndex(ctx, msg.GetUserId(), roomId, msg.Read.ReadIndex); err != nil {
		c.queueMessage(ErrFromError(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleLeave(ctx context.Context, msg *ClientMessage) {
	roomId, ok := parseRoomId(msg.Leave.RoomId)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if msg.Leave.Unsubscribe {
		if err := c.chatServer.chat.Exit(ctx, msg.GetUserId(), roomId); err != nil {
			c.queueMessage(ErrFromError(msg.Id, err))
			return
		}
	}

	c.chatServer.unsubscribe(c, roomId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func parseRoomId(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil && id > 0
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.DeRegisterClient(c)
	c.stopClient()
}

func (c *Client) addRoom(roomId int64) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	c.rooms[roomId] = struct{}{}
}

func (c *Client) delRoom(roomId int64) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	delete(c.rooms, roomId)
}

func (c *Client) inRoom(roomId int64) bool {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()
	_, ok := c.rooms[roomId]
	return ok
}

func (c *Client) roomIds() []int64 {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
