package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slamtalk/slamtalk/internal/broker"
	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/database"
	"github.com/slamtalk/slamtalk/internal/stats"
)

const (
	MetricActiveClients   = "NumActiveClients"
	MetricActiveRooms     = "NumActiveRooms"
	MetricMessagesSent    = "NumMessagesSent"
	MetricEventsDelivered = "NumEventsDelivered"

	requestTimeout = 5 * time.Second
)

// ChatService is the part of the chat service the gateway drives from
// client frames.
type ChatService interface {
	Join(ctx context.Context, userId, roomId int64) (chat.JoinResult, error)
	SendMessage(ctx context.Context, req chat.SendMessageRequest) (database.Message, error)
	UpdateReadIndex(ctx context.Context, userId, roomId, index int64) error
	Exit(ctx context.Context, userId, roomId int64) error
	IsMember(ctx context.Context, userId, roomId int64) (bool, error)
	RoomIds(ctx context.Context, userId int64) ([]int64, error)
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log         zerolog.Logger
	chat        ChatService
	sub         *broker.Subscription
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	userMap     map[int64]map[*Client]struct{}
	clientsLock sync.RWMutex
	rooms       map[int64]*Room
	roomsLock   sync.Mutex
	stop        chan stopReq
	done        chan struct{}
}

func NewChatServer(logger zerolog.Logger, chatSvc ChatService, b *broker.RedisBroker, su stats.StatsProvider) (*ChatServer, error) {
	for _, m := range []string{MetricActiveClients, MetricActiveRooms, MetricMessagesSent, MetricEventsDelivered} {
		su.RegisterMetric(m)
	}

	return &ChatServer{
		log:     logger.With().Str("component", "chat_server").Logger(),
		chat:    chatSvc,
		sub:     b.Subscribe(context.Background()),
		stats:   su,
		clients: make(map[*Client]struct{}),
		userMap: make(map[int64]map[*Client]struct{}),
		rooms:   make(map[int64]*Room),
		stop:    make(chan stopReq),
		done:    make(chan struct{}),
	}, nil
}

// Run delivers broker events to local clients until Shutdown is called.
func (cs *ChatServer) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := cs.sub.Events(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			cs.handleEvent(ev)
		case req := <-cs.stop:
			cs.log.Info().Msg("stopping clients")
			for _, c := range cs.getAllClients() {
				c.stopClient()
			}
			if err := cs.sub.Close(); err != nil {
				cs.log.Warn().Err(err).Msg("closing broker subscription")
			}
			close(cs.done)
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) handleEvent(ev broker.Event) {
	r, ok := cs.getRoom(ev.RoomId)
	if !ok {
		return
	}

	n := r.broadcast(EventMessage(ev))
	for i := 0; i < n; i++ {
		cs.stats.Incr(MetricEventsDelivered)
	}

	// exits made over HTTP also end live delivery on this instance
	if ev.Type == broker.EventMemberExited {
		for _, c := range r.clientsOf(ev.UserId) {
			cs.unsubscribe(c, ev.RoomId)
		}
	}
}

// RegisterClient adds c and subscribes it to every room its user belongs to.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.addClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	roomIds, err := cs.chat.RoomIds(ctx, c.user.Id)
	if err != nil {
		cs.log.Error().Err(err).Int64("user_id", c.user.Id).Msg("failed to load rooms for client")
		return
	}

	for _, id := range roomIds {
		if err := cs.subscribe(ctx, c, id); err != nil {
			cs.log.Error().Err(err).Int64("room_id", id).Msg("failed to subscribe client")
		}
	}
}

func (cs *ChatServer) DeRegisterClient(c *Client) {
	for _, id := range c.roomIds() {
		cs.unsubscribe(c, id)
	}
	cs.removeClient(c)
}

// AttachUser starts live delivery of roomId to every local client of userId.
// Joins made over HTTP call it so open connections pick up the new room.
func (cs *ChatServer) AttachUser(ctx context.Context, userId, roomId int64) error {
	for _, c := range cs.getClients(userId) {
		if err := cs.subscribe(ctx, c, roomId); err != nil {
			return err
		}
	}
	return nil
}

func (cs *ChatServer) subscribe(ctx context.Context, c *Client, roomId int64) error {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	r, ok := cs.rooms[roomId]
	if !ok {
		if err := cs.sub.Add(ctx, roomId); err != nil {
			return err
		}
		r = newRoom(roomId, cs.log)
		cs.rooms[roomId] = r
		cs.stats.Incr(MetricActiveRooms)
	}

	r.addClient(c)
	c.addRoom(roomId)
	return nil
}

func (cs *ChatServer) unsubscribe(c *Client, roomId int64) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	c.delRoom(roomId)
	r, ok := cs.rooms[roomId]
	if !ok || !r.removeClient(c) {
		return
	}

	delete(cs.rooms, roomId)
	cs.stats.Decr(MetricActiveRooms)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := cs.sub.Remove(ctx, roomId); err != nil {
		cs.log.Warn().Err(err).Int64("room_id", roomId).Msg("failed to unsubscribe from room")
	}
}

func (cs *ChatServer) getRoom(roomId int64) (*Room, bool) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	r, ok := cs.rooms[roomId]
	return r, ok
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}
	cs.stats.Incr(MetricActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	delete(cs.userMap[c.user.Id], c)
	if len(cs.userMap[c.user.Id]) == 0 {
		delete(cs.userMap, c.user.Id)
	}
	cs.stats.Decr(MetricActiveClients)
}

func (cs *ChatServer) getClients(userId int64) []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	var clients []*Client
	for c := range cs.userMap[userId] {
		clients = append(clients, c)
	}
	return clients
}

func (cs *ChatServer) getAllClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
