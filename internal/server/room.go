package server

import (
	"sync"

	"github.com/rs/zerolog"
)

// Room tracks the clients on this instance that receive a room's events.
// Membership itself lives in the database; a Room only exists while at
// least one local client is subscribed.
type Room struct {
	id         int64
	clients    map[*Client]struct{}
	clientLock sync.RWMutex
	log        zerolog.Logger
}

func newRoom(id int64, logger zerolog.Logger) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]struct{}),
		log:     logger.With().Int64("room_id", id).Logger(),
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()
	r.clients[c] = struct{}{}
}

// removeClient drops c and reports whether the room has no clients left.
func (r *Room) removeClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()
	delete(r.clients, c)
	return len(r.clients) == 0
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	_, ok := r.clients[c]
	return ok
}

func (r *Room) clientsOf(userId int64) []*Client {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	var clients []*Client
	for c := range r.clients {
		if c.user.Id == userId {
			clients = append(clients, c)
		}
	}
	return clients
}

// broadcast queues msg to every local client except msg.SkipClient and
// returns the number of clients it reached.
func (r *Room) broadcast(msg *ServerMessage) int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	n := 0
	for c := range r.clients {
		if c == msg.SkipClient {
			continue
		}
		if c.queueMessage(msg) {
			n++
		} else {
			r.log.Warn().Str("client_id", c.id).Msg("dropping event for slow client")
		}
	}
	return n
}
