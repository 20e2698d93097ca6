// Package broker fans room events out to every gateway instance through
// Redis publish/subscribe.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultPrefix = "slamtalk:room:"

type EventType string

const (
	EventMessage      EventType = "message"
	EventMemberJoined EventType = "member_joined"
	EventMemberExited EventType = "member_exited"
)

type MessagePayload struct {
	MessageId      int64  `json:"message_id"`
	SenderId       int64  `json:"sender_id"`
	SenderNickname string `json:"sender_nickname"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

type Event struct {
	Type    EventType       `json:"type"`
	RoomId  int64           `json:"room_id"`
	UserId  int64           `json:"user_id,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

type RedisBroker struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisBroker(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBroker {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &RedisBroker{
		client: client,
		prefix: prefix,
		log:    logger.With().Str("component", "broker").Logger(),
	}
}

func (b *RedisBroker) channel(roomId int64) string {
	return b.prefix + strconv.FormatInt(roomId, 10)
}

func (b *RedisBroker) roomId(channel string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(channel, b.prefix), 10, 64)
}

// Publish sends ev to every subscriber of roomId.
func (b *RedisBroker) Publish(ctx context.Context, roomId int64, ev Event) error {
	ev.RoomId = roomId
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel(roomId), payload).Err(); err != nil {
		return fmt.Errorf("publish to room %d: %w", roomId, err)
	}

	return nil
}

// Subscribe opens a subscription to the given rooms. More rooms can be
// added or removed later.
func (b *RedisBroker) Subscribe(ctx context.Context, roomIds ...int64) *Subscription {
	channels := make([]string, 0, len(roomIds))
	for _, id := range roomIds {
		channels = append(channels, b.channel(id))
	}

	return &Subscription{
		broker: b,
		ps:     b.client.Subscribe(ctx, channels...),
	}
}

type Subscription struct {
	broker *RedisBroker
	ps     *redis.PubSub
}

func (s *Subscription) Add(ctx context.Context, roomId int64) error {
	return s.ps.Subscribe(ctx, s.broker.channel(roomId))
}

func (s *Subscription) Remove(ctx context.Context, roomId int64) error {
	return s.ps.Unsubscribe(ctx, s.broker.channel(roomId))
}

// Events decodes incoming messages until ctx is done or the subscription
// is closed. Undecodable payloads are logged and dropped.
func (s *Subscription) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 64)
	in := s.ps.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.broker.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable event")
					continue
				}
				if ev.RoomId == 0 {
					if id, err := s.broker.roomId(msg.Channel); err == nil {
						ev.RoomId = id
					}
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}
