// Package chat implements room creation, membership and message history on
// top of the database and publishes room events to the broker.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/broker"
	"github.com/slamtalk/slamtalk/internal/database"
)

const (
	DefaultMessageLimit = 100
	MaxMessageLimit     = 500
)

type Publisher interface {
	Publish(ctx context.Context, roomId int64, ev broker.Event) error
}

type ProfileSource interface {
	ImageUrl(ctx context.Context, userId int64) (string, error)
}

type JoinResult int

const (
	FirstJoin JoinResult = iota
	Rejoined
)

func (r JoinResult) String() string {
	if r == Rejoined {
		return "rejoin"
	}
	return "first join"
}

type SendMessageRequest struct {
	RoomId         string
	SenderId       int64
	SenderNickname string
	Content        string
	Timestamp      time.Time
}

type RoomSummary struct {
	RoomId      int64             `json:"room_id"`
	RoomType    database.RoomType `json:"room_type"`
	Name        string            `json:"name"`
	LastMessage string            `json:"last_message"`
	ImageUrl    string            `json:"image_url,omitempty"`
	ReadIndex   int64             `json:"read_index"`
}

type MessageView struct {
	Id             int64  `json:"id"`
	RoomId         int64  `json:"room_id"`
	SenderId       int64  `json:"sender_id"`
	SenderNickname string `json:"sender_nickname"`
	Content        string `json:"content"`
	CreationTime   string `json:"creation_time"`
	ImageUrl       string `json:"image_url"`
}

type Service struct {
	log      zerolog.Logger
	db       database.ChatRepository
	profiles ProfileSource
	pub      Publisher
}

func NewService(db database.ChatRepository, profiles ProfileSource, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{
		log:      logger.With().Str("component", "chat").Logger(),
		db:       db,
		profiles: profiles,
		pub:      pub,
	}
}

// CreateRoom inserts a new room of the named type and returns its id.
// DIRECT rooms never carry a name and TOGETHER rooms are always named
// TOGETHER; the other types require one.
func (s *Service) CreateRoom(ctx context.Context, roomType, name string) (int64, error) {
	rt, err := database.ParseRoomType(roomType)
	if err != nil {
		return 0, apperr.Wrap(apperr.InvalidArgument, err)
	}

	name = strings.TrimSpace(name)
	switch rt {
	case database.RoomDirect:
		name = ""
	case database.RoomTogether:
		name = database.TogetherRoomName
	default:
		if name == "" {
			return 0, apperr.Newf(apperr.RoomNameRequired, "%s rooms need a name", rt)
		}
	}

	room, err := s.db.CreateChatRoom(ctx, database.CreateChatRoomParams{RoomType: rt, Name: name})
	if err != nil {
		return 0, fmt.Errorf("create chat room: %w", err)
	}

	s.log.Info().Int64("room_id", room.Id).Str("room_type", string(rt)).Msg("room created")
	return room.Id, nil
}

// Join adds userId to roomId. An existing active membership is kept and
// only loses its first-join flag.
func (s *Service) Join(ctx context.Context, userId, roomId int64) (JoinResult, error) {
	room, err := s.db.GetChatRoom(ctx, roomId)
	if err != nil {
		return 0, notFound(err, apperr.RoomNotFound, "get chat room")
	}

	user, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		return 0, notFound(err, apperr.UserNotFound, "get user")
	}

	m, err := s.db.GetActiveMembership(ctx, userId, roomId)
	switch {
	case err == nil:
		return s.rejoin(ctx, m)
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("get membership: %w", err)
	}

	_, err = s.db.CreateMembership(ctx, database.CreateMembershipParams{
		UserId:   user.Id,
		RoomId:   room.Id,
		RoomType: room.RoomType,
		ImageUrl: user.ImageUrl,
	})
	if errors.Is(err, database.ErrDuplicate) {
		// lost a race with a concurrent join
		m, err := s.db.GetActiveMembership(ctx, userId, roomId)
		if err != nil {
			return 0, fmt.Errorf("get membership: %w", err)
		}
		return s.rejoin(ctx, m)
	}
	if err != nil {
		return 0, fmt.Errorf("create membership: %w", err)
	}

	s.publish(ctx, roomId, broker.Event{Type: broker.EventMemberJoined, UserId: userId})
	return FirstJoin, nil
}

func (s *Service) rejoin(ctx context.Context, m database.Membership) (JoinResult, error) {
	if err := s.db.MarkRejoined(ctx, m.Id); err != nil {
		return 0, fmt.Errorf("mark rejoined: %w", err)
	}
	return Rejoined, nil
}

// JoinAll adds every existing user in userIds to roomId, skipping users that
// are already members. A missing room is logged and ignored.
func (s *Service) JoinAll(ctx context.Context, roomId int64, userIds []int64) error {
	room, err := s.db.GetChatRoom(ctx, roomId)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Warn().Int64("room_id", roomId).Msg("team assembly skipped: room not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get chat room: %w", err)
	}

	users, err := s.db.ListUsersByIds(ctx, userIds)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	n, err := s.db.CreateMemberships(ctx, room, users)
	if err != nil {
		return fmt.Errorf("create memberships: %w", err)
	}

	s.log.Info().Int64("room_id", roomId).Int("requested", len(userIds)).Int("joined", n).Msg("team assembled")
	return nil
}

// SendMessage stores a message in the room named by req.RoomId and publishes
// it to the room's subscribers.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) (database.Message, error) {
	roomId, err := strconv.ParseInt(strings.TrimSpace(req.RoomId), 10, 64)
	if err != nil {
		return database.Message{}, apperr.Newf(apperr.RoomNotFound, "invalid room id %q", req.RoomId)
	}

	if _, err := s.db.GetChatRoom(ctx, roomId); err != nil {
		return database.Message{}, notFound(err, apperr.RoomNotFound, "get chat room")
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:         roomId,
		SenderId:       req.SenderId,
		SenderNickname: req.SenderNickname,
		Content:        req.Content,
		CreationTime:   ts.Format(database.MessageTimeLayout),
	})
	if err != nil {
		return database.Message{}, fmt.Errorf("create message: %w", err)
	}

	s.publish(ctx, roomId, broker.Event{
		Type:   broker.EventMessage,
		UserId: msg.SenderId,
		Message: &broker.MessagePayload{
			MessageId:      msg.Id,
			SenderId:       msg.SenderId,
			SenderNickname: msg.SenderNickname,
			Content:        msg.Content,
			Timestamp:      msg.CreationTime,
		},
	})

	return msg, nil
}

// UpdateReadIndex moves the user's read cursor in roomId. The index is not
// validated and may move backwards.
func (s *Service) UpdateReadIndex(ctx context.Context, userId, roomId, index int64) error {
	m, err := s.activeMembership(ctx, userId, roomId)
	if err != nil {
		return err
	}

	if err := s.db.UpdateReadIndex(ctx, m.Id, index); err != nil {
		return notFound(err, apperr.MembershipNotFound, "update read index")
	}
	return nil
}

// Exit soft-deletes the user's membership in roomId.
func (s *Service) Exit(ctx context.Context, userId, roomId int64) error {
	m, err := s.activeMembership(ctx, userId, roomId)
	if err != nil {
		return err
	}

	if err := s.db.SoftDeleteMembership(ctx, m.Id); err != nil {
		return notFound(err, apperr.MembershipNotFound, "delete membership")
	}

	s.publish(ctx, roomId, broker.Event{Type: broker.EventMemberExited, UserId: userId})
	return nil
}

// IsMember reports whether userId holds an active membership in roomId.
func (s *Service) IsMember(ctx context.Context, userId, roomId int64) (bool, error) {
	_, err := s.activeMembership(ctx, userId, roomId)
	if apperr.HasCode(err, apperr.MembershipNotFound) {
		return false, nil
	}
	return err == nil, err
}

// RoomIds returns the rooms userId is an active member of.
func (s *Service) RoomIds(ctx context.Context, userId int64) ([]int64, error) {
	memberships, err := s.db.ListActiveMembershipsByUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	ids := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.RoomId)
	}
	return ids, nil
}

// ListRooms summarizes every room userId is an active member of.
func (s *Service) ListRooms(ctx context.Context, userId int64) ([]RoomSummary, error) {
	memberships, err := s.db.ListActiveMembershipsByUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	rooms := make([]RoomSummary, 0, len(memberships))
	for _, m := range memberships {
		summary := RoomSummary{
			RoomId:    m.RoomId,
			RoomType:  m.RoomType,
			Name:      m.RoomName,
			ReadIndex: m.ReadIndex,
		}

		last, err := s.db.GetLastMessage(ctx, m.RoomId)
		switch {
		case err == nil:
			summary.LastMessage = last.Content
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("get last message of room %d: %w", m.RoomId, err)
		}

		if m.RoomType.ShowsPeerProfile() {
			peers, err := s.db.ListActiveMembershipsByRoom(ctx, m.RoomId)
			if err != nil {
				return nil, fmt.Errorf("list members of room %d: %w", m.RoomId, err)
			}
			for _, p := range peers {
				if p.UserId != userId {
					summary.ImageUrl = p.ImageUrl
					break
				}
			}
		}

		rooms = append(rooms, summary)
	}

	return rooms, nil
}

// Messages returns up to limit messages of roomId with ids above afterId, in
// increasing id order, each with its sender's current image url.
func (s *Service) Messages(ctx context.Context, roomId, afterId int64, limit int) ([]MessageView, error) {
	if _, err := s.db.GetChatRoom(ctx, roomId); err != nil {
		return nil, notFound(err, apperr.RoomNotFound, "get chat room")
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	limit = min(limit, MaxMessageLimit)

	msgs, err := s.db.ListMessagesAfter(ctx, roomId, afterId, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	images := make(map[int64]string)
	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		img, ok := images[msg.SenderId]
		if !ok {
			img, err = s.profiles.ImageUrl(ctx, msg.SenderId)
			if err != nil {
				return nil, fmt.Errorf("load profile of user %d: %w", msg.SenderId, err)
			}
			images[msg.SenderId] = img
		}

		views = append(views, MessageView{
			Id:             msg.Id,
			RoomId:         msg.RoomId,
			SenderId:       msg.SenderId,
			SenderNickname: msg.SenderNickname,
			Content:        msg.Content,
			CreationTime:   msg.CreationTime,
			ImageUrl:       img,
		})
	}

	return views, nil
}

func (s *Service) LastMessage(ctx context.Context, roomId int64) (database.Message, error) {
	msg, err := s.db.GetLastMessage(ctx, roomId)
	if err != nil {
		return database.Message{}, notFound(err, apperr.MessageNotFound, "get last message")
	}
	return msg, nil
}

func (s *Service) activeMembership(ctx context.Context, userId, roomId int64) (database.Membership, error) {
	m, err := s.db.GetActiveMembership(ctx, userId, roomId)
	if err != nil {
		return database.Membership{}, notFound(err, apperr.MembershipNotFound, "get membership")
	}
	return m, nil
}

func (s *Service) publish(ctx context.Context, roomId int64, ev broker.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, roomId, ev); err != nil {
		s.log.Error().Err(err).Int64("room_id", roomId).Str("event", string(ev.Type)).Msg("failed to publish room event")
	}
}

func notFound(err error, code apperr.Code, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(code)
	}
	return fmt.Errorf("%s: %w", op, err)
}
