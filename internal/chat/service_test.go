package chat

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/broker"
	"github.com/slamtalk/slamtalk/internal/database"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, roomId int64, ev broker.Event) error {
	args := m.Called(roomId, ev)
	return args.Error(0)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) ImageUrl(ctx context.Context, userId int64) (string, error) {
	args := m.Called(userId)
	return args.String(0), args.Error(1)
}

func newTestService(t *testing.T) (*Service, *database.MockRepository, *mockProfiles, *mockPublisher) {
	t.Helper()

	db := &database.MockRepository{}
	profiles := &mockProfiles{}
	pub := &mockPublisher{}
	return NewService(db, profiles, pub, zerolog.New(zerolog.NewTestWriter(t))), db, profiles, pub
}

func TestService_CreateRoom(t *testing.T) {
	tcases := []struct {
		name         string
		roomType     string
		roomName     string
		expectedType database.RoomType
		expectedName string
		code         apperr.Code
	}{
		{name: "direct drops name", roomType: "DIRECT", roomName: "ignored", expectedType: database.RoomDirect, expectedName: ""},
		{name: "matching keeps name", roomType: "matching", roomName: "Tigers vs Turtles", expectedType: database.RoomMatching, expectedName: "Tigers vs Turtles"},
		{name: "together uses keyword", roomType: "TOGETHER", roomName: "my team", expectedType: database.RoomTogether, expectedName: "TOGETHER"},
		{name: "basketball requires name", roomType: "BASKETBALL", roomName: "  ", code: apperr.RoomNameRequired},
		{name: "unknown type", roomType: "GROUP", roomName: "x", code: apperr.InvalidArgument},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, db, _, _ := newTestService(t)
			if tc.code == "" {
				db.On("CreateChatRoom", database.CreateChatRoomParams{RoomType: tc.expectedType, Name: tc.expectedName}).
					Return(database.ChatRoom{Id: 5, RoomType: tc.expectedType, Name: tc.expectedName}, nil)
			}

			id, err := svc.CreateRoom(context.Background(), tc.roomType, tc.roomName)
			if tc.code != "" {
				assert.True(t, apperr.HasCode(err, tc.code), "expected %s, got %v", tc.code, err)
				db.AssertNotCalled(t, "CreateChatRoom", mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(5), id)
			db.AssertExpectations(t)
		})
	}
}

func TestService_Join(t *testing.T) {
	room := database.ChatRoom{Id: 3, RoomType: database.RoomMatching, Name: "Tigers vs Turtles"}
	user := database.User{Id: 1, Nickname: "tiger", ImageUrl: "img-1"}

	t.Run("first join", func(t *testing.T) {
		svc, db, _, pub := newTestService(t)
		db.On("GetChatRoom", room.Id).Return(room, nil)
		db.On("GetUserById", user.Id).Return(user, nil)
		db.On("GetActiveMembership", user.Id, room.Id).Return(database.Membership{}, sql.ErrNoRows)
		db.On("CreateMembership", database.CreateMembershipParams{
			UserId:   user.Id,
			RoomId:   room.Id,
			RoomType: room.RoomType,
			ImageUrl: user.ImageUrl,
		}).Return(database.Membership{Id: 10, IsFirst: true}, nil)
		pub.On("Publish", room.Id, broker.Event{Type: broker.EventMemberJoined, UserId: user.Id}).Return(nil)

		res, err := svc.Join(context.Background(), user.Id, room.Id)
		require.NoError(t, err)
		assert.Equal(t, FirstJoin, res)
		db.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("rejoin keeps read index", func(t *testing.T) {
		svc, db, _, pub := newTestService(t)
		db.On("GetChatRoom", room.Id).Return(room, nil)
		db.On("GetUserById", user.Id).Return(user, nil)
		db.On("GetActiveMembership", user.Id, room.Id).Return(database.Membership{Id: 10, ReadIndex: 4, State: database.StateActive}, nil)
		db.On("MarkRejoined", int64(10)).Return(nil)

		res, err := svc.Join(context.Background(), user.Id, room.Id)
		require.NoError(t, err)
		assert.Equal(t, Rejoined, res)
		db.AssertNotCalled(t, "CreateMembership", mock.Anything)
		db.AssertNotCalled(t, "UpdateReadIndex", mock.Anything, mock.Anything)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("concurrent first join becomes rejoin", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", room.Id).Return(room, nil)
		db.On("GetUserById", user.Id).Return(user, nil)
		db.On("GetActiveMembership", user.Id, room.Id).Return(database.Membership{}, sql.ErrNoRows).Once()
		db.On("CreateMembership", mock.Anything).Return(database.Membership{}, database.ErrDuplicate)
		db.On("GetActiveMembership", user.Id, room.Id).Return(database.Membership{Id: 11}, nil).Once()
		db.On("MarkRejoined", int64(11)).Return(nil)

		res, err := svc.Join(context.Background(), user.Id, room.Id)
		require.NoError(t, err)
		assert.Equal(t, Rejoined, res)
	})

	t.Run("room not found", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", int64(999)).Return(database.ChatRoom{}, sql.ErrNoRows)

		_, err := svc.Join(context.Background(), user.Id, 999)
		assert.ErrorIs(t, err, apperr.New(apperr.RoomNotFound))
	})

	t.Run("user not found", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", room.Id).Return(room, nil)
		db.On("GetUserById", int64(42)).Return(database.User{}, sql.ErrNoRows)

		_, err := svc.Join(context.Background(), 42, room.Id)
		assert.ErrorIs(t, err, apperr.New(apperr.UserNotFound))
	})
}

func TestService_JoinAll(t *testing.T) {
	t.Run("creates memberships for existing users", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		room := database.ChatRoom{Id: 8, RoomType: database.RoomTogether, Name: "TOGETHER"}
		users := []database.User{{Id: 1}, {Id: 2}}
		db.On("GetChatRoom", room.Id).Return(room, nil)
		db.On("ListUsersByIds", []int64{1, 2, 3}).Return(users, nil)
		db.On("CreateMemberships", room, users).Return(1, nil)

		require.NoError(t, svc.JoinAll(context.Background(), room.Id, []int64{1, 2, 3}))
		db.AssertExpectations(t)
	})

	t.Run("missing room is ignored", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", int64(999)).Return(database.ChatRoom{}, sql.ErrNoRows)

		assert.NoError(t, svc.JoinAll(context.Background(), 999, []int64{1}))
		db.AssertNotCalled(t, "CreateMemberships", mock.Anything, mock.Anything)
	})

	t.Run("store error propagates", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", int64(8)).Return(database.ChatRoom{}, errors.New("connection reset"))

		assert.ErrorContains(t, svc.JoinAll(context.Background(), 8, []int64{1}), "connection reset")
	})
}

func TestService_SendMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)

	t.Run("stores and publishes", func(t *testing.T) {
		svc, db, _, pub := newTestService(t)
		db.On("GetChatRoom", int64(3)).Return(database.ChatRoom{Id: 3}, nil)
		db.On("CreateMessage", database.CreateMessageParams{
			RoomId:         3,
			SenderId:       1,
			SenderNickname: "tiger",
			Content:        "hi",
			CreationTime:   "2026-03-01T18:30:00",
		}).Return(database.Message{Id: 1, RoomId: 3, SenderId: 1, SenderNickname: "tiger", Content: "hi", CreationTime: "2026-03-01T18:30:00"}, nil)
		pub.On("Publish", int64(3), mock.MatchedBy(func(ev broker.Event) bool {
			return ev.Type == broker.EventMessage && ev.Message != nil && ev.Message.MessageId == 1
		})).Return(nil)

		msg, err := svc.SendMessage(context.Background(), SendMessageRequest{
			RoomId:         "3",
			SenderId:       1,
			SenderNickname: "tiger",
			Content:        "hi",
			Timestamp:      ts,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), msg.Id)
		pub.AssertExpectations(t)
	})

	t.Run("publish failure does not fail the call", func(t *testing.T) {
		svc, db, _, pub := newTestService(t)
		db.On("GetChatRoom", int64(3)).Return(database.ChatRoom{Id: 3}, nil)
		db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 2, RoomId: 3}, nil)
		pub.On("Publish", int64(3), mock.Anything).Return(errors.New("redis down"))

		msg, err := svc.SendMessage(context.Background(), SendMessageRequest{RoomId: "3", Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), msg.Id)
	})

	t.Run("zero timestamp defaults to now", func(t *testing.T) {
		svc, db, _, pub := newTestService(t)
		db.On("GetChatRoom", int64(3)).Return(database.ChatRoom{Id: 3}, nil)
		db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			_, err := time.Parse(database.MessageTimeLayout, p.CreationTime)
			return err == nil
		})).Return(database.Message{Id: 3}, nil)
		pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.SendMessage(context.Background(), SendMessageRequest{RoomId: "3", Content: "hi"})
		require.NoError(t, err)
		db.AssertExpectations(t)
	})

	t.Run("unknown or malformed room persists nothing", func(t *testing.T) {
		for _, roomId := range []string{"999", "abc", ""} {
			svc, db, _, _ := newTestService(t)
			db.On("GetChatRoom", int64(999)).Return(database.ChatRoom{}, sql.ErrNoRows)

			_, err := svc.SendMessage(context.Background(), SendMessageRequest{RoomId: roomId, Content: "hi"})
			assert.True(t, apperr.HasCode(err, apperr.RoomNotFound), "room %q: expected room-not-found, got %v", roomId, err)
			db.AssertNotCalled(t, "CreateMessage", mock.Anything)
		}
	})
}

func TestService_UpdateReadIndex(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	db.On("GetActiveMembership", int64(1), int64(3)).Return(database.Membership{Id: 10, ReadIndex: 9}, nil)
	db.On("UpdateReadIndex", int64(10), int64(2)).Return(nil)
	db.On("GetActiveMembership", int64(2), int64(3)).Return(database.Membership{}, sql.ErrNoRows)

	assert.NoError(t, svc.UpdateReadIndex(context.Background(), 1, 3, 2), "expected the index to be allowed to move backwards")

	err := svc.UpdateReadIndex(context.Background(), 2, 3, 5)
	assert.True(t, apperr.HasCode(err, apperr.MembershipNotFound))
}

func TestService_Exit(t *testing.T) {
	t.Run("soft deletes and publishes", func(t *testing.T) {
		svc, db, _, pub := newTestService(t)
		db.On("GetActiveMembership", int64(1), int64(3)).Return(database.Membership{Id: 10}, nil)
		db.On("SoftDeleteMembership", int64(10)).Return(nil)
		pub.On("Publish", int64(3), broker.Event{Type: broker.EventMemberExited, UserId: 1}).Return(nil)

		require.NoError(t, svc.Exit(context.Background(), 1, 3))
		db.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("no membership", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetActiveMembership", int64(1), int64(3)).Return(database.Membership{}, sql.ErrNoRows)

		err := svc.Exit(context.Background(), 1, 3)
		assert.True(t, apperr.HasCode(err, apperr.MembershipNotFound))
		db.AssertNotCalled(t, "SoftDeleteMembership", mock.Anything)
	})
}

func TestService_IsMember(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	db.On("GetActiveMembership", int64(1), int64(3)).Return(database.Membership{Id: 10}, nil)
	db.On("GetActiveMembership", int64(2), int64(3)).Return(database.Membership{}, sql.ErrNoRows)

	ok, err := svc.IsMember(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsMember(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ListRooms(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	db.On("ListActiveMembershipsByUser", int64(1)).Return([]database.Membership{
		{Id: 10, UserId: 1, RoomId: 3, RoomType: database.RoomDirect, ReadIndex: 2},
		{Id: 11, UserId: 1, RoomId: 4, RoomType: database.RoomBasketball, RoomName: "court"},
	}, nil)
	db.On("GetLastMessage", int64(3)).Return(database.Message{Content: "see you"}, nil)
	db.On("GetLastMessage", int64(4)).Return(database.Message{}, sql.ErrNoRows)
	db.On("ListActiveMembershipsByRoom", int64(3)).Return([]database.Membership{
		{UserId: 1, ImageUrl: "mine"},
		{UserId: 2, ImageUrl: "peer"},
	}, nil)

	rooms, err := svc.ListRooms(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	assert.Equal(t, RoomSummary{RoomId: 3, RoomType: database.RoomDirect, LastMessage: "see you", ImageUrl: "peer", ReadIndex: 2}, rooms[0])
	assert.Equal(t, RoomSummary{RoomId: 4, RoomType: database.RoomBasketball, Name: "court"}, rooms[1])
	db.AssertNotCalled(t, "ListActiveMembershipsByRoom", int64(4))
}

func TestService_ListRooms_Empty(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	db.On("ListActiveMembershipsByUser", int64(1)).Return([]database.Membership{}, nil)

	rooms, err := svc.ListRooms(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, rooms)
	assert.Empty(t, rooms)
}

func TestService_Messages(t *testing.T) {
	t.Run("decorates with sender image", func(t *testing.T) {
		svc, db, profiles, _ := newTestService(t)
		db.On("GetChatRoom", int64(3)).Return(database.ChatRoom{Id: 3}, nil)
		db.On("ListMessagesAfter", int64(3), int64(1), DefaultMessageLimit).Return([]database.Message{
			{Id: 2, RoomId: 3, SenderId: 1, Content: "a"},
			{Id: 3, RoomId: 3, SenderId: 9, Content: "b"},
			{Id: 4, RoomId: 3, SenderId: 1, Content: "c"},
		}, nil)
		profiles.On("ImageUrl", int64(1)).Return("img-1", nil).Once()
		profiles.On("ImageUrl", int64(9)).Return("", nil).Once()

		msgs, err := svc.Messages(context.Background(), 3, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "img-1", msgs[0].ImageUrl)
		assert.Empty(t, msgs[1].ImageUrl, "expected missing sender to have no image")
		assert.Equal(t, "img-1", msgs[2].ImageUrl)
		profiles.AssertExpectations(t)
	})

	t.Run("limit is capped", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", int64(3)).Return(database.ChatRoom{Id: 3}, nil)
		db.On("ListMessagesAfter", int64(3), int64(0), MaxMessageLimit).Return([]database.Message{}, nil)

		_, err := svc.Messages(context.Background(), 3, 0, 10_000)
		require.NoError(t, err)
		db.AssertExpectations(t)
	})

	t.Run("room not found", func(t *testing.T) {
		svc, db, _, _ := newTestService(t)
		db.On("GetChatRoom", int64(999)).Return(database.ChatRoom{}, sql.ErrNoRows)

		_, err := svc.Messages(context.Background(), 999, 0, 10)
		assert.True(t, apperr.HasCode(err, apperr.RoomNotFound))
	})
}

func TestService_LastMessage(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	db.On("GetLastMessage", int64(3)).Return(database.Message{Id: 7, Content: "bye"}, nil)
	db.On("GetLastMessage", int64(4)).Return(database.Message{}, sql.ErrNoRows)

	msg, err := svc.LastMessage(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "bye", msg.Content)

	_, err = svc.LastMessage(context.Background(), 4)
	assert.True(t, apperr.HasCode(err, apperr.MessageNotFound))
}

// Walks through room creation, join, rejoin and message append the way a
// client would see them.
func TestService_MatchingRoomScenario(t *testing.T) {
	svc, db, _, pub := newTestService(t)
	ctx := context.Background()
	room := database.ChatRoom{Id: 1, RoomType: database.RoomMatching, Name: "Tigers vs Turtles"}
	user := database.User{Id: 1, Nickname: "tiger"}

	db.On("CreateChatRoom", database.CreateChatRoomParams{RoomType: database.RoomMatching, Name: "Tigers vs Turtles"}).Return(room, nil)
	db.On("GetChatRoom", room.Id).Return(room, nil)
	db.On("GetChatRoom", int64(999)).Return(database.ChatRoom{}, sql.ErrNoRows)
	db.On("GetUserById", user.Id).Return(user, nil)
	db.On("GetActiveMembership", user.Id, room.Id).Return(database.Membership{}, sql.ErrNoRows).Once()
	db.On("CreateMembership", mock.Anything).Return(database.Membership{Id: 1, IsFirst: true}, nil)
	db.On("GetActiveMembership", user.Id, room.Id).Return(database.Membership{Id: 1, IsFirst: true, ReadIndex: 0}, nil).Once()
	db.On("MarkRejoined", int64(1)).Return(nil)
	db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 1, RoomId: room.Id, SenderId: user.Id, Content: "hi"}, nil)
	pub.On("Publish", room.Id, mock.Anything).Return(nil)

	roomId, err := svc.CreateRoom(ctx, "MATCHING", "Tigers vs Turtles")
	require.NoError(t, err)

	res, err := svc.Join(ctx, user.Id, roomId)
	require.NoError(t, err)
	assert.Equal(t, FirstJoin, res)

	res, err = svc.Join(ctx, user.Id, roomId)
	require.NoError(t, err)
	assert.Equal(t, Rejoined, res)
	db.AssertNotCalled(t, "UpdateReadIndex", mock.Anything, mock.Anything)

	msg, err := svc.SendMessage(ctx, SendMessageRequest{RoomId: "1", SenderId: user.Id, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Id)

	_, err = svc.SendMessage(ctx, SendMessageRequest{RoomId: "999", SenderId: user.Id, Content: "hi"})
	assert.True(t, apperr.HasCode(err, apperr.RoomNotFound))
	db.AssertNumberOfCalls(t, "CreateMessage", 1)
}
