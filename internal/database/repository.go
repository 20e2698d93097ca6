package database

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoCapacity is returned when a conditional slot update matches no
	// row: the position is full, or a new max would fall below occupancy.
	ErrNoCapacity = errors.New("slot capacity exceeded")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate row")
)

type UserStore interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	UpdateUser(ctx context.Context, params UpdateUserParams) (User, error)
	GetUserById(ctx context.Context, userId int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsersByIds(ctx context.Context, userIds []int64) ([]User, error)
}

type ChatRoomStore interface {
	CreateChatRoom(ctx context.Context, params CreateChatRoomParams) (ChatRoom, error)
	GetChatRoom(ctx context.Context, roomId int64) (ChatRoom, error)
}

type MembershipStore interface {
	GetActiveMembership(ctx context.Context, userId, roomId int64) (Membership, error)
	CreateMembership(ctx context.Context, params CreateMembershipParams) (Membership, error)
	CreateMemberships(ctx context.Context, room ChatRoom, users []User) (int, error)
	MarkRejoined(ctx context.Context, membershipId int64) error
	UpdateReadIndex(ctx context.Context, membershipId, readIndex int64) error
	SoftDeleteMembership(ctx context.Context, membershipId int64) error
	ListActiveMembershipsByUser(ctx context.Context, userId int64) ([]Membership, error)
	ListActiveMembershipsByRoom(ctx context.Context, roomId int64) ([]Membership, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetLastMessage(ctx context.Context, roomId int64) (Message, error)
	ListMessagesAfter(ctx context.Context, roomId, afterId int64, limit int) ([]Message, error)
}

type MatePostStore interface {
	CreateMatePost(ctx context.Context, params CreateMatePostParams) (MatePost, error)
	GetMatePost(ctx context.Context, postId int64) (MatePost, error)
	UpdateMatePost(ctx context.Context, post MatePost) error
	UpdateRecruitmentStatus(ctx context.Context, postId int64, from, to RecruitmentStatus) error
	SoftDeleteMatePost(ctx context.Context, postId int64) error
	ListMatePostsBefore(ctx context.Context, before time.Time, limit int) ([]MatePost, error)
}

type ParticipantStore interface {
	AddParticipant(ctx context.Context, postId, userId int64, position Position) (Participant, error)
	GetParticipant(ctx context.Context, participantId int64) (Participant, error)
	RemoveParticipant(ctx context.Context, participant Participant) error
	ListParticipants(ctx context.Context, postId int64) ([]Participant, error)
}

// ChatRepository is the subset of the store used by the chat service.
type ChatRepository interface {
	UserStore
	ChatRoomStore
	MembershipStore
	MessageStore
}

// MateRepository is the subset of the store used by the mate service.
type MateRepository interface {
	UserStore
	MatePostStore
	ParticipantStore
}

type Repository interface {
	Ping(ctx context.Context) error
	ChatRepository
	MatePostStore
	ParticipantStore
}
