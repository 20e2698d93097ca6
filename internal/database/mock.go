package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserById(ctx context.Context, userId int64) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) ListUsersByIds(ctx context.Context, userIds []int64) ([]User, error) {
	args := m.Called(userIds)
	return args.Get(0).([]User), args.Error(1)
}

func (m *MockRepository) CreateChatRoom(ctx context.Context, params CreateChatRoomParams) (ChatRoom, error) {
	args := m.Called(params)
	return args.Get(0).(ChatRoom), args.Error(1)
}
func (m *MockRepository) GetChatRoom(ctx context.Context, roomId int64) (ChatRoom, error) {
	args := m.Called(roomId)
	return args.Get(0).(ChatRoom), args.Error(1)
}

func (m *MockRepository) GetActiveMembership(ctx context.Context, userId, roomId int64) (Membership, error) {
	args := m.Called(userId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) CreateMembership(ctx context.Context, params CreateMembershipParams) (Membership, error) {
	args := m.Called(params)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) CreateMemberships(ctx context.Context, room ChatRoom, users []User) (int, error) {
	args := m.Called(room, users)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) MarkRejoined(ctx context.Context, membershipId int64) error {
	args := m.Called(membershipId)
	return args.Error(0)
}
func (m *MockRepository) UpdateReadIndex(ctx context.Context, membershipId, readIndex int64) error {
	args := m.Called(membershipId, readIndex)
	return args.Error(0)
}
func (m *MockRepository) SoftDeleteMembership(ctx context.Context, membershipId int64) error {
	args := m.Called(membershipId)
	return args.Error(0)
}
func (m *MockRepository) ListActiveMembershipsByUser(ctx context.Context, userId int64) ([]Membership, error) {
	args := m.Called(userId)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockRepository) ListActiveMembershipsByRoom(ctx context.Context, roomId int64) ([]Membership, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Membership), args.Error(1)
}

func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetLastMessage(ctx context.Context, roomId int64) (Message, error) {
	args := m.Called(roomId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessagesAfter(ctx context.Context, roomId, afterId int64, limit int) ([]Message, error) {
	args := m.Called(roomId, afterId, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockRepository) CreateMatePost(ctx context.Context, params CreateMatePostParams) (MatePost, error) {
	args := m.Called(params)
	return args.Get(0).(MatePost), args.Error(1)
}
func (m *MockRepository) GetMatePost(ctx context.Context, postId int64) (MatePost, error) {
	args := m.Called(postId)
	return args.Get(0).(MatePost), args.Error(1)
}
func (m *MockRepository) UpdateMatePost(ctx context.Context, post MatePost) error {
	args := m.Called(post)
	return args.Error(0)
}
func (m *MockRepository) UpdateRecruitmentStatus(ctx context.Context, postId int64, from, to RecruitmentStatus) error {
	args := m.Called(postId, from, to)
	return args.Error(0)
}
func (m *MockRepository) SoftDeleteMatePost(ctx context.Context, postId int64) error {
	args := m.Called(postId)
	return args.Error(0)
}
func (m *MockRepository) ListMatePostsBefore(ctx context.Context, before time.Time, limit int) ([]MatePost, error) {
	args := m.Called(before, limit)
	return args.Get(0).([]MatePost), args.Error(1)
}

func (m *MockRepository) AddParticipant(ctx context.Context, postId, userId int64, position Position) (Participant, error) {
	args := m.Called(postId, userId, position)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockRepository) GetParticipant(ctx context.Context, participantId int64) (Participant, error) {
	args := m.Called(participantId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockRepository) RemoveParticipant(ctx context.Context, participant Participant) error {
	args := m.Called(participant)
	return args.Error(0)
}
func (m *MockRepository) ListParticipants(ctx context.Context, postId int64) ([]Participant, error) {
	args := m.Called(postId)
	return args.Get(0).([]Participant), args.Error(1)
}
