package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/config"
	"github.com/slamtalk/slamtalk/internal/database"
	"github.com/slamtalk/slamtalk/internal/mate"
	"github.com/slamtalk/slamtalk/internal/testutil"
	"github.com/slamtalk/slamtalk/internal/types"
)

type mockChatService struct {
	mock.Mock
}

func (m *mockChatService) CreateRoom(ctx context.Context, roomType, name string) (int64, error) {
	args := m.Called(roomType, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockChatService) Join(ctx context.Context, userId, roomId int64) (chat.JoinResult, error) {
	args := m.Called(userId, roomId)
	return args.Get(0).(chat.JoinResult), args.Error(1)
}

func (m *mockChatService) JoinAll(ctx context.Context, roomId int64, userIds []int64) error {
	args := m.Called(roomId, userIds)
	return args.Error(0)
}

func (m *mockChatService) SendMessage(ctx context.Context, req chat.SendMessageRequest) (database.Message, error) {
	args := m.Called(req)
	return args.Get(0).(database.Message), args.Error(1)
}

func (m *mockChatService) UpdateReadIndex(ctx context.Context, userId, roomId, index int64) error {
	args := m.Called(userId, roomId, index)
	return args.Error(0)
}

func (m *mockChatService) Exit(ctx context.Context, userId, roomId int64) error {
	args := m.Called(userId, roomId)
	return args.Error(0)
}

func (m *mockChatService) IsMember(ctx context.Context, userId, roomId int64) (bool, error) {
	args := m.Called(userId, roomId)
	return args.Bool(0), args.Error(1)
}

func (m *mockChatService) ListRooms(ctx context.Context, userId int64) ([]chat.RoomSummary, error) {
	args := m.Called(userId)
	return args.Get(0).([]chat.RoomSummary), args.Error(1)
}

func (m *mockChatService) Messages(ctx context.Context, roomId, afterId int64, limit int) ([]chat.MessageView, error) {
	args := m.Called(roomId, afterId, limit)
	return args.Get(0).([]chat.MessageView), args.Error(1)
}

type mockMateService struct {
	mock.Mock
}

func (m *mockMateService) Register(ctx context.Context, writerId int64, form mate.PostForm) (int64, error) {
	args := m.Called(writerId, form)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMateService) Get(ctx context.Context, postId int64) (mate.PostDetail, error) {
	args := m.Called(postId)
	return args.Get(0).(mate.PostDetail), args.Error(1)
}

func (m *mockMateService) Update(ctx context.Context, postId, userId int64, patch mate.PostPatch) error {
	args := m.Called(postId, userId, patch)
	return args.Error(0)
}

func (m *mockMateService) Delete(ctx context.Context, postId, userId int64) error {
	args := m.Called(postId, userId)
	return args.Error(0)
}

func (m *mockMateService) List(ctx context.Context, cursor string, limit int) (mate.Page, error) {
	args := m.Called(cursor, limit)
	return args.Get(0).(mate.Page), args.Error(1)
}

func (m *mockMateService) Apply(ctx context.Context, postId, userId int64, position database.Position) (mate.ParticipantView, error) {
	args := m.Called(postId, userId, position)
	return args.Get(0).(mate.ParticipantView), args.Error(1)
}

func (m *mockMateService) Withdraw(ctx context.Context, postId, participantId, userId int64) error {
	args := m.Called(postId, participantId, userId)
	return args.Error(0)
}

func (m *mockMateService) Participants(ctx context.Context, postId int64) ([]mate.ParticipantView, error) {
	args := m.Called(postId)
	return args.Get(0).([]mate.ParticipantView), args.Error(1)
}

func (m *mockMateService) CompleteRecruitment(ctx context.Context, postId, userId int64) (int64, error) {
	args := m.Called(postId, userId)
	return args.Get(0).(int64), args.Error(1)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) Invalidate(ctx context.Context, userId int64) error {
	args := m.Called(userId)
	return args.Error(0)
}

var testSigningKey = []byte("test-signing-key")

type testApp struct {
	*SlamTalkApp
	db       *database.MockRepository
	chat     *mockChatService
	mate     *mockMateService
	profiles *mockProfiles
}

// newTestApp builds an app over fresh mocks, without a chat server.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ta := &testApp{
		db:       &database.MockRepository{},
		chat:     &mockChatService{},
		mate:     &mockMateService{},
		profiles: &mockProfiles{},
	}
	t.Cleanup(func() {
		ta.db.AssertExpectations(t)
		ta.chat.AssertExpectations(t)
		ta.mate.AssertExpectations(t)
		ta.profiles.AssertExpectations(t)
	})

	ta.SlamTalkApp = NewSlamTalkApp(
		http.NewServeMux(),
		testutil.TestLogger(t),
		nil,
		ta.db,
		ta.chat,
		ta.mate,
		ta.profiles,
		nil,
		&config.Config{ServerAddr: "localhost:0", SigningKey: testSigningKey},
	)
	return ta
}

// do sends a request through the full handler stack. A non-zero userId
// attaches a session cookie for that user.
func (ta *testApp) do(t *testing.T, method, path string, body any, userId int64) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userId != 0 {
		token, err := ta.createJwtForSession(types.User{Id: userId}, defaultJwtExpiration)
		require.NoError(t, err)
		req.AddCookie(createJwtCookie(token, defaultJwtExpiration))
	}

	rr := httptest.NewRecorder()
	ta.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()
	var e ApiError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e), "expected error body, got %q", rr.Body.String())
	return e
}

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
