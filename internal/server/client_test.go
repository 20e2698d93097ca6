package server

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/database"
	"github.com/slamtalk/slamtalk/internal/stats"
	"github.com/slamtalk/slamtalk/internal/testutil"
	"github.com/slamtalk/slamtalk/internal/types"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := newTestClient(t, 1, 1)

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := newTestClient(t, 1, 1)

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := newTestClient(t, 1, 1)

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_addRoom_delRoom_inRoom(t *testing.T) {
	c := newTestClient(t, 1, 1)

	c.addRoom(3)
	c.addRoom(4)
	assert.True(t, c.inRoom(3))
	assert.ElementsMatch(t, []int64{3, 4}, c.roomIds())

	c.delRoom(3)
	assert.False(t, c.inRoom(3))
	assert.ElementsMatch(t, []int64{4}, c.roomIds())
}

func Test_parseRoomId(t *testing.T) {
	id, ok := parseRoomId(" 12 ")
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	for _, s := range []string{"", "abc", "0", "-1"} {
		_, ok := parseRoomId(s)
		assert.False(t, ok, "expected %q to be rejected", s)
	}
}

// newHandlerClient returns a client wired to a test chat server, without a
// network connection.
func newHandlerClient(t *testing.T, chatSvc *mockChatService) (*Client, *ChatServer, *stats.MockStatsUpdater) {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	cs, _, _ := newTestChatServer(t, chatSvc, su)

	c := newTestClient(t, 1, 4)
	c.chatServer = cs
	c.stats = su
	return c, cs, su
}

func nextResponse(t *testing.T, c *Client) *Response {
	t.Helper()
	select {
	case msg := <-c.send:
		require.NotNil(t, msg.Response, "expected a response frame")
		return msg.Response
	default:
		t.Fatal("expected a response to be queued")
		return nil
	}
}

func TestClient_handleJoin(t *testing.T) {
	t.Run("joins and subscribes", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("Join", int64(1), int64(5)).Return(chat.FirstJoin, nil)
		c, cs, _ := newHandlerClient(t, chatSvc)

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: "5"}, UserId: 1})

		resp := nextResponse(t, c)
		assert.Equal(t, http.StatusOK, resp.ResponseCode)
		assert.Equal(t, "first join", resp.Data.(map[string]any)["result"])
		assert.True(t, c.inRoom(5))
		_, ok := cs.getRoom(5)
		assert.True(t, ok)
	})

	t.Run("room not found", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("Join", int64(1), int64(999)).Return(chat.JoinResult(0), apperr.New(apperr.RoomNotFound))
		c, _, _ := newHandlerClient(t, chatSvc)

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Join: &Join{RoomId: "999"}, UserId: 1})

		resp := nextResponse(t, c)
		assert.Equal(t, http.StatusNotFound, resp.ResponseCode)
		assert.Equal(t, "room-not-found", resp.Error)
		assert.False(t, c.inRoom(999))
	})

	t.Run("malformed room id", func(t *testing.T) {
		c, _, _ := newHandlerClient(t, &mockChatService{})

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 3}, Join: &Join{RoomId: "abc"}, UserId: 1})
		assert.Equal(t, http.StatusNotFound, nextResponse(t, c).ResponseCode)
	})
}

func TestClient_handlePublish(t *testing.T) {
	t.Run("sends to subscribed room", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("SendMessage", mock.MatchedBy(func(req chat.SendMessageRequest) bool {
			return req.RoomId == "5" && req.SenderId == 1 && req.Content == "hi" && req.SenderNickname == "user"
		})).Return(database.Message{Id: 1, RoomId: 5, SenderId: 1, Content: "hi"}, nil)
		c, _, su := newHandlerClient(t, chatSvc)
		c.addRoom(5)

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 4}, Publish: &Publish{RoomId: "5", Content: "hi"}, UserId: 1})

		resp := nextResponse(t, c)
		assert.Equal(t, http.StatusOK, resp.ResponseCode)
		assert.Equal(t, types.Message{Id: 1, RoomId: 5, SenderId: 1, Content: "hi"}, resp.Data.(map[string]any)["message"])
		su.AssertCalled(t, "Incr", MetricMessagesSent)
	})

	t.Run("member joined elsewhere is subscribed first", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("IsMember", int64(1), int64(6)).Return(true, nil)
		chatSvc.On("SendMessage", mock.Anything).Return(database.Message{Id: 2}, nil)
		c, _, _ := newHandlerClient(t, chatSvc)

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 5}, Publish: &Publish{RoomId: "6", Content: "hi"}, UserId: 1})

		assert.Equal(t, http.StatusOK, nextResponse(t, c).ResponseCode)
		assert.True(t, c.inRoom(6))
	})

	t.Run("non member is rejected", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("IsMember", int64(1), int64(7)).Return(false, nil)
		c, _, _ := newHandlerClient(t, chatSvc)

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 6}, Publish: &Publish{RoomId: "7", Content: "hi"}, UserId: 1})

		assert.Equal(t, http.StatusNotFound, nextResponse(t, c).ResponseCode)
		chatSvc.AssertNotCalled(t, "SendMessage", mock.Anything)
	})

	t.Run("unparsable room reaches the service", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("SendMessage", mock.Anything).Return(database.Message{}, apperr.New(apperr.RoomNotFound))
		c, _, _ := newHandlerClient(t, chatSvc)

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 7}, Publish: &Publish{RoomId: "lobby", Content: "hi"}, UserId: 1})

		resp := nextResponse(t, c)
		assert.Equal(t, http.StatusNotFound, resp.ResponseCode)
		assert.Equal(t, "room-not-found", resp.Error)
	})

	t.Run("empty content", func(t *testing.T) {
		c, _, _ := newHandlerClient(t, &mockChatService{})

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 8}, Publish: &Publish{RoomId: "5", Content: "  "}, UserId: 1})
		assert.Equal(t, http.StatusBadRequest, nextResponse(t, c).ResponseCode)
	})
}

func TestClient_handleRead(t *testing.T) {
	chatSvc := &mockChatService{}
	chatSvc.On("UpdateReadIndex", int64(1), int64(5), int64(40)).Return(nil)
	chatSvc.On("UpdateReadIndex", int64(1), int64(6), int64(1)).Return(apperr.New(apperr.MembershipNotFound))
	c, _, _ := newHandlerClient(t, chatSvc)

	c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Read: &Read{RoomId: "5", ReadIndex: 40}, UserId: 1})
	assert.Equal(t, http.StatusOK, nextResponse(t, c).ResponseCode)

	c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Read: &Read{RoomId: "6", ReadIndex: 1}, UserId: 1})
	resp := nextResponse(t, c)
	assert.Equal(t, http.StatusNotFound, resp.ResponseCode)
	assert.Equal(t, "membership-not-found", resp.Error)
}

func TestClient_handleLeave(t *testing.T) {
	t.Run("detach only", func(t *testing.T) {
		chatSvc := &mockChatService{}
		c, cs, _ := newHandlerClient(t, chatSvc)
		require.NoError(t, cs.subscribe(context.Background(), c, 5))

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Leave: &Leave{RoomId: "5"}, UserId: 1})

		assert.Equal(t, http.StatusOK, nextResponse(t, c).ResponseCode)
		assert.False(t, c.inRoom(5))
		chatSvc.AssertNotCalled(t, "Exit", mock.Anything, mock.Anything)
	})

	t.Run("unsubscribe exits membership", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("Exit", int64(1), int64(5)).Return(nil)
		c, cs, _ := newHandlerClient(t, chatSvc)
		require.NoError(t, cs.subscribe(context.Background(), c, 5))

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, Leave: &Leave{RoomId: "5", Unsubscribe: true}, UserId: 1})

		assert.Equal(t, http.StatusOK, nextResponse(t, c).ResponseCode)
		assert.False(t, c.inRoom(5))
		_, ok := cs.getRoom(5)
		assert.False(t, ok, "expected empty room to be unloaded")
		chatSvc.AssertExpectations(t)
	})

	t.Run("exit failure keeps subscription", func(t *testing.T) {
		chatSvc := &mockChatService{}
		chatSvc.On("Exit", int64(1), int64(5)).Return(apperr.New(apperr.MembershipNotFound))
		c, cs, _ := newHandlerClient(t, chatSvc)
		require.NoError(t, cs.subscribe(context.Background(), c, 5))

		c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 3}, Leave: &Leave{RoomId: "5", Unsubscribe: true}, UserId: 1})

		assert.Equal(t, http.StatusNotFound, nextResponse(t, c).ResponseCode)
		assert.True(t, c.inRoom(5))
	})
}

func TestClient_handleEmptyFrame(t *testing.T) {
	c, _, _ := newHandlerClient(t, &mockChatService{})

	c.handle(&ClientMessage{BaseMessage: BaseMessage{Id: 9}, UserId: 1})
	resp := nextResponse(t, c)
	assert.Equal(t, http.StatusBadRequest, resp.ResponseCode)
	assert.Equal(t, "invalid message format", resp.Error)
}

// Drives a real connection: a published message is stored through the chat
// service, fanned out through Redis and pushed back to the socket.
func TestClient_WebSocketRoundTrip(t *testing.T) {
	db := &database.MockRepository{}
	db.On("ListActiveMembershipsByUser", int64(1)).Return([]database.Membership{{RoomId: 5}}, nil)
	db.On("GetChatRoom", int64(5)).Return(database.ChatRoom{Id: 5, RoomType: database.RoomMatching}, nil)
	db.On("GetChatRoom", int64(999)).Return(database.ChatRoom{}, sql.ErrNoRows)
	db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 1, RoomId: 5, SenderId: 1, SenderNickname: "tiger", Content: "hi"}, nil)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	chatSvc := &lateChatService{}
	cs, b, mr := newTestChatServer(t, chatSvc, su)
	chatSvc.Service = chat.NewService(db, nil, b, logger)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(types.User{Id: 1, Nickname: "tiger"}, conn, cs, logger, su)
		cs.RegisterClient(c)
		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	waitForSubscribers(t, mr, "5", 1)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"publish":{"room_id":"5","content":"hi"}}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	var gotResponse, gotEvent, gotInvalid bool
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(gotResponse && gotEvent && gotInvalid) {
		var msg ServerMessage
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err, "expected frames before the deadline")
		require.NoError(t, json.Unmarshal(raw, &msg))

		switch {
		case msg.Event != nil:
			assert.Equal(t, int64(5), msg.Event.RoomId)
			require.NotNil(t, msg.Event.Message)
			assert.Equal(t, "hi", msg.Event.Message.Content)
			gotEvent = true
		case msg.Response != nil && msg.Id == 1:
			assert.Equal(t, http.StatusOK, msg.Response.ResponseCode)
			gotResponse = true
		case msg.Response != nil && msg.Response.ResponseCode == http.StatusBadRequest:
			gotInvalid = true
		}
	}
}

// lateChatService lets the chat service be built after the chat server so
// both can share one broker.
type lateChatService struct {
	*chat.Service
}
