package server

import (
	"net/http"
	"time"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/broker"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Publish *Publish `json:"publish,omitempty"`
	Join    *Join    `json:"join,omitempty"`
	Read    *Read    `json:"read,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	UserId  int64    `json:"-"`
	client  *Client  `json:"-"`
}

// GetUserId returns the sender's user id, falling back to the client's user.
func (cm *ClientMessage) GetUserId() int64 {
	if cm.UserId != 0 {
		return cm.UserId
	}
	if cm.client != nil {
		return cm.client.user.Id
	}
	return 0
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Read struct {
	RoomId    string `json:"room_id"`
	ReadIndex int64  `json:"read_index"`
}

// Leave stops live delivery for a room. With Unsubscribe set the
// membership itself is exited.
type Leave struct {
	Unsubscribe bool   `json:"unsubscribe,omitempty"`
	RoomId      string `json:"room_id"`
}

type ServerMessage struct {
	BaseMessage
	Response   *Response     `json:"response,omitempty"`
	Event      *broker.Event `json:"event,omitempty"`
	SkipClient *Client       `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func reply(id, code int, errText string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errText,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return reply(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int) *ServerMessage {
	return reply(id, http.StatusAccepted, "", nil)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return reply(id, http.StatusNotFound, "room not found", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return reply(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return reply(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

// ErrInvalidMessage answers a frame that could not be decoded. Negative ids
// are not echoed back.
func ErrInvalidMessage(id int) *ServerMessage {
	return reply(max(id, 0), http.StatusBadRequest, "invalid message format", nil)
}

// ErrFromError turns a service error into a response. Domain errors keep
// their code as the error text; anything else is an internal error.
func ErrFromError(id int, err error) *ServerMessage {
	code, ok := apperr.CodeOf(err)
	if !ok {
		return ErrInternalError(id)
	}

	return reply(id, apperr.HTTPStatus(err), string(code), nil)
}

func EventMessage(ev broker.Event) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: &ev,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
