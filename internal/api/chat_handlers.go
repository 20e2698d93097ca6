package api

import (
	"net/http"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/types"
)

type CreateRoomRequest struct {
	RoomType string `json:"room_type" validate:"required"`
	Name     string `json:"name" validate:"max=100"`
}

type CreateRoomResponse struct {
	RoomId int64 `json:"room_id"`
}

type JoinRoomResponse struct {
	RoomId   int64 `json:"room_id"`
	Rejoined bool  `json:"rejoined"`
}

type AddMembersRequest struct {
	UserIds []int64 `json:"user_ids" validate:"required,min=1,dive,gt=0"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=1000"`
}

type ReadIndexRequest struct {
	ReadIndex int64 `json:"read_index"`
}

func (s *SlamTalkApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, err := s.chat.CreateRoom(r.Context(), req.RoomType, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, CreateRoomResponse{RoomId: roomId})
}

func (s *SlamTalkApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := s.chat.ListRooms(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *SlamTalkApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	roomId, ok := pathId(r, "roomId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "invalid room id %q", r.PathValue("roomId")))
		return
	}

	result, err := s.chat.Join(r.Context(), userId, roomId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.attach(r, roomId, userId)
	s.writeJson(w, http.StatusOK, JoinRoomResponse{RoomId: roomId, Rejoined: result == chat.Rejoined})
}

// addMembers is open to current members of the room only.
func (s *SlamTalkApp) addMembers(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	roomId, ok := pathId(r, "roomId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "invalid room id %q", r.PathValue("roomId")))
		return
	}

	var req AddMembersRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.chat.IsMember(r.Context(), userId, roomId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !member {
		s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "room %d", roomId))
		return
	}

	if err := s.chat.JoinAll(r.Context(), roomId, req.UserIds); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.attach(r, roomId, req.UserIds...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *SlamTalkApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathId(r, "roomId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "invalid room id %q", r.PathValue("roomId")))
		return
	}

	after, ok := queryInt(r, "after", 0)
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.InvalidArgument, "invalid after %q", r.URL.Query().Get("after")))
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.InvalidArgument, "invalid limit %q", r.URL.Query().Get("limit")))
		return
	}

	messages, err := s.chat.Messages(r.Context(), roomId, after, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *SlamTalkApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a room the caller is not in looks missing
	if roomId, ok := pathId(r, "roomId"); ok {
		member, err := s.chat.IsMember(r.Context(), user.Id, roomId)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !member {
			s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "room %d", roomId))
			return
		}
	}

	msg, err := s.chat.SendMessage(r.Context(), chat.SendMessageRequest{
		RoomId:         r.PathValue("roomId"),
		SenderId:       user.Id,
		SenderNickname: user.Nickname,
		Content:        req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, types.MessageFrom(msg))
}

func (s *SlamTalkApp) updateReadIndex(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	roomId, ok := pathId(r, "roomId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "invalid room id %q", r.PathValue("roomId")))
		return
	}

	var req ReadIndexRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.UpdateReadIndex(r.Context(), userId, roomId, req.ReadIndex); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *SlamTalkApp) exitRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	roomId, ok := pathId(r, "roomId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.RoomNotFound, "invalid room id %q", r.PathValue("roomId")))
		return
	}

	if err := s.chat.Exit(r.Context(), userId, roomId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// attach starts live delivery of roomId on the open connections of each
// user. Failures only delay delivery until the next reconnect.
func (s *SlamTalkApp) attach(r *http.Request, roomId int64, userIds ...int64) {
	if s.cs == nil {
		return
	}
	for _, id := range userIds {
		if err := s.cs.AttachUser(r.Context(), id, roomId); err != nil {
			s.log.Warn().Err(err).Int64("user_id", id).Int64("room_id", roomId).Msg("attach connections")
		}
	}
}
