package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/database"
	"github.com/slamtalk/slamtalk/internal/mate"
)

const scheduleDateLayout = "2006-01-02"

type MatePostRequest struct {
	Title          string         `json:"title" validate:"required,max=100"`
	Content        string         `json:"content" validate:"max=2000"`
	LocationDetail string         `json:"location_detail" validate:"required,max=200"`
	ScheduledDate  string         `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	StartTime      string         `json:"start_time" validate:"required"`
	EndTime        string         `json:"end_time" validate:"required"`
	SkillLevels    []string       `json:"skill_levels"`
	Capacity       map[string]int `json:"capacity" validate:"required,dive,gte=0"`
}

// MatePostPatchRequest fields left empty keep their stored value. Date,
// start and end are applied independently.
type MatePostPatchRequest struct {
	Title          string         `json:"title" validate:"max=100"`
	Content        string         `json:"content" validate:"max=2000"`
	LocationDetail string         `json:"location_detail" validate:"max=200"`
	ScheduledDate  string         `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	StartTime      string         `json:"start_time"`
	EndTime        string         `json:"end_time"`
	SkillLevels    []string       `json:"skill_levels"`
	Capacity       map[string]int `json:"capacity" validate:"omitempty,dive,gte=0"`
}

type ApplyRequest struct {
	Position string `json:"position" validate:"required"`
}

type RegisterPostResponse struct {
	PostId int64 `json:"post_id"`
}

type CompleteRecruitmentResponse struct {
	RoomId int64 `json:"room_id"`
}

func parseSchedule(date, start, end string) (database.Schedule, error) {
	d, err := time.Parse(scheduleDateLayout, date)
	if err != nil {
		return database.Schedule{}, apperr.Wrap(apperr.InvalidSchedule, err)
	}
	st, err := database.ParseClockTime(start)
	if err != nil {
		return database.Schedule{}, apperr.Wrap(apperr.InvalidSchedule, err)
	}
	et, err := database.ParseClockTime(end)
	if err != nil {
		return database.Schedule{}, apperr.Wrap(apperr.InvalidSchedule, err)
	}
	return database.Schedule{Date: d, Start: st, End: et}, nil
}

func optionalClockTime(s string) (*database.ClockTime, error) {
	if s == "" {
		return nil, nil
	}
	ct, err := database.ParseClockTime(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidSchedule, err)
	}
	return &ct, nil
}

func parseSkillLevels(levels []string) ([]database.SkillLevel, error) {
	if levels == nil {
		return nil, nil
	}
	out := make([]database.SkillLevel, 0, len(levels))
	for _, l := range levels {
		sl, err := database.ParseSkillLevel(l)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidArgument, err)
		}
		out = append(out, sl)
	}
	return out, nil
}

func parseCapacity(capacity map[string]int) (map[database.Position]int, error) {
	if capacity == nil {
		return nil, nil
	}
	out := make(map[database.Position]int, len(capacity))
	for k, v := range capacity {
		p, err := database.ParsePosition(k)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidArgument, err)
		}
		out[p] = v
	}
	return out, nil
}

func (req MatePostRequest) form() (mate.PostForm, error) {
	schedule, err := parseSchedule(req.ScheduledDate, req.StartTime, req.EndTime)
	if err != nil {
		return mate.PostForm{}, err
	}
	levels, err := parseSkillLevels(req.SkillLevels)
	if err != nil {
		return mate.PostForm{}, err
	}
	capacity, err := parseCapacity(req.Capacity)
	if err != nil {
		return mate.PostForm{}, err
	}

	return mate.PostForm{
		Title:          req.Title,
		Content:        req.Content,
		LocationDetail: req.LocationDetail,
		Schedule:       schedule,
		SkillLevels:    levels,
		Capacity:       capacity,
	}, nil
}

func (req MatePostPatchRequest) patch() (mate.PostPatch, error) {
	p := mate.PostPatch{
		Title:          req.Title,
		Content:        req.Content,
		LocationDetail: req.LocationDetail,
	}

	if req.ScheduledDate != "" {
		d, err := time.Parse(scheduleDateLayout, req.ScheduledDate)
		if err != nil {
			return mate.PostPatch{}, apperr.Wrap(apperr.InvalidSchedule, err)
		}
		p.Date = &d
	}

	var err error
	if p.Start, err = optionalClockTime(req.StartTime); err != nil {
		return mate.PostPatch{}, err
	}
	if p.End, err = optionalClockTime(req.EndTime); err != nil {
		return mate.PostPatch{}, err
	}
	if p.SkillLevels, err = parseSkillLevels(req.SkillLevels); err != nil {
		return mate.PostPatch{}, err
	}
	if p.Capacity, err = parseCapacity(req.Capacity); err != nil {
		return mate.PostPatch{}, err
	}

	return p, nil
}

func (s *SlamTalkApp) postId(w http.ResponseWriter, r *http.Request) (int64, bool) {
	postId, ok := pathId(r, "postId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.PostNotFound, "invalid post id %q", r.PathValue("postId")))
	}
	return postId, ok
}

func (s *SlamTalkApp) registerPost(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req MatePostRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	form, err := req.form()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	postId, err := s.mate.Register(r.Context(), userId, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/mate/posts/%d", postId))
	s.writeJson(w, http.StatusCreated, RegisterPostResponse{PostId: postId})
}

func (s *SlamTalkApp) listPosts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.InvalidArgument, "invalid limit %q", r.URL.Query().Get("limit")))
		return
	}

	page, err := s.mate.List(r.Context(), r.URL.Query().Get("cursor"), int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *SlamTalkApp) getPost(w http.ResponseWriter, r *http.Request) {
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}

	post, err := s.mate.Get(r.Context(), postId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, post)
}

func (s *SlamTalkApp) updatePost(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}

	var req MatePostPatchRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	patch, err := req.patch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.mate.Update(r.Context(), postId, userId, patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *SlamTalkApp) deletePost(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}

	if err := s.mate.Delete(r.Context(), postId, userId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *SlamTalkApp) listParticipants(w http.ResponseWriter, r *http.Request) {
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}

	participants, err := s.mate.Participants(r.Context(), postId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, participants)
}

func (s *SlamTalkApp) applyToPost(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}

	var req ApplyRequest
	if errResp := s.decodeRequest(r, &req); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	position, err := database.ParsePosition(req.Position)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidArgument, err))
		return
	}

	participant, err := s.mate.Apply(r.Context(), postId, userId, position)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, participant)
}

func (s *SlamTalkApp) withdrawFromPost(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}
	participantId, ok := pathId(r, "participantId")
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.ParticipantNotFound, "invalid participant id %q", r.PathValue("participantId")))
		return
	}

	if err := s.mate.Withdraw(r.Context(), postId, participantId, userId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *SlamTalkApp) completeRecruitment(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	postId, ok := s.postId(w, r)
	if !ok {
		return
	}

	roomId, err := s.mate.CompleteRecruitment(r.Context(), postId, userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.cs != nil {
		s.attachTeam(r, postId, roomId)
	}
	s.writeJson(w, http.StatusOK, CompleteRecruitmentResponse{RoomId: roomId})
}

// attachTeam subscribes the open connections of the writer and every
// participant to the new team room.
func (s *SlamTalkApp) attachTeam(r *http.Request, postId, roomId int64) {
	post, err := s.mate.Get(r.Context(), postId)
	if err != nil {
		s.log.Warn().Err(err).Int64("post_id", postId).Msg("load team for room attach")
		return
	}

	userIds := []int64{post.WriterId}
	for _, p := range post.Participants {
		userIds = append(userIds, p.UserId)
	}
	s.attach(r, roomId, userIds...)
}
