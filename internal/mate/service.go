// Package mate manages mate-finding posts, their per-position slots and the
// players who apply to them.
package mate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/database"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	dateLayout = "2006-01-02"
)

// RoomAssembler opens the team chat room once recruitment completes.
type RoomAssembler interface {
	CreateRoom(ctx context.Context, roomType, name string) (int64, error)
	JoinAll(ctx context.Context, roomId int64, userIds []int64) error
}

type PostForm struct {
	Title          string
	Content        string
	LocationDetail string
	Schedule       database.Schedule
	SkillLevels    []database.SkillLevel
	Capacity       map[database.Position]int
}

// PostPatch carries the fields to overwrite. Empty strings and nil values
// leave the stored field untouched.
type PostPatch struct {
	Title          string
	Content        string
	LocationDetail string
	Date           *time.Time
	Start          *database.ClockTime
	End            *database.ClockTime
	SkillLevels    []database.SkillLevel
	Capacity       map[database.Position]int
}

type ParticipantView struct {
	Id       int64             `json:"id"`
	UserId   int64             `json:"user_id"`
	Nickname string            `json:"nickname"`
	Position database.Position `json:"position"`
}

type PostSummary struct {
	Id             int64                      `json:"id"`
	WriterId       int64                      `json:"writer_id"`
	WriterNickname string                     `json:"writer_nickname"`
	Title          string                     `json:"title"`
	LocationDetail string                     `json:"location_detail"`
	ScheduledDate  string                     `json:"scheduled_date"`
	StartTime      database.ClockTime         `json:"start_time"`
	EndTime        database.ClockTime         `json:"end_time"`
	SkillLevels    []database.SkillLevel      `json:"skill_levels"`
	Status         database.RecruitmentStatus `json:"status"`
	Slots          database.Slots             `json:"slots"`
	CreatedAt      time.Time                  `json:"created_at"`
}

type PostDetail struct {
	PostSummary
	Content      string            `json:"content"`
	Participants []ParticipantView `json:"participants"`
}

type Page struct {
	Posts      []PostSummary `json:"posts"`
	NextCursor string        `json:"next_cursor"`
}

type Service struct {
	log   zerolog.Logger
	db    database.MateRepository
	rooms RoomAssembler
	now   func() time.Time
}

func NewService(db database.MateRepository, rooms RoomAssembler, logger zerolog.Logger) *Service {
	return &Service{
		log:   logger.With().Str("component", "mate").Logger(),
		db:    db,
		rooms: rooms,
		now:   time.Now,
	}
}

// Register creates a recruiting post written by writerId.
func (s *Service) Register(ctx context.Context, writerId int64, form PostForm) (int64, error) {
	if _, err := s.db.GetUserById(ctx, writerId); err != nil {
		return 0, notFound(err, apperr.UserNotFound, "get writer")
	}

	if strings.TrimSpace(form.Title) == "" {
		return 0, apperr.Newf(apperr.InvalidArgument, "title is required")
	}
	if !form.Schedule.Valid() {
		return 0, apperr.Newf(apperr.InvalidSchedule, "start %s is after end %s", form.Schedule.Start, form.Schedule.End)
	}
	if err := validateCapacity(form.Capacity); err != nil {
		return 0, err
	}

	post, err := s.db.CreateMatePost(ctx, database.CreateMatePostParams{
		WriterId:       writerId,
		Title:          form.Title,
		Content:        form.Content,
		LocationDetail: form.LocationDetail,
		Schedule:       form.Schedule,
		SkillLevels:    form.SkillLevels,
		Slots:          database.NewSlots(form.Capacity),
	})
	if err != nil {
		return 0, fmt.Errorf("create mate post: %w", err)
	}

	s.log.Info().Int64("post_id", post.Id).Int64("writer_id", writerId).Msg("mate post registered")
	return post.Id, nil
}

func (s *Service) Get(ctx context.Context, postId int64) (PostDetail, error) {
	post, err := s.livePost(ctx, postId)
	if err != nil {
		return PostDetail{}, err
	}

	participants, err := s.db.ListParticipants(ctx, postId)
	if err != nil {
		return PostDetail{}, fmt.Errorf("list participants: %w", err)
	}

	return newPostDetail(post, participants), nil
}

// Update applies patch to the post. Only the writer may update, and no
// position's capacity may drop below its current occupancy.
func (s *Service) Update(ctx context.Context, postId, userId int64, patch PostPatch) error {
	post, err := s.writablePost(ctx, postId, userId)
	if err != nil {
		return err
	}

	if patch.Title != "" {
		post.Title = patch.Title
	}
	if patch.Content != "" {
		post.Content = patch.Content
	}
	if patch.LocationDetail != "" {
		post.LocationDetail = patch.LocationDetail
	}
	if patch.Date != nil {
		post.Schedule.Date = *patch.Date
	}
	if patch.Start != nil {
		post.Schedule.Start = *patch.Start
	}
	if patch.End != nil {
		post.Schedule.End = *patch.End
	}
	if !post.Schedule.Valid() {
		return apperr.Newf(apperr.InvalidSchedule, "start %s is after end %s", post.Schedule.Start, post.Schedule.End)
	}
	if patch.SkillLevels != nil {
		post.SkillLevels = patch.SkillLevels
	}
	if patch.Capacity != nil {
		post.Slots, err = withCapacity(post.Slots, patch.Capacity)
		if err != nil {
			return err
		}
	}

	err = s.db.UpdateMatePost(ctx, post)
	switch {
	case errors.Is(err, database.ErrNoCapacity):
		// a participant joined after the post was read
		return apperr.Newf(apperr.CapacityDecreaseRejected, "occupancy changed during update")
	case errors.Is(err, sql.ErrNoRows):
		return apperr.New(apperr.PostAlreadyDeleted)
	case err != nil:
		return fmt.Errorf("update mate post: %w", err)
	}

	return nil
}

func (s *Service) Delete(ctx context.Context, postId, userId int64) error {
	if _, err := s.writablePost(ctx, postId, userId); err != nil {
		return err
	}

	if err := s.db.SoftDeleteMatePost(ctx, postId); err != nil {
		return notFound(err, apperr.PostAlreadyDeleted, "delete mate post")
	}

	s.log.Info().Int64("post_id", postId).Msg("mate post deleted")
	return nil
}

// List returns active posts created strictly before the cursor, newest
// first. An empty cursor starts from now.
func (s *Service) List(ctx context.Context, cursor string, limit int) (Page, error) {
	before, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	if before.IsZero() {
		before = s.now()
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	posts, err := s.db.ListMatePostsBefore(ctx, before, limit)
	if err != nil {
		return Page{}, fmt.Errorf("list mate posts: %w", err)
	}

	page := Page{Posts: make([]PostSummary, 0, len(posts))}
	for _, p := range posts {
		page.Posts = append(page.Posts, newPostSummary(p))
	}
	if len(posts) == limit {
		page.NextCursor = EncodeCursor(posts[len(posts)-1].CreatedAt)
	}

	return page, nil
}

// Apply registers userId as a participant at position.
func (s *Service) Apply(ctx context.Context, postId, userId int64, position database.Position) (ParticipantView, error) {
	if !validPosition(position) {
		return ParticipantView{}, apperr.Newf(apperr.InvalidArgument, "unknown position %q", position)
	}

	post, err := s.livePost(ctx, postId)
	if err != nil {
		return ParticipantView{}, err
	}
	if post.Status != database.StatusRecruiting {
		return ParticipantView{}, apperr.Newf(apperr.RecruitmentClosed, "post is %s", post.Status)
	}
	if !hasRoom(post.Slots, position) {
		return ParticipantView{}, apperr.Newf(apperr.PositionFull, "no %s slot left", position)
	}

	if _, err := s.db.GetUserById(ctx, userId); err != nil {
		return ParticipantView{}, notFound(err, apperr.UserNotFound, "get user")
	}

	p, err := s.db.AddParticipant(ctx, postId, userId, position)
	switch {
	case errors.Is(err, database.ErrNoCapacity):
		return ParticipantView{}, apperr.Newf(apperr.PositionFull, "no %s slot left", position)
	case errors.Is(err, database.ErrDuplicate):
		return ParticipantView{}, apperr.New(apperr.AlreadyParticipating)
	case err != nil:
		return ParticipantView{}, fmt.Errorf("add participant: %w", err)
	}

	return newParticipantView(p), nil
}

// Withdraw releases a participation. The participant and the writer may
// both withdraw it.
func (s *Service) Withdraw(ctx context.Context, postId, participantId, userId int64) error {
	post, err := s.livePost(ctx, postId)
	if err != nil {
		return err
	}

	p, err := s.db.GetParticipant(ctx, participantId)
	if err != nil {
		return notFound(err, apperr.ParticipantNotFound, "get participant")
	}
	if p.MatePostId != postId || p.State != database.StateActive {
		return apperr.New(apperr.ParticipantNotFound)
	}
	if p.UserId != userId && !post.IsWrittenBy(userId) {
		return apperr.New(apperr.UserNotAuthorized)
	}

	if err := s.db.RemoveParticipant(ctx, p); err != nil {
		return notFound(err, apperr.ParticipantNotFound, "remove participant")
	}

	return nil
}

func (s *Service) Participants(ctx context.Context, postId int64) ([]ParticipantView, error) {
	if _, err := s.livePost(ctx, postId); err != nil {
		return nil, err
	}

	participants, err := s.db.ListParticipants(ctx, postId)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	return newParticipantViews(participants), nil
}

// CompleteRecruitment opens a TOGETHER room holding the writer and every
// participant, then closes the post. The post stays RECRUITING if the room
// cannot be assembled, so the call can be retried.
func (s *Service) CompleteRecruitment(ctx context.Context, postId, userId int64) (int64, error) {
	post, err := s.writablePost(ctx, postId, userId)
	if err != nil {
		return 0, err
	}
	if post.Status != database.StatusRecruiting {
		return 0, apperr.Newf(apperr.RecruitmentClosed, "post is %s", post.Status)
	}

	participants, err := s.db.ListParticipants(ctx, postId)
	if err != nil {
		return 0, fmt.Errorf("list participants: %w", err)
	}

	roomId, err := s.rooms.CreateRoom(ctx, string(database.RoomTogether), "")
	if err != nil {
		return 0, fmt.Errorf("create team room: %w", err)
	}

	members := make([]int64, 0, len(participants)+1)
	members = append(members, post.WriterId)
	for _, p := range participants {
		members = append(members, p.UserId)
	}
	if err := s.rooms.JoinAll(ctx, roomId, members); err != nil {
		return 0, fmt.Errorf("assemble team room: %w", err)
	}

	err = s.db.UpdateRecruitmentStatus(ctx, postId, database.StatusRecruiting, database.StatusCompleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// closed or deleted by a concurrent call
		s.log.Warn().Int64("post_id", postId).Int64("room_id", roomId).Msg("recruitment closed while assembling team room")
		return 0, apperr.Newf(apperr.RecruitmentClosed, "post is no longer recruiting")
	case err != nil:
		return 0, fmt.Errorf("complete recruitment: %w", err)
	}

	s.log.Info().Int64("post_id", postId).Int64("room_id", roomId).Int("members", len(members)).Msg("recruitment completed")
	return roomId, nil
}

func (s *Service) livePost(ctx context.Context, postId int64) (database.MatePost, error) {
	post, err := s.db.GetMatePost(ctx, postId)
	if err != nil {
		return database.MatePost{}, notFound(err, apperr.PostNotFound, "get mate post")
	}
	if post.Deleted() {
		return database.MatePost{}, apperr.New(apperr.PostAlreadyDeleted)
	}
	return post, nil
}

func (s *Service) writablePost(ctx context.Context, postId, userId int64) (database.MatePost, error) {
	post, err := s.livePost(ctx, postId)
	if err != nil {
		return database.MatePost{}, err
	}
	if !post.IsWrittenBy(userId) {
		return database.MatePost{}, apperr.New(apperr.UserNotAuthorized)
	}
	return post, nil
}

func newPostSummary(p database.MatePost) PostSummary {
	levels := p.SkillLevels
	if levels == nil {
		levels = []database.SkillLevel{}
	}

	return PostSummary{
		Id:             p.Id,
		WriterId:       p.WriterId,
		WriterNickname: p.WriterNickname,
		Title:          p.Title,
		LocationDetail: p.LocationDetail,
		ScheduledDate:  p.Schedule.Date.Format(dateLayout),
		StartTime:      p.Schedule.Start,
		EndTime:        p.Schedule.End,
		SkillLevels:    levels,
		Status:         p.Status,
		Slots:          p.Slots,
		CreatedAt:      p.CreatedAt,
	}
}

func newPostDetail(p database.MatePost, participants []database.Participant) PostDetail {
	return PostDetail{
		PostSummary:  newPostSummary(p),
		Content:      p.Content,
		Participants: newParticipantViews(participants),
	}
}

func newParticipantView(p database.Participant) ParticipantView {
	return ParticipantView{Id: p.Id, UserId: p.UserId, Nickname: p.Nickname, Position: p.Position}
}

func newParticipantViews(ps []database.Participant) []ParticipantView {
	views := make([]ParticipantView, 0, len(ps))
	for _, p := range ps {
		views = append(views, newParticipantView(p))
	}
	return views
}

func notFound(err error, code apperr.Code, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(code)
	}
	return fmt.Errorf("%s: %w", op, err)
}
