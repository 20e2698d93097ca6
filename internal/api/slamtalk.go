package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/config"
	"github.com/slamtalk/slamtalk/internal/database"
	"github.com/slamtalk/slamtalk/internal/mate"
	"github.com/slamtalk/slamtalk/internal/server"
	"github.com/slamtalk/slamtalk/internal/stats"
)

// AccountStore is the part of the repository the HTTP layer reads directly.
type AccountStore interface {
	Ping(ctx context.Context) error
	database.UserStore
}

type ChatService interface {
	CreateRoom(ctx context.Context, roomType, name string) (int64, error)
	Join(ctx context.Context, userId, roomId int64) (chat.JoinResult, error)
	JoinAll(ctx context.Context, roomId int64, userIds []int64) error
	SendMessage(ctx context.Context, req chat.SendMessageRequest) (database.Message, error)
	UpdateReadIndex(ctx context.Context, userId, roomId, index int64) error
	Exit(ctx context.Context, userId, roomId int64) error
	IsMember(ctx context.Context, userId, roomId int64) (bool, error)
	ListRooms(ctx context.Context, userId int64) ([]chat.RoomSummary, error)
	Messages(ctx context.Context, roomId, afterId int64, limit int) ([]chat.MessageView, error)
}

type MateService interface {
	Register(ctx context.Context, writerId int64, form mate.PostForm) (int64, error)
	Get(ctx context.Context, postId int64) (mate.PostDetail, error)
	Update(ctx context.Context, postId, userId int64, patch mate.PostPatch) error
	Delete(ctx context.Context, postId, userId int64) error
	List(ctx context.Context, cursor string, limit int) (mate.Page, error)
	Apply(ctx context.Context, postId, userId int64, position database.Position) (mate.ParticipantView, error)
	Withdraw(ctx context.Context, postId, participantId, userId int64) error
	Participants(ctx context.Context, postId int64) ([]mate.ParticipantView, error)
	CompleteRecruitment(ctx context.Context, postId, userId int64) (int64, error)
}

// ProfileInvalidator drops cached profile data after an account update.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userId int64) error
}

type SlamTalkApp struct {
	log            zerolog.Logger
	db             AccountStore
	chat           ChatService
	mate           MateService
	profiles       ProfileInvalidator
	srv            *http.Server
	cs             *server.ChatServer
	stats          stats.StatsProvider
	validate       *validator.Validate
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
}

func NewSlamTalkApp(
	mux *http.ServeMux,
	logger zerolog.Logger,
	cs *server.ChatServer,
	db AccountStore,
	chatSvc ChatService,
	mateSvc MateService,
	profiles ProfileInvalidator,
	su stats.StatsProvider,
	cfg *config.Config,
) *SlamTalkApp {
	s := &SlamTalkApp{
		log:            logger,
		db:             db,
		chat:           chatSvc,
		mate:           mateSvc,
		profiles:       profiles,
		cs:             cs,
		stats:          su,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultJwtExpiration
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("PUT /api/account", s.authMiddleware(s.updateAccount))

	mux.HandleFunc("POST /api/chat/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/chat/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/chat/rooms/{roomId}/join", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("POST /api/chat/rooms/{roomId}/members", s.authMiddleware(s.addMembers))
	mux.HandleFunc("GET /api/chat/rooms/{roomId}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/chat/rooms/{roomId}/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("PUT /api/chat/rooms/{roomId}/read", s.authMiddleware(s.updateReadIndex))
	mux.HandleFunc("DELETE /api/chat/rooms/{roomId}/membership", s.authMiddleware(s.exitRoom))

	mux.HandleFunc("POST /api/mate/posts", s.authMiddleware(s.registerPost))
	mux.HandleFunc("GET /api/mate/posts", s.authMiddleware(s.listPosts))
	mux.HandleFunc("GET /api/mate/posts/{postId}", s.authMiddleware(s.getPost))
	mux.HandleFunc("PATCH /api/mate/posts/{postId}", s.authMiddleware(s.updatePost))
	mux.HandleFunc("DELETE /api/mate/posts/{postId}", s.authMiddleware(s.deletePost))
	mux.HandleFunc("GET /api/mate/posts/{postId}/participants", s.authMiddleware(s.listParticipants))
	mux.HandleFunc("POST /api/mate/posts/{postId}/participants", s.authMiddleware(s.applyToPost))
	mux.HandleFunc("DELETE /api/mate/posts/{postId}/participants/{participantId}", s.authMiddleware(s.withdrawFromPost))
	mux.HandleFunc("POST /api/mate/posts/{postId}/complete", s.authMiddleware(s.completeRecruitment))

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", requestIdHeader}),
		handlers.ExposedHeaders([]string{requestIdHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.accessLog(h)
	h = s.requestId(h)
	h = hlog.NewHandler(s.log)(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *SlamTalkApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *SlamTalkApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
