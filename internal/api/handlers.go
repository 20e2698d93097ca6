package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/slamtalk/slamtalk/internal/server"
	"github.com/slamtalk/slamtalk/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *SlamTalkApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

// writeError writes err as an ApiError, logging anything that maps to 500.
func (s *SlamTalkApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := NewErrorFromApp(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeRequest reads a JSON body into dst and validates it.
func (s *SlamTalkApp) decodeRequest(r *http.Request, dst any) *ApiError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		errResp := NewBadRequestError()
		errResp.Err = err
		return errResp
	}

	if err := s.validate.Struct(dst); err != nil {
		return NewValidationError(err)
	}

	return nil
}

// pathId parses a positive integer path parameter.
func pathId(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// queryInt parses an optional integer query parameter, returning def when
// it is absent.
func queryInt(r *http.Request, name string, def int64) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func (s *SlamTalkApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *SlamTalkApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(types.UserFrom(user), conn, s.cs, s.log, s.stats)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
