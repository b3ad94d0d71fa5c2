package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adwski/projhub-signaling/backend/auth"
	"github.com/adwski/projhub-signaling/backend/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline  = 10 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultMaxBodySize       = 1 << 20

	tokenHeader = "auth-token"
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	CallStatusService interface {
		IsActive(roomID string) bool
	}

	MessageStore interface {
		SaveMessage(ctx context.Context, msg *storage.Message) error
		ListMessages(ctx context.Context, projectID string) ([]storage.Message, error)
	}

	TokenVerifier interface {
		Verify(token string) (*auth.Claims, error)
	}

	Config struct {
		Logger         *zerolog.Logger
		CallStatus     CallStatusService
		Messages       MessageStore
		Verifier       TokenVerifier
		ListenAddr     string
		AllowedOrigins []string
	}

	Server struct {
		logger   zerolog.Logger
		status   CallStatusService
		messages MessageStore
		verifier TokenVerifier
		*http.Server
	}
)

type CallStatusResponse struct {
	IsActive bool `json:"isActive"`
}

type SendMessageRequest struct {
	Content   string `json:"content"`
	ProjectID string `json:"projectId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "api-server").Logger(),
		status:   cfg.CallStatus,
		messages: cfg.Messages,
		verifier: cfg.Verifier,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, srv.logRequest, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Accept", "Authorization", "Content-Type", tokenHeader},
		MaxAge:         86400,
	}))

	r.Get("/api/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Group(func(r chi.Router) {
		r.Use(srv.authenticate)
		r.Get("/api/video/status/{projectId}", srv.callStatus)
		r.Post("/api/chat/sendmessage", srv.saveMessage)
		r.Get("/api/chat/{projectId}", srv.listMessages)
	})

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) callStatus(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(chi.URLParam(r, "projectId"))
	srv.writeJSON(w, http.StatusOK, &CallStatusResponse{IsActive: srv.status.IsActive(projectID)})
}

func (srv *Server) saveMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req SendMessageRequest
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		srv.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.Content == "" || req.ProjectID == "" {
		srv.writeError(w, http.StatusBadRequest, "Content and projectId are required.")
		return
	}

	msg := &storage.Message{
		ProjectID: req.ProjectID,
		Sender:    user.ID,
		Content:   req.Content,
	}
	if err := srv.messages.SaveMessage(r.Context(), msg); err != nil {
		srv.logger.Error().Err(err).Str("projectID", req.ProjectID).Msg("failed to save message")
		srv.writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	srv.logger.Debug().
		Str("projectID", msg.ProjectID).
		Str("messageID", msg.ID).
		Str("userID", user.ID).
		Msg("message saved")
	srv.writeJSON(w, http.StatusCreated, msg)
}

func (srv *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(chi.URLParam(r, "projectId"))
	msgs, err := srv.messages.ListMessages(r.Context(), projectID)
	if err != nil {
		srv.logger.Error().Err(err).Str("projectID", projectID).Msg("failed to list messages")
		srv.writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	srv.writeJSON(w, http.StatusOK, msgs)
}

func (srv *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(tokenHeader)
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		claims, err := srv.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			srv.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
			srv.writeError(w, http.StatusUnauthorized, "Please authenticate using a valid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), claims.User)))
	})
}

func (srv *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		srv.logger.Trace().
			Str("requestID", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

func (srv *Server) writeError(w http.ResponseWriter, code int, msg string) {
	srv.writeJSON(w, code, &ErrorResponse{Error: msg})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}
