package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"sparklenote/server/internal/auth"
	"sparklenote/server/internal/config"
	"sparklenote/server/internal/crypto"
	"sparklenote/server/internal/hub"
	"sparklenote/server/internal/model"
	"sparklenote/server/internal/operations"
)

// Store is what the handlers need from persistence: the operations surface
// plus teacher login lookup.
type Store interface {
	operations.Store
	GetTeacherByEmail(ctx context.Context, email string) (model.Teacher, error)
}

type Server struct {
	cfg   config.Config
	store Store
	hub   *hub.Hub
	redis *redis.Client
}

func NewServer(cfg config.Config, store Store, eventHub *hub.Hub, redisClient *redis.Client) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		hub:   eventHub,
		redis: redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)

	r.Post("/roll/join/{url}", s.handleJoinRoll)

	r.With(s.authMiddleware).Post("/roll", s.handleCreateRoll)
	r.With(s.authMiddleware).Get("/rolls", s.handleListRolls)
	r.With(s.authMiddleware).Patch("/roll/{rollId}", s.handleRenameRoll)
	r.With(s.authMiddleware).Delete("/roll/{rollId}", s.handleDeleteRoll)
	r.With(s.authMiddleware).Get("/roll/{rollId}/events", s.handleRollEvents)

	r.With(s.authMiddleware).Post("/paper", s.handleCreatePaper)
	r.With(s.authMiddleware).Patch("/paper/{paperId}", s.handleUpdatePaper)
	r.With(s.authMiddleware).Delete("/paper/{paperId}", s.handleDeletePaper)
	r.With(s.authMiddleware).Get("/papers/{rollId}", s.handleListPapers)

	return r
}

// Auth

type identityKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil || claims.TokenUse != auth.TokenUseAccess {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(model.Identity)
	return identity, ok
}

// bearerToken pulls the access token from the Authorization header, falling
// back to the access_token query parameter for EventSource clients, which
// cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func (s *Server) issueCredentials(identity model.Identity) (operations.Credentials, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, identity)
	if err != nil {
		return operations.Credentials{}, err
	}
	refreshToken, err := auth.NewRefreshToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.RefreshTokenTTL, identity)
	if err != nil {
		return operations.Credentials{}, err
	}
	return operations.Credentials{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Session endpoints

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	TeacherID    string     `json:"teacherId"`
	TeacherName  string     `json:"teacherName"`
	Role         model.Role `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	teacher, err := s.store.GetTeacherByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(teacher.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	identity := model.Identity{ID: teacher.ID, Role: model.RoleTeacher, Name: teacher.Name}
	creds, err := s.issueCredentials(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TeacherID:    teacher.ID,
		TeacherName:  teacher.Name,
		Role:         model.RoleTeacher,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, req.RefreshToken)
	if err != nil || claims.TokenUse != auth.TokenUseRefresh {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	revoked, err := s.isTokenRevoked(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if revoked {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, claims.Identity())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": accessToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, req.RefreshToken)
	if err != nil || claims.TokenUse != auth.TokenUseRefresh {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	// The marker only needs to outlive the token itself.
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining > 0 {
		if err := s.revokeToken(r.Context(), req.RefreshToken, remaining); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) revokeToken(ctx context.Context, token string, ttl time.Duration) error {
	if s.redis == nil {
		return errors.New("redis_not_configured")
	}
	return s.redis.Set(ctx, revokedTokenKey(token), "revoked", ttl).Err()
}

func (s *Server) isTokenRevoked(ctx context.Context, token string) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	_, err := s.redis.Get(ctx, revokedTokenKey(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func revokedTokenKey(token string) string {
	return fmt.Sprintf("revoked_refresh:%s", crypto.HashToken(token))
}

// Roll endpoints

type createRollRequest struct {
	Name string `json:"name"`
}

type renameRollRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateRoll(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req createRollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	roll, err := operations.CreateRoll(r.Context(), s.store, identity, req.Name)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roll)
}

func (s *Server) handleListRolls(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	rolls, err := operations.ListRolls(r.Context(), s.store, identity)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rolls)
}

func (s *Server) handleRenameRoll(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req renameRollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	roll, err := operations.RenameRoll(r.Context(), s.store, identity, chi.URLParam(r, "rollId"), req.Name)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roll)
}

func (s *Server) handleDeleteRoll(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := operations.DeleteRoll(r.Context(), s.store, s.hub, identity, chi.URLParam(r, "rollId")); err != nil {
		writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	Name      string `json:"name"`
	PinNumber string `json:"pinNumber"`
	ClassCode int    `json:"classCode"`
}

func (s *Server) handleJoinRoll(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PinNumber == "" || req.ClassCode == 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	result, err := operations.Join(r.Context(), s.store, s.issueCredentials, chi.URLParam(r, "url"), req.Name, req.PinNumber, req.ClassCode)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Paper endpoints

type createPaperRequest struct {
	RollID  string  `json:"rollId"`
	Content string  `json:"content"`
	Sticker *string `json:"sticker"`
}

type updatePaperRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleCreatePaper(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req createPaperRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RollID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	paper, err := operations.CreatePaper(r.Context(), s.store, s.hub, identity, req.RollID, req.Content, req.Sticker)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paper)
}

func (s *Server) handleUpdatePaper(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req updatePaperRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	paper, err := operations.UpdatePaper(r.Context(), s.store, s.hub, identity, chi.URLParam(r, "paperId"), req.Content)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := operations.DeletePaper(r.Context(), s.store, s.hub, identity, chi.URLParam(r, "paperId")); err != nil {
		writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := operations.ListPapers(r.Context(), s.store, chi.URLParam(r, "rollId"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

// Event stream

func (s *Server) handleRollEvents(w http.ResponseWriter, r *http.Request) {
	rollID := chi.URLParam(r, "rollId")
	if _, err := s.store.GetRollByID(r.Context(), rollID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "roll_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe(rollID)
	defer s.hub.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case event := <-sub.Events():
			var err error
			if event.Name == hub.PingEvent {
				_, err = fmt.Fprint(w, ": ping\n\n")
			} else {
				_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, event.Data)
			}
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Utilities

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeOperationError(w http.ResponseWriter, err error) {
	var opErr *operations.Error
	if errors.As(err, &opErr) {
		writeError(w, statusForCode(opErr.Code), opErr.Code)
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error")
}

func statusForCode(code string) int {
	switch code {
	case operations.ErrRollNotFound, operations.ErrPaperNotFound,
		operations.ErrStudentNotFound, operations.ErrTeacherNotFound:
		return http.StatusNotFound
	case operations.ErrInvalidClassCode:
		return http.StatusBadRequest
	case operations.ErrForbidden:
		return http.StatusForbidden
	case operations.ErrUnauthorized:
		return http.StatusUnauthorized
	case operations.ErrRollNameNotChanged:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
