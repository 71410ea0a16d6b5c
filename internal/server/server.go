package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"horizon/internal/app"
	"horizon/internal/util"
	"horizon/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
}

// Server exposes the chapter, engagement and account operations over JSON.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	// admin
	s.mux.Handle("/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/admin/users/", s.adminOnly(s.handleAdminUserByEmail))
	s.mux.Handle("/admin/reconcile", s.adminOnly(s.handleReconcile))

	// chapters and engagement
	s.mux.HandleFunc("/chapters", s.handleChapters)
	s.mux.HandleFunc("/chapters/", s.handleChapterRoutes)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session wrappers
type sessionHandler func(http.ResponseWriter, *http.Request, app.Session)

func (s *Server) authenticated(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.app.SessionFromToken(r.Context(), token)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", sess.User.ID))
		next(w, r.WithContext(ctx), sess)
	})
}

func (s *Server) adminOnly(next sessionHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, sess app.Session) {
		if !sess.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, sess)
	})
}

// optionalSession resolves a bearer token when one is sent; anonymous
// callers get the zero Session.
func (s *Server) optionalSession(r *http.Request) (app.Session, error) {
	if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
		return app.Session{}, nil
	}
	token, ok := bearerToken(r)
	if !ok {
		return app.Session{}, app.ErrInvalidSession
	}
	return s.app.SessionFromToken(r.Context(), token)
}

// auth handlers
type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.Register(app.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Mobile:   req.Mobile,
		Password: req.Password,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("user registered", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: sess.Token, User: sess.User})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, sess app.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(sess); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess app.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, sess.User)
}

// admin handlers
type setAdminRequest struct {
	Admin *bool `json:"admin"`
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, sess app.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(sess)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(users), "items": users})
}

func (s *Server) handleAdminUserByEmail(w http.ResponseWriter, r *http.Request, sess app.Session) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	email, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/admin/users/"))
	if err != nil || strings.TrimSpace(email) == "" || strings.Contains(email, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var req setAdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Admin == nil {
		writeError(w, http.StatusBadRequest, "admin is required")
		return
	}
	user, err := s.app.SetAdmin(sess, email, *req.Admin)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("user role changed", "target_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request, sess app.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	removed, err := s.app.ReconcileOrphans(sess)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if removed > 0 {
		util.LoggerFromContext(r.Context()).Warn("orphaned engagement removed", "records", removed)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeAppError maps app errors onto status codes. Storage and unexpected
// failures are logged and reported without detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrDuplicateEmail), errors.Is(err, app.ErrDuplicateChapterID):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrStorageUnavailable):
		util.LoggerFromContext(r.Context()).Error("storage unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
