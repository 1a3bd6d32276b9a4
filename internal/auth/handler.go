package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/librora/bookstore/internal/domain"
)

const (
	pqUniqueViolation = "23505"
	minPasswordLength = 8
)

type Handler struct {
	db       *sql.DB
	sessions SessionStore
	logger   *slog.Logger
}

func NewHandler(db *sql.DB, sessions SessionStore, logger *slog.Logger) *Handler {
	return &Handler{
		db:       db,
		sessions: sessions,
		logger:   logger,
	}
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		h.writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if req.Password != req.Password2 {
		h.writeError(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	id := uuid.New().String()
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, id, req.Username, req.Email, string(hash))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			h.writeError(w, http.StatusBadRequest, "username is already taken")
			return
		}
		h.logger.Error("failed to create user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("user registered", "user_id", id, "username", req.Username)
	h.writeJSON(w, http.StatusCreated, map[string]string{"detail": "user created"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var user domain.User
	err := h.db.QueryRowContext(r.Context(), `
		SELECT id, username, email, password_hash, is_staff, created_at
		FROM users
		WHERE username = $1
	`, req.Username).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsStaff, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := newToken()
	if err != nil {
		h.logger.Error("failed to generate session token", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	csrf, err := newToken()
	if err != nil {
		h.logger.Error("failed to generate csrf token", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	session := Session{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		IsStaff:  user.IsStaff,
		CSRF:     csrf,
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		h.logger.Error("failed to create session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    csrf,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if session, ok := sessionFrom(r.Context()); ok {
		if err := h.sessions.Delete(r.Context(), session.Token); err != nil {
			h.logger.Error("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: "", Path: "/", MaxAge: -1})

	h.writeJSON(w, http.StatusOK, map[string]string{"detail": "logged out"})
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var user domain.User
	err := h.db.QueryRowContext(r.Context(), `
		SELECT id, username, email, is_staff, created_at
		FROM users
		WHERE id = $1
	`, identity.UserID).Scan(&user.ID, &user.Username, &user.Email, &user.IsStaff, &user.CreatedAt)
	if err != nil {
		h.logger.Error("failed to load user", "error", err, "user_id", identity.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

// HandleCSRF returns the CSRF token bound to the current session, for clients
// that cannot read the cookie.
func (h *Handler) HandleCSRF(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]string{"detail": "no active session"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    session.CSRF,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	h.writeJSON(w, http.StatusOK, map[string]string{"csrf_token": session.CSRF})
}

// HandleListUsers is the staff-only account listing.
func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !identity.IsStaff {
		h.writeError(w, http.StatusForbidden, "staff access required")
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, username, email, is_staff, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer func() { _ = rows.Close() }()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.IsStaff, &u.CreatedAt); err != nil {
			h.logger.Error("failed to scan user", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("failed to list users", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
