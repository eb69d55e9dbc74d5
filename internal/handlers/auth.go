package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medreq/apiserver/internal/services"
	"github.com/medreq/apiserver/types"
)

// AuthHandler provides registration, login and logout endpoints.
type AuthHandler struct {
	sessions *services.SessionManager
	codec    *SessionCodec
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(sessions *services.SessionManager, codec *SessionCodec) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		codec:    codec,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(
	r chi.Router,
	sessions *services.SessionManager,
	codec *SessionCodec,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAuthHandler(sessions, codec)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(authMiddleware).Get("/me", handler.Me)
}

// Register creates a new account and starts its session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.sessions.Register(r.Context(), req.Email, req.Password, types.Role(req.Role))
	if err != nil {
		writeServiceError(w, r, err, "failed to create user")
		return
	}

	h.startSession(w, r, http.StatusCreated, user)
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, "failed to authenticate")
		return
	}

	h.startSession(w, r, http.StatusOK, user)
}

// Logout ends the session carried by the request, if any, and clears
// the client-held cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if tokenString, err := h.codec.token(r); err == nil {
		if session, err := h.codec.Parse(tokenString); err == nil {
			userID := session.ID()
			h.sessions.Logout(&session)
			slog.InfoContext(r.Context(), "session ended", "user_id", userID)
		}
	}
	h.codec.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, status int, user types.User) {
	token, err := h.codec.Issue(services.NewSession(user))
	if err != nil {
		writeServiceError(w, r, err, "failed to create session")
		return
	}
	h.codec.SetCookie(w, token)
	writeJSON(w, status, AuthResponse{Token: token, User: user})
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}
