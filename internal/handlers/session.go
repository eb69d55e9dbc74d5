package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medreq/apiserver/config"
	"github.com/medreq/apiserver/internal/services"
)

const defaultCookieName = "session"

// SessionCodec carries a session identifier to and from the client as a
// signed token. Tokens have no expiry claim; a session ends on logout or
// when its user id stops resolving.
type SessionCodec struct {
	secret     []byte
	cookieName string
	secure     bool
}

// NewSessionCodec constructs a codec from the session settings.
func NewSessionCodec(cfg config.SessionConfig) (*SessionCodec, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}
	name := cfg.CookieName
	if name == "" {
		name = defaultCookieName
	}
	return &SessionCodec{
		secret:     []byte(cfg.Secret),
		cookieName: name,
		secure:     cfg.CookieSecure,
	}, nil
}

// Issue signs the session identifier.
func (c *SessionCodec) Issue(session services.Session) (string, error) {
	if !session.Valid() {
		return "", errors.New("empty session")
	}
	claims := jwt.RegisteredClaims{
		Subject:  strconv.Itoa(session.ID()),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Parse verifies a token and returns the session it carries.
func (c *SessionCodec) Parse(tokenString string) (services.Session, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return c.secret, nil
	})
	if err != nil {
		return services.Session{}, err
	}
	if !token.Valid {
		return services.Session{}, errors.New("invalid token")
	}
	id, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || id < 1 {
		return services.Session{}, errors.New("invalid subject")
	}
	return services.Session{UserID: id}, nil
}

// SetCookie stores the token in the session cookie.
func (c *SessionCodec) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (c *SessionCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// token reads the session token from the cookie, falling back to a
// bearer Authorization header.
func (c *SessionCodec) token(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(c.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return bearerToken(r)
}

// RequireSession resolves the session of every request and injects the
// user into the context. A token whose user no longer resolves is
// cleared from the client.
func RequireSession(sessions *services.SessionManager, codec *SessionCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := codec.token(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
				return
			}

			session, err := codec.Parse(tokenString)
			if err != nil {
				codec.ClearCookie(w)
				writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
				return
			}

			user, ok, err := sessions.Resolve(r.Context(), session.ID())
			if err != nil {
				writeServiceError(w, r, err, "failed to load session")
				return
			}
			if !ok {
				codec.ClearCookie(w)
				writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

func requireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
			return
		}
		if !user.IsManager() {
			writeError(w, http.StatusForbidden, "manager access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
