package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

type contextKey string

const (
	ClientKey contextKey = "client"
	UserIDKey contextKey = "userId"
)

// ClientCookie names the client namespace of a browser.
const ClientCookie = "mm_client"

const clientCookieMaxAge = 365 * 24 * 60 * 60

// AuthMiddleware attaches the client namespace and resolves who the user is
type AuthMiddleware struct {
	backends storage.Backends
	authSvc  *service.AuthService
	secure   bool
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(backends storage.Backends, authSvc *service.AuthService, secureCookies bool, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		backends: backends,
		authSvc:  authSvc,
		secure:   secureCookies,
		logger:   logger.Named("auth"),
	}
}

// Client makes sure the request carries a client id cookie and opens its
// storage namespace.
func (m *AuthMiddleware) Client(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ""
		if ck, err := r.Cookie(ClientCookie); err == nil {
			if _, err := uuid.Parse(ck.Value); err == nil {
				clientID = ck.Value
			}
		}
		if clientID == "" {
			clientID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookie,
				Value:    clientID,
				Path:     "/",
				MaxAge:   clientCookieMaxAge,
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), ClientKey, m.backends.Client(clientID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity resolves the user id: a bearer (or ?token=) JWT first, then a
// user_id query parameter, which is remembered, then the id remembered on
// this client. The user id may stay empty.
func (m *AuthMiddleware) Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c := GetClient(ctx)

		userID := ""
		if token := extractBearerToken(r); token != "" {
			claims, err := m.authSvc.ValidateUserToken(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token", "redirect": "/login"})
				return
			}
			userID = claims.UserID
		}
		if userID == "" {
			if q := strings.TrimSpace(r.URL.Query().Get("user_id")); q != "" {
				userID = q
				if c != nil {
					if err := c.Local.SetIdentity(ctx, userID, ""); err != nil {
						m.logger.Warn("remembering user id failed", zap.String("client", c.ID), zap.Error(err))
					}
				}
			}
		}
		if userID == "" && c != nil {
			stored, err := c.Local.UserID(ctx)
			if err != nil {
				m.logger.Warn("reading user id failed", zap.String("client", c.ID), zap.Error(err))
			}
			userID = stored
		}

		ctx = context.WithValue(ctx, UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests without a resolvable user with a redirect to
// the login page.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no user identity", "redirect": "/login"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClient extracts the client namespace from context
func GetClient(ctx context.Context) *storage.Client {
	if v, ok := ctx.Value(ClientKey).(*storage.Client); ok {
		return v
	}
	return nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		// WebSocket clients cannot set headers
		return r.URL.Query().Get("token")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
