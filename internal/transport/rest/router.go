package rest

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/gate"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/handler"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	Backends          storage.Backends
	AuthService       *service.AuthService
	OnboardingService *service.OnboardingService
	ProfileService    *service.ProfileService
	MatchService      *service.MatchService
	Gate              *gate.Gate
	WSHub             *ws.Hub
	AllowedOrigins    []string
	SecureCookies     bool
	Logger            *zap.Logger
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService, c.OnboardingService)
	wizardHandler := handler.NewWizardHandler(c.OnboardingService)
	profileHandler := handler.NewProfileHandler(c.ProfileService)
	matchHandler := handler.NewMatchHandler(c.MatchService)
	cors := newCORS(c.AllowedOrigins)
	wsHandler := ws.NewHandler(c.WSHub, c.OnboardingService, cors.allowed, logger)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.Backends, c.AuthService, c.SecureCookies, logger)

	// CORS middleware (apply first)
	r.Use(cors.middleware)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// API v1 routes; every request gets a client namespace and a best-effort identity
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(authMW.Client, authMW.Identity)

	// Public routes
	v1.HandleFunc("/auth/resume", authHandler.Resume).Methods("POST", "OPTIONS")
	v1.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST", "OPTIONS")
	v1.HandleFunc("/wizard/steps", wizardHandler.Steps).Methods("GET", "OPTIONS")

	// User routes (require a resolvable user)
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(middleware.RequireUser)

	userRoutes.HandleFunc("/wizard/steps/{step}", wizardHandler.GetStep).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/wizard/steps/{step}/answers", wizardHandler.SubmitAnswer).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/wizard/steps/{step}/next", wizardHandler.Next).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/wizard/steps/{step}/back", wizardHandler.Back).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/answered", wizardHandler.Answered).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/profile/answers", profileHandler.View).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/profile/answers", profileHandler.Submit).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/matches/celebrated", matchHandler.Celebrated).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/matches/celebrated", matchHandler.Celebrate).Methods("POST", "OPTIONS")

	// WebSocket route (token may come as query param)
	userRoutes.HandleFunc("/ws", wsHandler.Serve).Methods("GET")

	// Gated routes (require completed onboarding)
	gated := v1.NewRoute().Subrouter()
	gated.Use(c.Gate.Require(func(r *http.Request) (gate.CompletionCache, string) {
		client := middleware.GetClient(r.Context())
		if client == nil {
			return nil, ""
		}
		return client.Local, middleware.GetUserID(r.Context())
	}))

	gated.HandleFunc("/matches", matchHandler.Unlocked("matches")).Methods("GET", "OPTIONS")
	gated.HandleFunc("/chats", matchHandler.Unlocked("chats")).Methods("GET", "OPTIONS")

	return r
}

type corsPolicy struct {
	origins map[string]bool
	any     bool
}

func newCORS(allowed []string) *corsPolicy {
	p := &corsPolicy{origins: make(map[string]bool)}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[o] = true
		}
	}
	if len(p.origins) == 0 {
		p.any = true
	}
	return p
}

func (p *corsPolicy) allowed(origin string) bool {
	return p.any || p.origins[strings.TrimRight(origin, "/")]
}

// middleware echoes allowed origins so the client cookie travels with
// credentialed requests.
func (p *corsPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && p.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
