package handler

import (
	"encoding/json"
	"net/http"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
)

// AuthHandler handles resume and logout
type AuthHandler struct {
	authSvc    *service.AuthService
	onboarding *service.OnboardingService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authSvc *service.AuthService, onboarding *service.OnboardingService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, onboarding: onboarding}
}

// Resume handles POST /v1/auth/resume
func (h *AuthHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req model.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.authSvc.Resume(r.Context(), middleware.GetClient(r.Context()), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c := middleware.GetClient(r.Context())
	if err := h.authSvc.Logout(r.Context(), c); err != nil {
		writeServiceError(w, err)
		return
	}
	h.onboarding.Forget(c.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out", "redirect": "/login"})
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
