package handler

import (
	"encoding/json"
	"net/http"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
)

// MatchHandler handles match surfaces. Chats and matches sit behind the
// onboarding gate; by the time they run the user is complete.
type MatchHandler struct {
	matches *service.MatchService
}

func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// Celebrated handles GET /v1/matches/celebrated
func (h *MatchHandler) Celebrated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.matches.Celebrated(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"celebrated": ids})
}

// Celebrate handles POST /v1/matches/celebrated
func (h *MatchHandler) Celebrate(w http.ResponseWriter, r *http.Request) {
	var req service.CelebrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	ids, err := h.matches.Celebrate(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"celebrated": ids})
}

// Unlocked handles the gated GET /v1/matches and GET /v1/chats. The page
// renders the real surface once this answers 200.
func (h *MatchHandler) Unlocked(surface string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"surface":  surface,
			"gated":    false,
			"user_id":  middleware.GetUserID(r.Context()),
			"unlocked": true,
		})
	}
}
