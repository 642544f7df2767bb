package handler

import (
	"encoding/json"
	"net/http"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
)

// ProfileHandler serves the edit-answers page
type ProfileHandler struct {
	profile *service.ProfileService
}

func NewProfileHandler(profile *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profile: profile}
}

// View handles GET /v1/profile/answers
func (h *ProfileHandler) View(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, _ := carrier.TokenFromQuery(r.URL.Query())
	view, err := h.profile.View(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx), tok)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Submit handles POST /v1/profile/answers
func (h *ProfileHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileAnswerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	res, err := h.profile.Submit(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
