package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/wizard"
)

// WizardHandler handles the onboarding wizard endpoints
type WizardHandler struct {
	onboarding *service.OnboardingService
}

// NewWizardHandler creates a new wizard handler
func NewWizardHandler(onboarding *service.OnboardingService) *WizardHandler {
	return &WizardHandler{onboarding: onboarding}
}

// Steps handles GET /v1/wizard/steps
func (h *WizardHandler) Steps(w http.ResponseWriter, r *http.Request) {
	c := h.onboarding.Catalog()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps":         c.Steps,
		"complete_path": c.CompletePath,
	})
}

// GetStep handles GET /v1/wizard/steps/{step}
func (h *WizardHandler) GetStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, _ := carrier.TokenFromQuery(r.URL.Query())

	view, err := h.onboarding.LoadStep(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx), mux.Vars(r)["step"], tok)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SubmitAnswer handles POST /v1/wizard/steps/{step}/answers
func (h *WizardHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var in wizard.AnswerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	res, err := h.onboarding.Submit(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx), mux.Vars(r)["step"], in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Next handles POST /v1/wizard/steps/{step}/next
func (h *WizardHandler) Next(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nav, err := h.onboarding.Next(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx), mux.Vars(r)["step"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

// Back handles POST /v1/wizard/steps/{step}/back
func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nav, err := h.onboarding.Back(middleware.GetClient(ctx), middleware.GetUserID(ctx), mux.Vars(r)["step"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

// Answered handles GET /v1/answered
func (h *WizardHandler) Answered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids := h.onboarding.Answered(ctx, middleware.GetClient(ctx), middleware.GetUserID(ctx))
	writeJSON(w, http.StatusOK, map[string]interface{}{"answered": ids})
}
