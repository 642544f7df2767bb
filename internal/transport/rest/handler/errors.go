package handler

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/wizard"
)

type errorBody struct {
	Error    string              `json:"error"`
	Fields   []apperr.FieldError `json:"fields,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *apperr.ValidationError
	var terr *apperr.TransportError
	switch {
	case errors.Is(err, apperr.ErrIdentityMissing), errors.Is(err, service.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Redirect: "/login"})
	case errors.Is(err, apperr.ErrStepNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrStepIncomplete), errors.Is(err, wizard.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Fields: verr.Fields})
	case errors.As(err, &terr):
		status := http.StatusBadGateway
		if terr.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, terr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
