package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
)

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and client message. Unclassified errors
// are logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errorType := classify(err)
	if status == http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(),
			"Request failed", err, log.ComponentHTTP, r.Method+" "+r.URL.Path,
			log.NewFields().WithErrorType(errorType))
		writeJSON(w, status, errorBody{Error: "Server error"})
		return
	}
	writeJSON(w, status, errorBody{Error: clientMessage(err)})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, log.ErrorTypeValidation
	case errors.Is(err, core.ErrUnauthenticated), errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized, log.ErrorTypeAuth
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, log.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, log.ErrorTypeConflict
	default:
		return http.StatusInternalServerError, log.ErrorTypeInternal
	}
}

func clientMessage(err error) string {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return err.Error()
}
