package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidBody      = core.NewValidationError("", "Invalid request body")
	errBodyTooLarge     = core.NewValidationError("", "Request body too large")
	errInvalidExpenseID = core.NewValidationError("id", "Invalid expense ID")
)

// decodeJSON reads one JSON value from a body capped at maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return errInvalidBody
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

// expenseIDParam returns the {id} path segment when it is a well-formed id.
func expenseIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if !core.ValidID(id) {
		return "", errInvalidExpenseID
	}
	return id, nil
}

// parseYear reads ?year=, falling back to the current UTC year when it is
// missing or not a plausible year.
func parseYear(r *http.Request, now time.Time) int {
	fallback := now.UTC().Year()
	v := strings.TrimSpace(r.URL.Query().Get("year"))
	if v == "" {
		return fallback
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1 || y > 9999 {
		return fallback
	}
	return y
}
