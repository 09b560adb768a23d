package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/Clarekpd/ss-expense-tracker/internal/log"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated user bound by requireAuth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// requireAuth admits requests carrying a valid token in the Authorization
// header, with or without the Bearer prefix.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token := header
		if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
			token = strings.TrimSpace(header[7:])
		}
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "No token provided"})
			return
		}

		userID, err := s.auth.Authenticate(token)
		if err != nil {
			log.FromContext(r.Context()).DebugContext(r.Context(), "Rejected token", log.FieldError, err)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser is only called behind requireAuth.
func currentUser(r *http.Request) string {
	id, _ := UserIDFromContext(r.Context())
	return id
}
