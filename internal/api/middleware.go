// middleware.go carries authentication from the transport into handler
// context. The engine never sees tokens, only a verified user identity.
package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxUserID  contextKey = "userID"
	ctxIsAdmin contextKey = "isAdmin"
)

// userID extracts the authenticated user from the request context.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

func isAdmin(r *http.Request) bool {
	admin, _ := r.Context().Value(ctxIsAdmin).(bool)
	return admin
}

// requireAuth verifies the bearer access token and stores the identity in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.tokens.VerifyAccess(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, claims.Subject)
		ctx = context.WithValue(ctx, ctxIsAdmin, claims.Admin)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin is requireAuth plus an administrative-rights check.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) {
			s.writeError(w, http.StatusForbidden, "admin rights required")
			return
		}
		next(w, r)
	})
}
