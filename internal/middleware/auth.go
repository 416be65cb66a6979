package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// AuthMiddleware lets public paths through and requires a live session for
// everything else. API callers get 401 JSON, browsers are redirected to /login.
func AuthMiddleware(sessions *SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(SessionCookie)
			if err == nil {
				if email, ok := sessions.Get(cookie.Value); ok {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), email)))
					return
				}
			}

			if wantsJSON(r) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		})
	}
}

func isPublic(path string) bool {
	return path == "/login" ||
		path == "/register" ||
		path == "/auth/login" ||
		path == "/auth/register" ||
		strings.HasPrefix(path, "/static/")
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
