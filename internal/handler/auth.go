package handler

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/middleware"
	"crowdcounter/internal/model"
	"crowdcounter/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const minPasswordLength = 6

// RegisterHandler handles POST /auth/register with form fields name, email and password.
func RegisterHandler(users repository.UserRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		name := strings.TrimSpace(r.FormValue("name"))
		email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
		password := r.FormValue("password")

		if !emailPattern.MatchString(email) {
			writeError(w, logger, errs.Validation("invalid email format"))
			return
		}
		if len(password) < minPasswordLength {
			writeError(w, logger, errs.Validation("password must have at least %d characters", minPasswordLength))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if _, err := users.Insert(&model.User{Name: name, Email: email, PasswordHash: string(hash)}); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Registered user %s", email)
		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered", "email": email})
	}
}

// LoginHandler handles POST /auth/login by checking the password hash and
// issuing a session cookie.
func LoginHandler(users repository.UserRepository, sessions *middleware.SessionStore, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
		password := r.FormValue("password")

		user, err := users.GetByEmail(email)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			logger.Warning("Failed login for %s", email)
			writeError(w, logger, errs.ErrUnauthorized)
			return
		}

		token := sessions.Create(user.Email)
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(sessions.TTL() / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// LogoutHandler ends the session and clears the cookie.
func LogoutHandler(sessions *middleware.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
			sessions.Delete(cookie.Value)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}
