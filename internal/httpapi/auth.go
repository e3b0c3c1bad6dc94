package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookieName = "bootwake_session"
	sessionTTL        = 24 * time.Hour
)

// issueSessionCookie mints an HS256 JWT for the operator session and sets
// it as an HttpOnly cookie — a signed, expiring token stands in for a
// server-side session table (spec §6's cookie-session authentication).
func (s *Server) issueSessionCookie(w http.ResponseWriter) error {
	claims := jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return fmt.Errorf("httpapi: sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sessionTTL),
	})
	return nil
}

// authenticated reports whether r carries a valid, unexpired session cookie.
func (s *Server) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	_, err = jwt.Parse(cookie.Value, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	return err == nil
}

// checkPassword compares plaintext against the configured operator password
// hash.
func (s *Server) checkPassword(plaintext string) bool {
	hash := s.passwordHash.Load()
	return hash != nil && bcrypt.CompareHashAndPassword([]byte(*hash), []byte(plaintext)) == nil
}
