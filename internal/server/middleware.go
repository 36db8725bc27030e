package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// authedHandler receives the caller's inventory credential alongside
// the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, token string)

// authenticated extracts and checks credentials.
//
// Without a JWT secret, the Authorization bearer token is the
// inventory API credential and is accepted as-is; the inventory API
// enforces its validity. With a JWT secret configured, Authorization
// must carry an HS256-signed JWT and the inventory credential moves
// to the X-Inventory-Token header.
func (s *Server) authenticated(next authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		if bearer == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token := bearer
		if s.auth.JWTSecret != "" {
			if err := s.verifyJWT(bearer); err != nil {
				s.metrics.RecordError("server", "auth")
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			token = r.Header.Get("X-Inventory-Token")
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing X-Inventory-Token header")
				return
			}
		}

		next(w, r, token)
	})
}

func (s *Server) verifyJWT(raw string) error {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.auth.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func newRequestID() string {
	return uuid.NewString()
}
