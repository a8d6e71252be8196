package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is how long an issued bearer token remains valid. Devices
// re-authenticate by calling /authenticate again; there is no refresh
// flow.
const tokenTTL = 365 * 24 * time.Hour

type deviceClaims struct {
	jwt.RegisteredClaims
	DeviceID int64 `json:"device_id"`
}

type ctxKey int

const deviceIDKey ctxKey = iota

// issueToken signs an HS256 bearer token binding deviceID, valid for
// tokenTTL.
func (s *Server) issueToken(deviceID int64) (string, error) {
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
		DeviceID: deviceID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.JWTSigningKey)
}

var errBadToken = errors.New("server: bad or expired token")

func (s *Server) parseToken(raw string) (int64, error) {
	token, err := jwt.ParseWithClaims(raw, &deviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadToken
		}
		return s.cfg.JWTSigningKey, nil
	})
	if err != nil || !token.Valid {
		return 0, errBadToken
	}
	claims, ok := token.Claims.(*deviceClaims)
	if !ok {
		return 0, errBadToken
	}
	return claims.DeviceID, nil
}

// requireAuth extracts and verifies the bearer token, stashing the
// device id in the request context for downstream handlers.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		deviceID, err := s.parseToken(raw)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth verifies a bearer token when present but lets the request
// through regardless, for endpoints like /status that accept either.
func (s *Server) optionalAuth(r *http.Request) (int64, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return 0, false
	}
	deviceID, err := s.parseToken(raw)
	if err != nil {
		return 0, false
	}
	return deviceID, true
}
