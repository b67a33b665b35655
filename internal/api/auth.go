package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoCredentials = errors.New("authorization required")
	errNotBearer     = errors.New("authorization scheme must be Bearer")
	errEmptyKey      = errors.New("bearer token is empty")
)

// ValidateAPIKey reports whether provided equals want. An empty want never
// matches, so a server without a key rejects everything.
func ValidateAPIKey(provided, want string) bool {
	if want == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(want)) == 1
}

// ExtractAPIKey returns the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "bearer") {
		return "", errNotBearer
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errEmptyKey
	}
	return token, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := ExtractAPIKey(r)
		if err == nil && !ValidateAPIKey(key, s.config.APIKey) {
			err = errors.New("invalid API key")
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wearpkg"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
