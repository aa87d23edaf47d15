package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken   = errors.New("auth: token is missing")
	ErrMalformedToken = errors.New("auth: expected 'Bearer <token>'")
)

// BearerToken extracts the token from an Authorization header value.
//
// The scheme is matched case-insensitively (RFC 6750 §2.1); anything other
// than exactly "Bearer <token>" is ErrMalformedToken, and an empty header is
// ErrMissingToken.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedToken
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedToken
	}

	return token, nil
}
