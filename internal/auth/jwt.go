// Package auth provides session tokens, password hashing and bearer header
// parsing for the account service.
//
// SESSION TOKEN FLOW:
//  1. Login or CompleteRegistration succeeds
//  2. TokenService.Issue signs a JWT naming the account id (sub + id claims)
//  3. The client sends it back as "Authorization: Bearer <token>"
//  4. GET /user calls TokenService.Verify, then looks the account up
//
// Verification is purely cryptographic plus an expiry check. It never
// touches the database; whether the account still exists is the caller's
// business.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"iss":..,"aud":[..],"sub":"42","id":"42","iat":..,"exp":..,"jti":..}
//	- Signature: HMAC-SHA(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

// Defaults used when TokenConfig leaves a field empty.
const (
	DefaultTokenTTL  = 30 * 24 * time.Hour
	DefaultIssuer    = "Issuer of the JWT"
	DefaultAudience  = "Audience that the JWT"
	DefaultAlgorithm = "HS256"

	minSecretLength = 16
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenConfig is the process-wide signing configuration. It is read once at
// startup and never changes while the server runs.
type TokenConfig struct {
	Secret    string
	Algorithm string // HS256, HS384 or HS512
	TTL       time.Duration
	Issuer    string
	Audience  string
}

// TokenService issues and verifies HMAC-signed JWTs.
type TokenService struct {
	secret   []byte
	method   *jwt.SigningMethodHMAC
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now for both issuing and verifying.
// Tests use it to move past the expiry without sleeping.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService validates cfg and builds a TokenService.
// The secret should be at least 32 bytes of random data in production.
// Example: SECRET_KEY=$(openssl rand -hex 32)
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("auth: secret must be at least %d characters", minSecretLength)
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, err := hmacMethod(alg)
	if err != nil {
		return nil, err
	}

	s := &TokenService{
		secret:   []byte(cfg.Secret),
		method:   method,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.audience == "" {
		s.audience = DefaultAudience
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// hmacMethod resolves a keyed-hash algorithm name. Asymmetric algorithms and
// "none" are rejected.
func hmacMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch alg {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}
}

// Claims is the JWT payload.
//
// Subject holds the account id. AccountID repeats it under "id" so clients
// written against the older payload keep working.
type Claims struct {
	AccountID string `json:"id"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for accountID, valid for the configured TTL.
// email is optional and only recorded as a claim.
func (s *TokenService) Issue(accountID int64, email string) (string, error) {
	now := s.now()
	id := strconv.FormatInt(accountID, 10)

	c := Claims{
		AccountID: id,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        xid.New().String(),
		},
	}

	token := jwt.NewWithClaims(s.method, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// TTL returns how long issued tokens stay valid.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Verify checks signature, algorithm, issuer, audience and expiry, and returns
// the account id named by the token.
//
// Returns ErrTokenExpired once the current time reaches exp, and
// ErrTokenInvalid (wrapping the cause) for everything else.
func (s *TokenService) Verify(tokenStr string) (int64, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("%w: unexpected claims", ErrTokenInvalid)
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrTokenInvalid, c.Subject)
	}

	return id, nil
}
