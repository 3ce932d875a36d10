// Package auth issues and verifies the bearer tokens carried by sellers and
// terminals, and exposes the middleware that turns a verified token into a
// subject id on the request context.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

// TokenService signs {sub, iat, exp} with a server-held HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service. A zero ttl issues tokens without expiry.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token binding subjectID.
func (s *TokenService) Issue(subjectID int64) (string, error) {
	if subjectID <= 0 {
		return "", apperr.Validation("subject id must be positive")
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(subjectID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature (and expiry when a ttl is configured) and
// returns the subject id. Every failure is ErrInvalidCredentials.
func (s *TokenService) Verify(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: empty token", apperr.ErrInvalidCredentials)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrInvalidCredentials, err)
	}
	if !parsed.Valid {
		return 0, fmt.Errorf("%w: token not valid", apperr.ErrInvalidCredentials)
	}

	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || subjectID <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", apperr.ErrInvalidCredentials, claims.Subject)
	}
	return subjectID, nil
}
