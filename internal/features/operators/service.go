package operators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
)

const (
	maxFailedAttempts = 3
	lockoutPeriod     = time.Hour
	tokenIssuer       = "tipjar-ops"
)

// Claims identify an operator session.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Options configures the single operator account.
type Options struct {
	Username     string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

type Service struct {
	attempts AttemptStore
	opts     Options
	now      func() time.Time
}

func NewService(attempts AttemptStore, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	return &Service{attempts: attempts, opts: opts, now: time.Now}
}

// Login verifies the credentials and issues a token.
// Three failed attempts within an hour lock the username out.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	failures, err := s.attempts.RecentFailures(ctx, username, s.now().Add(-lockoutPeriod))
	if err != nil {
		return "", time.Time{}, err
	}
	if failures >= maxFailedAttempts {
		return "", time.Time{}, common.ErrTooManyAttempts
	}

	ok := username == s.opts.Username && VerifyPassword(password, s.opts.PasswordHash)
	if err := s.attempts.LogAttempt(ctx, username, ok); err != nil {
		log.WithError(err).Warn("Failed to log operator login attempt")
	}
	if !ok {
		log.WithField("username", username).Warn("Operator login rejected")
		return "", time.Time{}, common.ErrUnauthorized
	}

	expires := s.now().Add(s.opts.TokenTTL)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	log.WithField("username", username).Info("Operator logged in")
	return token, expires, nil
}

// ParseToken validates an operator token.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.opts.JWTSecret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Join(common.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username != s.opts.Username {
		return nil, common.ErrUnauthorized
	}
	return claims, nil
}
