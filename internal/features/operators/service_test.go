package operators

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"onair.fm/tipjar/internal/common"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewService(NewMemoryAttempts(), Options{
		Username:     "ops",
		PasswordHash: hash,
		JWTSecret:    "test-secret",
		TokenTTL:     time.Hour,
	})
}

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword("s3cret", hash) {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword("s3cret!", hash) {
		t.Fatal("wrong password accepted")
	}
	if VerifyPassword("s3cret", "not-a-hash") {
		t.Fatal("malformed hash accepted")
	}
	other, _ := HashPassword("s3cret")
	if other == hash {
		t.Fatal("hashes must be salted")
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	s := newTestService(t)
	token, expires, err := s.Login(context.Background(), "ops", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("token already expired: %v", expires)
	}
	claims, err := s.ParseToken(token)
	if err != nil || claims.Username != "ops" {
		t.Fatalf("ParseToken: claims=%+v err=%v", claims, err)
	}
}

func TestLoginLockout(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	for i := 0; i < maxFailedAttempts; i++ {
		if _, _, err := s.Login(ctx, "ops", "wrong"); !errors.Is(err, common.ErrUnauthorized) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, _, err := s.Login(ctx, "ops", "correct horse"); !errors.Is(err, common.ErrTooManyAttempts) {
		t.Fatalf("locked out login: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(lockoutPeriod + time.Minute) }
	if _, _, err := s.Login(ctx, "ops", "correct horse"); err != nil {
		t.Fatalf("after lockout: %v", err)
	}
}

func TestUnknownUsernameRejected(t *testing.T) {
	s := newTestService(t)
	if _, _, err := s.Login(context.Background(), "root", "correct horse"); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("got %v", err)
	}
}

func TestParseTokenRejects(t *testing.T) {
	s := newTestService(t)
	token, _, err := s.Login(context.Background(), "ops", "correct horse")
	if err != nil {
		t.Fatal(err)
	}

	other := newTestService(t)
	other.opts.JWTSecret = "different"
	if _, err := other.ParseToken(token); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("foreign secret: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.ParseToken(token); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expired token: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "ops"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := s.ParseToken(unsigned); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("unsigned token: %v", err)
	}
}
