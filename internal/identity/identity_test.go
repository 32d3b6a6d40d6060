package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scribe/internal/identity"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/testsupport"
)

func newService(t *testing.T, opts ...identity.Option) *identity.Service {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc, err := identity.New(cfg, store, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	return svc
}

func TestRegisterLoginVerify(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "Ada@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected lower-cased email, got %q", user.Email)
	}
	if token.TokenType != "bearer" || token.AccessToken == "" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if user.PasswordHash == "correct horse" {
		t.Fatal("password stored in clear")
	}

	id, err := svc.Verify(token.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != user.ID {
		t.Fatalf("verify returned %d, want %d", id, user.ID)
	}

	loggedIn, second, err := svc.Login(ctx, "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if loggedIn.ID != user.ID || second.AccessToken == "" {
		t.Fatalf("unexpected login result: %+v %+v", loggedIn, second)
	}

	authed, err := svc.Authenticate(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("authenticate returned user %d", authed.ID)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
		marker   error
	}{
		{name: "bad email", email: "not-an-email", password: "long enough", marker: services.ErrValidation},
		{name: "short password", email: "a@example.com", password: "short", marker: services.ErrValidation},
		{name: "oversized password", email: "a@example.com", password: string(make([]byte, 80)), marker: services.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Register(ctx, tc.email, tc.password); !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}

	if _, _, err := svc.Register(ctx, "dup@example.com", "password1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := svc.Register(ctx, "DUP@example.com", "password2"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "bob@example.com", "password1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, _, wrongPassword := svc.Login(ctx, "bob@example.com", "password2")
	_, _, unknownEmail := svc.Login(ctx, "nobody@example.com", "password1")
	if !errors.Is(wrongPassword, services.ErrAuth) || !errors.Is(unknownEmail, services.ErrAuth) {
		t.Fatalf("expected auth errors, got %v / %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("login errors differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	issuedAt := time.Now()
	clock := issuedAt
	svc := newService(t, identity.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, token, err := svc.Register(ctx, "eve@example.com", "password1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	clock = issuedAt.Add(169 * time.Hour)
	if _, err := svc.Verify(token.AccessToken); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	clock = issuedAt

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "scribe",
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}).SignedString([]byte("some-other-secret-value"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	if _, err := svc.Verify(forged); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected forged token to fail, got %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "scribe",
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := svc.Verify(unsigned); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected alg=none token to fail, got %v", err)
	}

	if _, err := svc.Verify(""); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected empty token to fail, got %v", err)
	}
}
