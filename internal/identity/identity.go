package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
)

const issuer = "scribe"

// bcrypt ignores input past 72 bytes; longer passwords are refused instead of
// silently truncated.
const maxPasswordBytes = 72

// Token is an issued access token.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// Claims is the JWT payload carried by access tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Users is the slice of the job store the identity service needs.
type Users interface {
	CreateUser(ctx context.Context, email, passwordHash string, now time.Time) (*queue.User, error)
	UserByEmail(ctx context.Context, email string) (*queue.User, error)
	UserByID(ctx context.Context, id int64) (*queue.User, error)
}

// Service registers accounts, checks passwords and issues bearer tokens.
type Service struct {
	users     Users
	secret    []byte
	ttl       time.Duration
	cost      int
	minLength int
	logger    *slog.Logger
	now       func() time.Time
	parser    *jwt.Parser
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for token issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds an identity service from auth configuration.
func New(cfg *config.Config, users Users, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("identity: config is required")
	}
	if users == nil {
		return nil, errors.New("identity: user store is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, services.Wrap(services.ErrConfiguration, "identity", "init", "jwt secret is empty", nil)
	}
	svc := &Service{
		users:     users,
		secret:    []byte(cfg.Auth.JWTSecret),
		ttl:       cfg.Auth.TokenTTL(),
		cost:      cfg.Auth.BcryptCost,
		minLength: cfg.Auth.MinPasswordLength,
		logger:    logging.NewComponentLogger(logger, "identity"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.parser = jwt.NewParser(
		jwt.WithIssuer(issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return svc.now() }),
	)
	return svc, nil
}

// Register creates a free-plan account and returns a token for it.
func (s *Service) Register(ctx context.Context, email, password string) (*queue.User, Token, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, Token{}, err
	}
	if err := s.checkPassword(password); err != nil {
		return nil, Token{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, Token{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, email, string(hash), s.now())
	if err != nil {
		if errors.Is(err, queue.ErrEmailTaken) {
			return nil, Token{}, services.Wrap(services.ErrConflict, "identity", "register", "email already registered", nil)
		}
		return nil, Token{}, err
	}
	token, err := s.Issue(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("account registered", logging.Int64(logging.FieldUserID, user.ID))
	return user, token, nil
}

// Login checks credentials and returns a fresh token. Unknown emails and
// wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*queue.User, Token, error) {
	invalid := services.Wrap(services.ErrAuth, "identity", "login", "incorrect email or password", nil)
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		return nil, Token{}, err
	}
	if user == nil {
		return nil, Token{}, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("password mismatch", logging.Int64(logging.FieldUserID, user.ID))
		return nil, Token{}, invalid
	}
	token, err := s.Issue(user)
	if err != nil {
		return nil, Token{}, err
	}
	return user, token, nil
}

// Issue signs an access token for user.
func (s *Service) Issue(user *queue.User) (Token, error) {
	if user == nil || user.ID == 0 {
		return Token{}, errors.New("identity: user is required")
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: expires}, nil
}

// Verify parses a bearer token and returns the user id it was issued for.
func (s *Service) Verify(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, services.Wrap(services.ErrAuth, "identity", "verify", "missing token", nil)
	}
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, services.Wrap(services.ErrAuth, "identity", "verify", "invalid or expired token", err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrAuth, "identity", "verify", "token subject is not a user id", nil)
	}
	return id, nil
}

// Authenticate verifies a token and loads the account it names. A token for a
// removed account is rejected.
func (s *Service) Authenticate(ctx context.Context, raw string) (*queue.User, error) {
	id, err := s.Verify(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.users.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, services.Wrap(services.ErrAuth, "identity", "verify", "account no longer exists", nil)
	}
	return user, nil
}

func (s *Service) checkPassword(password string) error {
	if len(password) < s.minLength {
		return services.Wrap(services.ErrValidation, "identity", "register",
			fmt.Sprintf("password must be at least %d characters", s.minLength), nil)
	}
	if len(password) > maxPasswordBytes {
		return services.Wrap(services.ErrValidation, "identity", "register",
			fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes), nil)
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || !strings.Contains(addr.Address, "@") {
		return "", services.Wrap(services.ErrValidation, "identity", "register", "email address is invalid", nil)
	}
	return strings.ToLower(addr.Address), nil
}
