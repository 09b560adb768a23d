// Package auth owns accounts: password hashing, session tokens and the
// signup, login, profile and change-password operations.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/metrics"
	"github.com/Clarekpd/ss-expense-tracker/internal/storage"
)

var (
	errCredentialsRequired = core.NewValidationError("", "Username and password required")
	errPasswordTooShort    = core.NewValidationError("password",
		fmt.Sprintf("Password must be at least %d characters", core.MinPasswordLength))
	errUsernameTaken      = core.NewError(core.ErrConflict, "Username already exists")
	errInvalidCredentials = core.NewError(core.ErrInvalidCredentials, "Invalid credentials")
	errUserNotFound       = core.NewError(core.ErrNotFound, "User not found")
)

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Service implements the account operations on top of a UserStore.
type Service struct {
	users   storage.UserStore
	tokens  *TokenIssuer
	logger  *log.Logger
	now     func() time.Time
	compare func(hash, password string) bool
}

func NewService(users storage.UserStore, tokens *TokenIssuer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		users:   users,
		tokens:  tokens,
		logger:  logger.WithComponent(log.ComponentAuth),
		now:     time.Now,
		compare: CheckPassword,
	}
}

// Signup creates an account and returns its id.
func (s *Service) Signup(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		metrics.AuthAttempt(log.OpSignup, metrics.OutcomeFailure)
		return "", errCredentialsRequired
	}
	if len(password) < core.MinPasswordLength {
		metrics.AuthAttempt(log.OpSignup, metrics.OutcomeFailure)
		return "", errPasswordTooShort
	}

	if _, err := s.users.UserByUsername(ctx, username); err == nil {
		metrics.AuthAttempt(log.OpSignup, metrics.OutcomeFailure)
		return "", errUsernameTaken
	} else if !errors.Is(err, core.ErrNotFound) {
		metrics.AuthAttempt(log.OpSignup, metrics.OutcomeError)
		return "", fmt.Errorf("look up username: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		metrics.AuthAttempt(log.OpSignup, metrics.OutcomeFailure)
		return "", err
	}

	now := s.now().UTC()
	user := core.User{
		ID:           core.NewID(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// A concurrent signup can win between the lookup and the insert.
		if errors.Is(err, core.ErrConflict) {
			metrics.AuthAttempt(log.OpSignup, metrics.OutcomeFailure)
			return "", errUsernameTaken
		}
		metrics.AuthAttempt(log.OpSignup, metrics.OutcomeError)
		return "", fmt.Errorf("create user: %w", err)
	}

	metrics.AuthAttempt(log.OpSignup, metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "User created", log.FieldUserID, user.ID, log.FieldOperation, log.OpSignup)
	return user.ID, nil
}

// Login checks credentials and issues a session token. An unknown username
// and a wrong password fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		metrics.AuthAttempt(log.OpLogin, metrics.OutcomeFailure)
		return LoginResult{}, errCredentialsRequired
	}

	user, err := s.users.UserByUsername(ctx, username)
	if errors.Is(err, core.ErrNotFound) {
		// Same bcrypt work as a wrong password.
		s.compare(dummyHash(), password)
		metrics.AuthAttempt(log.OpLogin, metrics.OutcomeFailure)
		return LoginResult{}, errInvalidCredentials
	}
	if err != nil {
		metrics.AuthAttempt(log.OpLogin, metrics.OutcomeError)
		return LoginResult{}, fmt.Errorf("look up user: %w", err)
	}
	if !s.compare(user.PasswordHash, password) {
		metrics.AuthAttempt(log.OpLogin, metrics.OutcomeFailure)
		return LoginResult{}, errInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		metrics.AuthAttempt(log.OpLogin, metrics.OutcomeError)
		return LoginResult{}, err
	}

	metrics.AuthAttempt(log.OpLogin, metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "User logged in", log.FieldUserID, user.ID, log.FieldOperation, log.OpLogin)
	return LoginResult{Token: token, UserID: user.ID, Username: user.Username}, nil
}

// Profile returns the user behind userID.
func (s *Service) Profile(ctx context.Context, userID string) (core.User, error) {
	user, err := s.users.UserByID(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, errUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
// Tokens issued before the change stay valid until they expire.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		metrics.AuthAttempt(log.OpChangePassword, metrics.OutcomeFailure)
		return core.NewValidationError("", "Old and new password required")
	}
	if len(newPassword) < core.MinPasswordLength {
		metrics.AuthAttempt(log.OpChangePassword, metrics.OutcomeFailure)
		return errPasswordTooShort
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if !s.compare(user.PasswordHash, oldPassword) {
		metrics.AuthAttempt(log.OpChangePassword, metrics.OutcomeFailure)
		return errInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().UTC()); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return errUserNotFound
		}
		metrics.AuthAttempt(log.OpChangePassword, metrics.OutcomeError)
		return fmt.Errorf("update password: %w", err)
	}

	metrics.AuthAttempt(log.OpChangePassword, metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "Password changed", log.FieldUserID, user.ID, log.FieldOperation, log.OpChangePassword)
	return nil
}

// Authenticate resolves a bearer token to a user id.
func (s *Service) Authenticate(token string) (string, error) {
	return s.tokens.Verify(token)
}
