package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go-auth-server/internal/model"
	"go-auth-server/internal/session"
	"go-auth-server/internal/token"
	"go-auth-server/pkg/apierror"
)

// UserStore is the user-record capability the auth flows consume. Backed by
// the Postgres repository in production and by an in-memory fake in tests.
type UserStore interface {
	Create(ctx context.Context, email string, passwordHash string, name string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
}

type AuthService struct {
	users        UserStore
	sessions     *session.Store
	accessCodec  *token.Codec
	refreshCodec *token.Codec
}

func NewAuthService(users UserStore, sessions *session.Store, accessCodec *token.Codec, refreshCodec *token.Codec) *AuthService {
	return &AuthService{
		users:        users,
		sessions:     sessions,
		accessCodec:  accessCodec,
		refreshCodec: refreshCodec,
	}
}

func (s *AuthService) Signup(ctx context.Context, email string, password string, name string) (model.User, model.TokenPair, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if email == "" || password == "" || name == "" {
		return model.User{}, model.TokenPair{}, apierror.New("BAD_REQUEST", "email, password and name are required", "", http.StatusBadRequest)
	}
	if len(password) < 6 {
		return model.User{}, model.TokenPair{}, apierror.New("BAD_REQUEST", "password must be at least 6 characters", "password", http.StatusBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, model.TokenPair{}, err
	}

	user, err := s.users.Create(ctx, email, string(hash), name)
	if err != nil {
		return model.User{}, model.TokenPair{}, err
	}

	pair, err := s.IssueSession(ctx, model.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return model.User{}, model.TokenPair{}, err
	}

	return user, pair, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string) (model.User, model.TokenPair, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return model.User{}, model.TokenPair{}, apierror.New("BAD_REQUEST", "email and password are required", "", http.StatusBadRequest)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		// Same failure for unknown email and wrong password so callers
		// cannot enumerate accounts.
		if errors.Is(err, model.ErrUserNotFound) {
			return model.User{}, model.TokenPair{}, model.ErrInvalidCredentials
		}
		return model.User{}, model.TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.User{}, model.TokenPair{}, model.ErrInvalidCredentials
	}

	pair, err := s.IssueSession(ctx, model.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return model.User{}, model.TokenPair{}, err
	}

	return user, pair, nil
}

// IssueSession mints an access/refresh pair and registers the refresh token
// in the session store. If the store write fails the whole operation fails:
// a caller must never receive a refresh token that was not durably
// registered.
func (s *AuthService) IssueSession(ctx context.Context, identity model.Identity) (model.TokenPair, error) {
	accessToken, err := s.accessCodec.Issue(identity)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, err := s.refreshCodec.Issue(identity)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := s.sessions.Put(ctx, identity.UserID, refreshToken, s.refreshCodec.TTL()); err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Refresh validates a presented refresh token against the session store and
// mints a new access token. The refresh token itself is not rotated: the
// same token stays valid until its own expiry or revocation.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, model.Identity, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", model.Identity{}, model.ErrNoRefreshToken
	}

	identity, err := s.refreshCodec.Verify(refreshToken)
	if err != nil {
		return "", model.Identity{}, model.ErrInvalidRefreshToken
	}

	stored, err := s.sessions.Get(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", model.Identity{}, model.ErrSessionRevoked
		}
		// Store unreachable: surface as-is, never as a revocation.
		return "", model.Identity{}, err
	}

	// Byte-for-byte comparison catches the case where a later login
	// overwrote the stored token: the superseded token still verifies but
	// is no longer the registered one.
	if stored != refreshToken {
		return "", model.Identity{}, model.ErrInvalidRefreshToken
	}

	accessToken, err := s.accessCodec.Issue(identity)
	if err != nil {
		return "", model.Identity{}, fmt.Errorf("issue access token: %w", err)
	}

	return accessToken, identity, nil
}

// Logout revokes the user's refresh session. Idempotent: logging out an
// already-revoked session succeeds.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.sessions.Delete(ctx, userID)
}

func (s *AuthService) GetProfile(ctx context.Context, userID string) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.PublicUser{}, err
	}
	return user.Public(), nil
}

// VerifyAccess checks an access token purely cryptographically; it never
// consults the session store, so access-token revocation is bounded by the
// access TTL while refresh revocation is immediate.
func (s *AuthService) VerifyAccess(tokenString string) (model.Identity, error) {
	identity, err := s.accessCodec.Verify(tokenString)
	if err != nil {
		return model.Identity{}, model.ErrUnauthorized
	}
	return identity, nil
}

func (s *AuthService) AccessTTL() time.Duration {
	return s.accessCodec.TTL()
}

func (s *AuthService) RefreshTTL() time.Duration {
	return s.refreshCodec.TTL()
}
