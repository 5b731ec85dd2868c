package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gso-platform/maintenance-api/internal/models"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

type authStoreStub struct {
	user          *models.User
	refreshTokens map[string]*models.RefreshToken
	revokedIDs    []string
	revokedUsers  []string
	passwordHash  string
	auditLogs     []*models.AuditLog
	lastLoginSet  bool
}

func newAuthStoreStub(password string) *authStoreStub {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &authStoreStub{
		user: &models.User{
			ID:           "user-1",
			Email:        "staff@gso.example",
			PasswordHash: string(hash),
			FullName:     "GSO Staff",
			Role:         models.RoleStaff,
			Active:       true,
		},
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (s *authStoreStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *authStoreStub) FindByID(_ context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *authStoreStub) UpdateLastLogin(context.Context, string, time.Time) error {
	s.lastLoginSet = true
	return nil
}

func (s *authStoreStub) UpdatePassword(_ context.Context, _ string, hash string, _ time.Time) error {
	s.passwordHash = hash
	s.user.PasswordHash = hash
	return nil
}

func (s *authStoreStub) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	s.revokedUsers = append(s.revokedUsers, userID)
	return nil
}

func (s *authStoreStub) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *authStoreStub) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (s *authStoreStub) RevokeRefreshToken(_ context.Context, id string, _ time.Time) error {
	s.revokedIDs = append(s.revokedIDs, id)
	for _, rt := range s.refreshTokens {
		if rt.ID == id {
			rt.Revoked = true
		}
	}
	return nil
}

func (s *authStoreStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.auditLogs = append(s.auditLogs, log)
	return nil
}

func newAuthTestService(store *authStoreStub) *AuthService {
	return NewAuthService(store, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "gso-maintenance-api",
	})
}

func TestLoginIssuesTokenPair(t *testing.T) {
	store := newAuthStoreStub("correct horse")
	svc := newAuthTestService(store)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "staff@gso.example",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, models.RoleStaff, resp.User.Role)
	require.True(t, store.lastLoginSet)
	require.Len(t, store.auditLogs, 1)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, models.RoleStaff, claims.Role)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newAuthTestService(newAuthStoreStub("correct horse"))

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "staff@gso.example",
		Password: "battery staple",
	})
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := newAuthStoreStub("correct horse")
	store.user.Active = false
	svc := newAuthTestService(store)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "staff@gso.example",
		Password: "correct horse",
	})
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestRefreshRotatesToken(t *testing.T) {
	store := newAuthStoreStub("correct horse")
	svc := newAuthTestService(store)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "staff@gso.example",
		Password: "correct horse",
	})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	require.Len(t, store.revokedIDs, 1)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	store := newAuthStoreStub("correct horse")
	store.refreshTokens["stale"] = &models.RefreshToken{
		ID:        "token-1",
		UserID:    "user-1",
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	svc := newAuthTestService(store)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestLogoutRejectsForeignToken(t *testing.T) {
	store := newAuthStoreStub("correct horse")
	store.refreshTokens["token"] = &models.RefreshToken{
		ID:        "token-1",
		UserID:    "user-2",
		Token:     "token",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	svc := newAuthTestService(store)

	err := svc.Logout(context.Background(), "token", "user-1", models.LoginRequest{})
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	store := newAuthStoreStub("correct horse")
	svc := newAuthTestService(store)

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "correct horse",
		NewPassword: "battery staple 9",
	})
	require.NoError(t, err)
	require.NotEmpty(t, store.passwordHash)
	require.Equal(t, []string{"user-1"}, store.revokedUsers)

	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(store.passwordHash), []byte("battery staple 9")))
}

func TestChangePasswordRejectsWrongOldPassword(t *testing.T) {
	svc := newAuthTestService(newAuthStoreStub("correct horse"))

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "wrong",
		NewPassword: "battery staple 9",
	})
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := newAuthTestService(newAuthStoreStub("correct horse"))

	_, err := svc.ValidateToken("not-a-jwt")
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
