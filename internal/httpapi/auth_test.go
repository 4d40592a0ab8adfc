package httpapi

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sellerledger/backend/internal/domain"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	return NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, "admin", mustHashPassword(t, "admin123"))
}

func TestLoginIssuesAdminToken(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Subject: "admin", Role: domain.RoleAdmin}, actor)
}

func TestLoginRejectsWrongPasswordAndUnknownUser(t *testing.T) {
	auth := newTestAuth(t)

	_, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(domain.LoginRequest{Username: "seller-001", Password: "admin123"})
	assert.ErrorIs(t, err, errInvalidCredentials)
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, "admin", "")

	_, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	assert.ErrorIs(t, err, errInvalidCredentials)
}

func TestIssueValidatesRoleAndSubject(t *testing.T) {
	auth := newTestAuth(t)

	_, err := auth.Issue("seller-001", "cashier", time.Minute)
	assert.Error(t, err)
	_, err = auth.Issue("  ", domain.RoleSeller, time.Minute)
	assert.Error(t, err)

	resp, err := auth.Issue("seller-001", domain.RoleSeller, time.Minute)
	require.NoError(t, err)
	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "seller-001", actor.Subject)
	assert.Equal(t, domain.RoleSeller, actor.Role)
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	auth := newTestAuth(t)
	other := NewAuthManager("another-secret-key-0123456789abcd", time.Hour, "admin", "")

	foreign, err := other.Issue("admin", domain.RoleAdmin, time.Minute)
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign.AccessToken)
	assert.Error(t, err)

	expired, err := auth.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, ledgerClaims{Role: domain.RoleAdmin})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ParseToken(unsigned)
	assert.Error(t, err)
}

func TestHashPasswordProducesBcrypt(t *testing.T) {
	hash, err := HashPassword("pass1234")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pass1234")))
	assert.True(t, verifyPassword(hash, "pass1234"))
	assert.False(t, verifyPassword("pass1234", "pass1234"))
}
