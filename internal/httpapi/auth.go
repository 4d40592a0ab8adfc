package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"sellerledger/backend/internal/domain"
)

const tokenIssuer = "sellerledger"

var errInvalidCredentials = errors.New("invalid credentials")

// AuthManager signs and verifies bearer tokens. The only interactive login
// is the configured admin; seller, rail and system tokens are issued by an
// admin for the integrations that need them.
type AuthManager struct {
	secret        []byte
	tokenTTL      time.Duration
	adminUsername string
	adminHash     string
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

type TokenRequest struct {
	Subject    string `json:"subject"`
	Role       string `json:"role"`
	TTLMinutes int    `json:"ttl_minutes"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, adminUsername string, adminPasswordHash string) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:        []byte(secret),
		tokenTTL:      tokenTTL,
		adminUsername: strings.TrimSpace(adminUsername),
		adminHash:     strings.TrimSpace(adminPasswordHash),
	}
}

func (a *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if a.adminUsername == "" || username != a.adminUsername {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(a.adminHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	return a.Issue(username, domain.RoleAdmin, a.tokenTTL)
}

// Issue mints a token for any known role.
func (a *AuthManager) Issue(subject string, role string, ttl time.Duration) (domain.LoginResponse, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return domain.LoginResponse{}, errors.New("subject is required")
	}
	if !isKnownRole(role) {
		return domain.LoginResponse{}, fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = a.tokenTTL
	}

	expiresAt := time.Now().UTC().Add(ttl)
	token, err := a.sign(subject, role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if !isKnownRole(claims.Role) {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{Subject: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(subject, role string, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func isKnownRole(role string) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleSeller, domain.RoleRail, domain.RoleSystem:
		return true
	}
	return false
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
