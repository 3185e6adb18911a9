package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"multikasir/backend/internal/cache"
	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/xid"
)

const (
	tokenIssuer  = "multikasir"
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var errInvalidToken = fmt.Errorf("invalid or expired token: %w", store.ErrUnauthorized)

// Accounts is the part of the service the token layer needs.
type Accounts interface {
	RegisterTenant(ctx context.Context, req domain.RegisterRequest) (domain.User, error)
	Authenticate(ctx context.Context, tenantID string, email string, password string) (domain.User, error)
	LookupActiveUser(ctx context.Context, tenantID string, userID string) (domain.User, error)
}

// AuthManager issues and verifies HS256 token pairs. Access and refresh tokens
// are signed with different secrets so one can never stand in for the other.
type AuthManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	accounts      Accounts
	denylist      cache.TokenDenylist
	now           func() time.Time
}

type posClaims struct {
	jwtlib.RegisteredClaims
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Type     string `json:"typ"`
}

func NewAuthManager(accessSecret string, refreshSecret string, accessTTL time.Duration, refreshTTL time.Duration, accounts Accounts, denylist cache.TokenDenylist) *AuthManager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	if denylist == nil {
		denylist = cache.NewMemoryDenylist()
	}
	return &AuthManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		accounts:      accounts,
		denylist:      denylist,
		now:           time.Now,
	}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error) {
	user, err := a.accounts.RegisterTenant(ctx, req)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return a.issue(user)
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	user, err := a.accounts.Authenticate(ctx, req.TenantID, req.Email, req.Password)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return a.issue(user)
}

// Refresh trades a live refresh token for a new pair. The presented token is
// revoked before the pair is issued, so a replay or a concurrent second
// refresh fails.
func (a *AuthManager) Refresh(ctx context.Context, refreshToken string) (domain.AuthResponse, error) {
	claims, err := a.parse(ctx, refreshToken, a.refreshSecret, tokenRefresh)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	user, err := a.accounts.LookupActiveUser(ctx, claims.TenantID, claims.Subject)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	if err := a.revoke(ctx, claims); err != nil {
		return domain.AuthResponse{}, err
	}
	return a.issue(user)
}

// Logout revokes a refresh token belonging to actor.
func (a *AuthManager) Logout(ctx context.Context, actor domain.Actor, refreshToken string) error {
	claims, err := a.parse(ctx, refreshToken, a.refreshSecret, tokenRefresh)
	if err != nil {
		return err
	}
	if claims.Subject != actor.UserID || claims.TenantID != actor.TenantID {
		return fmt.Errorf("refresh token belongs to another user: %w", store.ErrForbidden)
	}
	return a.revoke(ctx, claims)
}

func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims, err := a.parse(ctx, tokenStr, a.accessSecret, tokenAccess)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}

func (a *AuthManager) issue(user domain.User) (domain.AuthResponse, error) {
	now := a.now().UTC()
	accessExpires := now.Add(a.accessTTL)
	access, err := a.sign(user, tokenAccess, now, accessExpires, a.accessSecret)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	refresh, err := a.sign(user, tokenRefresh, now, now.Add(a.refreshTTL), a.refreshSecret)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return domain.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpires.Format(time.RFC3339),
		User:         user,
	}, nil
}

func (a *AuthManager) sign(user domain.User, kind string, issuedAt time.Time, expiresAt time.Time, secret []byte) (string, error) {
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New(""),
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		TenantID: user.TenantID,
		Email:    user.Email,
		Role:     user.Role,
		Type:     kind,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (a *AuthManager) parse(ctx context.Context, tokenStr string, secret []byte, kind string) (*posClaims, error) {
	if tokenStr == "" {
		return nil, errInvalidToken
	}
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.Type != kind || claims.Subject == "" || claims.TenantID == "" {
		return nil, errInvalidToken
	}

	if kind == tokenRefresh {
		revoked, err := a.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check token denylist: %w", err)
		}
		if revoked {
			return nil, errInvalidToken
		}
	}
	return claims, nil
}

// revoke claims the token id. The denylist check in parse only filters
// tokens revoked earlier; this claim is what lets a single concurrent
// refresh or logout through.
func (a *AuthManager) revoke(ctx context.Context, claims *posClaims) error {
	until := a.now().Add(a.refreshTTL)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	won, err := a.denylist.Revoke(ctx, claims.ID, until)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !won {
		return errInvalidToken
	}
	return nil
}
