package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/xid"
)

const tokenIssuer = "retailpos"

var errInvalidToken = errors.New("invalid or expired token")

// AuthManager issues and verifies bearer tokens. Credentials are checked by
// the service; this type only deals with the token once a login succeeded.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	sessions cache.SessionStore
	now      func() time.Time
}

// Session is what a verified token says about its holder.
type Session struct {
	TokenID   string
	AccountID string
	Username  string
	Role      domain.RoleName
	ExpiresAt time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Username string          `json:"username"`
	Role     domain.RoleName `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, sessions cache.SessionStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if sessions == nil {
		sessions = cache.NewMemorySessionStore()
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		sessions: sessions,
		now:      time.Now,
	}
}

func (a *AuthManager) Issue(account domain.Account) (string, time.Time, error) {
	issuedAt := a.now().UTC()
	expiresAt := issuedAt.Add(a.tokenTTL)
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   account.ID,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Username: account.Username,
		Role:     account.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (a *AuthManager) Parse(ctx context.Context, tokenStr string) (Session, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return Session{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return Session{}, errInvalidToken
	}

	revoked, err := a.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, errInvalidToken
	}
	return Session{
		TokenID:   claims.ID,
		AccountID: sub,
		Username:  claims.Username,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke blocks the token for the rest of its lifetime.
func (a *AuthManager) Revoke(ctx context.Context, session Session) error {
	ttl := session.ExpiresAt.Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	return a.sessions.Revoke(ctx, session.TokenID, ttl)
}
