package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

// Token kinds
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// UserSession is the authenticated principal carried in tokens and in the
// request context.
type UserSession struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (u UserSession) IsAdmin() bool {
	return u.Role == constants.RoleAdmin
}

// SeesWholeTenant reports whether the user may read rows owned by others.
func (u UserSession) SeesWholeTenant() bool {
	return u.Role == constants.RoleAdmin || u.Role == constants.RoleManager
}

func (u UserSession) ReadOnly() bool {
	return u.Role == constants.RoleReadOnly
}

// Claims represents JWT claims. The session id travels as the jti.
type Claims struct {
	User UserSession `json:"user"`
	Kind string      `json:"kind"`
	jwt.RegisteredClaims
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (i *TokenIssuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// GenerateToken creates a token of the given kind bound to sessionID.
func (i *TokenIssuer) GenerateToken(session UserSession, sessionID, kind string) (string, time.Time, error) {
	ttl := i.accessTTL
	if kind == TokenRefresh {
		ttl = i.refreshTTL
	}
	now := i.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		User: session,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   session.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

// GeneratePair issues an access and a refresh token for the same session.
func (i *TokenIssuer) GeneratePair(session UserSession, sessionID string) (*TokenPair, error) {
	access, accessExp, err := i.GenerateToken(session, sessionID, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := i.GenerateToken(session, sessionID, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ValidateToken validates signature, expiry, issuer and kind.
func (i *TokenIssuer) ValidateToken(tokenString, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

// DecodeToken decodes a token without validation (for extracting the jti on logout)
func DecodeToken(tokenString string) (*Claims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
