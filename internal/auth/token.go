package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/crm-identity/internal/domain"
)

// Verification failures. Callers distinguish expiry (refresh) from everything
// else (re-authenticate).
var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenInvalid   = errors.New("auth: token invalid")
	ErrWrongTokenKind = errors.New("auth: wrong token kind")
)

// TokenKind discriminates the two credential shapes.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Token is a verified credential: either *AccessToken or *RefreshToken.
type Token interface {
	Kind() TokenKind
	Subject() string
	isToken()
}

// AccessToken proves identity and the role held when it was issued.
type AccessToken struct {
	UserID    string
	Email     string
	RoleCode  string
	RoleID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (*AccessToken) Kind() TokenKind   { return KindAccess }
func (t *AccessToken) Subject() string { return t.UserID }
func (*AccessToken) isToken()          {}

// Identity returns the request identity carried by the token.
func (t *AccessToken) Identity() *domain.Identity {
	return &domain.Identity{UserID: t.UserID, Email: t.Email, RoleCode: t.RoleCode, RoleID: t.RoleID}
}

// RefreshToken only names its subject; the role is re-read from the store on use.
type RefreshToken struct {
	ID        string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (*RefreshToken) Kind() TokenKind   { return KindRefresh }
func (t *RefreshToken) Subject() string { return t.UserID }
func (*RefreshToken) isToken()          {}

// claims is the wire shape shared by both kinds.
type claims struct {
	Type   TokenKind `json:"type"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role,omitempty"`
	RoleID string    `json:"roleId,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithClock replaces the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration, opts ...TokenOption) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	tm := &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// IssueAccess signs an access token embedding the user's current role.
// The second return value is the lifetime in seconds.
func (tm *TokenManager) IssueAccess(user *domain.User) (string, int64, error) {
	if user == nil || user.ID == "" || user.RoleCode == "" {
		return "", 0, errors.New("auth: access token requires user id and role")
	}
	now := tm.now()
	c := &claims{
		Type:   KindAccess,
		Email:  user.Email,
		Role:   user.RoleCode,
		RoleID: user.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTTL)),
		},
	}
	signed, err := tm.sign(c)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(tm.accessTTL / time.Second), nil
}

// IssueRefresh signs a refresh token for the user. It carries no role or email.
func (tm *TokenManager) IssueRefresh(user *domain.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("auth: refresh token requires user id")
	}
	now := tm.now()
	c := &claims{
		Type: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.refreshTTL)),
		},
	}
	return tm.sign(c)
}

func (tm *TokenManager) sign(c *claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the typed token. It never
// touches the credential store.
func (tm *TokenManager) Verify(tokenStr string) (Token, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return nil, ErrTokenInvalid
	}

	issuedAt := timeOf(c.IssuedAt)
	expiresAt := timeOf(c.ExpiresAt)
	switch c.Type {
	case KindAccess:
		if c.Role == "" {
			return nil, fmt.Errorf("%w: access token without role", ErrTokenInvalid)
		}
		return &AccessToken{
			UserID:    c.Subject,
			Email:     c.Email,
			RoleCode:  c.Role,
			RoleID:    c.RoleID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		}, nil
	case KindRefresh:
		return &RefreshToken{
			ID:        c.ID,
			UserID:    c.Subject,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrTokenInvalid, c.Type)
	}
}

// VerifyAccess verifies tokenStr and requires it to be an access token.
func (tm *TokenManager) VerifyAccess(tokenStr string) (*AccessToken, error) {
	token, err := tm.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	access, ok := token.(*AccessToken)
	if !ok {
		return nil, ErrWrongTokenKind
	}
	return access, nil
}

// VerifyRefresh verifies tokenStr and requires it to be a refresh token.
func (tm *TokenManager) VerifyRefresh(tokenStr string) (*RefreshToken, error) {
	token, err := tm.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	refresh, ok := token.(*RefreshToken)
	if !ok {
		return nil, ErrWrongTokenKind
	}
	return refresh, nil
}

func timeOf(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
