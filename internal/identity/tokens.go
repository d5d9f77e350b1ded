package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

const (
	defaultAccessTTL  = 60 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	refreshTokenBytes = 32
)

// Rejection messages surfaced to the caller on the login/refresh paths.
// "No such user" and "bad password" share one message on purpose.
const (
	msgTenantInactive     = "Tenant subscription is not active. Contact Administrator"
	msgBadCredentials     = "Incorrect email or password"
	msgUserInactive       = "User is not active. Contact Administrator"
	msgTenantExpired      = "Tenant subscription has expired. Contact Administrator"
	msgInvalidToken       = "Invalid token"
	msgAuthenticateFailed = "Authentication failed"
)

// Claims is the claim set embedded into issued tokens: standard subject and
// name claims, the tenant id, role names, and one Permission claim value per
// granted permission.
type Claims struct {
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Tenant      string   `json:"tenant"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claim set contains the exact permission
// name. No hierarchy, no wildcard matching.
func (c *Claims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// HasRole reports whether the claim set carries the role name.
func (c *Claims) HasRole(name string) bool {
	for _, r := range c.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// TokenPair is the login/refresh response: a signed time-boxed JWT paired
// with the rotating refresh token persisted on the user record.
type TokenPair struct {
	Jwt                    string    `json:"jwt"`
	RefreshToken           string    `json:"refresh_token"`
	RefreshTokenExpiryDate time.Time `json:"refresh_token_expiry_date"`
}

// TokenService issues and refreshes signed access tokens. It owns the
// login/refresh state machine and the refresh-token rotation on the user
// record.
type TokenService struct {
	scopes     ScopeFactory
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithAccessTTL configures the access token validity window.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs a TokenService signing with the given HS256
// secret.
func NewTokenService(scopes ScopeFactory, secret string, opts ...TokenOption) (*TokenService, error) {
	if scopes == nil {
		return nil, errors.New("identity: scope factory is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: token secret is required")
	}
	svc := &TokenService{
		scopes:     scopes,
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Login authenticates credentials against the tenant's identity store and
// issues a fresh token pair.
func (s *TokenService) Login(ctx context.Context, tenant tenancy.Tenant, email, password string) (TokenPair, error) {
	if !tenant.IsActive {
		return TokenPair{}, Unauthorized(msgTenantInactive)
	}

	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return TokenPair{}, OperationFailed(err)
	}
	defer scope.Close()

	email = strings.TrimSpace(strings.ToLower(email))
	user, err := scope.Users().FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, Unauthorized(msgBadCredentials)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Unauthorized(msgBadCredentials)
	}
	if !user.IsActive {
		return TokenPair{}, Unauthorized(msgUserInactive)
	}
	if !tenant.IsRoot() && tenant.ValidTo.Before(s.now().UTC()) {
		return TokenPair{}, Unauthorized(msgTenantExpired)
	}

	return s.issueAndRotate(ctx, scope, tenant, user)
}

// Refresh exchanges an expired-but-valid-signature token plus the stored
// refresh token for a fresh pair. Presenting a refresh token that has been
// rotated away always fails.
func (s *TokenService) Refresh(ctx context.Context, tenant tenancy.Tenant, currentJwt, currentRefreshToken string) (TokenPair, error) {
	claims, err := s.parseIgnoringExpiry(currentJwt)
	if err != nil {
		return TokenPair{}, Unauthorized(msgInvalidToken)
	}
	if claims.Tenant != tenant.ID {
		return TokenPair{}, Unauthorized(msgInvalidToken)
	}

	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return TokenPair{}, OperationFailed(err)
	}
	defer scope.Close()

	user, err := scope.Users().Get(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, Unauthorized(msgAuthenticateFailed)
	}
	if user.RefreshToken != currentRefreshToken || user.RefreshTokenExpiry.Before(s.now().UTC()) {
		return TokenPair{}, Unauthorized(msgInvalidToken)
	}

	return s.issueAndRotate(ctx, scope, tenant, user)
}

// issueAndRotate is the shared terminal step of login and refresh: build the
// claim set, sign the token, generate a new refresh token and overwrite the
// user's refresh-token fields. Two concurrent refreshes for one user may
// both reach this point; whichever update lands last wins and the losing
// pair becomes immediately unusable. Once the rotation is persisted it is
// committed; there is no rollback.
func (s *TokenService) issueAndRotate(ctx context.Context, scope Store, tenant tenancy.Tenant, user User) (TokenPair, error) {
	now := s.now().UTC()

	roles, err := scope.Users().Roles(ctx, user.ID)
	if err != nil {
		return TokenPair{}, OperationFailed(err)
	}
	perms, err := s.collectPermissions(ctx, scope, roles)
	if err != nil {
		return TokenPair{}, err
	}

	claims := Claims{
		Email:       user.Email,
		Name:        user.FullName(),
		Tenant:      tenant.ID,
		Roles:       roles,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return TokenPair{}, OperationFailed(err)
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, OperationFailed(err)
	}
	user.RefreshToken = refreshToken
	user.RefreshTokenExpiry = now.Add(s.refreshTTL)
	user.UpdatedAt = now
	if err := scope.Users().Update(ctx, &user); err != nil {
		return TokenPair{}, OperationFailed(err)
	}

	return TokenPair{
		Jwt:                    signed,
		RefreshToken:           refreshToken,
		RefreshTokenExpiryDate: user.RefreshTokenExpiry,
	}, nil
}

// collectPermissions unions the permission claims attached to every assigned
// role, deduplicated, in stable role order.
func (s *TokenService) collectPermissions(ctx context.Context, scope Store, roleNames []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range roleNames {
		role, err := scope.Roles().FindByName(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, OperationFailed(err)
		}
		claims, err := scope.Roles().Claims(ctx, role.ID)
		if err != nil {
			return nil, OperationFailed(err)
		}
		for _, claim := range claims {
			if claim.ClaimType != permissions.ClaimType {
				continue
			}
			if _, ok := seen[claim.ClaimValue]; ok {
				continue
			}
			seen[claim.ClaimValue] = struct{}{}
			out = append(out, claim.ClaimValue)
		}
	}
	return out, nil
}

// Verify validates a presented access token: HS256 signature, structure and
// lifetime with zero clock-skew tolerance.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, Unauthorized(msgInvalidToken)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, s.keyFunc)
	if err != nil {
		return nil, Unauthorized(msgInvalidToken)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, Unauthorized(msgInvalidToken)
	}
	return claims, nil
}

// parseIgnoringExpiry validates signature and structure while explicitly
// skipping claim validation; refresh is only meaningful for an expired
// token whose signature still checks out.
func (s *TokenService) parseIgnoringExpiry(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, s.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("identity: malformed token claims")
	}
	return claims, nil
}

func (s *TokenService) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, errors.New("identity: unexpected signing method")
	}
	return s.secret, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
