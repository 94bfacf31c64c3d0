package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bissquit/market-sentinel/internal/domain"
)

const (
	testSecret      = "0123456789abcdef0123456789abcdef"
	operatorKey     = "operator-key-0123456789"
	adminKey        = "admin-key-0123456789abc"
	unknownKeyValue = "nobody-key-0123456789ab"
)

func mustHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		APIKeys: []APIKey{
			{Name: "oncall", Hash: mustHash(t, operatorKey), Role: domain.RoleOperator},
			{Name: "root", Hash: mustHash(t, adminKey), Role: domain.RoleAdmin},
		},
		JWTSecret: testSecret,
		TokenTTL:  15 * time.Minute,
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	valid := mustHash(t, operatorKey)

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"short secret", Config{JWTSecret: "short"}, "jwt secret must be at least 32 characters"},
		{"missing name", Config{JWTSecret: testSecret, APIKeys: []APIKey{{Hash: valid, Role: domain.RoleAdmin}}}, "name is required"},
		{"bad hash", Config{JWTSecret: testSecret, APIKeys: []APIKey{{Name: "x", Hash: "plain", Role: domain.RoleAdmin}}}, "invalid bcrypt hash"},
		{"bad role", Config{JWTSecret: testSecret, APIKeys: []APIKey{{Name: "x", Hash: valid, Role: "viewer"}}}, "unknown role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(Config{JWTSecret: testSecret})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, svc.config.TokenTTL)
	assert.Equal(t, "market-sentinel", svc.config.Issuer)
}

func TestIssueToken(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	t.Run("operator key", func(t *testing.T) {
		token, err := svc.IssueToken(context.Background(), operatorKey)
		require.NoError(t, err)
		assert.Equal(t, "Bearer", token.TokenType)
		assert.Equal(t, "oncall", token.Subject)
		assert.Equal(t, domain.RoleOperator, token.Role)
		assert.Equal(t, now.Add(15*time.Minute), token.ExpiresAt)

		subject, role, err := svc.ValidateToken(context.Background(), token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "oncall", subject)
		assert.Equal(t, domain.RoleOperator, role)
	})

	t.Run("admin key", func(t *testing.T) {
		token, err := svc.IssueToken(context.Background(), adminKey)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, token.Role)
	})

	t.Run("unknown and empty keys", func(t *testing.T) {
		_, err := svc.IssueToken(context.Background(), unknownKeyValue)
		assert.ErrorIs(t, err, ErrInvalidAPIKey)

		_, err = svc.IssueToken(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	token, err := svc.IssueToken(context.Background(), operatorKey)
	require.NoError(t, err)
	admin, err := svc.IssueToken(context.Background(), adminKey)
	require.NoError(t, err)

	// Operator header and signature around the admin claims.
	parts := strings.Split(token.AccessToken, ".")
	tampered := parts[0] + "." + strings.Split(admin.AccessToken, ".")[1] + "." + parts[2]

	sign := func(c claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	base := claims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "market-sentinel",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	wrongIssuer := base
	wrongIssuer.Issuer = "someone-else"
	noExpiry := base
	noExpiry.ExpiresAt = nil
	badRole := base
	badRole.Role = "viewer"

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"expired", token.AccessToken, now.Add(16 * time.Minute)},
		{"tampered", tampered, now},
		{"garbage", "not.a.token", now},
		{"wrong secret", sign(base, jwt.SigningMethodHS256, []byte(strings.Repeat("x", 32))), now},
		{"wrong algorithm", sign(base, jwt.SigningMethodHS512, []byte(testSecret)), now},
		{"none algorithm", sign(base, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType), now},
		{"wrong issuer", sign(wrongIssuer, jwt.SigningMethodHS256, []byte(testSecret)), now},
		{"no expiry", sign(noExpiry, jwt.SigningMethodHS256, []byte(testSecret)), now},
		{"unknown role", sign(badRole, jwt.SigningMethodHS256, []byte(testSecret)), now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			svc.now = func() time.Time { return at }

			_, _, err := svc.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey(operatorKey)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(operatorKey)))

	_, err = HashAPIKey("short")
	assert.Error(t, err)
}
