// Package identity exchanges operator API keys for short-lived JWTs and
// validates those tokens on every admin request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// Identity errors.
var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

const (
	defaultTokenTTL = time.Hour
	defaultIssuer   = "market-sentinel"
	minSecretLength = 32
)

// APIKey is a named operator credential. Hash is the bcrypt hash of the key.
type APIKey struct {
	Name string
	Hash string
	Role domain.Role
}

// Config contains identity configuration.
type Config struct {
	APIKeys   []APIKey
	JWTSecret string
	TokenTTL  time.Duration
	Issuer    string
}

// Token is an issued access token.
type Token struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Subject     string      `json:"subject"`
	Role        domain.Role `json:"role"`
}

type claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates tokens.
type Service struct {
	config Config
	secret []byte
	now    func() time.Time
}

// NewService creates a new identity service.
func NewService(config Config) (*Service, error) {
	if len(config.JWTSecret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	for i, k := range config.APIKeys {
		if k.Name == "" {
			return nil, fmt.Errorf("api key %d: name is required", i)
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("api key %q: invalid bcrypt hash: %w", k.Name, err)
		}
		if !k.Role.HasPermission(domain.RoleOperator) {
			return nil, fmt.Errorf("api key %q: unknown role %q", k.Name, k.Role)
		}
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultTokenTTL
	}
	if config.Issuer == "" {
		config.Issuer = defaultIssuer
	}

	return &Service{
		config: config,
		secret: []byte(config.JWTSecret),
		now:    time.Now,
	}, nil
}

// IssueToken returns a signed token for the key matching apiKey.
func (s *Service) IssueToken(_ context.Context, apiKey string) (*Token, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	var match *APIKey
	for i := range s.config.APIKeys {
		k := &s.config.APIKeys[i]
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(apiKey)) == nil {
			match = k
			break
		}
	}
	if match == nil {
		return nil, ErrInvalidAPIKey
	}

	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: match.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   match.Name,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		Subject:     match.Name,
		Role:        match.Role,
	}, nil
}

// ValidateToken checks signature, issuer and expiry and returns the
// subject and role. It implements httputil.TokenValidator.
func (s *Service) ValidateToken(_ context.Context, tokenString string) (string, domain.Role, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !c.Role.HasPermission(domain.RoleOperator) {
		return "", "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return c.Subject, c.Role, nil
}

// HashAPIKey returns the bcrypt hash to store in configuration for key.
func HashAPIKey(key string) (string, error) {
	if len(key) < 16 {
		return "", errors.New("api key must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}
