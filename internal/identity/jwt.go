package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTConfig struct {
	Secret        string // HS256
	PublicKeyPEM  string // RS256, содержимое PEM
	PublicKeyPath string // RS256, путь к PEM
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// JWTProvider проверяет токены локально; sub — id пользователя.
type JWTProvider struct {
	secret   []byte
	public   *rsa.PublicKey
	methods  []string
	issuer   string
	audience string
	leeway   time.Duration
}

func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	p := &JWTProvider{issuer: cfg.Issuer, audience: cfg.Audience, leeway: cfg.Leeway}

	pemData := strings.TrimSpace(cfg.PublicKeyPEM)
	if pemData == "" && cfg.PublicKeyPath != "" {
		b, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		pemData = string(b)
	}

	switch {
	case pemData != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		p.public = key
		p.methods = []string{jwt.SigningMethodRS256.Alg()}
	case cfg.Secret != "":
		p.secret = []byte(cfg.Secret)
		p.methods = []string{jwt.SigningMethodHS256.Alg()}
	default:
		return nil, errors.New("jwt provider: secret or public key is required")
	}
	return p, nil
}

func (p *JWTProvider) Verify(_ context.Context, token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(p.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(p.leeway),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		if p.public != nil {
			return p.public, nil
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: sub is empty", ErrInvalidToken)
	}
	return claims.Subject, nil
}
