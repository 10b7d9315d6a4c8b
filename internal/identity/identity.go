package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/idgen"
)

var (
	ErrNoToken      = errors.New("no token")
	ErrInvalidToken = errors.New("invalid token")
)

// Provider проверяет bearer-токен и возвращает id пользователя.
type Provider interface {
	Verify(ctx context.Context, token string) (string, error)
}

type Identity struct {
	UserID          string
	IsAuthenticated bool
}

const DefaultLookupTimeout = 5 * time.Second

// Resolver никогда не возвращает ошибку: любая проблема с токеном или провайдером
// превращается в анонимный id.
type Resolver struct {
	provider Provider
	timeout  time.Duration
	log      *slog.Logger
}

func NewResolver(p Provider, timeout time.Duration, log *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{provider: p, timeout: timeout, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, token, anonymousHint string) Identity {
	token = strings.TrimSpace(token)
	if token == "" || r.provider == nil {
		return anonymous(anonymousHint)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userID, err := r.provider.Verify(ctx, token)
	if err != nil {
		r.log.WarnContext(ctx, "identity lookup failed, falling back to anonymous", "err", fmt.Errorf("%w: %w", domain.ErrAuthProvider, err))
		return anonymous(anonymousHint)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		r.log.WarnContext(ctx, "identity provider returned empty user id")
		return anonymous(anonymousHint)
	}
	return Identity{UserID: userID, IsAuthenticated: true}
}

func anonymous(hint string) Identity {
	return Identity{UserID: idgen.AnonymousID(strings.TrimSpace(hint))}
}

// NoneProvider: все соединения анонимны.
type NoneProvider struct{}

func (NoneProvider) Verify(context.Context, string) (string, error) { return "", ErrNoToken }
