package idgen

import (
	"crypto/rand"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)

	safeToken = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// NewULID — сортируемый по времени id, используется для сообщений чата.
func NewULID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at.UTC()), entropy).String()
}

func NewRoomID() string { return uuid.NewString() }

func NewConnectionID() string { return uuid.NewString() }

// AnonymousID принимает подсказку клиента, если она безопасна, иначе генерирует anon-<uuid>.
func AnonymousID(hint string) string {
	if IsSafeToken(hint) {
		return hint
	}
	return "anon-" + uuid.NewString()
}

func IsSafeToken(s string) bool { return safeToken.MatchString(s) }
