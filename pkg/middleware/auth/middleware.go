package auth

import (
	"crypto/rsa"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTPDoer fetches the assertion signing key. *http.Client satisfies it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Middleware resolves the caller of each request.
type Middleware struct {
	httpClient HTTPDoer
	log        *zap.Logger
	devBypass  bool

	// Assertion verification
	assertCookieName string
	assertKeyURL     string
	assertKeyKID     string
	assertIssuer     string
	assertAudience   string
	assertLeeway     time.Duration

	// guarded by mu
	mu         sync.RWMutex
	assertKey  *rsa.PublicKey
	assertETag string
	cacheTTL   time.Duration
	lastFetch  time.Time

	stop     chan struct{}
	stopOnce sync.Once
}
