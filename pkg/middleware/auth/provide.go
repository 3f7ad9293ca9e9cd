package auth

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Config selects how callers are identified.
type Config struct {
	DevBypass       bool
	AssertionCookie string
	KeyURL          string // JWKS or PEM endpoint
	KeyID           string
	PublicKeyPEM    string // static key, used when KeyURL is empty
	Issuer          string
	Audience        string
	Leeway          time.Duration
	HTTPClient      HTTPDoer
}

// ConfigFromEnv reads AUTH_DEV_BYPASS and the ASSERTION_* variables.
func ConfigFromEnv() Config {
	leeway := 60 * time.Second
	if v := strings.TrimSpace(os.Getenv("ASSERTION_LEEWAY_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			leeway = time.Duration(n) * time.Second
		}
	}
	return Config{
		DevBypass:       os.Getenv("AUTH_DEV_BYPASS") == "true",
		AssertionCookie: strings.TrimSpace(os.Getenv("ASSERTION_COOKIE_NAME")),
		KeyURL:          strings.TrimSpace(os.Getenv("ASSERTION_KEY_URL")),
		KeyID:           strings.TrimSpace(os.Getenv("ASSERTION_KEY_KID")),
		PublicKeyPEM:    os.Getenv("ASSERTION_PUBLIC_KEY"),
		Issuer:          strings.TrimSpace(os.Getenv("ASSERTION_ISSUER")),
		Audience:        strings.TrimSpace(os.Getenv("ASSERTION_AUDIENCE")),
		Leeway:          leeway,
	}
}

// New builds the middleware without touching the network.
func New(cfg Config, log *zap.Logger) (*Middleware, error) {
	if log == nil {
		log = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			Timeout: 8 * time.Second,
		}
	}
	if cfg.AssertionCookie == "" {
		cfg.AssertionCookie = "assert"
	}
	m := &Middleware{
		httpClient:       hc,
		log:              log,
		devBypass:        cfg.DevBypass,
		assertCookieName: cfg.AssertionCookie,
		assertKeyURL:     cfg.KeyURL,
		assertKeyKID:     cfg.KeyID,
		assertIssuer:     cfg.Issuer,
		assertAudience:   cfg.Audience,
		assertLeeway:     cfg.Leeway,
		cacheTTL:         1 * time.Hour, // default; overridable by Cache-Control
		stop:             make(chan struct{}),
	}
	if pemKey := strings.TrimSpace(cfg.PublicKeyPEM); pemKey != "" {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
		if err != nil {
			return nil, err
		}
		m.assertKey = pub
	}
	if m.devBypass {
		log.Warn("auth dev bypass enabled")
	}
	return m, nil
}

// ProvideAuthentication wires env config and non-fatally fetches the
// assertion key on startup.
func ProvideAuthentication(log *zap.Logger) (*Middleware, error) {
	m, err := New(ConfigFromEnv(), log)
	if err != nil {
		return nil, err
	}
	m.Start()
	return m, nil
}
