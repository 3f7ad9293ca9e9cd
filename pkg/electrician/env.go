package electrician

import (
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"time"
)

// Config is the forward relay configuration. Pure data, no builder types.
type Config struct {
	Targets       []string
	UseTLS        bool
	TLSCert       string
	TLSKey        string
	TLSCA         string
	TLSInsecure   bool
	UseSnappy     bool
	AESKey        []byte // AES-GCM when non-empty
	StaticHeaders map[string]string

	OAuthIssuer      string
	OAuthJWKSURL     string
	OAuthClientID    string
	OAuthSecret      string
	OAuthScopes      []string
	OAuthLeeway      time.Duration
	PreflightTimeout time.Duration
}

// Enabled reports whether a relay target is configured.
func (c Config) Enabled() bool { return len(c.Targets) > 0 }

func (c Config) oauthEnabled() bool {
	return c.OAuthIssuer != "" && c.OAuthClientID != "" && c.OAuthSecret != ""
}

// ConfigFromEnv reads:
//
//	ELECTRICIAN_TARGET          = "host:port[,host2:port2]"
//	ELECTRICIAN_TLS_ENABLE      = "true" | "false"
//	ELECTRICIAN_TLS_CLIENT_CRT  = path (default: keys/tls/client.crt)
//	ELECTRICIAN_TLS_CLIENT_KEY  = path (default: keys/tls/client.key)
//	ELECTRICIAN_TLS_CA          = path (default: keys/tls/ca.crt)
//	ELECTRICIAN_TLS_INSECURE    = "true" | "false"  (dev only; OAuth HTTP client)
//	ELECTRICIAN_COMPRESS        = "snappy" | ""
//	ELECTRICIAN_ENCRYPT         = "aesgcm" | ""
//	ELECTRICIAN_AES256_KEY_HEX  = 64 hex chars (32 bytes)
//	ELECTRICIAN_STATIC_HEADERS  = "k=v,k2=v2"
//
// OAuth2 client credentials (issuer, id and secret must all be set):
//
//	OAUTH_ISSUER_BASE, OAUTH_JWKS_URL, OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET,
//	OAUTH_SCOPES ("s1,s2"), OAUTH_REFRESH_LEEWAY (20s), OAUTH_PREFLIGHT_TIMEOUT (8s)
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Targets:       splitCSV(os.Getenv("ELECTRICIAN_TARGET")),
		UseTLS:        strings.EqualFold(os.Getenv("ELECTRICIAN_TLS_ENABLE"), "true"),
		TLSCert:       envOr("ELECTRICIAN_TLS_CLIENT_CRT", "keys/tls/client.crt"),
		TLSKey:        envOr("ELECTRICIAN_TLS_CLIENT_KEY", "keys/tls/client.key"),
		TLSCA:         envOr("ELECTRICIAN_TLS_CA", "keys/tls/ca.crt"),
		TLSInsecure:   strings.EqualFold(os.Getenv("ELECTRICIAN_TLS_INSECURE"), "true"),
		UseSnappy:     strings.EqualFold(os.Getenv("ELECTRICIAN_COMPRESS"), "snappy"),
		StaticHeaders: parseKV(os.Getenv("ELECTRICIAN_STATIC_HEADERS")),

		OAuthIssuer:      strings.TrimSpace(os.Getenv("OAUTH_ISSUER_BASE")),
		OAuthJWKSURL:     strings.TrimSpace(os.Getenv("OAUTH_JWKS_URL")),
		OAuthClientID:    strings.TrimSpace(os.Getenv("OAUTH_CLIENT_ID")),
		OAuthSecret:      strings.TrimSpace(os.Getenv("OAUTH_CLIENT_SECRET")),
		OAuthScopes:      splitCSV(os.Getenv("OAUTH_SCOPES")),
		OAuthLeeway:      parseDur(envOr("OAUTH_REFRESH_LEEWAY", "20s"), 20*time.Second),
		PreflightTimeout: parseDur(envOr("OAUTH_PREFLIGHT_TIMEOUT", "8s"), 8*time.Second),
	}
	if strings.EqualFold(os.Getenv("ELECTRICIAN_ENCRYPT"), "aesgcm") {
		raw, err := hex.DecodeString(strings.TrimSpace(os.Getenv("ELECTRICIAN_AES256_KEY_HEX")))
		if err != nil || len(raw) != 32 {
			return cfg, errors.New("ELECTRICIAN_AES256_KEY_HEX must be 64 hex chars (32 bytes)")
		}
		cfg.AESKey = raw
	}
	return cfg, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func parseKV(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if ok && strings.TrimSpace(k) != "" {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

func parseDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
