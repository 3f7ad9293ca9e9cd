package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Start fetches the assertion key (non-fatal) and keeps it fresh until Stop.
func (m *Middleware) Start() {
	if m.assertKeyURL == "" {
		return
	}
	if err := m.refreshAssertionKey(context.Background()); err != nil {
		m.log.Warn("assertion key fetch failed", zap.String("url", m.assertKeyURL), zap.Error(err))
	}
	go m.backgroundRefresh()
}

// Stop ends the background key refresh.
func (m *Middleware) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Middleware) backgroundRefresh() {
	for {
		sleep := m.getCacheTTL()
		if sleep < 5*time.Second {
			sleep = 5 * time.Second
		}
		t := time.NewTimer(sleep)
		select {
		case <-m.stop:
			t.Stop()
			return
		case <-t.C:
		}
		if err := m.refreshAssertionKey(context.Background()); err != nil {
			m.log.Warn("assertion key refresh failed", zap.Error(err))
		}
	}
}

func (m *Middleware) refreshAssertionKey(ctx context.Context) error {
	if m.assertKeyURL == "" {
		return errors.New("ASSERTION_KEY_URL not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.assertKeyURL, nil)
	if err != nil {
		return err
	}
	if etag := m.getETag(); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	req.Header.Set("Accept", "*/*")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// Honor 304 with previous key
	if res.StatusCode == http.StatusNotModified && m.getKey() != nil {
		m.mu.Lock()
		m.updateCacheTTLFromHeadersLocked(res)
		m.lastFetch = time.Now()
		m.mu.Unlock()
		return nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("key fetch %s: %s", m.assertKeyURL, res.Status)
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	var pub *rsa.PublicKey
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/json") || strings.HasSuffix(strings.ToLower(m.assertKeyURL), ".json") {
		pub, err = selectJWK(b, m.assertKeyKID)
	} else {
		pub, err = jwt.ParseRSAPublicKeyFromPEM(b)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.assertKey = pub
	m.assertETag = res.Header.Get("ETag")
	m.updateCacheTTLFromHeadersLocked(res)
	m.lastFetch = time.Now()
	m.mu.Unlock()
	return nil
}

// selectJWK picks the key with kid, or the first RSA signing key.
func selectJWK(doc []byte, kid string) (*rsa.PublicKey, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errors.New("jwks: invalid json")
	}
	var sel gjson.Result
	gjson.GetBytes(doc, "keys").ForEach(func(_, k gjson.Result) bool {
		if k.Get("kty").String() != "RSA" {
			return true
		}
		if kid != "" {
			if k.Get("kid").String() == kid {
				sel = k
				return false
			}
			return true
		}
		use, alg := k.Get("use").String(), k.Get("alg").String()
		if (use == "" || use == "sig") && (alg == "" || strings.EqualFold(alg, "RS256")) {
			sel = k
			return false
		}
		return true
	})
	if !sel.Exists() {
		return nil, errors.New("no suitable RSA key in JWKS")
	}
	nBytes, err := b64url(sel.Get("n").String())
	if err != nil {
		return nil, fmt.Errorf("bad jwks.n: %w", err)
	}
	eBytes, err := b64url(sel.Get("e").String())
	if err != nil {
		return nil, fmt.Errorf("bad jwks.e: %w", err)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: bytesToInt(eBytes)}, nil
}

func (m *Middleware) updateCacheTTLFromHeadersLocked(res *http.Response) {
	for _, p := range strings.Split(res.Header.Get("Cache-Control"), ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if s, ok := strings.CutPrefix(p, "max-age="); ok {
			if n, err := strconv.Atoi(s); err == nil && n >= 5 {
				m.cacheTTL = time.Duration(n) * time.Second
				return
			}
		}
	}
}

func (m *Middleware) getKey() *rsa.PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assertKey
}

func (m *Middleware) getETag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assertETag
}

func (m *Middleware) getCacheTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cacheTTL
}
