package electrician

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// preflightOAuthToken attempts a client-credentials token call, backing off
// for up to total. Best effort: callers ignore the error.
func preflightOAuthToken(ctx context.Context, hc *http.Client, issuer, clientID, clientSecret string, scopes []string, total time.Duration) error {
	if issuer == "" || clientID == "" || clientSecret == "" {
		return nil
	}
	tokenURL := strings.TrimRight(issuer, "/") + "/api/auth/oauth/token"
	if _, err := url.Parse(tokenURL); err != nil {
		return backoff.Permanent(err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	payload := form.Encode()

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, tokenURL, strings.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("token endpoint status %d", resp.StatusCode)
		}
		return nil
	}

	if total <= 0 {
		total = 8 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = total
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
