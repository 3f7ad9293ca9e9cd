// pkg/electrician/relay.go
package electrician

// Publish-only relay built on Electrician builder primitives. Internals are
// hidden: no builder.* types are stored on the struct.

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/joeydtaylor/electrician/pkg/builder"
)

// RelayRequest is the byte-level publish envelope.
type RelayRequest struct {
	Topic string
	Body  []byte
}

// Publisher sends envelopes to the relay.
type Publisher interface {
	Publish(ctx context.Context, rr RelayRequest) error
	Close()
}

var ErrMissingTopic = errors.New("relay: missing topic")

// noopPublisher accepts publishes and discards them.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, RelayRequest) error { return nil }
func (noopPublisher) Close()                                      {}

type builderPublisher struct {
	submit func(context.Context, []byte) error // captures wire.Submit
	stop   func()
	once   sync.Once
}

// Publish sends bytes into the pipeline. The topic travels inside the body.
func (p *builderPublisher) Publish(ctx context.Context, rr RelayRequest) error {
	if rr.Topic == "" {
		return ErrMissingTopic
	}
	return p.submit(ctx, rr.Body)
}

func (p *builderPublisher) Close() { p.once.Do(p.stop) }

// NewPublisher returns a ForwardRelay[[]byte] backed publisher, or a no-op
// publisher when cfg has no target.
func NewPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	if !cfg.Enabled() {
		return noopPublisher{}, nil
	}

	logger := builder.NewLogger(builder.LoggerWithDevelopment(false))
	ctx, cancel := context.WithCancel(ctx)
	wire := builder.NewWire[[]byte](ctx, builder.WireWithLogger[[]byte](logger))

	perf := builder.NewPerformanceOptions(cfg.UseSnappy, builder.COMPRESS_SNAPPY)
	sec := builder.NewSecurityOptions(len(cfg.AESKey) > 0, builder.ENCRYPTION_AES_GCM)
	tlsCfg := builder.NewTlsClientConfig(
		cfg.UseTLS,
		cfg.TLSCert, cfg.TLSKey, cfg.TLSCA,
		tls.VersionTLS13, tls.VersionTLS13,
	)

	var relayStart func(context.Context) error
	var relayStop func()

	if cfg.oauthEnabled() {
		authOpts := builder.NewForwardRelayAuthenticationOptionsOAuth2(nil)
		if cfg.OAuthJWKSURL != "" {
			authOpts = builder.NewForwardRelayAuthenticationOptionsOAuth2(
				builder.NewForwardRelayOAuth2JWTOptions(cfg.OAuthIssuer, cfg.OAuthJWKSURL, []string{}, cfg.OAuthScopes, 300),
			)
		}
		authHTTP := &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion:         tls.VersionTLS13,
					MaxVersion:         tls.VersionTLS13,
					InsecureSkipVerify: cfg.TLSInsecure, // dev only
				},
			},
		}
		// Token warmup; the relay surfaces auth errors on its own
		_ = preflightOAuthToken(ctx, authHTTP, cfg.OAuthIssuer, cfg.OAuthClientID, cfg.OAuthSecret, cfg.OAuthScopes, cfg.PreflightTimeout)

		ts := builder.NewForwardRelayRefreshingClientCredentialsSource(
			cfg.OAuthIssuer, cfg.OAuthClientID, cfg.OAuthSecret, cfg.OAuthScopes, cfg.OAuthLeeway, authHTTP,
		)
		f := builder.NewForwardRelay[[]byte](
			ctx,
			builder.ForwardRelayWithLogger[[]byte](logger),
			builder.ForwardRelayWithTarget[[]byte](cfg.Targets...),
			builder.ForwardRelayWithPerformanceOptions[[]byte](perf),
			builder.ForwardRelayWithSecurityOptions[[]byte](sec, string(cfg.AESKey)),
			builder.ForwardRelayWithTLSConfig[[]byte](tlsCfg),
			builder.ForwardRelayWithStaticHeaders[[]byte](cfg.StaticHeaders),
			builder.ForwardRelayWithAuthenticationOptions[[]byte](authOpts),
			builder.ForwardRelayWithOAuthBearer[[]byte](ts),
			builder.ForwardRelayWithInput(wire),
		)
		relayStart, relayStop = f.Start, f.Stop
	} else {
		f := builder.NewForwardRelay[[]byte](
			ctx,
			builder.ForwardRelayWithLogger[[]byte](logger),
			builder.ForwardRelayWithTarget[[]byte](cfg.Targets...),
			builder.ForwardRelayWithPerformanceOptions[[]byte](perf),
			builder.ForwardRelayWithSecurityOptions[[]byte](sec, string(cfg.AESKey)),
			builder.ForwardRelayWithTLSConfig[[]byte](tlsCfg),
			builder.ForwardRelayWithStaticHeaders[[]byte](cfg.StaticHeaders),
			builder.ForwardRelayWithInput(wire),
		)
		relayStart, relayStop = f.Start, f.Stop
	}

	// Start: wire -> relay
	if err := wire.Start(ctx); err != nil {
		cancel()
		return nil, errors.Join(errors.New("builder wire start"), err)
	}
	if err := relayStart(ctx); err != nil {
		wire.Stop()
		cancel()
		return nil, errors.Join(errors.New("builder relay start"), err)
	}

	return &builderPublisher{
		submit: func(ctx context.Context, b []byte) error { return wire.Submit(ctx, b) },
		// Stop in reverse
		stop: func() {
			relayStop()
			wire.Stop()
			cancel()
		},
	}, nil
}
