package serverfx

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/core"
	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
	"github.com/joeydtaylor/steeze-applink/pkg/electrician"
	"github.com/joeydtaylor/steeze-applink/pkg/manifest"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-applink/pkg/transport/httpx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Options allow per-service env keys/defaults without code duplication.
type Options struct {
	Service         string        // "applink"
	ManifestEnv     string        // e.g. "APP_MANIFEST"
	DefaultManifest string        // e.g. "manifest.toml"
	ListenAddrEnv   string        // e.g. "SERVER_LISTEN_ADDRESS"; falls back to PORT
	DefaultListen   string        // e.g. ":3000"
	TLSCertEnv      string        // e.g. "SSL_SERVER_CERTIFICATE"
	TLSKeyEnv       string        // e.g. "SSL_SERVER_KEY"
	DrainTimeout    time.Duration // deferred async work allowed after HTTP shutdown
}

// ---- Config ----

func provideConfig(opts Options, log *zap.Logger) (manifest.Config, error) {
	cfgPath := envOr(opts.ManifestEnv, opts.DefaultManifest)
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		log.Error("manifest load failed", zap.Error(err), zap.String("path", cfgPath))
		return manifest.Config{}, err
	}
	return cfg, nil
}

// ---- Auth ----

func provideAuth(lc fx.Lifecycle, log *zap.Logger) (*auth.Middleware, error) {
	m, err := auth.ProvideAuthentication(log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(m.Stop))
	return m, nil
}

// ---- Async dispatch ----

func provideNotifier(lc fx.Lifecycle, cfg manifest.Config, log *zap.Logger) (dispatch.Notifier, error) {
	ecfg, err := electrician.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var topics []string
	for _, rt := range cfg.AsyncRoutes() {
		if rt.Salesforce.Topic != "" {
			topics = append(topics, rt.Salesforce.Topic)
		}
	}
	if len(topics) > 0 && !ecfg.Enabled() {
		log.Warn("completion topics configured but no relay target; completions are dropped",
			zap.Strings("topics", topics),
			zap.String("ELECTRICIAN_TARGET", os.Getenv("ELECTRICIAN_TARGET")),
		)
	}

	pub, err := electrician.NewPublisher(context.Background(), ecfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(pub.Close))
	return electrician.NewNotifier(pub), nil
}

func provideRegistry(log *zap.Logger, n dispatch.Notifier) *dispatch.Registry {
	opts := []dispatch.RegistryOption{
		dispatch.WithNotifier(n),
		dispatch.WithErrorWriter(core.ErrorWriter(log)),
	}
	if strings.EqualFold(os.Getenv("ASYNC_DUPLICATE_POLICY"), "reject") {
		opts = append(opts, dispatch.WithDuplicatePolicy(dispatch.Reject))
	}
	return dispatch.NewRegistry(log.Named("dispatch"), opts...)
}

// ---- Handlers ----

type handlerDeps struct {
	fx.In
	Registrars []core.Registrar `group:"handlers"`
}

func provideHandlers(d handlerDeps) *core.HandlerSet {
	hs := core.NewHandlerSet()
	for _, reg := range d.Registrars {
		reg(hs)
	}
	return hs
}

// ---- Router ----

type routerDeps struct {
	fx.In

	Cfg manifest.Config

	AuthMW *auth.Middleware
	LogMW  *logger.Middleware

	Metrics http.Handler `name:"metrics"`

	R        httpx.Router
	Handlers *core.HandlerSet
	Registry *dispatch.Registry
	AppLink  *applink.Client
	Log      *zap.Logger
}

func provideRouter(d routerDeps) (http.Handler, error) {
	return core.BuildRouter(d.Cfg, core.BuildDeps{
		Auth:     d.AuthMW,
		LogMW:    d.LogMW,
		Metrics:  d.Metrics,
		Router:   d.R,
		Handlers: d.Handlers,
		Registry: d.Registry,
		AppLink:  d.AppLink,
		Log:      d.Log,
	})
}

// ---- Server lifecycle ----

type serverDeps struct {
	fx.In
	Opts     Options
	Logger   *zap.Logger
	Registry *dispatch.Registry
	App      http.Handler `name:"app"`
}

func listenAddr(opts Options) string {
	if v := os.Getenv(opts.ListenAddrEnv); v != "" {
		return v
	}
	if p := os.Getenv("PORT"); p != "" {
		return ":" + p
	}
	return opts.DefaultListen
}

func registerHooks(lc fx.Lifecycle, d serverDeps) {
	addr := listenAddr(d.Opts)
	cert := os.Getenv(d.Opts.TLSCertEnv)
	key := os.Getenv(d.Opts.TLSKeyEnv)

	srv := &http.Server{
		Addr:         addr,
		Handler:      d.App,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS13, MaxVersion: tls.VersionTLS13},
	}
	useTLS := fileExists(cert) && fileExists(key)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if useTLS {
				d.Logger.Info("server starting (TLS)",
					zap.String("service", d.Opts.Service),
					zap.String("addr", addr),
					zap.String("cert", cert),
				)
				go func() {
					if err := srv.ListenAndServeTLS(cert, key); err != nil && err != http.ErrServerClosed {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
				return nil
			}
			d.Logger.Info("server starting (PLAINTEXT)",
				zap.String("service", d.Opts.Service),
				zap.String("addr", addr),
			)
			srv.TLSConfig = nil
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					d.Logger.Fatal("server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping", zap.String("service", d.Opts.Service))
			err := srv.Shutdown(ctx)

			// Acknowledged requests still owe their deferred work.
			drainCtx := ctx
			if d.Opts.DrainTimeout > 0 {
				var cancel context.CancelFunc
				drainCtx, cancel = context.WithTimeout(ctx, d.Opts.DrainTimeout)
				defer cancel()
			}
			if derr := d.Registry.Shutdown(drainCtx); derr != nil {
				d.Logger.Warn("deferred work cancelled at shutdown", zap.Error(derr))
			}
			return err
		},
	})
}

// ---- Public Fx module ----

func Module(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(opts),

		// Middleware modules
		logger.Module,
		fx.Provide(provideAuth),

		// Metrics (named)
		fx.Provide(fx.Annotate(metrics.ProvideMetrics, fx.ResultTags(`name:"metrics"`))),

		// Router implementation
		fx.Provide(httpx.NewChi),

		fx.Provide(
			provideConfig,
			func() *applink.Client { return applink.NewClient(nil) },
			provideNotifier,
			provideRegistry,
			provideHandlers,
		),

		// Router (named "app")
		fx.Provide(
			fx.Annotate(
				provideRouter,
				fx.ResultTags(`name:"app"`),
			),
		),

		fx.Invoke(registerHooks),
	)
}

// ---- helpers ----

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
