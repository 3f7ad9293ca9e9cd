package main

import (
	"time"

	"github.com/joeydtaylor/steeze-applink/pkg/routes"
	"github.com/joeydtaylor/steeze-applink/pkg/serverfx"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	// Local runs read .env; on Heroku the config vars are already set.
	_ = godotenv.Load()

	fx.New(
		serverfx.Module(serverfx.Options{
			Service:         "applink",
			ManifestEnv:     "APP_MANIFEST",
			DefaultManifest: "manifest.toml",
			ListenAddrEnv:   "SERVER_LISTEN_ADDRESS",
			DefaultListen:   ":3000",
			TLSCertEnv:      "SSL_SERVER_CERTIFICATE",
			TLSKeyEnv:       "SSL_SERVER_KEY",
			DrainTimeout:    25 * time.Second,
		}),
		fx.Provide(fx.Annotate(routes.Provide, fx.ResultTags(`group:"handlers"`))),
	).Run()
}
