// Package routes holds the named handlers a manifest can mount.
package routes

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/core"
	"go.uber.org/zap"
)

// Handler names referenced from manifest.toml.
const (
	Healthcheck     = "healthcheck"
	AccountsList    = "accounts.list"
	UnitOfWork      = "unitofwork.create"
	AttachmentParse = "attachment.parse"
	DataAction      = "dataaction.handle"
)

type Deps struct {
	Log *zap.Logger
	// HTTPClient posts unit of work results to callback URLs.
	HTTPClient *http.Client
	// CallbackBackOff returns the retry schedule of one callback delivery.
	CallbackBackOff func() backoff.BackOff
}

type handlers struct {
	log        *zap.Logger
	hc         *http.Client
	newBackOff func() backoff.BackOff
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.WithMaxRetries(b, 5)
}

// Register adds every handler of this package to hs.
func Register(hs *core.HandlerSet, d Deps) {
	h := &handlers{log: d.Log, hc: d.HTTPClient, newBackOff: d.CallbackBackOff}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.hc == nil {
		h.hc = &http.Client{Timeout: 30 * time.Second}
	}
	if h.newBackOff == nil {
		h.newBackOff = defaultBackOff
	}

	hs.Handle(Healthcheck, healthcheck)
	hs.Handle(AccountsList, h.listAccounts)
	hs.HandleAsync(UnitOfWork, h.commitUnitOfWork, h.acceptUnitOfWork)
	hs.Handle(AttachmentParse, h.parseAttachment)
	hs.HandleAsync(DataAction, h.handleDataAction, nil)
}

// Provide contributes this package's handlers to the "handlers" fx group.
func Provide(log *zap.Logger, c *applink.Client) core.Registrar {
	return func(hs *core.HandlerSet) {
		Register(hs, Deps{Log: log, HTTPClient: c.HTTPClient()})
	}
}
