package core

import (
	"net/http"

	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/logger"
	httpx "github.com/joeydtaylor/steeze-applink/pkg/transport/httpx"
	"go.uber.org/zap"
)

type BuildDeps struct {
	Auth     *auth.Middleware
	LogMW    *logger.Middleware
	Metrics  http.Handler
	Router   httpx.Router
	Handlers *HandlerSet
	Registry *dispatch.Registry
	AppLink  *applink.Client
	Log      *zap.Logger
}
