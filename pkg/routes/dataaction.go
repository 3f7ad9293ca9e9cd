package routes

import (
	"context"
	"net/http"
	"strconv"

	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
	"go.uber.org/zap"
)

// handleDataAction processes a Data Cloud data action target request after
// the 201. Data Cloud does not send x-client-context.
func (h *handlers) handleDataAction(_ context.Context, _ *http.Request, st *dispatch.State) error {
	req, err := applink.ParseDataActionEvent(st.Body())
	if err != nil {
		return err
	}
	st.Annotate("events", strconv.Itoa(len(req.Events)))
	for _, ev := range req.Events {
		h.log.Info("data action event",
			zap.String("requestId", st.RequestID()),
			zap.String("action", ev.ActionDeveloperName),
			zap.String("eventType", ev.EventType),
			zap.String("sourceObject", ev.SourceObjectDeveloperName),
			zap.Time("publishedAt", ev.PublishedAt),
			zap.String("current", ev.Current),
		)
	}
	return nil
}
