package routes

import (
	"net/http"
	"strings"

	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/core"
	"go.uber.org/zap"
)

// parseAttachment downloads a PDF ContentVersion and returns its text.
func (h *handlers) parseAttachment(w http.ResponseWriter, r *http.Request) error {
	ac, err := orgOf(r)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(r.URL.Query().Get("contentVersionId"))
	if id == "" {
		return core.Errorf(http.StatusBadRequest, "contentVersionId query parameter required")
	}
	if !applink.ValidRecordID(id) {
		return core.Errorf(http.StatusBadRequest, "contentVersionId %q is not a record id", id)
	}

	data, err := ac.Org.DataAPI.ContentVersionData(r.Context(), id)
	if err != nil {
		return err
	}
	text, err := applink.ExtractPDFText(data)
	if err != nil {
		return core.WrapError(http.StatusUnprocessableEntity, err)
	}
	h.log.Info("attachment parsed",
		zap.String("orgId", ac.Org.ID),
		zap.String("contentVersionId", id),
		zap.Int("bytes", len(data)),
	)
	return core.WriteJSON(w, http.StatusOK, map[string]string{"data": text})
}
