package routes

import (
	"errors"
	"net/http"

	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/core"
	"go.uber.org/zap"
)

const accountsSOQL = "SELECT Id, Name FROM Account"

var errNoContext = errors.New("request context not parsed for this route")

type account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func orgOf(r *http.Request) (*applink.Context, error) {
	ac := applink.FromContext(r.Context())
	if ac == nil || ac.Org.DataAPI == nil {
		return nil, errNoContext
	}
	return ac, nil
}

func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) error {
	ac, err := orgOf(r)
	if err != nil {
		return err
	}
	h.log.Info("GET /accounts", zap.String("orgId", ac.Org.ID), zap.String("user", ac.Org.User.Username))

	recs, err := ac.Org.DataAPI.QueryAll(r.Context(), accountsSOQL)
	if err != nil {
		return err
	}
	out := make([]account, 0, len(recs))
	for _, rec := range recs {
		out = append(out, account{ID: rec.String("Id"), Name: rec.String("Name")})
	}
	return core.WriteJSON(w, http.StatusOK, out)
}
