package routes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/codec"
	"github.com/joeydtaylor/steeze-applink/pkg/core"
	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
	"go.uber.org/zap"
)

type unitOfWorkRequest struct {
	Data unitOfWorkData `json:"data"`
}

type unitOfWorkData struct {
	AccountName string `json:"accountName"`
	LastName    string `json:"lastName"`
	Subject     string `json:"subject"`
	CallbackURL string `json:"callbackUrl"`
}

// unitOfWorkResult is posted to the callback URL.
type unitOfWorkResult struct {
	RequestID string `json:"requestId"`
	AccountID string `json:"accountId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	CaseID    string `json:"caseId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func decodeUnitOfWork(body []byte) (unitOfWorkData, error) {
	var req unitOfWorkRequest
	if err := codec.JSONStrict.Unmarshal(body, &req); err != nil {
		return unitOfWorkData{}, err
	}
	d := req.Data
	var missing []string
	for name, v := range map[string]string{
		"accountName": d.AccountName,
		"lastName":    d.LastName,
		"subject":     d.Subject,
		"callbackUrl": d.CallbackURL,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return unitOfWorkData{}, fmt.Errorf("data.%s required", strings.Join(missing, ", data."))
	}
	u, err := url.Parse(d.CallbackURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return unitOfWorkData{}, errors.New("data.callbackUrl must be an absolute http(s) URL")
	}
	return d, nil
}

// acceptUnitOfWork validates the body before acknowledging. An invalid body
// answers 400 and no work is scheduled.
func (h *handlers) acceptUnitOfWork(w http.ResponseWriter, _ *http.Request, st *dispatch.State) error {
	if _, err := decodeUnitOfWork(st.Body()); err != nil {
		st.MarkComplete()
		return core.WrapError(http.StatusBadRequest, err)
	}
	return core.WriteJSON(w, http.StatusCreated, map[string]string{"requestId": st.RequestID()})
}

// commitUnitOfWork creates an Account, a Contact and a Case in one graph and
// reports the outcome to the caller's callback URL.
func (h *handlers) commitUnitOfWork(ctx context.Context, r *http.Request, st *dispatch.State) error {
	ac, err := orgOf(r)
	if err != nil {
		return err
	}
	d, err := decodeUnitOfWork(st.Body())
	if err != nil {
		return err
	}

	uow := applink.NewUnitOfWork()
	acc := uow.RegisterCreate(applink.Record{Type: "Account", Fields: map[string]any{"Name": d.AccountName}})
	con := uow.RegisterCreate(applink.Record{Type: "Contact", Fields: map[string]any{
		"LastName":  d.LastName,
		"AccountId": acc.ID(),
	}})
	cs := uow.RegisterCreate(applink.Record{Type: "Case", Fields: map[string]any{
		"Subject":   d.Subject,
		"AccountId": acc.ID(),
		"ContactId": con.ID(),
	}})

	res := unitOfWorkResult{RequestID: st.RequestID()}
	results, commitErr := ac.Org.DataAPI.Commit(ctx, uow)
	if commitErr != nil {
		res.Error = commitErr.Error()
	} else {
		res.AccountID, res.ContactID, res.CaseID = results[acc].ID, results[con].ID, results[cs].ID
		st.Annotate("accountId", res.AccountID)
		st.Annotate("contactId", res.ContactID)
		st.Annotate("caseId", res.CaseID)
		h.log.Info("unit of work committed",
			zap.String("orgId", ac.Org.ID),
			zap.String("accountId", res.AccountID),
			zap.String("contactId", res.ContactID),
			zap.String("caseId", res.CaseID),
		)
	}

	if err := h.callback(ctx, d.CallbackURL, ac.Org.DataAPI.AccessToken(), res); err != nil {
		return errors.Join(commitErr, fmt.Errorf("callback: %w", err))
	}
	return commitErr
}

// callback POSTs res, retrying transport errors and 5xx/429 answers.
func (h *handlers) callback(ctx context.Context, target, token string, res unitOfWorkResult) error {
	body, err := codec.JSONLenient.Marshal(res)
	if err != nil {
		return err
	}
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := h.hc.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
	}
	notify := func(err error, wait time.Duration) {
		h.log.Warn("callback failed, retrying",
			zap.String("requestId", res.RequestID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(h.newBackOff(), ctx), notify)
}
