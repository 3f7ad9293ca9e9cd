// Package applink parses the Heroku AppLink request context and exposes the
// Salesforce data APIs of the invoking org.
package applink

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/joeydtaylor/steeze-applink/pkg/codec"
)

// HeaderClientContext carries the base64 JSON request context added by the
// AppLink service mesh.
const HeaderClientContext = "x-client-context"

var (
	ErrMissingContext    = errors.New("Required " + HeaderClientContext + " header not found")
	ErrInvalidContext    = errors.New(HeaderClientContext + " is not valid JSON")
	ErrIncompleteContext = errors.New(HeaderClientContext + " is missing required fields")
)

// ClientContext is the decoded x-client-context header.
type ClientContext struct {
	RequestID    string      `json:"requestId"`
	AccessToken  string      `json:"accessToken"`
	APIVersion   string      `json:"apiVersion"`
	Namespace    string      `json:"namespace"`
	OrgID        string      `json:"orgId"`
	OrgDomainURL string      `json:"orgDomainUrl"`
	UserContext  UserContext `json:"userContext"`
}

type UserContext struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ParseClientContext decodes the raw header value.
func ParseClientContext(raw string) (ClientContext, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClientContext{}, ErrMissingContext
	}
	b, err := decodeBase64(raw)
	if err != nil {
		return ClientContext{}, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	var cc ClientContext
	if err := codec.JSONLenient.Unmarshal(b, &cc); err != nil {
		return ClientContext{}, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	var missing []string
	for name, v := range map[string]string{
		"accessToken":  cc.AccessToken,
		"apiVersion":   cc.APIVersion,
		"orgId":        cc.OrgID,
		"orgDomainUrl": cc.OrgDomainURL,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ClientContext{}, fmt.Errorf("%w: %s", ErrIncompleteContext, strings.Join(missing, ", "))
	}
	cc.OrgDomainURL = strings.TrimRight(cc.OrgDomainURL, "/")
	return cc, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// User is the Salesforce user that invoked the request.
type User struct {
	ID       string
	Username string
}

// Org is the invoking org with an authenticated data API.
type Org struct {
	ID         string
	DomainURL  string
	APIVersion string
	Namespace  string
	User       User
	DataAPI    *DataAPI
}

// Context is the hydrated request context handed to route handlers.
type Context struct {
	RequestID string
	Org       Org
}

type ctxKey struct{}

func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the parsed request context, or nil for routes that
// skip parsing.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}

// ParseRequest reads and hydrates the request context of r.
func (c *Client) ParseRequest(r *http.Request) (*Context, error) {
	cc, err := ParseClientContext(r.Header.Get(HeaderClientContext))
	if err != nil {
		return nil, err
	}
	return &Context{
		RequestID: cc.RequestID,
		Org: Org{
			ID:         cc.OrgID,
			DomainURL:  cc.OrgDomainURL,
			APIVersion: cc.APIVersion,
			Namespace:  cc.Namespace,
			User:       User{ID: cc.UserContext.UserID, Username: cc.UserContext.Username},
			DataAPI:    c.DataAPI(cc.OrgDomainURL, cc.APIVersion, cc.AccessToken),
		},
	}, nil
}
