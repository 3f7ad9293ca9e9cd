package manifest

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Route describes a single HTTP route.
type Route struct {
	Path       string          `toml:"path"`
	Method     string          `toml:"method"`
	Guard      Guard           `toml:"guard"`
	Policy     Policy          `toml:"policy"`
	Handler    HSpec           `toml:"handler"`
	Salesforce *SalesforceSpec `toml:"salesforce"`
	Tags       []string        `toml:"tags"`
}

type Guard struct {
	Orgs        []string `toml:"orgs"`
	Users       []string `toml:"users"`
	RequireAuth bool     `toml:"require_auth"`
}

type Policy struct {
	TimeoutMS int        `toml:"timeout_ms"`
	RateLimit *RateLimit `toml:"rate_limit"`
}

type RateLimit struct {
	RPS   int `toml:"rps"`
	Burst int `toml:"burst"`
}

type HSpec struct {
	Type HandlerType `toml:"type"`
	Name string      `toml:"name"`
}

// SalesforceSpec is the per-route AppLink block.
//
//	[route.salesforce]
//	parse_request = false   # skip x-client-context parsing (data action targets, health)
//	async = true            # acknowledge immediately, run the handler after the response
//	ack = "custom"          # handler provides its own acknowledgement
//	async_timeout_ms = 60000
//	topic = "applink.completions"
type SalesforceSpec struct {
	ParseRequest   *bool  `toml:"parse_request"`
	Async          bool   `toml:"async"`
	Ack            string `toml:"ack"`
	AsyncTimeoutMS int    `toml:"async_timeout_ms"`
	Topic          string `toml:"topic"`
}

// ParsesRequest reports whether the x-client-context header must be parsed.
// Parsing is on unless the route opts out explicitly.
func (r Route) ParsesRequest() bool {
	if r.Salesforce == nil || r.Salesforce.ParseRequest == nil {
		return true
	}
	return *r.Salesforce.ParseRequest
}

// IsAsync reports whether the route acknowledges before doing its work.
func (r Route) IsAsync() bool {
	return r.Salesforce != nil && r.Salesforce.Async
}

// normalize path/method/ack
func (r *Route) normalize() error {
	if r.Path == "" {
		return errors.New("path is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		r.Path = "/" + r.Path
	}
	if r.Path != "/" {
		r.Path = path.Clean(r.Path)
	}
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Handler.Type == "" {
		r.Handler.Type = HandlerInproc
	}
	if sf := r.Salesforce; sf != nil {
		sf.Ack = strings.ToLower(strings.TrimSpace(sf.Ack))
		sf.Topic = strings.TrimSpace(sf.Topic)
	}
	return nil
}

// methods chi can route.
var methods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "OPTIONS": true, "CONNECT": true, "TRACE": true,
}

// validate fields that are independent of global state.
func (r *Route) validate() error {
	if !methods[r.Method] {
		return fmt.Errorf("method %q not supported", r.Method)
	}
	switch r.Handler.Type {
	case HandlerInproc:
		if strings.TrimSpace(r.Handler.Name) == "" {
			return errors.New("handler.name required for inproc")
		}
	default:
		return fmt.Errorf("unknown handler type %q", r.Handler.Type)
	}

	if r.Policy.TimeoutMS < 0 {
		return errors.New("policy.timeout_ms must be >= 0")
	}
	if rl := r.Policy.RateLimit; rl != nil {
		if rl.RPS < 0 || rl.Burst < 0 {
			return errors.New("policy.rate_limit values must be >= 0")
		}
	}

	if sf := r.Salesforce; sf != nil {
		switch sf.Ack {
		case AckDefault, AckHandler:
		default:
			return fmt.Errorf("salesforce.ack %q invalid", sf.Ack)
		}
		if !sf.Async {
			if sf.Ack != AckDefault {
				return errors.New("salesforce.ack requires salesforce.async")
			}
			if sf.AsyncTimeoutMS != 0 {
				return errors.New("salesforce.async_timeout_ms requires salesforce.async")
			}
			if sf.Topic != "" {
				return errors.New("salesforce.topic requires salesforce.async")
			}
		}
		if sf.AsyncTimeoutMS < 0 {
			return errors.New("salesforce.async_timeout_ms must be >= 0")
		}
	}
	return nil
}
