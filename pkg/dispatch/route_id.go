package dispatch

import "strings"

// RouteID identifies a registered route by method and path pattern.
type RouteID struct {
	Method string
	Path   string
}

// NewRouteID normalizes the method to upper case. The path is kept as the
// route pattern ("/accounts/{id}"), never the concrete URL.
func NewRouteID(method, path string) RouteID {
	return RouteID{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   strings.TrimSpace(path),
	}
}

func (id RouteID) String() string { return id.Method + " " + id.Path }

// IsZero reports whether the id was never resolved.
func (id RouteID) IsZero() bool { return id.Method == "" && id.Path == "" }
