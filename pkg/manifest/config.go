package manifest

import (
	"errors"
	"fmt"
)

// Config is the top-level manifest.
type Config struct {
	Service string  `toml:"service"`
	Routes  []Route `toml:"route"`
}

// Validate normalizes every route in place and rejects manifests that
// declare the same method and path twice.
func (c *Config) Validate() error {
	if len(c.Routes) == 0 {
		return errors.New("no routes defined")
	}
	if err := c.validateRoutes(); err != nil {
		return err
	}
	seen := make(map[string]int, len(c.Routes))
	for i, rt := range c.Routes {
		k := rt.Method + " " + rt.Path
		if j, ok := seen[k]; ok {
			return fmt.Errorf("route %d (%s): duplicates route %d", i, k, j)
		}
		seen[k] = i
	}
	return nil
}

// AsyncRoutes returns the routes that opted into asynchronous dispatch.
func (c *Config) AsyncRoutes() []Route {
	var out []Route
	for _, rt := range c.Routes {
		if rt.IsAsync() {
			out = append(out, rt)
		}
	}
	return out
}
