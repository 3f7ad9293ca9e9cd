package manifest

import "fmt"

// validateRoutes runs the per-route normalization and checks.
func (c *Config) validateRoutes() error {
	for i := range c.Routes {
		if err := c.Routes[i].normalize(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if err := c.Routes[i].validate(); err != nil {
			return fmt.Errorf("route %d (%s %s): %w", i, c.Routes[i].Method, c.Routes[i].Path, err)
		}
	}
	return nil
}
