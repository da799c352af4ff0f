package backend

import "github.com/dshills/editkit/internal/config"

// WithConfig applies the retry and shutdown settings from a loaded
// configuration. Options placed after it override individual values.
func WithConfig(cfg config.Config) ClientOption {
	return func(c *clientConfig) {
		if cfg.Connect.MaxRetry > 0 {
			c.maxRetry = cfg.Connect.MaxRetry
		}
		if cfg.Connect.RetryDelayMS > 0 {
			c.retryDelay = cfg.Connect.RetryDelay()
		}
		if cfg.Connect.StartDelayMS >= 0 {
			c.startDelay = cfg.Connect.StartDelay()
		}
		if cfg.Shutdown.TimeoutMS > 0 {
			c.shutdownTimeout = cfg.Shutdown.Timeout()
		}
	}
}
