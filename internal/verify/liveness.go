package verify

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/metrics"
)

// DefaultWebsiteTimeout bounds a single liveness check.
const DefaultWebsiteTimeout = 10 * time.Second

// Waiter throttles outbound checks per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// HTTPCheckerConfig configures HTTPChecker.
type HTTPCheckerConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTPChecker checks websites with a HEAD request, following redirects.
// Only a final 200 counts as live.
type HTTPChecker struct {
	client  *http.Client
	cfg     HTTPCheckerConfig
	limiter Waiter
	logger  *zap.Logger
}

// NewHTTPChecker builds a checker. client and limiter may be nil.
func NewHTTPChecker(cfg HTTPCheckerConfig, client *http.Client, limiter Waiter, logger *zap.Logger) *HTTPChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebsiteTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPChecker{client: client, cfg: cfg, limiter: limiter, logger: logger}
}

// Live reports whether rawURL answers HEAD with 200 within the timeout.
func (c *HTTPChecker) Live(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			metrics.ObserveWebsiteCheck("error")
			return false
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		metrics.ObserveWebsiteCheck("error")
		return false
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("website check failed", zap.String("url", rawURL), zap.Error(err))
		metrics.ObserveWebsiteCheck("error")
		return false
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close check response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveWebsiteCheck("dead")
		return false
	}
	metrics.ObserveWebsiteCheck("live")
	return true
}
