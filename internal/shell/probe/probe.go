// Package probe performs the post-launch HTTP health check.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/artpar/hostdeploy/internal/core/monitoring"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultURL is the address the launched container is expected to answer on.
const DefaultURL = "http://localhost:8080/"

// Config configures a Prober.
type Config struct {
	URL            string
	Warmup         time.Duration // wait before the first request
	ConnectTimeout time.Duration // bound on establishing the connection
	RequestTimeout time.Duration // bound on a whole request, default 2x ConnectTimeout
	Probes         int           // total attempts, default 1
	Interval       time.Duration // pause between attempts
}

// Prober issues GET requests against the deployed service.
type Prober struct {
	config Config
	client *retryablehttp.Client
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a prober.
func New(config Config, logger *slog.Logger) *Prober {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * config.ConnectTimeout
	}
	if config.Probes < 1 {
		config.Probes = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "probe")

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: config.ConnectTimeout,
		DisableKeepAlives:   true,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport, Timeout: config.RequestTimeout}
	client.Logger = logger
	client.RetryMax = config.Probes - 1
	client.RetryWaitMin = config.Interval
	client.RetryWaitMax = config.Interval
	interval := config.Interval
	client.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return interval
	}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode != http.StatusOK, nil
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Prober{
		config: config,
		client: client,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Check waits for the warm-up period and probes the service.
// The returned error is non-nil only when ctx is cancelled; an unhealthy or
// unreachable service is reported through the result.
func (p *Prober) Check(ctx context.Context) (domain.ProbeResult, error) {
	if p.config.Warmup > 0 {
		p.logger.Info("waiting for service to warm up", "duration", p.config.Warmup)
		if err := p.sleep(ctx, p.config.Warmup); err != nil {
			return domain.ProbeResult{}, err
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("build health request: %w", err)
	}

	attempts := 0
	p.client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, n int) {
		attempts = n + 1
	}

	resp, err := p.client.Do(req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.ProbeResult{}, ctxErr
	}

	result := domain.ProbeResult{Attempts: attempts}
	if err != nil {
		result.Status = monitoring.ClassifyProbe(0, err)
		result.Err = err
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		result.StatusCode = resp.StatusCode
		result.Status = monitoring.ClassifyProbe(resp.StatusCode, nil)
	}

	p.logger.Info("health check finished",
		"url", p.config.URL,
		"status", result.Status,
		"status_code", result.StatusCode,
		"attempts", result.Attempts,
	)
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
