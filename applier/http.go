package applier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"resty.dev/v3"

	"github.com/scrawlsbenches/rollout/target"
)

// HTTPApplierConfig configures the HTTP target applier.
type HTTPApplierConfig struct {
	// CallTimeout bounds each apply/revert/fetch call. A timed-out call is
	// a failure for that target.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// MaxRetries is the number of retries on transport errors or 5xx
	// responses within the call timeout.
	MaxRetries uint64 `yaml:"max_retries" json:"max_retries"`
	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially.
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
}

// DefaultHTTPApplierConfig returns sensible defaults.
func DefaultHTTPApplierConfig() HTTPApplierConfig {
	return HTTPApplierConfig{
		CallTimeout:    10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// HTTPApplier drives data-plane agents over HTTP. Each target's Address is
// the base URL of its agent, which exposes:
//
//	PUT    {address}/v1/assignment   {"artifact": ..., "weight": ...}
//	DELETE {address}/v1/assignment   (revert to pre-deployment state)
//	GET    {address}/v1/assignment
type HTTPApplier struct {
	client *resty.Client
	cfg    HTTPApplierConfig
	logger *slog.Logger
}

// NewHTTPApplier creates an HTTP applier.
func NewHTTPApplier(cfg HTTPApplierConfig, logger *slog.Logger) *HTTPApplier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	client := resty.New().
		SetTimeout(cfg.CallTimeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPApplier{client: client, cfg: cfg, logger: logger}
}

// Close releases the underlying HTTP client.
func (a *HTTPApplier) Close() error {
	return a.client.Close()
}

type assignmentBody struct {
	Artifact string `json:"artifact"`
	Weight   int    `json:"weight"`
}

// Apply sets the artifact/weight assignment on the target.
func (a *HTTPApplier) Apply(ctx context.Context, t target.Target, artifact string, weight int) error {
	url := t.Address + "/v1/assignment"
	err := a.retry(ctx, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(assignmentBody{Artifact: artifact, Weight: weight}).
			Put(url)
		return a.classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("apply %s weight %d to target %s: %w", artifact, weight, t.ID, err)
	}
	a.logger.Debug("assignment applied", "target", t.ID, "artifact", artifact, "weight", weight)
	return nil
}

// Revert restores the target's pre-deployment configuration.
func (a *HTTPApplier) Revert(ctx context.Context, t target.Target) error {
	url := t.Address + "/v1/assignment"
	err := a.retry(ctx, func() error {
		resp, err := a.client.R().SetContext(ctx).Delete(url)
		return a.classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("revert target %s: %w", t.ID, err)
	}
	a.logger.Debug("assignment reverted", "target", t.ID)
	return nil
}

// Fetch reads the live assignment from the target.
func (a *HTTPApplier) Fetch(ctx context.Context, t target.Target) (string, int, error) {
	url := t.Address + "/v1/assignment"
	var body assignmentBody
	err := a.retry(ctx, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetResult(&body).
			Get(url)
		return a.classify(resp, err)
	})
	if err != nil {
		return "", 0, fmt.Errorf("fetch assignment from target %s: %w", t.ID, err)
	}
	return body.Artifact, body.Weight, nil
}

// classify maps a response to a retryable or permanent error. 4xx
// responses are permanent: retrying a rejected assignment cannot help.
func (a *HTTPApplier) classify(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	status := resp.StatusCode()
	callErr := fmt.Errorf("agent returned status %d: %s", status, resp.String())
	if status >= 400 && status < 500 {
		return backoff.Permanent(callErr)
	}
	return callErr
}

// retry runs op with exponential backoff, bounded by MaxRetries and the
// caller's context.
func (a *HTTPApplier) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.InitialBackoff
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, a.cfg.MaxRetries), ctx))
}
