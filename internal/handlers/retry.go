package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/flowd-io/flowd/internal/mcp"
	"github.com/flowd-io/flowd/pkg/schema"
)

// retryable classifies whether an error is worth retrying. Validation
// failures and cancellation are not; network faults and timeouts are.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		switch flowErr.Code {
		case schema.ErrCodeValidation, schema.ErrCodeCancelled, schema.ErrCodeNotFound:
			return false
		}
	}

	// Waiting on an external grant; retrying cannot help.
	var authErr *mcp.AuthRequiredError
	if errors.As(err, &authErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Conservative default: the policy's attempt cap bounds the cost.
	return true
}

// backoffDelay computes the wait before retry attempt n (0-based).
func backoffDelay(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}
	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0
	}

	switch policy.Backoff {
	case "exponential":
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
		}
		return d
	case "linear":
		return base * time.Duration(attempt+1)
	default: // "none" or empty
		return base
	}
}

// withRetry runs fn once, then up to policy.Max additional attempts
// for retryable failures. A nil policy means a single attempt, which
// is the default for every external-call node.
func withRetry(ctx context.Context, policy *schema.RetryPolicy, logger *slog.Logger, nodeID string, fn func() error) (attempts int, err error) {
	maxRetries := 0
	if policy != nil && policy.Max > 0 {
		maxRetries = policy.Max
	}

	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		err = fn()
		if err == nil || attempt >= maxRetries || !retryable(err) {
			return attempts, err
		}

		delay := backoffDelay(policy, attempt)
		logger.Warn("node attempt failed, retrying",
			"node_id", nodeID, "attempt", attempts, "delay", delay.String(), "error", err)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return attempts, ctx.Err()
			}
		}
	}
}
