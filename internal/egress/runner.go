// Package egress implements the durable work-queue consumer that drives
// the external flow runner and ships its result onward: one queue-group
// subscription on greentic.messaging.egress.{env}.>, grounded on
// original_source/apps/egress-common/src/egress.rs's bootstrap (one
// stream, one durable consumer, queue-group delivery) and
// apps/messaging-egress/src/main_logic.rs's decode->rate-limit->invoke->
// publish/DLQ pipeline shape.
package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/errs"
)

// RunnerClient invokes the external flow runner that decides the final
// content (if any) to deliver for an OutMessage.
type RunnerClient interface {
	Invoke(ctx context.Context, out envelope.OutMessage, adapterName string) (envelope.OutMessage, error)
}

type invokeRequest struct {
	Envelope envelope.OutMessage `json:"envelope"`
	Adapter  string              `json:"adapter"`
}

// HTTPRunnerClient POSTs {runner_url}/invoke, wrapped in a circuit
// breaker (grounded on original_source/providers/webchat/src/circuit.rs's
// CircuitBreaker concept) so a persistently failing runner fails fast
// instead of holding worker goroutines on the per-call timeout.
type HTTPRunnerClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPRunnerClient builds a runner client bound to baseURL.
func NewHTTPRunnerClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPRunnerClient {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "flow-runner",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("egress: runner circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &HTTPRunnerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Invoke sends out to the runner and returns the runner's response
// envelope. 4xx responses classify as errs.KindPermanent (no retry);
// 5xx, transport failures, and an open breaker classify as
// errs.KindTransient (retryable by the worker's backoff/DLQ logic).
func (c *HTTPRunnerClient) Invoke(ctx context.Context, out envelope.OutMessage, adapterName string) (envelope.OutMessage, error) {
	body, err := json.Marshal(invokeRequest{Envelope: out, Adapter: adapterName})
	if err != nil {
		return envelope.OutMessage{}, errs.Permanent("runner: encode request", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("runner: %d: %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode >= 400 {
			return nil, errs.Permanent("runner: rejected", fmt.Errorf("%d: %s", resp.StatusCode, string(respBody)))
		}
		var decoded envelope.OutMessage
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, errs.Permanent("runner: decode response", err)
		}
		return decoded, nil
	})
	if err != nil {
		if errs.Classify(err) == errs.KindPermanent {
			return envelope.OutMessage{}, err
		}
		return envelope.OutMessage{}, errs.Transient("runner: invoke failed", err)
	}
	return result.(envelope.OutMessage), nil
}

// LoggingRunnerClient is the "no runner configured" dev affordance
// spec.md §4.4 requires: it passes the OutMessage through unchanged so
// the rest of the pipeline (adapter delivery, out-subject publish) still
// runs without an external runner deployed.
type LoggingRunnerClient struct {
	logger *slog.Logger
}

// NewLoggingRunnerClient builds a pass-through runner client.
func NewLoggingRunnerClient(logger *slog.Logger) *LoggingRunnerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingRunnerClient{logger: logger}
}

func (c *LoggingRunnerClient) Invoke(ctx context.Context, out envelope.OutMessage, adapterName string) (envelope.OutMessage, error) {
	c.logger.Info("egress: no runner configured, passing outbound message through unchanged",
		"tenant", out.Ctx.Tenant, "platform", out.Platform, "adapter", adapterName)
	return out, nil
}
