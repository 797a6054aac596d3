package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddit-trend-analyzer/metrics"
	"github.com/brettboylen/reddit-trend-analyzer/models"
)

const (
	defaultRequestsPerMinute = 30
	maxBodyBytes             = 10 << 20 // larger webhook replies are a transport error
)

// WebhookResponse is a raw webhook reply; interpreting it is the normalizer's job
type WebhookResponse struct {
	StatusCode int
	Body       []byte
	RetryAfter int
}

// WebhookClient posts analysis requests to the external analysis webhook
type WebhookClient struct {
	endpoint    string
	userAgent   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	log         *logrus.Logger
}

// NewWebhookClient creates a new webhook client.
// timeout bounds a whole call including the body read; zero means no client-side timeout.
func NewWebhookClient(endpoint, userAgent string, timeout time.Duration, maxRequestsPerMinute int, log *logrus.Logger) *WebhookClient {
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = defaultRequestsPerMinute
	}

	// no burst; requests are spaced evenly across the minute
	limit := rate.Limit(float64(maxRequestsPerMinute) / 60.0)

	return &WebhookClient{
		endpoint:    endpoint,
		userAgent:   userAgent,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(limit, 1),
		log:         log,
	}
}

// Post sends one analysis request. Any HTTP response, whatever its status, is
// returned as a WebhookResponse; an error means the webhook could not be reached.
func (w *WebhookClient) Post(ctx context.Context, request models.AnalysisRequest) (*WebhookResponse, error) {
	if err := w.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	w.log.WithFields(logrus.Fields{
		"endpoint":  w.endpoint,
		"keywords":  request.Keywords,
		"subreddit": request.Subreddit,
	}).Info("Posting analysis request to webhook")

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	metrics.WebhookRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(metrics.StatusClass(0)).Inc()
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	metrics.WebhookRequestsTotal.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		w.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"limit_bytes": maxBodyBytes,
		}).Error("Webhook response too large")
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
	}

	response := &WebhookResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: getHeaderAsInt(resp.Header, "Retry-After"),
	}

	fields := logrus.Fields{
		"status_code": resp.StatusCode,
		"body_bytes":  len(body),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		fields["retry_after_sec"] = response.RetryAfter
		w.log.WithFields(fields).Warn("Webhook is throttling requests")
	case resp.StatusCode >= 300:
		fields["response_body"] = string(body)
		w.log.WithFields(fields).Error("Webhook error response")
	default:
		w.log.WithFields(fields).Debug("Webhook responded")
	}

	return response, nil
}

func getHeaderAsInt(header http.Header, name string) int {
	value := header.Get(name)
	if value == "" {
		return 0
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}

	return intValue
}
