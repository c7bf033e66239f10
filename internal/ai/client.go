package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// Client talks to the classifier service over HTTP.
type Client struct {
	serviceURL     string
	httpClient     *http.Client
	logger         *logger.Logger
	confidence     float64
	enabledClasses []string
	maxRetries     int
	retryDelay     time.Duration
}

// ClientConfig contains configuration for the classifier client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	EnabledClasses      []string
	MaxRetries          int
	RetryDelay          time.Duration
}

func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 200 * time.Millisecond
	}

	return &Client{
		serviceURL:     strings.TrimRight(config.ServiceURL, "/"),
		httpClient:     &http.Client{Timeout: config.Timeout},
		logger:         log,
		confidence:     config.ConfidenceThreshold,
		enabledClasses: config.EnabledClasses,
		maxRetries:     config.MaxRetries,
		retryDelay:     config.RetryDelay,
	}
}

// Infer classifies one JPEG image, retrying up to the configured count.
func (c *Client) Infer(ctx context.Context, jpeg []byte) (*InferenceResponse, error) {
	req := InferenceRequest{Image: base64.StdEncoding.EncodeToString(jpeg)}
	if c.confidence > 0 {
		conf := c.confidence
		req.ConfidenceThreshold = &conf
	}
	if len(c.enabledClasses) > 0 {
		req.EnabledClasses = c.enabledClasses
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("Retrying inference", "attempt", attempt, "max_retries", c.maxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.inferOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if c.maxRetries > 0 {
		return nil, fmt.Errorf("inference failed after %d retries: %w", c.maxRetries, lastErr)
	}
	return nil, lastErr
}

func (c *Client) inferOnce(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.serviceURL + "/api/v1/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Classifier returned error", "status", resp.StatusCode, "response", string(data))
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(data))
	}

	var out InferenceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Inference completed",
		"detection_count", len(out.BoundingBoxes),
		"inference_time_ms", out.InferenceTimeMs,
		"request_duration_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

// HealthCheck checks if the classifier service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier health check failed: status %d", resp.StatusCode)
	}
	return nil
}
