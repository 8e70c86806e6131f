package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Client provides HTTP client functionality for a whisper-style transcription server
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	semaphore  chan struct{}

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientConfig contains remote engine client configuration
type ClientConfig struct {
	Endpoint      string
	APIKey        string // optional bearer token
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// TranscriptionRequest is a single file submitted to the remote server
type TranscriptionRequest struct {
	AudioPath string
	Model     string
	Language  string
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// httpStatusError is a non-2xx answer from the server
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new remote transcription client
func NewClient(config ClientConfig) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe uploads one audio file, retrying transient failures with exponential backoff
func (c *Client) Transcribe(ctx context.Context, request *TranscriptionRequest) (*Output, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * retryBaseDelay
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return nil, ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, request)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return response, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// retryBaseDelay is a variable so tests can shorten backoff
var retryBaseDelay = time.Second

func (c *Client) doRequest(ctx context.Context, request *TranscriptionRequest) (*Output, error) {
	body, contentType, err := createMultipartRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "whisper-stream-service/2.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return DecodeOutput(respBody)
}

func createMultipartRequest(request *TranscriptionRequest) (io.Reader, string, error) {
	audio, err := os.ReadFile(request.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(request.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           request.Model,
		"response_format": "json",
	}
	if request.Language != "" {
		fields["language"] = request.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a failed attempt may succeed when repeated
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}

// RemoteLoader hands out model handles that share one Client
type RemoteLoader struct {
	client *Client
	logger *slog.Logger
}

// NewRemoteLoader creates a loader for the remote backend
func NewRemoteLoader(client *Client, logger *slog.Logger) *RemoteLoader {
	return &RemoteLoader{client: client, logger: logger}
}

// Client returns the shared HTTP client, for statistics
func (l *RemoteLoader) Client() *Client {
	return l.client
}

// Load binds the model id; the remote server resolves it on each request
func (l *RemoteLoader) Load(ctx context.Context, req LoadRequest) (Model, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("model id cannot be empty")
	}
	l.logger.Debug("remote model bound", slog.String("model", req.ModelID))
	return &remoteModel{client: l.client, model: req.ModelID}, nil
}

type remoteModel struct {
	client *Client
	model  string
}

func (m *remoteModel) Transcribe(ctx context.Context, audioPath, language string) (*Output, error) {
	return m.client.Transcribe(ctx, &TranscriptionRequest{
		AudioPath: audioPath,
		Model:     m.model,
		Language:  language,
	})
}
