package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manangulati17/ai-scribe-backend/internal/audio"
)

// RemoteConfig contains model-backed recognition engine configuration
type RemoteConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Language      string
	Model         string
	FlushSeconds  float64 // buffered audio per recognition request
}

// RemoteEngine is the model-backed recognition variant. Recognizers buffer
// ordered PCM and post it to a remote transcription endpoint; each request
// yields a committed final segment. Requests retry with exponential backoff
// and are capped by a concurrency semaphore.
type RemoteEngine struct {
	config     RemoteConfig
	httpClient *http.Client
	semaphore  chan struct{}

	// Statistics
	created         uint64
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu     sync.RWMutex
	closed bool
}

// NewRemoteEngine creates a model-backed recognition engine.
func NewRemoteEngine(config RemoteConfig) (*RemoteEngine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.FlushSeconds <= 0 {
		config.FlushSeconds = 5
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &RemoteEngine{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// NewRecognizer implements Engine.
func (e *RemoteEngine) NewRecognizer(ctx context.Context) (Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrUnavailable
	}

	e.created++
	return &remoteRecognizer{
		engine:     e,
		flushBytes: int(e.config.FlushSeconds * float64(audio.SampleRate) * audio.BytesPerSample),
	}, nil
}

// Stats implements Engine.
func (e *RemoteEngine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := float64(0)
	if e.totalRequests > 0 {
		successRate = float64(e.successRequests) / float64(e.totalRequests) * 100
	}

	return EngineStats{
		RecognizersCreated: e.created,
		TotalRequests:      e.totalRequests,
		SuccessRequests:    e.successRequests,
		FailedRequests:     e.failedRequests,
		SuccessRate:        successRate,
		TotalRetries:       e.totalRetries,
		ActiveRequests:     len(e.semaphore),
	}
}

// Close implements Engine. It waits for in-flight requests to drain.
func (e *RemoteEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for i := 0; i < e.config.MaxConcurrent; i++ {
		e.semaphore <- struct{}{}
	}

	return nil
}

// transcribe posts buffered PCM to the remote endpoint with retries.
func (e *RemoteEngine) transcribe(ctx context.Context, pcm []byte) (*transcribeResponse, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	e.totalRequests++
	e.mu.Unlock()

	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.mu.Lock()
			e.totalRetries++
			e.mu.Unlock()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := e.doRequest(ctx, pcm)
		if err == nil {
			e.mu.Lock()
			e.successRequests++
			e.mu.Unlock()
			return response, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	e.mu.Lock()
	e.failedRequests++
	e.mu.Unlock()
	return nil, fmt.Errorf("recognition failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

// transcribeResponse is the remote endpoint's reply
type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// doRequest performs a single HTTP request to the recognition endpoint
func (e *RemoteEngine) doRequest(ctx context.Context, pcm []byte) (*transcribeResponse, error) {
	body, contentType, err := e.createMultipartRequest(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var transcribeResp transcribeResponse
	if err := json.Unmarshal(respBody, &transcribeResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &transcribeResp, nil
}

// createMultipartRequest builds a multipart/form-data body with the raw PCM
// as the file part and the request parameters as form fields.
func (e *RemoteEngine) createMultipartRequest(pcm []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := fmt.Sprintf("%s.raw", uuid.NewString())
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(pcm); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"sample_rate":     fmt.Sprintf("%d", audio.SampleRate),
		"channels":        fmt.Sprintf("%d", audio.Channels),
		"bit_depth":       fmt.Sprintf("%d", audio.BitsPerSample),
		"response_format": "json",
	}

	if e.config.Language != "" {
		fields["language"] = e.config.Language
	}
	if e.config.Model != "" {
		fields["model"] = e.config.Model
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

// isRetryableError determines if a request error is worth retrying
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") ||
		strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// remoteRecognizer buffers ordered PCM until it has flushBytes worth of
// audio, then posts the buffer for transcription. Accepts in between return
// an empty partial so the caller's partial state tracks the pending window.
type remoteRecognizer struct {
	engine     *RemoteEngine
	pending    []byte
	flushBytes int
	closed     bool
}

func (r *remoteRecognizer) Accept(ctx context.Context, pcm []byte) (Result, error) {
	if r.closed {
		return Result{}, fmt.Errorf("recognizer is closed")
	}

	r.pending = append(r.pending, pcm...)

	if len(r.pending) < r.flushBytes {
		return Result{Type: ResultPartial, Text: ""}, nil
	}

	return r.flush(ctx)
}

func (r *remoteRecognizer) Finalize(ctx context.Context) (Result, error) {
	if r.closed {
		return Result{}, fmt.Errorf("recognizer is closed")
	}

	if len(r.pending) == 0 {
		return Result{Type: ResultFinal, Text: ""}, nil
	}

	return r.flush(ctx)
}

// flush sends the pending buffer and returns the final segment it produced.
func (r *remoteRecognizer) flush(ctx context.Context) (Result, error) {
	pcm := r.pending
	r.pending = nil

	resp, err := r.engine.transcribe(ctx, pcm)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Type:       ResultFinal,
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Words:      resp.Words,
	}, nil
}

func (r *remoteRecognizer) Close() error {
	r.closed = true
	r.pending = nil
	return nil
}
