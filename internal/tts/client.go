// Package tts is the client for the speech synthesis collaborator. It sends
// {voiceId, text} and returns an encoded audio buffer that the studio
// decodes at render time.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiSpeechFormat = "/v1/text-to-speech/%s/stream"
	apiHealth       = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerAPIKey      = "xi-api-key"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
	contentTypePrefix = "audio/"
)

// Default values.
const (
	DefaultModelID         = "eleven_monolingual_v1"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.5
	maxErrorBodyBytes      = 4096
)

// Client errors.
var (
	ErrTextRequired          = errors.New("text cannot be empty")
	ErrVoiceRequired         = errors.New("voice id cannot be empty")
	ErrServiceError          = errors.New("speech service error")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrEmptyAudio            = errors.New("received empty audio data")
)

// Error formats.
const (
	errFmtServiceStatus       = "%w (%s): %s"
	errFmtUnexpectedMediaType = "%w: expected audio/*, got %q"
)

// VoiceSettings tunes the synthesized voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// SpeechRequest is the JSON body sent to the speech service.
type SpeechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// ErrorResponse is the structured error payload returned on failure.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// HTTPClient talks to the speech synthesis service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	settings   VoiceSettings
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithAPIKey sets the key sent with every request.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithModel overrides the synthesis model.
func WithModel(modelID string) Option {
	return func(c *HTTPClient) {
		if modelID != "" {
			c.modelID = modelID
		}
	}
}

// WithVoiceSettings overrides the voice settings.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *HTTPClient) { c.settings = settings }
}

// NewHTTPClient returns a client for baseURL (protocol and host, no trailing
// path). The timeout applies to each request.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	client := &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		modelID:    DefaultModelID,
		settings:   VoiceSettings{Stability: DefaultStability, SimilarityBoost: DefaultSimilarityBoost},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Synthesize returns the encoded audio for text spoken by voiceID.
func (c *HTTPClient) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, ErrVoiceRequired
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrTextRequired
	}

	requestBody, err := json.Marshal(SpeechRequest{Text: text, ModelID: c.modelID, VoiceSettings: c.settings})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + fmt.Sprintf(apiSpeechFormat, url.PathEscape(voiceID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)

	if c.apiKey != "" {
		httpReq.Header.Set(headerAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypePrefix) {
		return nil, fmt.Errorf(errFmtUnexpectedMediaType, ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck reports whether the service answers its health endpoint.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse prefers the structured {error} payload and falls back
// to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var payload ErrorResponse

	err := json.Unmarshal(body, &payload)
	if err == nil && payload.Error != "" {
		message := payload.Error
		if payload.Detail != "" {
			message += ": " + payload.Detail
		}

		return fmt.Errorf(errFmtServiceStatus, ErrServiceError, resp.Status, message)
	}

	return fmt.Errorf(errFmtServiceStatus, ErrServiceError, resp.Status, strings.TrimSpace(string(body)))
}
