// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (whisper-1 and newer models).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/transcriber"
)

const defaultModel = "whisper-1"

// Compile-time assertion that Provider implements transcriber.Provider.
var _ transcriber.Provider = (*Provider)(nil)

// Provider implements transcriber.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI transcription Provider. model may be empty,
// in which case "whisper-1" is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe uploads the audio to the transcription endpoint and returns
// the text. API errors are classified for the retry policy: rate limits
// and 5xx responses are transient, other API rejections fatal.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(audio, filename, "application/octet-stream"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		return "", classify(err)
	}
	return resp.Text, nil
}

// classify maps OpenAI SDK errors onto the pipeline taxonomy.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return pipeline.Transient(fmt.Errorf("openai: transcription: %w", err))
		}
		return pipeline.Fatal(fmt.Errorf("openai: transcription: %w", err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("openai: transcription: %w", err)
	}
	// No structured status means the request never completed.
	return pipeline.Transient(fmt.Errorf("openai: transcription: %w", err))
}
