package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	gtranslateBaseURL = "https://translate.google.com/translate_tts"

	// The public endpoint rejects inputs past roughly 200 characters.
	gtranslateMaxChars = 200
)

// GTranslate synthesizes speech through the public Google Translate TTS
// endpoint. It needs no credentials, which makes it the fallback when the
// primary provider is unreachable, but it only accepts short inputs.
type GTranslate struct {
	httpClient *http.Client
	baseURL    string
	language   string
}

// GTranslateOption configures the provider.
type GTranslateOption func(*GTranslate)

// WithGTranslateBaseURL overrides the endpoint, for tests.
func WithGTranslateBaseURL(baseURL string) GTranslateOption {
	return func(p *GTranslate) {
		p.baseURL = baseURL
	}
}

// WithGTranslateHTTPClient overrides the HTTP client.
func WithGTranslateHTTPClient(client *http.Client) GTranslateOption {
	return func(p *GTranslate) {
		p.httpClient = client
	}
}

// NewGTranslate creates the Google Translate speech provider. language is a
// two-letter code ("en", "ro"); empty defaults to English.
func NewGTranslate(language string, opts ...GTranslateOption) *GTranslate {
	if language == "" {
		language = "en"
	}

	provider := &GTranslate{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    gtranslateBaseURL,
		language:   language,
	}
	for _, opt := range opts {
		opt(provider)
	}
	return provider
}

// Name returns the provider identifier.
func (p *GTranslate) Name() string {
	return "gtranslate"
}

// Attempt synthesizes the text into MP3 bytes. Inputs past the endpoint's
// limit are truncated rather than rejected.
func (p *GTranslate) Attempt(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("nothing to synthesize")
	}
	if runes := []rune(text); len(runes) > gtranslateMaxChars {
		text = string(runes[:gtranslateMaxChars])
	}

	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", p.language)
	query.Set("q", text)

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		p.baseURL+"?"+query.Encode(),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("endpoint returned no audio")
	}

	return audio, nil
}
