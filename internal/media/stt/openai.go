// Package stt contains speech-to-text providers for the transcription
// fallback chain.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/davidbz/librarian/internal/config"
	"github.com/davidbz/librarian/internal/media"
)

// OpenAI transcribes audio through the OpenAI transcription API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates the OpenAI transcription provider.
func NewOpenAI(cfg *config.OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.Timeout)*time.Second))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.STTModel,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAI) Name() string {
	return "openai"
}

// Attempt transcribes the clip to text.
func (p *OpenAI) Attempt(ctx context.Context, clip media.Audio) (string, error) {
	if len(clip.Data) == 0 {
		return "", errors.New("audio clip is empty")
	}

	format := clip.Format
	if format == "" {
		format = "wav"
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(p.model),
		File:  openai.File(bytes.NewReader(clip.Data), "clip."+format, "audio/"+format),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI transcription API call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("transcription came back empty")
	}

	return text, nil
}
