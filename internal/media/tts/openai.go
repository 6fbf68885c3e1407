// Package tts contains text-to-speech providers for the audio fallback chain.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/davidbz/librarian/internal/config"
)

// OpenAI synthesizes speech through the OpenAI audio API.
type OpenAI struct {
	client openai.Client
	model  string
	voice  string
}

// NewOpenAI creates the OpenAI speech provider.
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
		model:  cfg.TTSModel,
		voice:  cfg.TTSVoice,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAI) Name() string {
	return "openai"
}

// Attempt synthesizes the text into MP3 bytes.
func (p *OpenAI) Attempt(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("nothing to synthesize")
	}

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(p.model),
		Voice:          openai.AudioSpeechNewParamsVoice(p.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI speech API call failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("OpenAI speech API returned no audio")
	}

	return audio, nil
}
