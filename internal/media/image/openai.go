// Package image contains cover illustration providers for the image fallback
// chain.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/davidbz/librarian/internal/config"
	"github.com/davidbz/librarian/internal/media"
)

// At most this many themes feed the prompt; more dilutes the illustration.
const maxPromptThemes = 3

// OpenAI generates cover illustrations through the OpenAI images API. The
// model is a constructor parameter so one chain can try dall-e-3 and fall
// back to dall-e-2 as separate providers.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an image provider bound to one model.
func NewOpenAI(cfg *config.OpenAIConfig, model string) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = cfg.ImageModel
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
		model:  model,
	}, nil
}

// Name returns the provider identifier, which is the model it calls.
func (p *OpenAI) Name() string {
	return p.model
}

// Attempt generates a cover illustration for the book.
func (p *OpenAI) Attempt(ctx context.Context, spec media.CoverSpec) (media.Image, error) {
	if spec.Title == "" {
		return media.Image{}, errors.New("cover spec needs a title")
	}

	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:  openai.ImageModel(p.model),
		Prompt: CoverPrompt(spec),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return media.Image{}, fmt.Errorf("OpenAI images API call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return media.Image{}, errors.New("OpenAI images API returned no image")
	}

	generated := resp.Data[0]
	img := media.Image{URL: generated.URL}
	if generated.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(generated.B64JSON)
		if err != nil {
			return media.Image{}, fmt.Errorf("failed to decode image payload: %w", err)
		}
		img.Data = data
	}
	if img.URL == "" && len(img.Data) == 0 {
		return media.Image{}, errors.New("OpenAI images API returned an empty image")
	}

	return img, nil
}

// CoverPrompt renders the illustration prompt from the book title and its
// leading themes.
func CoverPrompt(spec media.CoverSpec) string {
	themes := spec.Themes
	if len(themes) > maxPromptThemes {
		themes = themes[:maxPromptThemes]
	}

	prompt := fmt.Sprintf("A book cover illustration for %q", spec.Title)
	if len(themes) > 0 {
		prompt += ", evoking themes of " + strings.Join(themes, ", ")
	}
	return prompt + ". No text or lettering."
}
