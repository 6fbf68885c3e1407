package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/librarian"
	"github.com/davidbz/librarian/internal/media"
	"github.com/davidbz/librarian/internal/observability"
)

// Librarian is the service surface the transport exposes.
type Librarian interface {
	Respond(ctx context.Context, req librarian.Request) (*domain.Result, error)
	Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
	SimilarTo(ctx context.Context, title string, topK int) ([]domain.RetrievalResult, error)
	Transcribe(ctx context.Context, clip media.Audio) (*librarian.Transcription, error)
	Status(ctx context.Context) domain.Status
}

// Handler handles HTTP requests.
type Handler struct {
	service Librarian
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(service Librarian) *Handler {
	return &Handler{
		service: service,
	}
}

// respondRequest is the /v1/respond request body.
type respondRequest struct {
	Text      string                    `json:"text"`
	History   []domain.ConversationTurn `json:"history,omitempty"`
	TopK      int                       `json:"top_k,omitempty"`
	WithAudio bool                      `json:"with_audio,omitempty"`
	WithImage bool                      `json:"with_image,omitempty"`
}

// searchRequest is the /v1/search request body. Exactly one of Query and
// SimilarTo must be set.
type searchRequest struct {
	Query     string `json:"query,omitempty"`
	SimilarTo string `json:"similar_to,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// searchResponse is the /v1/search response body.
type searchResponse struct {
	Results []domain.RetrievalResult `json:"results"`
}

// transcribeRequest is the /v1/transcribe request body. Audio is base64 in
// transit.
type transcribeRequest struct {
	Audio  []byte `json:"audio"`
	Format string `json:"format,omitempty"`
}

// HandleRespond processes one conversational exchange.
func (h *Handler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	logger := observability.FromContext(ctx)
	logger.Info("respond request received",
		zap.Int("history_turns", len(req.History)),
		zap.Bool("with_audio", req.WithAudio),
		zap.Bool("with_image", req.WithImage),
	)

	result, err := h.service.Respond(ctx, librarian.Request{
		Text:      req.Text,
		History:   req.History,
		TopK:      req.TopK,
		WithAudio: req.WithAudio,
		WithImage: req.WithImage,
	})
	if err != nil {
		logger.Error("respond failed", zap.Error(err))
		if errors.Is(err, domain.ErrModelUnavailable) {
			http.Error(w, "the language model is unavailable, try again shortly", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info("respond succeeded",
		zap.Bool("blocked", result.Blocked),
		zap.Int("tool_calls", len(result.ToolCallsExecuted)),
		zap.Int("media_artifacts", len(result.MediaArtifacts)),
	)

	h.writeJSON(ctx, w, result)
}

// HandleSearch processes direct retrieval requests, by free-text query or by
// similarity to a known title.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if (req.Query == "") == (req.SimilarTo == "") {
		http.Error(w, "exactly one of query and similar_to is required", http.StatusBadRequest)
		return
	}

	logger := observability.FromContext(ctx)

	var (
		results []domain.RetrievalResult
		err     error
	)
	if req.Query != "" {
		results, err = h.service.Search(ctx, req.Query, req.TopK)
	} else {
		results, err = h.service.SimilarTo(ctx, req.SimilarTo, req.TopK)
	}
	if err != nil {
		logger.Error("search failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if results == nil {
		results = []domain.RetrievalResult{}
	}
	h.writeJSON(ctx, w, searchResponse{Results: results})
}

// HandleTranscribe converts an uploaded audio clip to text.
func (h *Handler) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Audio) == 0 {
		http.Error(w, "audio is required", http.StatusBadRequest)
		return
	}

	logger := observability.FromContext(ctx)

	transcription, err := h.service.Transcribe(ctx, media.Audio{Data: req.Audio, Format: req.Format})
	if err != nil {
		logger.Error("transcription failed", zap.Error(err))

		var exhausted *media.ExhaustedError
		switch {
		case errors.Is(err, media.ErrChainDisabled):
			http.Error(w, "transcription is not enabled", http.StatusNotImplemented)
		case errors.As(err, &exhausted):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(ctx, w, transcription)
}

// HandleStatus reports component health.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, h.service.Status(r.Context()))
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, map[string]string{"status": "healthy"})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", zap.Error(err))
	}
}
