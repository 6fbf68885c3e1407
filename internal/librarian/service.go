// Package librarian is the service facade: one conversational exchange in,
// one enriched result out, plus the direct search, transcription and status
// surfaces the transports expose.
package librarian

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/media"
	"github.com/davidbz/librarian/internal/observability"
	"github.com/davidbz/librarian/internal/orchestrator"
)

// Exchanger runs one orchestrated conversation turn.
type Exchanger interface {
	Run(ctx context.Context, userText string, history []domain.ConversationTurn, topK int) (*orchestrator.Exchange, error)
}

// Grounding is the retrieval surface the facade exposes directly.
type Grounding interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
	SimilarTo(ctx context.Context, title string, topK int) ([]domain.RetrievalResult, error)
	Healthy() bool
}

// Request is one conversational exchange request. History is the caller-owned
// prior conversation; only the trailing window configured on the service is
// replayed to the model.
type Request struct {
	Text      string
	History   []domain.ConversationTurn
	TopK      int
	WithAudio bool
	WithImage bool
}

// Transcription is a successful speech-to-text run.
type Transcription struct {
	Text            string                   `json:"text"`
	ProviderUsed    string                   `json:"provider_used"`
	FailedProviders []domain.ProviderFailure `json:"failed_providers,omitempty"`
}

// Config contains facade tunables.
type Config struct {
	// HistoryWindow is the number of trailing history turns replayed per
	// exchange. 0 disables history.
	HistoryWindow int
}

// Service wires the orchestrator, retriever and media chains behind one API.
// Media generation is strictly best-effort: a recommendation never fails
// because audio or an illustration could not be produced.
type Service struct {
	exchanger Exchanger
	grounding Grounding
	store     *corpus.Store
	tts       *media.TTSChain
	stt       *media.STTChain
	image     *media.ImageChain
	cfg       Config

	chatHealthy atomic.Bool
}

// New creates the service. Any media chain may be nil or disabled.
func New(
	exchanger Exchanger,
	grounding Grounding,
	store *corpus.Store,
	tts *media.TTSChain,
	stt *media.STTChain,
	image *media.ImageChain,
	cfg Config,
) *Service {
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}

	s := &Service{
		exchanger: exchanger,
		grounding: grounding,
		store:     store,
		tts:       tts,
		stt:       stt,
		image:     image,
		cfg:       cfg,
	}
	s.chatHealthy.Store(true)

	return s
}

// Respond runs one exchange and attaches requested media artifacts. The only
// error conditions are context cancellation and domain.ErrModelUnavailable.
func (s *Service) Respond(ctx context.Context, req Request) (*domain.Result, error) {
	exchange, err := s.exchanger.Run(ctx, req.Text, s.trimHistory(req.History), req.TopK)
	if err != nil {
		if errors.Is(err, domain.ErrModelUnavailable) {
			s.chatHealthy.Store(false)
		}
		return nil, err
	}
	s.chatHealthy.Store(true)

	result := &domain.Result{
		Text:              exchange.Text,
		ToolCallsExecuted: exchange.ToolCallsExecuted,
		Blocked:           exchange.Blocked,
		BlockedReason:     exchange.BlockedReason,
		GroundingDegraded: exchange.GroundingDegraded,
	}

	if !result.Blocked {
		if req.WithAudio {
			s.attachAudio(ctx, result)
		}
		if req.WithImage {
			s.attachCover(ctx, result)
		}
	}

	return result, nil
}

// Search exposes retrieval directly. A degraded retrieval backend yields an
// empty result, not an error; callers read Status for health.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	results, err := s.grounding.Retrieve(ctx, query, topK)
	if err != nil {
		if errors.Is(err, domain.ErrGroundingUnavailable) {
			return nil, nil
		}
		return nil, err
	}
	return results, nil
}

// SimilarTo recommends books similar to a known corpus title.
func (s *Service) SimilarTo(ctx context.Context, title string, topK int) ([]domain.RetrievalResult, error) {
	return s.grounding.SimilarTo(ctx, title, topK)
}

// Transcribe converts a captured audio clip to text through the transcription
// chain.
func (s *Service) Transcribe(ctx context.Context, clip media.Audio) (*Transcription, error) {
	if s.stt == nil || !s.stt.Enabled() {
		return nil, media.ErrChainDisabled
	}

	outcome, err := s.stt.Generate(ctx, clip)
	if err != nil {
		return nil, err
	}

	return &Transcription{
		Text:            outcome.Value,
		ProviderUsed:    outcome.ProviderUsed,
		FailedProviders: outcome.Failed,
	}, nil
}

// Status reports component health. Chat reachability reflects the last
// exchange; provider health reflects each provider's last attempt.
func (s *Service) Status(_ context.Context) domain.Status {
	health := make(map[string]bool)
	if s.tts != nil {
		mergeHealth(health, media.KindTTS, s.tts.Health())
	}
	if s.stt != nil {
		mergeHealth(health, media.KindSTT, s.stt.Health())
	}
	if s.image != nil {
		mergeHealth(health, media.KindImage, s.image.Health())
	}

	return domain.Status{
		RetrieverHealthy:   s.grounding.Healthy(),
		ChatModelReachable: s.chatHealthy.Load(),
		PerProviderHealth:  health,
	}
}

// attachAudio speaks the recommendation text, best-effort.
func (s *Service) attachAudio(ctx context.Context, result *domain.Result) {
	if s.tts == nil || !s.tts.Enabled() {
		return
	}

	outcome, err := s.tts.Generate(ctx, result.Text)
	if err != nil {
		s.recordMediaFailure(ctx, result, media.KindTTS, err)
		return
	}

	result.MediaArtifacts = append(result.MediaArtifacts, domain.MediaArtifact{
		Kind:            domain.MediaKindAudio,
		ProviderUsed:    outcome.ProviderUsed,
		Bytes:           outcome.Value,
		FailedProviders: outcome.Failed,
	})
}

// attachCover illustrates the recommended book, best-effort. The cover needs
// a corpus title named in the reply; without one there is nothing to draw.
func (s *Service) attachCover(ctx context.Context, result *domain.Result) {
	if s.image == nil || !s.image.Enabled() {
		return
	}

	book, ok := s.recommendedBook(result.Text)
	if !ok {
		if result.FailedMedia == nil {
			result.FailedMedia = make(map[string]string)
		}
		result.FailedMedia[media.KindImage] = "no corpus title named in the reply"
		return
	}

	outcome, err := s.image.Generate(ctx, media.CoverSpec{Title: book.Title, Themes: book.Themes})
	if err != nil {
		s.recordMediaFailure(ctx, result, media.KindImage, err)
		return
	}

	result.MediaArtifacts = append(result.MediaArtifacts, domain.MediaArtifact{
		Kind:            domain.MediaKindImage,
		ProviderUsed:    outcome.ProviderUsed,
		URI:             outcome.Value.URL,
		Bytes:           outcome.Value.Data,
		FailedProviders: outcome.Failed,
	})
}

func (s *Service) recordMediaFailure(ctx context.Context, result *domain.Result, kind string, err error) {
	observability.FromContext(ctx).Warn("media generation failed",
		observability.String("kind", kind),
		observability.Error(err))

	if result.FailedMedia == nil {
		result.FailedMedia = make(map[string]string)
	}
	result.FailedMedia[kind] = err.Error()
}

// recommendedBook finds the corpus book the reply names. The longest matching
// title wins, so "The Lord of the Rings" beats a corpus entry titled "Rings".
func (s *Service) recommendedBook(text string) (domain.BookRecord, bool) {
	lowered := strings.ToLower(text)

	var best domain.BookRecord
	found := false
	for _, book := range s.store.Books() {
		if strings.Contains(lowered, strings.ToLower(book.Title)) {
			if !found || len(book.Title) > len(best.Title) {
				best = book
				found = true
			}
		}
	}
	return best, found
}

// trimHistory keeps the trailing window of prior turns.
func (s *Service) trimHistory(history []domain.ConversationTurn) []domain.ConversationTurn {
	if s.cfg.HistoryWindow <= 0 {
		return nil
	}
	if len(history) <= s.cfg.HistoryWindow {
		return history
	}
	return history[len(history)-s.cfg.HistoryWindow:]
}

func mergeHealth(into map[string]bool, kind string, health map[string]bool) {
	for name, healthy := range health {
		into[kind+"/"+name] = healthy
	}
}
