package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"roofscale-backend/internal/models"
)

// contentGenerator is the slice of the genai Models API the service uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiService struct {
	generator contentGenerator
	model     string
	logger    *zap.Logger
	rateChan  chan struct{} // Token bucket
}

func NewGeminiService(ctx context.Context, apiKey, model string, concurrentReqs int, logger *zap.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGeminiService(client.Models, model, concurrentReqs, logger), nil
}

func newGeminiService(generator contentGenerator, model string, concurrentReqs int, logger *zap.Logger) *GeminiService {
	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	// Token bucket bounding concurrent provider calls across all sessions
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		generator: generator,
		model:     model,
		logger:    logger.Named("gemini"),
		rateChan:  rateChan,
	}
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// AnalyzeRoof asks the model for a roof measurement report on address. It
// issues exactly one provider request; loc, when non-nil, is sent as a
// retrieval bias for the Maps grounding tool. Every failure of the call is
// returned as a *ProviderError.
func (s *GeminiService) AnalyzeRoof(ctx context.Context, address string, loc *models.Coordinates) (*models.AnalysisResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrEmptyAddress
	}

	if err := s.acquireRate(ctx); err != nil {
		return nil, newProviderError(err)
	}
	defer s.releaseRate()

	contents, config := buildAnalysisRequest(address, loc)

	start := time.Now()
	resp, err := s.generator.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		perr := newProviderError(err)
		s.logger.Error("Gemini analysis failed",
			zap.String("kind", string(perr.Kind)),
			zap.String("address", address),
			zap.Bool("has_location", loc != nil),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, perr
	}
	if resp == nil {
		return nil, &ProviderError{Kind: ProviderErrorMalformedResponse, Err: errors.New("empty response")}
	}

	for i, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		s.logger.Debug("Gemini candidate",
			zap.Int("index", i),
			zap.String("finish_reason", string(cand.FinishReason)))
		if cand.FinishReason != "" && cand.FinishReason != genai.FinishReasonStop {
			s.logger.Warn("Gemini stopped early", zap.String("finish_reason", string(cand.FinishReason)))
		}
	}

	report := ExtractReport(extractText(resp))
	if report.DecodeErr != nil {
		s.logger.Warn("Discarding undecodable metrics block",
			zap.String("address", address),
			zap.Error(report.DecodeErr))
	}

	citations := extractCitations(resp)
	s.logger.Info("Gemini analysis complete",
		zap.String("address", address),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("has_metrics", report.Metrics != nil),
		zap.Int("citations", len(citations)))

	return &models.AnalysisResult{
		Narrative:           report.Narrative,
		Citations:           citations,
		Metrics:             report.Metrics,
		MetricsDecodeFailed: report.DecodeErr != nil,
	}, nil
}

// buildAnalysisRequest assembles the prompt and config for one analysis. The
// Maps tool is always enabled; the tool config is only present with a location.
func buildAnalysisRequest(address string, loc *models.Coordinates) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(roofAnalysisInstruction, genai.RoleUser),
		Tools: []*genai.Tool{
			{GoogleMaps: &genai.GoogleMaps{}},
		},
	}

	if loc != nil {
		config.ToolConfig = &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{
					Latitude:  genai.Ptr(loc.Latitude),
					Longitude: genai.Ptr(loc.Longitude),
				},
			},
		}
	}

	return genai.Text(buildRoofAnalysisPrompt(address)), config
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	return text.String()
}

// extractCitations converts the first candidate's grounding chunks, keeping
// provider order. Chunks with neither a maps nor a web source are skipped.
func extractCitations(resp *genai.GenerateContentResponse) []models.Citation {
	citations := []models.Citation{}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].GroundingMetadata == nil {
		return citations
	}

	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil {
			continue
		}

		var c models.Citation
		if chunk.Maps != nil {
			c.Maps = &models.CitationRef{Title: chunk.Maps.Title, URI: chunk.Maps.URI}
		}
		if chunk.Web != nil {
			c.Web = &models.CitationRef{Title: chunk.Web.Title, URI: chunk.Web.URI}
		}
		if c.Maps == nil && c.Web == nil {
			continue
		}
		citations = append(citations, c)
	}
	return citations
}
