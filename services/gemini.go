package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/store"
)

// GeminiService answers callers with Google's Gemini when the primary model
// is unavailable
type GeminiService struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewGeminiService creates a new Gemini service
func NewGeminiService(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*GeminiService, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.Wrap(ErrNotConfigured, "GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, errors.Wrap(err, "creating gemini client")
	}

	model := client.GenerativeModel("gemini-1.5-pro")

	// Set temperature for more consistent responses
	model.SetTemperature(0.4)
	model.SetMaxOutputTokens(150)

	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
	}

	return &GeminiService{
		client:  client,
		model:   model,
		metrics: m,
		log:     logger.Component("gemini"),
	}, nil
}

// Close closes the Gemini client
func (g *GeminiService) Close() error {
	return g.client.Close()
}

// GenerateResponse generates a reply from the system prompt, the call's
// history and the caller's latest words
func (g *GeminiService) GenerateResponse(ctx context.Context, systemPrompt string, history []store.Message, userInput string) (reply string, err error) {
	start := time.Now()
	defer func() { g.metrics.ObserveVendor("gemini", "generate", start, err) }()

	resp, err := g.model.GenerateContent(ctx, genai.Text(BuildFallbackPrompt(systemPrompt, history, userInput)))
	if err != nil {
		return "", errors.Wrap(err, "gemini generate content")
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", errors.New("gemini returned a non-text part")
	}
	g.log.Debug("Gemini replied with %d chars", len(text))
	return string(text), nil
}

// BuildFallbackPrompt flattens a chat into a single text prompt.
func BuildFallbackPrompt(systemPrompt string, history []store.Message, userInput string) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n")
	if len(history) > 0 {
		b.WriteString("\n")
		b.WriteString(formatHistory(history, "User", "Assistant"))
		b.WriteString("\n")
	}
	b.WriteString("\nUser: ")
	b.WriteString(userInput)
	b.WriteString("\nAssistant: ")
	return b.String()
}
