package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/store"
)

// TestCompleteAudioProcessingFlow runs a caller turn against the real
// vendors: the language model answers and Polly voices the answer.
func TestCompleteAudioProcessingFlow(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=true to run.")
	}

	// Load .env file if it exists
	_ = godotenv.Load("../.env")
	logger.Initialize(logger.DEBUG, true)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg, err := config.LoadFrom("")
	require.NoError(t, err)

	t.Log("Initializing OpenAI service...")
	llm, err := NewOpenAIService(cfg, store.NewMemoryConversationStore(), nil)
	require.NoError(t, err)

	if cfg.GeminiAPIKey != "" {
		t.Log("Initializing Gemini service...")
		gemini, err := NewGeminiService(ctx, cfg, nil)
		require.NoError(t, err)
		defer gemini.Close()
		llm.SetFallback(gemini)
	}

	t.Log("Initializing Text-to-Speech service...")
	pollySynth, err := NewPollySynthesizer(ctx, cfg)
	require.NoError(t, err)
	media := NewMediaStore(afero.NewMemMapFs(), "http://localhost:8000")
	tts := NewTextToSpeechService(pollySynth, nil, nil, media, nil)

	business := store.DemoCustomers()[0].BusinessContext
	transcription := "Hi, I'd like to book a haircut for tomorrow afternoon."
	t.Logf("Test transcription: %q", transcription)

	reply := llm.GenerateResponse(ctx, transcription, "test-call-id", business, "en")
	require.NotEmpty(t, reply)
	t.Logf("Response: %q", reply)

	speech, err := tts.GenerateSpeech(ctx, reply, store.VendorPolly, "", "en-US")
	require.NoError(t, err)
	assert.Greater(t, speech.Bytes, 0)
	assert.Greater(t, speech.Duration, time.Duration(0))
	t.Logf("Synthesized %d bytes (%s) at %s", speech.Bytes, speech.Duration, speech.URL)

	text, err := llm.ConversationText(ctx, "test-call-id")
	require.NoError(t, err)
	assert.Contains(t, text, "Customer: "+transcription)
}
