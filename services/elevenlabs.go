package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/config"
)

const (
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel
	elevenLabsModel        = "eleven_monolingual_v1"
)

// ElevenLabsSynthesizer is the premium tier voice
type ElevenLabsSynthesizer struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewElevenLabsSynthesizer returns nil when no API key is configured
func NewElevenLabsSynthesizer(cfg *config.Config) *ElevenLabsSynthesizer {
	if cfg.ElevenLabsAPIKey == "" {
		return nil
	}
	return &ElevenLabsSynthesizer{
		apiKey:     cfg.ElevenLabsAPIKey,
		baseURL:    strings.TrimRight(cfg.ElevenLabsBaseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize returns mp3 audio and the voice id that spoke it
func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, voiceID, _ string) ([]byte, string, error) {
	voice := voiceID
	if voice == "" {
		voice = elevenLabsDefaultVoice
	}

	payload, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, voice, errors.Wrap(err, "encoding elevenlabs request")
	}

	endpoint := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, voice, errors.Wrap(err, "building elevenlabs request")
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, voice, errors.Wrap(err, "elevenlabs request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, voice, errors.Wrap(err, "reading elevenlabs audio")
	}
	if resp.StatusCode >= 300 {
		return nil, voice, &VendorError{Vendor: "elevenlabs", Op: "synthesize", Status: resp.StatusCode, Body: string(body)}
	}
	return body, voice, nil
}
