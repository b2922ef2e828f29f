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
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
)

// maxRecordingBytes caps how much of a recording is downloaded.
const maxRecordingBytes = 25 << 20

// DeepgramService transcribes call recordings with Deepgram's prerecorded API
type DeepgramService struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *logger.Logger
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// NewDeepgramService creates a new speech-to-text service
func NewDeepgramService(cfg *config.Config, m *metrics.Metrics) (*DeepgramService, error) {
	if cfg.DeepgramAPIKey == "" {
		return nil, errors.Wrap(ErrNotConfigured, "DEEPGRAM_API_KEY is required")
	}
	return &DeepgramService{
		apiKey:     cfg.DeepgramAPIKey,
		baseURL:    strings.TrimRight(cfg.DeepgramBaseURL, "/"),
		model:      cfg.DeepgramModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		metrics:    m,
		log:        logger.Component("deepgram"),
	}, nil
}

// TranscribeAudio transcribes an en-US recording
func (d *DeepgramService) TranscribeAudio(ctx context.Context, audioURL string) (string, error) {
	return d.TranscribeAudioLanguage(ctx, audioURL, defaultSpeakLanguage)
}

// TranscribeAudioLanguage downloads the recording at audioURL and returns
// its trimmed transcript. A response without channels yields "".
func (d *DeepgramService) TranscribeAudioLanguage(ctx context.Context, audioURL, language string) (transcript string, err error) {
	start := time.Now()
	defer func() { d.metrics.ObserveVendor("deepgram", "transcribe", start, err) }()

	audio, err := d.download(ctx, audioURL)
	if err != nil {
		return "", err
	}
	d.log.Debug("Downloaded %d bytes of audio from %s", len(audio), audioURL)

	if language == "" {
		language = defaultSpeakLanguage
	}
	query := url.Values{}
	query.Set("model", d.model)
	query.Set("language", language)
	query.Set("smart_format", "true")
	query.Set("punctuate", "true")
	query.Set("diarize", "false")
	query.Set("multichannel", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/listen?"+query.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", errors.Wrap(err, "building deepgram request")
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/mp3")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "deepgram request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading deepgram response")
	}
	if resp.StatusCode >= 300 {
		return "", &VendorError{Vendor: "deepgram", Op: "transcribe", Status: resp.StatusCode, Body: string(raw)}
	}

	var result listenResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errors.Wrap(err, "decoding deepgram response")
	}

	channels := result.Results.Channels
	if len(channels) == 0 || len(channels[0].Alternatives) == 0 {
		d.log.Warn("No transcript found in response")
		return "", nil
	}

	transcript = strings.TrimSpace(channels[0].Alternatives[0].Transcript)
	d.log.Info("Transcribed: %s", transcript)
	return transcript, nil
}

func (d *DeepgramService) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building recording request")
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "downloading recording")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &VendorError{Vendor: "recording", Op: "download", Status: resp.StatusCode, Body: string(body)}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, errors.Wrap(err, "reading recording")
	}
	return audio, nil
}
