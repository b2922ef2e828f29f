package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
)

const (
	defaultSpeakVoice    = "female"
	defaultSpeakLanguage = "en-US"
)

// RecordingOptions controls a record_start command
type RecordingOptions struct {
	Channels string // "single" or "dual"
	// SilenceTimeoutSecs ends the recording after this many seconds of silence.
	SilenceTimeoutSecs int
	MaxLengthSecs      int
}

// OutboundCall is the data returned when a call is dialed
type OutboundCall struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
	IsAlive       bool   `json:"is_alive"`
}

// TelnyxService issues Call Control commands against the Telnyx v2 API
type TelnyxService struct {
	apiKey       string
	baseURL      string
	connectionID string
	webhookURL   string
	httpClient   *http.Client
	limiter      *rate.Limiter
	metrics      *metrics.Metrics
	log          *logger.Logger
}

// NewTelnyxService creates a new Telnyx Call Control client
func NewTelnyxService(cfg *config.Config, m *metrics.Metrics) (*TelnyxService, error) {
	if cfg.TelnyxAPIKey == "" {
		return nil, errors.Wrap(ErrNotConfigured, "TELNYX_API_KEY is required")
	}

	limit := rate.Inf
	burst := 1
	if cfg.TelnyxRateLimit > 0 {
		limit = rate.Limit(cfg.TelnyxRateLimit)
		burst = int(cfg.TelnyxRateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &TelnyxService{
		apiKey:       cfg.TelnyxAPIKey,
		baseURL:      cfg.TelnyxAPIBaseURL,
		connectionID: cfg.TelnyxConnectionID,
		webhookURL:   cfg.TelnyxWebhookURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		limiter:      rate.NewLimiter(limit, burst),
		metrics:      m,
		log:          logger.Component("telnyx"),
	}, nil
}

// AnswerCall answers an incoming call
func (t *TelnyxService) AnswerCall(ctx context.Context, callControlID string) error {
	if err := t.action(ctx, callControlID, "answer", map[string]any{}); err != nil {
		return err
	}
	t.log.Info("Answered call: %s", callControlID)
	return nil
}

// HangupCall hangs up a call
func (t *TelnyxService) HangupCall(ctx context.Context, callControlID string) error {
	if err := t.action(ctx, callControlID, "hangup", map[string]any{}); err != nil {
		return err
	}
	t.log.Info("Hung up call: %s", callControlID)
	return nil
}

// SpeakText uses Telnyx's built-in TTS to say text on the call. Empty voice
// and language fall back to "female" and en-US.
func (t *TelnyxService) SpeakText(ctx context.Context, callControlID, text, voice, language string) error {
	if voice == "" {
		voice = defaultSpeakVoice
	}
	if language == "" {
		language = defaultSpeakLanguage
	}
	body := map[string]any{
		"payload":  text,
		"voice":    voice,
		"language": language,
	}
	if err := t.action(ctx, callControlID, "speak", body); err != nil {
		return err
	}
	t.log.Info("Speaking text on call %s: %s", callControlID, truncate(text, 50))
	return nil
}

// PlayAudio plays an audio file, fetched by Telnyx from mediaURL
func (t *TelnyxService) PlayAudio(ctx context.Context, callControlID, mediaURL string) error {
	if err := t.action(ctx, callControlID, "playback_start", map[string]any{"audio_url": mediaURL}); err != nil {
		return err
	}
	t.log.Info("Playing audio on call %s: %s", callControlID, mediaURL)
	return nil
}

// StartRecording records the caller as mp3
func (t *TelnyxService) StartRecording(ctx context.Context, callControlID string, opts RecordingOptions) error {
	channels := opts.Channels
	if channels == "" {
		channels = "single"
	}
	body := map[string]any{
		"format":   "mp3",
		"channels": channels,
	}
	if opts.SilenceTimeoutSecs > 0 {
		body["timeout_secs"] = opts.SilenceTimeoutSecs
	}
	if opts.MaxLengthSecs > 0 {
		body["max_length"] = opts.MaxLengthSecs
	}
	if err := t.action(ctx, callControlID, "record_start", body); err != nil {
		return err
	}
	t.log.Info("Started recording call: %s", callControlID)
	return nil
}

// StopRecording stops an active recording
func (t *TelnyxService) StopRecording(ctx context.Context, callControlID string) error {
	if err := t.action(ctx, callControlID, "record_stop", map[string]any{}); err != nil {
		return err
	}
	t.log.Info("Stopped recording call: %s", callControlID)
	return nil
}

// GatherInput speaks a prompt and collects DTMF digits. Zero maxDigits and
// timeoutMillis default to 1 and 5000.
func (t *TelnyxService) GatherInput(ctx context.Context, callControlID, prompt string, maxDigits, timeoutMillis int) error {
	if maxDigits <= 0 {
		maxDigits = 1
	}
	if timeoutMillis <= 0 {
		timeoutMillis = 5000
	}
	body := map[string]any{
		"payload":        prompt,
		"voice":          defaultSpeakVoice,
		"language":       defaultSpeakLanguage,
		"maximum_digits": maxDigits,
		"timeout_millis": timeoutMillis,
	}
	if err := t.action(ctx, callControlID, "gather_using_speak", body); err != nil {
		return err
	}
	t.log.Info("Gathering input on call %s", callControlID)
	return nil
}

// MakeOutboundCall dials a number. An empty webhookURL uses TELNYX_WEBHOOK_URL.
func (t *TelnyxService) MakeOutboundCall(ctx context.Context, to, from, webhookURL string) (*OutboundCall, error) {
	if t.connectionID == "" {
		return nil, errors.Wrap(ErrNotConfigured, "TELNYX_CONNECTION_ID is required for outbound calls")
	}
	if webhookURL == "" {
		webhookURL = t.webhookURL
	}

	body := map[string]any{
		"connection_id": t.connectionID,
		"to":            to,
		"from":          from,
	}
	if webhookURL != "" {
		body["webhook_url"] = webhookURL
	}

	var resp struct {
		Data OutboundCall `json:"data"`
	}
	if err := t.post(ctx, "dial", t.baseURL+"/calls", body, &resp); err != nil {
		return nil, err
	}
	t.log.Info("Making outbound call from %s to %s", from, to)
	return &resp.Data, nil
}

type commandKey struct{}

// WithCommandKey ties the Call Control commands issued under ctx to key,
// usually the webhook event id. Telnyx ignores a repeated command_id on the
// same call, so a redelivered event cannot issue the same command twice.
func WithCommandKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, commandKey{}, key)
}

func commandID(ctx context.Context, callControlID, name string) string {
	key, _ := ctx.Value(commandKey{}).(string)
	if key == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key+"/"+callControlID+"/"+name)).String()
}

func (t *TelnyxService) action(ctx context.Context, callControlID, name string, body map[string]any) error {
	if callControlID == "" {
		return errors.Wrap(ErrInvalidArgument, "call control id is required")
	}
	body["command_id"] = commandID(ctx, callControlID, name)
	endpoint := fmt.Sprintf("%s/calls/%s/actions/%s", t.baseURL, url.PathEscape(callControlID), name)
	return t.post(ctx, name, endpoint, body, nil)
}

func (t *TelnyxService) post(ctx context.Context, op, endpoint string, body any, result any) (err error) {
	start := time.Now()
	defer func() { t.metrics.ObserveVendor("telnyx", op, start, err) }()

	if err := t.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "telnyx %s rate limit", op)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encoding telnyx %s request", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "building telnyx %s request", op)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "telnyx %s request", op)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading telnyx %s response", op)
	}

	if resp.StatusCode >= 300 {
		t.log.Error("Telnyx %s failed with status %d", op, resp.StatusCode)
		return &VendorError{Vendor: "telnyx", Op: op, Status: resp.StatusCode, Body: string(raw)}
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return errors.Wrapf(err, "decoding telnyx %s response", op)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
