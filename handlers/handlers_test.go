package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/events"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/services"
	"github.com/replk8/voice-agent/store"
)

const adminToken = "admin-secret"

// fakeTelnyx records Call Control commands and answers like the v2 API.
type fakeTelnyx struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeTelnyx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/calls" {
		_, _ = w.Write([]byte(`{"data":{"call_control_id":"v3:out-1","call_leg_id":"leg-1","call_session_id":"sess-1","is_alive":true}}`))
		return
	}
	_, _ = w.Write([]byte(`{"data":{"result":"ok"}}`))
}

func (f *fakeTelnyx) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

type testServer struct {
	handler http.Handler
	svc     *services.ServiceContainer
	telnyx  *fakeTelnyx
	mediaFs afero.Fs
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	api := &fakeTelnyx{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.TelnyxAPIKey = "KEY123"
	cfg.TelnyxAPIBaseURL = server.URL
	cfg.TelnyxConnectionID = "conn-1"
	cfg.TelnyxRateLimit = 0
	cfg.DeepgramAPIKey = "dg"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = server.URL + "/v1"
	cfg.AdminAPIToken = adminToken
	cfg.PublicBaseURL = "https://agent.example.com"
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.New()
	calls := store.NewMemoryCallStateStore()
	telnyx, err := services.NewTelnyxService(cfg, m)
	require.NoError(t, err)
	deepgram, err := services.NewDeepgramService(cfg, m)
	require.NoError(t, err)
	llm, err := services.NewOpenAIService(cfg, store.NewMemoryConversationStore(), m)
	require.NoError(t, err)
	customers := services.NewCustomerService(store.NewMemoryCustomerStore(store.DemoCustomers()...))
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	mediaFs := afero.NewMemMapFs()

	svc := &services.ServiceContainer{
		Config:    cfg,
		Metrics:   m,
		Calls:     calls,
		Telnyx:    telnyx,
		Deepgram:  deepgram,
		OpenAI:    llm,
		Media:     services.NewMediaStore(mediaFs, cfg.PublicBaseURL),
		Customers: customers,
		Hub:       hub,
	}
	svc.CallFlow = services.NewCallFlow(services.CallFlowDeps{
		Calls:     calls,
		Telnyx:    telnyx,
		STT:       deepgram,
		LLM:       llm,
		Customers: customers,
		Events:    hub,
		Metrics:   m,
	}, services.CallFlowConfig{RecordingSilenceSecs: cfg.RecordingSilenceSecs, RecordingMaxSecs: cfg.RecordingMaxSecs})

	return &testServer{handler: NewRouter(svc), svc: svc, telnyx: api, mediaFs: mediaFs}
}

func (s *testServer) do(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func initiatedEvent(id string) []byte {
	return []byte(`{"data":{"id":"` + id + `","event_type":"call.initiated","occurred_at":"2024-01-01T00:00:00Z",` +
		`"payload":{"call_control_id":"v3:call-1","from":"+15551112222","to":"+1234567890","direction":"incoming"}}}`)
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Replk8 AI Voice Agent is running", decodeBody(t, rec)["message"])

	rec = s.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["time"].(string))
	assert.NoError(t, err)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsKept(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/health", nil, map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestTelnyxWebhookAnswersCall(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/webhooks/telnyx", initiatedEvent("evt-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	assert.Equal(t, []string{"/calls/v3:call-1/actions/answer"}, s.telnyx.commands())

	// Telnyx retries are acknowledged without a second answer.
	rec = s.do(http.MethodPost, "/webhooks/telnyx", initiatedEvent("evt-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.telnyx.commands(), 1)
}

func TestTelnyxWebhookBadJSON(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/webhooks/telnyx", []byte(`{"data":`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelnyxWebhookHandlerError(t *testing.T) {
	s := newTestServer(t, nil)
	// A Telnyx error on answer surfaces as a 500 with detail.
	s.svc.CallFlow = services.NewCallFlow(services.CallFlowDeps{
		Calls:     s.svc.Calls,
		Telnyx:    failingControl{},
		STT:       s.svc.Deepgram,
		LLM:       s.svc.OpenAI,
		Customers: s.svc.Customers,
	}, services.CallFlowConfig{})
	s.handler = NewRouter(s.svc)

	rec := s.do(http.MethodPost, "/webhooks/telnyx", initiatedEvent("evt-2"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "telnyx unavailable")

	// The Telnyx retry is processed again rather than acknowledged.
	rec = s.do(http.MethodPost, "/webhooks/telnyx", initiatedEvent("evt-2"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingControl struct{}

func (failingControl) AnswerCall(_ context.Context, _ string) error {
	return errors.New("telnyx unavailable")
}
func (failingControl) SpeakText(_ context.Context, _, _, _, _ string) error {
	return errors.New("telnyx unavailable")
}
func (failingControl) PlayAudio(_ context.Context, _, _ string) error {
	return errors.New("telnyx unavailable")
}
func (failingControl) StartRecording(_ context.Context, _ string, _ services.RecordingOptions) error {
	return errors.New("telnyx unavailable")
}

func signedHeaders(priv ed25519.PrivateKey, body []byte, at time.Time) map[string]string {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig := ed25519.Sign(priv, append([]byte(ts+"|"), body...))
	return map[string]string{
		"telnyx-timestamp":         ts,
		"telnyx-signature-ed25519": base64.StdEncoding.EncodeToString(sig),
	}
}

func TestTelnyxWebhookSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.TelnyxPublicKey = base64.StdEncoding.EncodeToString(pub)
	})

	body := initiatedEvent("evt-3")
	rec := s.do(http.MethodPost, "/webhooks/telnyx", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/webhooks/telnyx", body, signedHeaders(priv, body, time.Now().Add(-10*time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/webhooks/telnyx", body, signedHeaders(priv, body, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTelnyxWebhookMalformedKeyRejects(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.TelnyxPublicKey = "not-a-key"
	})

	body := initiatedEvent("evt-4")
	rec := s.do(http.MethodPost, "/webhooks/telnyx", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/webhooks/telnyx", body, signedHeaders(priv, body, time.Now()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.telnyx.paths)
}

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	body := []byte(`{"data":{}}`)
	h := signedHeaders(priv, body, now)

	assert.NoError(t, VerifySignature(pub, h["telnyx-timestamp"], h["telnyx-signature-ed25519"], body, now))
	assert.ErrorIs(t, VerifySignature(pub, h["telnyx-timestamp"], h["telnyx-signature-ed25519"], []byte(`{}`), now), errBadSignature)
	assert.ErrorIs(t, VerifySignature(pub, "abc", h["telnyx-signature-ed25519"], body, now), errBadSignature)
	assert.ErrorIs(t, VerifySignature(pub, h["telnyx-timestamp"], "***", body, now), errBadSignature)
	assert.ErrorIs(t, VerifySignature(pub, "", "", body, now), errBadSignature)
}

func TestServeMedia(t *testing.T) {
	s := newTestServer(t, nil)
	name, err := s.svc.Media.Save(".mp3", []byte("ID3audio"))
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/media/"+name, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ID3audio", rec.Body.String())

	rec = s.do(http.MethodGet, "/media/6f1c2b8e-9d1a-4b6e-8e0f-3a7c5d2e1b90.mp3", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeMediaHidesForeignFiles(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, afero.WriteFile(s.mediaFs, "/session.txt", []byte("secret"), 0o600))
	require.NoError(t, afero.WriteFile(s.mediaFs, "/missing.mp3", []byte("theirs"), 0o600))

	for _, target := range []string{"/media/session.txt", "/media/missing.mp3"} {
		rec := s.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "secret")
	}
}

func TestEventStreamRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	server := httptest.NewServer(s.handler)
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer wrong"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + adminToken}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestEventStreamDisabledWithoutToken(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.AdminAPIToken = ""
	})
	rec := s.do(http.MethodGet, "/ws/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodGet, "/health", nil, nil)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="GET /health"`)
}

func auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/customers/+1234567890/voices", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/customers/+1234567890/voices", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	off := newTestServer(t, func(cfg *config.Config) { cfg.AdminAPIToken = "" })
	rec = off.do(http.MethodGet, "/customers/+1234567890/voices", nil, auth())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerVoices(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/customers/+0987654321/voices", nil, auth())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "elevenlabs", body["service"])
	assert.Equal(t, "premium", body["subscription_tier"])
}

func TestUpdateCustomerPreferences(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPatch, "/customers/+1234567890/preferences",
		[]byte(`{"voice_id":"Matthew","language":"es-ES"}`), auth())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "es-ES", body["language"])
	assert.Equal(t, "Matthew", body["voice_id"])

	rec = s.do(http.MethodPatch, "/customers/+1234567890/preferences", []byte(`{"tts_preference":"azure"}`), auth())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "oneof")

	rec = s.do(http.MethodPatch, "/customers/+1234567890/preferences", []byte(`{"color":"blue"}`), auth())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPatch, "/customers/+15550000000/preferences", []byte(`{"language":"en-US"}`), auth())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMakeOutboundCall(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/calls", []byte(`{"to":"+15551112222","from":"+1234567890"}`), auth())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "v3:out-1", decodeBody(t, rec)["call_control_id"])
	assert.Contains(t, s.telnyx.commands(), "/calls")

	rec = s.do(http.MethodPost, "/calls", []byte(`{"to":"5551112222","from":"+1234567890"}`), auth())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(decodeBody(t, rec)["detail"].(string), "e164"))
}

func TestMakeOutboundCallNotConfigured(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.TelnyxConnectionID = "" })
	rec := s.do(http.MethodPost, "/calls", []byte(`{"to":"+15551112222","from":"+1234567890"}`), auth())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recover(), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
