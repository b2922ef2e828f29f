package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/events"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/store"
)

// Telnyx webhook event types the call flow reacts to
const (
	EventCallInitiated   = "call.initiated"
	EventCallAnswered    = "call.answered"
	EventSpeakStarted    = "call.speak.started"
	EventSpeakEnded      = "call.speak.ended"
	EventPlaybackStarted = "call.playback.started"
	EventPlaybackEnded   = "call.playback.ended"
	EventRecordingSaved  = "call.recording.saved"
	EventCallHangup      = "call.hangup"

	// EventAppointment is published once booking details were extracted
	// from a finished call.
	EventAppointment = "call.appointment.extracted"
)

const (
	eventDedupeTTL    = 10 * time.Minute
	backgroundTimeout = 60 * time.Second
)

// WebhookEnvelope is the body of a Telnyx Call Control webhook
type WebhookEnvelope struct {
	Data WebhookData `json:"data"`
}

// WebhookData identifies one webhook delivery
type WebhookData struct {
	ID         string      `json:"id"`
	EventType  string      `json:"event_type"`
	OccurredAt string      `json:"occurred_at"`
	Payload    CallPayload `json:"payload"`
}

// RecordingURLs are the download links of a saved recording
type RecordingURLs struct {
	MP3 string `json:"mp3"`
	WAV string `json:"wav"`
}

// CallPayload is the call-specific part of a webhook
type CallPayload struct {
	CallControlID       string        `json:"call_control_id"`
	CallLegID           string        `json:"call_leg_id"`
	CallSessionID       string        `json:"call_session_id"`
	From                string        `json:"from"`
	To                  string        `json:"to"`
	Direction           string        `json:"direction"`
	State               string        `json:"state"`
	ClientState         string        `json:"client_state"`
	HangupCause         string        `json:"hangup_cause"`
	RecordingURLs       RecordingURLs `json:"recording_urls"`
	PublicRecordingURLs RecordingURLs `json:"public_recording_urls"`
	MediaURL            string        `json:"media_url"`
}

// CallControl is the subset of Call Control commands the flow issues
type CallControl interface {
	AnswerCall(ctx context.Context, callControlID string) error
	SpeakText(ctx context.Context, callControlID, text, voice, language string) error
	PlayAudio(ctx context.Context, callControlID, mediaURL string) error
	StartRecording(ctx context.Context, callControlID string, opts RecordingOptions) error
}

// Transcriber turns a recording into text
type Transcriber interface {
	TranscribeAudioLanguage(ctx context.Context, audioURL, language string) (string, error)
}

// Responder produces the agent's side of the conversation
type Responder interface {
	GenerateResponse(ctx context.Context, userInput, callControlID string, business *store.BusinessContext, language string) string
	ExtractAppointmentDetails(ctx context.Context, conversationText string) Appointment
	ConversationText(ctx context.Context, callControlID string) (string, error)
	ClearConversation(ctx context.Context, callControlID string) error
}

// SpeechGenerator synthesizes audio with a specific vendor
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text string, vendor store.Vendor, voiceID, language string) (*Speech, error)
}

// AppointmentNotifier forwards captured bookings to the business
type AppointmentNotifier interface {
	NotifyAppointment(ctx context.Context, businessPhone, businessName, callerNumber string, appt Appointment) error
}

// CallFlowConfig tunes the listen/respond loop
type CallFlowConfig struct {
	// RecordingSilenceSecs ends a caller turn after this much silence.
	RecordingSilenceSecs int
	RecordingMaxSecs     int
	// UseVendorTTS plays tier-selected vendor audio instead of Telnyx speak.
	UseVendorTTS bool
}

// CallFlowDeps are the collaborators of a CallFlow. TTS and Notifier may be
// nil.
type CallFlowDeps struct {
	Calls     store.CallStateStore
	Telnyx    CallControl
	STT       Transcriber
	LLM       Responder
	TTS       SpeechGenerator
	Customers *CustomerService
	Notifier  AppointmentNotifier
	Events    events.Publisher
	Metrics   *metrics.Metrics
}

// CallFlow drives a call through greeting, listening and responding as
// Telnyx webhooks arrive
type CallFlow struct {
	CallFlowDeps
	cfg CallFlowConfig
	log *logger.Logger
	wg  sync.WaitGroup
}

// NewCallFlow creates the webhook orchestrator
func NewCallFlow(deps CallFlowDeps, cfg CallFlowConfig) *CallFlow {
	if deps.Events == nil {
		deps.Events = events.NewFanout()
	}
	return &CallFlow{
		CallFlowDeps: deps,
		cfg:          cfg,
		log:          logger.Component("callflow"),
	}
}

// HandleEvent processes one webhook. Repeated deliveries of an event id that
// was handled successfully are acknowledged without being processed again;
// an event that failed is released so the Telnyx retry runs it.
func (f *CallFlow) HandleEvent(ctx context.Context, env *WebhookEnvelope) error {
	data := env.Data
	f.log.Info("Received Telnyx webhook: %s", data.EventType)

	if data.ID != "" {
		ctx = WithCommandKey(ctx, data.ID)
		seen, err := f.Calls.SeenEvent(ctx, data.ID, eventDedupeTTL)
		if err != nil {
			f.Metrics.WebhookEvent(data.EventType, "error")
			return errors.Wrap(err, "checking event id")
		}
		if seen {
			f.log.Info("Event %s already processed, skipping", data.ID)
			f.Metrics.WebhookEvent(data.EventType, "duplicate")
			return nil
		}
	}

	var err error
	outcome := "ok"
	switch data.EventType {
	case EventCallInitiated:
		err = f.handleCallInitiated(ctx, data.Payload)
	case EventCallAnswered:
		err = f.handleCallAnswered(ctx, data.Payload)
	case EventSpeakStarted, EventPlaybackStarted:
		f.log.Info("Call %s audio started (%s)", data.Payload.CallControlID, data.EventType)
		f.publish(ctx, data.EventType, data.Payload.CallControlID, "", nil)
	case EventSpeakEnded, EventPlaybackEnded:
		err = f.handleAudioEnded(ctx, data.EventType, data.Payload)
	case EventRecordingSaved:
		err = f.handleRecordingSaved(ctx, data.Payload)
	case EventCallHangup:
		err = f.handleCallHangup(ctx, data.Payload)
	default:
		f.log.Warn("Unhandled event type: %s", data.EventType)
		outcome = "ignored"
	}

	if err != nil {
		outcome = "error"
		f.log.Error("Error processing %s for call %s: %v", data.EventType, data.Payload.CallControlID, err)
		if data.ID != "" {
			if ferr := f.Calls.ForgetEvent(context.WithoutCancel(ctx), data.ID); ferr != nil {
				f.log.Error("Could not release event %s for retry: %v", data.ID, ferr)
			}
		}
	}
	f.Metrics.WebhookEvent(data.EventType, outcome)
	return err
}

// Wait blocks until background work started by hangups has finished or ctx
// is done.
func (f *CallFlow) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *CallFlow) handleCallInitiated(ctx context.Context, p CallPayload) error {
	f.log.Info("Call initiated from %s to %s, call_control_id: %s", p.From, p.To, p.CallControlID)

	// Calls we dialed are answered by the far end.
	if p.Direction == "outgoing" {
		f.publish(ctx, EventCallInitiated, p.CallControlID, "", map[string]any{"from": p.From, "to": p.To, "direction": p.Direction})
		return nil
	}

	if err := f.Telnyx.AnswerCall(ctx, p.CallControlID); err != nil {
		return err
	}
	f.publish(ctx, EventCallInitiated, p.CallControlID, "", map[string]any{"from": p.From, "to": p.To, "direction": p.Direction})
	return nil
}

func (f *CallFlow) handleCallAnswered(ctx context.Context, p CallPayload) error {
	first, err := f.Calls.MarkAnswered(ctx, p.CallControlID)
	if err != nil {
		return errors.Wrap(err, "marking call answered")
	}
	if !first {
		f.log.Info("Call %s already answered, skipping", p.CallControlID)
		return nil
	}

	if err := f.greet(ctx, p); err != nil {
		// Drop the state and the answered marker so a redelivery greets.
		if derr := f.Calls.Delete(context.WithoutCancel(ctx), p.CallControlID); derr != nil {
			f.log.Error("Could not reset call %s after failed greeting: %v", p.CallControlID, derr)
		}
		f.refreshActiveCalls(ctx)
		return err
	}
	return nil
}

func (f *CallFlow) greet(ctx context.Context, p CallPayload) error {
	customerPhone, err := f.resolveCustomer(ctx, p.From, p.To)
	if err != nil {
		return err
	}
	settings, err := f.Customers.VoiceSettings(ctx, customerPhone)
	if err != nil {
		return err
	}
	business, err := f.Customers.BusinessContext(ctx, customerPhone)
	if err != nil {
		return err
	}

	greeting := "Hello! Thank you for calling. How can I help you today?"
	if business != nil && business.Name != "" {
		greeting = "Hello! Thank you for calling " + business.Name + ". How can I help you today?"
	}

	// Saved before speaking so a fast speak.ended finds the greeting flag.
	state := &store.CallState{
		CallControlID:  p.CallControlID,
		From:           p.From,
		To:             p.To,
		CustomerPhone:  customerPhone,
		Phase:          store.PhaseGreeting,
		Answered:       true,
		GreetingSpoken: true,
		StartedAt:      time.Now().UTC(),
	}
	if err := f.Calls.Save(ctx, state); err != nil {
		return errors.Wrap(err, "saving call state")
	}
	f.refreshActiveCalls(ctx)

	if err := f.say(ctx, state, greeting, settings); err != nil {
		return err
	}

	f.publish(ctx, EventCallAnswered, p.CallControlID, state.Phase, map[string]any{
		"from":     p.From,
		"to":       p.To,
		"customer": customerPhone,
		"greeting": greeting,
	})
	return nil
}

func (f *CallFlow) handleAudioEnded(ctx context.Context, eventType string, p CallPayload) error {
	state, err := f.Calls.Get(ctx, p.CallControlID)
	if errors.Is(err, store.ErrNotFound) {
		f.log.Debug("No state for call %s, ignoring %s", p.CallControlID, eventType)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading call state")
	}

	// Only start recording once the greeting is done
	if !state.GreetingSpoken || state.Listening {
		return nil
	}

	if err := f.listen(ctx, state); err != nil {
		return err
	}
	f.publish(ctx, eventType, p.CallControlID, state.Phase, nil)
	return nil
}

func (f *CallFlow) handleRecordingSaved(ctx context.Context, p CallPayload) error {
	state, err := f.Calls.Get(ctx, p.CallControlID)
	if errors.Is(err, store.ErrNotFound) {
		f.log.Info("Recording saved for unknown call %s, ignoring", p.CallControlID)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading call state")
	}

	state.Listening = false
	state.Phase = store.PhaseThinking
	if err := f.Calls.Save(ctx, state); err != nil {
		return errors.Wrap(err, "saving call state")
	}

	settings, err := f.Customers.VoiceSettings(ctx, state.CustomerPhone)
	if err != nil {
		return err
	}

	recordingURL := p.RecordingURLs.MP3
	if recordingURL == "" {
		recordingURL = p.PublicRecordingURLs.MP3
	}

	var transcript string
	if recordingURL == "" {
		f.log.Warn("Recording for call %s has no mp3 url", p.CallControlID)
	} else {
		transcript, err = f.STT.TranscribeAudioLanguage(ctx, recordingURL, settings.Language)
		if err != nil {
			f.log.Error("Error transcribing audio: %v", err)
			transcript = ""
		}
	}

	if transcript == "" {
		f.log.Info("No speech detected on call %s, listening again", p.CallControlID)
		if err := f.listen(ctx, state); err != nil {
			return err
		}
		f.publish(ctx, EventRecordingSaved, p.CallControlID, state.Phase, map[string]any{"transcript": ""})
		return nil
	}

	business, err := f.Customers.BusinessContext(ctx, state.CustomerPhone)
	if err != nil {
		return err
	}

	reply := f.LLM.GenerateResponse(ctx, transcript, p.CallControlID, business, languageCode(settings.Language))

	state.Phase = store.PhaseResponding
	state.Turns++
	if err := f.Calls.Save(ctx, state); err != nil {
		return errors.Wrap(err, "saving call state")
	}
	if err := f.say(ctx, state, reply, settings); err != nil {
		return err
	}

	f.publish(ctx, EventRecordingSaved, p.CallControlID, state.Phase, map[string]any{
		"transcript": transcript,
		"response":   reply,
		"turn":       state.Turns,
	})
	return nil
}

func (f *CallFlow) handleCallHangup(ctx context.Context, p CallPayload) error {
	state, err := f.Calls.Get(ctx, p.CallControlID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(err, "loading call state")
	}

	if err := f.Calls.Delete(ctx, p.CallControlID); err != nil {
		return errors.Wrap(err, "deleting call state")
	}
	f.refreshActiveCalls(ctx)

	conversation, err := f.LLM.ConversationText(ctx, p.CallControlID)
	if err != nil {
		f.log.Warn("Could not read conversation for %s: %v", p.CallControlID, err)
	}
	if err := f.LLM.ClearConversation(ctx, p.CallControlID); err != nil {
		f.log.Warn("Could not clear conversation for %s: %v", p.CallControlID, err)
	}

	f.log.Info("Call ended: %s", p.CallControlID)
	data := map[string]any{"hangup_cause": p.HangupCause}
	if state != nil {
		data["turns"] = state.Turns
		data["duration_secs"] = int(time.Since(state.StartedAt).Seconds())
	}
	f.publish(ctx, EventCallHangup, p.CallControlID, "", data)

	if conversation != "" && state != nil {
		f.followUp(ctx, *state, conversation)
	}
	return nil
}

// followUp extracts booking details from a finished call and texts them to
// the business, outside the webhook's request lifetime.
func (f *CallFlow) followUp(ctx context.Context, state store.CallState, conversation string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()

		appt := f.LLM.ExtractAppointmentDetails(bg, conversation)
		if !appt.HasDetails() {
			return
		}
		f.publish(bg, EventAppointment, state.CallControlID, "", map[string]any{"appointment": appt})

		if f.Notifier == nil {
			return
		}
		business, err := f.Customers.BusinessContext(bg, state.CustomerPhone)
		if err != nil {
			f.log.Error("Could not load business for %s: %v", state.CustomerPhone, err)
			return
		}
		businessPhone, businessName := state.CustomerPhone, ""
		if business != nil {
			businessName = business.Name
			if business.Phone != "" {
				businessPhone = business.Phone
			}
		}
		if err := f.Notifier.NotifyAppointment(bg, businessPhone, businessName, state.From, appt); err != nil {
			f.log.Error("Could not send appointment SMS for call %s: %v", state.CallControlID, err)
		}
	}()
}

// listen starts a silence-terminated recording for the caller's next turn.
func (f *CallFlow) listen(ctx context.Context, state *store.CallState) error {
	f.log.Info("Starting recording for call %s", state.CallControlID)
	err := f.Telnyx.StartRecording(ctx, state.CallControlID, RecordingOptions{
		Channels:           "single",
		SilenceTimeoutSecs: f.cfg.RecordingSilenceSecs,
		MaxLengthSecs:      f.cfg.RecordingMaxSecs,
	})
	if err != nil {
		return err
	}

	state.Listening = true
	state.Phase = store.PhaseListening
	if err := f.Calls.Save(ctx, state); err != nil {
		return errors.Wrap(err, "saving call state")
	}
	return nil
}

// say speaks text on the call. With vendor TTS enabled the customer's
// vendor synthesizes it and Telnyx plays the file; any failure there falls
// back to Telnyx's own speech.
func (f *CallFlow) say(ctx context.Context, state *store.CallState, text string, settings VoiceSettings) error {
	if f.cfg.UseVendorTTS && f.TTS != nil {
		voiceID := ""
		if settings.VoiceID != nil {
			voiceID = *settings.VoiceID
		}
		speech, err := f.TTS.GenerateSpeech(ctx, text, settings.Service, voiceID, settings.Language)
		if err == nil {
			err = f.Telnyx.PlayAudio(ctx, state.CallControlID, speech.URL)
		}
		if err == nil {
			return nil
		}
		f.log.Error("Vendor speech failed for call %s, using Telnyx speak: %v", state.CallControlID, err)
	}
	return f.Telnyx.SpeakText(ctx, state.CallControlID, text, defaultSpeakVoice, settings.Language)
}

// resolveCustomer prefers the dialed number, which is the subscribed
// business on inbound calls, and falls back to the caller.
func (f *CallFlow) resolveCustomer(ctx context.Context, from, to string) (string, error) {
	if to != "" {
		_, err := f.Customers.Profile(ctx, to)
		if err == nil {
			return to, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return from, nil
}

func (f *CallFlow) refreshActiveCalls(ctx context.Context) {
	n, err := f.Calls.Active(ctx)
	if err != nil {
		f.log.Warn("Could not count active calls: %v", err)
		return
	}
	f.Metrics.SetActiveCalls(n)
}

func (f *CallFlow) publish(ctx context.Context, eventType, callControlID string, phase store.Phase, data map[string]any) {
	event := events.New(eventType, callControlID, data)
	event.Phase = string(phase)
	if err := f.Events.Publish(ctx, event); err != nil {
		f.log.Warn("Failed to publish %s: %v", eventType, err)
	}
}

// languageCode reduces a locale like es-MX to the two-letter code.
func languageCode(locale string) string {
	if len(locale) < 2 {
		return "en"
	}
	return locale[:2]
}
