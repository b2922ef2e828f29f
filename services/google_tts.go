package services

import (
	"context"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
)

type googleTTSAPI interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// GoogleSynthesizer is the enterprise-only voice, backed by Google Cloud
// Text-to-Speech
type GoogleSynthesizer struct {
	client googleTTSAPI
}

// NewGoogleSynthesizer creates a client using the default credentials from
// GOOGLE_APPLICATION_CREDENTIALS
func NewGoogleSynthesizer(ctx context.Context) (*GoogleSynthesizer, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating text-to-speech client")
	}
	return &GoogleSynthesizer{client: client}, nil
}

// Close closes the TTS client
func (g *GoogleSynthesizer) Close() error {
	return g.client.Close()
}

// Synthesize returns mp3 audio. With no voice id Google picks a neutral
// voice for the language.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text, voiceID, language string) ([]byte, string, error) {
	if language == "" {
		language = defaultSpeakLanguage
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voiceID,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	}

	// Create a timeout for the API call
	ttsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := g.client.SynthesizeSpeech(ttsCtx, req)
	if err != nil {
		return nil, voiceID, errors.Wrap(err, "google synthesize speech")
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, voiceID, errors.New("google text-to-speech returned empty audio")
	}

	voice := voiceID
	if voice == "" {
		voice = language
	}
	return resp.GetAudioContent(), voice, nil
}
