package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replk8/voice-agent/store"
)

type fakeSynthesizer struct {
	audio     []byte
	err       error
	calls     int
	lastVoice string
	lastLang  string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string, voiceID, language string) ([]byte, string, error) {
	f.calls++
	f.lastVoice = voiceID
	f.lastLang = language
	if f.err != nil {
		return nil, voiceID, f.err
	}
	voice := voiceID
	if voice == "" {
		voice = "default"
	}
	return f.audio, voice, nil
}

type fakePollyClient struct {
	input *polly.SynthesizeSpeechInput
}

func (f *fakePollyClient) SynthesizeSpeech(_ context.Context, params *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = params
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("polly-audio")))}, nil
}

func newTestTTS(pollySynth, elevenLabs, google Synthesizer) (*TextToSpeechService, *MediaStore) {
	media := NewMediaStore(afero.NewMemMapFs(), "https://agent.example.com/")
	return NewTextToSpeechService(pollySynth, elevenLabs, google, media, nil), media
}

func TestGenerateSpeechPolly(t *testing.T) {
	p := &fakeSynthesizer{audio: []byte("mp3-bytes")}
	svc, media := newTestTTS(p, nil, nil)

	speech, err := svc.GenerateSpeech(context.Background(), "Hello", store.VendorPolly, "", "es-ES")
	require.NoError(t, err)
	assert.Equal(t, store.VendorPolly, speech.Vendor)
	assert.Equal(t, 9, speech.Bytes)
	assert.Equal(t, "es-ES", p.lastLang)
	assert.Equal(t, "https://agent.example.com/media/"+speech.Name, speech.URL)
	// Not a decodable mp3.
	assert.Zero(t, speech.Duration)

	f, err := media.Open(speech.Name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(data))
}

func TestGenerateSpeechElevenLabs(t *testing.T) {
	p := &fakeSynthesizer{audio: []byte("polly")}
	e := &fakeSynthesizer{audio: []byte("eleven")}
	svc, _ := newTestTTS(p, e, nil)

	speech, err := svc.GenerateSpeech(context.Background(), "Hello", store.VendorElevenLabs, "21m00Tcm4TlvDq8ikWAM", "en-US")
	require.NoError(t, err)
	assert.Equal(t, store.VendorElevenLabs, speech.Vendor)
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", speech.Voice)
	assert.Equal(t, 0, p.calls)
}

func TestGenerateSpeechFallsBackToPolly(t *testing.T) {
	p := &fakeSynthesizer{audio: []byte("polly")}
	e := &fakeSynthesizer{err: errors.New("quota exceeded")}
	svc, _ := newTestTTS(p, e, nil)

	speech, err := svc.GenerateSpeech(context.Background(), "Hello", store.VendorElevenLabs, "21m00Tcm4TlvDq8ikWAM", "en-US")
	require.NoError(t, err)
	assert.Equal(t, store.VendorPolly, speech.Vendor)
	assert.Equal(t, 1, e.calls)
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, p.lastVoice)

	// Unconfigured vendors go straight to Polly.
	speech, err = svc.GenerateSpeech(context.Background(), "Hello", store.VendorGoogle, "", "en-US")
	require.NoError(t, err)
	assert.Equal(t, store.VendorPolly, speech.Vendor)
	assert.Equal(t, 2, p.calls)
}

func TestGenerateSpeechErrors(t *testing.T) {
	p := &fakeSynthesizer{err: errors.New("throttled")}
	svc, _ := newTestTTS(p, nil, nil)

	_, err := svc.GenerateSpeech(context.Background(), "Hello", store.VendorPolly, "", "en-US")
	assert.Error(t, err)

	_, err = svc.GenerateSpeech(context.Background(), "Hello", store.Vendor("azure"), "", "en-US")
	assert.ErrorIs(t, err, ErrUnsupportedVendor)

	empty := &fakeSynthesizer{audio: nil}
	svc, _ = newTestTTS(empty, nil, nil)
	_, err = svc.GenerateSpeech(context.Background(), "Hello", store.VendorPolly, "", "en-US")
	assert.Error(t, err)
}

func TestPollySynthesizer(t *testing.T) {
	client := &fakePollyClient{}
	p := &PollySynthesizer{client: client}

	audio, voice, err := p.Synthesize(context.Background(), "Hola", "", "es-MX")
	require.NoError(t, err)
	assert.Equal(t, "polly-audio", string(audio))
	assert.Equal(t, "Mia", voice)
	assert.Equal(t, types.VoiceId("Mia"), client.input.VoiceId)
	assert.Equal(t, types.EngineStandard, client.input.Engine)
	assert.Equal(t, types.OutputFormatMp3, client.input.OutputFormat)
}

func TestPollyVoiceSelection(t *testing.T) {
	assert.Equal(t, "Joanna", PollyVoice("", "en-US"))
	assert.Equal(t, "Lucia", PollyVoice("", "es-ES"))
	assert.Equal(t, "Mia", PollyVoice("", "es-MX"))
	assert.Equal(t, "Joanna", PollyVoice("", "fr-FR"))
	assert.Equal(t, "Matthew", PollyVoice("Matthew", "en-US"))

	assert.Equal(t, types.EngineNeural, PollyEngine("Joanna"))
	assert.Equal(t, types.EngineNeural, PollyEngine("Lucia"))
	assert.Equal(t, types.EngineStandard, PollyEngine("Ivy"))
}

func TestAvailableVoices(t *testing.T) {
	pollyVoices := AvailableVoices(store.VendorPolly)
	assert.Len(t, pollyVoices["en-US"], 7)
	assert.Equal(t, "Lucia", pollyVoices["es-ES"][0].Name)

	eleven := AvailableVoices(store.VendorElevenLabs)
	require.Len(t, eleven["premium"], 6)
	assert.Equal(t, Voice{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"}, eleven["premium"][0])

	assert.NotEmpty(t, AvailableVoices(store.VendorGoogle)["en-US"])
	assert.Empty(t, AvailableVoices(store.Vendor("azure")))
}

func TestAudioDurationInvalid(t *testing.T) {
	assert.Zero(t, AudioDuration(nil))
	assert.Zero(t, AudioDuration([]byte("definitely not an mp3")))
}
