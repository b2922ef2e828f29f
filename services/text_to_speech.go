package services

import (
	"bytes"
	"context"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/store"
)

// Synthesizer turns text into mp3 audio for one vendor
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, language string) (audio []byte, voice string, err error)
}

// Speech is a synthesized clip saved in the media store
type Speech struct {
	Vendor   store.Vendor  `json:"vendor"`
	Voice    string        `json:"voice"`
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration"`
	Bytes    int           `json:"bytes"`
}

// Voice is one entry of a vendor's voice catalogue
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TextToSpeechService routes synthesis to the vendor a customer's tier allows
type TextToSpeechService struct {
	polly      Synthesizer
	elevenLabs Synthesizer
	google     Synthesizer
	media      *MediaStore
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// NewTextToSpeechService creates a new text-to-speech service. Polly is
// required; elevenLabs and google may be nil when not configured.
func NewTextToSpeechService(polly, elevenLabs, google Synthesizer, media *MediaStore, m *metrics.Metrics) *TextToSpeechService {
	return &TextToSpeechService{
		polly:      polly,
		elevenLabs: elevenLabs,
		google:     google,
		media:      media,
		metrics:    m,
		log:        logger.Component("tts"),
	}
}

// GenerateSpeech synthesizes text with vendor and stores the mp3. Eleven Labs
// and Google fall back to Polly when they fail or are not configured.
func (t *TextToSpeechService) GenerateSpeech(ctx context.Context, text string, vendor store.Vendor, voiceID, language string) (*Speech, error) {
	var (
		audio []byte
		voice string
		err   error
	)

	switch vendor {
	case store.VendorPolly:
		audio, voice, err = t.synthesize(ctx, store.VendorPolly, t.polly, text, voiceID, language)
	case store.VendorElevenLabs, store.VendorGoogle:
		primary := t.elevenLabs
		if vendor == store.VendorGoogle {
			primary = t.google
		}
		if primary == nil {
			t.log.Warn("%s is not configured, falling back to Amazon Polly", vendor)
			err = ErrNotConfigured
		} else {
			audio, voice, err = t.synthesize(ctx, vendor, primary, text, voiceID, language)
		}
		if err != nil {
			t.log.Error("Error generating %s speech: %v", vendor, err)
			t.log.Info("Falling back to Amazon Polly")
			// Premium voice ids mean nothing to Polly.
			vendor = store.VendorPolly
			audio, voice, err = t.synthesize(ctx, store.VendorPolly, t.polly, text, "", language)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedVendor, "%q", vendor)
	}
	if err != nil {
		return nil, err
	}

	name, err := t.media.Save("mp3", audio)
	if err != nil {
		return nil, err
	}

	speech := &Speech{
		Vendor:   vendor,
		Voice:    voice,
		Name:     name,
		URL:      t.media.URL(name),
		Duration: AudioDuration(audio),
		Bytes:    len(audio),
	}
	t.log.Info("Generated %s speech: %s (%d bytes, %s)", vendor, name, speech.Bytes, speech.Duration)
	return speech, nil
}

func (t *TextToSpeechService) synthesize(ctx context.Context, vendor store.Vendor, s Synthesizer, text, voiceID, language string) (audio []byte, voice string, err error) {
	start := time.Now()
	defer func() { t.metrics.ObserveVendor(string(vendor), "synthesize", start, err) }()

	if s == nil {
		return nil, "", errors.Wrapf(ErrNotConfigured, "%s synthesizer", vendor)
	}
	audio, voice, err = s.Synthesize(ctx, text, voiceID, language)
	if err == nil && len(audio) == 0 {
		err = errors.Errorf("%s returned empty audio", vendor)
	}
	return audio, voice, err
}

// AudioDuration decodes an mp3 to measure its length; 0 when it cannot.
func AudioDuration(audio []byte) time.Duration {
	d, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil || d.SampleRate() == 0 {
		return 0
	}
	length := d.Length()
	if length <= 0 {
		return 0
	}
	// Decoded output is 16-bit stereo, four bytes per sample.
	samples := float64(length) / 4
	return time.Duration(samples / float64(d.SampleRate()) * float64(time.Second))
}

// AvailableVoices returns the voice catalogue for a vendor; unknown vendors
// have none.
func AvailableVoices(vendor store.Vendor) map[string][]Voice {
	switch vendor {
	case store.VendorPolly:
		return map[string][]Voice{
			"en-US": namedVoices("Joanna", "Matthew", "Ivy", "Justin", "Kendra", "Kimberly", "Salli"),
			"es-ES": namedVoices("Lucia", "Enrique"),
			"es-MX": namedVoices("Mia"),
		}
	case store.VendorElevenLabs:
		return map[string][]Voice{
			"premium": {
				{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"},
				{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi"},
				{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella"},
				{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni"},
				{ID: "MF3mGyEYCl7XYWbV9V6O", Name: "Elli"},
				{ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh"},
			},
		}
	case store.VendorGoogle:
		return map[string][]Voice{
			"en-US": namedVoices("en-US-Neural2-C", "en-US-Neural2-D", "en-US-Neural2-F", "en-US-Wavenet-F"),
			"es-ES": namedVoices("es-ES-Neural2-A", "es-ES-Neural2-B"),
			"es-MX": namedVoices("es-US-Neural2-A", "es-US-Neural2-B"),
		}
	default:
		return map[string][]Voice{}
	}
}

func namedVoices(names ...string) []Voice {
	voices := make([]Voice, len(names))
	for i, n := range names {
		voices[i] = Voice{ID: n, Name: n}
	}
	return voices
}
