package services

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/config"
)

var pollyDefaultVoices = map[string]string{
	"en-US": "Joanna",
	"es-ES": "Lucia",
	"es-MX": "Mia",
}

var pollyNeuralVoices = map[string]bool{
	"Joanna":  true,
	"Matthew": true,
	"Lucia":   true,
}

type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer is the basic tier voice, backed by Amazon Polly
type PollySynthesizer struct {
	client pollyAPI
}

// NewPollySynthesizer builds a Polly client. Static keys from the config
// win; otherwise the default AWS credential chain is used.
func NewPollySynthesizer(ctx context.Context, cfg *config.Config) (*PollySynthesizer, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}
	return &PollySynthesizer{client: polly.NewFromConfig(awsCfg)}, nil
}

// PollyVoice picks the voice for a language unless one is given
func PollyVoice(voiceID, language string) string {
	if voiceID != "" {
		return voiceID
	}
	if voice, ok := pollyDefaultVoices[language]; ok {
		return voice
	}
	return "Joanna"
}

// PollyEngine is neural for the voices that support it, standard otherwise
func PollyEngine(voice string) types.Engine {
	if pollyNeuralVoices[voice] {
		return types.EngineNeural
	}
	return types.EngineStandard
}

// Synthesize returns mp3 audio and the voice that spoke it
func (p *PollySynthesizer) Synthesize(ctx context.Context, text, voiceID, language string) ([]byte, string, error) {
	voice := PollyVoice(voiceID, language)

	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: types.OutputFormatMp3,
		VoiceId:      types.VoiceId(voice),
		Engine:       PollyEngine(voice),
	})
	if err != nil {
		return nil, voice, errors.Wrap(err, "polly synthesize speech")
	}
	defer func() { _ = out.AudioStream.Close() }()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, voice, errors.Wrap(err, "reading polly audio stream")
	}
	return audio, voice, nil
}
