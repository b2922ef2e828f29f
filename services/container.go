package services

import (
	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/events"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/store"
)

// ServiceContainer holds all services used by the application
type ServiceContainer struct {
	Config       *config.Config
	Metrics      *metrics.Metrics
	Calls        store.CallStateStore
	Telnyx       *TelnyxService
	Deepgram     *DeepgramService
	OpenAI       *OpenAIService
	Gemini       *GeminiService
	TextToSpeech *TextToSpeechService
	Media        *MediaStore
	Customers    *CustomerService
	Notifier     *SMSNotifier
	CallFlow     *CallFlow
	Hub          *events.Hub
}
