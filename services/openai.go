package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/store"
)

var systemPrompts = map[string]string{
	"en": `You are a professional AI assistant for appointment scheduling and customer service.

Your primary functions:
1. Answer questions about services, pricing, and availability
2. Schedule, reschedule, or cancel appointments
3. Provide business information (hours, location, policies)
4. Handle customer inquiries professionally and helpfully

Guidelines:
- Be friendly, professional, and concise
- Ask clarifying questions when needed
- If you need to schedule an appointment, collect: name, phone, preferred date/time, service type
- If you can't help with something, offer to transfer to a human
- Keep responses under 2 sentences when possible for phone conversations
- Always confirm important details back to the customer

Business hours: Monday-Saturday 9 AM - 7 PM, Closed Sunday`,

	"es": `Eres un asistente de IA profesional para programar citas y servicio al cliente.

Tus funciones principales:
1. Responder preguntas sobre servicios, precios y disponibilidad
2. Programar, reprogramar o cancelar citas
3. Proporcionar información del negocio (horarios, ubicación, políticas)
4. Manejar consultas de clientes de manera profesional y útil

Pautas:
- Sé amigable, profesional y conciso
- Haz preguntas aclaratorias cuando sea necesario
- Para programar citas, recopila: nombre, teléfono, fecha/hora preferida, tipo de servicio
- Si no puedes ayudar con algo, ofrece transferir a una persona
- Mantén respuestas bajo 2 oraciones para conversaciones telefónicas
- Siempre confirma detalles importantes con el cliente

Horario: Lunes-Sábado 9 AM - 7 PM, Cerrado Domingo`,
}

var apologies = map[string]string{
	"en": "I apologize, I'm having trouble processing your request. Could you please repeat that?",
	"es": "Lo siento, tengo problemas para procesar su solicitud. ¿Podría repetirlo, por favor?",
}

const extractionPrompt = `
Extract appointment booking details from this conversation. Return JSON with these fields:
- name: customer name
- phone: phone number
- service: requested service
- date: preferred date (YYYY-MM-DD format if mentioned)
- time: preferred time (24-hour format if mentioned)
- notes: any special requests or notes

Conversation: %s

Return only valid JSON, no other text:
`

// Appointment holds booking details pulled out of a finished conversation
type Appointment struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Service string `json:"service"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Notes   string `json:"notes"`
}

// HasDetails reports whether enough was captured to be worth forwarding.
func (a Appointment) HasDetails() bool {
	return a.Name != "" || a.Service != ""
}

// FallbackResponder answers when the primary language model fails
type FallbackResponder interface {
	GenerateResponse(ctx context.Context, systemPrompt string, history []store.Message, userInput string) (string, error)
}

// OpenAIService generates spoken replies with a chat completion model
type OpenAIService struct {
	client        *openai.Client
	model         string
	historyLimit  int
	conversations store.ConversationStore
	fallback      FallbackResponder
	metrics       *metrics.Metrics
	log           *logger.Logger
}

// NewOpenAIService creates a new language model service
func NewOpenAIService(cfg *config.Config, conversations store.ConversationStore, m *metrics.Metrics) (*OpenAIService, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.Wrap(ErrNotConfigured, "OPENAI_API_KEY is required")
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &OpenAIService{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.OpenAIModel,
		historyLimit:  cfg.HistoryLimit,
		conversations: conversations,
		metrics:       m,
		log:           logger.Component("openai"),
	}, nil
}

// SetFallback installs a responder used when the chat completion fails.
func (s *OpenAIService) SetFallback(f FallbackResponder) {
	s.fallback = f
}

// GenerateResponse answers userInput in the context of the call's history.
// It never fails: when no model can answer, the apology for the language is
// returned instead.
func (s *OpenAIService) GenerateResponse(ctx context.Context, userInput, callControlID string, business *store.BusinessContext, language string) string {
	systemPrompt := BuildSystemPrompt(business, language)

	history, err := s.conversations.History(ctx, callControlID)
	if err != nil {
		s.log.Warn("Could not load conversation %s: %v", callControlID, err)
		history = nil
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userInput})

	reply, err := s.complete(ctx, "chat", openai.ChatCompletionRequest{
		Model:            s.model,
		Messages:         messages,
		MaxTokens:        150,
		Temperature:      0.7,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	})
	if err != nil {
		s.log.Error("Error generating AI response: %v", err)
		reply = s.fallbackResponse(ctx, systemPrompt, history, userInput)
		if reply == "" {
			return apology(language)
		}
	}

	err = s.conversations.Append(ctx, callControlID, s.historyLimit,
		store.Message{Role: openai.ChatMessageRoleUser, Content: userInput},
		store.Message{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	if err != nil {
		s.log.Warn("Could not save conversation %s: %v", callControlID, err)
	}

	s.log.Info("Generated AI response: %s", truncate(reply, 100))
	return reply
}

func (s *OpenAIService) fallbackResponse(ctx context.Context, systemPrompt string, history []store.Message, userInput string) string {
	if s.fallback == nil {
		return ""
	}
	reply, err := s.fallback.GenerateResponse(ctx, systemPrompt, history, userInput)
	if err != nil {
		s.log.Error("Fallback responder failed: %v", err)
		return ""
	}
	s.log.Info("Answered with fallback responder")
	return strings.TrimSpace(reply)
}

// ExtractAppointmentDetails asks the model for booking details as JSON. Any
// failure yields an empty Appointment.
func (s *OpenAIService) ExtractAppointmentDetails(ctx context.Context, conversationText string) Appointment {
	content, err := s.complete(ctx, "extract", openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf(extractionPrompt, conversationText),
		}},
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		s.log.Error("Error extracting appointment details: %v", err)
		return Appointment{}
	}

	var appt Appointment
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &appt); err != nil {
		s.log.Error("Error extracting appointment details: %v", err)
		return Appointment{}
	}
	s.log.Info("Extracted appointment details: %+v", appt)
	return appt
}

// ConversationText renders a call's history as a plain transcript.
func (s *OpenAIService) ConversationText(ctx context.Context, callControlID string) (string, error) {
	history, err := s.conversations.History(ctx, callControlID)
	if err != nil {
		return "", err
	}
	return formatHistory(history, "Customer", "Assistant"), nil
}

// ClearConversation drops the history kept for a call
func (s *OpenAIService) ClearConversation(ctx context.Context, callControlID string) error {
	return s.conversations.Clear(ctx, callControlID)
}

func (s *OpenAIService) complete(ctx context.Context, op string, req openai.ChatCompletionRequest) (content string, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveVendor("openai", op, start, err) }()

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	content = strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return content, nil
}

// BuildSystemPrompt picks the prompt for a two-letter language code (English
// when unknown) and appends the business information block.
func BuildSystemPrompt(business *store.BusinessContext, language string) string {
	prompt, ok := systemPrompts[language]
	if !ok {
		prompt = systemPrompts["en"]
	}
	if business == nil {
		return prompt
	}

	name := business.Name
	if name == "" {
		name = "Our Business"
	}
	address := business.Address
	if address == "" {
		address = "Please ask for location"
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nBusiness Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", name)
	fmt.Fprintf(&b, "- Services: %s\n", strings.Join(business.Services, ", "))
	fmt.Fprintf(&b, "- Location: %s\n", address)
	fmt.Fprintf(&b, "- Phone: %s\n", business.Phone)
	return b.String()
}

func apology(language string) string {
	if msg, ok := apologies[language]; ok {
		return msg
	}
	return apologies["en"]
}

func formatHistory(history []store.Message, userLabel, assistantLabel string) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		label := assistantLabel
		if msg.Role == openai.ChatMessageRoleUser {
			label = userLabel
		}
		lines = append(lines, label+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

// stripCodeFence removes a ```json fence some models wrap JSON answers in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
