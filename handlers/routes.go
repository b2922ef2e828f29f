package handlers

import (
	"net/http"

	"github.com/replk8/voice-agent/services"
)

// NewRouter registers every endpoint and wraps the mux in the middleware
// chain
func NewRouter(svc *services.ServiceContainer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", Root)
	mux.HandleFunc("GET /health", HealthCheck)
	mux.HandleFunc("POST /webhooks/telnyx", HandleTelnyxWebhook(svc))
	mux.HandleFunc("GET /media/{name}", ServeMedia(svc))
	mux.Handle("GET /metrics", svc.Metrics.Handler())

	// Admin endpoints and the live event stream only exist when a token
	// protects them.
	if token := svc.Config.AdminAPIToken; token != "" {
		admin := RequireBearer(token)
		if svc.Hub != nil {
			mux.Handle("GET /ws/events", admin(HandleEventStream(svc)))
		}
		mux.Handle("POST /calls", admin(MakeOutboundCall(svc)))
		mux.Handle("GET /customers/{phone}/voices", admin(CustomerVoices(svc)))
		mux.Handle("PATCH /customers/{phone}/preferences", admin(UpdateCustomerPreferences(svc)))
	}

	return Chain(mux,
		Recover(),
		RequestID(),
		AccessLog(),
		Instrument(svc.Metrics, mux),
	)
}
