package handlers

import (
	"net/http"

	"github.com/replk8/voice-agent/services"
)

// HandleEventStream upgrades the connection and streams live call events
func HandleEventStream(svc *services.ServiceContainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Hub.ServeHTTP(w, r)
	}
}
