package handlers

import (
	"net/http"
	"time"
)

// Root reports that the agent is up
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Replk8 AI Voice Agent is running"})
}

// HealthCheck is a simple health check endpoint
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}
