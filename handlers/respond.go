package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidArgument), errors.Is(err, services.ErrUnsupportedVendor):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	var vendorErr *services.VendorError
	if errors.As(err, &vendorErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
