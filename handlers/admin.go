package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/services"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// OutboundCallRequest is the body of POST /calls
type OutboundCallRequest struct {
	To         string `json:"to" validate:"required,e164"`
	From       string `json:"from" validate:"required,e164"`
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// decodeAndValidate reads a JSON body into v and runs its validate tags.
// It writes the 400 response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeDetail(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

// MakeOutboundCall dials a number through Telnyx
func MakeOutboundCall(svc *services.ServiceContainer) http.HandlerFunc {
	log := logger.Component("AdminHandler")

	return func(w http.ResponseWriter, r *http.Request) {
		var req OutboundCallRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		webhookURL := req.WebhookURL
		if webhookURL == "" && svc.Config.TelnyxWebhookURL == "" && svc.Config.PublicBaseURL != "" {
			webhookURL = svc.Config.PublicBaseURL + "/webhooks/telnyx"
		}

		call, err := svc.Telnyx.MakeOutboundCall(r.Context(), req.To, req.From, webhookURL)
		if err != nil {
			log.Error("Error making outbound call to %s: %v", req.To, err)
			writeDetail(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, call)
	}
}

// CustomerVoices lists the TTS vendor, tier and voices for a customer
func CustomerVoices(svc *services.ServiceContainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voices, err := svc.Customers.AvailableVoicesFor(r.Context(), r.PathValue("phone"))
		if err != nil {
			writeDetail(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, voices)
	}
}

// UpdateCustomerPreferences changes a customer's voice preferences
func UpdateCustomerPreferences(svc *services.ServiceContainer) http.HandlerFunc {
	log := logger.Component("AdminHandler")

	return func(w http.ResponseWriter, r *http.Request) {
		var prefs services.Preferences
		if !decodeAndValidate(w, r, &prefs) {
			return
		}

		phone := r.PathValue("phone")
		profile, err := svc.Customers.UpdatePreferences(r.Context(), phone, prefs)
		if err != nil {
			log.Warn("Could not update preferences for %s: %v", phone, err)
			writeDetail(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
