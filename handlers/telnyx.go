package handlers

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/services"
)

const (
	signatureHeader    = "telnyx-signature-ed25519"
	timestampHeader    = "telnyx-timestamp"
	signatureTolerance = 5 * time.Minute
	maxWebhookBody     = 1 << 20
)

var errBadSignature = errors.New("invalid webhook signature")

// HandleTelnyxWebhook receives Telnyx Call Control events and hands them to
// the call flow
func HandleTelnyxWebhook(svc *services.ServiceContainer) http.HandlerFunc {
	log := logger.Component("TelnyxWebhook")

	verify := svc.Config.TelnyxPublicKey != ""
	var publicKey ed25519.PublicKey
	if verify {
		key, err := base64.StdEncoding.DecodeString(svc.Config.TelnyxPublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			log.Error("TELNYX_PUBLIC_KEY is not a base64 ed25519 key, rejecting all webhooks")
		} else {
			publicKey = key
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			log.Error("Error reading request body: %v", err)
			writeDetail(w, http.StatusBadRequest, "could not read body")
			return
		}

		if verify && publicKey == nil {
			writeDetail(w, http.StatusUnauthorized, errBadSignature.Error())
			return
		}
		if verify {
			err := VerifySignature(publicKey, r.Header.Get(timestampHeader), r.Header.Get(signatureHeader), body, time.Now())
			if err != nil {
				log.Warn("Rejected webhook: %v", err)
				writeDetail(w, http.StatusUnauthorized, err.Error())
				return
			}
		}

		var envelope services.WebhookEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			log.Error("Error parsing webhook JSON: %v", err)
			writeDetail(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		ctx := r.Context()
		if svc.Config.WebhookTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, svc.Config.WebhookTimeout)
			defer cancel()
		}

		if err := svc.CallFlow.HandleEvent(ctx, &envelope); err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// VerifySignature checks a Telnyx ed25519 webhook signature, which covers
// "timestamp|body".
func VerifySignature(publicKey ed25519.PublicKey, timestamp, signature string, body []byte, now time.Time) error {
	if timestamp == "" || signature == "" {
		return errors.Wrap(errBadSignature, "missing signature headers")
	}

	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Wrap(errBadSignature, "malformed timestamp")
	}
	sent := time.Unix(secs, 0)
	if d := now.Sub(sent); d > signatureTolerance || d < -signatureTolerance {
		return errors.Wrap(errBadSignature, "timestamp outside tolerance")
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errors.Wrap(errBadSignature, "malformed signature")
	}

	msg := make([]byte, 0, len(timestamp)+1+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, '|')
	msg = append(msg, body...)
	if !ed25519.Verify(publicKey, msg, sig) {
		return errBadSignature
	}
	return nil
}
