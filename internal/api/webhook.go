/**
 * @description
 * This file contains the HTTP handler for processing incoming charge webhooks
 * from ZBD. It is the push half of the tip completion flow; the poll-driven
 * status endpoint is the other half, and both converge on the same reconcile
 * logic so duplicate delivery is harmless.
 *
 * Key features:
 * - Security: Validates the HMAC-SHA256 signature of incoming webhooks against
 *   the shared secret before any state can change.
 * - Parsing: Accepts both payload shapes ZBD sends (top-level status with a
 *   nested data object, and the flattened internalId form).
 * - Tolerance: Webhooks for charges with no matching tip are acknowledged with
 *   200 so the gateway stops retrying.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/base64, encoding/hex: For signature validation.
 * - encoding/json, io, net/http: For handling the request.
 * - internal/app, internal/domain, internal/store: For reconcile logic and models.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/satstip/tipping-service/internal/app"
	"github.com/satstip/tipping-service/internal/domain"
	"github.com/satstip/tipping-service/internal/store"
)

const webhookSignatureHeader = "x-zbd-signature"

// WebhookHandler processes incoming charge webhooks from ZBD.
type WebhookHandler struct {
	service *app.Service
	secret  string
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(service *app.Service, secret string) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Buffer the body: the signature covers the raw bytes, so it must be
	// validated before decoding.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=webhook outcome=reject reason=body_read_failed err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r.Header.Get(webhookSignatureHeader), body) {
		log.Printf("level=warn component=webhook outcome=reject reason=invalid_signature remote=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.ChargeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=webhook outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	paymentID := event.PaymentID()
	if paymentID == "" {
		log.Printf("level=warn component=webhook outcome=reject reason=missing_charge_id payload=%s", string(body))
		http.Error(w, "Missing charge identifier", http.StatusBadRequest)
		return
	}

	status := event.ReportedStatus()
	log.Printf("level=info component=webhook msg=\"charge webhook received\" payment_id=%s status=%s", paymentID, status)

	tip, err := h.service.Reconcile(r.Context(), paymentID, status)
	if err != nil {
		if errors.Is(err, store.ErrTipNotFound) {
			// Possibly a charge created out of band or a replay after cleanup.
			// Acknowledge so the gateway stops retrying.
			log.Printf("level=warn component=webhook outcome=ignored reason=unknown_charge payment_id=%s", paymentID)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Webhook received"))
			return
		}
		log.Printf("level=error component=webhook outcome=failed payment_id=%s err=%v", paymentID, err)
		http.Error(w, "Internal server error during event processing", http.StatusInternalServerError)
		return
	}

	log.Printf("level=info component=webhook outcome=processed payment_id=%s tip_id=%s tip_status=%s", paymentID, tip.ID, tip.Status)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// isValidSignature validates the HMAC-SHA256 signature of the webhook body.
// ZBD sends the digest hex-encoded; base64 is accepted as well since some
// gateway configurations emit it. Comparison is constant-time.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	if h.secret == "" {
		log.Println("Warning: ZBD_WEBHOOK_SECRET is not set. Skipping signature validation.")
		return true
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}
	header = strings.TrimPrefix(strings.ToLower(header), "sha256=")

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(header); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureHeader)); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
