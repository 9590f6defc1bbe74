/**
 * @description
 * This file defines the shape of the charge webhook delivered by the payment
 * gateway, plus the internal event payload published when a tip completes.
 *
 * @notes
 * - The gateway has been observed to deliver two payload shapes: the documented
 *   `{status, data: {id, ...}}` envelope and a flat `{status, internalId}`
 *   variant. Both must be accepted by the reconciliation boundary.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChargeWebhookEvent is the decoded body of a gateway charge webhook.
type ChargeWebhookEvent struct {
	Status     string `json:"status"`
	InternalID string `json:"internalId"`
	Data       struct {
		ID          string  `json:"id"`
		Status      string  `json:"status"`
		ConfirmedAt *string `json:"confirmed_at"`
	} `json:"data"`
}

// PaymentID returns the gateway charge identifier regardless of which payload
// shape was delivered. The nested data.id wins when both are present, since
// that is the gateway-assigned id the tips table is keyed on.
func (e *ChargeWebhookEvent) PaymentID() string {
	if id := strings.TrimSpace(e.Data.ID); id != "" {
		return id
	}
	return strings.TrimSpace(e.InternalID)
}

// ReportedStatus returns the charge status, preferring the nested data block.
func (e *ChargeWebhookEvent) ReportedStatus() string {
	if s := strings.TrimSpace(e.Data.Status); s != "" {
		return s
	}
	return strings.TrimSpace(e.Status)
}

// TipCompletedEvent is the message payload published to the broker when a
// tip reaches the completed state.
type TipCompletedEvent struct {
	TipID         uuid.UUID `json:"tip_id"`
	PageID        uuid.UUID `json:"page_id"`
	Amount        int64     `json:"amount"`
	SupporterName string    `json:"supporter_name"`
	CompletedAt   time.Time `json:"completed_at"`
}
