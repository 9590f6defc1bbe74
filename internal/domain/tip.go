/**
 * @description
 * This file defines the core domain models for the tipping-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (satoshis), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tip statuses. A tip starts as pending and moves to exactly one terminal state.
const (
	TipStatusPending   = "pending"
	TipStatusCompleted = "completed"
	TipStatusExpired   = "expired"
	TipStatusError     = "error"
)

// Tip represents one attempted Lightning payment from a supporter to a page.
// This struct maps directly to the `tips` table in the database. Tips are
// append-only: rows are never deleted, only transitioned out of pending.
type Tip struct {
	ID             uuid.UUID  `json:"id"`
	PaymentID      *string    `json:"payment_id"` // gateway charge id; nil until a charge is created, immutable after
	PageID         uuid.UUID  `json:"page_id"`
	Amount         int64      `json:"amount"` // in sats
	SupporterName  string     `json:"supporter_name"`
	Status         string     `json:"status"`
	InvoiceRequest string     `json:"invoice_request,omitempty"` // BOLT11 payable string
	InvoiceURI     string     `json:"invoice_uri,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"` // set iff status = completed
}

// Terminal reports whether the tip has left the pending state.
func (t *Tip) Terminal() bool {
	return t.Status != TipStatusPending
}

// Page represents a creator's public tipping page. The aggregate columns
// total_tips and tip_count are denormalized running totals over completed
// tips; they are only mutated inside the same database transaction as a
// tip's pending->completed update.
type Page struct {
	ID               uuid.UUID `json:"id"`
	CreatorID        string    `json:"creator_id,omitempty"` // identity-provider subject of the owning creator
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name"`
	Bio              *string   `json:"bio,omitempty"`
	MinimumTip       int64     `json:"minimum_tip"` // in sats
	ProfileImage     *string   `json:"profile_image,omitempty"`
	LightningAddress string    `json:"lightning_address"`
	TotalTips        int64     `json:"total_tips"`
	TipCount         int64     `json:"tip_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Cause represents a crowdfunding cause or campaign page. Donations to a
// cause ride the same tip lifecycle as page tips; current_amount is the
// cause's aggregate, maintained alongside its backing page row.
type Cause struct {
	ID               uuid.UUID `json:"id"`
	PageID           uuid.UUID `json:"page_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	TargetAmount     int64     `json:"target_amount"`
	CurrentAmount    int64     `json:"current_amount"`
	LightningAddress string    `json:"lightning_address"`
	ImageURL         *string   `json:"image_url,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateTipRequest is the DTO for the supporter-facing tip creation endpoint.
type CreateTipRequest struct {
	PageID        uuid.UUID `json:"page_id"`
	Amount        int64     `json:"amount"` // in sats
	SupporterName string    `json:"supporter_name"`
}

// CreateTipResponse carries the invoice material a supporter needs to pay.
type CreateTipResponse struct {
	TipID          uuid.UUID  `json:"tip_id"`
	PaymentID      string     `json:"payment_id"`
	InvoiceRequest string     `json:"invoice_request"`
	InvoiceURI     string     `json:"invoice_uri"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// TipStatusResponse is returned from the status-check endpoint.
type TipStatusResponse struct {
	TipID       uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	Amount      int64      `json:"amount"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PageStats is the public read view of a page's aggregates.
type PageStats struct {
	PageID       uuid.UUID     `json:"page_id"`
	TotalTips    int64         `json:"total_tips"`
	TipCount     int64         `json:"tip_count"`
	TopSupporter *TopSupporter `json:"top_supporter,omitempty"`
}

// TopSupporter is the supporter with the highest summed completed-tip amount
// for a page. Ties are broken by lexicographic supporter name.
type TopSupporter struct {
	SupporterName string `json:"supporter_name"`
	TotalAmount   int64  `json:"total_amount"`
}

// CreatePagePayload defines the structure for creating or updating a tipping page.
type CreatePagePayload struct {
	Username         string  `json:"username"`
	DisplayName      string  `json:"display_name"`
	Bio              *string `json:"bio,omitempty"`
	MinimumTip       int64   `json:"minimum_tip"`
	ProfileImage     *string `json:"profile_image,omitempty"`
	LightningAddress string  `json:"lightning_address"`
}

// CreateCausePayload defines the structure for creating a new cause.
type CreateCausePayload struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	TargetAmount     int64   `json:"target_amount"`
	LightningAddress string  `json:"lightning_address"`
	ImageURL         *string `json:"image_url,omitempty"`
}
