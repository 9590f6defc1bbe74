/**
 * @description
 * This file contains the core business logic for the tipping-service. The `Service`
 * struct orchestrates the tip payment lifecycle, coordinating between the database
 * repository, the ZBD payment gateway client, and the message broker.
 *
 * Key features:
 * - Implements the main use cases: initiating tips and reconciling charge status.
 * - Both completion paths (gateway webhook and client-driven polling) funnel into
 *   the single `Reconcile` entry point, so there is one authoritative
 *   state-transition function.
 * - Ensures transactional integrity: the pending->completed transition and the
 *   page aggregate increment commit as a unit.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/zbdclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/satstip/tipping-service/internal/domain"
	"github.com/satstip/tipping-service/internal/store"
	"github.com/satstip/tipping-service/pkg/rabbitmq"
	"github.com/satstip/tipping-service/pkg/zbdclient"
)

const (
	// EventExchange is the durable topic exchange tip lifecycle events are published to.
	EventExchange = "tipjar.events"

	// DefaultChargeExpiry bounds how long a generated invoice stays payable.
	DefaultChargeExpiry = 10 * time.Minute
)

var (
	ErrInvalidTipAmount      = errors.New("tip amount must be greater than zero")
	ErrTipBelowMinimum       = errors.New("tip amount is below the page minimum")
	ErrSupporterNameRequired = errors.New("supporter name is required")
	ErrInvalidPageTitle      = errors.New("title is required")
	ErrInvalidTargetAmount   = errors.New("target amount must be greater than zero")
	ErrLightningAddrRequired = errors.New("lightning address is required")
	ErrNotPageOwner          = errors.New("page is owned by another creator")
)

// Gateway is the subset of the ZBD client the coordinator depends on.
type Gateway interface {
	CreateCharge(ctx context.Context, lnAddress string, amount int64, description string, expiry time.Duration) (*zbdclient.ChargeResponse, error)
	GetCharge(ctx context.Context, chargeID string) (*zbdclient.ChargeResponse, error)
}

// Service provides the core business logic for the tip lifecycle.
type Service struct {
	repo          store.Repository
	gateway       Gateway
	eventProducer rabbitmq.Publisher
	chargeExpiry  time.Duration
}

// NewService creates a new tipping service instance.
func NewService(repo store.Repository, gateway Gateway, producer rabbitmq.Publisher, chargeExpiry time.Duration) *Service {
	if chargeExpiry <= 0 {
		chargeExpiry = DefaultChargeExpiry
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		chargeExpiry:  chargeExpiry,
	}
}

// InitiateTip validates the request, creates a Lightning charge through the
// gateway, and persists a pending tip carrying the charge id. If charge
// creation fails nothing is persisted; if the insert fails the whole request
// fails and the unpaid charge simply expires at the gateway. No aggregate
// changes happen here.
func (s *Service) InitiateTip(ctx context.Context, req domain.CreateTipRequest) (*domain.CreateTipResponse, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidTipAmount
	}
	if strings.TrimSpace(req.SupporterName) == "" {
		return nil, ErrSupporterNameRequired
	}

	page, err := s.repo.FindPageByID(ctx, req.PageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	if req.Amount < page.MinimumTip {
		return nil, ErrTipBelowMinimum
	}

	description := fmt.Sprintf("Tip for %s", page.DisplayName)
	charge, err := s.gateway.CreateCharge(ctx, page.LightningAddress, req.Amount, description, s.chargeExpiry)
	if err != nil {
		log.Printf("level=warn component=service flow=initiate_tip msg=\"charge creation failed\" page_id=%s amount=%d err=%v", page.ID, req.Amount, err)
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}

	paymentID := charge.Data.ID
	tip := &domain.Tip{
		ID:             uuid.New(),
		PaymentID:      &paymentID,
		PageID:         page.ID,
		Amount:         req.Amount,
		SupporterName:  strings.TrimSpace(req.SupporterName),
		Status:         domain.TipStatusPending,
		InvoiceRequest: charge.Data.Request,
		InvoiceURI:     charge.Data.URI,
	}
	if err := s.repo.InsertTip(ctx, tip); err != nil {
		// No tip row may reference the charge, so the charge goes unpaid and
		// expires at the gateway. The supporter retries.
		log.Printf("level=error component=service flow=initiate_tip msg=\"tip persistence failed after charge creation\" payment_id=%s err=%v", paymentID, err)
		return nil, fmt.Errorf("failed to persist tip: %w", err)
	}

	log.Printf("level=info component=service flow=initiate_tip msg=\"tip created\" tip_id=%s payment_id=%s page_id=%s amount=%d", tip.ID, paymentID, page.ID, req.Amount)

	return &domain.CreateTipResponse{
		TipID:          tip.ID,
		PaymentID:      paymentID,
		InvoiceRequest: charge.Data.Request,
		InvoiceURI:     charge.Data.URI,
		ExpiresAt:      charge.Data.ExpiresAt,
	}, nil
}

// Reconcile applies a gateway-reported status to the tip identified by the
// charge id. It is idempotent: a tip already in a terminal state is returned
// unchanged, which tolerates duplicate webhook delivery and webhook/poll
// races. The pending->completed transition and the aggregate increment are
// one atomic unit in the store.
func (s *Service) Reconcile(ctx context.Context, paymentID string, reportedStatus string) (*domain.Tip, error) {
	tip, err := s.repo.FindTipByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if tip.Terminal() {
		return tip, nil
	}

	switch reportedStatus {
	case zbdclient.ChargeStatusCompleted:
		completedAt := time.Now().UTC()
		applied, err := s.repo.CompleteTipAtomic(ctx, tip.ID, completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to complete tip: %w", err)
		}
		if !applied {
			// Lost the race to a concurrent reconcile; the winner already
			// incremented the aggregates.
			log.Printf("level=info component=service flow=reconcile msg=\"tip already terminal\" tip_id=%s payment_id=%s", tip.ID, paymentID)
			return s.repo.FindTipByID(ctx, tip.ID)
		}
		tip.Status = domain.TipStatusCompleted
		tip.CompletedAt = &completedAt
		log.Printf("level=info component=service flow=reconcile msg=\"tip completed\" tip_id=%s payment_id=%s page_id=%s amount=%d", tip.ID, paymentID, tip.PageID, tip.Amount)
		s.publishTipCompleted(ctx, tip)
		return tip, nil

	case zbdclient.ChargeStatusExpired:
		applied, err := s.repo.ExpireTip(ctx, tip.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to expire tip: %w", err)
		}
		if applied {
			tip.Status = domain.TipStatusExpired
			log.Printf("level=info component=service flow=reconcile msg=\"tip expired\" tip_id=%s payment_id=%s", tip.ID, paymentID)
		}
		return tip, nil

	default:
		// Still pending at the gateway, or an unrecognized status. No transition.
		return tip, nil
	}
}

// CheckStatus returns the current status of a tip. If the tip is still
// pending it fetches the charge from the gateway and runs Reconcile first, so
// a client poll can drive completion even without webhook delivery. A gateway
// failure during the refresh degrades to returning the stored pending state.
func (s *Service) CheckStatus(ctx context.Context, tipID uuid.UUID) (*domain.Tip, error) {
	tip, err := s.repo.FindTipByID(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if tip.Terminal() || tip.PaymentID == nil {
		return tip, nil
	}

	charge, err := s.gateway.GetCharge(ctx, *tip.PaymentID)
	if err != nil {
		log.Printf("level=warn component=service flow=check_status msg=\"gateway status fetch failed; returning stored state\" tip_id=%s payment_id=%s err=%v", tip.ID, *tip.PaymentID, err)
		return tip, nil
	}

	return s.Reconcile(ctx, *tip.PaymentID, charge.Data.Status)
}

// AwaitTerminal polls CheckStatus until the tip reaches a terminal state or
// the timeout elapses. It returns the last observed tip either way; callers
// inspect Terminal() to tell the outcomes apart. Cancellation of ctx stops
// the loop early.
func (s *Service) AwaitTerminal(ctx context.Context, tipID uuid.UUID, interval, timeout time.Duration) (*domain.Tip, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tip, err := s.CheckStatus(ctx, tipID)
	if err != nil {
		return nil, err
	}
	for !tip.Terminal() {
		select {
		case <-ctx.Done():
			return tip, nil
		case <-ticker.C:
		}
		tip, err = s.CheckStatus(ctx, tipID)
		if err != nil {
			return nil, err
		}
	}
	return tip, nil
}

func (s *Service) publishTipCompleted(ctx context.Context, tip *domain.Tip) {
	if s.eventProducer == nil {
		return
	}
	event := domain.TipCompletedEvent{
		TipID:         tip.ID,
		PageID:        tip.PageID,
		Amount:        tip.Amount,
		SupporterName: tip.SupporterName,
		CompletedAt:   *tip.CompletedAt,
	}
	if err := s.eventProducer.Publish(ctx, EventExchange, "tip.completed", event); err != nil {
		// Event delivery is best-effort; the transition already committed.
		log.Printf("level=warn component=service flow=reconcile msg=\"tip.completed publish failed\" tip_id=%s err=%v", tip.ID, err)
	}
}

// GetPageByUsername retrieves a page's public profile.
func (s *Service) GetPageByUsername(ctx context.Context, username string) (*domain.Page, error) {
	return s.repo.FindPageByUsername(ctx, username)
}

// GetPageStats computes the public read view of a page's aggregates.
func (s *Service) GetPageStats(ctx context.Context, username string) (*domain.PageStats, error) {
	page, err := s.repo.FindPageByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	top, err := s.repo.FindTopSupporterForPage(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute top supporter: %w", err)
	}
	return &domain.PageStats{
		PageID:       page.ID,
		TotalTips:    page.TotalTips,
		TipCount:     page.TipCount,
		TopSupporter: top,
	}, nil
}

// GetRecentTips returns the most recent completed tips for a page, newest first.
func (s *Service) GetRecentTips(ctx context.Context, username string, limit int) ([]domain.Tip, error) {
	page, err := s.repo.FindPageByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCompletedTipsForPage(ctx, page.ID, limit)
}

// CreatePage creates a new tipping page owned by the calling creator.
func (s *Service) CreatePage(ctx context.Context, creatorID string, payload domain.CreatePagePayload) (*domain.Page, error) {
	if strings.TrimSpace(payload.Username) == "" || strings.TrimSpace(payload.DisplayName) == "" {
		return nil, ErrInvalidPageTitle
	}
	if strings.TrimSpace(payload.LightningAddress) == "" {
		return nil, ErrLightningAddrRequired
	}
	if payload.MinimumTip < 0 {
		return nil, ErrInvalidTipAmount
	}

	page := &domain.Page{
		ID:               uuid.New(),
		CreatorID:        creatorID,
		Username:         strings.TrimSpace(payload.Username),
		DisplayName:      strings.TrimSpace(payload.DisplayName),
		Bio:              payload.Bio,
		MinimumTip:       payload.MinimumTip,
		ProfileImage:     payload.ProfileImage,
		LightningAddress: strings.TrimSpace(payload.LightningAddress),
	}
	if err := s.repo.CreatePage(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// UpdatePage updates a page's editable profile fields. Only the owning
// creator may mutate a page; anyone else could otherwise redirect its tips
// by swapping the Lightning address.
func (s *Service) UpdatePage(ctx context.Context, creatorID string, username string, payload domain.CreatePagePayload) (*domain.Page, error) {
	page, err := s.repo.FindPageByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if page.CreatorID != creatorID {
		return nil, ErrNotPageOwner
	}
	if strings.TrimSpace(payload.DisplayName) != "" {
		page.DisplayName = strings.TrimSpace(payload.DisplayName)
	}
	if payload.Bio != nil {
		page.Bio = payload.Bio
	}
	if payload.MinimumTip >= 0 {
		page.MinimumTip = payload.MinimumTip
	}
	if payload.ProfileImage != nil {
		page.ProfileImage = payload.ProfileImage
	}
	if strings.TrimSpace(payload.LightningAddress) != "" {
		page.LightningAddress = strings.TrimSpace(payload.LightningAddress)
	}
	if err := s.repo.UpdatePage(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// CreateCause creates a new cause with a backing page so donations ride the
// same tip lifecycle as page tips. Both rows commit in one transaction; a
// failed cause insert leaves no orphaned page behind.
func (s *Service) CreateCause(ctx context.Context, creatorID string, payload domain.CreateCausePayload) (*domain.Cause, error) {
	if strings.TrimSpace(payload.Title) == "" {
		return nil, ErrInvalidPageTitle
	}
	if payload.TargetAmount <= 0 {
		return nil, ErrInvalidTargetAmount
	}
	if strings.TrimSpace(payload.LightningAddress) == "" {
		return nil, ErrLightningAddrRequired
	}

	page := &domain.Page{
		ID:               uuid.New(),
		CreatorID:        creatorID,
		Username:         fmt.Sprintf("cause-%s", uuid.NewString()[:8]),
		DisplayName:      strings.TrimSpace(payload.Title),
		MinimumTip:       1,
		LightningAddress: strings.TrimSpace(payload.LightningAddress),
	}
	cause := &domain.Cause{
		ID:               uuid.New(),
		PageID:           page.ID,
		Title:            strings.TrimSpace(payload.Title),
		Description:      payload.Description,
		Category:         payload.Category,
		TargetAmount:     payload.TargetAmount,
		LightningAddress: strings.TrimSpace(payload.LightningAddress),
		ImageURL:         payload.ImageURL,
		Status:           "active",
	}
	if err := s.repo.CreateCauseWithPage(ctx, cause, page); err != nil {
		return nil, fmt.Errorf("failed to create cause: %w", err)
	}
	return cause, nil
}

// GetCause retrieves a cause by id.
func (s *Service) GetCause(ctx context.Context, causeID uuid.UUID) (*domain.Cause, error) {
	return s.repo.FindCauseByID(ctx, causeID)
}

// ListCauses returns active causes, newest first.
func (s *Service) ListCauses(ctx context.Context, limit int, offset int) ([]domain.Cause, error) {
	return s.repo.ListCauses(ctx, limit, offset)
}
