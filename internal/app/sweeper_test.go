package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/satstip/tipping-service/internal/domain"
	"github.com/satstip/tipping-service/internal/store"
	"github.com/satstip/tipping-service/pkg/zbdclient"
)

type sweeperRepoStub struct {
	store.Repository

	stale []domain.Tip
	tips  map[uuid.UUID]*domain.Tip

	completeCalled  bool
	expiredTipIDs   []uuid.UUID
	erroredTipIDs   []uuid.UUID
	auditedPageIDs  []uuid.UUID
	staleListCalled bool
}

func newSweeperRepoStub(stale ...*domain.Tip) *sweeperRepoStub {
	s := &sweeperRepoStub{tips: make(map[uuid.UUID]*domain.Tip)}
	for _, tip := range stale {
		s.stale = append(s.stale, *tip)
		s.tips[tip.ID] = tip
	}
	return s
}

func (s *sweeperRepoStub) ListStalePendingTips(ctx context.Context, cutoff time.Time, limit int) ([]domain.Tip, error) {
	s.staleListCalled = true
	return s.stale, nil
}

func (s *sweeperRepoStub) FindTipByID(ctx context.Context, tipID uuid.UUID) (*domain.Tip, error) {
	tip, ok := s.tips[tipID]
	if !ok {
		return nil, store.ErrTipNotFound
	}
	copied := *tip
	return &copied, nil
}

func (s *sweeperRepoStub) FindTipByPaymentID(ctx context.Context, paymentID string) (*domain.Tip, error) {
	for _, tip := range s.tips {
		if tip.PaymentID != nil && *tip.PaymentID == paymentID {
			copied := *tip
			return &copied, nil
		}
	}
	return nil, store.ErrTipNotFound
}

func (s *sweeperRepoStub) CompleteTipAtomic(ctx context.Context, tipID uuid.UUID, completedAt time.Time) (bool, error) {
	s.completeCalled = true
	tip := s.tips[tipID]
	tip.Status = domain.TipStatusCompleted
	tip.CompletedAt = &completedAt
	return true, nil
}

func (s *sweeperRepoStub) ExpireTip(ctx context.Context, tipID uuid.UUID) (bool, error) {
	s.expiredTipIDs = append(s.expiredTipIDs, tipID)
	s.tips[tipID].Status = domain.TipStatusExpired
	return true, nil
}

func (s *sweeperRepoStub) MarkTipError(ctx context.Context, tipID uuid.UUID) (bool, error) {
	s.erroredTipIDs = append(s.erroredTipIDs, tipID)
	s.tips[tipID].Status = domain.TipStatusError
	return true, nil
}

func (s *sweeperRepoStub) completedAggregate(pageID uuid.UUID) (int64, int64) {
	var total, count int64
	for _, tip := range s.tips {
		if tip.PageID == pageID && tip.Status == domain.TipStatusCompleted {
			total += tip.Amount
			count++
		}
	}
	return total, count
}

func (s *sweeperRepoStub) SumCompletedTipsForPage(ctx context.Context, pageID uuid.UUID) (int64, int64, error) {
	s.auditedPageIDs = append(s.auditedPageIDs, pageID)
	total, count := s.completedAggregate(pageID)
	return total, count, nil
}

func (s *sweeperRepoStub) FindPageByID(ctx context.Context, pageID uuid.UUID) (*domain.Page, error) {
	total, count := s.completedAggregate(pageID)
	return &domain.Page{ID: pageID, TotalTips: total, TipCount: count}, nil
}

type sweeperGatewayStub struct {
	responses map[string]*zbdclient.ChargeResponse
	err       error
}

func (g *sweeperGatewayStub) CreateCharge(ctx context.Context, lnAddress string, amount int64, description string, expiry time.Duration) (*zbdclient.ChargeResponse, error) {
	return nil, errors.New("not used")
}

func (g *sweeperGatewayStub) GetCharge(ctx context.Context, chargeID string) (*zbdclient.ChargeResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	if resp, ok := g.responses[chargeID]; ok {
		return resp, nil
	}
	return nil, &zbdclient.ErrorResponse{StatusCode: 404, Message: "charge not found"}
}

func staleTip(paymentID string) *domain.Tip {
	pid := paymentID
	return &domain.Tip{
		ID:            uuid.New(),
		PaymentID:     &pid,
		PageID:        uuid.New(),
		Amount:        100,
		SupporterName: "carol",
		Status:        domain.TipStatusPending,
	}
}

func TestSweep_CompletesLatePaidTip(t *testing.T) {
	tip := staleTip("charge_late")
	repo := newSweeperRepoStub(tip)
	gateway := &sweeperGatewayStub{responses: map[string]*zbdclient.ChargeResponse{
		"charge_late": chargeResponse("charge_late", zbdclient.ChargeStatusCompleted),
	}}
	service := NewService(repo, gateway, nil, 0)
	sweeper := NewSweeper(service, "*/5 * * * *", 15*time.Minute)

	sweeper.Sweep(context.Background())

	if !repo.completeCalled {
		t.Fatal("expected the late-paid tip to be completed")
	}
	if tip.Status != domain.TipStatusCompleted {
		t.Fatalf("expected completed status, got %q", tip.Status)
	}
	if len(repo.erroredTipIDs) != 0 {
		t.Fatal("did not expect any tip to be marked errored")
	}
	if len(repo.auditedPageIDs) != 1 || repo.auditedPageIDs[0] != tip.PageID {
		t.Fatalf("expected an aggregate audit for page %s, got %v", tip.PageID, repo.auditedPageIDs)
	}
}

func TestSweep_ExpiresGatewayExpiredTip(t *testing.T) {
	tip := staleTip("charge_expired")
	repo := newSweeperRepoStub(tip)
	gateway := &sweeperGatewayStub{responses: map[string]*zbdclient.ChargeResponse{
		"charge_expired": chargeResponse("charge_expired", zbdclient.ChargeStatusExpired),
	}}
	service := NewService(repo, gateway, nil, 0)
	sweeper := NewSweeper(service, "*/5 * * * *", 15*time.Minute)

	sweeper.Sweep(context.Background())

	if tip.Status != domain.TipStatusExpired {
		t.Fatalf("expected expired status, got %q", tip.Status)
	}
}

func TestSweep_TransientGatewayFailureLeavesTipPending(t *testing.T) {
	tip := staleTip("charge_flaky")
	repo := newSweeperRepoStub(tip)
	gateway := &sweeperGatewayStub{err: errors.New("dial tcp: i/o timeout")}
	service := NewService(repo, gateway, nil, 0)
	sweeper := NewSweeper(service, "*/5 * * * *", 15*time.Minute)

	sweeper.Sweep(context.Background())

	if len(repo.erroredTipIDs) != 0 {
		t.Fatal("a transient gateway failure must not terminal-error the tip")
	}
	if tip.Status != domain.TipStatusPending {
		t.Fatalf("expected tip to stay pending, got %q", tip.Status)
	}

	// The gateway recovers and reports the charge paid; the next sweep
	// completes the tip instead of having lost it.
	gateway.err = nil
	gateway.responses = map[string]*zbdclient.ChargeResponse{
		"charge_flaky": chargeResponse("charge_flaky", zbdclient.ChargeStatusCompleted),
	}

	sweeper.Sweep(context.Background())

	if tip.Status != domain.TipStatusCompleted {
		t.Fatalf("expected completed status after the gateway recovered, got %q", tip.Status)
	}
	if !repo.completeCalled {
		t.Fatal("expected the recovered tip to go through the atomic completion")
	}
}

func TestSweep_MarksUnresolvableTipsErrored(t *testing.T) {
	unknown := staleTip("charge_unknown")
	stuck := staleTip("charge_stuck")
	repo := newSweeperRepoStub(unknown, stuck)
	gateway := &sweeperGatewayStub{responses: map[string]*zbdclient.ChargeResponse{
		// charge_unknown is absent, so the gateway lookup fails.
		"charge_stuck": chargeResponse("charge_stuck", zbdclient.ChargeStatusPending),
	}}
	service := NewService(repo, gateway, nil, 0)
	sweeper := NewSweeper(service, "*/5 * * * *", 15*time.Minute)

	sweeper.Sweep(context.Background())

	if len(repo.erroredTipIDs) != 2 {
		t.Fatalf("expected both tips marked errored, got %d", len(repo.erroredTipIDs))
	}
	if unknown.Status != domain.TipStatusError || stuck.Status != domain.TipStatusError {
		t.Fatalf("expected error status, got %q and %q", unknown.Status, stuck.Status)
	}
}

func TestSweep_MarksChargelessTipErrored(t *testing.T) {
	tip := staleTip("unused")
	tip.PaymentID = nil
	repo := newSweeperRepoStub()
	repo.stale = append(repo.stale, *tip)
	repo.tips[tip.ID] = tip
	gateway := &sweeperGatewayStub{}
	service := NewService(repo, gateway, nil, 0)
	sweeper := NewSweeper(service, "*/5 * * * *", 15*time.Minute)

	sweeper.Sweep(context.Background())

	if tip.Status != domain.TipStatusError {
		t.Fatalf("expected error status for a tip without a charge, got %q", tip.Status)
	}
}
