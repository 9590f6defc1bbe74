package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/satstip/tipping-service/internal/domain"
	"github.com/satstip/tipping-service/internal/store"
)

type viewsRepoStub struct {
	store.Repository

	page         *domain.Page
	topSupporter *domain.TopSupporter
	recentTips   []domain.Tip
	limitSeen    int
}

func (s *viewsRepoStub) FindPageByUsername(ctx context.Context, username string) (*domain.Page, error) {
	if s.page == nil || s.page.Username != username {
		return nil, store.ErrPageNotFound
	}
	return s.page, nil
}

func (s *viewsRepoStub) FindTopSupporterForPage(ctx context.Context, pageID uuid.UUID) (*domain.TopSupporter, error) {
	return s.topSupporter, nil
}

func (s *viewsRepoStub) ListCompletedTipsForPage(ctx context.Context, pageID uuid.UUID, limit int) ([]domain.Tip, error) {
	s.limitSeen = limit
	return s.recentTips, nil
}

func TestGetPageStats_IncludesAggregatesAndTopSupporter(t *testing.T) {
	page := testPage()
	page.TotalTips = 1500
	page.TipCount = 3
	repo := &viewsRepoStub{
		page:         page,
		topSupporter: &domain.TopSupporter{SupporterName: "bob", TotalAmount: 1000},
	}
	service := NewService(repo, &gatewayStub{}, nil, 0)

	stats, err := service.GetPageStats(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stats.TotalTips != 1500 || stats.TipCount != 3 {
		t.Fatalf("unexpected aggregates total=%d count=%d", stats.TotalTips, stats.TipCount)
	}
	if stats.TopSupporter == nil || stats.TopSupporter.SupporterName != "bob" {
		t.Fatalf("unexpected top supporter %+v", stats.TopSupporter)
	}
}

func TestGetPageStats_NoCompletedTipsHasNoTopSupporter(t *testing.T) {
	page := testPage()
	repo := &viewsRepoStub{page: page}
	service := NewService(repo, &gatewayStub{}, nil, 0)

	stats, err := service.GetPageStats(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stats.TotalTips != 0 || stats.TipCount != 0 {
		t.Fatalf("expected zero aggregates, got total=%d count=%d", stats.TotalTips, stats.TipCount)
	}
	if stats.TopSupporter != nil {
		t.Fatalf("expected no top supporter, got %+v", stats.TopSupporter)
	}
}

func TestGetPageStats_UnknownPage(t *testing.T) {
	repo := &viewsRepoStub{}
	service := NewService(repo, &gatewayStub{}, nil, 0)

	_, err := service.GetPageStats(context.Background(), "nobody")
	if !errors.Is(err, store.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestGetRecentTips_PassesLimitThrough(t *testing.T) {
	page := testPage()
	repo := &viewsRepoStub{
		page: page,
		recentTips: []domain.Tip{
			{ID: uuid.New(), SupporterName: "carol", Amount: 300, Status: domain.TipStatusCompleted},
			{ID: uuid.New(), SupporterName: "bob", Amount: 200, Status: domain.TipStatusCompleted},
		},
	}
	service := NewService(repo, &gatewayStub{}, nil, 0)

	tips, err := service.GetRecentTips(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.limitSeen != 5 {
		t.Fatalf("expected limit 5 passed to store, got %d", repo.limitSeen)
	}
	if len(tips) != 2 {
		t.Fatalf("expected 2 tips, got %d", len(tips))
	}
}
