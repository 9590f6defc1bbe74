package app

import (
	"context"
	"errors"
	"testing"

	"github.com/satstip/tipping-service/internal/domain"
	"github.com/satstip/tipping-service/internal/store"
)

type pagesRepoStub struct {
	store.Repository

	page *domain.Page

	createPageCalled bool
	createdPage      *domain.Page
	updateCalled     bool
	causeCalled      bool
	causeErr         error
	causePage        *domain.Page
}

func (s *pagesRepoStub) CreatePage(ctx context.Context, page *domain.Page) error {
	s.createPageCalled = true
	s.createdPage = page
	return nil
}

func (s *pagesRepoStub) UpdatePage(ctx context.Context, page *domain.Page) error {
	s.updateCalled = true
	return nil
}

func (s *pagesRepoStub) FindPageByUsername(ctx context.Context, username string) (*domain.Page, error) {
	if s.page == nil || s.page.Username != username {
		return nil, store.ErrPageNotFound
	}
	copied := *s.page
	return &copied, nil
}

func (s *pagesRepoStub) CreateCauseWithPage(ctx context.Context, cause *domain.Cause, page *domain.Page) error {
	s.causeCalled = true
	s.causePage = page
	return s.causeErr
}

func pagePayload() domain.CreatePagePayload {
	return domain.CreatePagePayload{
		Username:         "alice",
		DisplayName:      "Alice",
		MinimumTip:       10,
		LightningAddress: "alice@zbd.gg",
	}
}

func TestCreatePage_StampsOwningCreator(t *testing.T) {
	repo := &pagesRepoStub{}
	service := NewService(repo, nil, nil, 0)

	page, err := service.CreatePage(context.Background(), "creator_a", pagePayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.CreatorID != "creator_a" {
		t.Fatalf("expected the page to carry its creator, got %q", page.CreatorID)
	}
	if repo.createdPage == nil || repo.createdPage.CreatorID != "creator_a" {
		t.Fatal("expected the persisted page to carry its creator")
	}
}

func TestUpdatePage_RejectsOtherCreator(t *testing.T) {
	repo := &pagesRepoStub{page: &domain.Page{
		Username:         "alice",
		CreatorID:        "creator_a",
		DisplayName:      "Alice",
		LightningAddress: "alice@zbd.gg",
	}}
	service := NewService(repo, nil, nil, 0)

	payload := pagePayload()
	payload.LightningAddress = "mallory@zbd.gg"

	_, err := service.UpdatePage(context.Background(), "creator_b", "alice", payload)
	if !errors.Is(err, ErrNotPageOwner) {
		t.Fatalf("expected ErrNotPageOwner, got %v", err)
	}
	if repo.updateCalled {
		t.Fatal("a non-owner must not be able to write the page")
	}
}

func TestUpdatePage_OwnerEditsPage(t *testing.T) {
	repo := &pagesRepoStub{page: &domain.Page{
		Username:         "alice",
		CreatorID:        "creator_a",
		DisplayName:      "Alice",
		LightningAddress: "alice@zbd.gg",
	}}
	service := NewService(repo, nil, nil, 0)

	payload := pagePayload()
	payload.DisplayName = "Alice B"

	page, err := service.UpdatePage(context.Background(), "creator_a", "alice", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.updateCalled {
		t.Fatal("expected the page to be written")
	}
	if page.DisplayName != "Alice B" {
		t.Fatalf("expected updated display name, got %q", page.DisplayName)
	}
}

func TestCreateCause_InsertsBothRowsInOneCall(t *testing.T) {
	repo := &pagesRepoStub{}
	service := NewService(repo, nil, nil, 0)

	cause, err := service.CreateCause(context.Background(), "creator_a", domain.CreateCausePayload{
		Title:            "School fund",
		TargetAmount:     100000,
		LightningAddress: "fund@zbd.gg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.causeCalled {
		t.Fatal("expected the transactional cause insert to run")
	}
	if repo.createPageCalled {
		t.Fatal("the backing page must not be written outside the cause transaction")
	}
	if repo.causePage == nil || repo.causePage.CreatorID != "creator_a" {
		t.Fatal("expected the backing page to carry its creator")
	}
	if cause.PageID != repo.causePage.ID {
		t.Fatal("expected the cause to reference its backing page")
	}
}

func TestCreateCause_InsertFailureLeavesNoPage(t *testing.T) {
	repo := &pagesRepoStub{causeErr: errors.New("insert failed")}
	service := NewService(repo, nil, nil, 0)

	_, err := service.CreateCause(context.Background(), "creator_a", domain.CreateCausePayload{
		Title:            "School fund",
		TargetAmount:     100000,
		LightningAddress: "fund@zbd.gg",
	})
	if err == nil {
		t.Fatal("expected the cause creation to fail")
	}
	if repo.createPageCalled {
		t.Fatal("a failed cause insert must not leave a page row behind")
	}
}
