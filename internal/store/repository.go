/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the tipping-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/satstip/tipping-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// Transition methods are conditional: they only apply when the tip is still
// pending, and report `applied=false` when the tip was already terminal so
// duplicate webhook deliveries and webhook/poll races degrade to no-ops.
type Repository interface {
	// Tip methods
	InsertTip(ctx context.Context, tip *domain.Tip) error
	FindTipByID(ctx context.Context, tipID uuid.UUID) (*domain.Tip, error)
	FindTipByPaymentID(ctx context.Context, paymentID string) (*domain.Tip, error)
	// CompleteTipAtomic transitions a pending tip to completed and increments
	// the owning page's aggregates in a single database transaction. Both
	// happen, or neither.
	CompleteTipAtomic(ctx context.Context, tipID uuid.UUID, completedAt time.Time) (applied bool, err error)
	ExpireTip(ctx context.Context, tipID uuid.UUID) (applied bool, err error)
	MarkTipError(ctx context.Context, tipID uuid.UUID) (applied bool, err error)
	ListStalePendingTips(ctx context.Context, cutoff time.Time, limit int) ([]domain.Tip, error)

	// Read view methods
	ListCompletedTipsForPage(ctx context.Context, pageID uuid.UUID, limit int) ([]domain.Tip, error)
	SumCompletedTipsForPage(ctx context.Context, pageID uuid.UUID) (total int64, count int64, err error)
	FindTopSupporterForPage(ctx context.Context, pageID uuid.UUID) (*domain.TopSupporter, error)

	// Page methods
	CreatePage(ctx context.Context, page *domain.Page) error
	UpdatePage(ctx context.Context, page *domain.Page) error
	FindPageByID(ctx context.Context, pageID uuid.UUID) (*domain.Page, error)
	FindPageByUsername(ctx context.Context, username string) (*domain.Page, error)

	// Cause methods
	// CreateCauseWithPage inserts the cause and its backing page in a single
	// transaction so a failed cause insert never strands a page row.
	CreateCauseWithPage(ctx context.Context, cause *domain.Cause, page *domain.Page) error
	FindCauseByID(ctx context.Context, causeID uuid.UUID) (*domain.Cause, error)
	ListCauses(ctx context.Context, limit int, offset int) ([]domain.Cause, error)
}
