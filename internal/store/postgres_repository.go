/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to tips, pages, and causes.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/satstip/tipping-service/internal/domain"
)

var (
	ErrTipNotFound   = errors.New("tip not found")
	ErrPageNotFound  = errors.New("page not found")
	ErrCauseNotFound = errors.New("cause not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tipColumns = `id, payment_id, page_id, amount, supporter_name, status, COALESCE(invoice_request, '') AS invoice_request, COALESCE(invoice_uri, '') AS invoice_uri, created_at, completed_at`

func scanTip(row pgx.Row) (*domain.Tip, error) {
	var tip domain.Tip
	err := row.Scan(
		&tip.ID, &tip.PaymentID, &tip.PageID, &tip.Amount, &tip.SupporterName,
		&tip.Status, &tip.InvoiceRequest, &tip.InvoiceURI, &tip.CreatedAt, &tip.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTipNotFound
		}
		return nil, err
	}
	return &tip, nil
}

// InsertTip persists a new tip record. The payment_id carries a unique
// constraint so the same gateway charge can never map to two tips.
func (r *PostgresRepository) InsertTip(ctx context.Context, tip *domain.Tip) error {
	query := `
		INSERT INTO tips (id, payment_id, page_id, amount, supporter_name, status, invoice_request, invoice_uri, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		tip.ID, tip.PaymentID, tip.PageID, tip.Amount, tip.SupporterName,
		tip.Status, tip.InvoiceRequest, tip.InvoiceURI,
	).Scan(&tip.CreatedAt)
}

// FindTipByID retrieves a tip by its internal id.
func (r *PostgresRepository) FindTipByID(ctx context.Context, tipID uuid.UUID) (*domain.Tip, error) {
	query := `SELECT ` + tipColumns + ` FROM tips WHERE id = $1`
	return scanTip(r.db.QueryRow(ctx, query, tipID))
}

// FindTipByPaymentID retrieves a tip by the gateway charge id. The payment id
// is the idempotency key for reconciliation.
func (r *PostgresRepository) FindTipByPaymentID(ctx context.Context, paymentID string) (*domain.Tip, error) {
	query := `SELECT ` + tipColumns + ` FROM tips WHERE payment_id = $1`
	return scanTip(r.db.QueryRow(ctx, query, paymentID))
}

// CompleteTipAtomic performs the pending->completed transition together with
// the page aggregate increment in one database transaction. The UPDATE is
// conditional on `status = 'pending'` so that concurrent reconcile calls
// (webhook racing a poll) produce at most one transition and one increment;
// the loser observes zero affected rows and returns applied=false.
func (r *PostgresRepository) CompleteTipAtomic(ctx context.Context, tipID uuid.UUID, completedAt time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var pageID uuid.UUID
	var amount int64
	transitionQuery := `
		UPDATE tips
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING page_id, amount
	`
	err = tx.QueryRow(ctx, transitionQuery, tipID, completedAt).Scan(&pageID, &amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Either the tip does not exist or it is already terminal.
			var exists bool
			if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tips WHERE id = $1)`, tipID).Scan(&exists); checkErr != nil {
				return false, checkErr
			}
			if !exists {
				return false, ErrTipNotFound
			}
			return false, nil
		}
		return false, err
	}

	incrementQuery := `
		UPDATE pages
		SET total_tips = total_tips + $2, tip_count = tip_count + 1
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, incrementQuery, pageID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to increment page aggregates: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, ErrPageNotFound
	}

	// Keep a cause's displayed progress in step with its backing page.
	if _, err := tx.Exec(ctx, `UPDATE causes SET current_amount = current_amount + $2 WHERE page_id = $1`, pageID, amount); err != nil {
		return false, fmt.Errorf("failed to increment cause progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit completion: %w", err)
	}
	return true, nil
}

// ExpireTip transitions a pending tip to expired. No aggregate change.
func (r *PostgresRepository) ExpireTip(ctx context.Context, tipID uuid.UUID) (bool, error) {
	return r.transitionTerminal(ctx, tipID, domain.TipStatusExpired)
}

// MarkTipError transitions a pending tip to error. Used when a tip outlives
// its poll window without the gateway ever reporting a terminal status.
func (r *PostgresRepository) MarkTipError(ctx context.Context, tipID uuid.UUID) (bool, error) {
	return r.transitionTerminal(ctx, tipID, domain.TipStatusError)
}

func (r *PostgresRepository) transitionTerminal(ctx context.Context, tipID uuid.UUID, status string) (bool, error) {
	query := `UPDATE tips SET status = $2 WHERE id = $1 AND status = 'pending'`
	result, err := r.db.Exec(ctx, query, tipID, status)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tips WHERE id = $1)`, tipID).Scan(&exists); checkErr != nil {
			return false, checkErr
		}
		if !exists {
			return false, ErrTipNotFound
		}
		return false, nil
	}
	return true, nil
}

// ListStalePendingTips returns pending tips created before the cutoff, oldest
// first, for the sweeper to re-check against the gateway.
func (r *PostgresRepository) ListStalePendingTips(ctx context.Context, cutoff time.Time, limit int) ([]domain.Tip, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + tipColumns + `
		FROM tips
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tips []domain.Tip
	for rows.Next() {
		var tip domain.Tip
		err := rows.Scan(
			&tip.ID, &tip.PaymentID, &tip.PageID, &tip.Amount, &tip.SupporterName,
			&tip.Status, &tip.InvoiceRequest, &tip.InvoiceURI, &tip.CreatedAt, &tip.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		tips = append(tips, tip)
	}
	return tips, rows.Err()
}

// ListCompletedTipsForPage returns the most recent completed tips for a page,
// newest first.
func (r *PostgresRepository) ListCompletedTipsForPage(ctx context.Context, pageID uuid.UUID, limit int) ([]domain.Tip, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	query := `
		SELECT ` + tipColumns + `
		FROM tips
		WHERE page_id = $1 AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, pageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tips []domain.Tip
	for rows.Next() {
		var tip domain.Tip
		err := rows.Scan(
			&tip.ID, &tip.PaymentID, &tip.PageID, &tip.Amount, &tip.SupporterName,
			&tip.Status, &tip.InvoiceRequest, &tip.InvoiceURI, &tip.CreatedAt, &tip.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		tips = append(tips, tip)
	}
	return tips, rows.Err()
}

// SumCompletedTipsForPage recomputes the completed total and count from the
// tips table. Used by tests and reconciliation checks to verify the
// denormalized page counters.
func (r *PostgresRepository) SumCompletedTipsForPage(ctx context.Context, pageID uuid.UUID) (int64, int64, error) {
	var total, count int64
	query := `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM tips
		WHERE page_id = $1 AND status = 'completed'
	`
	if err := r.db.QueryRow(ctx, query, pageID).Scan(&total, &count); err != nil {
		return 0, 0, err
	}
	return total, count, nil
}

// FindTopSupporterForPage returns the supporter with the highest summed
// completed-tip amount. Ties are broken by lexicographic supporter name so
// the result is deterministic.
func (r *PostgresRepository) FindTopSupporterForPage(ctx context.Context, pageID uuid.UUID) (*domain.TopSupporter, error) {
	var top domain.TopSupporter
	query := `
		SELECT supporter_name, SUM(amount) AS total
		FROM tips
		WHERE page_id = $1 AND status = 'completed'
		GROUP BY supporter_name
		ORDER BY total DESC, supporter_name ASC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, pageID).Scan(&top.SupporterName, &top.TotalAmount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &top, nil
}

// CreatePage persists a new tipping page.
func (r *PostgresRepository) CreatePage(ctx context.Context, page *domain.Page) error {
	err := r.db.QueryRow(ctx, insertPageQuery,
		page.ID, page.CreatorID, page.Username, page.DisplayName, page.Bio, page.MinimumTip,
		page.ProfileImage, page.LightningAddress,
	).Scan(&page.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

const insertPageQuery = `
	INSERT INTO pages (id, creator_id, username, display_name, bio, minimum_tip, profile_image, lightning_address, total_tips, tip_count, created_at)
	VALUES ($1, $2, lower(btrim($3)), $4, $5, $6, $7, $8, 0, 0, NOW())
	ON CONFLICT (username) DO NOTHING
	RETURNING created_at
`

// UpdatePage updates a page's editable profile fields. Aggregates are never
// written through this path.
func (r *PostgresRepository) UpdatePage(ctx context.Context, page *domain.Page) error {
	query := `
		UPDATE pages
		SET display_name = $2, bio = $3, minimum_tip = $4, profile_image = $5, lightning_address = $6
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		page.ID, page.DisplayName, page.Bio, page.MinimumTip, page.ProfileImage, page.LightningAddress,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPageNotFound
	}
	return nil
}

const pageColumns = `id, creator_id, btrim(username), display_name, bio, minimum_tip, profile_image, lightning_address, total_tips, tip_count, created_at`

func scanPage(row pgx.Row) (*domain.Page, error) {
	var page domain.Page
	err := row.Scan(
		&page.ID, &page.CreatorID, &page.Username, &page.DisplayName, &page.Bio, &page.MinimumTip,
		&page.ProfileImage, &page.LightningAddress, &page.TotalTips, &page.TipCount, &page.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// FindPageByID retrieves a page by its id.
func (r *PostgresRepository) FindPageByID(ctx context.Context, pageID uuid.UUID) (*domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE id = $1`
	return scanPage(r.db.QueryRow(ctx, query, pageID))
}

// FindPageByUsername retrieves a page by its public username.
func (r *PostgresRepository) FindPageByUsername(ctx context.Context, username string) (*domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE lower(btrim(username)) = lower(btrim($1))`
	return scanPage(r.db.QueryRow(ctx, query, username))
}

// CreateCauseWithPage persists a cause and its backing page in one database
// transaction. A failed cause insert rolls back the page insert too, so no
// orphaned page row (or reserved username) is left behind.
func (r *PostgresRepository) CreateCauseWithPage(ctx context.Context, cause *domain.Cause, page *domain.Page) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, insertPageQuery,
		page.ID, page.CreatorID, page.Username, page.DisplayName, page.Bio, page.MinimumTip,
		page.ProfileImage, page.LightningAddress,
	).Scan(&page.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUsernameTaken
		}
		return err
	}

	causeQuery := `
		INSERT INTO causes (id, page_id, title, description, category, target_amount, current_amount, lightning_address, image_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, causeQuery,
		cause.ID, cause.PageID, cause.Title, cause.Description, cause.Category,
		cause.TargetAmount, cause.LightningAddress, cause.ImageURL, cause.Status,
	).Scan(&cause.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const causeColumns = `id, page_id, title, description, category, target_amount, current_amount, lightning_address, image_url, status, created_at`

// FindCauseByID retrieves a cause by its id.
func (r *PostgresRepository) FindCauseByID(ctx context.Context, causeID uuid.UUID) (*domain.Cause, error) {
	var cause domain.Cause
	query := `SELECT ` + causeColumns + ` FROM causes WHERE id = $1`
	err := r.db.QueryRow(ctx, query, causeID).Scan(
		&cause.ID, &cause.PageID, &cause.Title, &cause.Description, &cause.Category,
		&cause.TargetAmount, &cause.CurrentAmount, &cause.LightningAddress,
		&cause.ImageURL, &cause.Status, &cause.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCauseNotFound
		}
		return nil, err
	}
	return &cause, nil
}

// ListCauses returns active causes, newest first.
func (r *PostgresRepository) ListCauses(ctx context.Context, limit int, offset int) ([]domain.Cause, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + causeColumns + `
		FROM causes
		WHERE status = 'active'
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var causes []domain.Cause
	for rows.Next() {
		var cause domain.Cause
		err := rows.Scan(
			&cause.ID, &cause.PageID, &cause.Title, &cause.Description, &cause.Category,
			&cause.TargetAmount, &cause.CurrentAmount, &cause.LightningAddress,
			&cause.ImageURL, &cause.Status, &cause.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		causes = append(causes, cause)
	}
	return causes, rows.Err()
}
