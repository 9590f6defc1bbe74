/**
 * @description
 * This file contains the stale tip sweeper. Tips that never receive a webhook
 * and are never polled to completion would otherwise sit in `pending` forever;
 * the sweeper periodically reconciles them against the gateway and marks
 * unresolvable ones as errored.
 *
 * Key features:
 * - Runs on a cron schedule via robfig/cron.
 * - Asks the gateway once per stale tip and funnels the answer through the
 *   same Reconcile path the webhook and poll handlers use.
 * - Tips the gateway confirms it no longer knows about, or that stayed
 *   pending past the abandonment deadline, transition to `error`. Transient
 *   gateway failures leave the tip pending for the next sweep.
 * - After completing late payments, recomputes the affected pages' completed
 *   totals and logs any drift against the denormalized counters.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: For job scheduling.
 */

package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/satstip/tipping-service/pkg/zbdclient"
)

const sweepBatchSize = 100

// Sweeper reconciles stale pending tips on a schedule.
type Sweeper struct {
	service  *Service
	cron     *cron.Cron
	schedule string
	// staleAfter is how long a tip may sit pending before the sweeper
	// considers it abandoned. It must exceed the charge expiry so the
	// gateway has had a chance to report expiration first.
	staleAfter time.Duration
}

// NewSweeper creates a sweeper with the given cron schedule spec.
func NewSweeper(service *Service, schedule string, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		service:    service,
		cron:       cron.New(),
		schedule:   schedule,
		staleAfter: staleAfter,
	}
}

// Start registers the sweep job and starts the scheduler in its own goroutine.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=sweeper msg=\"stale tip sweeper started\" schedule=%q stale_after=%s", s.schedule, s.staleAfter)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep reconciles one batch of stale pending tips.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	tips, err := s.service.repo.ListStalePendingTips(ctx, cutoff, sweepBatchSize)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to list stale tips\" err=%v", err)
		return
	}
	if len(tips) == 0 {
		return
	}
	log.Printf("level=info component=sweeper msg=\"sweeping stale pending tips\" count=%d cutoff=%s", len(tips), cutoff.Format(time.RFC3339))

	touchedPages := make(map[uuid.UUID]struct{})
	for _, tip := range tips {
		if tip.PaymentID == nil {
			// No charge to ask about; the tip can never complete.
			if _, err := s.service.repo.MarkTipError(ctx, tip.ID); err != nil {
				log.Printf("level=error component=sweeper msg=\"failed to mark tip errored\" tip_id=%s err=%v", tip.ID, err)
			}
			continue
		}

		charge, err := s.service.gateway.GetCharge(ctx, *tip.PaymentID)
		if err != nil {
			// Only a gateway-confirmed 404 is terminal. Transport failures
			// and gateway-side errors leave the tip pending so the next
			// sweep retries instead of dropping a possibly-paid tip.
			var gatewayErr *zbdclient.ErrorResponse
			if errors.As(err, &gatewayErr) && gatewayErr.StatusCode == http.StatusNotFound {
				log.Printf("level=warn component=sweeper msg=\"charge unknown at gateway; marking tip errored\" tip_id=%s payment_id=%s", tip.ID, *tip.PaymentID)
				if _, err := s.service.repo.MarkTipError(ctx, tip.ID); err != nil {
					log.Printf("level=error component=sweeper msg=\"failed to mark tip errored\" tip_id=%s err=%v", tip.ID, err)
				}
			} else {
				log.Printf("level=warn component=sweeper msg=\"gateway lookup failed; will retry next sweep\" tip_id=%s payment_id=%s err=%v", tip.ID, *tip.PaymentID, err)
			}
			continue
		}

		switch charge.Data.Status {
		case zbdclient.ChargeStatusCompleted, zbdclient.ChargeStatusExpired:
			if _, err := s.service.Reconcile(ctx, *tip.PaymentID, charge.Data.Status); err != nil {
				log.Printf("level=error component=sweeper msg=\"reconcile failed\" tip_id=%s payment_id=%s err=%v", tip.ID, *tip.PaymentID, err)
				continue
			}
			if charge.Data.Status == zbdclient.ChargeStatusCompleted {
				touchedPages[tip.PageID] = struct{}{}
			}
		default:
			// Still pending at the gateway well past the deadline. Treat it as
			// unresolvable rather than retrying forever.
			if _, err := s.service.repo.MarkTipError(ctx, tip.ID); err != nil {
				log.Printf("level=error component=sweeper msg=\"failed to mark tip errored\" tip_id=%s err=%v", tip.ID, err)
			}
		}
	}

	s.auditAggregates(ctx, touchedPages)
}

// auditAggregates recomputes completed totals for pages the sweep completed
// tips on and flags drift against the denormalized counters. Drift indicates
// a transition that committed outside CompleteTipAtomic and needs operator
// attention.
func (s *Sweeper) auditAggregates(ctx context.Context, pageIDs map[uuid.UUID]struct{}) {
	for pageID := range pageIDs {
		total, count, err := s.service.repo.SumCompletedTipsForPage(ctx, pageID)
		if err != nil {
			log.Printf("level=warn component=sweeper msg=\"aggregate audit failed\" page_id=%s err=%v", pageID, err)
			continue
		}
		page, err := s.service.repo.FindPageByID(ctx, pageID)
		if err != nil {
			log.Printf("level=warn component=sweeper msg=\"aggregate audit failed\" page_id=%s err=%v", pageID, err)
			continue
		}
		if page.TotalTips != total || page.TipCount != count {
			log.Printf("level=warn component=sweeper msg=\"page aggregate drift detected\" page_id=%s stored_total=%d computed_total=%d stored_count=%d computed_count=%d",
				pageID, page.TotalTips, total, page.TipCount, count)
		}
	}
}
