/**
 * @description
 * This file contains the HTTP handlers for the tipping-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/satstip/tipping-service/internal/app"
	"github.com/satstip/tipping-service/internal/domain"
	"github.com/satstip/tipping-service/internal/store"
)

// TipHandlers holds the application service that handlers will use.
type TipHandlers struct {
	service         *app.Service
	rateLimiter     *app.RedisTipRateLimiter
	tipRateLimit    int
	statusRateLimit int
	rateWindow      time.Duration
	recentTipsLimit int
}

// NewTipHandlers creates a new instance of TipHandlers. The status limit must
// stay well above the tip creation limit: clients poll the status endpoint
// every few seconds while an invoice is open.
func NewTipHandlers(service *app.Service, limiter *app.RedisTipRateLimiter, tipRateLimit int, statusRateLimit int, rateWindow time.Duration) *TipHandlers {
	return &TipHandlers{
		service:         service,
		rateLimiter:     limiter,
		tipRateLimit:    tipRateLimit,
		statusRateLimit: statusRateLimit,
		rateWindow:      rateWindow,
		recentTipsLimit: 20,
	}
}

// CreateTipHandler handles requests to start a new tip payment.
func (h *TipHandlers) CreateTipHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRequest(w, r, "create_tip", h.tipRateLimit) {
		return
	}

	var req domain.CreateTipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_tip outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.service.InitiateTip(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_tip outcome=failed page_id=%s err=%v", req.PageID, err)
		switch {
		case errors.Is(err, store.ErrPageNotFound):
			h.writeError(w, http.StatusNotFound, "Page not found")
		case errors.Is(err, app.ErrInvalidTipAmount),
			errors.Is(err, app.ErrTipBelowMinimum),
			errors.Is(err, app.ErrSupporterNameRequired):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusBadGateway, "Unable to create payment charge")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// GetTipStatusHandler handles poll requests for a tip's current status. A
// pending tip is refreshed against the gateway before responding, so polling
// alone can drive a tip to completion.
func (h *TipHandlers) GetTipStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRequest(w, r, "tip_status", h.statusRateLimit) {
		return
	}

	tipID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid tip ID format")
		return
	}

	tip, err := h.service.CheckStatus(r.Context(), tipID)
	if err != nil {
		if errors.Is(err, store.ErrTipNotFound) {
			h.writeError(w, http.StatusNotFound, "Tip not found")
			return
		}
		log.Printf("level=error component=api endpoint=tip_status outcome=failed tip_id=%s err=%v", tipID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, domain.TipStatusResponse{
		TipID:       tip.ID,
		Status:      tip.Status,
		Amount:      tip.Amount,
		CompletedAt: tip.CompletedAt,
	})
}

// GetPageHandler returns a page's public profile.
func (h *TipHandlers) GetPageHandler(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		h.writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	page, err := h.service.GetPageByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrPageNotFound) {
			h.writeError(w, http.StatusNotFound, "Page not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_page outcome=failed username=%s err=%v", username, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// GetPageStatsHandler returns a page's aggregate tip stats and top supporter.
func (h *TipHandlers) GetPageStatsHandler(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		h.writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	stats, err := h.service.GetPageStats(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrPageNotFound) {
			h.writeError(w, http.StatusNotFound, "Page not found")
			return
		}
		log.Printf("level=error component=api endpoint=page_stats outcome=failed username=%s err=%v", username, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// GetPageTipsHandler returns a page's most recent completed tips, newest first.
func (h *TipHandlers) GetPageTipsHandler(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		h.writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), h.recentTipsLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	tips, err := h.service.GetRecentTips(r.Context(), username, limit)
	if err != nil {
		if errors.Is(err, store.ErrPageNotFound) {
			h.writeError(w, http.StatusNotFound, "Page not found")
			return
		}
		log.Printf("level=error component=api endpoint=page_tips outcome=failed username=%s err=%v", username, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, tips)
}

// CreatePageHandler handles authenticated requests to create a tipping page.
func (h *TipHandlers) CreatePageHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := GetCreatorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get creator ID from context")
		return
	}

	var payload domain.CreatePagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	page, err := h.service.CreatePage(r.Context(), creatorID, payload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, "Username is already taken")
		case errors.Is(err, app.ErrInvalidPageTitle),
			errors.Is(err, app.ErrLightningAddrRequired),
			errors.Is(err, app.ErrInvalidTipAmount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=create_page outcome=failed username=%s err=%v", payload.Username, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, page)
}

// UpdatePageHandler handles authenticated requests to update a page's profile.
func (h *TipHandlers) UpdatePageHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := GetCreatorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get creator ID from context")
		return
	}

	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		h.writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	var payload domain.CreatePagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	page, err := h.service.UpdatePage(r.Context(), creatorID, username, payload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPageNotFound):
			h.writeError(w, http.StatusNotFound, "Page not found")
		case errors.Is(err, app.ErrNotPageOwner):
			h.writeError(w, http.StatusForbidden, "You do not own this page")
		default:
			log.Printf("level=error component=api endpoint=update_page outcome=failed username=%s err=%v", username, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// ListCausesHandler returns active causes.
func (h *TipHandlers) ListCausesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	causes, err := h.service.ListCauses(r.Context(), limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_causes outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, causes)
}

// GetCauseHandler returns a single cause by id.
func (h *TipHandlers) GetCauseHandler(w http.ResponseWriter, r *http.Request) {
	causeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid cause ID format")
		return
	}

	cause, err := h.service.GetCause(r.Context(), causeID)
	if err != nil {
		if errors.Is(err, store.ErrCauseNotFound) {
			h.writeError(w, http.StatusNotFound, "Cause not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_cause outcome=failed cause_id=%s err=%v", causeID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cause)
}

// CreateCauseHandler handles authenticated requests to create a cause.
func (h *TipHandlers) CreateCauseHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := GetCreatorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get creator ID from context")
		return
	}

	var payload domain.CreateCausePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cause, err := h.service.CreateCause(r.Context(), creatorID, payload)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidPageTitle),
			errors.Is(err, app.ErrInvalidTargetAmount),
			errors.Is(err, app.ErrLightningAddrRequired):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=create_cause outcome=failed title=%q err=%v", payload.Title, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, cause)
}

// allowRequest applies a per-IP fixed-window rate limit to a public endpoint.
// Limiter outages fail open so Redis downtime does not take tipping down with
// it.
func (h *TipHandlers) allowRequest(w http.ResponseWriter, r *http.Request, scope string, limit int) bool {
	if h.rateLimiter == nil || limit <= 0 {
		return true
	}

	subject := clientIP(r)
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), scope, subject, limit, h.rateWindow)
	if err != nil {
		log.Printf("level=warn component=api scope=%s msg=\"rate limiter unavailable; allowing request\" err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid integer value: %q", raw)
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *TipHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TipHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
