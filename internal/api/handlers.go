package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/delinquency"
	"github.com/lendwatch/reconciler/internal/ingestion"
	"github.com/lendwatch/reconciler/internal/reconciliation"
	"github.com/lendwatch/reconciler/internal/report"
	"github.com/lendwatch/reconciler/internal/transfer"
)

// Engine is the part of the reconciliation service the API needs.
type Engine interface {
	Snapshot() *reconciliation.Snapshot
	RecordInvestment(loanID int, amount decimal.Decimal) error
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	engine       Engine
	ingestionSvc *ingestion.Service
	logger       *zap.Logger
	now          func() time.Time
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func page[T any](items []T, pageNum, limit int) []T {
	start := (pageNum - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"epoch":  h.engine.Snapshot().Epoch,
	})
}

// --- GetOverview ---

func (h *Handlers) GetOverview(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"epoch":          snap.Epoch,
		"overview":       snap.Overview,
		"total_invested": snap.Overview.TotalInvested(),
		"total_at_risk":  snap.Overview.TotalAtRisk(),
		"pending":        len(snap.Transfers),
		"synthetics":     len(snap.Synthetics),
		"delinquent":     len(snap.ActiveDelinquents()),
		"last_cycle":     snap.LastCycle,
	})
}

// --- ListTransfers ---

func (h *Handlers) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	certainty := q.Get("certainty")
	if certainty != "" {
		if _, err := transfer.ParseCertainty(certainty); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	loanID := 0
	if s := q.Get("loan_id"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid loan_id")
			return
		}
		loanID = v
	}
	since := parseTime(q.Get("since"))
	pageNum := parseIntDefault(q.Get("page"), 1)
	limit := parseIntDefault(q.Get("limit"), 50)

	var matched []transfer.Record
	for _, t := range h.engine.Snapshot().Transfers {
		if certainty != "" && t.Certainty != certainty {
			continue
		}
		if loanID != 0 && t.LoanID != loanID {
			continue
		}
		if since != nil && t.Timestamp.Before(*since) {
			continue
		}
		matched = append(matched, t)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"transfers": page(matched, pageNum, limit),
		"total":     len(matched),
		"page":      pageNum,
		"limit":     limit,
	})
}

// --- GetAdjustments ---

func (h *Handlers) GetAdjustments(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"adjustments": h.engine.Snapshot().Adjustments,
	})
}

// --- ListSynthetics ---

func (h *Handlers) ListSynthetics(w http.ResponseWriter, r *http.Request) {
	synthetics := h.engine.Snapshot().Synthetics
	if synthetics == nil {
		synthetics = []transfer.Synthetic{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"synthetics": synthetics,
		"total":      len(synthetics),
	})
}

// --- RecordInvestment ---

type investmentRequest struct {
	LoanID int             `json:"loanId"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handlers) RecordInvestment(w http.ResponseWriter, r *http.Request) {
	var req investmentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.engine.RecordInvestment(req.LoanID, req.Amount); err != nil {
		if errors.Is(err, reconciliation.ErrInvalidInvestment) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"loanId": req.LoanID,
		"amount": req.Amount,
	})
}

// --- Delinquents ---

type delinquentView struct {
	delinquency.Record
	Active bool `json:"active"`
	Days   int  `json:"days"`
}

func view(rec delinquency.Record, today civil.Date) delinquentView {
	v := delinquentView{Record: rec}
	if n := len(rec.Episodes); n > 0 {
		latest := rec.Episodes[n-1]
		end := today
		if latest.FixedOn != nil {
			end = *latest.FixedOn
		} else {
			v.Active = true
		}
		v.Days = end.DaysSince(latest.PaymentMissed)
	}
	return v
}

func (h *Handlers) ListDelinquents(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	records := snap.Delinquents
	if r.URL.Query().Get("active") == "true" {
		records = snap.ActiveDelinquents()
	}
	today := civil.DateOf(h.clock())
	views := make([]delinquentView, 0, len(records))
	for _, rec := range records {
		views = append(views, view(rec, today))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"delinquents": views,
		"total":       len(views),
	})
}

func (h *Handlers) GetDelinquent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "investmentID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid investment id")
		return
	}
	for _, rec := range h.engine.Snapshot().Delinquents {
		if rec.Investment.ID == id {
			h.writeJSON(w, http.StatusOK, view(rec, civil.DateOf(h.clock())))
			return
		}
	}
	h.writeError(w, http.StatusNotFound, fmt.Sprintf("investment %d is not tracked", id))
}

func (h *Handlers) GetAmountsAtRisk(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"at_risk": snap.AtRisk,
		"total":   snap.Overview.TotalAtRisk(),
	})
}

// --- ExportDelinquency ---

func (h *Handlers) ExportDelinquency(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	now := h.clock()
	var buf bytes.Buffer
	err := report.Write(&buf, report.Data{
		GeneratedAt: now,
		Delinquents: snap.Delinquents,
		Adjustments: snap.Adjustments,
		Overview:    snap.Overview,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="delinquency-%s.xlsx"`, now.Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("write report", zap.Error(err))
	}
}

// --- IngestDump ---

func (h *Handlers) IngestDump(w http.ResponseWriter, r *http.Request) {
	// Accept multipart form.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	name := r.FormValue("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.ingestionSvc.Ingest(name, data)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
