/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos and UI work. Each scenario creates accounts, shipments,
	documents and club batches through finance.Service, so every write goes
	through the same validation and shipment sync as a real request.

AVAILABLE SCENARIOS:

	billing-basics:    One account, three shipments, one invoice and a receipt
	club-reassignment: Two batches sharing an AWB after an edit
	drift-demo:        A billed flag left behind by a failed unbill
	statement:         A month of mixed activity for period statements

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create accounts and shipments (booking side)
 3. Create documents and batches via the service
 4. Optionally post receipts and manual entries

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "billing-basics"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error mapping
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/freight-core/finance"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "billing-basics",
		Name:        "Billing Basics",
		Description: "Invoice bills three shipments, a receipt settles part of it",
	},
	{
		ID:          "club-reassignment",
		Name:        "Club Reassignment",
		Description: "An AWB moves from one club batch to another",
	},
	{
		ID:          "drift-demo",
		Name:        "Drift Demo",
		Description: "Shipment still billed by a deleted invoice, found by a sweep",
	},
	{
		ID:          "statement",
		Name:        "Monthly Statement",
		Description: "Invoices, notes and receipts across one month",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"billing-basics":    (*Handler).loadBillingBasics,
	"club-reassignment": (*Handler).loadClubReassignment,
	"drift-demo":        (*Handler).loadDriftDemo,
	"statement":         (*Handler).loadStatement,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.Log.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBillingBasics(ctx context.Context) error {
	day := scenarioDay(0)
	if err := h.seedAccount(ctx, "MPL", "Meridian Pharma Logistics", "100.00", "5000.00"); err != nil {
		return err
	}
	if err := h.seedShipments(ctx, "MPL", "RUN-01", "MPL1000001", "MPL1000002", "MPL1000003"); err != nil {
		return err
	}

	if err := h.seedDocument(ctx, finance.Document{
		Number:  "INV-1",
		Kind:    finance.DocInvoice,
		Account: "MPL",
		Date:    day,
		Lines: []finance.DocumentLine{
			{AWB: "MPL1000001", Amount: money("250.00")},
			{AWB: "MPL1000002", Amount: money("180.00")},
		},
		SGST: money("38.70"),
		CGST: money("38.70"),
	}); err != nil {
		return err
	}

	_, err := h.Service.PostEntry(ctx, finance.Entry{
		Account:   "MPL",
		Date:      day.AddDate(0, 0, 1),
		Kind:      finance.KindReceipt,
		Amount:    money("150.00"),
		Reference: "NEFT-4471",
		Narration: "Part payment INV-1",
	})
	return err
}

func (h *Handler) loadClubReassignment(ctx context.Context) error {
	day := scenarioDay(0)
	if err := h.seedAccount(ctx, "CEX", "Coastal Express", "0", "0"); err != nil {
		return err
	}
	if err := h.seedShipments(ctx, "CEX", "RUN-07", "CEX2000001", "CEX2000002", "CEX2000003", "CEX2000004"); err != nil {
		return err
	}

	if err := h.seedClub(ctx, finance.ClubBatch{ClubNo: "CLUB-A", RunNo: "RUN-07", Date: day,
		AWBs: []finance.AWB{"CEX2000001", "CEX2000002"}}); err != nil {
		return err
	}
	if err := h.seedClub(ctx, finance.ClubBatch{ClubNo: "CLUB-B", RunNo: "RUN-07", Date: day,
		AWBs: []finance.AWB{"CEX2000003"}}); err != nil {
		return err
	}
	// CEX2000002 moves to CLUB-B and leaves CLUB-A.
	return h.seedClub(ctx, finance.ClubBatch{ClubNo: "CLUB-B", RunNo: "RUN-07", Date: day,
		AWBs: []finance.AWB{"CEX2000002", "CEX2000003", "CEX2000004"}})
}

func (h *Handler) loadDriftDemo(ctx context.Context) error {
	day := scenarioDay(0)
	if err := h.seedAccount(ctx, "NRT", "Northern Relay Traders", "0", "0"); err != nil {
		return err
	}
	if err := h.seedShipments(ctx, "NRT", "RUN-12", "NRT3000001", "NRT3000002"); err != nil {
		return err
	}
	if err := h.seedDocument(ctx, finance.Document{
		Number:  "INV-900",
		Kind:    finance.DocInvoice,
		Account: "NRT",
		Date:    day,
		Lines: []finance.DocumentLine{
			{AWB: "NRT3000001", Amount: money("500.00")},
			{AWB: "NRT3000002", Amount: money("320.00")},
		},
		IGST: money("147.60"),
	}); err != nil {
		return err
	}

	// A stray billing flag written outside any invoice: the sweep reports
	// NRT3000003 as billed without an invoice.
	if err := h.seedShipments(ctx, "NRT", "RUN-12", "NRT3000003"); err != nil {
		return err
	}
	return h.Store.MarkBilled(ctx, "NRT3000003", "INV-899")
}

func (h *Handler) loadStatement(ctx context.Context) error {
	start := scenarioDay(-30)
	if err := h.seedAccount(ctx, "SGL", "Summit Global Logistics", "1200.00", "10000.00"); err != nil {
		return err
	}
	if err := h.seedShipments(ctx, "SGL", "RUN-20", "SGL4000001", "SGL4000002", "SGL4000003", "SGL4000004"); err != nil {
		return err
	}

	docs := []finance.Document{
		{
			Number: "INV-2001", Kind: finance.DocInvoice, Account: "SGL", Date: start,
			Lines: []finance.DocumentLine{{AWB: "SGL4000001", Amount: money("900.00")}, {AWB: "SGL4000002", Amount: money("450.00")}},
			SGST:  money("121.50"), CGST: money("121.50"),
		},
		{
			Number: "INV-2002", Kind: finance.DocInvoice, Account: "SGL", Date: start.AddDate(0, 0, 10),
			Lines: []finance.DocumentLine{{AWB: "SGL4000003", Amount: money("1300.00")}, {AWB: "SGL4000004", Amount: money("700.00")}},
			IGST:  money("360.00"),
		},
		{
			Number: "CN-2001", Kind: finance.DocCreditNote, Account: "SGL", Date: start.AddDate(0, 0, 12),
			Amount: money("150.00"), Remarks: "Rate correction on INV-2001",
		},
		{
			Number: "DN-2001", Kind: finance.DocDebitNote, Account: "SGL", Date: start.AddDate(0, 0, 20),
			Amount: money("75.00"), Remarks: "Demurrage",
		},
	}
	for _, d := range docs {
		if err := h.seedDocument(ctx, d); err != nil {
			return err
		}
	}

	receipts := []struct {
		offset int
		amount string
		ref    string
	}{
		{5, "1000.00", "CHQ-118"},
		{18, "1643.00", "NEFT-9021"},
	}
	for _, rc := range receipts {
		if _, err := h.Service.PostEntry(ctx, finance.Entry{
			Account:   "SGL",
			Date:      start.AddDate(0, 0, rc.offset),
			Kind:      finance.KindReceipt,
			Amount:    money(rc.amount),
			Reference: rc.ref,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedAccount(ctx context.Context, code, name, opening, limit string) error {
	return h.Store.SaveAccount(ctx, finance.Account{
		Code:           finance.AccountCode(code),
		Name:           name,
		OpeningBalance: money(opening),
		CreditLimit:    money(limit),
		CreatedAt:      time.Now().UTC(),
	})
}

func (h *Handler) seedShipments(ctx context.Context, account, run string, awbs ...finance.AWB) error {
	for _, awb := range awbs {
		if err := h.Store.SaveShipment(ctx, finance.Shipment{
			AWB:     awb,
			Account: finance.AccountCode(account),
			RunNo:   run,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedDocument(ctx context.Context, doc finance.Document) error {
	res, err := h.Service.CreateFinancialDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("document %s: %w", doc.Number, err)
	}
	if res.Status != finance.StatusApplied {
		return fmt.Errorf("document %s: %d shipments not synced", doc.Number, len(res.Failed))
	}
	return nil
}

func (h *Handler) seedClub(ctx context.Context, batch finance.ClubBatch) error {
	res, err := h.Service.UpsertClubBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("club %s: %w", batch.ClubNo, err)
	}
	if res.Status != finance.StatusApplied {
		return fmt.Errorf("club %s: %d shipments not synced", batch.ClubNo, len(res.Failed))
	}
	return nil
}

func scenarioDay(offset int) time.Time {
	return finance.Day(time.Now().UTC()).AddDate(0, 0, offset)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
