/*
handlers.go - HTTP API handlers for the reconciliation core

PURPOSE:
  Exposes the finance service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to finance.Service.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                  List accounts
    PUT    /api/accounts/{code}           Create or update account master data
    GET    /api/accounts/{code}/ledger    Replayed statement (?opening=&from=&to=)
    POST   /api/accounts/{code}/entries   Receipt / manual debit / manual credit

  Shipments (booking collaborator):
    GET    /api/shipments/{awb}
    PUT    /api/shipments/{awb}           Booking-owned fields only

  Documents:
    GET    /api/documents                 List (?kind=Invoice)
    POST   /api/documents                 Create (Bill for invoices)
    GET    /api/documents/{number}
    PUT    /api/documents/{number}        Replace (Unbill + Bill)
    DELETE /api/documents/{number}        Delete (Unbill)

  Club batches:
    GET    /api/clubs
    GET    /api/clubs/{clubNo}
    PUT    /api/clubs/{clubNo}            Create or edit (diff-sync)
    DELETE /api/clubs/{clubNo}

  Reconciliation:
    GET    /api/reconciliation/runs       Drift sweep history
    POST   /api/reconciliation/sweep      Run a sweep now

REQUEST FLOW:
  1. Decode JSON and check request shape (validator tags in dto.go)
  2. Call finance.Service
  3. Serialize the result, including its applied/partial status
  4. Map domain errors to HTTP status

ERROR HANDLING:
  - 400: Malformed request (bad JSON, missing field, bad date)
  - 404: Account, document, shipment or batch not found
  - 409: Shipment already billed, duplicate number, concurrent mutation
  - 422: Document breaks a business rule or a shipment is ineligible
  - 503: Store unavailable
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/freight-core/finance"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need beyond finance.Store: sweep history and a
// reset for demo scenarios. Both the SQLite and the memory store satisfy it.
type Store interface {
	finance.Store
	finance.SweepStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *finance.Service
	Store   Store
	Sweeper *DriftScheduler
	Log     *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. The returned handler owns a disabled
// DriftScheduler for on-demand sweeps; main configures and starts it.
func NewHandler(svc *finance.Service, store Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Store:    store,
		Sweeper:  NewDriftScheduler(svc, store, log),
		Log:      log,
		validate: validator.New(),
	}
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts with their cached closing balance.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveAccount creates or updates account master data.
// PUT /api/accounts/{code}
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	code := finance.AccountCode(strings.TrimSpace(chi.URLParam(r, "code")))

	var req SaveAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct := finance.Account{
		Code:           code,
		Name:           req.Name,
		OpeningBalance: req.OpeningBalance.Round(finance.MoneyPlaces),
		CreditLimit:    req.CreditLimit.Round(finance.MoneyPlaces),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.SaveAccount(r.Context(), acct); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account", err)
		return
	}

	saved, err := h.Store.GetAccount(r.Context(), code)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*saved))
}

// GetLedger replays the account's entries.
// GET /api/accounts/{code}/ledger?opening=100.00&from=2025-01-01&to=2025-03-31
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	code := finance.AccountCode(chi.URLParam(r, "code"))
	q := r.URL.Query()

	var opening *decimal.Decimal
	if v := q.Get("opening"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid opening balance", err)
			return
		}
		opening = &d
	}

	var period *finance.Period
	if q.Get("from") != "" || q.Get("to") != "" {
		p, err := parsePeriod(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		period = &p
	}

	st, err := h.Service.GetLedger(r.Context(), code, opening, period)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// PostEntry records a receipt or manual debit/credit.
// POST /api/accounts/{code}/entries
func (h *Handler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var req PostEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := time.Parse(dateLayout, req.Date)

	e, err := h.Service.PostEntry(r.Context(), finance.Entry{
		Account:   finance.AccountCode(chi.URLParam(r, "code")),
		Date:      date,
		Kind:      finance.EntryKind(req.Kind),
		Amount:    req.Amount,
		Reference: req.Reference,
		Narration: req.Narration,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// =============================================================================
// SHIPMENT HANDLERS
// =============================================================================

func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	awb := finance.AWB(chi.URLParam(r, "awb"))
	sh, err := h.Store.GetShipment(r.Context(), awb)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get shipment", err)
		return
	}
	if sh == nil {
		writeError(w, http.StatusNotFound, "Shipment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(*sh))
}

// SaveShipment receives booking updates. Billing and club fields in the
// stored shipment are left as they are.
// PUT /api/shipments/{awb}
func (h *Handler) SaveShipment(w http.ResponseWriter, r *http.Request) {
	awb := finance.AWB(strings.TrimSpace(chi.URLParam(r, "awb")))

	var req SaveShipmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.Store.SaveShipment(r.Context(), finance.Shipment{
		AWB:      awb,
		Account:  finance.AccountCode(strings.TrimSpace(req.Account)),
		OnHold:   req.OnHold,
		RunNo:    strings.TrimSpace(req.RunNo),
		TotalAmt: req.TotalAmt,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save shipment", err)
		return
	}
	h.GetShipment(w, r)
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListDocuments returns documents, optionally of one kind.
// GET /api/documents?kind=Invoice
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	kind := finance.DocumentKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.IsValid() {
		writeError(w, http.StatusBadRequest, "Unknown document kind", fmt.Errorf("%q", kind))
		return
	}

	docs, err := h.Store.ListDocuments(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}
	dtos := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get document", err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "Document not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(*doc))
}

// CreateDocument creates an invoice, credit note or debit note.
// POST /api/documents
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := req.toDocument(req.Number)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	res, err := h.Service.CreateFinancialDocument(r.Context(), doc)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResultDTO(res))
}

// ReplaceDocument swaps a document for a new version of the same number.
// PUT /api/documents/{number}
func (h *Handler) ReplaceDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	number := chi.URLParam(r, "number")
	if req.Number != "" && req.Number != number {
		writeError(w, http.StatusBadRequest, "Document number does not match URL", nil)
		return
	}
	doc, err := req.toDocument(number)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	res, err := h.Service.ReplaceFinancialDocument(r.Context(), doc)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResultDTO(res))
}

// DeleteDocument removes a document and unbills its shipments.
// DELETE /api/documents/{number}
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteFinancialDocument(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeleteResultDTO(res))
}

// =============================================================================
// CLUB HANDLERS
// =============================================================================

func (h *Handler) ListClubs(w http.ResponseWriter, r *http.Request) {
	clubs, err := h.Store.ListClubs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clubs", err)
		return
	}
	dtos := make([]ClubDTO, len(clubs))
	for i, c := range clubs {
		dtos[i] = toClubDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetClub(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetClub(r.Context(), chi.URLParam(r, "clubNo"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get club", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Club not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toClubDTO(*c))
}

// UpsertClub creates or edits a club batch.
// PUT /api/clubs/{clubNo}
func (h *Handler) UpsertClub(w http.ResponseWriter, r *http.Request) {
	var req ClubRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch := finance.ClubBatch{
		ClubNo: chi.URLParam(r, "clubNo"),
		RunNo:  strings.TrimSpace(req.RunNo),
	}
	if req.Date != "" {
		batch.Date, _ = time.Parse(dateLayout, req.Date)
	}
	for _, a := range req.AWBs {
		batch.AWBs = append(batch.AWBs, finance.AWB(a))
	}

	res, err := h.Service.UpsertClubBatch(r.Context(), batch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClubResultDTO(res))
}

// DeleteClub deletes a club batch.
// DELETE /api/clubs/{clubNo}
func (h *Handler) DeleteClub(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteClubBatch(r.Context(), chi.URLParam(r, "clubNo"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClubResultDTO(res))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ListSweepRuns returns drift sweep history.
// GET /api/reconciliation/runs?limit=20
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListSweepRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get sweep runs", err)
		return
	}
	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSweepRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerSweep runs a drift sweep immediately.
// POST /api/reconciliation/sweep {"repair": true}
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	run, report, err := h.Sweeper.RunNow(r.Context(), req.Repair)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		Run:      toSweepRunDTO(run),
		Findings: toDriftFindingDTOs(report.Findings),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads the JSON body into dst and checks its validate tags. It
// writes the 400 response itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := ErrorResponse{Error: "Request validation failed", Details: err.Error(), Fields: map[string]string{}}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				resp.Fields[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// writeDomainError maps finance errors to HTTP responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		ve *finance.ValidationError
		ee *finance.EligibilityError
		ce *finance.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   ve.Message,
			Details: err.Error(),
			Status:  string(finance.StatusRejected),
			Rule:    ve.Rule,
			Field:   ve.Field,
		})
	case errors.As(err, &ee):
		resp := ErrorResponse{
			Error:   "Shipments are not eligible for billing",
			Details: err.Error(),
			Status:  string(finance.StatusRejected),
		}
		for _, s := range ee.Shipments {
			resp.Ineligible = append(resp.Ineligible, IneligibleDTO{AWB: string(s.AWB), Reason: s.Reason})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Conflicting operation",
			Details: err.Error(),
			Status:  string(finance.StatusRejected),
		})
	case errors.Is(err, finance.ErrDuplicateDocument):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Document number already exists",
			Details: err.Error(),
			Status:  string(finance.StatusRejected),
		})
	case finance.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, finance.ErrStorage):
		h.Log.Error("storage failure", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
	default:
		h.Log.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func parsePeriod(from, to string) (finance.Period, error) {
	var p finance.Period
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return p, fmt.Errorf("from: %w", err)
		}
		p.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return p, fmt.Errorf("to: %w", err)
		}
		p.To = t
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return p, errors.New("to is before from")
	}
	return p, nil
}
