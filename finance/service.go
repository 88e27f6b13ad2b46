/*
service.go - Operations of the reconciliation core

PURPOSE:
  The Service is what the transport layer calls. Each operation runs to
  completion within the calling request; there is no background worker.

OPERATIONS:
  GetLedger                 read-only replay (ledger.go)
  PostEntry                 receipts and manual debits/credits
  CreateFinancialDocument   validate, then Bill for invoices (billing.go)
  ReplaceFinancialDocument  validate, then Unbill + Bill
  DeleteFinancialDocument   Unbill for invoices, reversals for all kinds
  UpsertClubBatch           club diff-sync (club.go)
  DeleteClubBatch           club diff-sync against the empty set
  DetectDrift               compare documents/batches with shipments (drift.go)

RESULT STATUS:
  Every mutation result is either fully applied or applied with a list of
  per-AWB failures. Rejections are returned as errors (see errors.go), so
  callers never see a bare success flag.

SEE ALSO:
  - api/handlers.go: HTTP surface
*/
package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// RESULTS
// =============================================================================

type Status string

const (
	StatusApplied  Status = "applied"
	StatusPartial  Status = "partial"
	StatusRejected Status = "rejected"
)

// Failure reasons for one AWB inside an otherwise applied mutation.
const (
	FailConflict = "conflict"
	FailSync     = "sync_failed"
	FailNotFound = "not_found"

	// FailNotSaved marks a replacement whose new version could not be stored
	// after the old one was removed. AWB is empty.
	FailNotSaved = "document_not_saved"
)

type Failure struct {
	AWB    AWB
	Reason string
	Err    error
}

func statusOf(failed []Failure) Status {
	if len(failed) > 0 {
		return StatusPartial
	}
	return StatusApplied
}

type DocumentResult struct {
	Document Document
	Entries  []Entry
	Updated  []AWB
	// Reverted lists shipments unbilled from the replaced version.
	Reverted []AWB
	Failed   []Failure
	Status   Status
}

type DeleteResult struct {
	Document  Document
	Reversals []Entry
	Reverted  []AWB

	// Skipped lists AWBs on the document that were not billed by it.
	Skipped []AWB
	Failed  []Failure
	Status  Status
}

// =============================================================================
// RECORDER - Outcome counters (metrics package implements it)
// =============================================================================

type Recorder interface {
	DocumentProcessed(kind DocumentKind, op string, status Status)
	ShipmentSyncFailed(op, reason string)
	ClubSynced(added, removed int)
	LedgerReplayed(entries, skipped int)
}

type nopRecorder struct{}

func (nopRecorder) DocumentProcessed(DocumentKind, string, Status) {}
func (nopRecorder) ShipmentSyncFailed(string, string) {}
func (nopRecorder) ClubSynced(int, int) {}
func (nopRecorder) LedgerReplayed(int, int) {}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store  Store
	locker Locker
	log    *zap.Logger
	rec    Recorder
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithRecorder(r Recorder) Option { return func(s *Service) { s.rec = r } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: NewLocalLocker(),
		log:    zap.NewNop(),
		rec:    nopRecorder{},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

func (s *Service) obtain(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Obtain(ctx, key)
	if errors.Is(err, ErrLockHeld) {
		return nil, &ConflictError{Key: key}
	}
	if err != nil {
		return nil, storageErr("obtain lock", err)
	}
	return release, nil
}

func (s *Service) requireAccount(ctx context.Context, code AccountCode) (*Account, error) {
	acct, err := s.store.GetAccount(ctx, code)
	if err != nil {
		return nil, storageErr("get account", err)
	}
	if acct == nil {
		return nil, invalid("unknown_account", "account", "account %s does not exist", code)
	}
	return acct, nil
}

// =============================================================================
// LEDGER
// =============================================================================

// GetLedger replays the account's entries. A nil opening uses the account's
// stored opening balance; a nil period returns the full history. A full
// history read with the stored opening refreshes the cached closing balance.
func (s *Service) GetLedger(ctx context.Context, code AccountCode, opening *decimal.Decimal, period *Period) (Statement, error) {
	acct, err := s.store.GetAccount(ctx, code)
	if err != nil {
		return Statement{}, storageErr("get account", err)
	}
	if acct == nil {
		return Statement{}, fmt.Errorf("account %s: %w", code, ErrNotFound)
	}

	open := acct.OpeningBalance
	if opening != nil {
		open = *opening
	}
	var p Period
	if period != nil {
		p = *period
	}

	entries, err := s.store.LoadEntries(ctx, code)
	if err != nil {
		return Statement{}, storageErr("load entries", err)
	}

	st := ComputeLedgerForPeriod(code, open, entries, p).WithCreditLimit(acct.CreditLimit)
	for _, w := range st.Warnings {
		s.log.Warn("ledger replay", zap.String("account", string(code)), zap.String("warning", w))
	}
	s.rec.LedgerReplayed(len(entries), len(st.Warnings))

	if opening == nil && period == nil {
		if err := s.store.CacheClosingBalance(ctx, code, st.Closing, s.now()); err != nil {
			s.log.Warn("cache closing balance", zap.String("account", string(code)), zap.Error(err))
		}
	}
	return st, nil
}

// PostEntry records a receipt or a manual debit/credit from the transaction
// feed. Charges are accepted too, for shipments billed outside invoices.
func (s *Service) PostEntry(ctx context.Context, e Entry) (Entry, error) {
	e.Account = AccountCode(strings.TrimSpace(string(e.Account)))
	if err := ValidateEntry(e); err != nil {
		return Entry{}, err
	}
	if _, err := s.requireAccount(ctx, e.Account); err != nil {
		return Entry{}, err
	}

	e.ID = EntryID(s.newID())
	e.Amount = e.Amount.Round(MoneyPlaces)
	e.DocumentNo = ""
	e.ReversalOf = ""
	e.CreatedAt = s.now()

	stored, err := s.store.AppendEntries(ctx, []Entry{e})
	if err != nil {
		return Entry{}, storageErr("append entry", err)
	}
	s.log.Info("entry posted",
		zap.String("account", string(e.Account)),
		zap.String("kind", string(e.Kind)),
		zap.String("amount", e.Amount.String()),
	)
	return stored[0], nil
}

// reversal builds the entry that cancels e.
func (s *Service) reversal(e Entry, at time.Time, narration string) Entry {
	return Entry{
		ID:         EntryID(s.newID()),
		Account:    e.Account,
		Date:       at,
		Kind:       e.Kind.Opposite(),
		Amount:     e.Amount,
		Reference:  e.Reference,
		DocumentNo: e.DocumentNo,
		ReversalOf: e.ID,
		Narration:  narration,
		CreatedAt:  at,
	}
}

// pendingReversals returns reversals for every entry not yet reversed.
func (s *Service) pendingReversals(entries []Entry, at time.Time, narration string) []Entry {
	reversed := make(map[EntryID]bool)
	for _, e := range entries {
		if e.ReversalOf != "" {
			reversed[e.ReversalOf] = true
		}
	}
	var out []Entry
	for _, e := range entries {
		if e.ReversalOf != "" || reversed[e.ID] {
			continue
		}
		out = append(out, s.reversal(e, at, narration))
	}
	return out
}
