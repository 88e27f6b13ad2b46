/*
store.go - Persistence interfaces for the reconciliation core

PURPOSE:
  Defines the boundary between the rules in this package and the database.
  No cross-entity transactions are assumed: the only atomic multi-row writes
  are a document together with its own ledger entries.

KEY INTERFACES:
  EntryStore:    Append-only ledger entries, Seq assigned on append
  AccountStore:  Customer accounts and the cached closing balance
  ShipmentStore: Billing/club fields with compare-and-set writes
  DocumentStore: Financial documents, persisted with their entries
  ClubStore:     Club batches
  SweepStore:    Drift sweep run history

APPEND-ONLY CONTRACT:
  Entries have no Update or Delete. Deleting a document appends reversing
  entries in the same atomic write that removes the document.

IMPLEMENTATIONS:
  - finance/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - billing.go: Uses MarkBilled / ClearBilled
  - club.go: Uses SetClub / ClearClub
*/
package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

type EntryStore interface {
	// AppendEntries persists entries atomically and returns them with Seq set.
	AppendEntries(ctx context.Context, entries []Entry) ([]Entry, error)

	// LoadEntries returns every entry for the account in any order.
	LoadEntries(ctx context.Context, account AccountCode) ([]Entry, error)

	// EntriesByDocument returns entries posted by or reversing a document.
	EntriesByDocument(ctx context.Context, number string) ([]Entry, error)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountStore interface {
	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, code AccountCode) (*Account, error)
	SaveAccount(ctx context.Context, a Account) error
	ListAccounts(ctx context.Context) ([]Account, error)

	// CacheClosingBalance stores a derived closing balance for display.
	CacheClosingBalance(ctx context.Context, code AccountCode, balance decimal.Decimal, asOf time.Time) error
}

// =============================================================================
// SHIPMENTS
// =============================================================================

type ShipmentStore interface {
	// GetShipment returns nil, nil when the AWB is unknown.
	GetShipment(ctx context.Context, awb AWB) (*Shipment, error)

	// SaveShipment upserts the booking-owned fields (account, hold, run,
	// amount) and leaves billing and club fields untouched.
	SaveShipment(ctx context.Context, s Shipment) error

	// MarkBilled sets isBilled, billingLocked and billNo only if the shipment
	// is not billed at the moment of the write. Returns ErrAlreadyBilled
	// otherwise, or ErrNotFound.
	MarkBilled(ctx context.Context, awb AWB, billNo string) error

	// ClearBilled unbills the shipment only if its billNo equals billNo.
	// Returns false when nothing changed.
	ClearBilled(ctx context.Context, awb AWB, billNo string) (bool, error)

	// SetClub overwrites clubNo and returns the previous value.
	SetClub(ctx context.Context, awb AWB, clubNo string) (string, error)

	// ClearClub clears clubNo only if it equals clubNo. Returns the value
	// found before the call.
	ClearClub(ctx context.Context, awb AWB, clubNo string) (string, error)

	ListBilledShipments(ctx context.Context) ([]Shipment, error)
	ListClubbedShipments(ctx context.Context) ([]Shipment, error)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type DocumentStore interface {
	// CreateDocument persists the document and its entries atomically.
	// Returns ErrDuplicateDocument if the number exists. The returned entries
	// carry their Seq.
	CreateDocument(ctx context.Context, doc Document, entries []Entry) ([]Entry, error)

	// GetDocument returns nil, nil when the number is unknown.
	GetDocument(ctx context.Context, number string) (*Document, error)

	// DeleteDocument removes the document and appends reversals atomically.
	DeleteDocument(ctx context.Context, number string, reversals []Entry) error

	ListDocuments(ctx context.Context, kind DocumentKind) ([]Document, error)
}

// =============================================================================
// CLUB BATCHES
// =============================================================================

type ClubStore interface {
	// GetClub returns nil, nil when the batch does not exist.
	GetClub(ctx context.Context, clubNo string) (*ClubBatch, error)
	SaveClub(ctx context.Context, c ClubBatch) error
	DeleteClub(ctx context.Context, clubNo string) error
	ListClubs(ctx context.Context) ([]ClubBatch, error)

	// RemoveClubAWB drops one AWB from a batch's set. No-op if absent.
	RemoveClubAWB(ctx context.Context, clubNo string, awb AWB) error
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SweepRun records one drift detection pass.
type SweepRun struct {
	ID          string
	Status      string // running, completed, failed
	Repair      bool
	Findings    int
	Repaired    int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type SweepStore interface {
	SaveSweepRun(ctx context.Context, r SweepRun) error
	ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error)
}

// =============================================================================
// STORE - Everything the service needs
// =============================================================================

type Store interface {
	EntryStore
	AccountStore
	ShipmentStore
	DocumentStore
	ClubStore
}
