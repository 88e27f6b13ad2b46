/*
Package finance provides the financial reconciliation core.

PURPOSE:
  This package holds the cross-entity correctness rules of the freight
  operations platform: customer account balances derived from a ledger of
  charges, receipts, debits and credits; the billed state of shipments kept
  in lockstep with the invoices that bill them; and the club batch
  assignment mirrored onto each shipment.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger entry against one account
  - Shipment: The billing/club view of a shipment (identified by AWB)
  - Document: Invoice, credit note or debit note with GST components
  - ClubBatch: A set of AWBs grouped for one run

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal for every money value
  3. Derived balances: Closing balance is always replayed from entries
  4. Document first: The financial document is persisted before any
     shipment is touched, and shipment writes are individually retryable

SEE ALSO:
  - ledger.go: Balance replay
  - validate.go: Document validation and normalization
  - billing.go: Bill / Unbill transitions
  - club.go: Club batch diff-sync
  - service.go: Operations exposed to the transport layer
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountCode string
type AWB string
type EntryID string

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a customer account. ClosingBalance is a cache of the last full
// replay and is never read back as the source of truth.
type Account struct {
	Code           AccountCode
	Name           string
	OpeningBalance decimal.Decimal
	CreditLimit    decimal.Decimal
	ClosingBalance decimal.Decimal
	BalanceAsOf    time.Time
	CreatedAt      time.Time
}

// =============================================================================
// LEDGER ENTRY - Atomic change to an account balance
// =============================================================================

type EntryKind string

const (
	KindCharge  EntryKind = "Charge"  // Shipment charge billed on an invoice
	KindReceipt EntryKind = "Receipt" // Money received from the customer
	KindDebit   EntryKind = "Debit"   // Debit note or manual debit
	KindCredit  EntryKind = "Credit"  // Credit note, manual credit or reversal of a charge
)

// IsValid reports whether k is one of the four known kinds.
func (k EntryKind) IsValid() bool {
	switch k {
	case KindCharge, KindReceipt, KindDebit, KindCredit:
		return true
	}
	return false
}

// Sign returns +1 for kinds that increase what the customer owes and -1 for
// kinds that decrease it.
func (k EntryKind) Sign() int {
	switch k {
	case KindCharge, KindDebit:
		return 1
	case KindReceipt, KindCredit:
		return -1
	}
	return 0
}

// Opposite returns the kind used to reverse an entry of kind k.
func (k EntryKind) Opposite() EntryKind {
	if k.Sign() > 0 {
		return KindCredit
	}
	return KindDebit
}

// Entry is one recorded transaction against an account.
// Seq is assigned by the store on append and breaks ties between entries
// dated on the same day.
type Entry struct {
	ID         EntryID
	Account    AccountCode
	Date       time.Time
	Seq        int64
	Kind       EntryKind
	Amount     decimal.Decimal
	Reference  string
	DocumentNo string
	ReversalOf EntryID
	Narration  string
	CreatedAt  time.Time
}

// Delta returns the signed effect of the entry on the balance.
func (e Entry) Delta() decimal.Decimal {
	if e.Kind.Sign() < 0 {
		return e.Amount.Neg()
	}
	return e.Amount
}

// =============================================================================
// SHIPMENT - Billing and club view
// =============================================================================

// Shipment carries the fields this package reads and writes. Account, OnHold,
// RunNo and TotalAmt belong to the booking side and are only read here.
// Empty BillNo / ClubNo mean "not set".
type Shipment struct {
	AWB           AWB
	Account       AccountCode
	OnHold        bool
	RunNo         string
	IsBilled      bool
	BillingLocked bool
	BillNo        string
	ClubNo        string
	TotalAmt      decimal.Decimal
	UpdatedAt     time.Time
}

// =============================================================================
// FINANCIAL DOCUMENT
// =============================================================================

type DocumentKind string

const (
	DocInvoice    DocumentKind = "Invoice"
	DocCreditNote DocumentKind = "CreditNote"
	DocDebitNote  DocumentKind = "DebitNote"
)

func (k DocumentKind) IsValid() bool {
	switch k {
	case DocInvoice, DocCreditNote, DocDebitNote:
		return true
	}
	return false
}

// EntryKind is the ledger kind a document of this kind posts.
func (k DocumentKind) EntryKind() EntryKind {
	switch k {
	case DocCreditNote:
		return KindCredit
	case DocDebitNote:
		return KindDebit
	default:
		return KindCharge
	}
}

// DocumentLine is one AWB on a document (billItems / creditItems / debitItems).
type DocumentLine struct {
	AWB    AWB
	Amount decimal.Decimal
}

// Document is an invoice, credit note or debit note.
// GrandTotal is always computed by Validate.
type Document struct {
	Number     string
	Kind       DocumentKind
	Account    AccountCode
	Date       time.Time
	Lines      []DocumentLine
	Amount     decimal.Decimal
	SGST       decimal.Decimal
	CGST       decimal.Decimal
	IGST       decimal.Decimal
	GrandTotal decimal.Decimal
	Remarks    string
	CreatedAt  time.Time
}

// Tax returns SGST + CGST + IGST.
func (d Document) Tax() decimal.Decimal {
	return d.SGST.Add(d.CGST).Add(d.IGST)
}

// AWBs returns the AWBs referenced by the document in line order.
func (d Document) AWBs() []AWB {
	out := make([]AWB, 0, len(d.Lines))
	for _, l := range d.Lines {
		out = append(out, l.AWB)
	}
	return out
}

// =============================================================================
// CLUB BATCH
// =============================================================================

// ClubBatch groups AWBs for one run. Its AWB set is the authoritative
// assignment that Shipment.ClubNo mirrors.
type ClubBatch struct {
	ClubNo    string
	AWBs      []AWB
	RunNo     string
	Date      time.Time
	UpdatedAt time.Time
}
