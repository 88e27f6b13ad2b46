/*
ledger.go - Running balance by replay

PURPOSE:
  The ledger is the only source of truth for an account balance. There is
  no stored counter that can drift: every read sorts the account's entries
  and folds them from the opening balance.

ORDERING:
  Entries are sorted by (transaction day ascending, Seq ascending). Seq is
  assigned by the store on append, so same-day entries always replay in
  insertion order no matter how the store iterates them.

FOLD:
  Charge  +amount
  Debit   +amount
  Receipt -amount
  Credit  -amount

EXAMPLE:
  opening 100.00
  day 1  Charge  250.00  -> 350.00
  day 2  Receipt 150.00  -> 200.00  (closing)

MALFORMED INPUT:
  Entries are validated when they are created. An entry that still arrives
  with an unknown kind or a negative amount is skipped and reported in
  Statement.Warnings rather than failing the read.

SEE ALSO:
  - service.go: GetLedger, PostEntry
  - store.go: EntryStore
*/
package finance

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATEMENT
// =============================================================================

// StatementLine is one entry with the balance right after it.
type StatementLine struct {
	Entry   Entry
	Balance decimal.Decimal
}

// Statement is the replayed ledger for one account.
type Statement struct {
	Account AccountCode
	Period  Period

	// Opening is the balance passed in; BroughtForward adds every entry
	// dated before Period.From.
	Opening        decimal.Decimal
	BroughtForward decimal.Decimal
	Lines          []StatementLine
	Closing        decimal.Decimal

	CreditLimit decimal.Decimal
	OverLimit   bool

	Warnings []string
}

// =============================================================================
// REPLAY
// =============================================================================

// SortEntries orders entries by (day, Seq) in place.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := Day(entries[i].Date), Day(entries[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// ComputeLedger replays entries from opening and returns every running
// balance plus the closing balance. The input slice is not modified.
func ComputeLedger(account AccountCode, opening decimal.Decimal, entries []Entry) Statement {
	return ComputeLedgerForPeriod(account, opening, entries, Period{})
}

// ComputeLedgerForPeriod is ComputeLedger restricted to a window. Entries
// before the window are folded into BroughtForward without producing lines;
// entries after it are ignored.
func ComputeLedgerForPeriod(account AccountCode, opening decimal.Decimal, entries []Entry, period Period) Statement {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted)

	st := Statement{
		Account: account,
		Period:  period,
		Opening: opening,
		Lines:   make([]StatementLine, 0, len(sorted)),
	}

	balance := opening
	for _, e := range sorted {
		if reason := malformed(e); reason != "" {
			st.Warnings = append(st.Warnings, fmt.Sprintf("skipped entry %s: %s", e.ID, reason))
			continue
		}
		if period.After(e.Date) {
			break
		}
		balance = balance.Add(e.Delta())
		if period.Before(e.Date) {
			continue
		}
		st.Lines = append(st.Lines, StatementLine{Entry: e, Balance: balance})
	}

	st.BroughtForward = opening
	if len(st.Lines) > 0 {
		first := st.Lines[0]
		st.BroughtForward = first.Balance.Sub(first.Entry.Delta())
	} else {
		st.BroughtForward = balance
	}
	st.Closing = balance
	return st
}

// WithCreditLimit flags the statement when the closing balance exceeds a
// positive limit.
func (s Statement) WithCreditLimit(limit decimal.Decimal) Statement {
	s.CreditLimit = limit
	s.OverLimit = limit.IsPositive() && s.Closing.GreaterThan(limit)
	return s
}

func malformed(e Entry) string {
	if !e.Kind.IsValid() {
		return fmt.Sprintf("unknown kind %q", e.Kind)
	}
	if e.Amount.IsNegative() {
		return "negative amount"
	}
	return ""
}
