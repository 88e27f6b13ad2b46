/*
validate.go - Financial document validation and normalization

PURPOSE:
  Every document passes through Validate before it can touch the ledger or
  any shipment. Validate is pure: it returns a corrected copy or the first
  rule the document breaks, and persists nothing.

GST RULES:
  Either the inter-state regime applies (IGST > 0, SGST = CGST = 0) or the
  intra-state regime applies (IGST = 0, SGST = CGST >= 0). No component may
  be negative.

SERVER-COMPUTED TOTALS:
  Amount is recomputed from the lines whenever lines are present, and
  GrandTotal = Amount + SGST + CGST + IGST is always recomputed. Whatever the
  caller submitted for either is discarded.

RULES (ValidationError.Rule):
  number_required, account_required, unknown_kind, lines_required,
  awb_required, duplicate_line, negative_line_amount, negative_amount,
  negative_tax, igst_exclusive, sgst_cgst_mismatch
*/
package finance

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the precision documents are normalized to.
const MoneyPlaces = 2

// Validate checks doc and returns the normalized copy.
func Validate(doc Document) (Document, error) {
	doc.Number = strings.TrimSpace(doc.Number)
	doc.Account = AccountCode(strings.TrimSpace(string(doc.Account)))

	if doc.Number == "" {
		return Document{}, invalid("number_required", "number", "document number is required")
	}
	if doc.Account == "" {
		return Document{}, invalid("account_required", "account", "account code is required")
	}
	if !doc.Kind.IsValid() {
		return Document{}, invalid("unknown_kind", "kind", "unknown document kind %q", doc.Kind)
	}
	if doc.Kind == DocInvoice && len(doc.Lines) == 0 {
		return Document{}, invalid("lines_required", "lines", "an invoice must bill at least one AWB")
	}

	lines := make([]DocumentLine, len(doc.Lines))
	seen := make(map[AWB]bool, len(doc.Lines))
	sum := decimal.Zero
	for i, l := range doc.Lines {
		awb := AWB(strings.TrimSpace(string(l.AWB)))
		if awb == "" {
			return Document{}, invalid("awb_required", "lines", "line %d has no AWB", i+1)
		}
		if seen[awb] {
			return Document{}, invalid("duplicate_line", "lines", "AWB %s appears more than once", awb)
		}
		seen[awb] = true
		if l.Amount.IsNegative() {
			return Document{}, invalid("negative_line_amount", "lines", "AWB %s has a negative amount", awb)
		}
		amt := l.Amount.Round(MoneyPlaces)
		lines[i] = DocumentLine{AWB: awb, Amount: amt}
		sum = sum.Add(amt)
	}
	doc.Lines = lines

	if len(lines) > 0 {
		doc.Amount = sum
	}
	if doc.Amount.IsNegative() {
		return Document{}, invalid("negative_amount", "amount", "amount must not be negative")
	}
	doc.Amount = doc.Amount.Round(MoneyPlaces)

	taxes := []struct {
		field string
		v     decimal.Decimal
	}{{"sgst", doc.SGST}, {"cgst", doc.CGST}, {"igst", doc.IGST}}
	for _, t := range taxes {
		if t.v.IsNegative() {
			return Document{}, invalid("negative_tax", t.field, "%s must not be negative", strings.ToUpper(t.field))
		}
	}
	doc.SGST = doc.SGST.Round(MoneyPlaces)
	doc.CGST = doc.CGST.Round(MoneyPlaces)
	doc.IGST = doc.IGST.Round(MoneyPlaces)

	if doc.IGST.IsPositive() && (doc.SGST.IsPositive() || doc.CGST.IsPositive()) {
		return Document{}, invalid("igst_exclusive", "igst", "IGST cannot be combined with SGST/CGST")
	}
	if !doc.SGST.Equal(doc.CGST) {
		return Document{}, invalid("sgst_cgst_mismatch", "sgst", "SGST %s must equal CGST %s", doc.SGST, doc.CGST)
	}

	doc.GrandTotal = doc.Amount.Add(doc.Tax())
	return doc, nil
}

// ValidateEntry checks an entry posted directly from the transaction feed.
func ValidateEntry(e Entry) error {
	if strings.TrimSpace(string(e.Account)) == "" {
		return invalid("account_required", "account", "account code is required")
	}
	if !e.Kind.IsValid() {
		return invalid("unknown_kind", "kind", "unknown entry kind %q", e.Kind)
	}
	if !e.Amount.IsPositive() {
		return invalid("non_positive_amount", "amount", "amount must be greater than zero")
	}
	if e.Date.IsZero() {
		return invalid("date_required", "date", "transaction date is required")
	}
	return nil
}
