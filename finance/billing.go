/*
billing.go - Shipment billing state in lockstep with invoices

PURPOSE:
  A shipment moves Unbilled -> Billed (locked) when an invoice that lists it
  is created, and back to Unbilled when that invoice is deleted. Updating an
  invoice's AWB set is Unbill followed by Bill, never an in-place edit.

BILL (invoice creation):
  1. Validate the document (validate.go)
  2. Eligibility precheck over every line: shipment exists, belongs to the
     invoice's account, is not on hold, has a run number. Any failure
     rejects the whole invoice before a single write.
  3. Persist the document with its Charge entries (atomic)
  4. Per line, MarkBilled: compare-and-set on isBilled == false.
     - already billed  -> ConflictError for that AWB, its Charge reversed
     - store failure   -> PartialSyncWarning, nothing rolled back

UNBILL (invoice deletion):
  1. Load the document and its entries
  2. Delete the document and append reversals (atomic)
  3. Per AWB, ClearBilled(awb, number): only shipments whose billNo is this
     invoice are touched. Failures become PartialSyncWarnings.

CREDIT / DEBIT NOTES:
  Same validation and posting, no shipment state involved.

SEE ALSO:
  - drift.go: Finds shipments left behind by partial failures
*/
package finance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateFinancialDocument validates doc, persists it with its ledger entries
// and, for invoices, bills every referenced shipment.
func (s *Service) CreateFinancialDocument(ctx context.Context, doc Document) (DocumentResult, error) {
	doc, err := Validate(doc)
	if err != nil {
		return DocumentResult{}, err
	}

	release, err := s.obtain(ctx, documentLockKey(doc.Number))
	if err != nil {
		return DocumentResult{}, err
	}
	defer release()

	if _, err := s.requireAccount(ctx, doc.Account); err != nil {
		return DocumentResult{}, err
	}
	return s.create(ctx, doc, "create", true)
}

// ReplaceFinancialDocument swaps an existing document for a new version of
// the same number. The new version is validated and checked for eligibility
// before the old one is unbilled; errors after that point come back as a
// partial result listing what was already reverted.
func (s *Service) ReplaceFinancialDocument(ctx context.Context, doc Document) (DocumentResult, error) {
	doc, err := Validate(doc)
	if err != nil {
		return DocumentResult{}, err
	}

	release, err := s.obtain(ctx, documentLockKey(doc.Number))
	if err != nil {
		return DocumentResult{}, err
	}
	defer release()

	existing, err := s.store.GetDocument(ctx, doc.Number)
	if err != nil {
		return DocumentResult{}, storageErr("get document", err)
	}
	if existing == nil {
		return DocumentResult{}, fmt.Errorf("document %s: %w", doc.Number, ErrNotFound)
	}
	if existing.Kind != doc.Kind {
		return DocumentResult{}, invalid("kind_change", "kind", "cannot change %s %s into %s", existing.Kind, doc.Number, doc.Kind)
	}
	if _, err := s.requireAccount(ctx, doc.Account); err != nil {
		return DocumentResult{}, err
	}
	if doc.Kind == DocInvoice {
		if err := s.checkEligibility(ctx, doc); err != nil {
			return DocumentResult{}, err
		}
	}

	removed, err := s.delete(ctx, doc.Number, "replace")
	if err != nil {
		return DocumentResult{}, err
	}
	// The old version is gone from here on, so failures are reported in the
	// result rather than as a rejection.
	res, err := s.create(ctx, doc, "replace", false)
	if err != nil {
		s.log.Error("replacement not saved", zap.String("number", doc.Number), zap.Error(err))
		res = DocumentResult{Document: doc}
		res.Failed = append(res.Failed, Failure{Reason: FailNotSaved, Err: err})
		s.rec.DocumentProcessed(doc.Kind, "replace", StatusPartial)
	}
	// Shipments the old version could not unbill are still worth reporting.
	res.Reverted = removed.Reverted
	res.Failed = append(removed.Failed, res.Failed...)
	res.Status = statusOf(res.Failed)
	return res, nil
}

// DeleteFinancialDocument removes a document, reverses its ledger entries
// and, for invoices, unbills exactly the shipments it billed.
func (s *Service) DeleteFinancialDocument(ctx context.Context, number string) (DeleteResult, error) {
	release, err := s.obtain(ctx, documentLockKey(number))
	if err != nil {
		return DeleteResult{}, err
	}
	defer release()

	return s.delete(ctx, number, "delete")
}

// =============================================================================
// BILL
// =============================================================================

// create persists doc and bills its lines. checkEligible is false when the
// caller already ran the eligibility check under the document lock.
func (s *Service) create(ctx context.Context, doc Document, op string, checkEligible bool) (DocumentResult, error) {
	if checkEligible && doc.Kind == DocInvoice {
		if err := s.checkEligibility(ctx, doc); err != nil {
			s.rec.DocumentProcessed(doc.Kind, op, StatusRejected)
			return DocumentResult{}, err
		}
	}

	doc.CreatedAt = s.now()
	if doc.Date.IsZero() {
		doc.Date = doc.CreatedAt
	}

	stored, err := s.store.CreateDocument(ctx, doc, s.postings(doc))
	if err != nil {
		return DocumentResult{}, storageErr("create document", err)
	}

	res := DocumentResult{Document: doc, Entries: stored}
	if doc.Kind == DocInvoice {
		s.bill(ctx, doc, &res)
	}
	res.Status = statusOf(res.Failed)

	s.rec.DocumentProcessed(doc.Kind, op, res.Status)
	s.log.Info("document created",
		zap.String("number", doc.Number),
		zap.String("kind", string(doc.Kind)),
		zap.String("grand_total", doc.GrandTotal.String()),
		zap.Int("updated", len(res.Updated)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// checkEligibility reads every referenced shipment before anything is
// written. All ineligible shipments are reported together.
func (s *Service) checkEligibility(ctx context.Context, doc Document) error {
	var bad []IneligibleShipment
	for _, line := range doc.Lines {
		sh, err := s.store.GetShipment(ctx, line.AWB)
		if err != nil {
			return storageErr("get shipment", err)
		}
		switch {
		case sh == nil:
			bad = append(bad, IneligibleShipment{AWB: line.AWB, Reason: ReasonNotFound})
		case sh.Account != doc.Account:
			bad = append(bad, IneligibleShipment{AWB: line.AWB, Reason: ReasonAccountMismatch})
		case sh.OnHold:
			bad = append(bad, IneligibleShipment{AWB: line.AWB, Reason: ReasonOnHold})
		case sh.RunNo == "":
			bad = append(bad, IneligibleShipment{AWB: line.AWB, Reason: ReasonMissingRun})
		}
	}
	if len(bad) > 0 {
		return &EligibilityError{Shipments: bad}
	}
	return nil
}

// postings builds the ledger entries a document posts: one per line, plus
// one for the GST total. A document without lines posts its amount.
func (s *Service) postings(doc Document) []Entry {
	kind := doc.Kind.EntryKind()
	mk := func(amount Entry) Entry {
		amount.ID = EntryID(s.newID())
		amount.Account = doc.Account
		amount.Date = doc.Date
		amount.Kind = kind
		amount.DocumentNo = doc.Number
		amount.CreatedAt = doc.CreatedAt
		return amount
	}

	var out []Entry
	for _, l := range doc.Lines {
		out = append(out, mk(Entry{Amount: l.Amount, Reference: string(l.AWB), Narration: fmt.Sprintf("%s %s", doc.Kind, doc.Number)}))
	}
	if len(doc.Lines) == 0 {
		out = append(out, mk(Entry{Amount: doc.Amount, Reference: doc.Number, Narration: fmt.Sprintf("%s %s", doc.Kind, doc.Number)}))
	}
	if tax := doc.Tax(); tax.IsPositive() {
		out = append(out, mk(Entry{Amount: tax, Reference: doc.Number, Narration: fmt.Sprintf("GST on %s", doc.Number)}))
	}
	return out
}

// bill marks every line's shipment. It never aborts: each line ends up in
// Updated or Failed.
func (s *Service) bill(ctx context.Context, doc Document, res *DocumentResult) {
	var conflicted []AWB
	for _, awb := range doc.AWBs() {
		err := s.store.MarkBilled(ctx, awb, doc.Number)
		switch {
		case err == nil:
			res.Updated = append(res.Updated, awb)

		case errors.Is(err, ErrAlreadyBilled):
			holder := ""
			if sh, gerr := s.store.GetShipment(ctx, awb); gerr == nil && sh != nil {
				holder = sh.BillNo
			}
			cerr := &ConflictError{AWB: awb, HeldBy: holder}
			res.Failed = append(res.Failed, Failure{AWB: awb, Reason: FailConflict, Err: cerr})
			conflicted = append(conflicted, awb)
			s.rec.ShipmentSyncFailed("bill", FailConflict)
			s.log.Warn("billing conflict", zap.String("awb", string(awb)), zap.String("invoice", doc.Number), zap.String("held_by", holder))

		default:
			s.syncFailed(res, "bill", awb, err)
		}
	}

	if len(conflicted) > 0 {
		s.reverseConflicts(ctx, doc, conflicted, res)
	}
}

// reverseConflicts cancels the Charge posted for AWBs another invoice
// already billed, so the customer is charged once.
func (s *Service) reverseConflicts(ctx context.Context, doc Document, awbs []AWB, res *DocumentResult) {
	want := make(map[string]bool, len(awbs))
	for _, a := range awbs {
		want[string(a)] = true
	}
	var reversals []Entry
	for _, e := range res.Entries {
		if e.Kind == KindCharge && want[e.Reference] {
			reversals = append(reversals, s.reversal(e, doc.CreatedAt, fmt.Sprintf("AWB %s already billed", e.Reference)))
		}
	}
	stored, err := s.store.AppendEntries(ctx, reversals)
	if err != nil {
		for _, a := range awbs {
			s.syncFailed(res, "reverse_charge", a, err)
		}
		return
	}
	res.Entries = append(res.Entries, stored...)
}

func (s *Service) syncFailed(res *DocumentResult, op string, awb AWB, err error) {
	reason := FailSync
	if errors.Is(err, ErrNotFound) {
		reason = FailNotFound
	}
	w := &PartialSyncWarning{AWB: awb, Op: op, Err: err}
	res.Failed = append(res.Failed, Failure{AWB: awb, Reason: reason, Err: w})
	s.rec.ShipmentSyncFailed(op, reason)
	s.log.Warn("shipment sync failed", zap.String("op", op), zap.String("awb", string(awb)), zap.Error(err))
}

// =============================================================================
// UNBILL
// =============================================================================

func (s *Service) delete(ctx context.Context, number, op string) (DeleteResult, error) {
	doc, err := s.store.GetDocument(ctx, number)
	if err != nil {
		return DeleteResult{}, storageErr("get document", err)
	}
	if doc == nil {
		return DeleteResult{}, fmt.Errorf("document %s: %w", number, ErrNotFound)
	}

	entries, err := s.store.EntriesByDocument(ctx, number)
	if err != nil {
		return DeleteResult{}, storageErr("load document entries", err)
	}
	reversals := s.pendingReversals(entries, s.now(), fmt.Sprintf("%s %s deleted", doc.Kind, number))

	if err := s.store.DeleteDocument(ctx, number, reversals); err != nil {
		return DeleteResult{}, storageErr("delete document", err)
	}

	res := DeleteResult{Document: *doc, Reversals: reversals}
	if doc.Kind == DocInvoice {
		for _, awb := range doc.AWBs() {
			changed, err := s.store.ClearBilled(ctx, awb, number)
			switch {
			case err != nil:
				reason := FailSync
				if errors.Is(err, ErrNotFound) {
					reason = FailNotFound
				}
				res.Failed = append(res.Failed, Failure{AWB: awb, Reason: reason, Err: &PartialSyncWarning{AWB: awb, Op: "unbill", Err: err}})
				s.rec.ShipmentSyncFailed("unbill", reason)
				s.log.Warn("shipment sync failed", zap.String("op", "unbill"), zap.String("awb", string(awb)), zap.Error(err))
			case changed:
				res.Reverted = append(res.Reverted, awb)
			default:
				res.Skipped = append(res.Skipped, awb)
				s.log.Debug("shipment not billed by document", zap.String("awb", string(awb)), zap.String("invoice", number))
			}
		}
	}
	res.Status = statusOf(res.Failed)

	s.rec.DocumentProcessed(doc.Kind, op, res.Status)
	s.log.Info("document deleted",
		zap.String("number", number),
		zap.Int("reverted", len(res.Reverted)),
		zap.Int("reversals", len(reversals)),
	)
	return res, nil
}
