/*
drift.go - Detect (and optionally repair) shipment state that disagrees with
its owning documents and batches

PURPOSE:
  Shipment writes happen after the owning invoice or batch is persisted and
  are never rolled back, so a failed write leaves drift behind. The sweep
  compares both sides and reports every disagreement. With repair enabled,
  each finding is fixed through the same conditional store operations the
  live paths use, under the same per-document / per-batch lock. The
  snapshot is read without locks, so each repair re-reads its document or
  batch under the lock and drops the finding if it no longer holds.

BILLING CHECK:
  An invoice line is live while its Charge has not been reversed.
    billed_without_invoice  shipment billed, no live invoice line   -> ClearBilled
    invoice_line_unbilled   live line, shipment not billed          -> MarkBilled
    billed_by_other         live line, shipment billed by another   (report only)

CLUB CHECK:
    club_not_mirrored       batch lists AWB, shipment ClubNo differs -> SetClub
    club_orphaned           shipment ClubNo names a batch without it -> ClearClub
    club_duplicate          AWB listed by more than one batch        (report only)

The two checks share nothing and run concurrently.
*/
package finance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DriftKind string

const (
	DriftBilledWithoutInvoice DriftKind = "billed_without_invoice"
	DriftInvoiceLineUnbilled  DriftKind = "invoice_line_unbilled"
	DriftBilledByOther        DriftKind = "billed_by_other"
	DriftClubNotMirrored      DriftKind = "club_not_mirrored"
	DriftClubOrphaned         DriftKind = "club_orphaned"
	DriftClubDuplicate        DriftKind = "club_duplicate"
)

// DriftFinding is one shipment whose state disagrees with its owner.
// Expected is what the owning side says, Actual what the shipment holds.
type DriftFinding struct {
	Kind     DriftKind
	AWB      AWB
	Expected string
	Actual   string
	Repaired bool
	Error    string
}

type DriftReport struct {
	Findings  []DriftFinding
	Repaired  int
	CheckedAt time.Time
}

// DetectDrift runs the billing and club checks. With repair set, findings
// that have an unambiguous fix are repaired in place.
func (s *Service) DetectDrift(ctx context.Context, repair bool) (DriftReport, error) {
	var billing, clubs []DriftFinding

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := s.checkBilling(ctx, repair)
		if err != nil {
			return err
		}
		billing = f
		return nil
	})
	g.Go(func() error {
		f, err := s.checkClubs(ctx, repair)
		if err != nil {
			return err
		}
		clubs = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return DriftReport{}, storageErr("detect drift", err)
	}

	report := DriftReport{CheckedAt: s.now()}
	report.Findings = append(billing, clubs...)
	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.AWB < b.AWB
	})
	for _, f := range report.Findings {
		if f.Repaired {
			report.Repaired++
		}
	}

	s.log.Info("drift check completed",
		zap.Bool("repair", repair),
		zap.Int("findings", len(report.Findings)),
		zap.Int("repaired", report.Repaired),
	)
	return report, nil
}

// =============================================================================
// BILLING
// =============================================================================

// liveInvoiceLines maps every AWB whose Charge is still standing to the
// invoice that charged it.
func (s *Service) liveInvoiceLines(ctx context.Context) (map[AWB]string, error) {
	invoices, err := s.store.ListDocuments(ctx, DocInvoice)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool { return invoices[i].CreatedAt.Before(invoices[j].CreatedAt) })

	live := make(map[AWB]string)
	for _, inv := range invoices {
		entries, err := s.store.EntriesByDocument(ctx, inv.Number)
		if err != nil {
			return nil, err
		}
		standing := standingCharges(entries)
		for _, awb := range inv.AWBs() {
			if _, taken := live[awb]; taken || !standing[awb] {
				continue
			}
			live[awb] = inv.Number
		}
	}
	return live, nil
}

// standingCharges returns the AWBs whose Charge in entries is not reversed.
func standingCharges(entries []Entry) map[AWB]bool {
	reversed := make(map[EntryID]bool)
	for _, e := range entries {
		if e.ReversalOf != "" {
			reversed[e.ReversalOf] = true
		}
	}
	standing := make(map[AWB]bool)
	for _, e := range entries {
		if e.Kind == KindCharge && e.ReversalOf == "" && !reversed[e.ID] {
			standing[AWB(e.Reference)] = true
		}
	}
	return standing
}

// lineStanding re-reads invoice number and reports whether it still charges awb.
func (s *Service) lineStanding(ctx context.Context, number string, awb AWB) (bool, error) {
	doc, err := s.store.GetDocument(ctx, number)
	if err != nil || doc == nil || doc.Kind != DocInvoice {
		return false, err
	}
	entries, err := s.store.EntriesByDocument(ctx, number)
	if err != nil {
		return false, err
	}
	return standingCharges(entries)[awb], nil
}

// clubLists re-reads batch clubNo and reports whether it lists awb.
func (s *Service) clubLists(ctx context.Context, clubNo string, awb AWB) (bool, error) {
	batch, err := s.store.GetClub(ctx, clubNo)
	if err != nil || batch == nil {
		return false, err
	}
	for _, a := range batch.AWBs {
		if a == awb {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) checkBilling(ctx context.Context, repair bool) ([]DriftFinding, error) {
	live, err := s.liveInvoiceLines(ctx)
	if err != nil {
		return nil, err
	}
	billed, err := s.store.ListBilledShipments(ctx)
	if err != nil {
		return nil, err
	}

	var out []DriftFinding
	seen := make(map[AWB]bool, len(billed))
	for _, sh := range billed {
		seen[sh.AWB] = true
		want, ok := live[sh.AWB]
		switch {
		case !ok:
			f := DriftFinding{Kind: DriftBilledWithoutInvoice, AWB: sh.AWB, Actual: sh.BillNo}
			if repair && !s.repair(ctx, &f, documentLockKey(sh.BillNo), func() error {
				if ok, err := s.lineStanding(ctx, sh.BillNo, sh.AWB); err != nil || ok {
					return resolvedOr(err)
				}
				_, err := s.store.ClearBilled(ctx, sh.AWB, sh.BillNo)
				return err
			}) {
				continue
			}
			out = append(out, f)
		case want != sh.BillNo:
			out = append(out, DriftFinding{Kind: DriftBilledByOther, AWB: sh.AWB, Expected: want, Actual: sh.BillNo})
		}
	}

	for awb, inv := range live {
		if seen[awb] {
			continue
		}
		sh, err := s.store.GetShipment(ctx, awb)
		if err != nil {
			return nil, err
		}
		if sh == nil || sh.IsBilled {
			continue
		}
		f := DriftFinding{Kind: DriftInvoiceLineUnbilled, AWB: awb, Expected: inv}
		if repair && !s.repair(ctx, &f, documentLockKey(inv), func() error {
			if ok, err := s.lineStanding(ctx, inv, awb); err != nil || !ok {
				return resolvedOr(err)
			}
			return s.store.MarkBilled(ctx, awb, inv)
		}) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// =============================================================================
// CLUBS
// =============================================================================

func (s *Service) checkClubs(ctx context.Context, repair bool) ([]DriftFinding, error) {
	batches, err := s.store.ListClubs(ctx)
	if err != nil {
		return nil, err
	}
	owners := make(map[AWB][]string)
	for _, b := range batches {
		for _, awb := range b.AWBs {
			owners[awb] = append(owners[awb], b.ClubNo)
		}
	}

	var out []DriftFinding
	for awb, clubs := range owners {
		if len(clubs) > 1 {
			sort.Strings(clubs)
			sh, err := s.store.GetShipment(ctx, awb)
			if err != nil {
				return nil, err
			}
			f := DriftFinding{Kind: DriftClubDuplicate, AWB: awb, Expected: strings.Join(clubs, ",")}
			if sh != nil {
				f.Actual = sh.ClubNo
			}
			out = append(out, f)
			continue
		}

		club := clubs[0]
		sh, err := s.store.GetShipment(ctx, awb)
		if err != nil {
			return nil, err
		}
		if sh == nil || sh.ClubNo == club {
			continue
		}
		f := DriftFinding{Kind: DriftClubNotMirrored, AWB: awb, Expected: club, Actual: sh.ClubNo}
		if repair && !s.repair(ctx, &f, clubLockKey(club), func() error {
			if ok, err := s.clubLists(ctx, club, awb); err != nil || !ok {
				return resolvedOr(err)
			}
			_, err := s.store.SetClub(ctx, awb, club)
			return err
		}) {
			continue
		}
		out = append(out, f)
	}

	clubbed, err := s.store.ListClubbedShipments(ctx)
	if err != nil {
		return nil, err
	}
	for _, sh := range clubbed {
		if containsClub(owners[sh.AWB], sh.ClubNo) {
			continue
		}
		// A shipment listed elsewhere is already reported as not mirrored.
		if len(owners[sh.AWB]) > 0 {
			continue
		}
		f := DriftFinding{Kind: DriftClubOrphaned, AWB: sh.AWB, Actual: sh.ClubNo}
		if repair && !s.repair(ctx, &f, clubLockKey(sh.ClubNo), func() error {
			if ok, err := s.clubLists(ctx, sh.ClubNo, sh.AWB); err != nil || ok {
				return resolvedOr(err)
			}
			_, err := s.store.ClearClub(ctx, sh.AWB, sh.ClubNo)
			return err
		}) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func containsClub(clubs []string, club string) bool {
	for _, c := range clubs {
		if c == club {
			return true
		}
	}
	return false
}

// errResolved means the finding no longer held once its lock was taken.
var errResolved = errors.New("drift resolved concurrently")

func resolvedOr(err error) error {
	if err != nil {
		return err
	}
	return errResolved
}

// repair runs fix under key's lock. fix re-reads the owning document or batch
// first, since the sweep's snapshot was taken without locks. A held lock
// leaves the finding for the next sweep. It returns false when the finding
// was resolved by a concurrent mutation and should not be reported.
func (s *Service) repair(ctx context.Context, f *DriftFinding, key string, fix func() error) bool {
	release, err := s.locker.Obtain(ctx, key)
	if err != nil {
		f.Error = err.Error()
		return true
	}
	defer release()

	if err := fix(); err != nil {
		if errors.Is(err, errResolved) {
			s.log.Debug("drift resolved before repair", zap.String("kind", string(f.Kind)), zap.String("awb", string(f.AWB)))
			return false
		}
		f.Error = err.Error()
		if !errors.Is(err, ErrAlreadyBilled) {
			s.log.Warn("drift repair failed", zap.String("kind", string(f.Kind)), zap.String("awb", string(f.AWB)), zap.Error(err))
		}
		return true
	}
	f.Repaired = true
	return true
}
