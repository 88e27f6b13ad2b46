/*
club.go - Club batch to shipment diff-sync

PURPOSE:
  A club batch groups AWBs for one run. The batch's AWB set is the truth;
  each shipment's ClubNo mirrors it. Instead of rewriting every member on
  every edit, only the difference between the old and new sets is applied.

DIFF:
  Added   = new \ old    -> SetClub(awb, clubNo)
  Removed = old \ new    -> ClearClub(awb, clubNo)

  Create is a diff against the empty set, delete a diff to the empty set.
  Applying the same delta twice changes nothing the second time.

OWNERSHIP:
  Removal only clears a shipment that still points at this batch. A shipment
  that moved to another batch in the meantime is left alone and logged.
  Addition always wins: if the AWB belonged to another batch, it is also
  dropped from that batch's set and reported as reassigned.

ORDER:
  The batch itself is persisted (or deleted) first, then shipments are
  synced one by one. A shipment failure never undoes the batch.
*/
package finance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ClubDelta is the shipment work needed to move a batch from one AWB set to
// another.
type ClubDelta struct {
	ClubNo  string
	Added   []AWB
	Removed []AWB
}

// Empty returns true if applying the delta would write nothing.
func (d ClubDelta) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Reassignment is an AWB taken over from another batch.
type Reassignment struct {
	AWB      AWB
	FromClub string
}

type ClubResult struct {
	ClubNo     string
	Added      []AWB
	Removed    []AWB
	Reassigned []Reassignment
	// Desynced lists removals left alone because the shipment already
	// points at another batch.
	Desynced   []AWB
	Failed     []Failure
	Status     Status
}

// =============================================================================
// DIFF
// =============================================================================

// SyncClubAssignment computes the set difference between the old and new
// AWB sets of a batch. Duplicates in the input collapse; output is sorted.
func SyncClubAssignment(oldSet, newSet []AWB, clubNo string) ClubDelta {
	oldIdx := toSet(oldSet)
	newIdx := toSet(newSet)

	d := ClubDelta{ClubNo: clubNo}
	for a := range newIdx {
		if !oldIdx[a] {
			d.Added = append(d.Added, a)
		}
	}
	for a := range oldIdx {
		if !newIdx[a] {
			d.Removed = append(d.Removed, a)
		}
	}
	sortAWBs(d.Added)
	sortAWBs(d.Removed)
	return d
}

func toSet(awbs []AWB) map[AWB]bool {
	m := make(map[AWB]bool, len(awbs))
	for _, a := range awbs {
		m[a] = true
	}
	return m
}

func sortAWBs(awbs []AWB) {
	sort.Slice(awbs, func(i, j int) bool { return awbs[i] < awbs[j] })
}

// normalizeAWBs trims, drops blanks, dedupes and sorts.
func normalizeAWBs(in []AWB) []AWB {
	seen := make(map[AWB]bool, len(in))
	out := make([]AWB, 0, len(in))
	for _, a := range in {
		a = AWB(strings.TrimSpace(string(a)))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sortAWBs(out)
	return out
}

// =============================================================================
// APPLY
// =============================================================================

// ApplyClubAssignment writes a delta to the shipment store. It never aborts:
// every AWB ends up applied or in Failed.
func (s *Service) ApplyClubAssignment(ctx context.Context, delta ClubDelta) ClubResult {
	res := ClubResult{ClubNo: delta.ClubNo}

	for _, awb := range delta.Removed {
		prev, err := s.store.ClearClub(ctx, awb, delta.ClubNo)
		switch {
		case err != nil:
			s.clubFailed(&res, "club_remove", awb, err)
		case prev != delta.ClubNo && prev != "":
			s.log.Warn("club desync: shipment belongs to another batch",
				zap.String("awb", string(awb)),
				zap.String("club", delta.ClubNo),
				zap.String("actual", prev),
			)
			res.Desynced = append(res.Desynced, awb)
		default:
			res.Removed = append(res.Removed, awb)
		}
	}

	for _, awb := range delta.Added {
		prev, err := s.store.SetClub(ctx, awb, delta.ClubNo)
		if err != nil {
			s.clubFailed(&res, "club_add", awb, err)
			continue
		}
		res.Added = append(res.Added, awb)
		if prev == "" || prev == delta.ClubNo {
			continue
		}
		res.Reassigned = append(res.Reassigned, Reassignment{AWB: awb, FromClub: prev})
		if err := s.store.RemoveClubAWB(ctx, prev, awb); err != nil {
			s.clubFailed(&res, "club_reassign", awb, err)
			continue
		}
		s.log.Info("shipment moved between batches",
			zap.String("awb", string(awb)),
			zap.String("from", prev),
			zap.String("to", delta.ClubNo),
		)
	}

	res.Status = statusOf(res.Failed)
	s.rec.ClubSynced(len(res.Added), len(res.Removed))
	return res
}

func (s *Service) clubFailed(res *ClubResult, op string, awb AWB, err error) {
	reason := FailSync
	if errors.Is(err, ErrNotFound) {
		reason = FailNotFound
	}
	res.Failed = append(res.Failed, Failure{AWB: awb, Reason: reason, Err: &PartialSyncWarning{AWB: awb, Op: op, Err: err}})
	s.rec.ShipmentSyncFailed(op, reason)
	s.log.Warn("shipment sync failed", zap.String("op", op), zap.String("awb", string(awb)), zap.Error(err))
}

// =============================================================================
// OPERATIONS
// =============================================================================

// UpsertClubBatch creates or edits a batch and syncs the shipments whose
// membership changed.
func (s *Service) UpsertClubBatch(ctx context.Context, batch ClubBatch) (ClubResult, error) {
	batch.ClubNo = strings.TrimSpace(batch.ClubNo)
	if batch.ClubNo == "" {
		return ClubResult{}, invalid("club_required", "clubNo", "club number is required")
	}
	batch.AWBs = normalizeAWBs(batch.AWBs)

	release, err := s.obtain(ctx, clubLockKey(batch.ClubNo))
	if err != nil {
		return ClubResult{}, err
	}
	defer release()

	existing, err := s.store.GetClub(ctx, batch.ClubNo)
	if err != nil {
		return ClubResult{}, storageErr("get club", err)
	}
	var oldSet []AWB
	if existing != nil {
		oldSet = existing.AWBs
		if batch.Date.IsZero() {
			batch.Date = existing.Date
		}
	}
	batch.UpdatedAt = s.now()
	if batch.Date.IsZero() {
		batch.Date = batch.UpdatedAt
	}

	if err := s.store.SaveClub(ctx, batch); err != nil {
		return ClubResult{}, storageErr("save club", err)
	}

	res := s.ApplyClubAssignment(ctx, SyncClubAssignment(oldSet, batch.AWBs, batch.ClubNo))
	s.log.Info("club batch saved",
		zap.String("club", batch.ClubNo),
		zap.Int("awbs", len(batch.AWBs)),
		zap.Int("added", len(res.Added)),
		zap.Int("removed", len(res.Removed)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// DeleteClubBatch deletes a batch and clears ClubNo on the shipments that
// still point at it.
func (s *Service) DeleteClubBatch(ctx context.Context, clubNo string) (ClubResult, error) {
	clubNo = strings.TrimSpace(clubNo)

	release, err := s.obtain(ctx, clubLockKey(clubNo))
	if err != nil {
		return ClubResult{}, err
	}
	defer release()

	existing, err := s.store.GetClub(ctx, clubNo)
	if err != nil {
		return ClubResult{}, storageErr("get club", err)
	}
	if existing == nil {
		return ClubResult{}, fmt.Errorf("club %s: %w", clubNo, ErrNotFound)
	}

	if err := s.store.DeleteClub(ctx, clubNo); err != nil {
		return ClubResult{}, storageErr("delete club", err)
	}

	res := s.ApplyClubAssignment(ctx, SyncClubAssignment(existing.AWBs, nil, clubNo))
	s.log.Info("club batch deleted", zap.String("club", clubNo), zap.Int("removed", len(res.Removed)))
	return res, nil
}
