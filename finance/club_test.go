package finance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-core/finance"
)

func awbs(s ...string) []finance.AWB {
	out := make([]finance.AWB, len(s))
	for i, a := range s {
		out[i] = finance.AWB(a)
	}
	return out
}

func TestSyncClubAssignment(t *testing.T) {
	tests := []struct {
		name          string
		oldSet        []finance.AWB
		newSet        []finance.AWB
		added, remove []finance.AWB
	}{
		{"edit", awbs("A", "B"), awbs("B", "C"), awbs("C"), awbs("A")},
		{"create", nil, awbs("B", "A"), awbs("A", "B"), nil},
		{"delete", awbs("A", "B"), nil, nil, awbs("A", "B")},
		{"unchanged", awbs("A", "B"), awbs("B", "A"), nil, nil},
		{"duplicates collapse", awbs("A", "A"), awbs("A", "C", "C"), awbs("C"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := finance.SyncClubAssignment(tt.oldSet, tt.newSet, "CLUB-1")
			assert.Equal(t, "CLUB-1", delta.ClubNo)
			assert.Equal(t, tt.added, delta.Added)
			assert.Equal(t, tt.remove, delta.Removed)
			assert.Equal(t, len(tt.added)+len(tt.remove) == 0, delta.Empty())
		})
	}
}

func TestApplyClubAssignment_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")
	for _, awb := range []string{"A", "B", "C"} {
		f.shipment(awb, "MPL")
	}
	_, err := f.store.SetClub(ctx, "A", "CLUB-1")
	require.NoError(t, err)
	_, err = f.store.SetClub(ctx, "B", "CLUB-1")
	require.NoError(t, err)

	// WHEN: the same delta is applied twice
	delta := finance.SyncClubAssignment(awbs("A", "B"), awbs("B", "C"), "CLUB-1")
	first := f.svc.ApplyClubAssignment(ctx, delta)
	second := f.svc.ApplyClubAssignment(ctx, delta)

	// THEN: both succeed and the end state is the same
	assert.Equal(t, finance.StatusApplied, first.Status)
	assert.Equal(t, finance.StatusApplied, second.Status)
	assert.Empty(t, f.get("A").ClubNo)
	assert.Equal(t, "CLUB-1", f.get("B").ClubNo)
	assert.Equal(t, "CLUB-1", f.get("C").ClubNo)
	assert.Empty(t, second.Reassigned)
}

func TestUpsertClubBatch_DiffSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")
	for _, awb := range []string{"A", "B", "C"} {
		f.shipment(awb, "MPL")
	}

	// GIVEN: CLUB-1 holds A and B
	res, err := f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-1", AWBs: awbs("B", "A", " A ")})
	require.NoError(t, err)
	assert.Equal(t, awbs("A", "B"), res.Added)

	// WHEN: it is edited to B and C
	res, err = f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-1", AWBs: awbs("B", "C")})
	require.NoError(t, err)

	// THEN: only the difference is written
	assert.Equal(t, finance.StatusApplied, res.Status)
	assert.Equal(t, awbs("C"), res.Added)
	assert.Equal(t, awbs("A"), res.Removed)
	assert.Empty(t, f.get("A").ClubNo)
	assert.Equal(t, "CLUB-1", f.get("B").ClubNo)
	assert.Equal(t, "CLUB-1", f.get("C").ClubNo)

	batch, err := f.store.GetClub(ctx, "CLUB-1")
	require.NoError(t, err)
	assert.Equal(t, awbs("B", "C"), batch.AWBs)
	assert.False(t, batch.Date.IsZero())
}

func TestUpsertClubBatch_Reassignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")
	for _, awb := range []string{"X", "Y"} {
		f.shipment(awb, "MPL")
	}
	_, err := f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-A", AWBs: awbs("X", "Y")})
	require.NoError(t, err)

	// WHEN: CLUB-B claims X
	res, err := f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-B", AWBs: awbs("X")})
	require.NoError(t, err)

	// THEN: X moves and CLUB-A no longer lists it
	assert.Equal(t, []finance.Reassignment{{AWB: "X", FromClub: "CLUB-A"}}, res.Reassigned)
	assert.Equal(t, "CLUB-B", f.get("X").ClubNo)
	a, err := f.store.GetClub(ctx, "CLUB-A")
	require.NoError(t, err)
	assert.Equal(t, awbs("Y"), a.AWBs)

	// AND: editing CLUB-A later does not steal X back by removal
	res, err = f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-A", AWBs: nil})
	require.NoError(t, err)
	assert.Equal(t, awbs("Y"), res.Removed)
	assert.Equal(t, "CLUB-B", f.get("X").ClubNo)
}

func TestApplyClubAssignment_RemovalSkipsOtherBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")
	f.shipment("X", "MPL")
	_, err := f.store.SetClub(ctx, "X", "CLUB-B")
	require.NoError(t, err)

	res := f.svc.ApplyClubAssignment(ctx, finance.ClubDelta{ClubNo: "CLUB-A", Removed: awbs("X")})

	assert.Equal(t, finance.StatusApplied, res.Status)
	assert.Empty(t, res.Removed)
	assert.Equal(t, awbs("X"), res.Desynced)
	assert.Equal(t, "CLUB-B", f.get("X").ClubNo)
}

func TestUpsertClubBatch_PartialSync(t *testing.T) {
	f, fs := newFailingFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")
	f.shipment("A", "MPL")
	f.shipment("B", "MPL")
	fs.failClub["B"] = true

	res, err := f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-1", AWBs: awbs("A", "B", "GHOST")})
	require.NoError(t, err)

	// The batch stands; B and the unknown AWB are reported.
	assert.Equal(t, finance.StatusPartial, res.Status)
	assert.Equal(t, awbs("A"), res.Added)
	reasons := map[finance.AWB]string{}
	for _, fl := range res.Failed {
		reasons[fl.AWB] = fl.Reason
	}
	assert.Equal(t, map[finance.AWB]string{"B": finance.FailSync, "GHOST": finance.FailNotFound}, reasons)

	batch, err := f.store.GetClub(ctx, "CLUB-1")
	require.NoError(t, err)
	assert.Equal(t, awbs("A", "B", "GHOST"), batch.AWBs)
}

func TestDeleteClubBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")
	f.shipment("A", "MPL")
	f.shipment("B", "MPL")
	_, err := f.svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "CLUB-1", AWBs: awbs("A", "B")})
	require.NoError(t, err)

	res, err := f.svc.DeleteClubBatch(ctx, "CLUB-1")
	require.NoError(t, err)

	assert.Equal(t, awbs("A", "B"), res.Removed)
	assert.Empty(t, f.get("A").ClubNo)
	assert.Empty(t, f.get("B").ClubNo)
	batch, err := f.store.GetClub(ctx, "CLUB-1")
	require.NoError(t, err)
	assert.Nil(t, batch)

	_, err = f.svc.DeleteClubBatch(ctx, "CLUB-1")
	assert.ErrorIs(t, err, finance.ErrNotFound)
}

func TestUpsertClubBatch_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpsertClubBatch(context.Background(), finance.ClubBatch{ClubNo: "  "})
	var ve *finance.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "club_required", ve.Rule)

	f = newFixture(t, finance.WithLocker(heldLocker{}))
	_, err = f.svc.UpsertClubBatch(context.Background(), finance.ClubBatch{ClubNo: "C1"})
	var ce *finance.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "lock:club:C1", ce.Key)
}
