package finance_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-core/finance"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 0, 0, 0, 0, time.UTC)
}

func entry(id string, day time.Time, seq int64, kind finance.EntryKind, amount string) finance.Entry {
	return finance.Entry{
		ID:      finance.EntryID(id),
		Account: "MPL",
		Date:    day,
		Seq:     seq,
		Kind:    kind,
		Amount:  d(amount),
	}
}

func TestComputeLedger_ChargeThenReceipt(t *testing.T) {
	// GIVEN: opening 100, a charge of 250 on day 1 and a receipt of 150 on day 2
	entries := []finance.Entry{
		entry("e2", date(3, 2), 2, finance.KindReceipt, "150.00"),
		entry("e1", date(3, 1), 1, finance.KindCharge, "250.00"),
	}

	// WHEN: replaying
	st := finance.ComputeLedger("MPL", d("100.00"), entries)

	// THEN: running balances are 350 then 200
	require.Len(t, st.Lines, 2)
	assert.Equal(t, finance.EntryID("e1"), st.Lines[0].Entry.ID)
	assert.True(t, st.Lines[0].Balance.Equal(d("350.00")), "got %s", st.Lines[0].Balance)
	assert.True(t, st.Lines[1].Balance.Equal(d("200.00")), "got %s", st.Lines[1].Balance)
	assert.True(t, st.Closing.Equal(d("200.00")))
	assert.Empty(t, st.Warnings)

	// AND: the input is not reordered
	assert.Equal(t, finance.EntryID("e2"), entries[0].ID)
}

func TestComputeLedger_AllKinds(t *testing.T) {
	entries := []finance.Entry{
		entry("c", date(1, 1), 1, finance.KindCharge, "10"),
		entry("d", date(1, 1), 2, finance.KindDebit, "5"),
		entry("r", date(1, 1), 3, finance.KindReceipt, "3"),
		entry("cr", date(1, 1), 4, finance.KindCredit, "2"),
	}
	st := finance.ComputeLedger("MPL", decimal.Zero, entries)
	assert.True(t, st.Closing.Equal(d("10")), "10 + 5 - 3 - 2 = 10, got %s", st.Closing)
}

func TestComputeLedger_SameInputAnyOrderSameResult(t *testing.T) {
	// GIVEN: several entries on the same day and across days
	base := []finance.Entry{
		entry("a", date(5, 1), 1, finance.KindCharge, "100"),
		entry("b", date(5, 1), 2, finance.KindReceipt, "40"),
		entry("c", date(5, 1), 3, finance.KindDebit, "7.50"),
		entry("d", date(5, 3), 4, finance.KindCredit, "12.25"),
		entry("e", date(5, 2), 5, finance.KindCharge, "60"),
	}
	want := finance.ComputeLedger("MPL", d("20"), base)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		// WHEN: the store returns them in a different order
		shuffled := append([]finance.Entry(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := finance.ComputeLedger("MPL", d("20"), shuffled)

		// THEN: the replay is identical
		require.Len(t, got.Lines, len(want.Lines))
		for j := range want.Lines {
			assert.Equal(t, want.Lines[j].Entry.ID, got.Lines[j].Entry.ID)
			assert.True(t, want.Lines[j].Balance.Equal(got.Lines[j].Balance))
		}
		assert.True(t, want.Closing.Equal(got.Closing))
	}

	// AND: same-day entries replay in Seq order, later days after
	ids := make([]finance.EntryID, len(want.Lines))
	for i, l := range want.Lines {
		ids[i] = l.Entry.ID
	}
	assert.Equal(t, []finance.EntryID{"a", "b", "c", "e", "d"}, ids)
}

func TestComputeLedger_TimeOfDayDoesNotReorderSameDay(t *testing.T) {
	// A later Seq stamped earlier in the day still replays second.
	first := entry("first", date(6, 1).Add(18*time.Hour), 1, finance.KindCharge, "10")
	second := entry("second", date(6, 1).Add(2*time.Hour), 2, finance.KindReceipt, "10")

	st := finance.ComputeLedger("MPL", decimal.Zero, []finance.Entry{second, first})
	require.Len(t, st.Lines, 2)
	assert.Equal(t, finance.EntryID("first"), st.Lines[0].Entry.ID)
}

func TestComputeLedger_SkipsMalformedEntries(t *testing.T) {
	// GIVEN: one entry with an unknown kind and one with a negative amount
	entries := []finance.Entry{
		entry("ok", date(1, 1), 1, finance.KindCharge, "50"),
		entry("bad-kind", date(1, 1), 2, finance.EntryKind("Refund"), "20"),
		entry("bad-amount", date(1, 1), 3, finance.KindDebit, "-5"),
	}

	// WHEN: replaying
	st := finance.ComputeLedger("MPL", decimal.Zero, entries)

	// THEN: the read succeeds, the bad entries are reported and not folded
	assert.True(t, st.Closing.Equal(d("50")))
	assert.Len(t, st.Lines, 1)
	assert.Len(t, st.Warnings, 2)
}

func TestComputeLedger_Empty(t *testing.T) {
	st := finance.ComputeLedger("MPL", d("75"), nil)
	assert.Empty(t, st.Lines)
	assert.True(t, st.Closing.Equal(d("75")))
	assert.True(t, st.BroughtForward.Equal(d("75")))
}

func TestComputeLedgerForPeriod_BroughtForward(t *testing.T) {
	// GIVEN: entries before, inside and after March
	entries := []finance.Entry{
		entry("feb", date(2, 20), 1, finance.KindCharge, "300"),
		entry("mar1", date(3, 1), 2, finance.KindReceipt, "100"),
		entry("mar31", date(3, 31), 3, finance.KindCharge, "40"),
		entry("apr", date(4, 2), 4, finance.KindCharge, "999"),
	}

	// WHEN: asking for the March statement
	st := finance.ComputeLedgerForPeriod("MPL", d("10"), entries, finance.Period{From: date(3, 1), To: date(3, 31)})

	// THEN: February is brought forward, April is ignored
	assert.True(t, st.BroughtForward.Equal(d("310")), "got %s", st.BroughtForward)
	require.Len(t, st.Lines, 2)
	assert.Equal(t, finance.EntryID("mar1"), st.Lines[0].Entry.ID)
	assert.True(t, st.Lines[0].Balance.Equal(d("210")))
	assert.True(t, st.Closing.Equal(d("250")))
}

func TestComputeLedgerForPeriod_NoEntriesInWindow(t *testing.T) {
	entries := []finance.Entry{entry("jan", date(1, 5), 1, finance.KindCharge, "80")}
	st := finance.ComputeLedgerForPeriod("MPL", decimal.Zero, entries, finance.Period{From: date(2, 1), To: date(2, 28)})
	assert.Empty(t, st.Lines)
	assert.True(t, st.BroughtForward.Equal(d("80")))
	assert.True(t, st.Closing.Equal(d("80")))
}

func TestStatement_WithCreditLimit(t *testing.T) {
	st := finance.Statement{Closing: d("600")}
	assert.True(t, st.WithCreditLimit(d("500")).OverLimit)
	assert.False(t, st.WithCreditLimit(d("600")).OverLimit)
	assert.False(t, st.WithCreditLimit(decimal.Zero).OverLimit, "zero limit means no limit")
}

func TestService_GetLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: an account with opening 100 and two posted entries
	f.account("MPL", "100.00")
	_, err := f.svc.PostEntry(ctx, finance.Entry{Account: "MPL", Date: date(3, 1), Kind: finance.KindDebit, Amount: d("250")})
	require.NoError(t, err)
	_, err = f.svc.PostEntry(ctx, finance.Entry{Account: "MPL", Date: date(3, 2), Kind: finance.KindReceipt, Amount: d("150")})
	require.NoError(t, err)

	// WHEN: reading the full ledger
	st, err := f.svc.GetLedger(ctx, "MPL", nil, nil)
	require.NoError(t, err)

	// THEN: closing is derived by replay and cached on the account
	assert.True(t, st.Closing.Equal(d("200")), "got %s", st.Closing)
	acct, err := f.store.GetAccount(ctx, "MPL")
	require.NoError(t, err)
	assert.True(t, acct.ClosingBalance.Equal(d("200")))

	// AND: an explicit opening overrides the stored one
	zero := decimal.Zero
	st, err = f.svc.GetLedger(ctx, "MPL", &zero, nil)
	require.NoError(t, err)
	assert.True(t, st.Closing.Equal(d("100")))
}

func TestService_GetLedger_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetLedger(context.Background(), "NOPE", nil, nil)
	assert.ErrorIs(t, err, finance.ErrNotFound)
}

func TestService_PostEntry_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account("MPL", "0")

	tests := []struct {
		name string
		e    finance.Entry
		rule string
	}{
		{"zero amount", finance.Entry{Account: "MPL", Date: date(1, 1), Kind: finance.KindReceipt, Amount: decimal.Zero}, "non_positive_amount"},
		{"unknown kind", finance.Entry{Account: "MPL", Date: date(1, 1), Kind: "Refund", Amount: d("1")}, "unknown_kind"},
		{"no date", finance.Entry{Account: "MPL", Kind: finance.KindReceipt, Amount: d("1")}, "date_required"},
		{"unknown account", finance.Entry{Account: "XYZ", Date: date(1, 1), Kind: finance.KindReceipt, Amount: d("1")}, "unknown_account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PostEntry(ctx, tt.e)
			var ve *finance.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.rule, ve.Rule)
		})
	}
}
