package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-core/finance"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedShipment(t *testing.T, s *Store, awb finance.AWB) {
	t.Helper()
	require.NoError(t, s.SaveShipment(context.Background(), finance.Shipment{AWB: awb, Account: "MPL", RunNo: "RUN-1", TotalAmt: decimal.NewFromInt(100)}))
}

func TestStore_AccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct, err := s.GetAccount(ctx, "MPL")
	require.NoError(t, err)
	assert.Nil(t, acct)

	require.NoError(t, s.SaveAccount(ctx, finance.Account{
		Code:           "MPL",
		Name:           "Meridian",
		OpeningBalance: decimal.RequireFromString("100.50"),
		CreditLimit:    decimal.RequireFromString("5000"),
		CreatedAt:      time.Now(),
	}))
	asOf := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CacheClosingBalance(ctx, "MPL", decimal.RequireFromString("200"), asOf))

	acct, err = s.GetAccount(ctx, "MPL")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "Meridian", acct.Name)
	assert.True(t, acct.OpeningBalance.Equal(decimal.RequireFromString("100.50")))
	assert.True(t, acct.ClosingBalance.Equal(decimal.RequireFromString("200")))
	assert.True(t, acct.BalanceAsOf.Equal(asOf))

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestStore_AppendEntriesAssignsSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	stored, err := s.AppendEntries(ctx, []finance.Entry{
		{ID: "e1", Account: "MPL", Date: day, Kind: finance.KindCharge, Amount: decimal.NewFromInt(250), CreatedAt: day},
		{ID: "e2", Account: "MPL", Date: day, Kind: finance.KindReceipt, Amount: decimal.NewFromInt(150), CreatedAt: day},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Less(t, stored[0].Seq, stored[1].Seq)

	loaded, err := s.LoadEntries(ctx, "MPL")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, finance.EntryID("e1"), loaded[0].ID)
	assert.True(t, loaded[0].Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, finance.KindReceipt, loaded[1].Kind)

	st := finance.ComputeLedger("MPL", decimal.NewFromInt(100), loaded)
	assert.True(t, st.Closing.Equal(decimal.NewFromInt(200)))
}

func TestStore_EntryCanBeReversedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Now().UTC()

	_, err := s.AppendEntries(ctx, []finance.Entry{{ID: "e1", Account: "MPL", Date: day, Kind: finance.KindCharge, Amount: decimal.NewFromInt(10), CreatedAt: day}})
	require.NoError(t, err)
	_, err = s.AppendEntries(ctx, []finance.Entry{{ID: "r1", Account: "MPL", Date: day, Kind: finance.KindCredit, Amount: decimal.NewFromInt(10), ReversalOf: "e1", CreatedAt: day}})
	require.NoError(t, err)

	_, err = s.AppendEntries(ctx, []finance.Entry{{ID: "r2", Account: "MPL", Date: day, Kind: finance.KindCredit, Amount: decimal.NewFromInt(10), ReversalOf: "e1", CreatedAt: day}})
	assert.ErrorIs(t, err, finance.ErrConflict)
}

func TestStore_MarkBilledIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedShipment(t, s, "A1")

	require.NoError(t, s.MarkBilled(ctx, "A1", "INV-1"))
	assert.ErrorIs(t, s.MarkBilled(ctx, "A1", "INV-2"), finance.ErrAlreadyBilled)
	assert.ErrorIs(t, s.MarkBilled(ctx, "NOPE", "INV-1"), finance.ErrNotFound)

	sh, err := s.GetShipment(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, sh.IsBilled)
	assert.True(t, sh.BillingLocked)
	assert.Equal(t, "INV-1", sh.BillNo)
}

func TestStore_MarkBilledConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedShipment(t, s, "A1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.MarkBilled(ctx, "A1", "INV"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_ClearBilledOnlyForOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedShipment(t, s, "A1")
	require.NoError(t, s.MarkBilled(ctx, "A1", "INV-1"))

	changed, err := s.ClearBilled(ctx, "A1", "INV-2")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.ClearBilled(ctx, "A1", "INV-1")
	require.NoError(t, err)
	assert.True(t, changed)

	sh, err := s.GetShipment(ctx, "A1")
	require.NoError(t, err)
	assert.False(t, sh.IsBilled)
	assert.Empty(t, sh.BillNo)

	_, err = s.ClearBilled(ctx, "NOPE", "INV-1")
	assert.ErrorIs(t, err, finance.ErrNotFound)
}

func TestStore_SaveShipmentKeepsBillingAndClub(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedShipment(t, s, "A1")
	require.NoError(t, s.MarkBilled(ctx, "A1", "INV-1"))
	_, err := s.SetClub(ctx, "A1", "CLUB-1")
	require.NoError(t, err)

	// Booking updates hold and run only.
	require.NoError(t, s.SaveShipment(ctx, finance.Shipment{AWB: "A1", Account: "MPL", RunNo: "RUN-2", OnHold: true}))

	sh, err := s.GetShipment(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, sh.OnHold)
	assert.Equal(t, "RUN-2", sh.RunNo)
	assert.Equal(t, "INV-1", sh.BillNo)
	assert.Equal(t, "CLUB-1", sh.ClubNo)
}

func TestStore_ClubFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedShipment(t, s, "A1")

	prev, err := s.SetClub(ctx, "A1", "CLUB-1")
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = s.SetClub(ctx, "A1", "CLUB-2")
	require.NoError(t, err)
	assert.Equal(t, "CLUB-1", prev)

	// Clearing with the wrong club leaves it in place.
	prev, err = s.ClearClub(ctx, "A1", "CLUB-1")
	require.NoError(t, err)
	assert.Equal(t, "CLUB-2", prev)
	clubbed, err := s.ListClubbedShipments(ctx)
	require.NoError(t, err)
	require.Len(t, clubbed, 1)

	prev, err = s.ClearClub(ctx, "A1", "CLUB-2")
	require.NoError(t, err)
	assert.Equal(t, "CLUB-2", prev)
	clubbed, err = s.ListClubbedShipments(ctx)
	require.NoError(t, err)
	assert.Empty(t, clubbed)

	_, err = s.SetClub(ctx, "NOPE", "CLUB-1")
	assert.ErrorIs(t, err, finance.ErrNotFound)
}

func TestStore_DocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	doc := finance.Document{
		Number:     "INV-1",
		Kind:       finance.DocInvoice,
		Account:    "MPL",
		Date:       time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Lines:      []finance.DocumentLine{{AWB: "B2", Amount: decimal.NewFromInt(60)}, {AWB: "A1", Amount: decimal.NewFromInt(40)}},
		Amount:     decimal.NewFromInt(100),
		IGST:       decimal.NewFromInt(18),
		GrandTotal: decimal.NewFromInt(118),
		CreatedAt:  now,
	}
	entries := []finance.Entry{{ID: "c1", Account: "MPL", Date: doc.Date, Kind: finance.KindCharge, Amount: decimal.NewFromInt(100), DocumentNo: "INV-1", CreatedAt: now}}

	stored, err := s.CreateDocument(ctx, doc, entries)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotZero(t, stored[0].Seq)

	// Same number again is a duplicate, and nothing of it is written.
	_, err = s.CreateDocument(ctx, doc, []finance.Entry{{ID: "c2", Account: "MPL", Date: doc.Date, Kind: finance.KindCharge, Amount: decimal.NewFromInt(1), DocumentNo: "INV-1", CreatedAt: now}})
	assert.ErrorIs(t, err, finance.ErrDuplicateDocument)
	byDoc, err := s.EntriesByDocument(ctx, "INV-1")
	require.NoError(t, err)
	assert.Len(t, byDoc, 1)

	got, err := s.GetDocument(ctx, "INV-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []finance.AWB{"B2", "A1"}, got.AWBs(), "line order is kept")
	assert.True(t, got.GrandTotal.Equal(decimal.NewFromInt(118)))
	assert.True(t, got.Date.Equal(doc.Date))

	invoices, err := s.ListDocuments(ctx, finance.DocInvoice)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
	notes, err := s.ListDocuments(ctx, finance.DocCreditNote)
	require.NoError(t, err)
	assert.Empty(t, notes)

	reversal := finance.Entry{ID: "r1", Account: "MPL", Date: now, Kind: finance.KindCredit, Amount: decimal.NewFromInt(100), DocumentNo: "INV-1", ReversalOf: "c1", CreatedAt: now}
	require.NoError(t, s.DeleteDocument(ctx, "INV-1", []finance.Entry{reversal}))

	got, err = s.GetDocument(ctx, "INV-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	byDoc, err = s.EntriesByDocument(ctx, "INV-1")
	require.NoError(t, err)
	assert.Len(t, byDoc, 2, "entries survive the document")

	assert.ErrorIs(t, s.DeleteDocument(ctx, "INV-1", nil), finance.ErrNotFound)
}

func TestStore_Clubs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveClub(ctx, finance.ClubBatch{ClubNo: "CLUB-1", RunNo: "RUN-1", Date: now, UpdatedAt: now, AWBs: []finance.AWB{"B", "A"}}))
	require.NoError(t, s.SaveClub(ctx, finance.ClubBatch{ClubNo: "CLUB-1", RunNo: "RUN-1", Date: now, UpdatedAt: now, AWBs: []finance.AWB{"B", "C"}}))

	c, err := s.GetClub(ctx, "CLUB-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []finance.AWB{"B", "C"}, c.AWBs)
	assert.Equal(t, "RUN-1", c.RunNo)

	require.NoError(t, s.RemoveClubAWB(ctx, "CLUB-1", "B"))
	require.NoError(t, s.RemoveClubAWB(ctx, "CLUB-1", "ZZZ"))
	c, err = s.GetClub(ctx, "CLUB-1")
	require.NoError(t, err)
	assert.Equal(t, []finance.AWB{"C"}, c.AWBs)

	require.NoError(t, s.DeleteClub(ctx, "CLUB-1"))
	c, err = s.GetClub(ctx, "CLUB-1")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.ErrorIs(t, s.DeleteClub(ctx, "CLUB-1"), finance.ErrNotFound)
}

func TestStore_SweepRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSweepRun(ctx, finance.SweepRun{ID: "r1", Status: "completed", StartedAt: start}))
	run := finance.SweepRun{ID: "r2", Status: "running", Repair: true, StartedAt: start.Add(time.Hour)}
	require.NoError(t, s.SaveSweepRun(ctx, run))

	done := start.Add(time.Hour + time.Minute)
	run.Status, run.Findings, run.Repaired, run.CompletedAt = "completed", 3, 2, &done
	require.NoError(t, s.SaveSweepRun(ctx, run))

	runs, err := s.ListSweepRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 3, runs[0].Findings)
	assert.True(t, runs[0].Repair)
	require.NotNil(t, runs[0].CompletedAt)

	runs, err = s.ListSweepRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedShipment(t, s, "A1")
	require.NoError(t, s.SaveAccount(ctx, finance.Account{Code: "MPL", CreatedAt: time.Now()}))

	require.NoError(t, s.Reset(ctx))

	sh, err := s.GetShipment(ctx, "A1")
	require.NoError(t, err)
	assert.Nil(t, sh)
	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestStore_ServiceRoundTrip(t *testing.T) {
	// GIVEN: the service on top of SQLite
	s := newTestStore(t)
	ctx := context.Background()
	svc := finance.NewService(s)
	require.NoError(t, s.SaveAccount(ctx, finance.Account{Code: "MPL", OpeningBalance: decimal.NewFromInt(100), CreatedAt: time.Now()}))
	seedShipment(t, s, "MPL1000001")

	// WHEN: invoicing and then deleting the invoice
	res, err := svc.CreateFinancialDocument(ctx, finance.Document{
		Number:  "INV-1",
		Kind:    finance.DocInvoice,
		Account: "MPL",
		Lines:   []finance.DocumentLine{{AWB: "MPL1000001", Amount: decimal.NewFromInt(250)}},
	})
	require.NoError(t, err)
	assert.Equal(t, finance.StatusApplied, res.Status)

	st, err := svc.GetLedger(ctx, "MPL", nil, nil)
	require.NoError(t, err)
	assert.True(t, st.Closing.Equal(decimal.NewFromInt(350)))

	del, err := svc.DeleteFinancialDocument(ctx, "INV-1")
	require.NoError(t, err)

	// THEN: shipment and balance are back where they started
	assert.Equal(t, []finance.AWB{"MPL1000001"}, del.Reverted)
	sh, err := s.GetShipment(ctx, "MPL1000001")
	require.NoError(t, err)
	assert.False(t, sh.IsBilled)
	st, err = svc.GetLedger(ctx, "MPL", nil, nil)
	require.NoError(t, err)
	assert.True(t, st.Closing.Equal(decimal.NewFromInt(100)))

	report, err := svc.DetectDrift(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}
