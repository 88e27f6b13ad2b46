// Package store provides in-process finance.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/freight-core/finance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	seq       int64
	entries   []finance.Entry
	accounts  map[finance.AccountCode]finance.Account
	shipments map[finance.AWB]finance.Shipment
	documents map[string]finance.Document
	clubs     map[string]finance.ClubBatch
	runs      []finance.SweepRun
}

var (
	_ finance.Store      = (*Memory)(nil)
	_ finance.SweepStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[finance.AccountCode]finance.Account),
		shipments: make(map[finance.AWB]finance.Shipment),
		documents: make(map[string]finance.Document),
		clubs:     make(map[string]finance.ClubBatch),
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

// AppendEntries assigns Seq and appends. Append-only.
func (m *Memory) AppendEntries(_ context.Context, entries []finance.Entry) ([]finance.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entries), nil
}

func (m *Memory) appendLocked(entries []finance.Entry) []finance.Entry {
	out := make([]finance.Entry, len(entries))
	for i, e := range entries {
		m.seq++
		e.Seq = m.seq
		m.entries = append(m.entries, e)
		out[i] = e
	}
	return out
}

func (m *Memory) LoadEntries(_ context.Context, account finance.AccountCode) ([]finance.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []finance.Entry
	for _, e := range m.entries {
		if e.Account == account {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) EntriesByDocument(_ context.Context, number string) ([]finance.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []finance.Entry
	for _, e := range m.entries {
		if e.DocumentNo == number {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, code finance.AccountCode) (*finance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[code]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) SaveAccount(_ context.Context, a finance.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.accounts[a.Code]; ok {
		a.CreatedAt = prev.CreatedAt
		a.ClosingBalance = prev.ClosingBalance
		a.BalanceAsOf = prev.BalanceAsOf
	}
	m.accounts[a.Code] = a
	return nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]finance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]finance.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) CacheClosingBalance(_ context.Context, code finance.AccountCode, balance decimal.Decimal, asOf time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[code]
	if !ok {
		return fmt.Errorf("account %s: %w", code, finance.ErrNotFound)
	}
	a.ClosingBalance = balance
	a.BalanceAsOf = asOf
	m.accounts[code] = a
	return nil
}

// =============================================================================
// SHIPMENTS
// =============================================================================

func (m *Memory) GetShipment(_ context.Context, awb finance.AWB) (*finance.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shipments[awb]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SaveShipment writes the booking-owned fields and keeps billing/club state.
func (m *Memory) SaveShipment(_ context.Context, s finance.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.shipments[s.AWB]; ok {
		s.IsBilled = prev.IsBilled
		s.BillingLocked = prev.BillingLocked
		s.BillNo = prev.BillNo
		s.ClubNo = prev.ClubNo
	} else {
		s.IsBilled, s.BillingLocked, s.BillNo, s.ClubNo = false, false, "", ""
	}
	s.UpdatedAt = time.Now().UTC()
	m.shipments[s.AWB] = s
	return nil
}

// MarkBilled is the compare-and-set on IsBilled == false.
func (m *Memory) MarkBilled(_ context.Context, awb finance.AWB, billNo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[awb]
	if !ok {
		return fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
	}
	if s.IsBilled {
		return finance.ErrAlreadyBilled
	}
	s.IsBilled, s.BillingLocked, s.BillNo = true, true, billNo
	s.UpdatedAt = time.Now().UTC()
	m.shipments[awb] = s
	return nil
}

func (m *Memory) ClearBilled(_ context.Context, awb finance.AWB, billNo string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[awb]
	if !ok {
		return false, fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
	}
	if !s.IsBilled || s.BillNo != billNo {
		return false, nil
	}
	s.IsBilled, s.BillingLocked, s.BillNo = false, false, ""
	s.UpdatedAt = time.Now().UTC()
	m.shipments[awb] = s
	return true, nil
}

func (m *Memory) SetClub(_ context.Context, awb finance.AWB, clubNo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[awb]
	if !ok {
		return "", fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
	}
	prev := s.ClubNo
	s.ClubNo = clubNo
	s.UpdatedAt = time.Now().UTC()
	m.shipments[awb] = s
	return prev, nil
}

func (m *Memory) ClearClub(_ context.Context, awb finance.AWB, clubNo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[awb]
	if !ok {
		return "", fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
	}
	prev := s.ClubNo
	if prev == clubNo {
		s.ClubNo = ""
		s.UpdatedAt = time.Now().UTC()
		m.shipments[awb] = s
	}
	return prev, nil
}

func (m *Memory) ListBilledShipments(_ context.Context) ([]finance.Shipment, error) {
	return m.listShipments(func(s finance.Shipment) bool { return s.IsBilled }), nil
}

func (m *Memory) ListClubbedShipments(_ context.Context) ([]finance.Shipment, error) {
	return m.listShipments(func(s finance.Shipment) bool { return s.ClubNo != "" }), nil
}

func (m *Memory) listShipments(keep func(finance.Shipment) bool) []finance.Shipment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []finance.Shipment
	for _, s := range m.shipments {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AWB < out[j].AWB })
	return out
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// CreateDocument stores the document and its entries under one lock.
func (m *Memory) CreateDocument(_ context.Context, doc finance.Document, entries []finance.Entry) ([]finance.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.Number]; ok {
		return nil, finance.ErrDuplicateDocument
	}
	doc.Lines = append([]finance.DocumentLine(nil), doc.Lines...)
	m.documents[doc.Number] = doc
	return m.appendLocked(entries), nil
}

func (m *Memory) GetDocument(_ context.Context, number string) (*finance.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[number]
	if !ok {
		return nil, nil
	}
	d.Lines = append([]finance.DocumentLine(nil), d.Lines...)
	return &d, nil
}

func (m *Memory) DeleteDocument(_ context.Context, number string, reversals []finance.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[number]; !ok {
		return fmt.Errorf("document %s: %w", number, finance.ErrNotFound)
	}
	delete(m.documents, number)
	m.appendLocked(reversals)
	return nil
}

// ListDocuments returns documents of kind (all kinds if empty) by number.
func (m *Memory) ListDocuments(_ context.Context, kind finance.DocumentKind) ([]finance.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []finance.Document
	for _, d := range m.documents {
		if kind == "" || d.Kind == kind {
			d.Lines = append([]finance.DocumentLine(nil), d.Lines...)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// =============================================================================
// CLUBS
// =============================================================================

func (m *Memory) GetClub(_ context.Context, clubNo string) (*finance.ClubBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clubs[clubNo]
	if !ok {
		return nil, nil
	}
	c.AWBs = append([]finance.AWB(nil), c.AWBs...)
	return &c, nil
}

func (m *Memory) SaveClub(_ context.Context, c finance.ClubBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.AWBs = append([]finance.AWB(nil), c.AWBs...)
	m.clubs[c.ClubNo] = c
	return nil
}

func (m *Memory) DeleteClub(_ context.Context, clubNo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clubs[clubNo]; !ok {
		return fmt.Errorf("club %s: %w", clubNo, finance.ErrNotFound)
	}
	delete(m.clubs, clubNo)
	return nil
}

func (m *Memory) ListClubs(_ context.Context) ([]finance.ClubBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]finance.ClubBatch, 0, len(m.clubs))
	for _, c := range m.clubs {
		c.AWBs = append([]finance.AWB(nil), c.AWBs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClubNo < out[j].ClubNo })
	return out, nil
}

func (m *Memory) RemoveClubAWB(_ context.Context, clubNo string, awb finance.AWB) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clubs[clubNo]
	if !ok {
		return nil
	}
	kept := c.AWBs[:0:0]
	for _, a := range c.AWBs {
		if a != awb {
			kept = append(kept, a)
		}
	}
	c.AWBs = kept
	m.clubs[clubNo] = c
	return nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func (m *Memory) SaveSweepRun(_ context.Context, r finance.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

// ListSweepRuns returns the latest runs first.
func (m *Memory) ListSweepRuns(_ context.Context, limit int) ([]finance.SweepRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]finance.SweepRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Reset deletes all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = 0
	m.entries = nil
	m.accounts = make(map[finance.AccountCode]finance.Account)
	m.shipments = make(map[finance.AWB]finance.Shipment)
	m.documents = make(map[string]finance.Document)
	m.clubs = make(map[string]finance.ClubBatch)
	m.runs = nil
	return nil
}
