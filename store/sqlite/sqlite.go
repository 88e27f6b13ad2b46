/*
Package sqlite provides a SQLite-backed implementation of the finance storage
interfaces.

PURPOSE:
  Implements finance.Store and finance.SweepStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the entries table
  - No DELETE statements on the entries table
  - Corrections via reversal entries only

KEY TABLES:
  accounts:       Customer accounts with opening balance and cached closing
  entries:        Immutable ledger, seq is the same-day tiebreaker
  shipments:      Booking fields plus billing/club mirror fields
  documents:      Invoices, credit notes, debit notes
  document_lines: AWB lines of a document
  clubs:          Club batches
  club_awbs:      AWB set of each batch (rowData)
  sweep_runs:     Drift detection history

ATOMICITY:
  CreateDocument and DeleteDocument write the document and its entries in
  one SQL transaction. MarkBilled is a single conditional UPDATE, so two
  invoices racing for one AWB cannot both succeed.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/freight.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := finance.NewService(store)

SEE ALSO:
  - finance/store.go: Interface definitions
  - finance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/freight-core/finance"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ finance.Store      = (*Store)(nil)
	_ finance.SweepStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts
	CREATE TABLE IF NOT EXISTS accounts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		opening_balance TEXT NOT NULL DEFAULT '0',
		credit_limit TEXT NOT NULL DEFAULT '0',
		closing_balance TEXT NOT NULL DEFAULT '0',
		balance_as_of TEXT,
		created_at TEXT NOT NULL
	);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account TEXT NOT NULL,
		txn_date TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT,
		document_no TEXT,
		reversal_of TEXT,
		narration TEXT,
		created_at TEXT NOT NULL
	);

	-- Replay (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account, txn_date, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_document
		ON entries(document_no) WHERE document_no IS NOT NULL;
	-- An entry can be reversed once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reversal
		ON entries(reversal_of) WHERE reversal_of IS NOT NULL;

	-- Shipments
	CREATE TABLE IF NOT EXISTS shipments (
		awb TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		on_hold BOOLEAN NOT NULL DEFAULT FALSE,
		run_no TEXT,
		is_billed BOOLEAN NOT NULL DEFAULT FALSE,
		billing_locked BOOLEAN NOT NULL DEFAULT FALSE,
		bill_no TEXT,
		club_no TEXT,
		total_amt TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shipments_bill_no
		ON shipments(bill_no) WHERE bill_no IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_shipments_club_no
		ON shipments(club_no) WHERE club_no IS NOT NULL;

	-- Financial documents
	CREATE TABLE IF NOT EXISTS documents (
		number TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		account TEXT NOT NULL,
		doc_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		sgst TEXT NOT NULL,
		cgst TEXT NOT NULL,
		igst TEXT NOT NULL,
		grand_total TEXT NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_kind
		ON documents(kind);

	CREATE TABLE IF NOT EXISTS document_lines (
		document_no TEXT NOT NULL REFERENCES documents(number) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		awb TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (document_no, position)
	);

	-- Club batches
	CREATE TABLE IF NOT EXISTS clubs (
		club_no TEXT PRIMARY KEY,
		run_no TEXT,
		club_date TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS club_awbs (
		club_no TEXT NOT NULL REFERENCES clubs(club_no) ON DELETE CASCADE,
		awb TEXT NOT NULL,
		PRIMARY KEY (club_no, awb)
	);

	CREATE INDEX IF NOT EXISTS idx_club_awbs_awb
		ON club_awbs(awb);

	-- Drift sweeps
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'running',
		repair BOOLEAN NOT NULL DEFAULT FALSE,
		findings INTEGER DEFAULT 0,
		repaired INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_runs_started
		ON sweep_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ENTRY STORE
// =============================================================================

// AppendEntries adds entries to the ledger atomically and returns them with
// their assigned Seq.
func (s *Store) AppendEntries(ctx context.Context, entries []finance.Entry) ([]finance.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []finance.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.appendEntries(ctx, tx, entries)
		return err
	})
	return out, err
}

func (s *Store) appendEntries(ctx context.Context, db execer, entries []finance.Entry) ([]finance.Entry, error) {
	query := `
		INSERT INTO entries
		(id, account, txn_date, kind, amount, reference, document_no, reversal_of, narration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	out := make([]finance.Entry, len(entries))
	for i, e := range entries {
		res, err := db.ExecContext(ctx, query,
			e.ID,
			e.Account,
			e.Date.UTC().Format(time.RFC3339),
			e.Kind,
			e.Amount.String(),
			nullString(e.Reference),
			nullString(e.DocumentNo),
			nullString(string(e.ReversalOf)),
			nullString(e.Narration),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("entry %s: %w", e.ID, finance.ErrConflict)
			}
			return nil, fmt.Errorf("failed to append entry: %w", err)
		}
		e.Seq, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

const entryColumns = `seq, id, account, txn_date, kind, amount, reference, document_no, reversal_of, narration, created_at`

// LoadEntries returns every entry of an account in replay order.
func (s *Store) LoadEntries(ctx context.Context, account finance.AccountCode) ([]finance.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE account = ? ORDER BY txn_date ASC, seq ASC`,
		account)
}

func (s *Store) EntriesByDocument(ctx context.Context, number string) ([]finance.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE document_no = ? ORDER BY seq ASC`,
		number)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]finance.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []finance.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (finance.Entry, error) {
	var (
		e                                            finance.Entry
		txnDate, amount, createdAt                   string
		reference, documentNo, reversalOf, narration sql.NullString
	)
	err := rows.Scan(
		&e.Seq, &e.ID, &e.Account, &txnDate, &e.Kind, &amount,
		&reference, &documentNo, &reversalOf, &narration, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Date, _ = time.Parse(time.RFC3339, txnDate)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.Amount = parseDecimal(amount)
	e.Reference = reference.String
	e.DocumentNo = documentNo.String
	e.ReversalOf = finance.EntryID(reversalOf.String)
	e.Narration = narration.String
	return e, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, code finance.AccountCode) (*finance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a                                  finance.Account
		opening, limit, closing, createdAt string
		asOf                               sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, opening_balance, credit_limit, closing_balance, balance_as_of, created_at
		FROM accounts WHERE code = ?
	`, code).Scan(&a.Code, &a.Name, &opening, &limit, &closing, &asOf, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.OpeningBalance = parseDecimal(opening)
	a.CreditLimit = parseDecimal(limit)
	a.ClosingBalance = parseDecimal(closing)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if asOf.Valid {
		a.BalanceAsOf, _ = time.Parse(time.RFC3339Nano, asOf.String)
	}
	return &a, nil
}

// SaveAccount upserts the account master data. The cached closing balance
// is left untouched.
func (s *Store) SaveAccount(ctx context.Context, a finance.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (code, name, opening_balance, credit_limit, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			opening_balance = excluded.opening_balance,
			credit_limit = excluded.credit_limit
	`, a.Code, a.Name, a.OpeningBalance.String(), a.CreditLimit.String(), a.CreatedAt.Format(time.RFC3339))
	return err
}

func (s *Store) ListAccounts(ctx context.Context) ([]finance.Account, error) {
	s.mu.RLock()
	codes, err := s.queryStrings(ctx, `SELECT code FROM accounts ORDER BY code`)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]finance.Account, 0, len(codes))
	for _, c := range codes {
		a, err := s.GetAccount(ctx, finance.AccountCode(c))
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) CacheClosingBalance(ctx context.Context, code finance.AccountCode, balance decimal.Decimal, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET closing_balance = ?, balance_as_of = ? WHERE code = ?`,
		balance.String(), asOf.UTC().Format(time.RFC3339Nano), code)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("account %s", code))
}

// =============================================================================
// SHIPMENT STORE
// =============================================================================

const shipmentColumns = `awb, account, on_hold, run_no, is_billed, billing_locked, bill_no, club_no, total_amt, updated_at`

func (s *Store) GetShipment(ctx context.Context, awb finance.AWB) (*finance.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE awb = ?`, awb)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sh, err := scanShipment(rows)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// SaveShipment upserts the booking-owned fields. Billing and club fields are
// only written by MarkBilled/ClearBilled and SetClub/ClearClub.
func (s *Store) SaveShipment(ctx context.Context, sh finance.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shipments (awb, account, on_hold, run_no, total_amt, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(awb) DO UPDATE SET
			account = excluded.account,
			on_hold = excluded.on_hold,
			run_no = excluded.run_no,
			total_amt = excluded.total_amt,
			updated_at = excluded.updated_at
	`, sh.AWB, sh.Account, sh.OnHold, nullString(sh.RunNo), sh.TotalAmt.String(), now())
	return err
}

// MarkBilled sets the billed flag only if it is still clear.
func (s *Store) MarkBilled(ctx context.Context, awb finance.AWB, billNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET is_billed = TRUE, billing_locked = TRUE, bill_no = ?, updated_at = ?
		WHERE awb = ? AND is_billed = FALSE
	`, billNo, now(), awb)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	exists, err := s.shipmentExists(ctx, awb)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
	}
	return finance.ErrAlreadyBilled
}

// ClearBilled unbills the shipment only if billNo still owns it.
func (s *Store) ClearBilled(ctx context.Context, awb finance.AWB, billNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET is_billed = FALSE, billing_locked = FALSE, bill_no = NULL, updated_at = ?
		WHERE awb = ? AND is_billed = TRUE AND bill_no = ?
	`, now(), awb, billNo)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	exists, err := s.shipmentExists(ctx, awb)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
	}
	return false, nil
}

func (s *Store) SetClub(ctx context.Context, awb finance.AWB, clubNo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.swapClub(ctx, awb, func(prev string) (string, bool) { return clubNo, true })
}

func (s *Store) ClearClub(ctx context.Context, awb finance.AWB, clubNo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.swapClub(ctx, awb, func(prev string) (string, bool) { return "", prev == clubNo })
}

// swapClub reads the current club number and writes next(prev) when it
// asks to, in one transaction. It returns the previous value.
func (s *Store) swapClub(ctx context.Context, awb finance.AWB, next func(prev string) (string, bool)) (string, error) {
	var prev string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cur sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT club_no FROM shipments WHERE awb = ?`, awb).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("shipment %s: %w", awb, finance.ErrNotFound)
		}
		if err != nil {
			return err
		}
		prev = cur.String

		value, write := next(prev)
		if !write {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE shipments SET club_no = ?, updated_at = ? WHERE awb = ?`,
			nullString(value), now(), awb)
		return err
	})
	return prev, err
}

func (s *Store) ListBilledShipments(ctx context.Context) ([]finance.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryShipments(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE is_billed = TRUE ORDER BY awb`)
}

func (s *Store) ListClubbedShipments(ctx context.Context) ([]finance.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryShipments(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE club_no IS NOT NULL ORDER BY awb`)
}

func (s *Store) shipmentExists(ctx context.Context, awb finance.AWB) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shipments WHERE awb = ?`, awb).Scan(&count)
	return count > 0, err
}

func (s *Store) queryShipments(ctx context.Context, query string, args ...any) ([]finance.Shipment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func scanShipment(rows *sql.Rows) (finance.Shipment, error) {
	var (
		sh                    finance.Shipment
		runNo, billNo, clubNo sql.NullString
		totalAmt, updatedAt   string
	)
	err := rows.Scan(&sh.AWB, &sh.Account, &sh.OnHold, &runNo, &sh.IsBilled, &sh.BillingLocked,
		&billNo, &clubNo, &totalAmt, &updatedAt)
	if err != nil {
		return sh, fmt.Errorf("failed to scan shipment: %w", err)
	}
	sh.RunNo = runNo.String
	sh.BillNo = billNo.String
	sh.ClubNo = clubNo.String
	sh.TotalAmt = parseDecimal(totalAmt)
	sh.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return sh, nil
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// CreateDocument inserts the document, its lines and its entries in one
// transaction.
func (s *Store) CreateDocument(ctx context.Context, doc finance.Document, entries []finance.Entry) ([]finance.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []finance.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents
			(number, kind, account, doc_date, amount, sgst, cgst, igst, grand_total, remarks, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			doc.Number, doc.Kind, doc.Account, doc.Date.UTC().Format(time.RFC3339),
			doc.Amount.String(), doc.SGST.String(), doc.CGST.String(), doc.IGST.String(),
			doc.GrandTotal.String(), nullString(doc.Remarks), doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return finance.ErrDuplicateDocument
			}
			return fmt.Errorf("failed to insert document: %w", err)
		}

		for i, l := range doc.Lines {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document_lines (document_no, position, awb, amount) VALUES (?, ?, ?, ?)`,
				doc.Number, i, l.AWB, l.Amount.String(),
			); err != nil {
				return fmt.Errorf("failed to insert document line: %w", err)
			}
		}

		out, err = s.appendEntries(ctx, tx, entries)
		return err
	})
	return out, err
}

func (s *Store) GetDocument(ctx context.Context, number string) (*finance.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.queryDocuments(ctx, `WHERE number = ?`, number)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// DeleteDocument removes the document and appends its reversals in one
// transaction.
func (s *Store) DeleteDocument(ctx context.Context, number string, reversals []finance.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE number = ?`, number)
		if err != nil {
			return err
		}
		if err := requireRow(res, fmt.Sprintf("document %s", number)); err != nil {
			return err
		}
		_, err = s.appendEntries(ctx, tx, reversals)
		return err
	})
}

// ListDocuments returns documents of kind, or all documents if kind is empty.
func (s *Store) ListDocuments(ctx context.Context, kind finance.DocumentKind) ([]finance.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kind == "" {
		return s.queryDocuments(ctx, `ORDER BY number`)
	}
	return s.queryDocuments(ctx, `WHERE kind = ? ORDER BY number`, kind)
}

func (s *Store) queryDocuments(ctx context.Context, where string, args ...any) ([]finance.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, kind, account, doc_date, amount, sgst, cgst, igst, grand_total, remarks, created_at
		FROM documents `+where, args...)
	if err != nil {
		return nil, err
	}

	var docs []finance.Document
	for rows.Next() {
		var (
			d                                              finance.Document
			date, amount, sgst, cgst, igst, total, created string
			remarks                                        sql.NullString
		)
		if err := rows.Scan(&d.Number, &d.Kind, &d.Account, &date, &amount, &sgst, &cgst, &igst, &total, &remarks, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Date, _ = time.Parse(time.RFC3339, date)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		d.Amount = parseDecimal(amount)
		d.SGST = parseDecimal(sgst)
		d.CGST = parseDecimal(cgst)
		d.IGST = parseDecimal(igst)
		d.GrandTotal = parseDecimal(total)
		d.Remarks = remarks.String
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Lines are read after the outer cursor is closed; :memory: has one connection.
	for i := range docs {
		lines, err := s.documentLines(ctx, docs[i].Number)
		if err != nil {
			return nil, err
		}
		docs[i].Lines = lines
	}
	return docs, nil
}

func (s *Store) documentLines(ctx context.Context, number string) ([]finance.DocumentLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT awb, amount FROM document_lines WHERE document_no = ? ORDER BY position`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []finance.DocumentLine
	for rows.Next() {
		var (
			l      finance.DocumentLine
			amount string
		)
		if err := rows.Scan(&l.AWB, &amount); err != nil {
			return nil, err
		}
		l.Amount = parseDecimal(amount)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// CLUB STORE
// =============================================================================

func (s *Store) GetClub(ctx context.Context, clubNo string) (*finance.ClubBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clubs, err := s.queryClubs(ctx, `WHERE club_no = ?`, clubNo)
	if err != nil {
		return nil, err
	}
	if len(clubs) == 0 {
		return nil, nil
	}
	return &clubs[0], nil
}

// SaveClub upserts the batch and replaces its AWB set.
func (s *Store) SaveClub(ctx context.Context, c finance.ClubBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clubs (club_no, run_no, club_date, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(club_no) DO UPDATE SET
				run_no = excluded.run_no,
				club_date = excluded.club_date,
				updated_at = excluded.updated_at
		`, c.ClubNo, nullString(c.RunNo), c.Date.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM club_awbs WHERE club_no = ?`, c.ClubNo); err != nil {
			return err
		}
		for _, awb := range c.AWBs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO club_awbs (club_no, awb) VALUES (?, ?)`, c.ClubNo, awb,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteClub(ctx context.Context, clubNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM clubs WHERE club_no = ?`, clubNo)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("club %s", clubNo))
}

func (s *Store) ListClubs(ctx context.Context) ([]finance.ClubBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryClubs(ctx, `ORDER BY club_no`)
}

func (s *Store) RemoveClubAWB(ctx context.Context, clubNo string, awb finance.AWB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM club_awbs WHERE club_no = ? AND awb = ?`, clubNo, awb)
	return err
}

func (s *Store) queryClubs(ctx context.Context, where string, args ...any) ([]finance.ClubBatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT club_no, run_no, club_date, updated_at FROM clubs `+where, args...)
	if err != nil {
		return nil, err
	}

	var clubs []finance.ClubBatch
	for rows.Next() {
		var (
			c               finance.ClubBatch
			runNo           sql.NullString
			date, updatedAt string
		)
		if err := rows.Scan(&c.ClubNo, &runNo, &date, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.RunNo = runNo.String
		c.Date, _ = time.Parse(time.RFC3339, date)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		clubs = append(clubs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range clubs {
		awbs, err := s.queryStrings(ctx, `SELECT awb FROM club_awbs WHERE club_no = ? ORDER BY awb`, clubs[i].ClubNo)
		if err != nil {
			return nil, err
		}
		clubs[i].AWBs = make([]finance.AWB, len(awbs))
		for j, a := range awbs {
			clubs[i].AWBs[j] = finance.AWB(a)
		}
	}
	return clubs, nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SaveSweepRun inserts or updates a drift sweep run.
func (s *Store) SaveSweepRun(ctx context.Context, r finance.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt *string
	if r.CompletedAt != nil {
		s := r.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &s
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, status, repair, findings, repaired, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			findings = excluded.findings,
			repaired = excluded.repaired,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, r.ID, r.Status, r.Repair, r.Findings, r.Repaired, nullString(r.Error),
		r.StartedAt.UTC().Format(time.RFC3339), completedAt)
	return err
}

// ListSweepRuns returns the most recent runs first.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]finance.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, repair, findings, repaired, error, started_at, completed_at
		FROM sweep_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []finance.SweepRun
	for rows.Next() {
		var (
			r                  finance.SweepRun
			errText, completed sql.NullString
			started            string
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.Repair, &r.Findings, &r.Repaired, &errText, &started, &completed); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if completed.Valid {
			t, _ := time.Parse(time.RFC3339, completed.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset deletes all data. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"club_awbs", "clubs", "document_lines", "documents", "entries", "shipments", "accounts", "sweep_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn inside a SQL transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Helper functions

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, finance.ErrNotFound)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
