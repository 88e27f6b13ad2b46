/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the finance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are shopspring decimals. They are written as JSON strings
  ("1250.50") and accepted as strings or numbers.

DATES:
  Transaction and document dates are calendar days, "2006-01-02".

VALIDATION:
  Request shape (required fields, enums, date format) is checked with
  go-playground/validator struct tags before the domain sees it. Business
  rules (GST, eligibility) stay in the finance package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/freight-core/finance"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ACCOUNTS & LEDGER
// =============================================================================

type AccountDTO struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	BalanceAsOf    *time.Time      `json:"balance_as_of,omitempty"`
}

type SaveAccountRequest struct {
	Name           string          `json:"name" validate:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
}

type EntryDTO struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Date       string          `json:"date"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	DocumentNo string          `json:"document_no,omitempty"`
	ReversalOf string          `json:"reversal_of,omitempty"`
	Narration  string          `json:"narration,omitempty"`
}

type StatementLineDTO struct {
	EntryDTO
	Balance decimal.Decimal `json:"balance"`
}

type StatementDTO struct {
	Account        string             `json:"account"`
	From           string             `json:"from,omitempty"`
	To             string             `json:"to,omitempty"`
	Opening        decimal.Decimal    `json:"opening"`
	BroughtForward decimal.Decimal    `json:"brought_forward"`
	Lines          []StatementLineDTO `json:"lines"`
	Closing        decimal.Decimal    `json:"closing"`
	CreditLimit    decimal.Decimal    `json:"credit_limit"`
	OverLimit      bool               `json:"over_limit"`
	Warnings       []string           `json:"warnings,omitempty"`
}

type PostEntryRequest struct {
	Kind      string          `json:"kind" validate:"required,oneof=Charge Receipt Debit Credit"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Reference string          `json:"reference"`
	Narration string          `json:"narration"`
}

// =============================================================================
// SHIPMENTS
// =============================================================================

type ShipmentDTO struct {
	AWB           string          `json:"awb"`
	Account       string          `json:"account"`
	OnHold        bool            `json:"on_hold"`
	RunNo         string          `json:"run_no,omitempty"`
	IsBilled      bool            `json:"is_billed"`
	BillingLocked bool            `json:"billing_locked"`
	BillNo        *string         `json:"bill_no"`
	ClubNo        *string         `json:"club_no"`
	TotalAmt      decimal.Decimal `json:"total_amt"`
}

// SaveShipmentRequest carries the booking-owned fields only.
type SaveShipmentRequest struct {
	Account  string          `json:"account" validate:"required"`
	OnHold   bool            `json:"on_hold"`
	RunNo    string          `json:"run_no"`
	TotalAmt decimal.Decimal `json:"total_amt"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type DocumentLineDTO struct {
	AWB    string          `json:"awb" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type DocumentRequest struct {
	Number  string            `json:"number"`
	Kind    string            `json:"kind" validate:"required,oneof=Invoice CreditNote DebitNote"`
	Account string            `json:"account" validate:"required"`
	Date    string            `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Lines   []DocumentLineDTO `json:"lines" validate:"dive"`
	Amount  decimal.Decimal   `json:"amount"`
	SGST    decimal.Decimal   `json:"sgst"`
	CGST    decimal.Decimal   `json:"cgst"`
	IGST    decimal.Decimal   `json:"igst"`
	Remarks string            `json:"remarks"`
}

type DocumentDTO struct {
	Number     string            `json:"number"`
	Kind       string            `json:"kind"`
	Account    string            `json:"account"`
	Date       string            `json:"date"`
	Lines      []DocumentLineDTO `json:"lines"`
	Amount     decimal.Decimal   `json:"amount"`
	SGST       decimal.Decimal   `json:"sgst"`
	CGST       decimal.Decimal   `json:"cgst"`
	IGST       decimal.Decimal   `json:"igst"`
	GrandTotal decimal.Decimal   `json:"grand_total"`
	Remarks    string            `json:"remarks,omitempty"`
}

type FailureDTO struct {
	AWB    string `json:"awb"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

type DocumentResultDTO struct {
	Status   string       `json:"status"`
	Document DocumentDTO  `json:"document"`
	Entries  []EntryDTO   `json:"entries"`
	Updated  []string     `json:"updated"`
	Reverted []string     `json:"reverted,omitempty"`
	Failed   []FailureDTO `json:"failed"`
}

type DeleteResultDTO struct {
	Status    string       `json:"status"`
	Document  DocumentDTO  `json:"document"`
	Reversals []EntryDTO   `json:"reversals"`
	Reverted  []string     `json:"reverted"`
	Skipped   []string     `json:"skipped"`
	Failed    []FailureDTO `json:"failed"`
}

// =============================================================================
// CLUB BATCHES
// =============================================================================

type ClubRequest struct {
	AWBs  []string `json:"awbs" validate:"dive,required"`
	RunNo string   `json:"run_no"`
	Date  string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type ClubDTO struct {
	ClubNo string   `json:"club_no"`
	AWBs   []string `json:"awbs"`
	RunNo  string   `json:"run_no,omitempty"`
	Date   string   `json:"date"`
}

type ReassignmentDTO struct {
	AWB      string `json:"awb"`
	FromClub string `json:"from_club"`
}

type ClubResultDTO struct {
	Status     string            `json:"status"`
	ClubNo     string            `json:"club_no"`
	Added      []string          `json:"added"`
	Removed    []string          `json:"removed"`
	Reassigned []ReassignmentDTO `json:"reassigned"`
	Desynced   []string          `json:"desynced,omitempty"`
	Failed     []FailureDTO      `json:"failed"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type SweepRequest struct {
	Repair bool `json:"repair"`
}

type DriftFindingDTO struct {
	Kind     string `json:"kind"`
	AWB      string `json:"awb"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Repaired bool   `json:"repaired"`
	Error    string `json:"error,omitempty"`
}

type SweepRunDTO struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Repair      bool       `json:"repair"`
	Findings    int        `json:"findings"`
	Repaired    int        `json:"repaired"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SweepResponse struct {
	Run      SweepRunDTO       `json:"run"`
	Findings []DriftFindingDTO `json:"findings"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type IneligibleDTO struct {
	AWB    string `json:"awb"`
	Reason string `json:"reason"`
}

// ErrorResponse is returned for every failed request. Rejected mutations
// carry Status "rejected" and, where known, the violated rule.
type ErrorResponse struct {
	Error      string            `json:"error"`
	Details    string            `json:"details,omitempty"`
	Status     string            `json:"status,omitempty"`
	Rule       string            `json:"rule,omitempty"`
	Field      string            `json:"field,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Ineligible []IneligibleDTO   `json:"ineligible,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a finance.Account) AccountDTO {
	dto := AccountDTO{
		Code:           string(a.Code),
		Name:           a.Name,
		OpeningBalance: a.OpeningBalance,
		CreditLimit:    a.CreditLimit,
		ClosingBalance: a.ClosingBalance,
	}
	if !a.BalanceAsOf.IsZero() {
		t := a.BalanceAsOf
		dto.BalanceAsOf = &t
	}
	return dto
}

func toEntryDTO(e finance.Entry) EntryDTO {
	return EntryDTO{
		ID:         string(e.ID),
		Seq:        e.Seq,
		Date:       e.Date.UTC().Format(dateLayout),
		Kind:       string(e.Kind),
		Amount:     e.Amount,
		Reference:  e.Reference,
		DocumentNo: e.DocumentNo,
		ReversalOf: string(e.ReversalOf),
		Narration:  e.Narration,
	}
}

func toEntryDTOs(entries []finance.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

func toStatementDTO(st finance.Statement) StatementDTO {
	dto := StatementDTO{
		Account:        string(st.Account),
		Opening:        st.Opening,
		BroughtForward: st.BroughtForward,
		Lines:          make([]StatementLineDTO, len(st.Lines)),
		Closing:        st.Closing,
		CreditLimit:    st.CreditLimit,
		OverLimit:      st.OverLimit,
		Warnings:       st.Warnings,
	}
	if !st.Period.From.IsZero() {
		dto.From = st.Period.From.Format(dateLayout)
	}
	if !st.Period.To.IsZero() {
		dto.To = st.Period.To.Format(dateLayout)
	}
	for i, l := range st.Lines {
		dto.Lines[i] = StatementLineDTO{EntryDTO: toEntryDTO(l.Entry), Balance: l.Balance}
	}
	return dto
}

func toShipmentDTO(s finance.Shipment) ShipmentDTO {
	return ShipmentDTO{
		AWB:           string(s.AWB),
		Account:       string(s.Account),
		OnHold:        s.OnHold,
		RunNo:         s.RunNo,
		IsBilled:      s.IsBilled,
		BillingLocked: s.BillingLocked,
		BillNo:        optional(s.BillNo),
		ClubNo:        optional(s.ClubNo),
		TotalAmt:      s.TotalAmt,
	}
}

func (r DocumentRequest) toDocument(number string) (finance.Document, error) {
	doc := finance.Document{
		Number:  number,
		Kind:    finance.DocumentKind(r.Kind),
		Account: finance.AccountCode(r.Account),
		Amount:  r.Amount,
		SGST:    r.SGST,
		CGST:    r.CGST,
		IGST:    r.IGST,
		Remarks: r.Remarks,
	}
	if r.Date != "" {
		d, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return finance.Document{}, err
		}
		doc.Date = d
	}
	for _, l := range r.Lines {
		doc.Lines = append(doc.Lines, finance.DocumentLine{AWB: finance.AWB(l.AWB), Amount: l.Amount})
	}
	return doc, nil
}

func toDocumentDTO(d finance.Document) DocumentDTO {
	dto := DocumentDTO{
		Number:     d.Number,
		Kind:       string(d.Kind),
		Account:    string(d.Account),
		Date:       d.Date.UTC().Format(dateLayout),
		Lines:      make([]DocumentLineDTO, len(d.Lines)),
		Amount:     d.Amount,
		SGST:       d.SGST,
		CGST:       d.CGST,
		IGST:       d.IGST,
		GrandTotal: d.GrandTotal,
		Remarks:    d.Remarks,
	}
	for i, l := range d.Lines {
		dto.Lines[i] = DocumentLineDTO{AWB: string(l.AWB), Amount: l.Amount}
	}
	return dto
}

func toFailureDTOs(failed []finance.Failure) []FailureDTO {
	out := make([]FailureDTO, len(failed))
	for i, f := range failed {
		out[i] = FailureDTO{AWB: string(f.AWB), Reason: f.Reason}
		if f.Err != nil {
			out[i].Error = f.Err.Error()
		}
	}
	return out
}

func toDocumentResultDTO(r finance.DocumentResult) DocumentResultDTO {
	dto := DocumentResultDTO{
		Status:   string(r.Status),
		Document: toDocumentDTO(r.Document),
		Entries:  toEntryDTOs(r.Entries),
		Updated:  awbStrings(r.Updated),
		Failed:   toFailureDTOs(r.Failed),
	}
	if len(r.Reverted) > 0 {
		dto.Reverted = awbStrings(r.Reverted)
	}
	return dto
}

func toDeleteResultDTO(r finance.DeleteResult) DeleteResultDTO {
	return DeleteResultDTO{
		Status:    string(r.Status),
		Document:  toDocumentDTO(r.Document),
		Reversals: toEntryDTOs(r.Reversals),
		Reverted:  awbStrings(r.Reverted),
		Skipped:   awbStrings(r.Skipped),
		Failed:    toFailureDTOs(r.Failed),
	}
}

func toClubDTO(c finance.ClubBatch) ClubDTO {
	return ClubDTO{
		ClubNo: c.ClubNo,
		AWBs:   awbStrings(c.AWBs),
		RunNo:  c.RunNo,
		Date:   c.Date.UTC().Format(dateLayout),
	}
}

func toClubResultDTO(r finance.ClubResult) ClubResultDTO {
	dto := ClubResultDTO{
		Status:     string(r.Status),
		ClubNo:     r.ClubNo,
		Added:      awbStrings(r.Added),
		Removed:    awbStrings(r.Removed),
		Reassigned: make([]ReassignmentDTO, len(r.Reassigned)),
		Failed:     toFailureDTOs(r.Failed),
	}
	for i, ra := range r.Reassigned {
		dto.Reassigned[i] = ReassignmentDTO{AWB: string(ra.AWB), FromClub: ra.FromClub}
	}
	if len(r.Desynced) > 0 {
		dto.Desynced = awbStrings(r.Desynced)
	}
	return dto
}

func toSweepRunDTO(r finance.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:          r.ID,
		Status:      r.Status,
		Repair:      r.Repair,
		Findings:    r.Findings,
		Repaired:    r.Repaired,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func toDriftFindingDTOs(findings []finance.DriftFinding) []DriftFindingDTO {
	out := make([]DriftFindingDTO, len(findings))
	for i, f := range findings {
		out[i] = DriftFindingDTO{
			Kind:     string(f.Kind),
			AWB:      string(f.AWB),
			Expected: f.Expected,
			Actual:   f.Actual,
			Repaired: f.Repaired,
			Error:    f.Error,
		}
	}
	return out
}

func awbStrings(awbs []finance.AWB) []string {
	out := make([]string, len(awbs))
	for i, a := range awbs {
		out[i] = string(a)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
