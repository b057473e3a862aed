package postgrest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bollette/internal/core"
)

// billRow is the JSON shape of a row of the bills table.
type billRow struct {
	ID           string          `json:"id,omitempty"`
	BillType     string          `json:"bill_type"`
	BillingMonth int             `json:"billing_month"`
	BillingYear  int             `json:"billing_year"`
	PaymentDate  string          `json:"payment_date"`
	Amount       decimal.Decimal `json:"amount"`
	Note         *string         `json:"note,omitempty"`
	InsertedAt   string          `json:"inserted_at,omitempty"`
}

func (r billRow) bill() (core.Bill, error) {
	d, err := core.ParseDate(r.PaymentDate)
	if err != nil {
		return core.Bill{}, fmt.Errorf("bill %s: %w", r.ID, err)
	}
	amount, err := core.MoneyFromDecimal(r.Amount)
	if err != nil {
		return core.Bill{}, fmt.Errorf("bill %s: amount %s: %w", r.ID, r.Amount, err)
	}
	b := core.Bill{
		ID:           r.ID,
		Category:     r.BillType,
		BillingMonth: r.BillingMonth,
		BillingYear:  r.BillingYear,
		PaymentDate:  d,
		Amount:       amount,
	}
	if r.Note != nil {
		b.Note = *r.Note
	}
	if r.InsertedAt != "" {
		if t, err := parseTimestamp(r.InsertedAt); err == nil {
			b.InsertedAt = t
		}
	}
	return b, nil
}

func rowFromInput(in core.BillInput) billRow {
	row := billRow{
		BillType:     strings.TrimSpace(in.Category),
		BillingMonth: in.BillingMonth,
		BillingYear:  in.BillingYear,
		PaymentDate:  in.PaymentDate.String(),
		Amount:       in.Amount.Decimal(),
	}
	if in.Note != "" {
		note := in.Note
		row.Note = &note
	}
	return row
}

// patchBody renders only the fields present in the patch. An empty note is
// sent as null.
func patchBody(p core.BillPatch) map[string]any {
	body := map[string]any{}
	if p.Category != nil {
		body["bill_type"] = strings.TrimSpace(*p.Category)
	}
	if p.BillingMonth != nil {
		body["billing_month"] = *p.BillingMonth
	}
	if p.BillingYear != nil {
		body["billing_year"] = *p.BillingYear
	}
	if p.PaymentDate != nil {
		body["payment_date"] = p.PaymentDate.String()
	}
	if p.Amount != nil {
		body["amount"] = p.Amount.Decimal()
	}
	if p.Note != nil {
		if *p.Note == "" {
			body["note"] = nil
		} else {
			body["note"] = *p.Note
		}
	}
	return body
}

// rpcFilters is the "filters" argument of get_bills_summary.
type rpcFilters struct {
	Category     string           `json:"category,omitempty"`
	BillingMonth int              `json:"billingMonth,omitempty"`
	BillingYear  int              `json:"billingYear,omitempty"`
	DateFrom     string           `json:"dateFrom,omitempty"`
	DateTo       string           `json:"dateTo,omitempty"`
	AmountMin    *decimal.Decimal `json:"amountMin,omitempty"`
	AmountMax    *decimal.Decimal `json:"amountMax,omitempty"`
}

func newRPCFilters(f core.FilterSpec) rpcFilters {
	out := rpcFilters{
		Category:     f.Category,
		BillingMonth: f.BillingMonth,
		BillingYear:  f.BillingYear,
		DateFrom:     f.DateFrom.String(),
		DateTo:       f.DateTo.String(),
	}
	if f.AmountMin != nil {
		d := f.AmountMin.Decimal()
		out.AmountMin = &d
	}
	if f.AmountMax != nil {
		d := f.AmountMax.Decimal()
		out.AmountMax = &d
	}
	return out
}

type summaryRow struct {
	TotalCount  *int             `json:"total_count"`
	TotalAmount *decimal.Decimal `json:"total_amount"`
	LatestBill  *billRow         `json:"latest_bill"`
}

// decodeSummary accepts both a single object and a one-element array.
func decodeSummary(data []byte) (core.Summary, error) {
	var row summaryRow
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rows []summaryRow
		if err := json.Unmarshal(data, &rows); err != nil {
			return core.Summary{}, fmt.Errorf("decode summary: %w", err)
		}
		if len(rows) == 0 {
			return core.Summary{}, fmt.Errorf("decode summary: no rows")
		}
		row = rows[0]
	} else if err := json.Unmarshal(data, &row); err != nil {
		return core.Summary{}, fmt.Errorf("decode summary: %w", err)
	}

	var s core.Summary
	if row.TotalCount != nil {
		s.TotalCount = *row.TotalCount
	}
	if row.TotalAmount != nil {
		m, err := core.MoneyFromDecimal(*row.TotalAmount)
		if err != nil {
			return core.Summary{}, fmt.Errorf("decode summary: total amount: %w", err)
		}
		s.TotalAmount = m
	}
	if row.LatestBill != nil {
		b, err := row.LatestBill.bill()
		if err != nil {
			return core.Summary{}, fmt.Errorf("decode summary: latest bill: %w", err)
		}
		s.Latest = &b
	}
	return s, nil
}

// parseContentRange extracts the total from "0-24/123" or "*/0". An
// unknown total ("*") yields ok=false.
func parseContentRange(h string) (int, bool) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// timestamptz without a zone designator
	return time.Parse("2006-01-02T15:04:05.999999", s)
}
