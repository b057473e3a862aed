package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxPageSize bounds a single page request.
	MaxPageSize = 1000
)

// FilterSpec holds the optional predicates of a bill query. The zero value of
// each field means "no constraint", so FilterSpec{} matches every bill.
type FilterSpec struct {
	Category     string
	BillingMonth int
	BillingYear  int
	DateFrom     Date
	DateTo       Date
	AmountMin    *Money
	AmountMax    *Money
}

// PageRequest selects a window of the ordered result set.
type PageRequest struct {
	Offset    int
	Limit     int
	WithCount bool
}

func (f FilterSpec) Validate() error {
	if f.BillingMonth < 0 || f.BillingMonth > 12 {
		return &ValidationError{Field: "billing_month", Err: ErrInvalidMonth}
	}
	if f.BillingYear < 0 {
		return &ValidationError{Field: "billing_year", Err: ErrInvalidYear}
	}
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.String() < f.DateFrom.String() {
		return &ValidationError{Field: "date_to", Err: fmt.Errorf("%w: before date_from", ErrInvalidDate)}
	}
	if f.AmountMin != nil && f.AmountMin.Cents < 0 {
		return &ValidationError{Field: "amount_min", Err: ErrInvalidAmount}
	}
	if f.AmountMax != nil && f.AmountMax.Cents < 0 {
		return &ValidationError{Field: "amount_max", Err: ErrInvalidAmount}
	}
	if f.AmountMin != nil && f.AmountMax != nil && f.AmountMax.Cents < f.AmountMin.Cents {
		return &ValidationError{Field: "amount_max", Err: fmt.Errorf("%w: below amount_min", ErrInvalidAmount)}
	}
	return nil
}

// IsEmpty reports whether the filter has no predicates.
func (f FilterSpec) IsEmpty() bool {
	return f.Category == "" && f.BillingMonth == 0 && f.BillingYear == 0 &&
		f.DateFrom.IsZero() && f.DateTo.IsZero() && f.AmountMin == nil && f.AmountMax == nil
}

// Matches evaluates the filter against a single bill.
func (f FilterSpec) Matches(b Bill) bool {
	if f.Category != "" && b.Category != f.Category {
		return false
	}
	if f.BillingMonth != 0 && b.BillingMonth != f.BillingMonth {
		return false
	}
	if f.BillingYear != 0 && b.BillingYear != f.BillingYear {
		return false
	}
	day := b.PaymentDate.String()
	if !f.DateFrom.IsZero() && day < f.DateFrom.String() {
		return false
	}
	if !f.DateTo.IsZero() && day > f.DateTo.String() {
		return false
	}
	if f.AmountMin != nil && b.Amount.Cents < f.AmountMin.Cents {
		return false
	}
	if f.AmountMax != nil && b.Amount.Cents > f.AmountMax.Cents {
		return false
	}
	return true
}

// Key returns a canonical representation usable as a cache key.
func (f FilterSpec) Key() string {
	var sb strings.Builder
	sb.WriteString("c=")
	sb.WriteString(strconv.Quote(f.Category))
	sb.WriteString(";m=")
	sb.WriteString(strconv.Itoa(f.BillingMonth))
	sb.WriteString(";y=")
	sb.WriteString(strconv.Itoa(f.BillingYear))
	sb.WriteString(";from=")
	sb.WriteString(f.DateFrom.String())
	sb.WriteString(";to=")
	sb.WriteString(f.DateTo.String())
	sb.WriteString(";min=")
	if f.AmountMin != nil {
		sb.WriteString(strconv.FormatInt(f.AmountMin.Cents, 10))
	}
	sb.WriteString(";max=")
	if f.AmountMax != nil {
		sb.WriteString(strconv.FormatInt(f.AmountMax.Cents, 10))
	}
	return sb.String()
}

func (p PageRequest) Validate() error {
	if p.Offset < 0 {
		return &ValidationError{Field: "offset", Err: fmt.Errorf("must be non-negative, got %d", p.Offset)}
	}
	if p.Limit < 1 || p.Limit > MaxPageSize {
		return &ValidationError{Field: "limit", Err: fmt.Errorf("must be between 1 and %d, got %d", MaxPageSize, p.Limit)}
	}
	return nil
}

// LessBill orders bills by payment date, billing year and billing month, all
// descending, with the identifier as ascending tie-break. Every transport
// returns rows in this order.
func LessBill(a, b Bill) bool {
	if da, db := a.PaymentDate.String(), b.PaymentDate.String(); da != db {
		return da > db
	}
	if a.BillingYear != b.BillingYear {
		return a.BillingYear > b.BillingYear
	}
	if a.BillingMonth != b.BillingMonth {
		return a.BillingMonth > b.BillingMonth
	}
	return a.ID < b.ID
}

// SortBills sorts in place using LessBill.
func SortBills(bills []Bill) {
	sort.SliceStable(bills, func(i, j int) bool { return LessBill(bills[i], bills[j]) })
}
