// Package core holds the bill domain: bills and their inputs and patches,
// money as integer cents, query filters with their ordering, and the error
// taxonomy shared by every layer.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the wire and storage layout of calendar dates.
	DateLayout = "2006-01-02"

	// TempIDPrefix marks identifiers assigned locally to optimistic inserts.
	TempIDPrefix = "tmp-"

	maxNoteLength     = 500
	maxCategoryLength = 100
)

const (
	AttachmentBill    AttachmentKind = "bill"
	AttachmentPayment AttachmentKind = "payment"
	AttachmentOther   AttachmentKind = "other"
)

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Bill is one recurring payment record.
	Bill struct {
		ID           string
		Category     string // matched against the category vocabulary
		BillingMonth int    // 1-12
		BillingYear  int
		PaymentDate  Date
		Amount       Money
		Note         string // empty means no note
		InsertedAt   time.Time
	}

	// BillInput is the payload used to create a bill.
	BillInput struct {
		Category     string
		BillingMonth int
		BillingYear  int
		PaymentDate  Date
		Amount       Money
		Note         string
	}

	// BillPatch is a partial update; nil fields are left unchanged.
	BillPatch struct {
		Category     *string
		BillingMonth *int
		BillingYear  *int
		PaymentDate  *Date
		Amount       *Money
		Note         *string
	}

	// Summary holds the aggregate figures of a filtered view.
	Summary struct {
		TotalCount  int
		TotalAmount Money
		Latest      *Bill
	}

	// Session is the authenticated identity as seen by the core.
	Session struct {
		UserID      string
		AccessToken string
		ExpiresAt   time.Time
	}

	Category struct {
		ID     string
		Name   string
		UserID string // empty for the shared default vocabulary
	}

	AttachmentKind string

	Attachment struct {
		ID         string
		BillID     string
		Kind       AttachmentKind
		FileName   string
		Path       string
		MimeType   string
		SizeBytes  int64
		UploadedAt time.Time
	}
)

var (
	ErrInvalidMonth    = errors.New("invalid billing month")
	ErrInvalidYear     = errors.New("invalid billing year")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyCategory   = errors.New("empty category")
	ErrInvalidDate     = errors.New("invalid date")
	ErrNoteTooLong     = errors.New("note too long")
	ErrCategoryTooLong = errors.New("category too long")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// String returns the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// NewTempID returns a fresh identifier for a provisional row.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was assigned locally.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

func (in BillInput) Validate() error {
	if strings.TrimSpace(in.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if len(in.Category) > maxCategoryLength {
		return &ValidationError{Field: "category", Err: ErrCategoryTooLong}
	}
	if in.BillingMonth < 1 || in.BillingMonth > 12 {
		return &ValidationError{Field: "billing_month", Err: ErrInvalidMonth}
	}
	if in.BillingYear < 1 {
		return &ValidationError{Field: "billing_year", Err: ErrInvalidYear}
	}
	if err := in.PaymentDate.Validate(); err != nil {
		return &ValidationError{Field: "payment_date", Err: ErrInvalidDate}
	}
	if err := in.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if len(in.Note) > maxNoteLength {
		return &ValidationError{Field: "note", Err: ErrNoteTooLong}
	}
	return nil
}

// Bill builds the provisional row shown while the insert is in flight.
func (in BillInput) Bill(id string) Bill {
	return Bill{
		ID:           id,
		Category:     strings.TrimSpace(in.Category),
		BillingMonth: in.BillingMonth,
		BillingYear:  in.BillingYear,
		PaymentDate:  in.PaymentDate,
		Amount:       in.Amount,
		Note:         in.Note,
	}
}

// IsEmpty reports whether the patch changes nothing.
func (p BillPatch) IsEmpty() bool {
	return p.Category == nil && p.BillingMonth == nil && p.BillingYear == nil &&
		p.PaymentDate == nil && p.Amount == nil && p.Note == nil
}

func (p BillPatch) Validate() error {
	if p.Category != nil {
		if strings.TrimSpace(*p.Category) == "" {
			return &ValidationError{Field: "category", Err: ErrEmptyCategory}
		}
		if len(*p.Category) > maxCategoryLength {
			return &ValidationError{Field: "category", Err: ErrCategoryTooLong}
		}
	}
	if p.BillingMonth != nil && (*p.BillingMonth < 1 || *p.BillingMonth > 12) {
		return &ValidationError{Field: "billing_month", Err: ErrInvalidMonth}
	}
	if p.BillingYear != nil && *p.BillingYear < 1 {
		return &ValidationError{Field: "billing_year", Err: ErrInvalidYear}
	}
	if p.PaymentDate != nil && p.PaymentDate.Validate() != nil {
		return &ValidationError{Field: "payment_date", Err: ErrInvalidDate}
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return &ValidationError{Field: "amount", Err: err}
		}
	}
	if p.Note != nil && len(*p.Note) > maxNoteLength {
		return &ValidationError{Field: "note", Err: ErrNoteTooLong}
	}
	return nil
}

// Apply returns a copy of b with the patch applied.
func (b Bill) Apply(p BillPatch) Bill {
	out := b
	if p.Category != nil {
		out.Category = strings.TrimSpace(*p.Category)
	}
	if p.BillingMonth != nil {
		out.BillingMonth = *p.BillingMonth
	}
	if p.BillingYear != nil {
		out.BillingYear = *p.BillingYear
	}
	if p.PaymentDate != nil {
		out.PaymentDate = *p.PaymentDate
	}
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.Note != nil {
		out.Note = *p.Note
	}
	return out
}

func (k AttachmentKind) IsValid() bool {
	switch k {
	case AttachmentBill, AttachmentPayment, AttachmentOther:
		return true
	default:
		return false
	}
}
