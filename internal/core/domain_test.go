package core

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(NewDate(2024, 3, 1).Time) {
		t.Fatalf("unexpected date %v", d)
	}
	if _, err := ParseDate("01/03/2024"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 0}).Validate(); err != nil {
		t.Fatalf("zero amount should be valid, got %v", err)
	}
	if err := (Money{Cents: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}

func validInput() BillInput {
	return BillInput{
		Category:     "Electricity",
		BillingMonth: 3,
		BillingYear:  2024,
		PaymentDate:  NewDate(2024, 3, 10),
		Amount:       Money{Cents: 4599},
	}
}

func TestBillInputValidate(t *testing.T) {
	if err := validInput().Validate(); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*BillInput)
		field  string
	}{
		{"empty category", func(in *BillInput) { in.Category = "  " }, "category"},
		{"month zero", func(in *BillInput) { in.BillingMonth = 0 }, "billing_month"},
		{"month thirteen", func(in *BillInput) { in.BillingMonth = 13 }, "billing_month"},
		{"year zero", func(in *BillInput) { in.BillingYear = 0 }, "billing_year"},
		{"no payment date", func(in *BillInput) { in.PaymentDate = Date{} }, "payment_date"},
		{"negative amount", func(in *BillInput) { in.Amount = Money{Cents: -5} }, "amount"},
		{"long note", func(in *BillInput) { in.Note = strings.Repeat("x", maxNoteLength+1) }, "note"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			err := in.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, ve.Field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("ValidationError should match ErrValidation")
			}
		})
	}
}

func TestBillApply(t *testing.T) {
	b := validInput().Bill("b1")
	b.Note = "first"

	category := "Gas"
	amount := Money{Cents: 100}
	got := b.Apply(BillPatch{Category: &category, Amount: &amount})

	want := b
	want.Category = "Gas"
	want.Amount = amount
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply mismatch:\n got %+v\nwant %+v", got, want)
	}
	if b.Category != "Electricity" {
		t.Fatal("Apply must not modify the receiver")
	}
	if !reflect.DeepEqual(b.Apply(BillPatch{}), b) {
		t.Fatal("empty patch should be a no-op")
	}
}

func TestBillPatchValidate(t *testing.T) {
	month := 14
	if err := (BillPatch{BillingMonth: &month}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !(BillPatch{}).IsEmpty() {
		t.Fatal("zero patch should be empty")
	}
}

func TestTemporaryIDs(t *testing.T) {
	id := NewTempID()
	if !IsTemporaryID(id) {
		t.Fatalf("%q should be temporary", id)
	}
	if IsTemporaryID("4b0a2a43-2f0e-4c55-9a51-6a1d3c1f2b7e") {
		t.Fatal("server id reported as temporary")
	}
	if NewTempID() == id {
		t.Fatal("temporary ids must be unique")
	}
}
