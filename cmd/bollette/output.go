package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"bollette/internal/core"
	"bollette/internal/store"
)

type billJSON struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	BillingMonth int    `json:"billing_month"`
	BillingYear  int    `json:"billing_year"`
	PaymentDate  string `json:"payment_date"`
	Amount       string `json:"amount"`
	Note         string `json:"note,omitempty"`
}

type summaryJSON struct {
	TotalCount  int       `json:"total_count"`
	TotalAmount string    `json:"total_amount"`
	Latest      *billJSON `json:"latest,omitempty"`
}

type viewJSON struct {
	Bills      []billJSON  `json:"bills"`
	HasMore    bool        `json:"has_more"`
	TotalCount *int        `json:"total_count,omitempty"`
	Summary    summaryJSON `json:"summary"`
}

func newBillJSON(b core.Bill) billJSON {
	return billJSON{
		ID:           b.ID,
		Category:     b.Category,
		BillingMonth: b.BillingMonth,
		BillingYear:  b.BillingYear,
		PaymentDate:  b.PaymentDate.String(),
		Amount:       b.Amount.String(),
		Note:         b.Note,
	}
}

func newSummaryJSON(s core.Summary) summaryJSON {
	out := summaryJSON{TotalCount: s.TotalCount, TotalAmount: s.TotalAmount.String()}
	if s.Latest != nil {
		latest := newBillJSON(*s.Latest)
		out.Latest = &latest
	}
	return out
}

func newViewJSON(v store.View) viewJSON {
	out := viewJSON{
		Bills:      make([]billJSON, 0, len(v.Bills)),
		HasMore:    v.Page.HasMore,
		TotalCount: v.Page.TotalCount,
		Summary: newSummaryJSON(core.Summary{
			TotalCount:  v.Summary.TotalCount,
			TotalAmount: v.Summary.TotalAmount,
			Latest:      v.Summary.Latest,
		}),
	}
	for _, b := range v.Bills {
		out.Bills = append(out.Bills, newBillJSON(b))
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBills(w io.Writer, bills []core.Bill) {
	if len(bills) == 0 {
		fmt.Fprintln(w, "No bills found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tPERIOD\tPAID\tAMOUNT\tNOTE")
	for _, b := range bills {
		fmt.Fprintf(tw, "%s\t%s\t%02d/%d\t%s\t%s\t%s\n",
			b.ID, b.Category, b.BillingMonth, b.BillingYear, b.PaymentDate, b.Amount, b.Note)
	}
	tw.Flush()
}

func printPageFooter(w io.Writer, v store.View) {
	total := "?"
	if v.Page.TotalCount != nil {
		total = fmt.Sprint(*v.Page.TotalCount)
	}
	fmt.Fprintf(w, "\nShowing %d of %s", len(v.Bills), total)
	if v.Page.HasMore {
		fmt.Fprint(w, " (more available, use --pages)")
	}
	fmt.Fprintln(w)
	if v.Summary.Err != "" {
		fmt.Fprintf(w, "Summary unavailable: %s\n", v.Summary.Err)
		return
	}
	fmt.Fprintf(w, "Total: %s\n", v.Summary.TotalAmount)
}

func printSummary(w io.Writer, s core.Summary) {
	fmt.Fprintf(w, "Bills: %d\nTotal: %s\n", s.TotalCount, s.TotalAmount)
	if s.Latest != nil {
		fmt.Fprintf(w, "Latest: %s %s paid %s\n", s.Latest.Category, s.Latest.Amount, s.Latest.PaymentDate)
	}
}

func printCategories(w io.Writer, cats []core.Category) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER")
	for _, c := range cats {
		owner := c.UserID
		if owner == "" {
			owner = "default"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, owner)
	}
	tw.Flush()
}

func printAttachments(w io.Writer, list []core.Attachment) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No attachments.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tSIZE\tUPLOADED")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", a.ID, a.Kind, a.FileName, a.SizeBytes, a.UploadedAt.Format(time.DateTime))
	}
	tw.Flush()
}

// renderView formats a settled view for the watch command.
func renderView(v store.View) string {
	var buf bytes.Buffer
	printBills(&buf, v.Bills)
	printPageFooter(&buf, v)
	if v.LastError != "" {
		fmt.Fprintf(&buf, "Error: %s\n", v.LastError)
	}
	return buf.String()
}
