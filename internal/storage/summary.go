package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bollette/internal/core"
)

// SQLSTATE undefined_function
const pgUndefinedFunction = "42883"

// summaryFilters is the jsonb argument of bills_summary.
type summaryFilters struct {
	Category       string `json:"category,omitempty"`
	BillingMonth   int    `json:"billingMonth,omitempty"`
	BillingYear    int    `json:"billingYear,omitempty"`
	DateFrom       string `json:"dateFrom,omitempty"`
	DateTo         string `json:"dateTo,omitempty"`
	AmountMinCents *int64 `json:"amountMinCents,omitempty"`
	AmountMaxCents *int64 `json:"amountMaxCents,omitempty"`
}

func newSummaryFilters(f core.FilterSpec) summaryFilters {
	out := summaryFilters{
		Category:     f.Category,
		BillingMonth: f.BillingMonth,
		BillingYear:  f.BillingYear,
		DateFrom:     f.DateFrom.String(),
		DateTo:       f.DateTo.String(),
	}
	if f.AmountMin != nil {
		v := f.AmountMin.Cents
		out.AmountMinCents = &v
	}
	if f.AmountMax != nil {
		v := f.AmountMax.Cents
		out.AmountMaxCents = &v
	}
	return out
}

// Summarize runs bills_summary on PostgreSQL. SQLite has no server-side
// functions and always reports the capability as missing.
func (r *Repository) Summarize(ctx context.Context, f core.FilterSpec) (core.Summary, error) {
	if r.dialect != Postgres {
		return core.Summary{}, fmt.Errorf("summarize bills: %w", core.ErrAggregationUnsupported)
	}

	filters, err := json.Marshal(newSummaryFilters(f))
	if err != nil {
		return core.Summary{}, fmt.Errorf("encode summary filters: %w", err)
	}

	var (
		sum        core.Summary
		count      int64
		id         sql.NullString
		category   sql.NullString
		month      sql.NullInt64
		year       sql.NullInt64
		date       sql.NullString
		amount     sql.NullInt64
		note       sql.NullString
		insertedAt sql.NullString
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT total_count, total_amount_cents, latest_id, latest_category, latest_billing_month,
		        latest_billing_year, latest_payment_date, latest_amount_cents, latest_note, latest_inserted_at
		   FROM bills_summary($1::jsonb)`, string(filters),
	).Scan(&count, &sum.TotalAmount.Cents, &id, &category, &month, &year, &date, &amount, &note, &insertedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedFunction {
			return core.Summary{}, fmt.Errorf("summarize bills: %w", core.ErrAggregationUnsupported)
		}
		return core.Summary{}, fmt.Errorf("summarize bills: %w", wrapErr(err))
	}
	sum.TotalCount = int(count)

	if id.Valid {
		d, err := core.ParseDate(date.String)
		if err != nil {
			return core.Summary{}, fmt.Errorf("summarize bills: latest: %w", err)
		}
		latest := core.Bill{
			ID:           id.String,
			Category:     category.String,
			BillingMonth: int(month.Int64),
			BillingYear:  int(year.Int64),
			PaymentDate:  d,
			Amount:       core.Money{Cents: amount.Int64},
			Note:         note.String,
		}
		if t, err := time.Parse(time.RFC3339Nano, insertedAt.String); err == nil {
			latest.InsertedAt = t
		}
		sum.Latest = &latest
	}
	return sum, nil
}
