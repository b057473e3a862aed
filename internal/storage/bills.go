package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bollette/internal/core"
	"bollette/internal/gateway"
)

const orderBy = "ORDER BY payment_date DESC, billing_year DESC, billing_month DESC, id ASC"

type rowScanner interface {
	Scan(dest ...any) error
}

// buildWhereClause translates the filter into a WHERE clause and its args.
// Parameters are numbered from start.
func (r *Repository) buildWhereClause(f core.FilterSpec, start int) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, fmt.Sprintf(cond, r.dialect.placeholder(start+len(args))))
		args = append(args, arg)
	}

	if f.Category != "" {
		add("category = %s", f.Category)
	}
	if f.BillingMonth != 0 {
		add("billing_month = %s", f.BillingMonth)
	}
	if f.BillingYear != 0 {
		add("billing_year = %s", f.BillingYear)
	}
	if !f.DateFrom.IsZero() {
		add("payment_date >= %s", f.DateFrom.String())
	}
	if !f.DateTo.IsZero() {
		add("payment_date <= %s", f.DateTo.String())
	}
	if f.AmountMin != nil {
		add("amount_cents >= %s", f.AmountMin.Cents)
	}
	if f.AmountMax != nil {
		add("amount_cents <= %s", f.AmountMax.Cents)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Select implements gateway.Transport.
func (r *Repository) Select(ctx context.Context, q gateway.Query) (gateway.Result, error) {
	where, args := r.buildWhereClause(q.Filter, 1)

	var res gateway.Result
	if q.WithCount || q.CountOnly {
		total, err := r.getTotal(ctx, where, args)
		if err != nil {
			return gateway.Result{}, fmt.Errorf("count bills: %w", wrapErr(err))
		}
		res.Count = &total
		if q.CountOnly {
			return res, nil
		}
		if q.Offset >= total {
			res.Rows = []core.Bill{}
			return res, nil
		}
	}

	query := fmt.Sprintf("SELECT %s FROM bills %s %s", r.dialect.billColumns(), where, orderBy)
	queryArgs := append([]any(nil), args...)
	n := len(args) + 1
	if q.Limit > 0 {
		query += " LIMIT " + r.dialect.placeholder(n)
		queryArgs = append(queryArgs, q.Limit)
		n++
	} else if r.dialect == SQLite && q.Offset > 0 {
		// SQLite only accepts OFFSET after LIMIT
		query += " LIMIT -1"
	}
	if q.Offset > 0 {
		query += " OFFSET " + r.dialect.placeholder(n)
		queryArgs = append(queryArgs, q.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("select bills: %w", wrapErr(err))
	}
	defer rows.Close()

	res.Rows = []core.Bill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return gateway.Result{}, fmt.Errorf("scan bill: %w", err)
		}
		res.Rows = append(res.Rows, b)
	}
	if err := rows.Err(); err != nil {
		return gateway.Result{}, fmt.Errorf("iterate bills: %w", wrapErr(err))
	}
	return res, nil
}

func (r *Repository) getTotal(ctx context.Context, where string, args []any) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bills "+where, args...).Scan(&total)
	return total, err
}

func (r *Repository) Get(ctx context.Context, id string) (core.Bill, error) {
	query := fmt.Sprintf("SELECT %s FROM bills WHERE id = %s", r.dialect.billColumns(), r.dialect.placeholder(1))
	b, err := scanBill(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return core.Bill{}, fmt.Errorf("get bill %s: %w", id, wrapErr(err))
	}
	return b, nil
}

func (r *Repository) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	b := in.Bill(r.newID())
	b.InsertedAt = r.now().UTC()

	ph := make([]string, 8)
	for i := range ph {
		ph[i] = r.dialect.placeholder(i + 1)
	}
	query := fmt.Sprintf(
		"INSERT INTO bills (id, category, billing_month, billing_year, payment_date, amount_cents, note, inserted_at) VALUES (%s)",
		strings.Join(ph, ", "))

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.Category, b.BillingMonth, b.BillingYear, b.PaymentDate.String(), b.Amount.Cents,
		nullString(b.Note), r.timestampArg(b.InsertedAt))
	if err != nil {
		return core.Bill{}, fmt.Errorf("insert bill: %w", wrapErr(err))
	}

	r.logger.InfoContext(ctx, "Bill saved", "id", b.ID, "category", b.Category, "amount_cents", b.Amount.Cents)

	// reread so that server-side rounding of inserted_at is reflected
	return r.Get(ctx, b.ID)
}

func (r *Repository) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", col, r.dialect.placeholder(len(args))))
	}

	if patch.Category != nil {
		set("category", strings.TrimSpace(*patch.Category))
	}
	if patch.BillingMonth != nil {
		set("billing_month", *patch.BillingMonth)
	}
	if patch.BillingYear != nil {
		set("billing_year", *patch.BillingYear)
	}
	if patch.PaymentDate != nil {
		set("payment_date", patch.PaymentDate.String())
	}
	if patch.Amount != nil {
		set("amount_cents", patch.Amount.Cents)
	}
	if patch.Note != nil {
		set("note", nullString(*patch.Note))
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE bills SET %s WHERE id = %s RETURNING %s",
		strings.Join(sets, ", "), r.dialect.placeholder(len(args)), r.dialect.billColumns())

	b, err := scanBill(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return core.Bill{}, fmt.Errorf("update bill %s: %w", id, wrapErr(err))
	}
	return b, nil
}

// Delete removes the row. A missing row is reported as core.ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM bills WHERE id = "+r.dialect.placeholder(1), id)
	if err != nil {
		return fmt.Errorf("delete bill %s: %w", id, wrapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete bill %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) Sum(ctx context.Context, f core.FilterSpec) (core.Money, error) {
	where, args := r.buildWhereClause(f, 1)
	var cents int64
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(amount_cents), 0) FROM bills "+where, args...).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum bills: %w", wrapErr(err))
	}
	return core.Money{Cents: cents}, nil
}

func scanBill(s rowScanner) (core.Bill, error) {
	var (
		b          core.Bill
		date       string
		note       sql.NullString
		insertedAt string
	)
	if err := s.Scan(&b.ID, &b.Category, &b.BillingMonth, &b.BillingYear, &date, &b.Amount.Cents, &note, &insertedAt); err != nil {
		return core.Bill{}, err
	}

	d, err := core.ParseDate(date)
	if err != nil {
		return core.Bill{}, fmt.Errorf("bill %s: %w", b.ID, err)
	}
	b.PaymentDate = d
	b.Note = note.String
	if insertedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, insertedAt)
		if err != nil {
			return core.Bill{}, fmt.Errorf("bill %s: parse inserted_at: %w", b.ID, err)
		}
		b.InsertedAt = t
	}
	return b, nil
}

func (r *Repository) timestampArg(t time.Time) any {
	if r.dialect == Postgres {
		return t
	}
	return t.Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
