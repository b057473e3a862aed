// Package gateway is the only component that talks to the remote bill
// collection. It validates input, requires a session before writes and
// normalizes transport failures into the core error taxonomy.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"bollette/internal/core"
	"bollette/internal/log"
)

// Page is one window of a filtered query.
type Page struct {
	Rows  []core.Bill
	Total *int // set only when requested
}

type Gateway struct {
	transport Transport
	sessions  SessionSource
	logger    *log.Logger
}

func New(transport Transport, sessions SessionSource, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Discard()
	}
	return &Gateway{
		transport: transport,
		sessions:  sessions,
		logger:    logger.WithComponent(log.ComponentGateway),
	}
}

// Query returns the page of bills matching f, ordered newest first.
func (g *Gateway) Query(ctx context.Context, f core.FilterSpec, page core.PageRequest) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	if err := page.Validate(); err != nil {
		return Page{}, err
	}

	start := time.Now()
	res, err := g.transport.Select(ctx, Query{
		Filter:    f,
		Offset:    page.Offset,
		Limit:     page.Limit,
		WithCount: page.WithCount,
	})
	if err != nil {
		return Page{}, classify("query bills", err)
	}
	if page.WithCount && res.Count == nil {
		return Page{}, fmt.Errorf("query bills: transport returned no count")
	}

	g.logger.DebugContext(ctx, "Bills queried", append(
		log.NewFields().WithPage(page.Offset, page.Limit, len(res.Rows)).ToSlice(),
		log.FieldDuration, time.Since(start).Milliseconds())...)
	return Page{Rows: res.Rows, Total: res.Count}, nil
}

// Insert creates a bill and returns the server row with its final id.
func (g *Gateway) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	if err := in.Validate(); err != nil {
		return core.Bill{}, err
	}
	if err := g.requireSession(ctx); err != nil {
		return core.Bill{}, err
	}

	b, err := g.transport.Insert(ctx, in)
	if err != nil {
		return core.Bill{}, classify("insert bill", err)
	}
	g.logger.InfoContext(ctx, "Bill inserted", log.NewFields().WithBill(b.ID, b.Amount.Cents).ToSlice()...)
	return b, nil
}

// Update applies patch to the bill id and returns the server row.
func (g *Gateway) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	if id == "" || core.IsTemporaryID(id) {
		return core.Bill{}, &core.ValidationError{Field: "id", Err: fmt.Errorf("not a persisted id: %q", id)}
	}
	if err := patch.Validate(); err != nil {
		return core.Bill{}, err
	}
	if err := g.requireSession(ctx); err != nil {
		return core.Bill{}, err
	}

	b, err := g.transport.Update(ctx, id, patch)
	if err != nil {
		return core.Bill{}, classify("update bill", err)
	}
	g.logger.InfoContext(ctx, "Bill updated", log.NewFields().WithBill(b.ID, b.Amount.Cents).ToSlice()...)
	return b, nil
}

// Remove deletes the bill id. Deleting a row that no longer exists succeeds.
func (g *Gateway) Remove(ctx context.Context, id string) error {
	if id == "" || core.IsTemporaryID(id) {
		return &core.ValidationError{Field: "id", Err: fmt.Errorf("not a persisted id: %q", id)}
	}
	if err := g.requireSession(ctx); err != nil {
		return err
	}

	if err := g.transport.Delete(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		return classify("delete bill", err)
	}
	g.logger.InfoContext(ctx, "Bill deleted", log.FieldBillID, id)
	return nil
}

// GetByID returns found=false when the row does not exist.
func (g *Gateway) GetByID(ctx context.Context, id string) (core.Bill, bool, error) {
	b, err := g.transport.Get(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Bill{}, false, nil
	}
	if err != nil {
		return core.Bill{}, false, classify("get bill", err)
	}
	return b, true, nil
}

// Count returns the exact number of bills matching f.
func (g *Gateway) Count(ctx context.Context, f core.FilterSpec) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	res, err := g.transport.Select(ctx, Query{Filter: f, WithCount: true, CountOnly: true})
	if err != nil {
		return 0, classify("count bills", err)
	}
	if res.Count == nil {
		return 0, fmt.Errorf("count bills: transport returned no count")
	}
	return *res.Count, nil
}

// Latest returns the first bill in list order, found=false for an empty set.
func (g *Gateway) Latest(ctx context.Context, f core.FilterSpec) (core.Bill, bool, error) {
	if err := f.Validate(); err != nil {
		return core.Bill{}, false, err
	}
	res, err := g.transport.Select(ctx, Query{Filter: f, Limit: 1})
	if err != nil {
		return core.Bill{}, false, classify("latest bill", err)
	}
	if len(res.Rows) == 0 {
		return core.Bill{}, false, nil
	}
	return res.Rows[0], true, nil
}

// Sum returns the server-side total. Callers must handle
// core.ErrAggregationUnsupported.
func (g *Gateway) Sum(ctx context.Context, f core.FilterSpec) (core.Money, error) {
	if err := f.Validate(); err != nil {
		return core.Money{}, err
	}
	m, err := g.transport.Sum(ctx, f)
	if err != nil {
		return core.Money{}, classify("sum amounts", err)
	}
	return m, nil
}

// Amounts returns the amount of every matching bill.
func (g *Gateway) Amounts(ctx context.Context, f core.FilterSpec) ([]core.Money, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	res, err := g.transport.Select(ctx, Query{Filter: f, AmountsOnly: true})
	if err != nil {
		return nil, classify("list amounts", err)
	}
	out := make([]core.Money, len(res.Rows))
	for i, b := range res.Rows {
		out[i] = b.Amount
	}
	return out, nil
}

// Summarize runs the single-shot aggregate. Callers must handle
// core.ErrAggregationUnsupported.
func (g *Gateway) Summarize(ctx context.Context, f core.FilterSpec) (core.Summary, error) {
	if err := f.Validate(); err != nil {
		return core.Summary{}, err
	}
	s, err := g.transport.Summarize(ctx, f)
	if err != nil {
		return core.Summary{}, classify("summarize bills", err)
	}
	return s, nil
}

func (g *Gateway) requireSession(ctx context.Context) error {
	if g.sessions == nil {
		return nil
	}
	s, err := g.sessions.Current(ctx)
	if err != nil {
		return core.NewSessionExpiredError(err)
	}
	if s == nil {
		return core.NewSessionExpiredError(nil)
	}
	return nil
}

// classify maps a transport failure onto the core taxonomy. Session,
// capability and not-found signals are kept as they are so that callers can
// match them with errors.Is.
func classify(op string, err error) error {
	var te *core.TransientError
	switch {
	case errors.As(err, &te):
		return err
	case core.IsSessionError(err),
		errors.Is(err, core.ErrAggregationUnsupported),
		errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrValidation):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return &core.TransientError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &core.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
