package gateway

import (
	"context"

	"bollette/internal/core"
)

// Query describes a read against a Transport. Rows come back in
// core.LessBill order.
type Query struct {
	Filter core.FilterSpec
	Offset int
	Limit  int // 0 means no limit

	// WithCount asks for the exact number of rows matching Filter,
	// independent of Offset and Limit.
	WithCount bool

	// CountOnly skips rows entirely; only Result.Count is filled.
	CountOnly bool

	// AmountsOnly allows the transport to fill only Bill.Amount.
	AmountsOnly bool
}

type Result struct {
	Rows  []core.Bill
	Count *int
}

// Transport is the wire to a remote collection. Implementations translate
// their own failures into the core taxonomy:
//   - rejected credentials wrap core.ErrSessionInvalid
//   - missing rows wrap core.ErrNotFound
//   - missing aggregation capabilities wrap core.ErrAggregationUnsupported
//
// Network and timeout failures may be returned raw; the Gateway classifies them.
type Transport interface {
	Select(ctx context.Context, q Query) (Result, error)
	Get(ctx context.Context, id string) (core.Bill, error)
	Insert(ctx context.Context, in core.BillInput) (core.Bill, error)
	Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error)
	Delete(ctx context.Context, id string) error

	// Summarize runs the single-shot server-side aggregate.
	Summarize(ctx context.Context, f core.FilterSpec) (core.Summary, error)

	// Sum returns the server-side sum of amounts.
	Sum(ctx context.Context, f core.FilterSpec) (core.Money, error)
}

// SessionSource reports the current session, nil when signed out.
type SessionSource interface {
	Current(ctx context.Context) (*core.Session, error)
}
