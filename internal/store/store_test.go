package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bollette/internal/core"
	"bollette/internal/gateway"
	"bollette/internal/session"
	"bollette/internal/storage/memory"
	"bollette/internal/summary"
)

type fakeProvider struct {
	mu       sync.Mutex
	session  *core.Session
	signOuts atomic.Int32
}

func (p *fakeProvider) Current(context.Context) (*core.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.signOuts.Add(1)
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	return nil
}

// gate parks one call until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

// controlledGateway wraps a real gateway and can hold individual calls.
type controlledGateway struct {
	Gateway

	mu      sync.Mutex
	gates   map[string]*gate
	queries []core.PageRequest
}

func (c *controlledGateway) hold(key string) *gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gates == nil {
		c.gates = make(map[string]*gate)
	}
	g := newGate()
	c.gates[key] = g
	return g
}

func (c *controlledGateway) pass(key string) {
	c.mu.Lock()
	g, ok := c.gates[key]
	delete(c.gates, key)
	c.mu.Unlock()
	if ok {
		close(g.entered)
		<-g.release
	}
}

func (c *controlledGateway) Query(ctx context.Context, f core.FilterSpec, page core.PageRequest) (gateway.Page, error) {
	c.mu.Lock()
	c.queries = append(c.queries, page)
	c.mu.Unlock()
	// Rows are read before parking so that a held query returns stale data.
	res, err := c.Gateway.Query(ctx, f, page)
	c.pass("query:" + f.Category)
	return res, err
}

func (c *controlledGateway) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	c.pass("insert")
	return c.Gateway.Insert(ctx, in)
}

func (c *controlledGateway) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	c.pass("update:" + id)
	return c.Gateway.Update(ctx, id, patch)
}

func (c *controlledGateway) Remove(ctx context.Context, id string) error {
	c.pass("remove:" + id)
	return c.Gateway.Remove(ctx, id)
}

func (c *controlledGateway) queryLog() []core.PageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.PageRequest(nil), c.queries...)
}

type fixture struct {
	mem      *memory.Store
	provider *fakeProvider
	gw       *controlledGateway
	store    *Store
}

func newFixture(t *testing.T, caps memory.Capabilities, pageSize int, bills ...core.Bill) *fixture {
	t.Helper()
	return newFixtureWithSummary(t, caps, pageSize, summary.Options{}, bills...)
}

func newFixtureWithSummary(t *testing.T, caps memory.Capabilities, pageSize int, opts summary.Options, bills ...core.Bill) *fixture {
	t.Helper()
	mem := memory.New(caps)
	mem.Seed(bills...)
	provider := &fakeProvider{session: &core.Session{UserID: "u1", AccessToken: "t"}}
	gw := &controlledGateway{Gateway: gateway.New(mem, provider, nil)}
	resolver := summary.NewResolver(gateway.New(mem, nil, nil), opts, nil)
	interceptor := session.NewInterceptor(provider, nil)
	t.Cleanup(interceptor.Close)

	var n atomic.Int32
	st := New(gw, resolver, interceptor, Options{
		PageSize:  pageSize,
		NewTempID: func() string { return fmt.Sprintf("%s%d", core.TempIDPrefix, n.Add(1)) },
	}, nil)
	return &fixture{mem: mem, provider: provider, gw: gw, store: st}
}

func bill(id, category string, year, month int, paid core.Date, cents int64) core.Bill {
	return core.Bill{
		ID:           id,
		Category:     category,
		BillingMonth: month,
		BillingYear:  year,
		PaymentDate:  paid,
		Amount:       core.Money{Cents: cents},
		InsertedAt:   time.Date(year, time.Month(month), 1, 8, 30, 0, 0, time.UTC),
	}
}

// scenarioBills: 100.00, 50.00 and 75.00 billed in 2024 plus one 2023 bill.
func scenarioBills() []core.Bill {
	return []core.Bill{
		bill("jan", "Water", 2024, 1, core.NewDate(2024, 1, 5), 10000),
		bill("feb", "Gas", 2024, 2, core.NewDate(2024, 2, 10), 5000),
		bill("mar", "Water", 2024, 3, core.NewDate(2024, 3, 1), 7500),
		bill("dec", "Gas", 2023, 12, core.NewDate(2023, 12, 20), 4200),
	}
}

func ids(bills []core.Bill) []string {
	out := make([]string, len(bills))
	for i, b := range bills {
		out[i] = b.ID
	}
	return out
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the gateway call")
	}
}

func TestEmptyResultHasNoMore(t *testing.T) {
	filters := []core.FilterSpec{
		{},
		{Category: "Internet"},
		{BillingYear: 1999},
		{BillingMonth: 7, BillingYear: 2024},
	}
	for _, f := range filters {
		t.Run(f.Key(), func(t *testing.T) {
			fx := newFixture(t, memory.Capabilities{}, 10)
			if err := fx.store.SetFilter(context.Background(), f); err != nil {
				t.Fatalf("set filter: %v", err)
			}
			v := fx.store.View()
			if v.Page.HasMore {
				t.Error("expected hasMore=false")
			}
			if v.Page.TotalCount == nil || *v.Page.TotalCount != 0 {
				t.Errorf("expected total 0, got %v", v.Page.TotalCount)
			}
			if len(v.Bills) != 0 || v.Summary.TotalCount != 0 {
				t.Errorf("expected empty view, got %+v", v)
			}
		})
	}
}

func TestYearScenarioSummary(t *testing.T) {
	cases := []struct {
		name string
		caps memory.Capabilities
	}{
		{"fast", memory.Capabilities{}},
		{"degraded", memory.Capabilities{NoSummarize: true}},
		{"manual", memory.Capabilities{NoSummarize: true, NoSum: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, tc.caps, 10, scenarioBills()...)
			if err := fx.store.SetFilter(context.Background(), core.FilterSpec{BillingYear: 2024}); err != nil {
				t.Fatalf("set filter: %v", err)
			}
			v := fx.store.View()
			if got := ids(v.Bills); !reflect.DeepEqual(got, []string{"mar", "feb", "jan"}) {
				t.Fatalf("unexpected order %v", got)
			}
			if v.Summary.TotalAmount.String() != "225.00" || v.Summary.TotalCount != 3 {
				t.Fatalf("unexpected summary %+v", v.Summary)
			}
			if v.Summary.Latest == nil || v.Summary.Latest.ID != "mar" {
				t.Fatalf("expected latest mar, got %+v", v.Summary.Latest)
			}
			if v.Summary.Stale || v.Loading {
				t.Fatal("view should be settled")
			}
		})
	}
}

func TestInsertRoundTrip(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{BillingYear: 2024})

	in := core.BillInput{
		Category:     "Electricity",
		BillingMonth: 4,
		BillingYear:  2024,
		PaymentDate:  core.NewDate(2024, 4, 2),
		Amount:       core.Money{Cents: 3000},
	}
	g := fx.gw.hold("insert")
	done := make(chan error, 1)
	var created core.Bill
	go func() {
		var err error
		created, err = fx.store.Insert(ctx, in)
		done <- err
	}()

	waitFor(t, g.entered)
	v := fx.store.View()
	if len(v.Bills) != 4 || !core.IsTemporaryID(v.Bills[0].ID) || v.Pending != 1 {
		t.Fatalf("expected provisional row on top, got %v", ids(v.Bills))
	}
	if v.Summary.TotalCount != 3 {
		t.Fatal("summary must not include an unconfirmed row")
	}
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("insert: %v", err)
	}

	v = fx.store.View()
	if v.Bills[0].ID != created.ID || core.IsTemporaryID(created.ID) {
		t.Fatalf("expected server row on top, got %v", ids(v.Bills))
	}
	count := 0
	for _, b := range v.Bills {
		if core.IsTemporaryID(b.ID) {
			t.Fatalf("temporary id left behind: %v", ids(v.Bills))
		}
		if b.ID == created.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one confirmed row, found %d", count)
	}
	if v.Summary.TotalCount != 4 || v.Summary.TotalAmount.String() != "255.00" {
		t.Fatalf("summary not recomputed: %+v", v.Summary)
	}
	if v.Pending != 0 {
		t.Fatalf("pending = %d", v.Pending)
	}
}

func TestInsertFailureRemovesProvisionalRow(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})
	before := fx.store.View()

	fx.mem.FailWith(func(op string) error {
		if op == "insert" {
			return &core.TransientError{Op: "insert", Err: errors.New("connection reset")}
		}
		return nil
	})
	_, err := fx.store.Insert(ctx, core.BillInput{
		Category: "Gas", BillingMonth: 5, BillingYear: 2024,
		PaymentDate: core.NewDate(2024, 5, 1), Amount: core.Money{Cents: 100},
	})
	if !errors.Is(err, core.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	after := fx.store.View()
	if !reflect.DeepEqual(after.Bills, before.Bills) {
		t.Fatalf("rows changed: %v -> %v", ids(before.Bills), ids(after.Bills))
	}
	if after.LastError == "" || !reflect.DeepEqual(after.Summary, before.Summary) {
		t.Fatalf("unexpected state after failure: %+v", after)
	}
}

func TestInsertRejectsInvalidInputBeforeShowingIt(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10)
	_, err := fx.store.Insert(context.Background(), core.BillInput{Category: "Gas", BillingMonth: 13, BillingYear: 2024})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fx.store.View().Bills) != 0 || fx.mem.Calls("insert") != 0 {
		t.Fatal("invalid input must not reach the list or the transport")
	}
}

func TestUpdateRollbackRestoresExactRow(t *testing.T) {
	seed := scenarioBills()
	seed[1].Note = "paid at the post office"
	fx := newFixture(t, memory.Capabilities{}, 10, seed...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})
	prior := fx.store.View().Bills[1]
	if prior.ID != "feb" {
		t.Fatalf("unexpected row %s", prior.ID)
	}

	fx.mem.FailWith(func(op string) error {
		if op == "update" {
			return &core.TransientError{Op: "update", Err: errors.New("timeout")}
		}
		return nil
	})

	category, month, note := "Electricity", 11, ""
	amount := core.Money{Cents: 1}
	paid := core.NewDate(2020, 1, 1)
	patches := []core.BillPatch{
		{Amount: &amount},
		{Category: &category, BillingMonth: &month, Note: &note, Amount: &amount, PaymentDate: &paid},
	}
	for i, patch := range patches {
		if _, err := fx.store.Update(ctx, "feb", patch); err == nil {
			t.Fatalf("patch %d: expected failure", i)
		}
		got := fx.store.View().Bills[1]
		if !reflect.DeepEqual(got, prior) {
			t.Fatalf("patch %d: row not restored:\n got %+v\nwant %+v", i, got, prior)
		}
	}
}

func TestUpdateAppliesOptimisticallyThenConfirms(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{BillingYear: 2024})

	amount := core.Money{Cents: 12500}
	g := fx.gw.hold("update:jan")
	done := make(chan error, 1)
	go func() {
		_, err := fx.store.Update(ctx, "jan", core.BillPatch{Amount: &amount})
		done <- err
	}()

	waitFor(t, g.entered)
	v := fx.store.View()
	if v.Bills[2].Amount != amount {
		t.Fatalf("patch not shown while in flight: %+v", v.Bills[2])
	}
	if v.Summary.TotalAmount.String() != "225.00" {
		t.Fatal("summary must wait for confirmation")
	}
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := fx.store.View().Summary.TotalAmount.String(); got != "250.00" {
		t.Fatalf("expected 250.00 after confirmation, got %s", got)
	}
}

func TestConfirmedRowLeavingFilterIsDropped(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{Category: "Water"})

	gas := "Gas"
	if _, err := fx.store.Update(ctx, "jan", core.BillPatch{Category: &gas}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v := fx.store.View()
	if got := ids(v.Bills); !reflect.DeepEqual(got, []string{"mar"}) {
		t.Fatalf("expected only mar, got %v", got)
	}
	if v.Summary.TotalCount != 1 || *v.Page.TotalCount != 1 {
		t.Fatalf("totals not adjusted: %+v %v", v.Summary, *v.Page.TotalCount)
	}
}

func TestDeleteRollbackRestoresIndex(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})
	before := fx.store.View().Bills

	fx.mem.FailWith(func(op string) error {
		if op == "delete" {
			return &core.TransientError{Op: "delete", Err: errors.New("unreachable")}
		}
		return nil
	})
	if err := fx.store.Delete(ctx, "feb"); !errors.Is(err, core.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if after := fx.store.View().Bills; !reflect.DeepEqual(after, before) {
		t.Fatalf("order not restored: %v -> %v", ids(before), ids(after))
	}
}

func TestGenerationGuardDiscardsSupersededPage(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()

	g := fx.gw.hold("query:Water")
	doneA := make(chan error, 1)
	go func() { doneA <- fx.store.SetFilter(ctx, core.FilterSpec{Category: "Water"}) }()
	waitFor(t, g.entered)

	if err := fx.store.SetFilter(ctx, core.FilterSpec{Category: "Gas"}); err != nil {
		t.Fatalf("filter B: %v", err)
	}
	close(g.release)
	if err := <-doneA; err != nil {
		t.Fatalf("filter A: %v", err)
	}

	v := fx.store.View()
	if v.Filter.Category != "Gas" {
		t.Fatalf("expected filter B, got %+v", v.Filter)
	}
	if got := ids(v.Bills); !reflect.DeepEqual(got, []string{"feb", "dec"}) {
		t.Fatalf("expected B rows only, got %v", got)
	}
	if v.Summary.TotalCount != 2 || v.Loading {
		t.Fatalf("unexpected state %+v", v)
	}
}

func TestLoadMore(t *testing.T) {
	var seed []core.Bill
	for i := 1; i <= 5; i++ {
		seed = append(seed, bill(fmt.Sprintf("b%d", i), "Water", 2024, i, core.NewDate(2024, i, 1), 1000))
	}
	fx := newFixture(t, memory.Capabilities{}, 2, seed...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})

	for want := 4; want <= 6; want += 2 {
		if !fx.store.View().Page.HasMore {
			t.Fatal("expected more pages")
		}
		if err := fx.store.LoadMore(ctx); err != nil {
			t.Fatalf("load more: %v", err)
		}
		if n := len(fx.store.View().Bills); n != min(want, 5) {
			t.Fatalf("expected %d rows, got %d", min(want, 5), n)
		}
	}

	v := fx.store.View()
	if v.Page.HasMore || v.Page.Offset != 4 {
		t.Fatalf("unexpected page state %+v", v.Page)
	}
	if got := ids(v.Bills); !reflect.DeepEqual(got, []string{"b5", "b4", "b3", "b2", "b1"}) {
		t.Fatalf("unexpected order %v", got)
	}
	for i, q := range fx.gw.queryLog() {
		if q.WithCount != (q.Offset == 0) {
			t.Errorf("query %d: count requested=%v at offset %d", i, q.WithCount, q.Offset)
		}
	}
}

func TestLoadMoreWithoutMoreIsNoop(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})

	before := fx.store.View()
	calls := fx.mem.Calls("select")
	if before.Page.HasMore {
		t.Fatal("expected hasMore=false")
	}
	if err := fx.store.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}
	if fx.mem.Calls("select") != calls {
		t.Fatal("load more issued a query")
	}
	if after := fx.store.View(); !reflect.DeepEqual(after, before) {
		t.Fatal("state changed")
	}
}

// loadAll pages until the store reports nothing more, failing if that never
// happens.
func loadAll(t *testing.T, st *Store) {
	t.Helper()
	for i := 0; st.View().Page.HasMore; i++ {
		if i == 10 {
			t.Fatalf("hasMore still true after %d pages: %+v", i, st.View().Page)
		}
		if err := st.LoadMore(context.Background()); err != nil {
			t.Fatalf("load more: %v", err)
		}
	}
}

func TestLoadMoreAfterConfirmedMutations(t *testing.T) {
	var seed []core.Bill
	for i := 1; i <= 4; i++ {
		seed = append(seed, bill(fmt.Sprintf("b%d", i), "Water", 2024, i, core.NewDate(2024, i, 1), 1000))
	}
	gas := "Gas"
	older := core.NewDate(2023, 6, 1)
	newest := core.BillInput{Category: "Water", BillingMonth: 5, BillingYear: 2024, PaymentDate: core.NewDate(2024, 5, 1), Amount: core.Money{Cents: 1000}}
	oldest := core.BillInput{Category: "Water", BillingMonth: 5, BillingYear: 2023, PaymentDate: core.NewDate(2023, 5, 1), Amount: core.Money{Cents: 1000}}

	cases := []struct {
		name     string
		mutate   func(ctx context.Context, st *Store) error
		wantRows int
		wantIDs  []string
	}{
		{
			name:     "delete visible row",
			mutate:   func(ctx context.Context, st *Store) error { return st.Delete(ctx, "b4") },
			wantRows: 3,
			wantIDs:  []string{"b3", "b2", "b1"},
		},
		{
			name:     "delete row outside window",
			mutate:   func(ctx context.Context, st *Store) error { return st.Delete(ctx, "b1") },
			wantRows: 3,
			wantIDs:  []string{"b4", "b3", "b2"},
		},
		{
			name: "insert inside window",
			mutate: func(ctx context.Context, st *Store) error {
				_, err := st.Insert(ctx, newest)
				return err
			},
			wantRows: 5,
		},
		{
			name: "insert past window",
			mutate: func(ctx context.Context, st *Store) error {
				_, err := st.Insert(ctx, oldest)
				return err
			},
			wantRows: 5,
		},
		{
			name: "update leaving filter",
			mutate: func(ctx context.Context, st *Store) error {
				_, err := st.Update(ctx, "b4", core.BillPatch{Category: &gas})
				return err
			},
			wantRows: 3,
			wantIDs:  []string{"b3", "b2", "b1"},
		},
		{
			name: "update moving past window",
			mutate: func(ctx context.Context, st *Store) error {
				_, err := st.Update(ctx, "b4", core.BillPatch{PaymentDate: &older})
				return err
			},
			wantRows: 4,
			wantIDs:  []string{"b4", "b3", "b2", "b1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, memory.Capabilities{}, 2, seed...)
			ctx := context.Background()
			if err := fx.store.SetFilter(ctx, core.FilterSpec{Category: "Water"}); err != nil {
				t.Fatalf("set filter: %v", err)
			}
			if err := tc.mutate(ctx, fx.store); err != nil {
				t.Fatalf("mutate: %v", err)
			}

			loadAll(t, fx.store)
			selects := fx.mem.Calls("select")
			if err := fx.store.LoadMore(ctx); err != nil {
				t.Fatalf("load more: %v", err)
			}
			if fx.mem.Calls("select") != selects {
				t.Fatal("load more queried after the last page")
			}

			v := fx.store.View()
			if len(v.Bills) != tc.wantRows {
				t.Fatalf("expected %d rows, got %v", tc.wantRows, ids(v.Bills))
			}
			seen := make(map[string]bool)
			for _, b := range v.Bills {
				if seen[b.ID] || core.IsTemporaryID(b.ID) {
					t.Fatalf("unexpected row %s in %v", b.ID, ids(v.Bills))
				}
				seen[b.ID] = true
			}
			if tc.wantIDs != nil && !reflect.DeepEqual(ids(v.Bills), tc.wantIDs) {
				t.Fatalf("expected %v, got %v", tc.wantIDs, ids(v.Bills))
			}
			if v.Page.TotalCount == nil || *v.Page.TotalCount != tc.wantRows {
				t.Fatalf("unexpected total %v", v.Page.TotalCount)
			}
		})
	}
}

func TestFilterRoundTripWithCachedSummary(t *testing.T) {
	fx := newFixtureWithSummary(t, memory.Capabilities{}, 2, summary.Options{CacheTTL: 30 * time.Second},
		bill("b1", "Water", 2024, 1, core.NewDate(2024, 1, 1), 1000),
		bill("b2", "Gas", 2024, 2, core.NewDate(2024, 2, 1), 2000),
	)
	ctx := context.Background()
	if err := fx.store.SetFilter(ctx, core.FilterSpec{}); err != nil {
		t.Fatalf("set filter: %v", err)
	}

	// Written by another client; no change event reaches this store.
	fx.mem.Seed(bill("b3", "Water", 2024, 3, core.NewDate(2024, 3, 1), 3000))

	if err := fx.store.SetFilter(ctx, core.FilterSpec{Category: "Gas"}); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if err := fx.store.SetFilter(ctx, core.FilterSpec{}); err != nil {
		t.Fatalf("set filter: %v", err)
	}

	v := fx.store.View()
	if v.Page.TotalCount == nil || *v.Page.TotalCount != 3 || !v.Page.HasMore {
		t.Fatalf("unexpected page state %+v", v.Page)
	}
	if v.Summary.TotalCount != 3 || v.Summary.TotalAmount.String() != "60.00" {
		t.Fatalf("stale summary %+v", v.Summary)
	}

	loadAll(t, fx.store)
	if got := ids(fx.store.View().Bills); !reflect.DeepEqual(got, []string{"b3", "b2", "b1"}) {
		t.Fatalf("unexpected rows %v", got)
	}
}

func TestChangeEventDuringPendingDelete(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{NoSummarize: true}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{BillingYear: 2024})
	queries := len(fx.gw.queryLog())

	g := fx.gw.hold("remove:feb")
	done := make(chan error, 1)
	go func() { done <- fx.store.Delete(ctx, "feb") }()
	waitFor(t, g.entered)

	// The server still has the row when the notification-driven refresh runs.
	if err := fx.store.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := ids(fx.store.View().Bills); !reflect.DeepEqual(got, []string{"mar", "jan"}) {
		t.Fatalf("pending delete lost by refresh: %v", got)
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}

	v := fx.store.View()
	if got := ids(v.Bills); !reflect.DeepEqual(got, []string{"mar", "jan"}) {
		t.Fatalf("unexpected rows %v", got)
	}
	if v.Summary.TotalCount != 2 || v.Summary.TotalAmount.String() != "175.00" {
		t.Fatalf("removal not reflected exactly once: %+v", v.Summary)
	}
	if v.Page.TotalCount == nil || *v.Page.TotalCount != 2 || v.Page.HasMore {
		t.Fatalf("unexpected page state %+v", v.Page)
	}
	if n := len(fx.gw.queryLog()) - queries; n != 1 {
		t.Fatalf("expected one refresh query, got %d", n)
	}
}

func TestPendingInsertSurvivesRefresh(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})

	g := fx.gw.hold("insert")
	done := make(chan error, 1)
	go func() {
		_, err := fx.store.Insert(ctx, core.BillInput{
			Category: "Gas", BillingMonth: 6, BillingYear: 2024,
			PaymentDate: core.NewDate(2024, 6, 3), Amount: core.Money{Cents: 2000},
		})
		done <- err
	}()
	waitFor(t, g.entered)

	fx.store.Refresh(ctx)
	if v := fx.store.View(); v.Bills[0].ID != "tmp-1" {
		t.Fatalf("provisional row dropped by refresh: %v", ids(v.Bills))
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("insert: %v", err)
	}
	for _, b := range fx.store.View().Bills {
		if core.IsTemporaryID(b.ID) {
			t.Fatalf("temporary row left behind")
		}
	}
}

func TestUpdateWithoutSession(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})
	before := fx.store.View().Bills

	fx.provider.mu.Lock()
	fx.provider.session = nil
	fx.provider.mu.Unlock()

	amount := core.Money{Cents: 1}
	_, err := fx.store.Update(ctx, "jan", core.BillPatch{Amount: &amount})
	if !errors.Is(err, core.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if core.UserMessage(err) != core.SessionExpiredMessage {
		t.Fatalf("unexpected message %q", core.UserMessage(err))
	}
	if fx.mem.Calls("update") != 0 {
		t.Fatal("update reached the transport")
	}
	if n := fx.provider.signOuts.Load(); n != 1 {
		t.Fatalf("expected one sign-out, got %d", n)
	}
	if after := fx.store.View().Bills; !reflect.DeepEqual(after, before) {
		t.Fatal("row not restored")
	}
}

func TestConcurrentMutationOnSameBillIsRejected(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)
	ctx := context.Background()
	fx.store.SetFilter(ctx, core.FilterSpec{})

	amount := core.Money{Cents: 1}
	g := fx.gw.hold("update:mar")
	done := make(chan error, 1)
	go func() {
		_, err := fx.store.Update(ctx, "mar", core.BillPatch{Amount: &amount})
		done <- err
	}()
	waitFor(t, g.entered)

	if err := fx.store.Delete(ctx, "mar"); !errors.Is(err, core.ErrMutationPending) {
		t.Fatalf("expected pending error, got %v", err)
	}
	if fx.mem.Calls("delete") != 0 {
		t.Fatal("second mutation reached the transport")
	}
	// other rows are independent
	if err := fx.store.Delete(ctx, "dec"); err != nil {
		t.Fatalf("delete other row: %v", err)
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := fx.store.Delete(ctx, "mar"); err != nil {
		t.Fatalf("delete after settle: %v", err)
	}
}

func TestMutationsRejectTemporaryIDs(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10)
	if err := fx.store.Delete(context.Background(), "tmp-99"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	fx := newFixture(t, memory.Capabilities{}, 10, scenarioBills()...)

	var mu sync.Mutex
	var views []View
	stop := fx.store.Subscribe(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})

	fx.store.SetFilter(context.Background(), core.FilterSpec{})
	stop()
	mu.Lock()
	seen := len(views)
	mu.Unlock()
	fx.store.Refresh(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(views) != seen {
		t.Error("listener called after unsubscribe")
	}
	if len(views) < 3 {
		t.Fatalf("expected several transitions, got %d", len(views))
	}
	if !views[0].Loading {
		t.Error("first transition should be loading")
	}
	last := views[len(views)-1]
	if last.Loading || last.Summary.Stale || len(last.Bills) != 4 {
		t.Errorf("last transition not settled: %+v", last)
	}
}
