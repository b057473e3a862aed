// Package store keeps the visible, filtered and paginated bill list consistent
// with the remote collection.
//
// Local mutations are applied optimistically and rolled back to an exact
// snapshot on failure. Page loads and summary computations carry a
// generation so that superseded responses are dropped on arrival. Remote
// changes arrive as Refresh calls; pending optimistic entries are laid over
// every refreshed page until their own mutation settles.
package store

import (
	"context"
	"fmt"
	"sync"

	"bollette/internal/core"
	"bollette/internal/gateway"
	"bollette/internal/log"
)

const DefaultPageSize = 25

// Gateway is the subset of the remote collection gateway used by the store.
type Gateway interface {
	Query(ctx context.Context, f core.FilterSpec, page core.PageRequest) (gateway.Page, error)
	Insert(ctx context.Context, in core.BillInput) (core.Bill, error)
	Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error)
	Remove(ctx context.Context, id string) error
}

type SummaryResolver interface {
	Resolve(ctx context.Context, f core.FilterSpec) (core.Summary, error)
	Invalidate()
}

// Guard wraps every remote call; *session.Interceptor implements it.
type Guard interface {
	Run(ctx context.Context, op func(ctx context.Context) error) error
}

type passthrough struct{}

func (passthrough) Run(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

// PageState tracks pagination of the visible list. Offset is the offset of
// the last confirmed page. HasMore is true while the server holds rows past
// the loaded window.
type PageState struct {
	Offset     int
	PageSize   int
	HasMore    bool
	TotalCount *int
}

// SummaryState keeps the previous figures visible while Stale.
type SummaryState struct {
	TotalCount  int
	TotalAmount core.Money
	Latest      *core.Bill
	Stale       bool
	Err         string
}

// View is an immutable snapshot of the store.
type View struct {
	Bills       []core.Bill
	Filter      core.FilterSpec
	Page        PageState
	Summary     SummaryState
	Loading     bool
	LoadingMore bool
	Pending     int
	LastError   string
}

type Options struct {
	PageSize  int
	NewTempID func() string
}

type Store struct {
	gateway  Gateway
	resolver SummaryResolver
	guard    Guard
	logger   *log.Logger

	pageSize  int
	newTempID func() string

	mu           sync.Mutex
	filter       core.FilterSpec
	bills        []core.Bill
	page         PageState
	windowEnd    int
	lastPageFull bool
	summary      SummaryState
	loading      bool
	loadingMore  bool
	lastErr      string
	generation   uint64
	summaryGen   uint64
	pending      map[string]*MutationRecord
	seq          uint64
	listeners    map[int]func(View)
	nextListener int
}

func New(gw Gateway, resolver SummaryResolver, guard Guard, opts Options, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	if guard == nil {
		guard = passthrough{}
	}
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > core.MaxPageSize {
		size = core.MaxPageSize
	}
	newID := opts.NewTempID
	if newID == nil {
		newID = core.NewTempID
	}
	return &Store{
		gateway:   gw,
		resolver:  resolver,
		guard:     guard,
		logger:    logger.WithComponent(log.ComponentStore),
		pageSize:  size,
		newTempID: newID,
		page:      PageState{PageSize: size},
		pending:   make(map[string]*MutationRecord),
		listeners: make(map[int]func(View)),
	}
}

// View returns a snapshot of the current state.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() View {
	bills := make([]core.Bill, len(s.bills))
	copy(bills, s.bills)

	page := s.page
	if s.page.TotalCount != nil {
		total := *s.page.TotalCount
		page.TotalCount = &total
	}
	summary := s.summary
	if s.summary.Latest != nil {
		latest := *s.summary.Latest
		summary.Latest = &latest
	}

	return View{
		Bills:       bills,
		Filter:      s.filter,
		Page:        page,
		Summary:     summary,
		Loading:     s.loading,
		LoadingMore: s.loadingMore,
		Pending:     len(s.pending),
		LastError:   s.lastErr,
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// The returned function removes it.
func (s *Store) Subscribe(fn func(View)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) emit() {
	s.mu.Lock()
	v := s.viewLocked()
	fns := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// SetFilter replaces the filter and reloads page zero with its count and
// the summary. Loads still in flight for the previous filter are discarded
// when they land.
func (s *Store) SetFilter(ctx context.Context, f core.FilterSpec) error {
	if err := f.Validate(); err != nil {
		s.fail(err)
		return err
	}

	return s.reload(ctx, &f)
}

// Refresh reloads page zero of the active filter and recomputes the summary.
// It is the target of remote change notifications.
func (s *Store) Refresh(ctx context.Context) error {
	s.resolver.Invalidate()
	return s.reload(ctx, nil)
}

// reload switches to filter when non-nil and loads page zero. Bumping both
// generations here drops any page or summary still in flight.
func (s *Store) reload(ctx context.Context, filter *core.FilterSpec) error {
	s.mu.Lock()
	if filter != nil {
		s.filter = *filter
	}
	s.generation++
	s.summaryGen++
	gen := s.generation
	f := s.filter
	s.loading = true
	s.loadingMore = false
	s.mu.Unlock()
	s.emit()

	var page gateway.Page
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		page, err = s.gateway.Query(ctx, f, core.PageRequest{Offset: 0, Limit: s.pageSize, WithCount: true})
		return err
	})

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Discarding superseded page", log.FieldGeneration, gen)
		return nil
	}
	s.loading = false
	if err != nil {
		s.lastErr = core.UserMessage(err)
		s.mu.Unlock()
		s.emit()
		s.logger.WarnContext(ctx, "Page load failed", log.NewFields().WithOperation(log.OpQuery).WithError(err).ToSlice()...)
		return fmt.Errorf("load bills: %w", err)
	}

	s.bills = s.applyOverlaysLocked(page.Rows)
	s.page = PageState{Offset: 0, PageSize: s.pageSize, TotalCount: page.Total}
	s.windowEnd = len(page.Rows)
	s.lastPageFull = len(page.Rows) == s.pageSize
	s.page.HasMore = s.hasMoreLocked()
	s.lastErr = ""
	s.mu.Unlock()
	s.emit()

	s.logger.DebugContext(ctx, "Page loaded", log.NewFields().WithPage(0, s.pageSize, len(page.Rows)).ToSlice()...)

	if err := s.recomputeSummary(ctx, gen, page.Total); err != nil {
		return fmt.Errorf("resolve summary: %w", err)
	}
	return nil
}

// LoadMore appends the next page. It is a no-op when nothing more is known
// to exist or another load is in flight.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.page.HasMore || s.loading || s.loadingMore {
		s.mu.Unlock()
		return nil
	}
	s.loadingMore = true
	gen := s.generation
	f := s.filter
	offset := s.windowEnd
	s.mu.Unlock()
	s.emit()

	var page gateway.Page
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		page, err = s.gateway.Query(ctx, f, core.PageRequest{Offset: offset, Limit: s.pageSize})
		return err
	})

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.loadingMore = false
	if err != nil {
		s.lastErr = core.UserMessage(err)
		s.mu.Unlock()
		s.emit()
		s.logger.WarnContext(ctx, "Page load failed", log.NewFields().WithOperation(log.OpLoadMore).WithError(err).ToSlice()...)
		return fmt.Errorf("load more bills: %w", err)
	}

	// Rows shifted by confirmed local inserts may come back twice.
	for _, b := range page.Rows {
		if indexOf(s.bills, b.ID) < 0 && !s.hiddenLocked(b.ID) {
			s.bills = append(s.bills, b)
		}
	}
	s.page.Offset = offset
	s.windowEnd = offset + len(page.Rows)
	s.lastPageFull = len(page.Rows) == s.pageSize
	if !s.lastPageFull && s.page.TotalCount != nil {
		// A short page ends the collection.
		end := s.windowEnd
		s.page.TotalCount = &end
	}
	s.page.HasMore = s.hasMoreLocked()
	s.lastErr = ""
	s.mu.Unlock()
	s.emit()

	s.logger.DebugContext(ctx, "Page appended", log.NewFields().WithPage(offset, s.pageSize, len(page.Rows)).ToSlice()...)
	return nil
}

// recomputeSummary resolves the summary for the active filter. Results
// landing after a newer computation started are dropped. pageTotal is the
// count of a freshly loaded page zero: it stays the page total, and a
// memoized summary that disagrees with it is resolved again. Without it the
// summary count becomes the page total.
func (s *Store) recomputeSummary(ctx context.Context, listGen uint64, pageTotal *int) error {
	s.mu.Lock()
	s.summaryGen++
	gen := s.summaryGen
	f := s.filter
	s.summary.Stale = true
	s.mu.Unlock()
	s.emit()

	var sum core.Summary
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		sum, err = s.resolver.Resolve(ctx, f)
		if err == nil && pageTotal != nil && sum.TotalCount != *pageTotal {
			s.resolver.Invalidate()
			sum, err = s.resolver.Resolve(ctx, f)
		}
		return err
	})

	s.mu.Lock()
	if gen != s.summaryGen {
		s.mu.Unlock()
		return nil
	}
	s.summary.Stale = false
	if err != nil {
		s.summary.Err = core.UserMessage(err)
		s.mu.Unlock()
		s.emit()
		s.logger.WarnContext(ctx, "Summary failed", log.NewFields().WithOperation(log.OpSummary).WithError(err).ToSlice()...)
		return err
	}
	s.summary = SummaryState{
		TotalCount:  sum.TotalCount,
		TotalAmount: sum.TotalAmount,
		Latest:      sum.Latest,
	}
	if listGen == s.generation && pageTotal == nil {
		total := sum.TotalCount
		s.page.TotalCount = &total
		s.page.HasMore = s.hasMoreLocked()
	}
	s.mu.Unlock()
	s.emit()
	return nil
}

// hasMoreLocked compares the end of the loaded server window with the known
// total and falls back to the full-page heuristic without one.
func (s *Store) hasMoreLocked() bool {
	if s.page.TotalCount != nil {
		return s.windowEnd < *s.page.TotalCount
	}
	return s.lastPageFull
}

// windowCoversLocked reports whether b sorts inside the loaded server window.
// Rows shown optimistically and b itself are ignored.
func (s *Store) windowCoversLocked(b core.Bill) bool {
	if !s.hasMoreLocked() {
		return true
	}
	for i := len(s.bills) - 1; i >= 0; i-- {
		last := s.bills[i]
		if last.ID == b.ID || core.IsTemporaryID(last.ID) {
			continue
		}
		return core.LessBill(b, last)
	}
	return false
}

// shrinkWindowLocked accounts for a row that left the loaded server window.
func (s *Store) shrinkWindowLocked() {
	if s.windowEnd > 0 {
		s.windowEnd--
	}
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	s.lastErr = core.UserMessage(err)
	s.mu.Unlock()
	s.emit()
}

func indexOf(bills []core.Bill, id string) int {
	for i, b := range bills {
		if b.ID == id {
			return i
		}
	}
	return -1
}
