// Package memory is an in-process bill collection used for local runs and
// tests. Capabilities can be switched off to exercise the summary tiers.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bollette/internal/core"
	"bollette/internal/gateway"
)

// Capabilities toggles the optional aggregation paths.
type Capabilities struct {
	NoSummarize bool
	NoSum       bool
}

type Store struct {
	mu    sync.Mutex
	bills map[string]core.Bill
	cats  []core.Category
	caps  Capabilities
	now   func() time.Time
	newID func() string

	// fail, when set, is consulted before every operation.
	fail  func(op string) error
	calls map[string]int
}

func New(caps Capabilities) *Store {
	return &Store{
		bills: make(map[string]core.Bill),
		caps:  caps,
		now:   time.Now,
		newID: uuid.NewString,
		calls: make(map[string]int),
	}
}

// NewFromFiles seeds the category vocabulary from base/seed_categories.txt.
func NewFromFiles(base string, caps Capabilities) *Store {
	s := New(caps)
	names := readLines(filepath.Join(base, "seed_categories.txt"))
	if len(names) == 0 {
		names = []string{"Electricity", "Gas", "Internet", "Water"}
	}
	for _, n := range names {
		s.cats = append(s.cats, core.Category{ID: uuid.NewString(), Name: n})
	}
	return s
}

// Seed stores bills as they are, keeping their ids.
func (s *Store) Seed(bills ...core.Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bills {
		s.bills[b.ID] = b
	}
}

// FailWith installs an error hook. Pass nil to clear it.
func (s *Store) FailWith(fn func(op string) error) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

// SetCapabilities changes the aggregation capabilities at runtime.
func (s *Store) SetCapabilities(caps Capabilities) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	if s.fail != nil {
		return s.fail(op)
	}
	return nil
}

func (s *Store) Select(ctx context.Context, q gateway.Query) (gateway.Result, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("select"); err != nil {
		return gateway.Result{}, err
	}

	matched := s.matching(q.Filter)
	var res gateway.Result
	if q.WithCount || q.CountOnly {
		n := len(matched)
		res.Count = &n
	}
	if q.CountOnly {
		return res, nil
	}

	if q.Offset >= len(matched) {
		res.Rows = []core.Bill{}
		return res, nil
	}
	end := len(matched)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	res.Rows = append([]core.Bill(nil), matched[q.Offset:end]...)
	return res, nil
}

func (s *Store) Get(ctx context.Context, id string) (core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get"); err != nil {
		return core.Bill{}, err
	}
	b, ok := s.bills[id]
	if !ok {
		return core.Bill{}, fmt.Errorf("bill %s: %w", id, core.ErrNotFound)
	}
	return b, nil
}

func (s *Store) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("insert"); err != nil {
		return core.Bill{}, err
	}
	b := in.Bill(s.newID())
	b.InsertedAt = s.now().UTC()
	s.bills[b.ID] = b
	return b, nil
}

func (s *Store) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("update"); err != nil {
		return core.Bill{}, err
	}
	b, ok := s.bills[id]
	if !ok {
		return core.Bill{}, fmt.Errorf("bill %s: %w", id, core.ErrNotFound)
	}
	b = b.Apply(patch)
	s.bills[id] = b
	return b, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete"); err != nil {
		return err
	}
	delete(s.bills, id)
	return nil
}

func (s *Store) Summarize(ctx context.Context, f core.FilterSpec) (core.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("summarize"); err != nil {
		return core.Summary{}, err
	}
	if s.caps.NoSummarize {
		return core.Summary{}, fmt.Errorf("summarize: %w", core.ErrAggregationUnsupported)
	}

	matched := s.matching(f)
	sum := core.Summary{TotalCount: len(matched)}
	for _, b := range matched {
		sum.TotalAmount = sum.TotalAmount.Add(b.Amount)
	}
	if len(matched) > 0 {
		latest := matched[0]
		sum.Latest = &latest
	}
	return sum, nil
}

func (s *Store) Sum(ctx context.Context, f core.FilterSpec) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("sum"); err != nil {
		return core.Money{}, err
	}
	if s.caps.NoSum {
		return core.Money{}, fmt.Errorf("sum: %w", core.ErrAggregationUnsupported)
	}
	var total core.Money
	for _, b := range s.matching(f) {
		total = total.Add(b.Amount)
	}
	return total, nil
}

// matching returns the bills matching f in list order. Caller holds mu.
func (s *Store) matching(f core.FilterSpec) []core.Bill {
	out := make([]core.Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if f.Matches(b) {
			out = append(out, b)
		}
	}
	core.SortBills(out)
	return out
}

// ListCategories returns the vocabulary ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Category(nil), s.cats...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AddCategory(ctx context.Context, name, userID string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, &core.ValidationError{Field: "name", Err: core.ErrEmptyCategory}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cats {
		if strings.EqualFold(c.Name, name) {
			return core.Category{}, &core.ValidationError{Field: "name", Err: fmt.Errorf("category %q already exists", name)}
		}
	}
	c := core.Category{ID: s.newID(), Name: name, UserID: userID}
	s.cats = append(s.cats, c)
	return c, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, c := range s.cats {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	name := s.cats[idx].Name
	used := 0
	for _, b := range s.bills {
		if b.Category == name {
			used++
		}
	}
	if used > 0 {
		return core.CategoryInUseError(name, used)
	}
	s.cats = append(s.cats[:idx], s.cats[idx+1:]...)
	return nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	seen := map[string]struct{}{}
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
