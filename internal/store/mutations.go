package store

import (
	"context"
	"fmt"
	"sort"

	"bollette/internal/core"
	"bollette/internal/log"
)

type MutationKind int

const (
	MutationInsert MutationKind = iota + 1
	MutationUpdate
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return log.OpInsert
	case MutationUpdate:
		return log.OpUpdate
	case MutationDelete:
		return log.OpDelete
	default:
		return "unknown"
	}
}

// MutationRecord is the rollback state of one optimistic mutation. It lives
// in the pending index, keyed by TargetID, until the mutation settles.
type MutationRecord struct {
	Kind     MutationKind
	TargetID string
	// Prior is the exact row shown before the mutation; nil for inserts and
	// for rows that were not visible.
	Prior *core.Bill
	// Index is where Prior was shown.
	Index int
	// Provisional is the row displayed while the mutation is in flight.
	Provisional core.Bill
	Seq         uint64

	// hidden is set while a pending delete keeps a server row out of view.
	hidden bool
}

// Insert shows in as a provisional row at the top of the list, then swaps it
// for the confirmed server row. The provisional row is removed on failure.
func (s *Store) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	if err := in.Validate(); err != nil {
		s.fail(err)
		return core.Bill{}, err
	}

	s.mu.Lock()
	tempID := s.newTempID()
	if _, busy := s.pending[tempID]; busy {
		s.mu.Unlock()
		return core.Bill{}, fmt.Errorf("insert bill: %w", core.ErrMutationPending)
	}
	rec := s.trackLocked(MutationInsert, tempID)
	rec.Provisional = in.Bill(tempID)
	s.bills = append([]core.Bill{rec.Provisional}, s.bills...)
	s.mu.Unlock()
	s.emit()

	var created core.Bill
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.gateway.Insert(ctx, in)
		return err
	})

	s.mu.Lock()
	delete(s.pending, tempID)
	idx := indexOf(s.bills, tempID)
	if err != nil {
		if idx >= 0 {
			s.bills = removeAt(s.bills, idx)
		}
		s.lastErr = core.UserMessage(err)
		s.mu.Unlock()
		s.emit()
		s.logger.WarnContext(ctx, "Insert rolled back", log.FieldTempID, tempID, log.FieldError, err.Error())
		return core.Bill{}, err
	}

	// A refresh may already have brought the confirmed row in.
	dup := indexOf(s.bills, created.ID)
	if dup >= 0 {
		s.bills = removeAt(s.bills, dup)
		if dup < idx {
			idx--
		}
	}
	if dup < 0 && s.filter.Matches(created) && s.windowCoversLocked(created) {
		s.windowEnd++
	}
	if idx >= 0 {
		if s.filter.Matches(created) {
			s.bills[idx] = created
		} else {
			s.bills = removeAt(s.bills, idx)
		}
	}
	s.lastErr = ""
	gen := s.generation
	s.mu.Unlock()
	s.emit()

	s.logger.InfoContext(ctx, "Insert confirmed", log.FieldTempID, tempID, log.FieldBillID, created.ID)
	s.afterMutation(ctx, gen)
	return created, nil
}

// Update applies patch to the visible row immediately and replaces it with
// the server row on success. On failure the prior row is restored exactly.
func (s *Store) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	if err := s.checkTarget(id); err != nil {
		s.fail(err)
		return core.Bill{}, err
	}
	if err := patch.Validate(); err != nil {
		s.fail(err)
		return core.Bill{}, err
	}

	s.mu.Lock()
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return core.Bill{}, fmt.Errorf("update bill %s: %w", id, core.ErrMutationPending)
	}
	rec := s.trackLocked(MutationUpdate, id)
	if idx := indexOf(s.bills, id); idx >= 0 {
		prior := s.bills[idx]
		rec.Prior = &prior
		rec.Index = idx
		rec.Provisional = prior.Apply(patch)
		s.bills[idx] = rec.Provisional
	}
	s.mu.Unlock()
	s.emit()

	var updated core.Bill
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.gateway.Update(ctx, id, patch)
		return err
	})

	s.mu.Lock()
	delete(s.pending, id)
	idx := indexOf(s.bills, id)
	if err != nil {
		if rec.Prior != nil && idx >= 0 {
			s.bills[idx] = *rec.Prior
		}
		s.lastErr = core.UserMessage(err)
		s.mu.Unlock()
		s.emit()
		s.logger.WarnContext(ctx, "Update rolled back", log.FieldBillID, id, log.FieldError, err.Error())
		return core.Bill{}, err
	}

	if idx >= 0 {
		if s.filter.Matches(updated) {
			s.bills[idx] = updated
			// Moved past the end of the window; LoadMore brings it back once.
			if !s.windowCoversLocked(updated) {
				s.shrinkWindowLocked()
			}
		} else {
			s.bills = removeAt(s.bills, idx)
			s.shrinkWindowLocked()
		}
	}
	s.lastErr = ""
	gen := s.generation
	s.mu.Unlock()
	s.emit()

	s.logger.InfoContext(ctx, "Update confirmed", log.FieldBillID, id)
	s.afterMutation(ctx, gen)
	return updated, nil
}

// Delete hides the row immediately. On failure it is put back at the index
// it was shown at.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkTarget(id); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return fmt.Errorf("delete bill %s: %w", id, core.ErrMutationPending)
	}
	rec := s.trackLocked(MutationDelete, id)
	if idx := indexOf(s.bills, id); idx >= 0 {
		prior := s.bills[idx]
		rec.Prior = &prior
		rec.Index = idx
		rec.Provisional = prior
		rec.hidden = true
		s.bills = removeAt(s.bills, idx)
	}
	s.mu.Unlock()
	s.emit()

	err := s.guard.Run(ctx, func(ctx context.Context) error {
		return s.gateway.Remove(ctx, id)
	})

	s.mu.Lock()
	delete(s.pending, id)
	if err != nil {
		if rec.Prior != nil && rec.hidden && indexOf(s.bills, id) < 0 {
			s.bills = insertAt(s.bills, rec.Index, *rec.Prior)
		}
		s.lastErr = core.UserMessage(err)
		s.mu.Unlock()
		s.emit()
		s.logger.WarnContext(ctx, "Delete rolled back", log.FieldBillID, id, log.FieldError, err.Error())
		return err
	}
	if rec.hidden {
		s.shrinkWindowLocked()
	}
	s.lastErr = ""
	gen := s.generation
	s.mu.Unlock()
	s.emit()

	s.logger.InfoContext(ctx, "Delete confirmed", log.FieldBillID, id)
	s.afterMutation(ctx, gen)
	return nil
}

// afterMutation recomputes the summary once a mutation is confirmed. The
// mutation already succeeded, so a summary failure is only recorded in the
// view.
func (s *Store) afterMutation(ctx context.Context, gen uint64) {
	s.resolver.Invalidate()
	_ = s.recomputeSummary(ctx, gen, nil)
}

func (s *Store) checkTarget(id string) error {
	if id == "" {
		return &core.ValidationError{Field: "id", Err: fmt.Errorf("empty id")}
	}
	if core.IsTemporaryID(id) {
		s.mu.Lock()
		_, busy := s.pending[id]
		s.mu.Unlock()
		if busy {
			return fmt.Errorf("bill %s: %w", id, core.ErrMutationPending)
		}
		return &core.ValidationError{Field: "id", Err: fmt.Errorf("not a persisted id: %q", id)}
	}
	return nil
}

func (s *Store) trackLocked(kind MutationKind, id string) *MutationRecord {
	s.seq++
	rec := &MutationRecord{Kind: kind, TargetID: id, Index: -1, Seq: s.seq}
	s.pending[id] = rec
	return rec
}

// applyOverlaysLocked lays pending mutations over freshly loaded rows:
// provisional inserts on top, in-flight updates in place and pending
// deletes removed again.
func (s *Store) applyOverlaysLocked(rows []core.Bill) []core.Bill {
	out := make([]core.Bill, len(rows))
	copy(out, rows)
	if len(s.pending) == 0 {
		return out
	}

	recs := make([]*MutationRecord, 0, len(s.pending))
	for _, rec := range s.pending {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	for _, rec := range recs {
		idx := indexOf(out, rec.TargetID)
		switch rec.Kind {
		case MutationInsert:
			if idx < 0 {
				out = append([]core.Bill{rec.Provisional}, out...)
			}
		case MutationUpdate:
			if idx >= 0 && rec.Prior != nil {
				out[idx] = rec.Provisional
			}
		case MutationDelete:
			rec.hidden = idx >= 0
			if idx >= 0 {
				out = removeAt(out, idx)
			}
		}
	}
	return out
}

// hiddenLocked reports whether a pending delete keeps id out of view, and
// marks the row as hidden by it.
func (s *Store) hiddenLocked(id string) bool {
	rec, ok := s.pending[id]
	if !ok || rec.Kind != MutationDelete {
		return false
	}
	rec.hidden = true
	return true
}

func removeAt(bills []core.Bill, i int) []core.Bill {
	out := make([]core.Bill, 0, len(bills)-1)
	out = append(out, bills[:i]...)
	return append(out, bills[i+1:]...)
}

func insertAt(bills []core.Bill, i int, b core.Bill) []core.Bill {
	if i < 0 {
		i = 0
	}
	if i > len(bills) {
		i = len(bills)
	}
	out := make([]core.Bill, 0, len(bills)+1)
	out = append(out, bills[:i]...)
	out = append(out, b)
	return append(out, bills[i:]...)
}
