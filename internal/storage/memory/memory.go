// Package memory keeps the whole store in process. It backs the service in
// dev mode and the service tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cutting-erp/internal/storage"
)

type Storage struct {
	mu sync.Mutex

	pieces       map[int64]*storage.MaterialPiece
	requisitions map[int64]*storage.MaterialRequisition
	drafts       map[int64]*storage.IssueWindowDraft
	draftKeys    map[string]int64
	ledger       []storage.IssuanceEntry

	nextPiece, nextReq, nextItem, nextDraft, nextEntry int64

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		pieces:       make(map[int64]*storage.MaterialPiece),
		requisitions: make(map[int64]*storage.MaterialRequisition),
		drafts:       make(map[int64]*storage.IssueWindowDraft),
		draftKeys:    make(map[string]int64),
		now:          time.Now,
	}
}

// AddPiece stores a received piece and returns its id. A zero id is assigned,
// a zero status becomes available.
func (s *Storage) AddPiece(p storage.MaterialPiece) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.nextPiece++
		p.ID = s.nextPiece
	} else if p.ID > s.nextPiece {
		s.nextPiece = p.ID
	}
	if p.Status == "" {
		p.Status = storage.PieceAvailable
	}
	if p.OriginalLengthMM == 0 {
		p.OriginalLengthMM = p.CurrentLengthMM
	}
	s.pieces[p.ID] = &p
	return p.ID
}

// AddRequisition stores a requisition with its items and returns its id.
func (s *Storage) AddRequisition(r storage.MaterialRequisition) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		s.nextReq++
		r.ID = s.nextReq
	} else if r.ID > s.nextReq {
		s.nextReq = r.ID
	}
	if r.Status == "" {
		r.Status = storage.RequisitionPending
	}

	r.Items = slices.Clone(r.Items)
	for i := range r.Items {
		if r.Items[i].ID == 0 {
			s.nextItem++
			r.Items[i].ID = s.nextItem
		} else if r.Items[i].ID > s.nextItem {
			s.nextItem = r.Items[i].ID
		}
		r.Items[i].RequisitionID = r.ID
	}
	s.requisitions[r.ID] = &r
	return r.ID
}

func copyRequisition(r *storage.MaterialRequisition) storage.MaterialRequisition {
	out := *r
	out.Items = make([]storage.RequisitionItem, len(r.Items))
	for i, it := range r.Items {
		it.SelectedPieces = slices.Clone(it.SelectedPieces)
		out.Items[i] = it
	}
	return out
}

func copyDraft(d *storage.IssueWindowDraft) storage.IssueWindowDraft {
	out := *d
	out.RequisitionIDs = slices.Clone(d.RequisitionIDs)
	out.Bars = make([]storage.BarAssignment, len(d.Bars))
	for i, b := range d.Bars {
		b.Cuts = slices.Clone(b.Cuts)
		out.Bars[i] = b
	}
	return out
}

func (s *Storage) GetRequisition(_ context.Context, id int64) (*storage.MaterialRequisition, error) {
	const op = "storage.memory.GetRequisition"

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requisitions[id]
	if !ok {
		return nil, fmt.Errorf("%s: requisition %d: %w", op, id, storage.ErrNotFound)
	}
	out := copyRequisition(r)
	return &out, nil
}

func (s *Storage) GetRequisitions(_ context.Context, ids []int64) ([]storage.MaterialRequisition, error) {
	const op = "storage.memory.GetRequisitions"

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.MaterialRequisition, 0, len(ids))
	for _, id := range storage.NormalizeIDs(ids) {
		r, ok := s.requisitions[id]
		if !ok {
			return nil, fmt.Errorf("%s: requisition %d: %w", op, id, storage.ErrNotFound)
		}
		out = append(out, copyRequisition(r))
	}
	return out, nil
}

func (s *Storage) SaveSelectedPieces(_ context.Context, itemID int64, cuts []storage.PieceCut) error {
	const op = "storage.memory.SaveSelectedPieces"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.requisitions {
		for i := range r.Items {
			if r.Items[i].ID == itemID {
				r.Items[i].SelectedPieces = slices.Clone(cuts)
				return nil
			}
		}
	}
	return fmt.Errorf("%s: item %d: %w", op, itemID, storage.ErrNotFound)
}

func (s *Storage) AvailablePiecesByFIFO(_ context.Context, spec storage.MaterialSpec) ([]storage.MaterialPiece, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.MaterialPiece
	for _, p := range s.pieces {
		if p.Status == storage.PieceAvailable && p.MaterialSpec == spec {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b storage.MaterialPiece) int {
		switch {
		case storage.FIFOLess(a, b):
			return -1
		case storage.FIFOLess(b, a):
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Storage) GetPiece(_ context.Context, id int64) (*storage.MaterialPiece, error) {
	const op = "storage.memory.GetPiece"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pieces[id]
	if !ok {
		return nil, fmt.Errorf("%s: piece %d: %w", op, id, storage.ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (s *Storage) AllocatedPieces(_ context.Context, requisitionID int64) ([]storage.MaterialPiece, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.MaterialPiece
	for _, p := range s.pieces {
		if p.Status == storage.PieceAllocated && p.RequisitionID != nil && *p.RequisitionID == requisitionID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b storage.MaterialPiece) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// transition applies fn to the piece if its status is still from.
func (s *Storage) transition(op string, id int64, from, to storage.PieceStatus, fn func(p *storage.MaterialPiece)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pieces[id]
	if !ok {
		return fmt.Errorf("%s: piece %d: %w", op, id, storage.ErrNotFound)
	}
	if p.Status != from || !from.CanTransitionTo(to) {
		return fmt.Errorf("%s: piece %d is %s: %w", op, id, p.Status, storage.ErrConflict)
	}
	p.Status = to
	fn(p)
	return nil
}

func (s *Storage) AllocatePiece(_ context.Context, pieceID, requisitionID int64) error {
	return s.transition("storage.memory.AllocatePiece", pieceID, storage.PieceAvailable, storage.PieceAllocated,
		func(p *storage.MaterialPiece) {
			p.RequisitionID = &requisitionID
		})
}

// ReturnPiece puts an allocated piece back on stock. Returning a piece that is
// already available is a no-op.
func (s *Storage) ReturnPiece(_ context.Context, pieceID int64) error {
	const op = "storage.memory.ReturnPiece"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pieces[pieceID]
	if !ok {
		return fmt.Errorf("%s: piece %d: %w", op, pieceID, storage.ErrNotFound)
	}
	switch p.Status {
	case storage.PieceAvailable:
		return nil
	case storage.PieceAllocated:
		p.Status = storage.PieceAvailable
		p.RequisitionID = nil
		return nil
	}
	return fmt.Errorf("%s: piece %d is %s: %w", op, pieceID, p.Status, storage.ErrConflict)
}

func (s *Storage) IssuePiece(_ context.Context, pieceID int64, jobCardID *int64, issuedAt time.Time, issuedBy string) error {
	return s.transition("storage.memory.IssuePiece", pieceID, storage.PieceAllocated, storage.PieceIssued,
		func(p *storage.MaterialPiece) {
			p.JobCardID = jobCardID
			p.IssuedAt = &issuedAt
			p.IssuedBy = issuedBy
		})
}

// CreateRemnant puts the offcut of a cut piece back on stock as a new
// available piece that keeps the parent's receipt date.
func (s *Storage) CreateRemnant(_ context.Context, parentID int64, lengthMM int) (int64, error) {
	const op = "storage.memory.CreateRemnant"

	if lengthMM < storage.ScrapThresholdMM {
		return 0, fmt.Errorf("%s: %w: remnant of %dmm is scrap", op, storage.ErrValidation, lengthMM)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.pieces[parentID]
	if !ok {
		return 0, fmt.Errorf("%s: piece %d: %w", op, parentID, storage.ErrNotFound)
	}

	s.nextPiece++
	s.pieces[s.nextPiece] = &storage.MaterialPiece{
		ID:               s.nextPiece,
		MaterialSpec:     parent.MaterialSpec,
		CurrentLengthMM:  lengthMM,
		OriginalLengthMM: lengthMM,
		Status:           storage.PieceAvailable,
		Location:         parent.Location,
		ReceivedAt:       parent.ReceivedAt,
		SourceDocID:      &parentID,
		SourceDocNo:      storage.RemnantDocNo(parent.ID),
		UnitCost:         decimal.Zero,
	}
	return s.nextPiece, nil
}

// CommitIssuance issues the entry's pieces, flips the requisition to issued
// and records the entry. Nothing changes unless every step can be applied.
func (s *Storage) CommitIssuance(_ context.Context, entry storage.IssuanceEntry) (int64, error) {
	const op = "storage.memory.CommitIssuance"

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requisitions[entry.RequisitionID]
	if !ok {
		return 0, fmt.Errorf("%s: requisition %d: %w", op, entry.RequisitionID, storage.ErrNotFound)
	}
	if r.Status != storage.RequisitionApproved {
		return 0, fmt.Errorf("%s: requisition %d is %s: %w", op, r.ID, r.Status, storage.ErrConflict)
	}

	for _, id := range entry.PieceIDs {
		p, ok := s.pieces[id]
		if !ok {
			return 0, fmt.Errorf("%s: piece %d: %w", op, id, storage.ErrNotFound)
		}
		if p.Status != storage.PieceAllocated || p.RequisitionID == nil || *p.RequisitionID != entry.RequisitionID {
			return 0, fmt.Errorf("%s: piece %d is %s: %w", op, id, p.Status, storage.ErrConflict)
		}
	}

	issuedAt := entry.IssuedAt
	for _, id := range entry.PieceIDs {
		p := s.pieces[id]
		p.Status = storage.PieceIssued
		p.JobCardID = entry.JobCardID
		p.IssuedAt = &issuedAt
		p.IssuedBy = entry.IssuedBy
	}

	r.Status = storage.RequisitionIssued
	r.JobCardID = entry.JobCardID
	r.IssuedBy = entry.IssuedBy
	r.ReceivedBy = entry.ReceivedBy
	r.IssuedAt = &issuedAt

	s.nextEntry++
	entry.ID = s.nextEntry
	entry.PieceIDs = slices.Clone(entry.PieceIDs)
	entry.SharedPieceIDs = slices.Clone(entry.SharedPieceIDs)
	s.ledger = append(s.ledger, entry)
	return entry.ID, nil
}

func (s *Storage) Issuances(_ context.Context, requisitionID int64) ([]storage.IssuanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.IssuanceEntry
	for _, e := range s.ledger {
		if e.RequisitionID == requisitionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveDraft inserts the draft for its requisition set or replaces the bars of
// the existing one. d.Version must equal the stored version (0 for a new set).
func (s *Storage) SaveDraft(_ context.Context, d storage.IssueWindowDraft) (storage.IssueWindowDraft, error) {
	const op = "storage.memory.SaveDraft"

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := storage.RequisitionKey(d.RequisitionIDs)

	if id, ok := s.draftKeys[key]; ok {
		cur := s.drafts[id]
		if cur.Status != storage.DraftOpen {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: draft %d is %s: %w", op, id, cur.Status, storage.ErrInvalidTransition)
		}
		if d.Version != cur.Version {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: draft %d is at version %d, got %d: %w",
				op, id, cur.Version, d.Version, storage.ErrConflict)
		}
		next := copyDraft(&d)
		cur.Bars = next.Bars
		cur.SavedBy = d.SavedBy
		cur.Version++
		cur.UpdatedAt = now
		return copyDraft(cur), nil
	}

	if d.Version != 0 {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: no draft for %s at version %d: %w", op, key, d.Version, storage.ErrConflict)
	}

	s.nextDraft++
	stored := copyDraft(&d)
	stored.ID = s.nextDraft
	stored.RequisitionIDs = storage.NormalizeIDs(d.RequisitionIDs)
	stored.Status = storage.DraftOpen
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.drafts[stored.ID] = &stored
	s.draftKeys[key] = stored.ID
	return copyDraft(&stored), nil
}

func (s *Storage) GetDraft(_ context.Context, id int64) (*storage.IssueWindowDraft, error) {
	const op = "storage.memory.GetDraft"

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("%s: draft %d: %w", op, id, storage.ErrNotFound)
	}
	out := copyDraft(d)
	return &out, nil
}

func (s *Storage) ListDrafts(_ context.Context, statuses []storage.DraftStatus) ([]storage.IssueWindowDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []storage.IssueWindowDraft{}
	for _, d := range s.drafts {
		if slices.Contains(statuses, d.Status) {
			out = append(out, copyDraft(d))
		}
	}
	slices.SortFunc(out, func(a, b storage.IssueWindowDraft) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Storage) UpdateDraftStatus(_ context.Context, upd storage.DraftStatusUpdate) error {
	const op = "storage.memory.UpdateDraftStatus"

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[upd.ID]
	if !ok {
		return fmt.Errorf("%s: draft %d: %w", op, upd.ID, storage.ErrNotFound)
	}
	if d.Status != upd.From || !upd.From.CanTransitionTo(upd.To) {
		return fmt.Errorf("%s: draft %d is %s: %w", op, upd.ID, d.Status, storage.ErrConflict)
	}

	d.Status = upd.To
	if upd.To == storage.DraftIssued {
		d.IssuedBy = upd.IssuedBy
		d.ReceivedBy = upd.ReceivedBy
		d.IssuedAt = upd.IssuedAt
	}
	d.Version++
	d.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Storage) DeleteDraft(_ context.Context, id int64) error {
	const op = "storage.memory.DeleteDraft"

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return fmt.Errorf("%s: draft %d: %w", op, id, storage.ErrNotFound)
	}
	if d.Status != storage.DraftOpen {
		return fmt.Errorf("%s: draft %d is %s: %w", op, id, d.Status, storage.ErrInvalidTransition)
	}
	delete(s.draftKeys, storage.RequisitionKey(d.RequisitionIDs))
	delete(s.drafts, id)
	return nil
}
