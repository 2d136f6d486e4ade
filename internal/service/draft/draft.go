package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"cutting-erp/internal/service/allocation"
	"cutting-erp/internal/storage"
)

type DraftStorage interface {
	SaveDraft(ctx context.Context, d storage.IssueWindowDraft) (storage.IssueWindowDraft, error)
	GetDraft(ctx context.Context, id int64) (*storage.IssueWindowDraft, error)
	ListDrafts(ctx context.Context, statuses []storage.DraftStatus) ([]storage.IssueWindowDraft, error)
	UpdateDraftStatus(ctx context.Context, upd storage.DraftStatusUpdate) error
	DeleteDraft(ctx context.Context, id int64) error
}

type RequisitionStorage interface {
	GetRequisitions(ctx context.Context, ids []int64) ([]storage.MaterialRequisition, error)
	SaveSelectedPieces(ctx context.Context, itemID int64, cuts []storage.PieceCut) error
}

type PieceStorage interface {
	GetPiece(ctx context.Context, id int64) (*storage.MaterialPiece, error)
	CreateRemnant(ctx context.Context, parentID int64, lengthMM int) (int64, error)
}

type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (*storage.AllocationResult, error)
}

type Issuer interface {
	IssueCuts(ctx context.Context, requisitionID int64, usage storage.CutUsage, issuedBy, receivedBy string) (*storage.IssuanceEntry, error)
}

type Observer interface {
	ObserveIssuance(outcome storage.IssueOutcome)
}

type View string

const (
	ViewPlanning View = "planning"
	ViewIssuance View = "issuance"
)

func (v View) statuses() ([]storage.DraftStatus, bool) {
	switch v {
	case ViewPlanning:
		return []storage.DraftStatus{storage.DraftOpen}, true
	case ViewIssuance:
		return []storage.DraftStatus{storage.DraftFinalized, storage.DraftIssued}, true
	}
	return nil, false
}

// Service owns the lifecycle of issue-window drafts: saved while planning,
// frozen by finalize, executed by issue.
type Service struct {
	log          *slog.Logger
	drafts       DraftStorage
	requisitions RequisitionStorage
	pieces       PieceStorage
	allocator    Allocator
	issuer       Issuer
	observer     Observer
	now          func() time.Time
}

func New(
	log *slog.Logger,
	drafts DraftStorage,
	requisitions RequisitionStorage,
	pieces PieceStorage,
	allocator Allocator,
	issuer Issuer,
	observer Observer,
) *Service {
	return &Service{
		log:          log,
		drafts:       drafts,
		requisitions: requisitions,
		pieces:       pieces,
		allocator:    allocator,
		issuer:       issuer,
		observer:     observer,
		now:          time.Now,
	}
}

type SaveInput struct {
	RequisitionIDs []int64
	Bars           []storage.BarAssignment
	Version        int
	SavedBy        string
}

// Save upserts the draft of a requisition set. Bar totals are recomputed from
// the cuts, the client's figures are ignored. A bar on a stock piece must be
// planned on the piece's current length, zero takes it from the piece.
func (s *Service) Save(ctx context.Context, in SaveInput) (storage.IssueWindowDraft, error) {
	const op = "service.draft.Save"

	ids := storage.NormalizeIDs(in.RequisitionIDs)
	if len(ids) == 0 || ids[0] <= 0 {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: %w: requisition ids are required", op, storage.ErrValidation)
	}

	reqs, err := s.requisitions.GetRequisitions(ctx, ids)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: %w", op, err)
	}
	for _, r := range reqs {
		if r.Status != storage.RequisitionApproved {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: %w: requisition %d is %s", op, storage.ErrValidation, r.ID, r.Status)
		}
	}

	bars, err := s.fitBars(ctx, reqs, in.Bars)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: %w", op, err)
	}

	bars, err = normalizeBars(ids, bars)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: %w", op, err)
	}

	saved, err := s.drafts.SaveDraft(ctx, storage.IssueWindowDraft{
		RequisitionIDs: ids,
		Bars:           bars,
		Status:         storage.DraftOpen,
		Version:        in.Version,
		SavedBy:        in.SavedBy,
	})
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("draft saved",
		slog.String("op", op),
		slog.Int64("draft_id", saved.ID),
		slog.String("requisitions", storage.RequisitionKey(ids)),
		slog.Int("bars", len(saved.Bars)),
		slog.Int("version", saved.Version),
	)

	return saved, nil
}

// fitBars checks every bar on a stock piece against the piece: its length and
// the material spec of each cut's item.
func (s *Service) fitBars(ctx context.Context, reqs []storage.MaterialRequisition, bars []storage.BarAssignment) ([]storage.BarAssignment, error) {
	specs := storage.ItemSpecs(reqs...)
	out := slices.Clone(bars)

	for i := range out {
		b := &out[i]
		if b.PieceID == 0 {
			continue
		}

		p, err := s.pieces.GetPiece(ctx, b.PieceID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: bar %d is on unknown piece %d", storage.ErrValidation, i, b.PieceID)
		}
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}

		switch {
		case b.BarLengthMM == 0:
			b.BarLengthMM = p.CurrentLengthMM
		case b.BarLengthMM != p.CurrentLengthMM:
			return nil, fmt.Errorf("%w: bar %d is %dmm, piece %d has %dmm",
				storage.ErrValidation, i, b.BarLengthMM, p.ID, p.CurrentLengthMM)
		}

		if err := b.CheckPiece(*p, specs); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
	}

	return out, nil
}

func normalizeBars(ids []int64, bars []storage.BarAssignment) ([]storage.BarAssignment, error) {
	inSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	seen := make(map[int64]bool)
	out := make([]storage.BarAssignment, 0, len(bars))

	for i, b := range bars {
		if b.BarLengthMM <= 0 {
			return nil, fmt.Errorf("%w: bar %d has no length", storage.ErrValidation, i)
		}
		if b.PieceID != 0 {
			if seen[b.PieceID] {
				return nil, fmt.Errorf("%w: piece %d is used by more than one bar", storage.ErrValidation, b.PieceID)
			}
			seen[b.PieceID] = true
		}
		for _, c := range b.Cuts {
			if c.CutLengthMM <= 0 {
				return nil, fmt.Errorf("%w: bar %d has a cut without length", storage.ErrValidation, i)
			}
			if !inSet[c.RequisitionID] {
				return nil, fmt.Errorf("%w: bar %d cuts for requisition %d outside the draft", storage.ErrValidation, i, c.RequisitionID)
			}
		}

		b.Recalculate()
		if b.RemainingMM < 0 {
			return nil, fmt.Errorf("%w: bar %d cuts %dmm from %dmm", storage.ErrValidation, i, b.TotalCutMM, b.BarLengthMM)
		}
		out = append(out, b)
	}

	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*storage.IssueWindowDraft, error) {
	const op = "service.draft.Get"

	d, err := s.drafts.GetDraft(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, view View) ([]storage.IssueWindowDraft, error) {
	const op = "service.draft.List"

	statuses, ok := view.statuses()
	if !ok {
		return nil, fmt.Errorf("%s: %w: unknown view %q", op, storage.ErrValidation, view)
	}

	drafts, err := s.drafts.ListDrafts(ctx, statuses)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return drafts, nil
}

// Finalize freezes the draft for issuance.
func (s *Service) Finalize(ctx context.Context, id int64) (*storage.IssueWindowDraft, error) {
	const op = "service.draft.Finalize"

	d, err := s.drafts.GetDraft(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !d.Status.CanTransitionTo(storage.DraftFinalized) {
		return nil, fmt.Errorf("%s: %w: draft %d is %s", op, storage.ErrInvalidTransition, id, d.Status)
	}

	err = s.drafts.UpdateDraftStatus(ctx, storage.DraftStatusUpdate{ID: id, From: d.Status, To: storage.DraftFinalized})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("draft finalized", slog.String("op", op), slog.Int64("draft_id", id))

	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	const op = "service.draft.Delete"

	d, err := s.drafts.GetDraft(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if d.Status != storage.DraftOpen {
		return fmt.Errorf("%s: %w: draft %d is %s", op, storage.ErrInvalidTransition, id, d.Status)
	}

	if err := s.drafts.DeleteDraft(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("draft deleted", slog.String("op", op), slog.Int64("draft_id", id))
	return nil
}
