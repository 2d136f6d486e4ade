package allocation

import (
	"context"
	"fmt"
	"log/slog"

	"cutting-erp/internal/storage"
)

const StrategyCut = "cut"

// CutAllocator reserves exactly the pieces a cutting plan or draft names for
// a requisition.
type CutAllocator struct {
	base
}

func NewCutAllocator(log *slog.Logger, pieces PieceInventory, requisitions RequisitionStore, observer Observer) *CutAllocator {
	return &CutAllocator{base: base{log: log, pieces: pieces, requisitions: requisitions, observer: observer}}
}

func (a *CutAllocator) Name() string { return StrategyCut }

// BarOwner is the requisition a bar's piece is booked against: the lowest
// requisition id with a cut on the bar, 0 for a bar without cuts.
func BarOwner(bar storage.BarAssignment) int64 {
	var owner int64
	for _, c := range bar.Cuts {
		if owner == 0 || c.RequisitionID < owner {
			owner = c.RequisitionID
		}
	}
	return owner
}

func (a *CutAllocator) Allocate(ctx context.Context, req Request) (*storage.AllocationResult, error) {
	res, err := a.allocate(ctx, req)
	a.observe(StrategyCut, err)
	return res, err
}

func (a *CutAllocator) allocate(ctx context.Context, req Request) (*storage.AllocationResult, error) {
	const op = "service.allocation.CutAllocator.Allocate"

	r, err := a.approvedRequisition(ctx, req.RequisitionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	specs := storage.ItemSpecs(*r)
	known := map[int64]bool{r.ID: true}

	result := &storage.AllocationResult{RequisitionID: req.RequisitionID}
	var booked []int64

	for _, bar := range req.Bars {
		for _, c := range bar.Cuts {
			if c.RequisitionID == req.RequisitionID {
				result.RequiredLengthMM += c.CutLengthMM
			}
		}

		if bar.PieceID == 0 || BarOwner(bar) != req.RequisitionID {
			continue
		}

		if err := a.loadItemSpecs(ctx, bar, specs, known); err != nil {
			_ = a.rollback(ctx, op, booked)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		p, err := a.pieces.GetPiece(ctx, bar.PieceID)
		if err != nil {
			_ = a.rollback(ctx, op, booked)
			return nil, fmt.Errorf("%s: piece %d: %w", op, bar.PieceID, err)
		}

		if err := bar.CheckPiece(*p, specs); err != nil {
			_ = a.rollback(ctx, op, booked)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		switch {
		case p.Status == storage.PieceAllocated && p.RequisitionID != nil && *p.RequisitionID == req.RequisitionID:
			// already booked for this requisition
		default:
			if err := a.pieces.AllocatePiece(ctx, p.ID, req.RequisitionID); err != nil {
				_ = a.rollback(ctx, op, booked)
				return nil, fmt.Errorf("%s: allocate piece %d: %w", op, p.ID, err)
			}
			booked = append(booked, p.ID)
		}

		result.PieceIDs = append(result.PieceIDs, p.ID)
		result.AllocatedMM += p.CurrentLengthMM
	}

	a.log.Info("plan pieces allocated",
		slog.String("op", op),
		slog.Int64("requisition_id", req.RequisitionID),
		slog.Int("pieces", len(result.PieceIDs)),
		slog.Int("newly_booked", len(booked)),
	)

	return result, nil
}

// loadItemSpecs adds the items of every requisition cut from bar that is not
// in known yet.
func (a *CutAllocator) loadItemSpecs(ctx context.Context, bar storage.BarAssignment, specs map[int64]storage.MaterialSpec, known map[int64]bool) error {
	for _, c := range bar.Cuts {
		if known[c.RequisitionID] {
			continue
		}
		other, err := a.requisitions.GetRequisition(ctx, c.RequisitionID)
		if err != nil {
			return fmt.Errorf("requisition %d: %w", c.RequisitionID, err)
		}
		for id, spec := range storage.ItemSpecs(*other) {
			specs[id] = spec
		}
		known[c.RequisitionID] = true
	}
	return nil
}
