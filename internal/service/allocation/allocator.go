package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cutting-erp/internal/storage"
)

type PieceInventory interface {
	AvailablePiecesByFIFO(ctx context.Context, spec storage.MaterialSpec) ([]storage.MaterialPiece, error)
	GetPiece(ctx context.Context, id int64) (*storage.MaterialPiece, error)
	AllocatedPieces(ctx context.Context, requisitionID int64) ([]storage.MaterialPiece, error)
	AllocatePiece(ctx context.Context, pieceID, requisitionID int64) error
	ReturnPiece(ctx context.Context, pieceID int64) error
}

type RequisitionStore interface {
	GetRequisition(ctx context.Context, id int64) (*storage.MaterialRequisition, error)
}

type IssuanceLedger interface {
	// CommitIssuance moves the entry's pieces from allocated to issued, the
	// requisition from approved to issued and writes the ledger entry
	// atomically. ErrConflict if the requisition is no longer approved or a
	// piece is no longer allocated to it.
	CommitIssuance(ctx context.Context, entry storage.IssuanceEntry) (int64, error)
}

type Publisher interface {
	PublishIssued(ctx context.Context, entry storage.IssuanceEntry) error
}

type Observer interface {
	ObserveAllocation(strategy, outcome string)
	ObserveIssuance(outcome storage.IssueOutcome)
}

// Request describes what to allocate for one requisition. The FIFO strategy
// reads Spec and RequiredLengthMM, the cut strategy reads Bars.
type Request struct {
	RequisitionID    int64
	Spec             storage.MaterialSpec
	RequiredLengthMM int
	Bars             []storage.BarAssignment
}

// Allocator reserves physical pieces for a requisition. Every implementation
// is all-or-nothing: a failed Allocate leaves no piece of the attempt Allocated.
type Allocator interface {
	Name() string
	Allocate(ctx context.Context, req Request) (*storage.AllocationResult, error)
	Deallocate(ctx context.Context, requisitionID int64) (int, error)
}

type base struct {
	log          *slog.Logger
	pieces       PieceInventory
	requisitions RequisitionStore
	observer     Observer
}

// Deallocate returns every piece allocated to the requisition. No allocated
// pieces is not an error.
func (b *base) Deallocate(ctx context.Context, requisitionID int64) (int, error) {
	const op = "service.allocation.Deallocate"

	pieces, err := b.pieces.AllocatedPieces(ctx, requisitionID)
	if err != nil {
		return 0, fmt.Errorf("%s: list allocated pieces: %w", op, err)
	}

	returned := 0
	for _, p := range pieces {
		if err := b.pieces.ReturnPiece(ctx, p.ID); err != nil {
			return returned, fmt.Errorf("%s: return piece %d: %w", op, p.ID, err)
		}
		returned++
	}

	if returned > 0 {
		b.log.Info("pieces deallocated",
			slog.String("op", op),
			slog.Int64("requisition_id", requisitionID),
			slog.Int("pieces", returned),
		)
	}

	return returned, nil
}

func (b *base) approvedRequisition(ctx context.Context, id int64) (*storage.MaterialRequisition, error) {
	req, err := b.requisitions.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != storage.RequisitionApproved {
		return nil, fmt.Errorf("%w: requisition %d is %s", storage.ErrInvalidTransition, id, req.Status)
	}
	return req, nil
}

// rollback returns the pieces of a failed attempt. It runs on a context that
// survives cancellation of the caller.
func (b *base) rollback(ctx context.Context, op string, pieceIDs []int64) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, id := range pieceIDs {
		if err := b.pieces.ReturnPiece(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("return piece %d: %w", id, err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		b.log.Error("rollback incomplete", slog.String("op", op), slog.String("error", err.Error()))
		return err
	}

	return nil
}

func (b *base) observe(strategy string, err error) {
	if b.observer == nil {
		return
	}
	outcome := "allocated"
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, storage.ErrConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	b.observer.ObserveAllocation(strategy, outcome)
}
