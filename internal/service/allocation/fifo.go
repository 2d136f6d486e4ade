package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cutting-erp/internal/storage"
)

const StrategyFIFO = "fifo"

// FifoAllocator consumes whole pieces, oldest receipt first, until the
// requested length is covered.
type FifoAllocator struct {
	base
	ledger    IssuanceLedger
	publisher Publisher
	now       func() time.Time
}

func NewFifoAllocator(
	log *slog.Logger,
	pieces PieceInventory,
	requisitions RequisitionStore,
	ledger IssuanceLedger,
	publisher Publisher,
	observer Observer,
) *FifoAllocator {
	return &FifoAllocator{
		base:      base{log: log, pieces: pieces, requisitions: requisitions, observer: observer},
		ledger:    ledger,
		publisher: publisher,
		now:       time.Now,
	}
}

func (a *FifoAllocator) Name() string { return StrategyFIFO }

func (a *FifoAllocator) Allocate(ctx context.Context, req Request) (*storage.AllocationResult, error) {
	res, err := a.allocate(ctx, req)
	a.observe(StrategyFIFO, err)
	return res, err
}

func (a *FifoAllocator) allocate(ctx context.Context, req Request) (*storage.AllocationResult, error) {
	const op = "service.allocation.FifoAllocator.Allocate"

	if !req.Spec.Valid() {
		return nil, fmt.Errorf("%s: %w: material spec is required", op, storage.ErrValidation)
	}
	if req.RequiredLengthMM <= 0 {
		return nil, fmt.Errorf("%s: %w: required length must be positive", op, storage.ErrValidation)
	}

	if _, err := a.approvedRequisition(ctx, req.RequisitionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	held, err := a.pieces.AllocatedPieces(ctx, req.RequisitionID)
	if err != nil {
		return nil, fmt.Errorf("%s: list allocated pieces: %w", op, err)
	}

	result := &storage.AllocationResult{
		RequisitionID:    req.RequisitionID,
		RequiredLengthMM: req.RequiredLengthMM,
	}

	// pieces of the spec already held count toward the requested length
	for _, p := range held {
		if p.MaterialSpec == req.Spec {
			result.PieceIDs = append(result.PieceIDs, p.ID)
			result.AllocatedMM += p.CurrentLengthMM
		}
	}
	alreadyHeld := len(result.PieceIDs)

	var booked []int64
	if result.AllocatedMM < req.RequiredLengthMM {
		pool, err := a.pieces.AvailablePiecesByFIFO(ctx, req.Spec)
		if err != nil {
			return nil, fmt.Errorf("%s: load pool: %w", op, err)
		}

		for _, p := range pool {
			if result.AllocatedMM >= req.RequiredLengthMM {
				break
			}

			err := a.pieces.AllocatePiece(ctx, p.ID, req.RequisitionID)
			if errors.Is(err, storage.ErrConflict) {
				// taken since the snapshot was read
				a.log.Debug("piece lost to another allocation", slog.String("op", op), slog.Int64("piece_id", p.ID))
				continue
			}
			if err != nil {
				_ = a.rollback(ctx, op, booked)
				return nil, fmt.Errorf("%s: allocate piece %d: %w", op, p.ID, err)
			}

			booked = append(booked, p.ID)
			result.PieceIDs = append(result.PieceIDs, p.ID)
			result.AllocatedMM += p.CurrentLengthMM
		}
	}

	if result.AllocatedMM < req.RequiredLengthMM {
		if err := a.rollback(ctx, op, booked); err != nil {
			return nil, fmt.Errorf("%s: %w: rollback: %w", op, storage.ErrInsufficientStock, err)
		}
		return nil, fmt.Errorf("%s: %w: %s needs %dmm, pool holds %dmm",
			op, storage.ErrInsufficientStock, req.Spec, req.RequiredLengthMM, result.AllocatedMM)
	}

	a.log.Info("pieces allocated",
		slog.String("op", op),
		slog.Int64("requisition_id", req.RequisitionID),
		slog.Int("pieces", len(result.PieceIDs)),
		slog.Int("already_held", alreadyHeld),
		slog.Int("allocated_mm", result.AllocatedMM),
	)

	return result, nil
}

// IssueAll issues every piece allocated to an approved requisition, marks the
// requisition issued and records one ledger entry. A nil jobCardID falls back
// to the requisition's own job card.
func (a *FifoAllocator) IssueAll(ctx context.Context, requisitionID int64, jobCardID *int64, issuedBy, receivedBy string) (*storage.IssuanceEntry, error) {
	return a.issue(ctx, "service.allocation.FifoAllocator.IssueAll", requisitionID, jobCardID, issuedBy, receivedBy, nil)
}

// IssueCuts issues a requisition served from the bars of a cutting draft. The
// ledger records the cut length it consumed instead of whole pieces. A
// requisition whose cuts all sit on bars held by another requisition of the
// draft issues without pieces of its own.
func (a *FifoAllocator) IssueCuts(ctx context.Context, requisitionID int64, usage storage.CutUsage, issuedBy, receivedBy string) (*storage.IssuanceEntry, error) {
	return a.issue(ctx, "service.allocation.FifoAllocator.IssueCuts", requisitionID, nil, issuedBy, receivedBy, &usage)
}

func (a *FifoAllocator) issue(
	ctx context.Context,
	op string,
	requisitionID int64,
	jobCardID *int64,
	issuedBy, receivedBy string,
	usage *storage.CutUsage,
) (*storage.IssuanceEntry, error) {
	if strings.TrimSpace(issuedBy) == "" {
		return nil, fmt.Errorf("%s: %w: issued_by is required", op, storage.ErrValidation)
	}

	req, err := a.approvedRequisition(ctx, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if jobCardID == nil {
		jobCardID = req.JobCardID
	}

	pieces, err := a.pieces.AllocatedPieces(ctx, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("%s: list allocated pieces: %w", op, err)
	}
	if len(pieces) == 0 && (usage == nil || len(usage.SharedPieceIDs) == 0) {
		return nil, fmt.Errorf("%s: %w: requisition %d has no allocated pieces", op, storage.ErrValidation, requisitionID)
	}

	entry := storage.IssuanceEntry{
		IssueNo:       uuid.NewString(),
		RequisitionID: requisitionID,
		JobCardID:     jobCardID,
		TotalCost:     decimal.Zero,
		IssuedBy:      issuedBy,
		ReceivedBy:    receivedBy,
		IssuedAt:      a.now().UTC(),
	}

	for _, p := range pieces {
		entry.PieceIDs = append(entry.PieceIDs, p.ID)
		entry.TotalLengthMM += p.CurrentLengthMM
		entry.TotalCost = entry.TotalCost.Add(p.UnitCost)
	}
	entry.PieceCount = len(entry.PieceIDs)

	if usage != nil {
		entry.TotalLengthMM = usage.CutLengthMM
		entry.ScrapMM = usage.ScrapMM
		entry.SharedPieceIDs = slices.Clone(usage.SharedPieceIDs)
	}

	// pieces, requisition and ledger change together or not at all
	id, err := a.ledger.CommitIssuance(ctx, entry)
	if err != nil {
		a.log.Error("issuance not committed",
			slog.String("op", op),
			slog.Int64("requisition_id", requisitionID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s: commit issuance: %w", op, err)
	}
	entry.ID = id

	if a.observer != nil {
		a.observer.ObserveIssuance(storage.OutcomeIssued)
	}

	if a.publisher != nil {
		if err := a.publisher.PublishIssued(ctx, entry); err != nil {
			a.log.Error("issuance event not published",
				slog.String("op", op),
				slog.String("issue_no", entry.IssueNo),
				slog.String("error", err.Error()),
			)
		}
	}

	a.log.Info("requisition issued",
		slog.String("op", op),
		slog.Int64("requisition_id", requisitionID),
		slog.String("issue_no", entry.IssueNo),
		slog.Int("pieces", entry.PieceCount),
		slog.Int("total_mm", entry.TotalLengthMM),
	)

	return &entry, nil
}
