package draft

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"cutting-erp/internal/service/allocation"
	"cutting-erp/internal/storage"
)

type IssueInput struct {
	IssuedBy   string
	ReceivedBy string
}

// Issue executes a finalized draft requisition by requisition, lowest id
// first so every bar's owner issues before the requisitions sharing it. A
// requisition that fails does not undo the ones already issued; the draft
// becomes issued as soon as one requisition succeeds.
func (s *Service) Issue(ctx context.Context, id int64, in IssueInput) (*storage.DraftIssueReport, error) {
	const op = "service.draft.Issue"

	if strings.TrimSpace(in.IssuedBy) == "" {
		return nil, fmt.Errorf("%s: %w: issued_by is required", op, storage.ErrValidation)
	}

	d, err := s.drafts.GetDraft(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if d.Status != storage.DraftFinalized {
		return nil, fmt.Errorf("%s: %w: draft %d is %s, finalize it first", op, storage.ErrInvalidTransition, id, d.Status)
	}

	reqs, err := s.requisitions.GetRequisitions(ctx, d.RequisitionIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slices.SortFunc(reqs, func(a, b storage.MaterialRequisition) int { return cmp.Compare(a.ID, b.ID) })

	for i := range d.Bars {
		d.Bars[i].Recalculate()
	}

	if err := s.verifyBars(ctx, reqs, d.Bars); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.writeBack(ctx, reqs, d.Bars); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := s.log.With(slog.String("op", op), slog.Int64("draft_id", id))
	report := &storage.DraftIssueReport{DraftID: id, Status: d.Status, Remnants: []int64{}}
	var failures []error
	served := make(map[int64]bool, len(reqs))

	for _, r := range reqs {
		res := storage.RequisitionIssueResult{RequisitionID: r.ID}

		if r.Status == storage.RequisitionIssued {
			res.Outcome = storage.OutcomeAlreadyIssued
			served[r.ID] = true
			report.Succeeded++
			report.Results = append(report.Results, res)
			s.observe(res.Outcome)
			continue
		}

		entry, err := s.issueRequisition(ctx, r.ID, d.Bars, served, in)
		if err != nil {
			log.Error("requisition not issued", slog.Int64("requisition_id", r.ID), slog.String("error", err.Error()))
			res.Outcome = storage.OutcomeFailed
			res.Error = err.Error()
			report.Failed++
			report.Results = append(report.Results, res)
			failures = append(failures, err)
			s.observe(res.Outcome)
			continue
		}

		res.Outcome = storage.OutcomeIssued
		res.IssueNo = entry.IssueNo
		served[r.ID] = true
		report.Succeeded++
		report.Results = append(report.Results, res)

		report.Remnants = append(report.Remnants, s.returnRemnants(ctx, log, r.ID, d.Bars)...)
	}

	if report.Succeeded == 0 {
		return report, fmt.Errorf("%s: no requisition issued: %w", op, errors.Join(failures...))
	}

	issuedAt := s.now().UTC()
	err = s.drafts.UpdateDraftStatus(ctx, storage.DraftStatusUpdate{
		ID:         id,
		From:       storage.DraftFinalized,
		To:         storage.DraftIssued,
		IssuedBy:   in.IssuedBy,
		ReceivedBy: in.ReceivedBy,
		IssuedAt:   &issuedAt,
	})
	if err != nil {
		return report, fmt.Errorf("%s: mark draft issued: %w", op, err)
	}
	report.Status = storage.DraftIssued

	log.Info("draft issued",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("remnants", len(report.Remnants)),
	)

	if report.Failed > 0 {
		return report, fmt.Errorf("%s: %w: %d of %d requisitions failed",
			op, storage.ErrPartialFailure, report.Failed, len(report.Results))
	}

	return report, nil
}

func (s *Service) issueRequisition(
	ctx context.Context,
	requisitionID int64,
	bars []storage.BarAssignment,
	served map[int64]bool,
	in IssueInput,
) (*storage.IssuanceEntry, error) {
	for _, b := range bars {
		owner := allocation.BarOwner(b)
		if b.PieceID == 0 || owner == requisitionID || served[owner] || !hasCut(b, requisitionID) {
			continue
		}
		// the shared bar was never cut
		return nil, fmt.Errorf("%w: piece %d was not issued to requisition %d", storage.ErrConflict, b.PieceID, owner)
	}

	_, err := s.allocator.Allocate(ctx, allocation.Request{RequisitionID: requisitionID, Bars: bars})
	if err != nil {
		return nil, err
	}
	return s.issuer.IssueCuts(ctx, requisitionID, cutUsage(requisitionID, bars), in.IssuedBy, in.ReceivedBy)
}

func hasCut(b storage.BarAssignment, requisitionID int64) bool {
	for _, c := range b.Cuts {
		if c.RequisitionID == requisitionID {
			return true
		}
	}
	return false
}

// cutUsage sums what a requisition takes from the draft's bars: the length of
// its cuts, the scrap left on the bars it owns and the pieces it shares with
// their owners.
func cutUsage(requisitionID int64, bars []storage.BarAssignment) storage.CutUsage {
	var u storage.CutUsage
	for _, b := range bars {
		if b.PieceID == 0 {
			continue
		}
		owner := allocation.BarOwner(b)
		if owner == requisitionID && b.IsScrap {
			u.ScrapMM += b.RemainingMM
		}

		mine := 0
		for _, c := range b.Cuts {
			if c.RequisitionID == requisitionID {
				mine += c.CutLengthMM
			}
		}
		if mine == 0 {
			continue
		}
		u.CutLengthMM += mine
		if owner != requisitionID {
			u.SharedPieceIDs = append(u.SharedPieceIDs, b.PieceID)
		}
	}
	return u
}

// verifyBars checks the length and material of the bars still to be cut
// against their pieces as they are now. Bars owned by a requisition that is
// already issued are skipped. Who holds a piece is left to the allocator.
func (s *Service) verifyBars(ctx context.Context, reqs []storage.MaterialRequisition, bars []storage.BarAssignment) error {
	specs := storage.ItemSpecs(reqs...)
	issued := make(map[int64]bool)
	for _, r := range reqs {
		if r.Status == storage.RequisitionIssued {
			issued[r.ID] = true
		}
	}

	for _, b := range bars {
		owner := allocation.BarOwner(b)
		if b.PieceID == 0 || owner == 0 || issued[owner] {
			continue
		}

		p, err := s.pieces.GetPiece(ctx, b.PieceID)
		if err != nil {
			return fmt.Errorf("piece %d: %w", b.PieceID, err)
		}

		if err := b.CheckPiece(*p, specs); err != nil {
			return err
		}
	}

	return nil
}

// writeBack records on every item which pieces its cuts came from. Items of
// requisitions that are already issued keep what they have.
func (s *Service) writeBack(ctx context.Context, reqs []storage.MaterialRequisition, bars []storage.BarAssignment) error {
	type indexed struct {
		index int
		cut   storage.PieceCut
	}

	byItem := make(map[int64][]indexed)
	for _, b := range bars {
		if b.PieceID == 0 {
			continue
		}
		for _, c := range b.Cuts {
			byItem[c.RequisitionItemID] = append(byItem[c.RequisitionItemID], indexed{
				index: c.CutIndex,
				cut:   storage.PieceCut{PieceID: b.PieceID, CutLengthMM: c.CutLengthMM},
			})
		}
	}

	for _, r := range reqs {
		if r.Status == storage.RequisitionIssued {
			continue
		}
		for _, item := range r.Items {
			rows := byItem[item.ID]
			if len(rows) == 0 {
				continue
			}
			slices.SortStableFunc(rows, func(a, b indexed) int { return cmp.Compare(a.index, b.index) })

			cuts := make([]storage.PieceCut, len(rows))
			for i, row := range rows {
				cuts[i] = row.cut
			}
			if err := s.requisitions.SaveSelectedPieces(ctx, item.ID, cuts); err != nil {
				return fmt.Errorf("write back item %d: %w", item.ID, err)
			}
		}
	}

	return nil
}

func (s *Service) returnRemnants(ctx context.Context, log *slog.Logger, requisitionID int64, bars []storage.BarAssignment) []int64 {
	var ids []int64
	for _, b := range bars {
		if b.PieceID == 0 || b.RemainingMM < storage.ScrapThresholdMM || allocation.BarOwner(b) != requisitionID {
			continue
		}
		remnantID, err := s.pieces.CreateRemnant(ctx, b.PieceID, b.RemainingMM)
		if err != nil {
			log.Error("remnant not returned to stock",
				slog.Int64("piece_id", b.PieceID),
				slog.Int("remaining_mm", b.RemainingMM),
				slog.String("error", err.Error()),
			)
			continue
		}
		ids = append(ids, remnantID)
	}
	return ids
}

func (s *Service) observe(outcome storage.IssueOutcome) {
	if s.observer != nil {
		s.observer.ObserveIssuance(outcome)
	}
}
