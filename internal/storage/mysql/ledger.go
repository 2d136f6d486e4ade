package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cutting-erp/internal/storage"
)

// CommitIssuance issues the entry's pieces, flips the requisition to issued
// and writes its ledger entry in one transaction.
func (s *Storage) CommitIssuance(ctx context.Context, entry storage.IssuanceEntry) (int64, error) {
	const op = "storage.mysql.CommitIssuance"

	pieceIDs, err := json.Marshal(idList(entry.PieceIDs))
	if err != nil {
		return 0, fmt.Errorf("%s: encode piece ids: %w", op, err)
	}
	sharedIDs, err := json.Marshal(idList(entry.SharedPieceIDs))
	if err != nil {
		return 0, fmt.Errorf("%s: encode shared piece ids: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE material_requisitions
		SET status = ?, job_card_id = ?, issued_by = ?, received_by = ?, issued_at = ?
		WHERE id = ? AND status = ?`,
		string(storage.RequisitionIssued), nullInt64(entry.JobCardID), entry.IssuedBy, entry.ReceivedBy, entry.IssuedAt,
		entry.RequisitionID, string(storage.RequisitionApproved))
	if err != nil {
		return 0, fmt.Errorf("%s: mark issued: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: requisition %d not approved: %w",
			op, entry.RequisitionID, casMiss(ctx, tx, "material_requisitions", entry.RequisitionID, storage.ErrConflict))
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE material_pieces
		SET status = ?, job_card_id = ?, issued_at = ?, issued_by = ?
		WHERE id = ? AND status = ? AND requisition_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("%s: prepare piece update: %w", op, err)
	}
	defer stmt.Close()

	for _, id := range entry.PieceIDs {
		res, err := stmt.ExecContext(ctx,
			string(storage.PieceIssued), nullInt64(entry.JobCardID), entry.IssuedAt, entry.IssuedBy,
			id, string(storage.PieceAllocated), entry.RequisitionID)
		if err != nil {
			return 0, fmt.Errorf("%s: issue piece %d: %w", op, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%s: rows affected: %w", op, err)
		}
		if n == 0 {
			return 0, fmt.Errorf("%s: piece %d not allocated to requisition %d: %w",
				op, id, entry.RequisitionID, casMiss(ctx, tx, "material_pieces", id, storage.ErrConflict))
		}
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO issuance_ledger
			(issue_no, requisition_id, job_card_id, piece_ids, shared_piece_ids, piece_count,
			 total_length_mm, scrap_mm, total_cost, issued_by, received_by, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.IssueNo, entry.RequisitionID, nullInt64(entry.JobCardID), pieceIDs, sharedIDs, entry.PieceCount,
		entry.TotalLengthMM, entry.ScrapMM, entry.TotalCost, entry.IssuedBy, entry.ReceivedBy, entry.IssuedAt)
	if err != nil {
		return 0, fmt.Errorf("%s: insert ledger: %w", op, mapError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: last insert id: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	return id, nil
}

func (s *Storage) Issuances(ctx context.Context, requisitionID int64) ([]storage.IssuanceEntry, error) {
	const op = "storage.mysql.Issuances"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_no, requisition_id, job_card_id, piece_ids, shared_piece_ids, piece_count,
		       total_length_mm, scrap_mm, total_cost, issued_by, received_by, issued_at
		FROM issuance_ledger WHERE requisition_id = ? ORDER BY id`, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []storage.IssuanceEntry
	for rows.Next() {
		var (
			e         storage.IssuanceEntry
			jobCard   sql.NullInt64
			pieceIDs  []byte
			sharedIDs []byte
		)
		if err := rows.Scan(&e.ID, &e.IssueNo, &e.RequisitionID, &jobCard, &pieceIDs, &sharedIDs, &e.PieceCount,
			&e.TotalLengthMM, &e.ScrapMM, &e.TotalCost, &e.IssuedBy, &e.ReceivedBy, &e.IssuedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		if err := json.Unmarshal(pieceIDs, &e.PieceIDs); err != nil {
			return nil, fmt.Errorf("%s: decode piece ids: %w", op, err)
		}
		if len(sharedIDs) > 0 {
			if err := json.Unmarshal(sharedIDs, &e.SharedPieceIDs); err != nil {
				return nil, fmt.Errorf("%s: decode shared piece ids: %w", op, err)
			}
		}
		e.JobCardID = int64Ptr(jobCard)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return entries, nil
}

// idList keeps nil id slices out of JSON columns as null.
func idList(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
