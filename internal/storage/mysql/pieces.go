package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"cutting-erp/internal/storage"
)

var pieceColumns = []any{
	"id", "material_id", "grade", "diameter", "current_length_mm", "original_length_mm",
	"status", "location", "received_at", "source_doc_id", "source_doc_no", "unit_cost",
	"requisition_id", "job_card_id", "issued_at", "issued_by",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPiece(row rowScanner) (storage.MaterialPiece, error) {
	var (
		p                         storage.MaterialPiece
		sourceDoc, reqID, jobCard sql.NullInt64
		issuedAt                  sql.NullTime
	)

	err := row.Scan(&p.ID, &p.MaterialID, &p.Grade, &p.Diameter, &p.CurrentLengthMM, &p.OriginalLengthMM,
		&p.Status, &p.Location, &p.ReceivedAt, &sourceDoc, &p.SourceDocNo, &p.UnitCost,
		&reqID, &jobCard, &issuedAt, &p.IssuedBy)
	if err != nil {
		return p, err
	}

	p.SourceDocID = int64Ptr(sourceDoc)
	p.RequisitionID = int64Ptr(reqID)
	p.JobCardID = int64Ptr(jobCard)
	p.IssuedAt = timePtr(issuedAt)
	return p, nil
}

func (s *Storage) queryPieces(ctx context.Context, op string, ds *goqu.SelectDataset) ([]storage.MaterialPiece, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var pieces []storage.MaterialPiece
	for rows.Next() {
		p, err := scanPiece(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		pieces = append(pieces, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}

	return pieces, nil
}

func (s *Storage) AvailablePiecesByFIFO(ctx context.Context, spec storage.MaterialSpec) ([]storage.MaterialPiece, error) {
	const op = "storage.mysql.AvailablePiecesByFIFO"

	ds := s.goqu.From("material_pieces").
		Select(pieceColumns...).
		Where(goqu.Ex{
			"material_id": spec.MaterialID,
			"grade":       spec.Grade,
			"diameter":    spec.Diameter,
			"status":      string(storage.PieceAvailable),
		}).
		Order(goqu.C("received_at").Asc(), goqu.C("id").Asc())

	return s.queryPieces(ctx, op, ds)
}

func (s *Storage) AllocatedPieces(ctx context.Context, requisitionID int64) ([]storage.MaterialPiece, error) {
	const op = "storage.mysql.AllocatedPieces"

	ds := s.goqu.From("material_pieces").
		Select(pieceColumns...).
		Where(goqu.Ex{
			"requisition_id": requisitionID,
			"status":         string(storage.PieceAllocated),
		}).
		Order(goqu.C("id").Asc())

	return s.queryPieces(ctx, op, ds)
}

func (s *Storage) GetPiece(ctx context.Context, id int64) (*storage.MaterialPiece, error) {
	const op = "storage.mysql.GetPiece"

	query, args, err := s.goqu.From("material_pieces").Select(pieceColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	p, err := scanPiece(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: piece %d: %w", op, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &p, nil
}

// transitionPiece moves a piece from one status to the next only if nobody
// moved it first. set holds extra assignments, each followed by its argument.
func (s *Storage) transitionPiece(ctx context.Context, op string, id int64, from, to storage.PieceStatus, set string, args ...any) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s: %w: %s to %s", op, storage.ErrInvalidTransition, from, to)
	}

	query := "UPDATE material_pieces SET status = ?" + set + " WHERE id = ? AND status = ?"
	params := append([]any{string(to)}, args...)
	params = append(params, id, string(from))

	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("%s: piece %d: %w", op, id, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: piece %d not %s: %w", op, id, from, casMiss(ctx, s.db, "material_pieces", id, storage.ErrConflict))
	}

	return nil
}

func (s *Storage) AllocatePiece(ctx context.Context, pieceID, requisitionID int64) error {
	return s.transitionPiece(ctx, "storage.mysql.AllocatePiece", pieceID,
		storage.PieceAvailable, storage.PieceAllocated,
		", requisition_id = ?", requisitionID)
}

// ReturnPiece puts an allocated piece back on stock. Returning a piece that is
// already available is a no-op.
func (s *Storage) ReturnPiece(ctx context.Context, pieceID int64) error {
	const op = "storage.mysql.ReturnPiece"

	err := s.transitionPiece(ctx, op, pieceID,
		storage.PieceAllocated, storage.PieceAvailable,
		", requisition_id = NULL")
	if !errors.Is(err, storage.ErrConflict) {
		return err
	}

	var status string
	if qErr := s.db.QueryRowContext(ctx, "SELECT status FROM material_pieces WHERE id = ?", pieceID).Scan(&status); qErr != nil {
		return fmt.Errorf("%s: piece %d: %w", op, pieceID, mapError(qErr))
	}
	if storage.PieceStatus(status) == storage.PieceAvailable {
		return nil
	}
	return err
}

func (s *Storage) IssuePiece(ctx context.Context, pieceID int64, jobCardID *int64, issuedAt time.Time, issuedBy string) error {
	return s.transitionPiece(ctx, "storage.mysql.IssuePiece", pieceID,
		storage.PieceAllocated, storage.PieceIssued,
		", job_card_id = ?, issued_at = ?, issued_by = ?", nullInt64(jobCardID), issuedAt, issuedBy)
}

// InsertPiece records a received piece.
func (s *Storage) InsertPiece(ctx context.Context, p storage.MaterialPiece) (int64, error) {
	const op = "storage.mysql.InsertPiece"

	if p.Status == "" {
		p.Status = storage.PieceAvailable
	}
	if p.OriginalLengthMM == 0 {
		p.OriginalLengthMM = p.CurrentLengthMM
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO material_pieces
			(material_id, grade, diameter, current_length_mm, original_length_mm, status, location,
			 received_at, source_doc_id, source_doc_no, unit_cost, requisition_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.MaterialID, p.Grade, p.Diameter, p.CurrentLengthMM, p.OriginalLengthMM, string(p.Status), p.Location,
		p.ReceivedAt, nullInt64(p.SourceDocID), p.SourceDocNo, p.UnitCost, nullInt64(p.RequisitionID))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: last insert id: %w", op, err)
	}
	return id, nil
}

// CreateRemnant puts the offcut of a cut piece back on stock as a new
// available piece that keeps the parent's receipt date.
func (s *Storage) CreateRemnant(ctx context.Context, parentID int64, lengthMM int) (int64, error) {
	const op = "storage.mysql.CreateRemnant"

	if lengthMM < storage.ScrapThresholdMM {
		return 0, fmt.Errorf("%s: %w: remnant of %dmm is scrap", op, storage.ErrValidation, lengthMM)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO material_pieces
			(material_id, grade, diameter, current_length_mm, original_length_mm, status, location,
			 received_at, source_doc_id, source_doc_no, unit_cost)
		SELECT material_id, grade, diameter, ?, ?, ?, location, received_at, id, ?, 0
		FROM material_pieces WHERE id = ?`,
		lengthMM, lengthMM, string(storage.PieceAvailable), storage.RemnantDocNo(parentID), parentID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: piece %d: %w", op, parentID, storage.ErrNotFound)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: last insert id: %w", op, err)
	}
	return id, nil
}
