package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"cutting-erp/internal/storage"
)

func (s *Storage) GetRequisition(ctx context.Context, id int64) (*storage.MaterialRequisition, error) {
	const op = "storage.mysql.GetRequisition"

	reqs, err := s.GetRequisitions(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &reqs[0], nil
}

// GetRequisitions loads requisitions with their items and selected pieces,
// ordered by id. Any missing id fails the whole call with ErrNotFound.
func (s *Storage) GetRequisitions(ctx context.Context, ids []int64) ([]storage.MaterialRequisition, error) {
	const op = "storage.mysql.GetRequisitions"

	ids = storage.NormalizeIDs(ids)
	if len(ids) == 0 {
		return []storage.MaterialRequisition{}, nil
	}

	query, args, err := s.goqu.From("material_requisitions").
		Select("id", "req_no", "order_no", "status", "job_card_id", "issued_by", "received_by", "issued_at").
		Where(goqu.C("id").In(ids)).
		Order(goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	reqs := make([]storage.MaterialRequisition, 0, len(ids))
	index := make(map[int64]int, len(ids))

	for rows.Next() {
		var (
			r        storage.MaterialRequisition
			jobCard  sql.NullInt64
			issuedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ReqNo, &r.OrderNo, &r.Status, &jobCard, &r.IssuedBy, &r.ReceivedBy, &issuedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		r.JobCardID = int64Ptr(jobCard)
		r.IssuedAt = timePtr(issuedAt)
		r.Items = []storage.RequisitionItem{}
		index[r.ID] = len(reqs)
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}

	for _, id := range ids {
		if _, ok := index[id]; !ok {
			return nil, fmt.Errorf("%s: requisition %d: %w", op, id, storage.ErrNotFound)
		}
	}

	if err := s.loadItems(ctx, reqs, index, ids); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reqs, nil
}

func (s *Storage) loadItems(ctx context.Context, reqs []storage.MaterialRequisition, index map[int64]int, ids []int64) error {
	query, args, err := s.goqu.From("requisition_items").
		Select("id", "requisition_id", "material_id", "grade", "diameter", "part_name", "required_length_mm", "number_of_pieces").
		Where(goqu.C("requisition_id").In(ids)).
		Order(goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("items: %w", err)
	}
	defer rows.Close()

	type position struct{ req, item int }
	items := make(map[int64]position)
	var itemIDs []int64

	for rows.Next() {
		var it storage.RequisitionItem
		if err := rows.Scan(&it.ID, &it.RequisitionID, &it.MaterialID, &it.Grade, &it.Diameter,
			&it.PartName, &it.RequiredLengthMM, &it.NumberOfPieces); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		r := index[it.RequisitionID]
		items[it.ID] = position{req: r, item: len(reqs[r].Items)}
		itemIDs = append(itemIDs, it.ID)
		reqs[r].Items = append(reqs[r].Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("item rows: %w", err)
	}

	if len(itemIDs) == 0 {
		return nil
	}

	query, args, err = s.goqu.From("requisition_item_pieces").
		Select("item_id", "piece_id", "cut_length_mm").
		Where(goqu.C("item_id").In(itemIDs)).
		Order(goqu.C("item_id").Asc(), goqu.C("seq").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build pieces query: %w", err)
	}

	cuts, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("item pieces: %w", err)
	}
	defer cuts.Close()

	for cuts.Next() {
		var (
			itemID int64
			pc     storage.PieceCut
		)
		if err := cuts.Scan(&itemID, &pc.PieceID, &pc.CutLengthMM); err != nil {
			return fmt.Errorf("scan item piece: %w", err)
		}
		pos := items[itemID]
		it := &reqs[pos.req].Items[pos.item]
		it.SelectedPieces = append(it.SelectedPieces, pc)
	}

	return cuts.Err()
}

// InsertRequisition stores a requisition with its items.
func (s *Storage) InsertRequisition(ctx context.Context, r storage.MaterialRequisition) (int64, error) {
	const op = "storage.mysql.InsertRequisition"

	if r.Status == "" {
		r.Status = storage.RequisitionPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO material_requisitions (req_no, order_no, status, job_card_id) VALUES (?, ?, ?, ?)`,
		r.ReqNo, r.OrderNo, string(r.Status), nullInt64(r.JobCardID))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: last insert id: %w", op, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO requisition_items
			(requisition_id, material_id, grade, diameter, part_name, required_length_mm, number_of_pieces)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%s: prepare items: %w", op, err)
	}
	defer stmt.Close()

	for _, it := range r.Items {
		if _, err := stmt.ExecContext(ctx, id, it.MaterialID, it.Grade, it.Diameter, it.PartName,
			it.RequiredLengthMM, it.NumberOfPieces); err != nil {
			return 0, fmt.Errorf("%s: item %q: %w", op, it.PartName, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	return id, nil
}

// SaveSelectedPieces replaces the ordered piece list of an item.
func (s *Storage) SaveSelectedPieces(ctx context.Context, itemID int64, cuts []storage.PieceCut) error {
	const op = "storage.mysql.SaveSelectedPieces"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM requisition_items WHERE id = ?)`, itemID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: item %d: %w", op, itemID, storage.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM requisition_item_pieces WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("%s: clear: %w", op, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO requisition_item_pieces (item_id, seq, piece_id, cut_length_mm) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%s: prepare: %w", op, err)
	}
	defer stmt.Close()

	for seq, c := range cuts {
		if _, err := stmt.ExecContext(ctx, itemID, seq, c.PieceID, c.CutLengthMM); err != nil {
			return fmt.Errorf("%s: piece %d: %w", op, c.PieceID, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
