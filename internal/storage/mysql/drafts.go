package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"cutting-erp/internal/storage"
)

var draftColumns = []any{
	"id", "requisition_ids", "bars", "status", "version", "saved_by",
	"issued_by", "received_by", "issued_at", "created_at", "updated_at",
}

func scanDraft(row rowScanner) (storage.IssueWindowDraft, error) {
	var (
		d         storage.IssueWindowDraft
		ids, bars []byte
		issuedAt  sql.NullTime
	)

	err := row.Scan(&d.ID, &ids, &bars, &d.Status, &d.Version, &d.SavedBy,
		&d.IssuedBy, &d.ReceivedBy, &issuedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}

	if err := json.Unmarshal(ids, &d.RequisitionIDs); err != nil {
		return d, fmt.Errorf("decode requisition ids: %w", err)
	}
	if err := json.Unmarshal(bars, &d.Bars); err != nil {
		return d, fmt.Errorf("decode bars: %w", err)
	}
	d.IssuedAt = timePtr(issuedAt)
	return d, nil
}

func (s *Storage) getDraft(ctx context.Context, q execer, id int64) (*storage.IssueWindowDraft, error) {
	query, args, err := s.goqu.From("issue_window_drafts").Select(draftColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	d, err := scanDraft(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Storage) GetDraft(ctx context.Context, id int64) (*storage.IssueWindowDraft, error) {
	const op = "storage.mysql.GetDraft"

	d, err := s.getDraft(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (s *Storage) ListDrafts(ctx context.Context, statuses []storage.DraftStatus) ([]storage.IssueWindowDraft, error) {
	const op = "storage.mysql.ListDrafts"

	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	query, args, err := s.goqu.From("issue_window_drafts").Select(draftColumns...).
		Where(goqu.C("status").In(values)).
		Order(goqu.C("updated_at").Desc(), goqu.C("id").Desc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	drafts := []storage.IssueWindowDraft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		drafts = append(drafts, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return drafts, nil
}

// SaveDraft inserts the draft for its requisition set or replaces the bars of
// the existing one. d.Version must equal the stored version (0 for a new set).
func (s *Storage) SaveDraft(ctx context.Context, d storage.IssueWindowDraft) (storage.IssueWindowDraft, error) {
	const op = "storage.mysql.SaveDraft"

	ids := storage.NormalizeIDs(d.RequisitionIDs)
	key := storage.RequisitionKey(ids)

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: encode ids: %w", op, err)
	}
	bars := d.Bars
	if bars == nil {
		bars = []storage.BarAssignment{}
	}
	barsJSON, err := json.Marshal(bars)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: encode bars: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var (
		id      int64
		status  storage.DraftStatus
		version int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, status, version FROM issue_window_drafts WHERE requisition_key = ? FOR UPDATE`, key,
	).Scan(&id, &status, &version)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if d.Version != 0 {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: no draft for %s at version %d: %w", op, key, d.Version, storage.ErrConflict)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO issue_window_drafts
				(requisition_key, requisition_ids, bars, status, version, saved_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
			key, idsJSON, barsJSON, string(storage.DraftOpen), d.SavedBy, now, now)
		if err != nil {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: insert: %w", op, mapError(err))
		}
		if id, err = res.LastInsertId(); err != nil {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: last insert id: %w", op, err)
		}

	case err != nil:
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: lock draft: %w", op, err)

	default:
		if status != storage.DraftOpen {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: draft %d is %s: %w", op, id, status, storage.ErrInvalidTransition)
		}
		if d.Version != version {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: draft %d is at version %d, got %d: %w",
				op, id, version, d.Version, storage.ErrConflict)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE issue_window_drafts
			SET bars = ?, saved_by = ?, version = version + 1, updated_at = ?
			WHERE id = ?`,
			barsJSON, d.SavedBy, now, id)
		if err != nil {
			return storage.IssueWindowDraft{}, fmt.Errorf("%s: update: %w", op, err)
		}
	}

	saved, err := s.getDraft(ctx, tx, id)
	if err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: reload: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return storage.IssueWindowDraft{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return *saved, nil
}

func (s *Storage) UpdateDraftStatus(ctx context.Context, upd storage.DraftStatusUpdate) error {
	const op = "storage.mysql.UpdateDraftStatus"

	if !upd.From.CanTransitionTo(upd.To) {
		return fmt.Errorf("%s: %w: %s to %s", op, storage.ErrInvalidTransition, upd.From, upd.To)
	}

	now := time.Now().UTC()

	var (
		res sql.Result
		err error
	)
	if upd.To == storage.DraftIssued {
		res, err = s.db.ExecContext(ctx, `
			UPDATE issue_window_drafts
			SET status = ?, issued_by = ?, received_by = ?, issued_at = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(upd.To), upd.IssuedBy, upd.ReceivedBy, upd.IssuedAt, now, upd.ID, string(upd.From))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE issue_window_drafts
			SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(upd.To), now, upd.ID, string(upd.From))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: draft %d not %s: %w", op, upd.ID, upd.From, casMiss(ctx, s.db, "issue_window_drafts", upd.ID, storage.ErrConflict))
	}
	return nil
}

func (s *Storage) DeleteDraft(ctx context.Context, id int64) error {
	const op = "storage.mysql.DeleteDraft"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM issue_window_drafts WHERE id = ? AND status = ?`, id, string(storage.DraftOpen))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: draft %d: %w", op, id, casMiss(ctx, s.db, "issue_window_drafts", id, storage.ErrInvalidTransition))
	}
	return nil
}
