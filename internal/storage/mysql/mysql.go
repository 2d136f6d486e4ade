package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/go-sql-driver/mysql"

	"cutting-erp/internal/config"
	"cutting-erp/internal/storage"
)

const (
	errDuplicateEntry = 1062
	errNoReferenced   = 1452
)

type Storage struct {
	db   *sql.DB
	goqu *goqu.Database
}

func New(cfg config.DB) (*Storage, error) {
	const op = "storage.mysql.New"

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return NewFromDB(db), nil
}

func NewFromDB(db *sql.DB) *Storage {
	return &Storage{db: db, goqu: goqu.New("mysql", db)}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// mapError turns driver errors the callers care about into storage errors.
func mapError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case errDuplicateEntry:
		return fmt.Errorf("%w: %s", storage.ErrConflict, myErr.Message)
	case errNoReferenced:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, myErr.Message)
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// casMiss explains an UPDATE or DELETE guarded by a status that touched no
// row: the row is gone, or its status moved on.
func casMiss(ctx context.Context, q execer, table string, id int64, moved error) error {
	var exists bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return moved
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
