package mysql

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type Migrator struct {
	m   *migrate.Migrate
	log *slog.Logger
}

type migrateLogger struct {
	log     *slog.Logger
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf("migration: "+format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.verbose
}

// NewMigrator applies the SQL files in dir to the database behind dsn.
func NewMigrator(dsn, dir string, verbose bool, log *slog.Logger) (*Migrator, error) {
	const op = "storage.mysql.NewMigrator"

	m, err := migrate.New("file://"+dir, "mysql://"+dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.Log = migrateLogger{log: log, verbose: verbose}

	return &Migrator{m: m, log: log}, nil
}

func (m *Migrator) Up() error {
	err := m.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.log.Info("migration: no change needed")
		return nil
	}
	return err
}

func (m *Migrator) Down() error {
	err := m.m.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func (m *Migrator) Steps(n int) error {
	return m.m.Steps(n)
}

func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
