package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opsline/deckhand/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	// One pooled connection: SQLite has a single writer anyway, and a
	// :memory: database exists only on the connection that created it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID           string  `db:"id"`
	TargetName   string  `db:"target_name"`
	TriggerKind  string  `db:"trigger_kind"`
	Ref          string  `db:"ref"`
	CommitSHA    string  `db:"commit_sha"`
	Status       string  `db:"status"`
	Steps        string  `db:"steps"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, "", opts)
}

func (s *SQLiteStore) ListRunsByTarget(ctx context.Context, target string, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, target, opts)
}

func (s *SQLiteStore) LatestRunByTarget(ctx context.Context, target string) (*domain.Run, error) {
	return latestRunByTarget(ctx, s.db, target)
}

func (s *SQLiteStore) FailAbandonedRuns(ctx context.Context, message string) (int64, error) {
	return failAbandonedRuns(ctx, s.db, message)
}

func (s *SQLiteStore) PruneRuns(ctx context.Context, cutoff time.Time, keepPerTarget int) (int64, error) {
	return pruneRuns(ctx, s.db, cutoff, keepPerTarget)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, "", opts)
}

func (s *txSQLiteStore) ListRunsByTarget(ctx context.Context, target string, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, target, opts)
}

func (s *txSQLiteStore) LatestRunByTarget(ctx context.Context, target string) (*domain.Run, error) {
	return latestRunByTarget(ctx, s.tx, target)
}

func (s *txSQLiteStore) FailAbandonedRuns(ctx context.Context, message string) (int64, error) {
	return failAbandonedRuns(ctx, s.tx, message)
}

func (s *txSQLiteStore) PruneRuns(ctx context.Context, cutoff time.Time, keepPerTarget int) (int64, error) {
	return pruneRuns(ctx, s.tx, cutoff, keepPerTarget)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	row, err := runToRow(run)
	if err != nil {
		return NewStoreError("CreateRun", run.ID, "failed to serialize steps", ErrInvalidData)
	}

	query := `
		INSERT INTO runs (
			id, target_name, trigger_kind, ref, commit_sha, status, steps,
			error_message, created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :target_name, :trigger_kind, :ref, :commit_sha, :status, :steps,
			:error_message, :created_at, :updated_at, :started_at, :finished_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", run.ID, err.Error(), err)
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	query := `SELECT * FROM runs WHERE id = ?`

	var row runRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}

	return rowToRun(&row)
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	row, err := runToRow(run)
	if err != nil {
		return NewStoreError("UpdateRun", run.ID, "failed to serialize steps", ErrInvalidData)
	}

	query := `
		UPDATE runs SET
			status = :status,
			ref = :ref,
			commit_sha = :commit_sha,
			steps = :steps,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRun", run.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRun", run.ID, "run not found", ErrNotFound)
	}

	return nil
}

func listRuns(ctx context.Context, exec executor, target string, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()

	query := `SELECT * FROM runs`
	var conds []string
	var args []any
	if target != "" {
		conds = append(conds, "target_name = ?")
		args = append(args, target)
	}
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	var rows []runRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(&row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, nil
}

func latestRunByTarget(ctx context.Context, exec executor, target string) (*domain.Run, error) {
	query := `SELECT * FROM runs WHERE target_name = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`

	var row runRow
	err := exec.GetContext(ctx, &row, query, target)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestRunByTarget", "", "no runs for target "+target, ErrNotFound)
		}
		return nil, NewStoreError("LatestRunByTarget", "", err.Error(), err)
	}

	return rowToRun(&row)
}

func failAbandonedRuns(ctx context.Context, exec executor, message string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		UPDATE runs SET
			status = ?,
			error_message = ?,
			updated_at = ?,
			finished_at = ?
		WHERE status IN (?, ?)`

	result, err := exec.ExecContext(ctx, query,
		string(domain.RunFailed), message, now, now,
		string(domain.RunPending), string(domain.RunRunning))
	if err != nil {
		return 0, NewStoreError("FailAbandonedRuns", "", err.Error(), err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

func pruneRuns(ctx context.Context, exec executor, cutoff time.Time, keepPerTarget int) (int64, error) {
	if keepPerTarget < 0 {
		keepPerTarget = 0
	}

	// The subquery is correlated: for each candidate row it keeps the
	// newest runs of that row's own target out of the delete set.
	query := `
		DELETE FROM runs
		WHERE status IN (?, ?)
		  AND finished_at IS NOT NULL
		  AND finished_at < ?
		  AND id NOT IN (
			SELECT recent.id FROM runs AS recent
			WHERE recent.target_name = runs.target_name
			ORDER BY recent.created_at DESC, recent.rowid DESC
			LIMIT ?
		  )`

	result, err := exec.ExecContext(ctx, query,
		string(domain.RunSucceeded), string(domain.RunFailed),
		cutoff.UTC().Format(time.RFC3339), keepPerTarget)
	if err != nil {
		return 0, NewStoreError("PruneRuns", "", err.Error(), err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// =============================================================================
// Row Conversions
// =============================================================================

func runToRow(run *domain.Run) (map[string]any, error) {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return nil, err
	}

	var startedAt, finishedAt *string
	if run.StartedAt != nil {
		s := run.StartedAt.UTC().Format(time.RFC3339)
		startedAt = &s
	}
	if run.FinishedAt != nil {
		s := run.FinishedAt.UTC().Format(time.RFC3339)
		finishedAt = &s
	}

	return map[string]any{
		"id":            run.ID,
		"target_name":   run.Target,
		"trigger_kind":  string(run.Trigger),
		"ref":           run.Ref,
		"commit_sha":    run.Commit,
		"status":        string(run.Status),
		"steps":         string(stepsJSON),
		"error_message": run.ErrorMessage,
		"created_at":    run.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    run.UpdatedAt.UTC().Format(time.RFC3339),
		"started_at":    startedAt,
		"finished_at":   finishedAt,
	}, nil
}

func rowToRun(row *runRow) (*domain.Run, error) {
	var steps []domain.StepResult
	if row.Steps != "" {
		if err := json.Unmarshal([]byte(row.Steps), &steps); err != nil {
			return nil, NewStoreError("rowToRun", row.ID, "failed to parse steps", ErrInvalidData)
		}
	}

	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", row.ID, "invalid updated_at", ErrInvalidData)
	}

	run := &domain.Run{
		ID:           row.ID,
		Target:       row.TargetName,
		Trigger:      domain.TriggerKind(row.TriggerKind),
		Ref:          row.Ref,
		Commit:       row.CommitSHA,
		Status:       domain.RunStatus(row.Status),
		Steps:        steps,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if row.StartedAt != nil {
		t, err := time.Parse(time.RFC3339, *row.StartedAt)
		if err != nil {
			return nil, NewStoreError("rowToRun", row.ID, "invalid started_at", ErrInvalidData)
		}
		run.StartedAt = &t
	}
	if row.FinishedAt != nil {
		t, err := time.Parse(time.RFC3339, *row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToRun", row.ID, "invalid finished_at", ErrInvalidData)
		}
		run.FinishedAt = &t
	}

	return run, nil
}
