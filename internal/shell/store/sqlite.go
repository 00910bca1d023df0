package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored UTC timestamps compare lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z"

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
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection serializes writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database: "+err.Error(), ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
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
// Lock Operations
// =============================================================================

// lockRow represents an app_locks row in the database.
type lockRow struct {
	App        string `db:"app"`
	Owner      string `db:"owner"`
	AcquiredAt string `db:"acquired_at"`
	ExpiresAt  string `db:"expires_at"`
}

func (s *SQLiteStore) AcquireLock(ctx context.Context, lease domain.Lease) error {
	return acquireLock(ctx, s.db, lease)
}

func (s *SQLiteStore) RenewLock(ctx context.Context, app, owner string, expiresAt time.Time) error {
	return renewLock(ctx, s.db, app, owner, expiresAt)
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, app, owner string) error {
	return releaseLock(ctx, s.db, app, owner)
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployments row in the database.
type deploymentRow struct {
	ID           string  `db:"id"`
	App          string  `db:"app"`
	Version      string  `db:"version"`
	Environment  string  `db:"environment"`
	Status       string  `db:"status"`
	ErrorMessage string  `db:"error_message"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.db, record)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return updateDeployment(ctx, s.db, record)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, app string, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.db, app, opts)
}

func (s *SQLiteStore) AbandonRunningDeployments(ctx context.Context, app, reason string, at time.Time) (int, error) {
	return abandonRunningDeployments(ctx, s.db, app, reason, at)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) AcquireLock(ctx context.Context, lease domain.Lease) error {
	return acquireLock(ctx, s.tx, lease)
}

func (s *txSQLiteStore) RenewLock(ctx context.Context, app, owner string, expiresAt time.Time) error {
	return renewLock(ctx, s.tx, app, owner, expiresAt)
}

func (s *txSQLiteStore) ReleaseLock(ctx context.Context, app, owner string) error {
	return releaseLock(ctx, s.tx, app, owner)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.tx, record)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return updateDeployment(ctx, s.tx, record)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, app string, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.tx, app, opts)
}

func (s *txSQLiteStore) AbandonRunningDeployments(ctx context.Context, app, reason string, at time.Time) (int, error) {
	return abandonRunningDeployments(ctx, s.tx, app, reason, at)
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

// acquireLock inserts the lease, or takes over an existing row when it has
// expired or already belongs to the same owner.
func acquireLock(ctx context.Context, exec executor, lease domain.Lease) error {
	query := `
		INSERT INTO app_locks (app, owner, acquired_at, expires_at)
		VALUES (:app, :owner, :acquired_at, :expires_at)
		ON CONFLICT (app) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE app_locks.expires_at <= excluded.acquired_at
			OR app_locks.owner = excluded.owner`

	row := map[string]any{
		"app":         lease.App,
		"owner":       lease.Owner,
		"acquired_at": formatTime(lease.AcquiredAt),
		"expires_at":  formatTime(lease.ExpiresAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("AcquireLock", "lock", lease.App, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		holder, err := getLock(ctx, exec, lease.App)
		if err != nil {
			return NewStoreError("AcquireLock", "lock", lease.App, "lock is held", ErrLockHeld)
		}
		return NewStoreError("AcquireLock", "lock", lease.App,
			fmt.Sprintf("held by %s until %s", holder.Owner, holder.ExpiresAt.Format(time.RFC3339)), ErrLockHeld)
	}

	return nil
}

func renewLock(ctx context.Context, exec executor, app, owner string, expiresAt time.Time) error {
	query := `UPDATE app_locks SET expires_at = ? WHERE app = ? AND owner = ?`

	result, err := exec.ExecContext(ctx, query, formatTime(expiresAt), app, owner)
	if err != nil {
		return NewStoreError("RenewLock", "lock", app, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("RenewLock", "lock", app, "lease no longer held by "+owner, ErrLockLost)
	}

	return nil
}

func releaseLock(ctx context.Context, exec executor, app, owner string) error {
	query := `DELETE FROM app_locks WHERE app = ? AND owner = ?`

	result, err := exec.ExecContext(ctx, query, app, owner)
	if err != nil {
		return NewStoreError("ReleaseLock", "lock", app, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("ReleaseLock", "lock", app, "lease no longer held by "+owner, ErrLockLost)
	}

	return nil
}

func getLock(ctx context.Context, exec executor, app string) (*domain.Lease, error) {
	query := `SELECT * FROM app_locks WHERE app = ?`

	var row lockRow
	err := exec.GetContext(ctx, &row, query, app)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetLock", "lock", app, "lock not found", ErrNotFound)
		}
		return nil, NewStoreError("GetLock", "lock", app, err.Error(), err)
	}

	return &domain.Lease{
		App:        row.App,
		Owner:      row.Owner,
		AcquiredAt: parseTime(row.AcquiredAt),
		ExpiresAt:  parseTime(row.ExpiresAt),
	}, nil
}

func createDeployment(ctx context.Context, exec executor, record *domain.DeploymentRecord) error {
	query := `
		INSERT INTO deployments (
			id, app, version, environment, status, error_message, started_at, finished_at
		) VALUES (
			:id, :app, :version, :environment, :status, :error_message, :started_at, :finished_at
		)`

	_, err := exec.NamedExecContext(ctx, query, recordToRow(record))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", "deployment", record.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", "deployment", record.ID, err.Error(), err)
	}

	return nil
}

func updateDeployment(ctx context.Context, exec executor, record *domain.DeploymentRecord) error {
	query := `
		UPDATE deployments SET
			status = :status,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, recordToRow(record))
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", record.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", "deployment", record.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, app string, opts ListOptions) ([]domain.DeploymentRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments WHERE app = ? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, app, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	records := make([]domain.DeploymentRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, *rowToRecord(&row))
	}

	return records, nil
}

// abandonRunningDeployments marks runs left in the running state by a
// crashed process as failed.
func abandonRunningDeployments(ctx context.Context, exec executor, app, reason string, at time.Time) (int, error) {
	query := `
		UPDATE deployments SET status = ?, error_message = ?, finished_at = ?
		WHERE app = ? AND status = ?`

	result, err := exec.ExecContext(ctx, query,
		string(domain.StatusFailed), reason, formatTime(at), app, string(domain.StatusRunning))
	if err != nil {
		return 0, NewStoreError("AbandonRunningDeployments", "deployment", app, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	return int(rowsAffected), nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

func recordToRow(record *domain.DeploymentRecord) map[string]any {
	var finishedAt *string
	if record.FinishedAt != nil {
		s := formatTime(*record.FinishedAt)
		finishedAt = &s
	}
	return map[string]any{
		"id":            record.ID,
		"app":           record.App,
		"version":       record.Version,
		"environment":   record.Environment,
		"status":        string(record.Status),
		"error_message": record.Error,
		"started_at":    formatTime(record.StartedAt),
		"finished_at":   finishedAt,
	}
}

// rowToRecord converts a database row to a domain.DeploymentRecord.
func rowToRecord(row *deploymentRow) *domain.DeploymentRecord {
	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t := parseTime(*row.FinishedAt)
		finishedAt = &t
	}

	return &domain.DeploymentRecord{
		ID:          row.ID,
		App:         row.App,
		Version:     row.Version,
		Environment: row.Environment,
		Status:      domain.DeploymentStatus(row.Status),
		Error:       row.ErrorMessage,
		StartedAt:   parseTime(row.StartedAt),
		FinishedAt:  finishedAt,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
