package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"spendlog/internal/core"

	_ "modernc.org/sqlite"
)

const budgetKey = "budget_cents"

// Activity is one journaled controller operation.
type Activity struct {
	ID        int64          `json:"id"`
	Operation string         `json:"operation"`
	ExpenseID core.ExpenseID `json:"expense_id,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SQLiteRepository keeps client-local state: the budget and the activity
// journal. Expense data itself lives in the remote store.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// LoadBudget returns the persisted budget, or zero when none was saved.
func (r *SQLiteRepository) LoadBudget(ctx context.Context) (core.Money, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, budgetKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, nil
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("load budget: %w", err)
	}
	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cents < 0 {
		slog.WarnContext(ctx, "Ignoring corrupt persisted budget", "component", "storage", "value", raw)
		return core.Money{}, nil
	}
	return core.Money{Cents: cents}, nil
}

// SaveBudget upserts the budget.
func (r *SQLiteRepository) SaveBudget(ctx context.Context, budget core.Money) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		budgetKey, strconv.FormatInt(budget.Cents, 10))
	if err != nil {
		return fmt.Errorf("save budget: %w", err)
	}
	slog.DebugContext(ctx, "Budget saved to SQLite", "component", "storage", "budget_cents", budget.Cents)
	return nil
}

// Record appends an operation outcome to the journal.
func (r *SQLiteRepository) Record(ctx context.Context, op string, id core.ExpenseID, opErr error) error {
	success := 1
	msg := ""
	if opErr != nil {
		success = 0
		msg = opErr.Error()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity (operation, expense_id, success, error) VALUES (?, ?, ?, ?)`,
		op, string(id), success, msg)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// RecentActivity returns the latest journal entries, newest first.
func (r *SQLiteRepository) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, operation, expense_id, success, error, created_at
		FROM activity ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a       Activity
			id      string
			success int
		)
		if err := rows.Scan(&a.ID, &a.Operation, &id, &success, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.ExpenseID = core.ExpenseID(id)
		a.Success = success == 1
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}

// PruneActivity deletes journal entries older than the cutoff.
func (r *SQLiteRepository) PruneActivity(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM activity WHERE created_at < ?`, olderThan.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "Pruned activity journal", "component", "storage", "removed", n)
	}
	return n, nil
}
