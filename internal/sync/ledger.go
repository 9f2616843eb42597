package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

// Ledger records per-item outcomes of bulk runs in an SQLite database
// under the working directory's metadata folder. The run error log is
// produced from it at run end. Sole-writer: the connection pool is
// capped at one open connection.
type Ledger struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

const ledgerFile = "runs.db"

// OpenLedger opens (creating if needed) the run ledger for a working
// directory and applies schema migrations.
func OpenLedger(ctx context.Context, root string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Join(root, ".metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sync: creating metadata dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, ledgerFile))
	if err != nil {
		return nil, fmt.Errorf("sync: opening run ledger: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}

	return l.db.Close()
}

// BeginRun opens a new run row and makes it current for RecordItem.
func (l *Ledger) BeginRun(ctx context.Context, direction string) (string, error) {
	if l == nil {
		return "", nil
	}

	id := uuid.NewString()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, direction, started_at) VALUES (?, ?, ?)`,
		id, direction, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("sync: ledger begin run: %w", err)
	}

	l.runID = id

	return id, nil
}

// RecordItem appends one item outcome to the current run. Nil-safe and
// best-effort: ledger write failures are logged, never fatal to the
// transfer.
func (l *Ledger) RecordItem(kind, direction, path, errMsg string) {
	if l == nil || l.runID == "" {
		return
	}

	_, err := l.db.Exec(
		`INSERT INTO run_items (run_id, kind, direction, path, error_msg, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.runID, kind, direction, path, nullIfEmpty(errMsg), time.Now().UnixNano())
	if err != nil {
		l.logger.Warn("ledger: recording item failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// EndRun closes the current run row with final counts.
func (l *Ledger) EndRun(ctx context.Context, succeeded, failed int) error {
	if l == nil || l.runID == "" {
		return nil
	}

	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, succeeded = ?, failed = ? WHERE id = ?`,
		time.Now().UnixNano(), succeeded, failed, l.runID)
	if err != nil {
		return fmt.Errorf("sync: ledger end run: %w", err)
	}

	return nil
}

// FailedItem is one errored entry of a run, for the error log.
type FailedItem struct {
	Kind  string
	Path  string
	Error string
}

// FailedItems returns the errored entries of the current run, in
// insertion order.
func (l *Ledger) FailedItems(ctx context.Context) ([]FailedItem, error) {
	if l == nil || l.runID == "" {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, path, error_msg FROM run_items
		 WHERE run_id = ? AND error_msg IS NOT NULL ORDER BY id`, l.runID)
	if err != nil {
		return nil, fmt.Errorf("sync: ledger failed items: %w", err)
	}
	defer rows.Close()

	var items []FailedItem

	for rows.Next() {
		var (
			item   FailedItem
			errMsg sql.NullString
		)

		if err := rows.Scan(&item.Kind, &item.Path, &errMsg); err != nil {
			return nil, fmt.Errorf("sync: scanning ledger row: %w", err)
		}

		item.Error = errMsg.String
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating ledger rows: %w", err)
	}

	return items, nil
}

// WriteErrorLog renders the current run's failures to a timestamped
// log file under the metadata folder and returns its path. Returns ""
// when the run had no failures.
func (l *Ledger) WriteErrorLog(ctx context.Context, root string) (string, error) {
	if l == nil {
		return "", nil
	}

	items, err := l.FailedItems(ctx)
	if err != nil {
		return "", err
	}

	if len(items) == 0 {
		return "", nil
	}

	path := filepath.Join(root, ".metadata",
		fmt.Sprintf("errors-%s.log", time.Now().UTC().Format("20060102-150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("sync: creating error log: %w", err)
	}
	defer f.Close()

	for _, item := range items {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", item.Kind, item.Path, item.Error); err != nil {
			return "", fmt.Errorf("sync: writing error log: %w", err)
		}
	}

	return path, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
