package stats

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink stores attempt records in a local SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSink opens (or creates) the database at dbPath. Use
// ":memory:" for an ephemeral store.
func NewSQLiteSink(dbPath string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared&_busy_timeout=5000"
	} else {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create stats dir: %w", err)
			}
		}
		connStr = dbPath + "?_journal=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteSink{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate stats db: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		account_id TEXT NOT NULL,
		product_name TEXT NOT NULL DEFAULT '',
		product_url TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		proxy TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_account ON attempts(account_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_ts ON attempts(ts);

	CREATE TABLE IF NOT EXISTS price_history (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		product_url TEXT NOT NULL,
		product_name TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_history_ts ON price_history(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSink) Record(record AttemptRecord) error {
	success := 0
	if record.Success {
		success = 1
	}

	_, err := s.db.Exec(`
	INSERT INTO attempts (id, ts, account_id, product_name, product_url, price, quantity, success, error_kind, elapsed_ms, retry_count, proxy)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Timestamp.UTC().Format(time.RFC3339Nano),
		record.AccountID,
		record.ProductName,
		record.ProductURL,
		record.Price,
		record.Quantity,
		success,
		record.ErrorKind,
		record.ElapsedMs,
		record.RetryCount,
		record.Proxy,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *SQLiteSink) RecordPrice(point PricePoint) error {
	_, err := s.db.Exec(`
	INSERT INTO price_history (id, ts, product_url, product_name, price)
	VALUES (?, ?, ?, ?, ?)`,
		point.ID,
		point.Timestamp.UTC().Format(time.RFC3339Nano),
		point.ProductURL,
		point.ProductName,
		point.Price,
	)
	if err != nil {
		return fmt.Errorf("record price: %w", err)
	}
	return nil
}

// PriceHistory returns the most recent price points, newest first.
func (s *SQLiteSink) PriceHistory(limit int) ([]PricePoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
	SELECT id, ts, product_url, product_name, price
	FROM price_history
	ORDER BY ts DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		var p PricePoint
		var ts string
		if err := rows.Scan(&p.ID, &ts, &p.ProductURL, &p.ProductName, &p.Price); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.Timestamp = parsed
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Overall aggregates every stored attempt.
func (s *SQLiteSink) Overall() (Summary, error) {
	row := s.db.QueryRow(`
	SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(elapsed_ms), 0)
	FROM attempts`)
	return scanSummary(row)
}

// ByAccount aggregates attempts per account id.
func (s *SQLiteSink) ByAccount() ([]AccountSummary, error) {
	rows, err := s.db.Query(`
	SELECT account_id, COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(elapsed_ms), 0)
	FROM attempts
	GROUP BY account_id
	ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountSummary
	for rows.Next() {
		var a AccountSummary
		var successes int
		if err := rows.Scan(&a.AccountID, &a.TotalAttempts, &successes, &a.AverageElapsedMs); err != nil {
			return nil, err
		}
		fillSummary(&a.Summary, successes)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func scanSummary(row *sql.Row) (Summary, error) {
	var sum Summary
	var successes int
	if err := row.Scan(&sum.TotalAttempts, &successes, &sum.AverageElapsedMs); err != nil {
		return Summary{}, err
	}
	fillSummary(&sum, successes)
	return sum, nil
}

func fillSummary(sum *Summary, successes int) {
	sum.SuccessfulAttempts = successes
	sum.FailedAttempts = sum.TotalAttempts - successes
	if sum.TotalAttempts > 0 {
		sum.SuccessRate = float64(successes) / float64(sum.TotalAttempts) * 100
	}
}
