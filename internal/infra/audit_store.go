package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const auditSchemaVersion = 1

// AuditStore implements domain.AuditStore on a SQLCipher encrypted
// SQLite database.
type AuditStore struct {
	db     *sql.DB
	dbPath string
}

// NewAuditStore opens (or creates) the encrypted audit database at dbPath.
// A wrong key fails here rather than on first write.
func NewAuditStore(dbPath string, key []byte) (*AuditStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000",
		dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// one writer; the daemon records from a single goroutine at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &AuditStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *AuditStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		source TEXT NOT NULL,
		action TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		command TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		metric TEXT NOT NULL DEFAULT '',
		value REAL NOT NULL DEFAULT 0,
		threshold REAL NOT NULL DEFAULT 0,
		rank INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS actions_at ON actions (at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(auditSchemaVersion))
	return err
}

// Record appends one entry.
func (s *AuditStore) Record(e domain.AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO actions (at, source, action, pid, command, service, metric, value, threshold, rank, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixMilli(), e.Source, string(e.Action), e.PID, e.Command, e.Service,
		e.Metric, e.Value, e.Threshold, e.Rank, string(e.Status), e.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *AuditStore) Recent(limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT id, at, source, action, pid, command, service, metric, value, threshold, rank, status, detail
		FROM actions ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e              domain.AuditEntry
			atMillis       int64
			action, status string
		)
		if err := rows.Scan(&e.ID, &atMillis, &e.Source, &action, &e.PID, &e.Command, &e.Service,
			&e.Metric, &e.Value, &e.Threshold, &e.Rank, &status, &e.Detail); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMillis)
		e.Action = domain.ActionKind(action)
		e.Status = domain.OutcomeStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries recorded before the cutoff.
func (s *AuditStore) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM actions WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Path returns the database file path.
func (s *AuditStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *AuditStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
