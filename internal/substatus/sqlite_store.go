package substatus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/lsdvr/internal/persistence/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS substatus (
		channel_id TEXT NOT NULL,
		sub_type   TEXT NOT NULL,
		status     TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (channel_id, sub_type)
	)`,
}

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// OpenSqliteStore opens (and migrates) the database at dbPath.
func OpenSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("substatus: create dir: %w", err)
	}
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("substatus: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Get(ctx context.Context, channelID, subType string) (Status, error) {
	var st string
	err := s.DB.QueryRowContext(ctx,
		`SELECT status FROM substatus WHERE channel_id = ? AND sub_type = ?`,
		channelID, subType,
	).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("substatus: get: %w", err)
	}
	return Status(st), nil
}

func (s *SqliteStore) Set(ctx context.Context, channelID, subType string, status Status) error {
	if err := checkStatus(status); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO substatus (channel_id, sub_type, status, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(channel_id, sub_type) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at`,
		channelID, subType, string(status), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("substatus: set: %w", err)
	}
	return nil
}

func (s *SqliteStore) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT channel_id, sub_type, status FROM substatus ORDER BY channel_id, sub_type`)
	if err != nil {
		return nil, fmt.Errorf("substatus: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var st string
		if err := rows.Scan(&e.ChannelID, &e.Type, &st); err != nil {
			return nil, fmt.Errorf("substatus: scan: %w", err)
		}
		e.Status = Status(st)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Integrity runs a quick integrity check on the backing database.
func (s *SqliteStore) Integrity(ctx context.Context) ([]string, error) {
	return sqlite.VerifyIntegrity(ctx, s.DB, "quick")
}

func (s *SqliteStore) Close() error { return s.DB.Close() }
