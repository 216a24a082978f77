package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists cache entries in a SQLite database so transcripts
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY under concurrent workers.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		fingerprint TEXT PRIMARY KEY,
		transcript TEXT NOT NULL,
		confidence REAL NOT NULL,
		usage_count INTEGER NOT NULL,
		signature_json TEXT,
		created_at TEXT NOT NULL,
		last_used_at TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]*model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, transcript, confidence, usage_count,
		signature_json, created_at, last_used_at FROM transcripts`)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var entries []*model.CacheEntry
	for rows.Next() {
		var e model.CacheEntry
		var sig sql.NullString
		var created, lastUsed string
		if err := rows.Scan(&e.Fingerprint, &e.Transcript, &e.Confidence, &e.UsageCount, &sig, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		if sig.Valid && sig.String != "" {
			// Leave Signature nil on error; entry stays usable for exact matches.
			_ = json.Unmarshal([]byte(sig.String), &e.Signature)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, lastUsed); err == nil {
			e.LastUsedAt = t
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, entry *model.CacheEntry) error {
	sig := ""
	if entry.Signature != nil {
		b, err := json.Marshal(entry.Signature)
		if err != nil {
			return fmt.Errorf("marshal signature: %w", err)
		}
		sig = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (fingerprint, transcript, confidence, usage_count, signature_json, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			transcript = excluded.transcript,
			confidence = excluded.confidence,
			usage_count = excluded.usage_count,
			last_used_at = excluded.last_used_at`,
		entry.Fingerprint,
		entry.Transcript,
		entry.Confidence,
		entry.UsageCount,
		sig,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.LastUsedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, fingerprint string, usageCount int, lastUsedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET usage_count = ?, last_used_at = ? WHERE fingerprint = ?`,
		usageCount,
		lastUsedAt.UTC().Format(time.RFC3339Nano),
		fingerprint,
	)
	if err != nil {
		return fmt.Errorf("touch transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
