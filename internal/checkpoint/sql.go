package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
)

// SQLStore keeps checkpoints in a relational table. It works on Postgres
// (lib/pq) and SQLite (go-sqlite3); placeholders are rebound per driver.
type SQLStore struct {
	db        *circuitbreaker.DatabaseWrapper
	codec     *Codec
	tableName string
	logger    *zap.Logger
}

// NewSQLStore creates a store over a breaker-wrapped sqlx handle.
func NewSQLStore(db *circuitbreaker.DatabaseWrapper, codec *Codec, logger *zap.Logger) *SQLStore {
	if codec == nil {
		codec = DefaultCodec()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, codec: codec, tableName: "research_checkpoints", logger: logger}
}

// WithTableName overrides the table name. Only letters, digits and
// underscores are accepted; anything else keeps the default.
func (s *SQLStore) WithTableName(name string) *SQLStore {
	if isSafeIdent(name) {
		s.tableName = name
	}
	return s
}

func isSafeIdent(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// EnsureSchema creates the checkpoint table if missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	blob := "BYTEA"
	if s.db.DriverName() == "sqlite3" {
		blob = "BLOB"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	thread_id  TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL,
	payload    %s NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, s.tableName, blob)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	payload, err := s.codec.Encode(cp)
	if err != nil {
		return err
	}

	query := s.db.Rebind(fmt.Sprintf(`INSERT INTO %[1]s (thread_id, status, version, payload, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET
	status = excluded.status,
	version = %[1]s.version + 1,
	payload = excluded.payload,
	updated_at = excluded.updated_at
RETURNING version`, s.tableName))

	var version int64
	if err := s.db.GetContext(ctx, &version, query, cp.ThreadID, string(cp.State.Status), payload, cp.UpdatedAt); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	cp.Version = version
	return nil
}

// PutIfVersion updates the row only while its version still equals expected.
// The thread must already exist.
func (s *SQLStore) PutIfVersion(ctx context.Context, cp *Checkpoint, expected int64) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.Version = expected + 1
	cp.UpdatedAt = time.Now().UTC()
	payload, err := s.codec.Encode(cp)
	if err != nil {
		return err
	}

	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s
SET status = ?, version = version + 1, payload = ?, updated_at = ?
WHERE thread_id = ? AND version = ?`, s.tableName))

	res, err := s.db.ExecContext(ctx, query, string(cp.State.Status), payload, cp.UpdatedAt, cp.ThreadID, expected)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

type checkpointRow struct {
	Version int64  `db:"version"`
	Payload []byte `db:"payload"`
}

func (s *SQLStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	query := s.db.Rebind(fmt.Sprintf(`SELECT version, payload FROM %s WHERE thread_id = ?`, s.tableName))

	var row checkpointRow
	err := s.db.GetContext(ctx, &row, query, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := s.codec.Decode(row.Payload, &cp); err != nil {
		return nil, err
	}
	cp.Version = row.Version
	return &cp, nil
}
