package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/llm"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const createTurnsTableSQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    conversation_id VARCHAR(255) NOT NULL,
    sequence_num INTEGER NOT NULL,
    role VARCHAR(50) NOT NULL,
    blocks_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (conversation_id, sequence_num)
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_id);
`

const createTurnsTableMySQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    conversation_id VARCHAR(255) NOT NULL,
    sequence_num BIGINT NOT NULL,
    role VARCHAR(50) NOT NULL,
    blocks_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (conversation_id, sequence_num)
);
`

// SQLStore persists turns in a relational database. The primary key
// (conversation_id, sequence_num) makes the gap-free ordering a schema
// invariant: a racing append that computes a stale MAX fails the
// transaction instead of writing out of order.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database connection. The dialect selects
// placeholder style and schema variant: "sqlite", "postgres", or
// "mysql".
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromConfig opens the configured database and builds the
// store on top of it.
func NewSQLStoreFromConfig(cfg *config.ConversationsConfig) (*SQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("conversations configuration is required")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Dialect() == "sqlite" {
		if dir := filepath.Dir(cfg.Database); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s conversation store: %w", cfg.Driver, err)
	}

	return NewSQLStore(db, cfg.Dialect())
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createTurnsTableSQL
	if s.dialect == "mysql" {
		schema = createTurnsTableMySQL
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID cannot be empty")
	}

	query := `
SELECT role, blocks_json, sequence_num, created_at
FROM conversation_turns
WHERE conversation_id = ?
ORDER BY sequence_num ASC
`
	if s.dialect == "postgres" {
		query = `
SELECT role, blocks_json, sequence_num, created_at
FROM conversation_turns
WHERE conversation_id = $1
ORDER BY sequence_num ASC
`
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var (
			turn       Turn
			role       string
			blocksJSON string
		)
		if err := rows.Scan(&role, &blocksJSON, &turn.Sequence, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = llm.Role(role)
		if err := json.Unmarshal([]byte(blocksJSON), &turn.Blocks); err != nil {
			return nil, fmt.Errorf("corrupt turn at sequence %d: %w", turn.Sequence, err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

func (s *SQLStore) AppendTurn(ctx context.Context, conversationID string, turn Turn) (int64, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("conversationID cannot be empty")
	}

	var seq int64
	err := s.appendTx(ctx, conversationID, []Turn{turn}, func(first int64) {
		seq = first
	})
	return seq, err
}

func (s *SQLStore) AppendTurns(ctx context.Context, conversationID string, turns []Turn) error {
	if conversationID == "" {
		return fmt.Errorf("conversationID cannot be empty")
	}
	if len(turns) == 0 {
		return nil
	}
	return s.appendTx(ctx, conversationID, turns, nil)
}

// appendTx assigns consecutive sequence numbers starting at MAX+1 and
// inserts all turns in one transaction.
func (s *SQLStore) appendTx(ctx context.Context, conversationID string, turns []Turn, report func(first int64)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	countQuery := `SELECT COALESCE(MAX(sequence_num), 0) FROM conversation_turns WHERE conversation_id = ?`
	if s.dialect == "postgres" {
		countQuery = `SELECT COALESCE(MAX(sequence_num), 0) FROM conversation_turns WHERE conversation_id = $1`
	}

	var lastSeq int64
	if err = tx.QueryRowContext(ctx, countQuery, conversationID).Scan(&lastSeq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	insertQuery := `
INSERT INTO conversation_turns (conversation_id, sequence_num, role, blocks_json, created_at)
VALUES (?, ?, ?, ?, ?)
`
	if s.dialect == "postgres" {
		insertQuery = `
INSERT INTO conversation_turns (conversation_id, sequence_num, role, blocks_json, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	}

	now := time.Now().UTC()

	for i, turn := range turns {
		if turn.Role == "" {
			err = fmt.Errorf("turn at index %d has no role", i)
			return err
		}

		blocks := turn.Blocks
		if blocks == nil {
			blocks = []llm.ContentBlock{}
		}
		blocksJSON, marshalErr := json.Marshal(blocks)
		if marshalErr != nil {
			err = fmt.Errorf("failed to marshal turn at index %d: %w", i, marshalErr)
			return err
		}

		seq := lastSeq + int64(i) + 1
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		if _, execErr := tx.ExecContext(ctx, insertQuery,
			conversationID, seq, string(turn.Role), string(blocksJSON), createdAt,
		); execErr != nil {
			err = fmt.Errorf("failed to insert turn at index %d: %w", i, execErr)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if report != nil {
		report(lastSeq + 1)
	}
	return nil
}

func (s *SQLStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversationID cannot be empty")
	}

	query := `DELETE FROM conversation_turns WHERE conversation_id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM conversation_turns WHERE conversation_id = $1`
	}

	if _, err := s.db.ExecContext(ctx, query, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
