package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS missions (
    id            TEXT PRIMARY KEY,
    prompt        TEXT NOT NULL,
    status        VARCHAR(50) NOT NULL DEFAULT 'PENDING',
    message       TEXT NOT NULL DEFAULT '',
    history       JSONB NOT NULL DEFAULT '[]',
    attempt_count INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_missions_created_at ON missions(created_at DESC);
`

const selectColumns = `SELECT id, prompt, status, message, history, attempt_count, created_at, updated_at FROM missions`

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and creates the schema.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Value())
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the missions table and its indexes. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, prompt string, history []architect.Turn) (*Mission, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if history == nil {
		history = []architect.Turn{}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}

	m := &Mission{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Status:    StatusPending,
		History:   history,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO missions (id, prompt, status, history, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Prompt, string(m.Status), encoded, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mission: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, status Status, message string) error {
	if id == "" {
		return ErrInvalidID
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = $2, message = $3, updated_at = now() WHERE id = $1`,
		id, string(status), message,
	)
	if err != nil {
		return fmt.Errorf("failed to update mission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, ErrInvalidID
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE missions SET attempt_count = attempt_count + 1, updated_at = now() WHERE id = $1 RETURNING attempt_count`,
		id,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Mission, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	m, err := scanMission(s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Mission, error) {
	return s.query(ctx, selectColumns+` ORDER BY created_at DESC LIMIT $1`, normalizeLimit(limit))
}

func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]*Mission, error) {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return []*Mission{}, nil
	}
	sql, args := searchQuery(keywords, normalizeLimit(limit))
	return s.query(ctx, sql, args...)
}

func (s *PostgresStore) ClearAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM missions`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear missions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*Mission, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query missions: %w", err)
	}
	defer rows.Close()

	out := []*Mission{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mission: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// searchQuery builds a query matching every keyword case-insensitively.
func searchQuery(keywords []string, limit int) (string, []any) {
	clauses := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords)+1)
	for i, kw := range keywords {
		clauses = append(clauses, fmt.Sprintf(`prompt ILIKE $%d ESCAPE '\'`, i+1))
		args = append(args, "%"+escapeLike(kw)+"%")
	}
	args = append(args, limit)
	sql := fmt.Sprintf("%s WHERE %s ORDER BY created_at DESC LIMIT $%d",
		selectColumns, strings.Join(clauses, " AND "), len(args))
	return sql, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanMission(row pgx.Row) (*Mission, error) {
	var (
		m       Mission
		status  string
		history []byte
	)
	if err := row.Scan(&m.ID, &m.Prompt, &status, &m.Message, &history, &m.AttemptCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &m.History); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}
	return &m, nil
}

var _ Store = (*PostgresStore)(nil)
