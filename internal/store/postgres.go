package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
)

// PostgresStore persists jobs in a single table. Structured signal data
// (logs, commits, dependencies, alerts) travels as a JSONB payload; the
// columns hold only what listings filter and sort on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// Healthy checks database connectivity.
func (s *PostgresStore) Healthy(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

func (s *PostgresStore) Save(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}

	query := `
		INSERT INTO jobs (id, repo_url, category, status, risk_score, risk_level,
			created_at, finished_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			finished_at = EXCLUDED.finished_at,
			payload = EXCLUDED.payload`

	_, err = s.pool.Exec(ctx, query,
		job.ID, job.RepoURL, job.Category, string(job.Status),
		job.RiskScore, string(job.RiskLevel),
		job.CreatedAt, job.FinishedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*model.Job, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM jobs WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job %s: %w", id, err)
	}

	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return &job, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]model.JobSummary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, repo_url, category, status, risk_score, risk_level, created_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var summaries []model.JobSummary
	for rows.Next() {
		var sum model.JobSummary
		var status, level string
		if err := rows.Scan(&sum.ID, &sum.RepoURL, &sum.Category,
			&status, &sum.RiskScore, &level, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		sum.Status = model.JobStatus(status)
		sum.RiskLevel = model.RiskLevel(level)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
