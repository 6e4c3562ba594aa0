// Package database archives judge results in Postgres. The judge core
// does not depend on it; the server wires it in when enabled.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/config"
	"github.com/muazhussain/Judgebox-Judge/internal/judge"
	"github.com/muazhussain/Judgebox-Judge/internal/verdict"
)

const pingTimeout = 10 * time.Second

// ErrNotFound is returned when no archived result exists for an id.
var ErrNotFound = errors.New("result not found")

type Store struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

func New(conf *config.Config, log *zerolog.Logger) (*Store, error) {
	host := net.JoinHostPort(conf.Db.Host, strconv.Itoa(conf.Db.Port))
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		conf.Db.User,
		url.QueryEscape(conf.Db.Password),
		host,
		conf.Db.Name,
		conf.Db.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "judgebox-judge"
	poolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("database connection established")
	return &Store{pool: pool, log: log}, nil
}

// EnsureSchema creates the archive table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS judge_results (
			submission_id TEXT PRIMARY KEY,
			result        TEXT NOT NULL,
			test_results  JSONB NOT NULL,
			judged_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveResult upserts one judge result. Re-judging a submission
// overwrites the earlier verdict.
func (s *Store) SaveResult(ctx context.Context, res *judge.Result) error {
	payload, err := json.Marshal(res.TestResults)
	if err != nil {
		return fmt.Errorf("failed to encode test results: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO judge_results (submission_id, result, test_results)
		VALUES ($1, $2, $3)
		ON CONFLICT (submission_id)
		DO UPDATE SET result = EXCLUDED.result, test_results = EXCLUDED.test_results, judged_at = now()`,
		res.SubmissionID, string(res.Result), payload)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult fetches an archived result by submission id.
func (s *Store) GetResult(ctx context.Context, submissionID string) (*judge.Result, error) {
	var (
		result  string
		payload []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT result, test_results FROM judge_results WHERE submission_id = $1`,
		submissionID).Scan(&result, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	res := &judge.Result{SubmissionID: submissionID, Result: verdict.Status(result)}
	if err := json.Unmarshal(payload, &res.TestResults); err != nil {
		return nil, fmt.Errorf("failed to decode test results: %w", err)
	}
	return res, nil
}

func (s *Store) Close() {
	s.log.Info().Msg("closing database connection pool")
	s.pool.Close()
}
