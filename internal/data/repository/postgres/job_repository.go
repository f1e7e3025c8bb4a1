package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository"
)

// ErrJobNotFound is returned when no job row exists for the given id.
var ErrJobNotFound = errors.New("migration job not found")

const jobColumns = `id, fingerprint, type, table_name, column_name, new_column_name,
		old_type, new_type, field_id, form_id, user_id, priority, attempts,
		max_attempts, status, last_error, enqueued_at, updated_at`

type jobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository returns the Postgres-backed queue job store.
func NewJobRepository(pool *pgxpool.Pool) repository.JobRepository {
	return &jobRepository{pool: pool}
}

func (r *jobRepository) Insert(ctx context.Context, j *api.MigrationJob) error {
	query := `
		INSERT INTO migration_jobs
			(id, fingerprint, type, table_name, column_name, new_column_name,
			 old_type, new_type, field_id, form_id, user_id, priority,
			 attempts, max_attempts, status, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING enqueued_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		j.ID,
		j.Fingerprint,
		j.Kind,
		j.TableName,
		j.ColumnName,
		j.NewColumnName,
		j.OldType,
		j.NewType,
		j.FieldID,
		j.FormID,
		j.UserID,
		j.Priority,
		j.Attempts,
		j.MaxAttempts,
		j.Status,
		j.LastError,
	).Scan(&j.EnqueuedAt, &j.UpdatedAt)
}

func (r *jobRepository) Update(ctx context.Context, j *api.MigrationJob) error {
	query := `
		UPDATE migration_jobs
		SET status = $2, attempts = $3, last_error = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	return r.pool.QueryRow(ctx, query, j.ID, j.Status, j.Attempts, j.LastError).Scan(&j.UpdatedAt)
}

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*api.MigrationJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM migration_jobs WHERE id = $1`, jobColumns)

	j := &api.MigrationJob{}
	err := scanJob(r.pool.QueryRow(ctx, query, id), j)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}
	return j, nil
}

func (r *jobRepository) FindByForm(ctx context.Context, formID string) ([]*api.MigrationJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM migration_jobs WHERE form_id = $1 ORDER BY enqueued_at`, jobColumns)
	return r.queryJobs(ctx, query, formID)
}

func (r *jobRepository) FindWaitingByFingerprint(ctx context.Context, fingerprint string) (*api.MigrationJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM migration_jobs
		WHERE fingerprint = $1 AND status = 'waiting'
		ORDER BY enqueued_at
		LIMIT 1`, jobColumns)

	j := &api.MigrationJob{}
	err := scanJob(r.pool.QueryRow(ctx, query, fingerprint), j)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job by fingerprint: %w", err)
	}
	return j, nil
}

// LoadPending returns waiting jobs plus jobs left active by a previous
// process; both must be redispatched after a restart.
func (r *jobRepository) LoadPending(ctx context.Context) ([]*api.MigrationJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM migration_jobs
		WHERE status IN ('waiting', 'active')
		ORDER BY priority, enqueued_at`, jobColumns)
	return r.queryJobs(ctx, query)
}

func (r *jobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*api.MigrationJob, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*api.MigrationJob
	for rows.Next() {
		j := &api.MigrationJob{}
		if err := scanJob(rows, j); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

func scanJob(row pgx.Row, j *api.MigrationJob) error {
	return row.Scan(
		&j.ID,
		&j.Fingerprint,
		&j.Kind,
		&j.TableName,
		&j.ColumnName,
		&j.NewColumnName,
		&j.OldType,
		&j.NewType,
		&j.FieldID,
		&j.FormID,
		&j.UserID,
		&j.Priority,
		&j.Attempts,
		&j.MaxAttempts,
		&j.Status,
		&j.LastError,
		&j.EnqueuedAt,
		&j.UpdatedAt,
	)
}
