package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// RecoveredProgressText is written to a job re-queued by stale recovery.
const RecoveredProgressText = "Recovered after interruption; restarting analysis"

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, status, mode, advisor_id, image_ref, retry_count, progress_text, result, error, available_at, created_at, updated_at`

func scanJob(row rowScanner, extra ...any) (*models.Job, error) {
	var (
		j      models.Job
		status string
		mode   string
		result []byte
	)
	dest := []any{&j.ID, &status, &mode, &j.AdvisorID, &j.ImageRef, &j.RetryCount,
		&j.ProgressText, &result, &j.Error, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	m, err := models.ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.Status = models.JobStatus(status)
	j.Mode = m
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, mode, advisor_id, image_ref, retry_count, progress_text, available_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, string(job.Status), job.Mode.String(), job.AdvisorID, job.ImageRef, job.RetryCount,
		job.ProgressText, job.AvailableAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) AdmitPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'queued', updated_at = $1 WHERE status = 'pending' RETURNING id`, s.now())
	if err != nil {
		return nil, fmt.Errorf("admit pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admitted job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) RecoverStale(ctx context.Context, staleBefore time.Time, resetRetries bool) ([]*models.Job, error) {
	now := s.now()
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'queued', updated_at = $1, available_at = $1, progress_text = $3,
		   retry_count = CASE WHEN $4::boolean THEN 0 ELSE retry_count END
		 WHERE status IN ('analyzing', 'finalizing') AND updated_at < $2
		 RETURNING `+jobColumns,
		now, staleBefore, RecoveredProgressText, resetRetries)
	if err != nil {
		return nil, fmt.Errorf("recover stale jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context, p ClaimParams) (*Claim, error) {
	now := p.Now
	if now.IsZero() {
		now = s.now()
	}
	row := s.pool.QueryRow(ctx,
		`WITH next AS (
		   SELECT id, status AS prev_status FROM jobs
		   WHERE (status = 'queued' AND available_at <= $1)
		      OR (status = 'analyzing' AND updated_at < $2)
		   ORDER BY created_at, id
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE jobs j SET status = 'analyzing', updated_at = $1,
		   retry_count = CASE WHEN next.prev_status = 'analyzing' AND $3::boolean THEN 0 ELSE j.retry_count END,
		   progress_text = CASE WHEN next.prev_status = 'analyzing' THEN $4 ELSE '' END
		 FROM next WHERE j.id = next.id
		 RETURNING j.id, j.status, j.mode, j.advisor_id, j.image_ref, j.retry_count, j.progress_text,
		   j.result, j.error, j.available_at, j.created_at, j.updated_at, next.prev_status`,
		now, p.StaleBefore, p.ResetRetriesOnRecovery, RecoveredProgressText)

	var prev string
	j, err := scanJob(row, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return &Claim{Job: j, Recovered: prev == string(models.JobStatusAnalyzing)}, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if !CanTransition(models.JobStatus(current), status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	query := `UPDATE jobs SET status = $3, updated_at = $4`
	args := []any{id, current, string(status), s.now()}
	argIdx := 5

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	} else if params.ClearError {
		query += ", error = NULL"
	}
	if params.Result != nil {
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, []byte(params.Result))
		argIdx++
	}
	if params.RetryCount != nil {
		query += fmt.Sprintf(", retry_count = $%d", argIdx)
		args = append(args, *params.RetryCount)
		argIdx++
	}
	if params.AvailableAt != nil {
		query += fmt.Sprintf(", available_at = $%d", argIdx)
		args = append(args, *params.AvailableAt)
		argIdx++
	}
	if params.Progress != nil {
		query += fmt.Sprintf(", progress_text = $%d", argIdx)
		args = append(args, *params.Progress)
	}

	// Conditional on the status read above so a concurrent transition wins cleanly.
	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, current)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress_text = $2, updated_at = $3
		 WHERE id = $1 AND status IN ('analyzing', 'finalizing')`, id, text, s.now())
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RetryFailedJob(ctx context.Context, id uuid.UUID, maxRetries int) (*models.Job, error) {
	now := s.now()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'queued', retry_count = retry_count + 1, error = NULL,
		   progress_text = '', result = NULL, available_at = $3, updated_at = $3
		 WHERE id = $1 AND status = 'failed' AND retry_count < $2
		 RETURNING `+jobColumns, id, maxRetries, now))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("retry failed job: %w", err)
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, retryRejection(current, maxRetries)
}

func retryRejection(j *models.Job, maxRetries int) error {
	if j.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, models.JobStatusQueued)
	}
	return fmt.Errorf("%w: retry_count %d of %d", ErrRetryBudgetExhausted, j.RetryCount, maxRetries)
}

// --- Advisor profiles ---

const profileColumns = `advisor_id, image_ref, scores, comments, overall_grade, description, title, source, year, created_at, updated_at`

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *models.DimensionalProfile) error {
	now := s.now()
	var scores []float64
	if p.Scores != nil {
		scores = p.Scores[:]
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO advisor_profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (advisor_id, image_ref) DO UPDATE SET
		   scores = EXCLUDED.scores,
		   comments = EXCLUDED.comments,
		   overall_grade = EXCLUDED.overall_grade,
		   description = EXCLUDED.description,
		   title = EXCLUDED.title,
		   source = EXCLUDED.source,
		   year = EXCLUDED.year,
		   updated_at = EXCLUDED.updated_at`,
		p.AdvisorID, p.ImageRef, scores, p.Comments[:], p.OverallGrade, p.Description,
		p.Title, p.Source, p.Year, now)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context, advisorID string) ([]*models.DimensionalProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM advisor_profiles
		 WHERE advisor_id = $1 ORDER BY updated_at DESC, image_ref`, advisorID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.DimensionalProfile
	for rows.Next() {
		var (
			p        models.DimensionalProfile
			scores   []float64
			comments []string
		)
		if err := rows.Scan(&p.AdvisorID, &p.ImageRef, &scores, &comments, &p.OverallGrade,
			&p.Description, &p.Title, &p.Source, &p.Year, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if len(scores) == models.NumDimensions {
			var v models.ScoreVector
			copy(v[:], scores)
			p.Scores = &v
		}
		copy(p.Comments[:], comments)
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

func (s *PostgresStore) DeleteProfiles(ctx context.Context, advisorID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM advisor_profiles WHERE advisor_id = $1`, advisorID)
	if err != nil {
		return 0, fmt.Errorf("delete profiles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Advisor passages ---

func (s *PostgresStore) UpsertPassage(ctx context.Context, p *models.Passage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO advisor_passages (advisor_id, id, text, source, year, weight, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (advisor_id, id) DO UPDATE SET
		   text = EXCLUDED.text, source = EXCLUDED.source, year = EXCLUDED.year, weight = EXCLUDED.weight`,
		p.AdvisorID, p.ID, p.Text, p.Source, p.Year, p.Weight, s.now())
	if err != nil {
		return fmt.Errorf("upsert passage: %w", err)
	}
	return nil
}

func (s *PostgresStore) TopPassages(ctx context.Context, advisorID string, n int) ([]*models.Passage, error) {
	if n <= 0 {
		return []*models.Passage{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT advisor_id, id, text, source, year, weight, created_at FROM advisor_passages
		 WHERE advisor_id = $1 ORDER BY weight DESC, id LIMIT $2`, advisorID, n)
	if err != nil {
		return nil, fmt.Errorf("top passages: %w", err)
	}
	defer rows.Close()

	var passages []*models.Passage
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.AdvisorID, &p.ID, &p.Text, &p.Source, &p.Year, &p.Weight, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		passages = append(passages, &p)
	}
	return passages, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
