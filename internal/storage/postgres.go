package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	// Set pool configuration
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5 // default
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Plans ---

const planColumns = `id, academy_id, exam_type, plan_name, total_credits, used_credits, status, starts_at, expires_at, created_at`

func scanPlan(row pgx.Row) (*models.ExamPlan, error) {
	var p models.ExamPlan
	var statusStr string
	var expiresAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.AcademyID,
		&p.ExamType,
		&p.PlanName,
		&p.TotalCredits,
		&p.UsedCredits,
		&statusStr,
		&p.StartsAt,
		&expiresAt,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = models.PlanStatus(statusStr)
	if expiresAt.Valid {
		p.ExpiresAt = &expiresAt.Time
	}

	return &p, nil
}

// GetPlan retrieves an exam plan by ID
func (r *PostgresRepository) GetPlan(ctx context.Context, id string) (*models.ExamPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_plans WHERE id = $1`, planColumns)

	plan, err := scanPlan(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return plan, nil
}

// GetActivePlan retrieves the academy's active plan for one exam type.
// When several qualify, the one expiring soonest is used first.
func (r *PostgresRepository) GetActivePlan(ctx context.Context, academyID, examType string) (*models.ExamPlan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM exam_plans
		WHERE academy_id = $1 AND exam_type = $2 AND status = 'active'
		ORDER BY expires_at ASC NULLS LAST
		LIMIT 1
	`, planColumns)

	plan, err := scanPlan(r.pool.QueryRow(ctx, query, academyID, examType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active plan: %w", err)
	}

	return plan, nil
}

// ConsumeCredits performs the conditional balance decrement. The guard
// and the increment are one UPDATE, so two concurrent consumers can
// never jointly overdraw the plan.
func (r *PostgresRepository) ConsumeCredits(ctx context.Context, planID string, amount float64) (*models.ExamPlan, bool, error) {
	query := fmt.Sprintf(`
		UPDATE exam_plans
		SET used_credits = used_credits + $2
		WHERE id = $1
		  AND status = 'active'
		  AND total_credits - used_credits >= $2
		RETURNING %s
	`, planColumns)

	plan, err := scanPlan(r.pool.QueryRow(ctx, query, planID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the plan does not exist or the guard failed;
			// re-read so the caller can tell the two apart.
			existing, getErr := r.GetPlan(ctx, planID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to consume credits: %w", err)
	}

	return plan, true, nil
}

// RefundCredits returns credits to a plan, clamped so used_credits never
// goes negative. An exhausted plan that regains headroom becomes active.
func (r *PostgresRepository) RefundCredits(ctx context.Context, planID string, amount float64) error {
	query := `
		UPDATE exam_plans
		SET used_credits = GREATEST(used_credits - $2, 0),
		    status = CASE
		        WHEN status = 'exhausted' AND GREATEST(used_credits - $2, 0) < total_credits THEN 'active'
		        ELSE status
		    END
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, planID, amount)
	if err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("plan not found: %s", planID)
	}

	return nil
}

// ExpirePlan transitions an active plan to expired
func (r *PostgresRepository) ExpirePlan(ctx context.Context, planID string) (bool, error) {
	query := `UPDATE exam_plans SET status = 'expired' WHERE id = $1 AND status = 'active'`

	result, err := r.pool.Exec(ctx, query, planID)
	if err != nil {
		return false, fmt.Errorf("failed to expire plan: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ExhaustPlan transitions an active, fully-consumed plan to exhausted
func (r *PostgresRepository) ExhaustPlan(ctx context.Context, planID string) (bool, error) {
	query := `
		UPDATE exam_plans
		SET status = 'exhausted'
		WHERE id = $1 AND status = 'active' AND used_credits >= total_credits
	`

	result, err := r.pool.Exec(ctx, query, planID)
	if err != nil {
		return false, fmt.Errorf("failed to exhaust plan: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListLapsedPlans returns active plans whose validity window has passed
func (r *PostgresRepository) ListLapsedPlans(ctx context.Context) ([]*models.ExamPlan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM exam_plans
		WHERE status = 'active'
		  AND expires_at IS NOT NULL
		  AND expires_at < NOW()
		ORDER BY expires_at ASC
	`, planColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.ExamPlan

	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lapsed plans: %w", err)
	}

	return plans, nil
}

// --- Students ---

// GetStudentByUser retrieves a student enrollment by platform user ID
func (r *PostgresRepository) GetStudentByUser(ctx context.Context, userID string) (*models.Student, error) {
	query := `
		SELECT id, academy_id, user_id, active, enrolled_at
		FROM students
		WHERE user_id = $1
	`

	var st models.Student

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&st.ID,
		&st.AcademyID,
		&st.UserID,
		&st.Active,
		&st.EnrolledAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	return &st, nil
}

// --- Attempts ---

// CreateAttempt inserts an attempt and its sections atomically
func (r *PostgresRepository) CreateAttempt(ctx context.Context, a *models.MockExamAttempt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	attemptQuery := `
		INSERT INTO mock_exam_attempts (id, student_id, exam_plan_id, user_id, exam_type, attempt_number, mode, status, topic, total_time_limit_minutes, credits_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = tx.Exec(ctx, attemptQuery,
		a.ID,
		a.StudentID,
		a.PlanID,
		a.UserID,
		a.ExamType,
		a.AttemptNumber,
		string(a.Mode),
		string(a.Status),
		nullString(a.Topic),
		a.TotalTimeLimitMinutes,
		a.CreditsUsed,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	sectionQuery := `
		INSERT INTO exam_sections (id, attempt_id, section_type, section_order, status, time_limit_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, s := range a.Sections {
		_, err = tx.Exec(ctx, sectionQuery,
			s.ID,
			a.ID,
			s.SectionType,
			s.Order,
			string(s.Status),
			s.TimeLimitMinutes,
		)
		if err != nil {
			return fmt.Errorf("failed to create section %s: %w", s.SectionType, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit attempt: %w", err)
	}

	return nil
}

const attemptColumns = `id, student_id, exam_plan_id, user_id, exam_type, attempt_number, mode, status, topic, total_time_limit_minutes, credits_used, overall_band, overall_percentage, needs_reconciliation, reconciliation_note, created_at, started_at, completed_at`

func scanAttempt(row pgx.Row) (*models.MockExamAttempt, error) {
	var a models.MockExamAttempt
	var modeStr, statusStr string
	var topic, overallBand, reconNote sql.NullString
	var overallPct sql.NullFloat64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.PlanID,
		&a.UserID,
		&a.ExamType,
		&a.AttemptNumber,
		&modeStr,
		&statusStr,
		&topic,
		&a.TotalTimeLimitMinutes,
		&a.CreditsUsed,
		&overallBand,
		&overallPct,
		&a.NeedsReconciliation,
		&reconNote,
		&a.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Mode = models.AttemptMode(modeStr)
	a.Status = models.AttemptStatus(statusStr)
	a.Topic = topic.String
	a.OverallBand = overallBand.String
	a.ReconciliationNote = reconNote.String

	if overallPct.Valid {
		a.OverallPercentage = &overallPct.Float64
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}

	return &a, nil
}

// GetAttempt retrieves an attempt with its sections
func (r *PostgresRepository) GetAttempt(ctx context.Context, id string) (*models.MockExamAttempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM mock_exam_attempts WHERE id = $1`, attemptColumns)

	a, err := scanAttempt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	sections, err := r.getSections(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sections: %w", err)
	}
	a.Sections = sections

	return a, nil
}

// ListAttempts returns a student's attempts, optionally scoped to one plan
func (r *PostgresRepository) ListAttempts(ctx context.Context, studentID, planID string) ([]*models.MockExamAttempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM mock_exam_attempts WHERE student_id = $1`, attemptColumns)
	args := []interface{}{studentID}

	if planID != "" {
		query += " AND exam_plan_id = $2"
		args = append(args, planID)
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.MockExamAttempt

	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	// Load sections per attempt
	for _, a := range attempts {
		sections, err := r.getSections(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get sections for attempt %s: %w", a.ID, err)
		}
		a.Sections = sections
	}

	return attempts, nil
}

// NextAttemptNumber returns the next sequential attempt number for a student on a plan
func (r *PostgresRepository) NextAttemptNumber(ctx context.Context, studentID, planID string) (int, error) {
	query := `
		SELECT COALESCE(MAX(attempt_number), 0) + 1
		FROM mock_exam_attempts
		WHERE student_id = $1 AND exam_plan_id = $2
	`

	var next int
	if err := r.pool.QueryRow(ctx, query, studentID, planID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next attempt number: %w", err)
	}

	return next, nil
}

// UpdateAttempt updates an attempt's lifecycle fields. credits_used is
// deliberately excluded; it only moves through AddAttemptCredits.
func (r *PostgresRepository) UpdateAttempt(ctx context.Context, a *models.MockExamAttempt) error {
	query := `
		UPDATE mock_exam_attempts
		SET status = $2, overall_band = $3, overall_percentage = $4, needs_reconciliation = $5, reconciliation_note = $6, started_at = $7, completed_at = $8
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		a.ID,
		string(a.Status),
		nullString(a.OverallBand),
		nullFloat(a.OverallPercentage),
		a.NeedsReconciliation,
		nullString(a.ReconciliationNote),
		nullTime(a.StartedAt),
		nullTime(a.CompletedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("attempt not found: %s", a.ID)
	}

	return nil
}

// AddAttemptCredits accumulates credits charged against an attempt
func (r *PostgresRepository) AddAttemptCredits(ctx context.Context, attemptID string, amount float64) error {
	query := `UPDATE mock_exam_attempts SET credits_used = credits_used + $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, attemptID, amount)
	if err != nil {
		return fmt.Errorf("failed to add attempt credits: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("attempt not found: %s", attemptID)
	}

	return nil
}

// --- Sections ---

func (r *PostgresRepository) getSections(ctx context.Context, attemptID string) ([]*models.ExamSection, error) {
	query := `
		SELECT id, attempt_id, section_type, section_order, status, time_limit_minutes, time_elapsed_seconds, raw_score, max_score, percentage_score, band_score, feedback, content_session_id, started_at, completed_at
		FROM exam_sections
		WHERE attempt_id = $1
		ORDER BY section_order ASC
	`

	rows, err := r.pool.Query(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sections: %w", err)
	}
	defer rows.Close()

	var sections []*models.ExamSection

	for rows.Next() {
		var s models.ExamSection
		var statusStr string
		var rawScore, maxScore, pctScore sql.NullFloat64
		var bandScore, contentSessionID sql.NullString
		var feedbackJSON []byte
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&s.ID,
			&s.AttemptID,
			&s.SectionType,
			&s.Order,
			&statusStr,
			&s.TimeLimitMinutes,
			&s.TimeElapsedSeconds,
			&rawScore,
			&maxScore,
			&pctScore,
			&bandScore,
			&feedbackJSON,
			&contentSessionID,
			&startedAt,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}

		s.Status = models.SectionStatus(statusStr)
		s.BandScore = bandScore.String
		s.ContentSessionID = contentSessionID.String

		if rawScore.Valid {
			s.RawScore = &rawScore.Float64
		}
		if maxScore.Valid {
			s.MaxScore = &maxScore.Float64
		}
		if pctScore.Valid {
			s.PercentageScore = &pctScore.Float64
		}
		if startedAt.Valid {
			s.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			s.CompletedAt = &completedAt.Time
		}

		if feedbackJSON != nil {
			if err := json.Unmarshal(feedbackJSON, &s.Feedback); err != nil {
				return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
			}
		}

		sections = append(sections, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sections: %w", err)
	}

	return sections, nil
}

// ClaimSection performs the conditional available -> in_progress
// transition. Two tabs racing to start the same section see exactly one
// winner; the loser resumes the winner's session.
func (r *PostgresRepository) ClaimSection(ctx context.Context, sectionID, contentSessionID string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE exam_sections
		SET status = 'in_progress', content_session_id = $2, started_at = $3
		WHERE id = $1 AND status = 'available'
	`

	result, err := r.pool.Exec(ctx, query, sectionID, contentSessionID, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim section: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// CompleteSection writes the terminal state and evaluation outcome of a section
func (r *PostgresRepository) CompleteSection(ctx context.Context, s *models.ExamSection) (bool, error) {
	feedbackJSON, err := json.Marshal(s.Feedback)
	if err != nil {
		return false, fmt.Errorf("failed to marshal feedback: %w", err)
	}

	query := `
		UPDATE exam_sections
		SET status = 'completed', time_elapsed_seconds = $2, raw_score = $3, max_score = $4, percentage_score = $5, band_score = $6, feedback = $7, completed_at = $8
		WHERE id = $1 AND status = 'in_progress'
	`

	result, err := r.pool.Exec(ctx, query,
		s.ID,
		s.TimeElapsedSeconds,
		nullFloat(s.RawScore),
		nullFloat(s.MaxScore),
		nullFloat(s.PercentageScore),
		nullString(s.BandScore),
		feedbackJSON,
		nullTime(s.CompletedAt),
	)

	if err != nil {
		return false, fmt.Errorf("failed to complete section: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// UnlockSection makes the next section in the progression startable
func (r *PostgresRepository) UnlockSection(ctx context.Context, attemptID string, order int) (bool, error) {
	query := `
		UPDATE exam_sections
		SET status = 'available'
		WHERE attempt_id = $1 AND section_order = $2 AND status = 'locked'
	`

	result, err := r.pool.Exec(ctx, query, attemptID, order)
	if err != nil {
		return false, fmt.Errorf("failed to unlock section: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// --- API Clients ---

// GetClientByAPIKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByAPIKey(ctx context.Context, apiKey string) (*models.APIClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.APIClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.APIKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	// Parse permissions JSON array
	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	// Parse metadata JSON object
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	_, err := r.pool.Exec(ctx, query, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// Helper functions for nullable values

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
