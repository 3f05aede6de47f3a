package job

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var eligibleStatuses = []Status{StatusQueued, StatusRetryable}

// PostgresJobRepository persists jobs in postgres via gorm. Claim
// exclusivity rests on the conditional UPDATE re-checking the eligibility
// predicate at update time; the database serializes racing claimers on
// row-level locks.
type PostgresJobRepository struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewPostgresJobRepository(db *gorm.DB) (*PostgresJobRepository, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &PostgresJobRepository{
		db:        db,
		snowflake: node,
	}, nil
}

func (r *PostgresJobRepository) InsertIfAbsent(ctx context.Context, j *Job) (*Job, error) {
	j.ID = r.snowflake.Generate().Int64()

	result := r.db.WithContext(ctx).Create(j)
	if result.Error == nil {
		return j, nil
	}

	// On any insert failure check for an existing row first: a unique
	// violation on job_key means an equivalent job already exists and must
	// be returned instead of an error.
	existing, findErr := r.findByKey(ctx, j.JobKey)
	if findErr != nil {
		return nil, fmt.Errorf("failed to create job: %v", result.Error)
	}
	if existing != nil {
		return existing, nil
	}

	return nil, fmt.Errorf("failed to create job: %v", result.Error)
}

func (r *PostgresJobRepository) findByKey(ctx context.Context, jobKey string) (*Job, error) {
	var j Job
	result := r.db.WithContext(ctx).Where("job_key = ?", jobKey).First(&j)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &j, nil
}

func (r *PostgresJobRepository) FindDueBatch(ctx context.Context, jobType string, now time.Time, limit int) ([]Job, error) {
	var jobs []Job
	result := r.db.WithContext(ctx).
		Where("type = ? AND status IN ? AND run_after <= ? AND (lease_until IS NULL OR lease_until < ?)",
			jobType, eligibleStatuses, now, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find due jobs: %v", result.Error)
	}
	return jobs, nil
}

func (r *PostgresJobRepository) ConditionalClaim(ctx context.Context, jobID int64, now time.Time, leaseDuration time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ? AND run_after <= ? AND (lease_until IS NULL OR lease_until < ?)",
			jobID, eligibleStatuses, now, now).
		Updates(map[string]interface{}{
			"status":      StatusRunning,
			"attempts":    gorm.Expr("attempts + 1"),
			"lease_until": now.Add(leaseDuration),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim job: %v", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *PostgresJobRepository) GetByID(ctx context.Context, id int64) (*Job, error) {
	var j Job
	result := r.db.WithContext(ctx).First(&j, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %v", result.Error)
	}
	return &j, nil
}

func (r *PostgresJobRepository) UpdateOutcome(ctx context.Context, jobID int64, outcome Outcome) error {
	fields := map[string]interface{}{
		"status":      outcome.Status,
		"lease_until": nil,
		"last_error":  outcome.LastError,
	}
	if outcome.RunAfter != nil {
		fields["run_after"] = *outcome.RunAfter
	}

	result := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update job outcome: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job not found: %d", jobID)
	}
	return nil
}
