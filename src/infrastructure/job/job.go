// Package job implements the durable generation-job pipeline: idempotent
// enqueue, concurrency-safe claiming with leases, sequential batch
// execution and exponential-backoff retries. The job row in the backing
// store is the single point of cross-runner coordination.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the job lifecycle state. Completed and failed are terminal;
// retryable jobs become eligible again once run_after passes.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetryable Status = "retryable"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TypePlanGeneration is the only job type in the pipeline.
const TypePlanGeneration = "plan_generation"

// Triggers record why a job was enqueued; they are kept for observability.
const (
	TriggerQuestionnaireComplete = "questionnaire_complete"
	TriggerRegenerate            = "regenerate"
)

const (
	DefaultMaxAttempts   = 5
	DefaultLeaseDuration = 60 * time.Second
	// MaxBatchSize bounds how many jobs one runner invocation may claim.
	MaxBatchSize = 20
)

// Job is one durable unit of generation work.
type Job struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	JobKey          string          `gorm:"not null;uniqueIndex;column:job_key" json:"job_key"`
	Type            string          `gorm:"not null" json:"type"`
	Status          Status          `gorm:"not null;index" json:"status"`
	Payload         json.RawMessage `gorm:"not null" json:"payload"`
	Attempts        int             `gorm:"not null" json:"attempts"`
	MaxAttempts     int             `gorm:"not null" json:"max_attempts"`
	RunAfter        time.Time       `gorm:"not null;index" json:"run_after"`
	LeaseUntil      *time.Time      `json:"lease_until,omitempty"`
	LastError       *string         `json:"last_error,omitempty"`
	UserID          string          `gorm:"not null" json:"user_id"`
	NutritionPlanID *int64          `json:"nutrition_plan_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PlanGenerationPayload is the opaque work description stored on the job.
type PlanGenerationPayload struct {
	PlanID               int64  `json:"planId"`
	QuestionnaireID      int64  `json:"questionnaireId"`
	QuestionnaireVersion int    `json:"questionnaireVersion"`
	Trigger              string `json:"trigger"`
}

// BuildPlanJobKey derives the idempotency key. Re-submitting the same
// (user, questionnaire version, plan) triple always produces the same key,
// so the unique constraint collapses duplicates to one job.
func BuildPlanJobKey(userID string, questionnaireVersion int, planID int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", TypePlanGeneration, userID, questionnaireVersion, planID)
}

// ErrJobNotFound reports an outcome update against a job id that does not
// exist in the store.
var ErrJobNotFound = errors.New("job not found")

// FatalError marks a failure retrying cannot fix, such as a structurally
// invalid payload. Fatal failures skip the retry path entirely.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError from a format string.
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ParsePlanGenerationPayload decodes a job payload. Any structural problem
// is fatal: malformed data will be exactly as malformed on the next
// attempt.
func ParsePlanGenerationPayload(raw json.RawMessage) (*PlanGenerationPayload, error) {
	var payload PlanGenerationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, Fatalf("invalid generation job payload: %v", err)
	}

	if payload.PlanID == 0 || payload.QuestionnaireID == 0 {
		return nil, Fatalf("generation job payload is missing identifiers")
	}
	if payload.QuestionnaireVersion <= 0 {
		return nil, Fatalf("generation job payload is missing questionnaireVersion")
	}
	if payload.Trigger != TriggerQuestionnaireComplete && payload.Trigger != TriggerRegenerate {
		return nil, Fatalf("generation job payload contains invalid trigger: %q", payload.Trigger)
	}

	return &payload, nil
}

// Outcome records the terminal fields written after a claimed job finishes
// one attempt. The lease is always released.
type Outcome struct {
	Status Status
	// RunAfter is set only for retryable outcomes.
	RunAfter *time.Time
	// LastError is nil on success, clearing any previous attempt's error.
	LastError *string
}

// Repository is the durable job store contract. Implementations must make
// ConditionalClaim atomic: with concurrent runners racing on the same row,
// exactly one claim succeeds.
type Repository interface {
	// InsertIfAbsent inserts the job, or returns the existing row when the
	// job key is already taken.
	InsertIfAbsent(ctx context.Context, j *Job) (*Job, error)

	// FindDueBatch returns up to limit eligible jobs of the given type,
	// oldest first. A job is eligible iff its status is queued or
	// retryable, run_after has passed, and any lease has expired.
	FindDueBatch(ctx context.Context, jobType string, now time.Time, limit int) ([]Job, error)

	// ConditionalClaim transitions an eligible job to running, increments
	// attempts and takes a lease, all in one atomic update. It reports
	// whether the claim applied; a lost race is not an error.
	ConditionalClaim(ctx context.Context, jobID int64, now time.Time, leaseDuration time.Duration) (bool, error)

	// GetByID returns the authoritative row, nil when absent.
	GetByID(ctx context.Context, id int64) (*Job, error)

	// UpdateOutcome records the attempt outcome for a job whose claim this
	// runner holds.
	UpdateOutcome(ctx context.Context, jobID int64, outcome Outcome) error
}
