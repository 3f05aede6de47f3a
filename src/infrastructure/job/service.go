package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nutriplan/src/infrastructure/backoff"
	"nutriplan/src/infrastructure/log"
)

// ErrPipelineDisabled is returned from Enqueue when the async pipeline
// feature is switched off.
var ErrPipelineDisabled = errors.New("async plan pipeline is disabled")

// Task executes one claimed job. Handle must be idempotent: an expired
// lease can hand the same job to a second runner.
type Task interface {
	Type() string
	Handle(ctx context.Context, j *Job) error
}

// PlanStore is the slice of plan persistence the service needs to mark a
// plan failed when its job gives up.
type PlanStore interface {
	MarkFailed(ctx context.Context, planID int64, message string) error
}

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	Enabled       bool
	MaxAttempts   int
	LeaseDuration time.Duration
	Backoff       backoff.Strategy
}

type Service struct {
	repo  Repository
	task  Task
	plans PlanStore
	cfg   Config
}

func NewService(repo Repository, task Task, plans PlanStore, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.DefaultStrategy()
	}

	return &Service{
		repo:  repo,
		task:  task,
		plans: plans,
		cfg:   cfg,
	}
}

// EnqueueInput describes one plan-generation request.
type EnqueueInput struct {
	UserID               string
	PlanID               int64
	QuestionnaireID      int64
	QuestionnaireVersion int
	Trigger              string
	// MaxAttempts overrides the service default when positive.
	MaxAttempts int
}

// Enqueue records a plan-generation job. Enqueueing the same
// (user, questionnaire version, plan) triple again returns the existing
// job unchanged.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (*Job, error) {
	if !s.cfg.Enabled {
		return nil, ErrPipelineDisabled
	}

	payload, err := json.Marshal(PlanGenerationPayload{
		PlanID:               input.PlanID,
		QuestionnaireID:      input.QuestionnaireID,
		QuestionnaireVersion: input.QuestionnaireVersion,
		Trigger:              input.Trigger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %v", err)
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	now := time.Now()
	planID := input.PlanID
	j := &Job{
		JobKey:          BuildPlanJobKey(input.UserID, input.QuestionnaireVersion, input.PlanID),
		Type:            TypePlanGeneration,
		Status:          StatusQueued,
		Payload:         payload,
		MaxAttempts:     maxAttempts,
		RunAfter:        now,
		UserID:          input.UserID,
		NutritionPlanID: &planID,
	}

	stored, err := s.repo.InsertIfAbsent(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %v", err)
	}
	return stored, nil
}

// RunSummary reports what one runner pass did.
type RunSummary struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// RunBatch claims up to maxJobs due jobs and executes them sequentially.
// Candidates another runner claims first are skipped silently.
func (s *Service) RunBatch(ctx context.Context, maxJobs int) (RunSummary, error) {
	var summary RunSummary
	if !s.cfg.Enabled {
		return summary, nil
	}

	if maxJobs <= 0 {
		maxJobs = 1
	}
	if maxJobs > MaxBatchSize {
		maxJobs = MaxBatchSize
	}

	claimed, err := s.claimDue(ctx, maxJobs)
	if err != nil {
		return summary, err
	}
	summary.Claimed = len(claimed)

	for i := range claimed {
		j := &claimed[i]
		outcome := s.runJob(ctx, j)
		switch outcome {
		case StatusCompleted:
			summary.Completed++
		case StatusRetryable:
			summary.Retried++
		default:
			summary.Failed++
		}
	}

	return summary, nil
}

func (s *Service) claimDue(ctx context.Context, limit int) ([]Job, error) {
	now := time.Now()
	candidates, err := s.repo.FindDueBatch(ctx, s.task.Type(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %v", err)
	}

	var claimed []Job
	for _, candidate := range candidates {
		ok, err := s.repo.ConditionalClaim(ctx, candidate.ID, now, s.cfg.LeaseDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %d: %v", candidate.ID, err)
		}
		if !ok {
			continue
		}

		// Refetch so the executed job carries the post-claim attempts and
		// lease rather than the stale candidate snapshot.
		fresh, err := s.repo.GetByID(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload claimed job %d: %v", candidate.ID, err)
		}
		if fresh == nil {
			continue
		}
		claimed = append(claimed, *fresh)
	}

	return claimed, nil
}

func (s *Service) runJob(ctx context.Context, j *Job) Status {
	var runErr error
	if j.Type != s.task.Type() {
		runErr = Fatalf("unsupported job type: %s", j.Type)
	} else {
		runErr = s.task.Handle(ctx, j)
	}

	if runErr == nil {
		err := s.repo.UpdateOutcome(ctx, j.ID, Outcome{Status: StatusCompleted})
		if err == nil {
			return StatusCompleted
		}
		// A completed attempt we cannot record is treated like a failed
		// attempt so the job is not left stuck in running state.
		runErr = fmt.Errorf("failed to record job completion: %v", err)
	}

	return s.failAttempt(ctx, j, runErr)
}

func (s *Service) failAttempt(ctx context.Context, j *Job, runErr error) Status {
	msg := runErr.Error()
	log.Error(runErr, "generation job attempt failed", "jobID", j.ID, "attempts", j.Attempts)

	attempts := j.Attempts
	if fresh, err := s.repo.GetByID(ctx, j.ID); err == nil && fresh != nil {
		attempts = fresh.Attempts
	}

	if IsFatal(runErr) || attempts >= j.MaxAttempts {
		if err := s.repo.UpdateOutcome(ctx, j.ID, Outcome{Status: StatusFailed, LastError: &msg}); err != nil {
			log.Error(err, "failed to mark job failed", "jobID", j.ID)
		}
		s.markPlanFailed(ctx, j, msg)
		return StatusFailed
	}

	runAfter := time.Now().Add(s.cfg.Backoff.Delay(attempts))
	if err := s.repo.UpdateOutcome(ctx, j.ID, Outcome{Status: StatusRetryable, RunAfter: &runAfter, LastError: &msg}); err != nil {
		log.Error(err, "failed to schedule job retry", "jobID", j.ID)
	}
	return StatusRetryable
}

func (s *Service) markPlanFailed(ctx context.Context, j *Job, msg string) {
	if s.plans == nil || j.NutritionPlanID == nil {
		return
	}
	if err := s.plans.MarkFailed(ctx, *j.NutritionPlanID, msg); err != nil {
		log.Error(err, "failed to mark plan failed", "planID", *j.NutritionPlanID)
	}
}
