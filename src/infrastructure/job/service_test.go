package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nutriplan/src/infrastructure/backoff"
)

type stubTask struct {
	mu      sync.Mutex
	handled []int64
	err     error
	fatal   bool
}

func (t *stubTask) Type() string { return TypePlanGeneration }

func (t *stubTask) Handle(_ context.Context, j *Job) error {
	t.mu.Lock()
	t.handled = append(t.handled, j.ID)
	t.mu.Unlock()
	if t.fatal {
		return Fatalf("broken forever: %v", t.err)
	}
	return t.err
}

func (t *stubTask) handledCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handled)
}

type stubPlanStore struct {
	mu     sync.Mutex
	failed map[int64]string
}

func newStubPlanStore() *stubPlanStore {
	return &stubPlanStore{failed: make(map[int64]string)}
}

func (s *stubPlanStore) MarkFailed(_ context.Context, planID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[planID] = message
	return nil
}

func (s *stubPlanStore) failedMessage(planID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.failed[planID]
	return msg, ok
}

func newTestService(repo Repository, task Task, plans PlanStore) *Service {
	return NewService(repo, task, plans, Config{
		Enabled:     true,
		MaxAttempts: 3,
		Backoff:     backoff.NewExponential(time.Minute, 0),
	})
}

func enqueueTestJob(t *testing.T, svc *Service, planID int64) *Job {
	t.Helper()
	j, err := svc.Enqueue(context.Background(), EnqueueInput{
		UserID:               "user-1",
		PlanID:               planID,
		QuestionnaireID:      planID + 100,
		QuestionnaireVersion: 1,
		Trigger:              TriggerQuestionnaireComplete,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return j
}

func TestEnqueueIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, &stubTask{}, nil)

	first := enqueueTestJob(t, svc, 10)
	second := enqueueTestJob(t, svc, 10)

	if first.ID != second.ID {
		t.Errorf("expected same job for duplicate enqueue, got %d and %d", first.ID, second.ID)
	}
	if second.Status != StatusQueued {
		t.Errorf("Status = %s, want %s", second.Status, StatusQueued)
	}

	due, err := repo.FindDueBatch(context.Background(), TypePlanGeneration, time.Now(), 10)
	if err != nil {
		t.Fatalf("FindDueBatch() error = %v", err)
	}
	if len(due) != 1 {
		t.Errorf("expected 1 stored job, got %d", len(due))
	}
}

func TestEnqueueWhenDisabled(t *testing.T) {
	svc := NewService(NewMemoryRepository(), &stubTask{}, nil, Config{Enabled: false})

	_, err := svc.Enqueue(context.Background(), EnqueueInput{
		UserID:               "user-1",
		PlanID:               10,
		QuestionnaireID:      110,
		QuestionnaireVersion: 1,
		Trigger:              TriggerRegenerate,
	})
	if !errors.Is(err, ErrPipelineDisabled) {
		t.Errorf("Enqueue() error = %v, want ErrPipelineDisabled", err)
	}

	summary, err := svc.RunBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary.Claimed != 0 {
		t.Errorf("Claimed = %d, want 0 when disabled", summary.Claimed)
	}
}

func TestRunBatchExecutesOldestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	task := &stubTask{}
	svc := newTestService(repo, task, nil)

	first := enqueueTestJob(t, svc, 1)
	time.Sleep(2 * time.Millisecond)
	second := enqueueTestJob(t, svc, 2)
	time.Sleep(2 * time.Millisecond)
	enqueueTestJob(t, svc, 3)

	summary, err := svc.RunBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary.Claimed != 2 || summary.Completed != 2 {
		t.Fatalf("summary = %+v, want 2 claimed and completed", summary)
	}

	if len(task.handled) != 2 || task.handled[0] != first.ID || task.handled[1] != second.ID {
		t.Errorf("handled = %v, want oldest first [%d %d]", task.handled, first.ID, second.ID)
	}
}

func TestRunBatchClaimIsExclusive(t *testing.T) {
	repo := NewMemoryRepository()
	var handled int64
	task := &countingTask{counter: &handled}
	svc := newTestService(repo, task, nil)

	enqueueTestJob(t, svc, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RunBatch(context.Background(), 1); err != nil {
				t.Errorf("RunBatch() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&handled); got != 1 {
		t.Errorf("job executed %d times, want exactly once", got)
	}
}

type countingTask struct {
	counter *int64
}

func (t *countingTask) Type() string { return TypePlanGeneration }

func (t *countingTask) Handle(context.Context, *Job) error {
	atomic.AddInt64(t.counter, 1)
	return nil
}

func TestRunBatchRetriesThenFails(t *testing.T) {
	repo := NewMemoryRepository()
	task := &stubTask{err: fmt.Errorf("llm unavailable")}
	plans := newStubPlanStore()
	svc := newTestService(repo, task, plans)

	j := enqueueTestJob(t, svc, 42)

	for attempt := 1; attempt <= 3; attempt++ {
		summary, err := svc.RunBatch(context.Background(), 5)
		if err != nil {
			t.Fatalf("RunBatch() attempt %d error = %v", attempt, err)
		}
		if summary.Claimed != 1 {
			t.Fatalf("attempt %d: Claimed = %d, want 1", attempt, summary.Claimed)
		}

		stored, err := repo.GetByID(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if stored.Attempts != attempt {
			t.Errorf("attempt %d: Attempts = %d", attempt, stored.Attempts)
		}

		if attempt < 3 {
			if stored.Status != StatusRetryable {
				t.Fatalf("attempt %d: Status = %s, want %s", attempt, stored.Status, StatusRetryable)
			}
			if !stored.RunAfter.After(time.Now()) {
				t.Errorf("attempt %d: RunAfter not pushed into the future", attempt)
			}
			if stored.LastError == nil || *stored.LastError != "llm unavailable" {
				t.Errorf("attempt %d: LastError = %v", attempt, stored.LastError)
			}
			if _, failed := plans.failedMessage(42); failed {
				t.Errorf("attempt %d: plan marked failed before retries exhausted", attempt)
			}
			repo.Rewind(j.ID, time.Now().Add(-time.Second))
		} else {
			if stored.Status != StatusFailed {
				t.Fatalf("Status after exhaustion = %s, want %s", stored.Status, StatusFailed)
			}
			if msg, failed := plans.failedMessage(42); !failed || msg != "llm unavailable" {
				t.Errorf("plan failure = %q, %v; want recorded", msg, failed)
			}
		}
	}

	// Terminal jobs are never picked up again.
	summary, err := svc.RunBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary.Claimed != 0 {
		t.Errorf("Claimed = %d after terminal failure, want 0", summary.Claimed)
	}
}

func TestRunBatchFatalErrorSkipsRetries(t *testing.T) {
	repo := NewMemoryRepository()
	task := &stubTask{fatal: true, err: fmt.Errorf("bad payload")}
	plans := newStubPlanStore()
	svc := newTestService(repo, task, plans)

	j := enqueueTestJob(t, svc, 7)

	summary, err := svc.RunBatch(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", summary)
	}

	stored, err := repo.GetByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != StatusFailed {
		t.Errorf("Status = %s, want %s on first attempt", stored.Status, StatusFailed)
	}
	if stored.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", stored.Attempts)
	}
	if _, failed := plans.failedMessage(7); !failed {
		t.Error("plan not marked failed after fatal error")
	}
}

func TestRunJobFailsUnsupportedType(t *testing.T) {
	repo := NewMemoryRepository()
	task := &stubTask{}
	plans := newStubPlanStore()
	svc := newTestService(repo, task, plans)

	planID := int64(1)
	stored, err := repo.InsertIfAbsent(context.Background(), &Job{
		JobKey:          "pdf_export:user-1:1:1",
		Type:            "pdf_export",
		Status:          StatusQueued,
		Payload:         json.RawMessage(`{}`),
		MaxAttempts:     3,
		RunAfter:        time.Now().Add(-time.Second),
		UserID:          "user-1",
		NutritionPlanID: &planID,
	})
	if err != nil {
		t.Fatalf("InsertIfAbsent() error = %v", err)
	}

	ok, err := repo.ConditionalClaim(context.Background(), stored.ID, time.Now(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("ConditionalClaim() = %v, %v", ok, err)
	}
	claimed, err := repo.GetByID(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got := svc.runJob(context.Background(), claimed); got != StatusFailed {
		t.Fatalf("runJob() = %s, want %s", got, StatusFailed)
	}

	final, _ := repo.GetByID(context.Background(), stored.ID)
	if final.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", final.Status, StatusFailed)
	}
	if final.LastError == nil {
		t.Error("expected a recorded error for the unsupported type")
	}
	if task.handledCount() != 0 {
		t.Errorf("task invoked %d times for an unsupported type", task.handledCount())
	}
	if _, failed := plans.failedMessage(1); !failed {
		t.Error("plan not marked failed for the unsupported type")
	}
}

func TestRunBatchReclaimsExpiredLease(t *testing.T) {
	repo := NewMemoryRepository()
	task := &stubTask{}
	svc := newTestService(repo, task, nil)

	j := enqueueTestJob(t, svc, 5)

	// Simulate a crashed runner: claimed but never finished, lease expired.
	expired := time.Now().Add(-time.Minute)
	repo.mu.Lock()
	repo.jobs[j.ID].Status = StatusRetryable
	repo.jobs[j.ID].LeaseUntil = &expired
	repo.mu.Unlock()

	summary, err := svc.RunBatch(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary.Claimed != 1 || summary.Completed != 1 {
		t.Errorf("summary = %+v, want the expired-lease job reclaimed and completed", summary)
	}
}

func TestRunBatchHoldsActiveLease(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, &stubTask{}, nil)

	j := enqueueTestJob(t, svc, 6)

	held := time.Now().Add(30 * time.Second)
	repo.mu.Lock()
	repo.jobs[j.ID].Status = StatusRetryable
	repo.jobs[j.ID].LeaseUntil = &held
	repo.mu.Unlock()

	summary, err := svc.RunBatch(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if summary.Claimed != 0 {
		t.Errorf("Claimed = %d, want 0 while another runner's lease is live", summary.Claimed)
	}
}

func TestBuildPlanJobKey(t *testing.T) {
	got := BuildPlanJobKey("user-9", 3, 1234)
	want := "plan_generation:user-9:3:1234"
	if got != want {
		t.Errorf("BuildPlanJobKey() = %q, want %q", got, want)
	}
}

func TestParsePlanGenerationPayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid",
			raw:  `{"planId":1,"questionnaireId":2,"questionnaireVersion":1,"trigger":"regenerate"}`,
		},
		{
			name:    "malformed json",
			raw:     `{"planId":`,
			wantErr: true,
		},
		{
			name:    "missing plan id",
			raw:     `{"questionnaireId":2,"questionnaireVersion":1,"trigger":"regenerate"}`,
			wantErr: true,
		},
		{
			name:    "unknown trigger",
			raw:     `{"planId":1,"questionnaireId":2,"questionnaireVersion":1,"trigger":"cron"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlanGenerationPayload(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlanGenerationPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsFatal(err) {
				t.Errorf("expected a fatal error, got %v", err)
			}
		})
	}
}
