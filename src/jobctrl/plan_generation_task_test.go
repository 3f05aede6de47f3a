package jobctrl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"nutriplan/src/infrastructure/integrations/gamma"
	"nutriplan/src/infrastructure/job"
	"nutriplan/src/planflow"
	"nutriplan/src/questionnaire"
	"nutriplan/src/storage/postgres/gammactrl"
	"nutriplan/src/storage/postgres/planctrl"
	"nutriplan/src/storage/postgres/questionnairectrl"
	"nutriplan/src/targets"
)

const testAnswersJSON = `{
	"firstName": "Alex",
	"sex": "Male",
	"age": 30,
	"heightCm": 180,
	"weightKg": 80,
	"primaryGoal": "Fat loss",
	"wakeTime": "06:30",
	"sleepTime": "22:30",
	"workSchedule": "Office 9-5",
	"kitchenAccessDaytime": "Full kitchen",
	"mealPrepWillingness": "Light 10-15 mins",
	"trainingDaysPerWeek": 4,
	"trainingTimeOfDay": "Morning",
	"dailySteps": "8-12k",
	"dietStyle": "Omnivore",
	"foodsLove": "Chicken, rice, berries",
	"proteinPreferences": ["Chicken", "Eggs"],
	"biggestObstacle": "Time",
	"takeawaysAndOrders": "1-2 per week",
	"alcoholPerWeek": "None"
}`

type fakePlanStore struct {
	plan       *planctrl.NutritionPlan
	ready      *planctrl.ReadyContent
	markCalled bool
}

func (s *fakePlanStore) GetByID(_ context.Context, id int64) (*planctrl.NutritionPlan, error) {
	if s.plan == nil || s.plan.ID != id {
		return nil, nil
	}
	copied := *s.plan
	return &copied, nil
}

func (s *fakePlanStore) MarkReady(_ context.Context, id int64, content planctrl.ReadyContent) error {
	s.markCalled = true
	s.ready = &content
	s.plan.Status = planctrl.PlanStatusReady
	s.plan.Markdown = content.Markdown
	return nil
}

type fakeQuestionnaireStore struct {
	questionnaire *questionnairectrl.Questionnaire
}

func (s *fakeQuestionnaireStore) GetByID(_ context.Context, id int64) (*questionnairectrl.Questionnaire, error) {
	if s.questionnaire == nil || s.questionnaire.ID != id {
		return nil, nil
	}
	return s.questionnaire, nil
}

type fakeExportStore struct {
	queued      []int64
	updates     []gammactrl.PollUpdate
	failures    []string
	queuedError error
}

func (s *fakeExportStore) UpsertQueued(_ context.Context, planID int64) error {
	if s.queuedError != nil {
		return s.queuedError
	}
	s.queued = append(s.queued, planID)
	return nil
}

func (s *fakeExportStore) Update(_ context.Context, _ int64, update gammactrl.PollUpdate) error {
	s.updates = append(s.updates, update)
	return nil
}

func (s *fakeExportStore) MarkFailed(_ context.Context, _ int64, message string) error {
	s.failures = append(s.failures, message)
	return nil
}

type fakeGenerator struct {
	calls  int
	result *planflow.Result
	err    error
}

func (g *fakeGenerator) GeneratePlan(_ context.Context, _ *questionnaire.Answers, _ targets.DerivedTargets) (*planflow.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type fakeExporter struct {
	calls int
	err   error
}

func (e *fakeExporter) StartGeneration(context.Context, string) (*gamma.GenerationResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &gamma.GenerationResult{GenerationID: "gen-123", Status: "pending"}, nil
}

type fakeArchiver struct {
	calls int
	err   error
}

func (a *fakeArchiver) ArchivePlanMarkdown(_ context.Context, planID int64, version int, _ string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return fmt.Sprintf("plans/%d/v%d.md", planID, version), nil
}

type taskFixture struct {
	task      *PlanGenerationTask
	plans     *fakePlanStore
	exports   *fakeExportStore
	generator *fakeGenerator
	exporter  *fakeExporter
	archiver  *fakeArchiver
}

func newTaskFixture() *taskFixture {
	plans := &fakePlanStore{
		plan: &planctrl.NutritionPlan{
			ID:              1,
			UserID:          "user-1",
			QuestionnaireID: 2,
			Version:         1,
			Status:          planctrl.PlanStatusGenerating,
		},
	}
	questionnaires := &fakeQuestionnaireStore{
		questionnaire: &questionnairectrl.Questionnaire{
			ID:      2,
			UserID:  "user-1",
			Version: 1,
			Answers: json.RawMessage(testAnswersJSON),
		},
	}
	exports := &fakeExportStore{}
	generator := &fakeGenerator{
		result: &planflow.Result{
			Markdown:   "# Alex - Personalised Nutrition Plan\n",
			Validation: planflow.ValidationResult{IsValid: true},
		},
	}
	exporter := &fakeExporter{}
	archiver := &fakeArchiver{}

	return &taskFixture{
		task:      NewPlanGenerationTask(plans, questionnaires, exports, generator, exporter, archiver, nil, "glm-4"),
		plans:     plans,
		exports:   exports,
		generator: generator,
		exporter:  exporter,
		archiver:  archiver,
	}
}

func testJob(payload string) *job.Job {
	return &job.Job{
		ID:          100,
		Type:        job.TypePlanGeneration,
		Payload:     json.RawMessage(payload),
		Attempts:    1,
		MaxAttempts: 5,
		UserID:      "user-1",
	}
}

const validPayload = `{"planId":1,"questionnaireId":2,"questionnaireVersion":1,"trigger":"questionnaire_complete"}`

func TestHandlePersistsGeneratedPlan(t *testing.T) {
	f := newTaskFixture()

	if err := f.task.Handle(context.Background(), testJob(validPayload)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if f.generator.calls != 1 {
		t.Errorf("generator called %d times, want 1", f.generator.calls)
	}
	if !f.plans.markCalled {
		t.Fatal("plan was not marked ready")
	}
	if f.plans.ready.Markdown == "" {
		t.Error("ready content has empty markdown")
	}
	if f.plans.ready.LLMModel != "glm-4" {
		t.Errorf("LLMModel = %q, want glm-4", f.plans.ready.LLMModel)
	}
	if len(f.plans.ready.LLMPromptHash) != 64 {
		t.Errorf("LLMPromptHash length = %d, want 64", len(f.plans.ready.LLMPromptHash))
	}

	var storedTargets targets.DerivedTargets
	if err := json.Unmarshal(f.plans.ready.DerivedTargets, &storedTargets); err != nil {
		t.Fatalf("stored targets are not valid JSON: %v", err)
	}
	if storedTargets.CaloriesPerDay == 0 {
		t.Error("stored targets are missing calories")
	}

	if len(f.exports.queued) != 1 || f.exports.queued[0] != 1 {
		t.Errorf("export queued = %v, want [1]", f.exports.queued)
	}
	if len(f.exports.updates) != 1 {
		t.Fatalf("export updates = %d, want 1", len(f.exports.updates))
	}
	if f.exports.updates[0].Status != gammactrl.StatusPending || f.exports.updates[0].GenerationID != "gen-123" {
		t.Errorf("export update = %+v, want pending with generation id", f.exports.updates[0])
	}
	if f.archiver.calls != 1 {
		t.Errorf("archiver called %d times, want 1", f.archiver.calls)
	}
}

func TestHandleSkipsAlreadyReadyPlan(t *testing.T) {
	f := newTaskFixture()
	f.plans.plan.Status = planctrl.PlanStatusReady
	f.plans.plan.Markdown = "# existing"

	if err := f.task.Handle(context.Background(), testJob(validPayload)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if f.generator.calls != 0 {
		t.Errorf("generator called %d times for a ready plan, want 0", f.generator.calls)
	}
	if f.plans.markCalled {
		t.Error("MarkReady called for a plan that was already ready")
	}
	if f.plans.plan.Markdown != "# existing" {
		t.Error("existing plan content was overwritten")
	}
}

func TestHandleExportFailureDoesNotFailJob(t *testing.T) {
	f := newTaskFixture()
	f.exporter.err = fmt.Errorf("gamma api unavailable")

	if err := f.task.Handle(context.Background(), testJob(validPayload)); err != nil {
		t.Fatalf("Handle() error = %v, want nil despite export failure", err)
	}

	if !f.plans.markCalled {
		t.Error("plan was not marked ready")
	}
	if len(f.exports.failures) != 1 {
		t.Fatalf("export failures = %d, want 1", len(f.exports.failures))
	}
	if !strings.Contains(f.exports.failures[0], "gamma api unavailable") {
		t.Errorf("failure message = %q, want wrapped api error", f.exports.failures[0])
	}
}

func TestHandleArchiveFailureDoesNotFailJob(t *testing.T) {
	f := newTaskFixture()
	f.archiver.err = fmt.Errorf("minio unreachable")

	if err := f.task.Handle(context.Background(), testJob(validPayload)); err != nil {
		t.Fatalf("Handle() error = %v, want nil despite archive failure", err)
	}
	if !f.plans.markCalled {
		t.Error("plan was not marked ready")
	}
}

func TestHandleMalformedPayloadIsFatal(t *testing.T) {
	f := newTaskFixture()

	err := f.task.Handle(context.Background(), testJob(`{"planId":`))
	if err == nil {
		t.Fatal("Handle() error = nil, want fatal payload error")
	}
	if !job.IsFatal(err) {
		t.Errorf("error %v is not fatal", err)
	}
	if f.generator.calls != 0 {
		t.Errorf("generator called %d times for a bad payload", f.generator.calls)
	}
}

func TestHandleMissingPlanIsRetryable(t *testing.T) {
	f := newTaskFixture()
	f.plans.plan = nil

	err := f.task.Handle(context.Background(), testJob(validPayload))
	if err == nil {
		t.Fatal("Handle() error = nil, want not-found error")
	}
	if job.IsFatal(err) {
		t.Errorf("missing plan error %v should not be fatal", err)
	}
}

func TestHandleGeneratorErrorPropagates(t *testing.T) {
	f := newTaskFixture()
	f.generator.err = fmt.Errorf("model timeout")

	err := f.task.Handle(context.Background(), testJob(validPayload))
	if err == nil || !strings.Contains(err.Error(), "model timeout") {
		t.Fatalf("Handle() error = %v, want wrapped generator error", err)
	}
	if f.plans.markCalled {
		t.Error("plan marked ready despite generation failure")
	}
	if len(f.exports.queued) != 0 {
		t.Error("export queued despite generation failure")
	}
}

func TestHandleNilExporterSkipsExport(t *testing.T) {
	f := newTaskFixture()
	f.task = NewPlanGenerationTask(f.plans, &fakeQuestionnaireStore{questionnaire: &questionnairectrl.Questionnaire{
		ID: 2, UserID: "user-1", Version: 1, Answers: json.RawMessage(testAnswersJSON),
	}}, f.exports, f.generator, nil, nil, nil, "glm-4")

	if err := f.task.Handle(context.Background(), testJob(validPayload)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.exports.queued) != 0 {
		t.Error("export queued without an exporter configured")
	}
}
