package jobctrl

import (
	"context"
	"encoding/json"
	"fmt"

	"nutriplan/src/infrastructure/analytics"
	"nutriplan/src/infrastructure/integrations/gamma"
	"nutriplan/src/infrastructure/job"
	"nutriplan/src/infrastructure/log"
	"nutriplan/src/planflow"
	"nutriplan/src/questionnaire"
	"nutriplan/src/storage/postgres/gammactrl"
	"nutriplan/src/storage/postgres/planctrl"
	"nutriplan/src/storage/postgres/questionnairectrl"
	"nutriplan/src/targets"
)

// PlanStore is the plan persistence the task reads and writes.
type PlanStore interface {
	GetByID(ctx context.Context, id int64) (*planctrl.NutritionPlan, error)
	MarkReady(ctx context.Context, id int64, content planctrl.ReadyContent) error
}

// QuestionnaireStore loads the answers a plan is generated from.
type QuestionnaireStore interface {
	GetByID(ctx context.Context, id int64) (*questionnairectrl.Questionnaire, error)
}

// ExportStore tracks the document-export record attached to a plan.
type ExportStore interface {
	UpsertQueued(ctx context.Context, planID int64) error
	Update(ctx context.Context, planID int64, update gammactrl.PollUpdate) error
	MarkFailed(ctx context.Context, planID int64, message string) error
}

// Generator runs the LLM generation flow.
type Generator interface {
	GeneratePlan(ctx context.Context, answers *questionnaire.Answers, t targets.DerivedTargets) (*planflow.Result, error)
}

// Exporter kicks off a Gamma document generation for finished plans.
type Exporter interface {
	StartGeneration(ctx context.Context, markdown string) (*gamma.GenerationResult, error)
}

// Archiver stores a copy of the finished markdown in object storage.
type Archiver interface {
	ArchivePlanMarkdown(ctx context.Context, planID int64, version int, markdown string) (string, error)
}

// PlanGenerationTask executes one plan-generation job end to end: load the
// questionnaire, derive targets, generate and validate the plan, persist
// it, then kick off export and archival as best-effort side steps.
type PlanGenerationTask struct {
	plans          PlanStore
	questionnaires QuestionnaireStore
	exports        ExportStore
	generator      Generator
	exporter       Exporter
	archiver       Archiver
	tracker        *analytics.Tracker
	model          string
}

// NewPlanGenerationTask wires the task. exporter and archiver may be nil
// when the corresponding integration is not configured.
func NewPlanGenerationTask(
	plans PlanStore,
	questionnaires QuestionnaireStore,
	exports ExportStore,
	generator Generator,
	exporter Exporter,
	archiver Archiver,
	tracker *analytics.Tracker,
	model string,
) *PlanGenerationTask {
	return &PlanGenerationTask{
		plans:          plans,
		questionnaires: questionnaires,
		exports:        exports,
		generator:      generator,
		exporter:       exporter,
		archiver:       archiver,
		tracker:        tracker,
		model:          model,
	}
}

func (task *PlanGenerationTask) Type() string {
	return job.TypePlanGeneration
}

func (task *PlanGenerationTask) Handle(ctx context.Context, j *job.Job) error {
	payload, err := job.ParsePlanGenerationPayload(j.Payload)
	if err != nil {
		return err
	}

	plan, err := task.plans.GetByID(ctx, payload.PlanID)
	if err != nil {
		return fmt.Errorf("failed to get nutrition plan: %w", err)
	}
	if plan == nil {
		return fmt.Errorf("nutrition plan not found: %d", payload.PlanID)
	}

	// A previous attempt may have finished the work before losing its
	// lease. Re-running would burn an LLM call and overwrite the plan, so
	// a ready plan short-circuits to success.
	if plan.Status == planctrl.PlanStatusReady {
		log.Info("plan already ready, skipping generation",
			"jobID", j.ID,
			"planID", plan.ID,
		)
		return nil
	}

	q, err := task.questionnaires.GetByID(ctx, payload.QuestionnaireID)
	if err != nil {
		return fmt.Errorf("failed to get questionnaire: %w", err)
	}
	if q == nil {
		return fmt.Errorf("questionnaire not found: %d", payload.QuestionnaireID)
	}

	answers, err := questionnaire.ParseAnswers(q.Answers)
	if err != nil {
		return fmt.Errorf("failed to parse questionnaire answers: %w", err)
	}

	derived := targets.Calculate(answers)

	result, err := task.generator.GeneratePlan(ctx, answers, derived)
	if err != nil {
		return fmt.Errorf("failed to generate plan: %w", err)
	}

	targetsJSON, err := json.Marshal(derived)
	if err != nil {
		return fmt.Errorf("failed to marshal derived targets: %w", err)
	}
	issuesJSON, err := json.Marshal(result.Validation.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal validation issues: %w", err)
	}

	content := planctrl.ReadyContent{
		Markdown:         result.Markdown,
		DerivedTargets:   targetsJSON,
		LLMModel:         task.model,
		LLMPromptHash:    planflow.HashPrompt(planflow.BuildUserPrompt(answers, derived)),
		ValidationIssues: issuesJSON,
	}
	if err := task.plans.MarkReady(ctx, plan.ID, content); err != nil {
		return fmt.Errorf("failed to persist generated plan: %w", err)
	}

	if task.tracker != nil {
		task.tracker.Track(analytics.EventPlanReady, map[string]interface{}{
			"planID":   plan.ID,
			"userID":   plan.UserID,
			"trigger":  payload.Trigger,
			"repaired": result.WasRepaired,
			"valid":    result.Validation.IsValid,
		})
	}

	// Export and archival are side steps: their failure is recorded on
	// their own surfaces and never fails the generation job.
	task.startExport(ctx, plan, result.Markdown)
	task.archive(ctx, plan, result.Markdown)

	return nil
}

func (task *PlanGenerationTask) startExport(ctx context.Context, plan *planctrl.NutritionPlan, markdown string) {
	if task.exporter == nil || task.exports == nil {
		return
	}

	if err := task.exports.UpsertQueued(ctx, plan.ID); err != nil {
		log.Error(err, "failed to queue plan export", "planID", plan.ID)
		return
	}

	started, err := task.exporter.StartGeneration(ctx, markdown)
	if err != nil {
		task.recordExportFailure(ctx, plan, fmt.Sprintf("failed to start export: %v", err))
		return
	}

	update := gammactrl.PollUpdate{
		Status:       gammactrl.StatusPending,
		GenerationID: started.GenerationID,
	}
	if err := task.exports.Update(ctx, plan.ID, update); err != nil {
		log.Error(err, "failed to record started export", "planID", plan.ID)
	}
}

func (task *PlanGenerationTask) recordExportFailure(ctx context.Context, plan *planctrl.NutritionPlan, message string) {
	log.Error(fmt.Errorf("%s", message), "plan export failed", "planID", plan.ID)
	if err := task.exports.MarkFailed(ctx, plan.ID, message); err != nil {
		log.Error(err, "failed to record export failure", "planID", plan.ID)
	}
	if task.tracker != nil {
		task.tracker.Track(analytics.EventExportFailed, map[string]interface{}{
			"planID": plan.ID,
			"userID": plan.UserID,
		})
	}
}

func (task *PlanGenerationTask) archive(ctx context.Context, plan *planctrl.NutritionPlan, markdown string) {
	if task.archiver == nil {
		return
	}
	if _, err := task.archiver.ArchivePlanMarkdown(ctx, plan.ID, plan.Version, markdown); err != nil {
		log.Error(err, "failed to archive plan markdown", "planID", plan.ID)
	}
}
