package planflow

import (
	"context"
	"fmt"

	"nutriplan/src/infrastructure/log"
	"nutriplan/src/questionnaire"
	"nutriplan/src/targets"
)

// Chat message roles understood by Provider implementations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string
	Content string
}

// Provider generates text from a chat conversation. Implementations wrap a
// concrete model backend (GLM, Ollama).
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Result is the outcome of one generation flow, including the validation
// verdict the caller persists alongside the markdown.
type Result struct {
	Markdown    string
	Validation  ValidationResult
	WasRepaired bool
}

// Flow runs plan generation with a single self-repair round: generate,
// validate, and if validation fails ask the model once to fix its own
// output. The repaired output is returned even if it still fails
// validation; the issues travel with the result.
type Flow struct {
	provider Provider
}

func NewFlow(provider Provider) *Flow {
	return &Flow{provider: provider}
}

// GeneratePlan produces the plan markdown for the given answers and
// derived targets.
func (f *Flow) GeneratePlan(ctx context.Context, answers *questionnaire.Answers, t targets.DerivedTargets) (*Result, error) {
	userPrompt := BuildUserPrompt(answers, t)

	initialMarkdown, err := f.provider.Chat(ctx, []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: userPrompt},
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation call failed: %w", err)
	}

	initialValidation := ValidateMarkdown(initialMarkdown, answers.FirstName)
	if initialValidation.IsValid {
		return &Result{
			Markdown:   initialMarkdown,
			Validation: initialValidation,
		}, nil
	}

	log.Info("plan markdown validation failed, attempting repair",
		"provider", f.provider.Name(),
		"issues", initialValidation.Issues,
	)

	repairedMarkdown, err := f.provider.Chat(ctx, []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: userPrompt},
		{Role: RoleAssistant, Content: initialMarkdown},
		{Role: RoleUser, Content: BuildRepairPrompt(initialMarkdown, initialValidation.Issues)},
	})
	if err != nil {
		return nil, fmt.Errorf("plan repair call failed: %w", err)
	}

	return &Result{
		Markdown:    repairedMarkdown,
		Validation:  ValidateMarkdown(repairedMarkdown, answers.FirstName),
		WasRepaired: true,
	}, nil
}
