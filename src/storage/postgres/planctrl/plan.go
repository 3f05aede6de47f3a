package planctrl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PlanStatus string

const (
	PlanStatusGenerating PlanStatus = "generating"
	PlanStatusReady      PlanStatus = "ready"
	PlanStatusFailed     PlanStatus = "failed"
)

// NutritionPlan is one generated plan version for a user. Status moves
// generating -> ready on successful generation, or generating -> failed
// only once the owning job has exhausted its attempts.
type NutritionPlan struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	UserID           string          `gorm:"not null;index" json:"user_id"`
	QuestionnaireID  int64           `gorm:"not null" json:"questionnaire_id"`
	Version          int             `gorm:"not null" json:"version"`
	Title            string          `gorm:"not null" json:"title"`
	Status           PlanStatus      `gorm:"not null" json:"status"`
	Markdown         string          `json:"markdown,omitempty"`
	DerivedTargets   json.RawMessage `json:"derived_targets,omitempty"`
	LLMModel         string          `gorm:"column:llm_model" json:"llm_model,omitempty"`
	LLMPromptHash    string          `gorm:"column:llm_prompt_hash" json:"llm_prompt_hash,omitempty"`
	ValidationIssues json.RawMessage `json:"validation_issues,omitempty"`
	Error            *string         `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type PlanService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewPlanService(db *gorm.DB) (*PlanService, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &PlanService{
		db:        db,
		snowflake: node,
	}, nil
}

// Create inserts a new plan version in generating state. The version is
// one past the user's current highest.
func (s *PlanService) Create(ctx context.Context, userID string, questionnaireID int64, title string) (*NutritionPlan, error) {
	var latest NutritionPlan
	version := 1
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("version DESC").
		First(&latest)
	if result.Error == nil {
		version = latest.Version + 1
	} else if result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to find latest plan version: %v", result.Error)
	}

	plan := &NutritionPlan{
		ID:              s.snowflake.Generate().Int64(),
		UserID:          userID,
		QuestionnaireID: questionnaireID,
		Version:         version,
		Title:           title,
		Status:          PlanStatusGenerating,
	}

	if result := s.db.WithContext(ctx).Create(plan); result.Error != nil {
		return nil, fmt.Errorf("failed to create nutrition plan: %v", result.Error)
	}

	return plan, nil
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*NutritionPlan, error) {
	var plan NutritionPlan
	result := s.db.WithContext(ctx).First(&plan, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get nutrition plan: %v", result.Error)
	}
	return &plan, nil
}

// GetLatestByUser returns the user's most recent plan, nil when none exists.
func (s *PlanService) GetLatestByUser(ctx context.Context, userID string) (*NutritionPlan, error) {
	var plan NutritionPlan
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&plan)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest nutrition plan: %v", result.Error)
	}
	return &plan, nil
}

// ReadyContent is everything persisted on the plan when generation succeeds.
type ReadyContent struct {
	Markdown         string
	DerivedTargets   json.RawMessage
	LLMModel         string
	LLMPromptHash    string
	ValidationIssues json.RawMessage
}

// MarkReady records successful generation output and clears any prior error.
func (s *PlanService) MarkReady(ctx context.Context, id int64, content ReadyContent) error {
	result := s.db.WithContext(ctx).Model(&NutritionPlan{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":            PlanStatusReady,
		"markdown":          content.Markdown,
		"derived_targets":   content.DerivedTargets,
		"llm_model":         content.LLMModel,
		"llm_prompt_hash":   content.LLMPromptHash,
		"validation_issues": content.ValidationIssues,
		"error":             nil,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to mark plan ready: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("nutrition plan not found: %d", id)
	}
	return nil
}

// MarkFailed records terminal failure with the last error message.
func (s *PlanService) MarkFailed(ctx context.Context, id int64, message string) error {
	result := s.db.WithContext(ctx).Model(&NutritionPlan{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status": PlanStatusFailed,
		"error":  message,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to mark plan failed: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("nutrition plan not found: %d", id)
	}
	return nil
}
