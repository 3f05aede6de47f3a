package gammactrl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExportStatus string

const (
	StatusQueued    ExportStatus = "queued"
	StatusPending   ExportStatus = "pending"
	StatusCompleted ExportStatus = "completed"
	StatusFailed    ExportStatus = "failed"
)

// GammaGeneration tracks the document-export side pipeline for one plan.
// It has its own status surface: export failure never fails the owning
// generation job.
type GammaGeneration struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	NutritionPlanID int64           `gorm:"not null;uniqueIndex" json:"nutrition_plan_id"`
	Status          ExportStatus    `gorm:"not null" json:"status"`
	GenerationID    string          `json:"generation_id,omitempty"`
	GammaURL        string          `gorm:"column:gamma_url" json:"gamma_url,omitempty"`
	LastPayload     json.RawMessage `json:"last_payload,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type GammaService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewGammaService(db *gorm.DB) (*GammaService, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &GammaService{
		db:        db,
		snowflake: node,
	}, nil
}

// UpsertQueued resets the plan's export record to queued, creating it on
// first use. Called before every export kickoff so a regeneration clears
// the previous outcome.
func (s *GammaService) UpsertQueued(ctx context.Context, planID int64) error {
	record := &GammaGeneration{
		ID:              s.snowflake.Generate().Int64(),
		NutritionPlanID: planID,
		Status:          StatusQueued,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "nutrition_plan_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status": StatusQueued,
			"error":  nil,
		}),
	}).Create(record)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert gamma generation: %v", result.Error)
	}
	return nil
}

// PollUpdate is the subset of fields refreshed from the Gamma API.
type PollUpdate struct {
	Status       ExportStatus
	GenerationID string
	GammaURL     string
	LastPayload  json.RawMessage
	Error        *string
}

// Update writes the latest known export state for a plan.
func (s *GammaService) Update(ctx context.Context, planID int64, update PollUpdate) error {
	fields := map[string]interface{}{
		"status":       update.Status,
		"gamma_url":    update.GammaURL,
		"last_payload": update.LastPayload,
		"error":        update.Error,
	}
	if update.GenerationID != "" {
		fields["generation_id"] = update.GenerationID
	}

	result := s.db.WithContext(ctx).Model(&GammaGeneration{}).
		Where("nutrition_plan_id = ?", planID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update gamma generation: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("gamma generation not found for plan: %d", planID)
	}
	return nil
}

// MarkFailed records export failure on the export record only.
func (s *GammaService) MarkFailed(ctx context.Context, planID int64, message string) error {
	result := s.db.WithContext(ctx).Model(&GammaGeneration{}).
		Where("nutrition_plan_id = ?", planID).
		Updates(map[string]interface{}{
			"status": StatusFailed,
			"error":  message,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark gamma generation failed: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("gamma generation not found for plan: %d", planID)
	}
	return nil
}

func (s *GammaService) GetByPlanID(ctx context.Context, planID int64) (*GammaGeneration, error) {
	var record GammaGeneration
	result := s.db.WithContext(ctx).Where("nutrition_plan_id = ?", planID).First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get gamma generation: %v", result.Error)
	}
	return &record, nil
}
