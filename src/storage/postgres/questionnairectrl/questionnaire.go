package questionnairectrl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type QuestionnaireStatus string

const (
	StatusActive   QuestionnaireStatus = "active"
	StatusArchived QuestionnaireStatus = "archived"
)

// Questionnaire is one versioned answers snapshot. Each submission creates
// a new row; the generation job references a snapshot by id and version so
// later resubmissions never change what an in-flight job reads.
type Questionnaire struct {
	ID        int64               `gorm:"primaryKey" json:"id"`
	UserID    string              `gorm:"not null;index" json:"user_id"`
	Version   int                 `gorm:"not null" json:"version"`
	Status    QuestionnaireStatus `gorm:"not null" json:"status"`
	Answers   json.RawMessage     `gorm:"not null" json:"answers"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type QuestionnaireService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewQuestionnaireService(db *gorm.DB) (*QuestionnaireService, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &QuestionnaireService{
		db:        db,
		snowflake: node,
	}, nil
}

// Create archives any active questionnaire for the user and inserts the
// new submission as the active one with the next version number.
func (s *QuestionnaireService) Create(ctx context.Context, userID string, answers json.RawMessage) (*Questionnaire, error) {
	questionnaire := &Questionnaire{
		ID:      s.snowflake.Generate().Int64(),
		UserID:  userID,
		Status:  StatusActive,
		Answers: answers,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Model(&Questionnaire{}).
			Where("user_id = ? AND status = ?", userID, StatusActive).
			Update("status", StatusArchived); result.Error != nil {
			return fmt.Errorf("failed to archive active questionnaires: %v", result.Error)
		}

		var latest Questionnaire
		version := 1
		result := tx.Where("user_id = ?", userID).Order("version DESC").First(&latest)
		if result.Error == nil {
			version = latest.Version + 1
		} else if result.Error != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to find latest questionnaire version: %v", result.Error)
		}
		questionnaire.Version = version

		if result := tx.Create(questionnaire); result.Error != nil {
			return fmt.Errorf("failed to create questionnaire: %v", result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return questionnaire, nil
}

func (s *QuestionnaireService) GetByID(ctx context.Context, id int64) (*Questionnaire, error) {
	var questionnaire Questionnaire
	result := s.db.WithContext(ctx).First(&questionnaire, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get questionnaire: %v", result.Error)
	}
	return &questionnaire, nil
}

// GetActiveByUser returns the user's active questionnaire, nil when none.
func (s *QuestionnaireService) GetActiveByUser(ctx context.Context, userID string) (*Questionnaire, error) {
	var questionnaire Questionnaire
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, StatusActive).
		Order("created_at DESC").
		First(&questionnaire)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active questionnaire: %v", result.Error)
	}
	return &questionnaire, nil
}
