package questionnaire

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Answers is the full questionnaire submission. Field constraints mirror
// the intake form: stats + goal, routine, training and food preferences.
type Answers struct {
	// Stats + goal
	FirstName   string  `json:"firstName" validate:"required"`
	Sex         string  `json:"sex" validate:"required,oneof=Male Female"`
	Age         int     `json:"age" validate:"required,min=16,max=90"`
	HeightCm    float64 `json:"heightCm" validate:"required,min=120,max=230"`
	WeightKg    float64 `json:"weightKg" validate:"required,min=35,max=250"`
	PrimaryGoal string  `json:"primaryGoal" validate:"required,oneof='Fat loss' 'Recomposition' 'Muscle gain' 'Energy + focus'"`

	// Routine constraints
	WakeTime             string `json:"wakeTime" validate:"required"`
	SleepTime            string `json:"sleepTime" validate:"required"`
	WorkSchedule         string `json:"workSchedule" validate:"required"`
	KitchenAccessDaytime string `json:"kitchenAccessDaytime" validate:"required,oneof=None Microwave 'Full kitchen'"`
	MealPrepWillingness  string `json:"mealPrepWillingness" validate:"required,oneof=None 'Light 10-15 mins' 'Batch cook 1-2x week'"`

	// Training / activity
	TrainingDaysPerWeek int    `json:"trainingDaysPerWeek" validate:"min=0,max=7"`
	TrainingTimeOfDay   string `json:"trainingTimeOfDay" validate:"required,oneof=Morning Lunch Evening Varies"`
	DailySteps          string `json:"dailySteps" validate:"required,oneof=<5k 5-8k 8-12k 12k+"`

	// Preferences + real life
	DietStyle             string   `json:"dietStyle" validate:"required,oneof=Omnivore Pescatarian Vegetarian Vegan Other"`
	AllergiesIntolerances string   `json:"allergiesIntolerances"`
	FoodsLove             string   `json:"foodsLove" validate:"required"`
	FoodsHateAvoid        string   `json:"foodsHateAvoid"`
	ProteinPreferences    []string `json:"proteinPreferences" validate:"required,min=1,dive,oneof=Chicken Beef Fish Eggs 'Greek yogurt' 'Protein shakes' Tofu-Tempeh Beans-Lentils"`
	BiggestObstacle       string   `json:"biggestObstacle" validate:"required,oneof=Time Stress Cravings Travel 'Social eating' 'Night eating' 'Inconsistent schedule'"`
	TakeawaysAndOrders    string   `json:"takeawaysAndOrders" validate:"required"`
	AlcoholPerWeek        string   `json:"alcoholPerWeek" validate:"required,oneof=None 1-2 3-6 7+"`
}

var validate = validator.New()

// Validate checks the answers against the questionnaire constraints.
func (a *Answers) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid questionnaire answers: %w", err)
	}
	return nil
}

// ParseAnswers decodes and validates a stored answers document. The answers
// are re-validated on every read because the executor must not trust data
// written by an older schema version.
func ParseAnswers(raw json.RawMessage) (*Answers, error) {
	var answers Answers
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questionnaire answers: %w", err)
	}
	if err := answers.Validate(); err != nil {
		return nil, err
	}
	return &answers, nil
}
