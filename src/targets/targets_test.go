package targets_test

import (
	"testing"

	"nutriplan/src/questionnaire"
	"nutriplan/src/targets"
)

func sampleAnswers() *questionnaire.Answers {
	return &questionnaire.Answers{
		FirstName:            "Alex",
		Sex:                  "Male",
		Age:                  30,
		HeightCm:             180,
		WeightKg:             80,
		PrimaryGoal:          "Fat loss",
		WakeTime:             "06:30",
		SleepTime:            "22:30",
		WorkSchedule:         "Mon-Fri office",
		KitchenAccessDaytime: "Microwave",
		MealPrepWillingness:  "Light 10-15 mins",
		TrainingDaysPerWeek:  4,
		TrainingTimeOfDay:    "Morning",
		DailySteps:           "8-12k",
		DietStyle:            "Omnivore",
		FoodsLove:            "Chicken and rice",
		ProteinPreferences:   []string{"Chicken", "Eggs"},
		BiggestObstacle:      "Time",
		TakeawaysAndOrders:   "0",
		AlcoholPerWeek:       "1-2",
	}
}

func TestCalculateMale(t *testing.T) {
	got := targets.Calculate(sampleAnswers())

	if got.WeightLb != 176.4 {
		t.Errorf("WeightLb = %v, want 176.4", got.WeightLb)
	}
	if got.ProteinMin != 159 || got.ProteinMax != 185 {
		t.Errorf("protein range = %d-%d, want 159-185", got.ProteinMin, got.ProteinMax)
	}
	if got.BMR != 1780 {
		t.Errorf("BMR = %d, want 1780", got.BMR)
	}
	if got.ActivityFactor != 1.60 {
		t.Errorf("ActivityFactor = %v, want 1.60", got.ActivityFactor)
	}
	if got.TDEE != 2848 {
		t.Errorf("TDEE = %d, want 2848", got.TDEE)
	}
	if got.CaloriesPerDay != 2448 {
		t.Errorf("CaloriesPerDay = %d, want 2448", got.CaloriesPerDay)
	}
	if got.GoalMode != "fat_loss" {
		t.Errorf("GoalMode = %q, want fat_loss", got.GoalMode)
	}
}

func TestCalculateFemale(t *testing.T) {
	answers := sampleAnswers()
	answers.Sex = "Female"
	answers.Age = 40
	answers.HeightCm = 165
	answers.WeightKg = 60
	answers.PrimaryGoal = "Recomposition"
	answers.DailySteps = "<5k"
	answers.TrainingDaysPerWeek = 2

	got := targets.Calculate(answers)

	if got.WeightLb != 132.3 {
		t.Errorf("WeightLb = %v, want 132.3", got.WeightLb)
	}
	if got.BMR != 1270 {
		t.Errorf("BMR = %d, want 1270", got.BMR)
	}
	if got.ActivityFactor != 1.35 {
		t.Errorf("ActivityFactor = %v, want 1.35", got.ActivityFactor)
	}
	if got.CaloriesPerDay != 1565 {
		t.Errorf("CaloriesPerDay = %d, want 1565", got.CaloriesPerDay)
	}
	if got.GoalMode != "recomp" {
		t.Errorf("GoalMode = %q, want recomp", got.GoalMode)
	}
}

func TestGoalModes(t *testing.T) {
	tests := []struct {
		goal     string
		wantMode string
		// calorie offset relative to TDEE
		wantOffset int
	}{
		{"Fat loss", "fat_loss", -400},
		{"Recomposition", "recomp", -150},
		{"Muscle gain", "muscle_gain", 200},
		{"Energy + focus", "maintenance", 0},
	}

	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			answers := sampleAnswers()
			answers.PrimaryGoal = tt.goal
			got := targets.Calculate(answers)
			if got.GoalMode != tt.wantMode {
				t.Errorf("GoalMode = %q, want %q", got.GoalMode, tt.wantMode)
			}
			if diff := got.CaloriesPerDay - got.TDEE; diff != tt.wantOffset {
				t.Errorf("calorie offset = %d, want %d", diff, tt.wantOffset)
			}
		})
	}
}
