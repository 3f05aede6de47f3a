package targets

import (
	"math"

	"nutriplan/src/questionnaire"
)

// DerivedTargets are the nutrition numbers computed from questionnaire
// answers. They are recomputed from the stored answers at generation time,
// never trusted from the enqueue request.
type DerivedTargets struct {
	WeightKg       float64 `json:"weightKg"`
	WeightLb       float64 `json:"weightLb"`
	ProteinMin     int     `json:"proteinMin"`
	ProteinMax     int     `json:"proteinMax"`
	CaloriesPerDay int     `json:"caloriesPerDay"`
	GoalMode       string  `json:"goalMode"`
	BMR            int     `json:"bmr"`
	TDEE           int     `json:"tdee"`
	ActivityFactor float64 `json:"activityFactor"`
}

// Calculate derives nutrition targets from questionnaire answers.
// BMR uses Mifflin-St Jeor; the activity factor comes from the daily step
// bucket with a bonus for four or more training days per week.
func Calculate(answers *questionnaire.Answers) DerivedTargets {
	weightLb := answers.WeightKg * 2.20462

	// Protein anchored at 1 g per lb bodyweight, with a 90-105% range.
	proteinTarget := weightLb * 1.0
	proteinMin := int(math.Round(proteinTarget * 0.90))
	proteinMax := int(math.Round(proteinTarget * 1.05))

	var bmr float64
	if answers.Sex == "Male" {
		bmr = 10*answers.WeightKg + 6.25*answers.HeightCm - 5*float64(answers.Age) + 5
	} else {
		bmr = 10*answers.WeightKg + 6.25*answers.HeightCm - 5*float64(answers.Age) - 161
	}

	var activityFactor float64
	switch answers.DailySteps {
	case "<5k":
		activityFactor = 1.35
	case "5-8k":
		activityFactor = 1.45
	case "8-12k":
		activityFactor = 1.55
	case "12k+":
		activityFactor = 1.65
	default:
		activityFactor = 1.45
	}

	if answers.TrainingDaysPerWeek >= 4 {
		activityFactor += 0.05
	}

	tdee := bmr * activityFactor

	var caloriesPerDay int
	var goalMode string
	switch answers.PrimaryGoal {
	case "Fat loss":
		caloriesPerDay = int(math.Round(tdee - 400))
		goalMode = "fat_loss"
	case "Recomposition":
		caloriesPerDay = int(math.Round(tdee - 150))
		goalMode = "recomp"
	case "Muscle gain":
		caloriesPerDay = int(math.Round(tdee + 200))
		goalMode = "muscle_gain"
	default:
		caloriesPerDay = int(math.Round(tdee))
		goalMode = "maintenance"
	}

	return DerivedTargets{
		WeightKg:       answers.WeightKg,
		WeightLb:       math.Round(weightLb*10) / 10,
		ProteinMin:     proteinMin,
		ProteinMax:     proteinMax,
		CaloriesPerDay: caloriesPerDay,
		GoalMode:       goalMode,
		BMR:            int(math.Round(bmr)),
		TDEE:           int(math.Round(tdee)),
		ActivityFactor: activityFactor,
	}
}
