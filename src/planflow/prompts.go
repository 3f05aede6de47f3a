package planflow

import (
	"fmt"
	"strings"

	"nutriplan/src/questionnaire"
	"nutriplan/src/targets"
)

// SystemPrompt pins the coaching persona and the strict output format the
// markdown validator checks against.
const SystemPrompt = `You are an elite performance nutrition coach for Elite Health.

NON-NEGOTIABLE RULES
1) Personalised + practical: every recommendation must map to the client's routine, preferences, cooking ability, and shopping habits.
2) High protein anchor: always include an explicit daily protein grams range.
3) Low friction > perfection: plan must be followable 80% of the time with minimal effort.
4) No macro-tracking required unless requested. Use portion/plate rules; macros optional.
5) Simple + repeatable: small set of rotating meal options. No long recipe lists.
6) Outcome-driven: tie every section to the client's 90-day targets.
7) Use Ireland/UK-friendly food language (Aldi/Lidl/Tesco/Dunnes etc).

OUTPUT FORMAT (STRICT)
Return ONLY clean markdown, ready to copy/paste.
Follow this exact structure and headings (no extra sections, no preamble):

Title
**Welcome to your Elite Health Nutrition Plan, {CLIENT_NAME}**

1) Opening (2-4 lines)

Then include sections exactly as specified:
2) Your 90-Day Targets
3) We'll achieve this with:
4) Table of Contents
1. High-nutrient dense grocery list (personalised)
2. Breakfast options (3)
3. Lunch options (12-2pm) - 3 home + 3 out/office choices
4. Dinner guidelines (family + real life)
5. Light pre-bed meal options (3)
6. Convenient healthy snacks (8-12 ideas)
7. Dining-Out Guide (their real life)
8. Hydration + electrolyte protocol
9. Essential supplements (3-5 max)
10. How to stay on track without tracking macros
11. 15-minute meal prep strategy (doubling/stacking)
12. Weekly habits & metrics (90-day scoreboard)
13. How this fits your day (example schedule)

For each section, follow the detailed requirements precisely (counts, bullets, ordering, etc).`

// BuildUserPrompt renders the client brief the model generates from.
func BuildUserPrompt(answers *questionnaire.Answers, t targets.DerivedTargets) string {
	proteinPrefs := strings.Join(answers.ProteinPreferences, ", ")

	allergies := answers.AllergiesIntolerances
	if allergies == "" {
		allergies = "None"
	}
	avoid := answers.FoodsHateAvoid
	if avoid == "" {
		avoid = "None specified"
	}

	return fmt.Sprintf(`CLIENT BRIEF (use this as source of truth)

Name: %s
Sex: %s
Age: %d
Height: %v cm
Weight: %v kg (%v lb)

90-day primary goal: %s

Schedule:
- Wake: %s
- Sleep: %s
- Work schedule: %s
- Kitchen access daytime: %s
- Meal prep willingness: %s

Training:
- Days/week: %d
- Time: %s
- Daily steps: %s

Preferences:
- Diet style: %s
- Allergies/intolerances: %s
- Foods they love: %s
- Foods they dislike/avoid: %s
- Preferred proteins: %s

Real life:
- Biggest obstacle: %s
- Takeaways + usual orders: %s
- Alcohol: %s

DERIVED TARGETS (must be used)
Protein target grams/day range: %d-%d g
Calories/day starting point: ~%d kcal/day
Goal mode: %s

REQUIREMENT
- Build the full 90-day plan in the strict Elite Health format.
- Make best assumptions if something is missing.
- Keep it practical and repeatable. No macro tracking required.
Return ONLY markdown.`,
		answers.FirstName,
		answers.Sex,
		answers.Age,
		answers.HeightCm,
		answers.WeightKg,
		t.WeightLb,
		answers.PrimaryGoal,
		answers.WakeTime,
		answers.SleepTime,
		answers.WorkSchedule,
		answers.KitchenAccessDaytime,
		answers.MealPrepWillingness,
		answers.TrainingDaysPerWeek,
		answers.TrainingTimeOfDay,
		answers.DailySteps,
		answers.DietStyle,
		allergies,
		answers.FoodsLove,
		avoid,
		proteinPrefs,
		answers.BiggestObstacle,
		answers.TakeawaysAndOrders,
		answers.AlcoholPerWeek,
		t.ProteinMin,
		t.ProteinMax,
		t.CaloriesPerDay,
		t.GoalMode,
	)
}

// BuildRepairPrompt asks the model to fix a plan that failed validation.
func BuildRepairPrompt(currentMarkdown string, issues []string) string {
	var issuesList strings.Builder
	for _, issue := range issues {
		issuesList.WriteString("- ")
		issuesList.WriteString(issue)
		issuesList.WriteString("\n")
	}

	return fmt.Sprintf(`You must FIX the nutrition plan markdown to meet the required Elite Health format.

Here is the current markdown:
<<<
%s
>>>

Validator found these issues:
%s
Rules:
- Keep as much of the existing content as possible.
- Add missing sections/options and ensure correct counts.
- Output ONLY corrected markdown.`, currentMarkdown, issuesList.String())
}
