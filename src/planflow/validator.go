package planflow

import (
	"fmt"
	"regexp"
)

// ValidationResult reports whether generated markdown matches the strict
// Elite Health plan format.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Issues  []string `json:"issues"`
}

type requiredSection struct {
	pattern *regexp.Regexp
	name    string
}

// Required sections in order.
var requiredSections = []requiredSection{
	{regexp.MustCompile(`(?i)\*\*Welcome to your Elite Health Nutrition Plan,`), "Title with client name"},
	{regexp.MustCompile(`(?mi)^1\)\s*Opening`), "1) Opening"},
	{regexp.MustCompile(`(?mi)^2\)\s*Your 90-Day Targets`), "2) Your 90-Day Targets"},
	{regexp.MustCompile(`(?mi)^3\)\s*We'll achieve this with:`), "3) We'll achieve this with:"},
	{regexp.MustCompile(`(?mi)^4\)\s*Table of Contents`), "4) Table of Contents"},
	{regexp.MustCompile(`(?mi)^1\.\s*High-nutrient dense grocery list`), "1. High-nutrient dense grocery list"},
	{regexp.MustCompile(`(?mi)^2\.\s*Breakfast options`), "2. Breakfast options"},
	{regexp.MustCompile(`(?mi)^3\.\s*Lunch options`), "3. Lunch options"},
	{regexp.MustCompile(`(?mi)^4\.\s*Dinner guidelines`), "4. Dinner guidelines"},
	{regexp.MustCompile(`(?mi)^5\.\s*Light pre-bed meal options`), "5. Light pre-bed meal options"},
	{regexp.MustCompile(`(?mi)^6\.\s*Convenient healthy snacks`), "6. Convenient healthy snacks"},
	{regexp.MustCompile(`(?mi)^7\.\s*Dining-Out Guide`), "7. Dining-Out Guide"},
	{regexp.MustCompile(`(?mi)^8\.\s*Hydration \+ electrolyte protocol`), "8. Hydration + electrolyte protocol"},
	{regexp.MustCompile(`(?mi)^9\.\s*Essential supplements`), "9. Essential supplements"},
	{regexp.MustCompile(`(?mi)^10\.\s*How to stay on track without tracking macros`), "10. How to stay on track without tracking macros"},
	{regexp.MustCompile(`(?mi)^11\.\s*15-minute meal prep strategy`), "11. 15-minute meal prep strategy"},
	{regexp.MustCompile(`(?mi)^12\.\s*Weekly habits & metrics`), "12. Weekly habits & metrics"},
	{regexp.MustCompile(`(?mi)^13\.\s*How this fits your day`), "13. How this fits your day"},
}

var (
	bulletItemPattern   = regexp.MustCompile(`(?m)^[ \t]*[-*•]\s`)
	numberedItemPattern = regexp.MustCompile(`(?m)^[ \t]*\d+[.)]\s`)
	proteinRangePattern = regexp.MustCompile(`(?i)\d+\s*[-–]\s*\d+\s*g.*protein|\d+\s*g.*protein.*range|protein.*\d+\s*[-–]\s*\d+\s*g`)

	breakfastStart   = regexp.MustCompile(`(?mi)^2\.\s*Breakfast options`)
	lunchStart       = regexp.MustCompile(`(?mi)^3\.\s*Lunch options`)
	dinnerStart      = regexp.MustCompile(`(?mi)^4\.\s*Dinner guidelines`)
	preBedStart      = regexp.MustCompile(`(?mi)^5\.\s*Light pre-bed meal options`)
	snacksStart      = regexp.MustCompile(`(?mi)^6\.\s*Convenient healthy snacks`)
	diningOutStart   = regexp.MustCompile(`(?mi)^7\.\s*Dining-Out Guide`)
	supplementsStart = regexp.MustCompile(`(?mi)^9\.\s*Essential supplements`)
	stayOnTrackStart = regexp.MustCompile(`(?mi)^10\.\s*How to stay on track`)
)

func countItemsInSection(markdown string, sectionStart, sectionEnd *regexp.Regexp) int {
	loc := sectionStart.FindStringIndex(markdown)
	if loc == nil {
		return 0
	}

	afterStart := markdown[loc[0]:]
	sectionText := afterStart
	if endLoc := sectionEnd.FindStringIndex(afterStart); endLoc != nil {
		sectionText = afterStart[:endLoc[0]]
	}

	return len(bulletItemPattern.FindAllString(sectionText, -1)) +
		len(numberedItemPattern.FindAllString(sectionText, -1))
}

func mentionsProteinRange(markdown string) bool {
	return proteinRangePattern.MatchString(markdown)
}

// ValidateMarkdown checks a generated plan against the required structure:
// title with the client's name, all sections present, option counts within
// bounds, and an explicit protein grams range somewhere in the plan.
func ValidateMarkdown(markdown, clientName string) ValidationResult {
	var issues []string

	titlePattern := regexp.MustCompile(
		`(?i)\*\*Welcome to your Elite Health Nutrition Plan,\s*` + regexp.QuoteMeta(clientName) + `\*\*`,
	)
	if !titlePattern.MatchString(markdown) {
		issues = append(issues, fmt.Sprintf(
			`Missing or incorrect title: should be "**Welcome to your Elite Health Nutrition Plan, %s**"`, clientName))
	}

	for _, section := range requiredSections {
		if !section.pattern.MatchString(markdown) {
			issues = append(issues, "Missing section: "+section.name)
		}
	}

	if count := countItemsInSection(markdown, breakfastStart, lunchStart); count > 0 && count != 3 {
		issues = append(issues, fmt.Sprintf("Breakfast options should have exactly 3 options, found %d", count))
	}

	// 3 home + 3 out/office choices.
	if count := countItemsInSection(markdown, lunchStart, dinnerStart); count > 0 && count < 6 {
		issues = append(issues, fmt.Sprintf("Lunch options should have 6 options (3 home + 3 out/office), found %d", count))
	}

	if count := countItemsInSection(markdown, preBedStart, snacksStart); count > 0 && count != 3 {
		issues = append(issues, fmt.Sprintf("Pre-bed meal options should have exactly 3 options, found %d", count))
	}

	if count := countItemsInSection(markdown, snacksStart, diningOutStart); count > 0 && (count < 8 || count > 12) {
		issues = append(issues, fmt.Sprintf("Snacks should have 8-12 ideas, found %d", count))
	}

	if count := countItemsInSection(markdown, supplementsStart, stayOnTrackStart); count > 5 {
		issues = append(issues, fmt.Sprintf("Supplements should have 3-5 max, found %d", count))
	}

	if !mentionsProteinRange(markdown) {
		issues = append(issues, "Missing explicit protein grams range in the plan")
	}

	return ValidationResult{
		IsValid: len(issues) == 0,
		Issues:  issues,
	}
}
