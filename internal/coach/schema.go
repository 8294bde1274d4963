package coach

import (
	"fmt"
	"strings"
	"time"

	"lararun/internal/apperr"
	"lararun/internal/store"
)

// Schema names sent to the generation service
const (
	SchemaDailyPlan  = "daily_plan"
	SchemaWeeklyPlan = "training_plan_wrapper"
	SchemaEvaluation = "activity_evaluation"
)

var planFields = []string{"date", "type", "title", "description", "reasoning"}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(props map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func dayProperties(language string) map[string]any {
	return map[string]any{
		"type":        stringProp(fmt.Sprintf("The type of run in %s (e.g., Easy Run, Intervals, Long Run, Rest)", language)),
		"title":       stringProp(fmt.Sprintf("A short catchy title for the workout in %s", language)),
		"description": stringProp(fmt.Sprintf("Detailed instructions for the workout including distance/time and pace if applicable in %s", language)),
		"reasoning":   stringProp(fmt.Sprintf("Explain why this specific workout is recommended for this day based on history and objective in %s", language)),
	}
}

// DailyPlanSchema describes a single day's workout.
func DailyPlanSchema(language string) map[string]any {
	return objectSchema(dayProperties(language), []string{"type", "title", "description", "reasoning"})
}

// WeeklyPlanSchema describes exactly seven dated workouts.
func WeeklyPlanSchema(language string) map[string]any {
	props := dayProperties(language)
	props["date"] = stringProp("The date of the workout (YYYY-MM-DD)")
	return objectSchema(map[string]any{
		"training_plan": map[string]any{
			"type":        "array",
			"description": fmt.Sprintf("A list of 7 daily training plans for a runner starting from today, written in %s", language),
			"items":       objectSchema(props, planFields),
			"minItems":    PlanDays,
			"maxItems":    PlanDays,
		},
	}, []string{"training_plan"})
}

// EvaluationSchema describes the short and extended activity evaluation.
func EvaluationSchema(language string) map[string]any {
	return objectSchema(map[string]any{
		"short_evaluation": stringProp(fmt.Sprintf("A very brief (max 2 sentences) encouraging evaluation of the run in %s.", language)),
		"extended_evaluation": stringProp(fmt.Sprintf("A detailed analysis of the run in %s, following a specific structure including "+
			"Performance Analysis, Current Activity Overview, Historical Trends, Recommendations, and Additional Advice.", language)),
	}, []string{"short_evaluation", "extended_evaluation"})
}

// PlanDay is one validated day of generated plan.
type PlanDay struct {
	Date        string
	Type        string
	Title       string
	Description string
	Reasoning   string
}

// Recommendation converts the day into a row for the user and objective.
func (d PlanDay) Recommendation(userID, objectiveID int64) store.DailyRecommendation {
	return store.DailyRecommendation{
		UserID:      userID,
		ObjectiveID: objectiveID,
		Date:        d.Date,
		Type:        d.Type,
		Title:       d.Title,
		Description: d.Description,
		Reasoning:   d.Reasoning,
	}
}

// Evaluation is a validated activity evaluation.
type Evaluation struct {
	Short    string
	Extended string
}

func malformed(format string, args ...any) error {
	return apperr.Permanent(apperr.CodeMalformedOutput, fmt.Sprintf(format, args...), nil)
}

func requiredString(obj map[string]any, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", malformed("missing field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformed("field %q is %T, want string", key, raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", malformed("field %q is empty", key)
	}
	return s, nil
}

func parseDay(obj map[string]any, withDate bool) (PlanDay, error) {
	var d PlanDay
	var err error
	if withDate {
		if d.Date, err = requiredString(obj, "date"); err != nil {
			return d, err
		}
	}
	if d.Type, err = requiredString(obj, "type"); err != nil {
		return d, err
	}
	if d.Title, err = requiredString(obj, "title"); err != nil {
		return d, err
	}
	if d.Description, err = requiredString(obj, "description"); err != nil {
		return d, err
	}
	if d.Reasoning, err = requiredString(obj, "reasoning"); err != nil {
		return d, err
	}
	return d, nil
}

// ParseDailyPlan validates a single-day plan and dates it.
func ParseDailyPlan(out map[string]any, date string) (PlanDay, error) {
	d, err := parseDay(out, false)
	if err != nil {
		return d, err
	}
	d.Date = date
	return d, nil
}

// ParseWeeklyPlan validates a seven-day plan. The plan must hold one entry
// for each date from start through start+6, every field filled; anything
// else is rejected as a whole.
func ParseWeeklyPlan(out map[string]any, start time.Time) ([]PlanDay, error) {
	raw, ok := out["training_plan"]
	if !ok {
		return nil, malformed("missing field %q", "training_plan")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, malformed("training_plan is %T, want array", raw)
	}
	if len(items) != PlanDays {
		return nil, malformed("training_plan has %d entries, want %d", len(items), PlanDays)
	}

	want := make(map[string]bool, PlanDays)
	for i := 0; i < PlanDays; i++ {
		want[start.AddDate(0, 0, i).Format(store.DateLayout)] = true
	}

	days := make([]PlanDay, 0, PlanDays)
	seen := make(map[string]bool, PlanDays)
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, malformed("training_plan[%d] is %T, want object", i, item)
		}
		d, err := parseDay(obj, true)
		if err != nil {
			return nil, err
		}
		if _, err := time.Parse(store.DateLayout, d.Date); err != nil {
			return nil, malformed("training_plan[%d] has invalid date %q", i, d.Date)
		}
		if !want[d.Date] {
			return nil, malformed("training_plan[%d] date %s is outside the plan week", i, d.Date)
		}
		if seen[d.Date] {
			return nil, malformed("training_plan has duplicate date %s", d.Date)
		}
		seen[d.Date] = true
		days = append(days, d)
	}
	return days, nil
}

// ParseEvaluation validates an activity evaluation.
func ParseEvaluation(out map[string]any) (Evaluation, error) {
	var e Evaluation
	var err error
	if e.Short, err = requiredString(out, "short_evaluation"); err != nil {
		return e, err
	}
	if e.Extended, err = requiredString(out, "extended_evaluation"); err != nil {
		return e, err
	}
	return e, nil
}
