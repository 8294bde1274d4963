package coach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeeklyPlanSchema(t *testing.T) {
	s := WeeklyPlanSchema("Dutch")
	assert.Equal(t, []string{"training_plan"}, s["required"])
	assert.Equal(t, false, s["additionalProperties"])

	plan := s["properties"].(map[string]any)["training_plan"].(map[string]any)
	assert.Equal(t, PlanDays, plan["minItems"])
	assert.Equal(t, PlanDays, plan["maxItems"])

	items := plan["items"].(map[string]any)
	assert.ElementsMatch(t, []string{"date", "type", "title", "description", "reasoning"}, items["required"])
	assert.Contains(t, items["properties"].(map[string]any)["title"].(map[string]any)["description"], "Dutch")
}

func TestParseWeeklyPlan(t *testing.T) {
	days, err := ParseWeeklyPlan(weekResponse(testNow, "Fresh"), testNow)
	require.NoError(t, err)
	require.Len(t, days, PlanDays)
	assert.Equal(t, "2024-03-10", days[0].Date)
	assert.Equal(t, "2024-03-16", days[6].Date)

	dup := weekResponse(testNow, "Fresh")
	items := dup["training_plan"].([]any)
	items[6].(map[string]any)["date"] = items[5].(map[string]any)["date"]
	_, err = ParseWeeklyPlan(dup, testNow)
	require.Error(t, err)

	bad := weekResponse(testNow, "Fresh")
	bad["training_plan"].([]any)[0].(map[string]any)["date"] = "10/03/2024"
	_, err = ParseWeeklyPlan(bad, testNow)
	require.Error(t, err)

	notString := weekResponse(testNow, "Fresh")
	notString["training_plan"].([]any)[1].(map[string]any)["reasoning"] = 42.0
	_, err = ParseWeeklyPlan(notString, testNow)
	require.Error(t, err)
}

func TestParseDailyPlan(t *testing.T) {
	d, err := ParseDailyPlan(map[string]any{"type": "Rest", "title": "Rest day", "description": "Off", "reasoning": "Recover"}, "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", d.Date)
	assert.Equal(t, "Rest", d.Type)

	_, err = ParseDailyPlan(map[string]any{"type": "Rest"}, "2024-03-10")
	require.Error(t, err)
}
