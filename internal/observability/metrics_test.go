package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPlanGeneration(t *testing.T) {
	before := testutil.ToFloat64(planGenerations.WithLabelValues(PlanSkippedGuard))
	RecordPlanGeneration(PlanSkippedGuard)
	RecordPlanGeneration(PlanSkippedGuard)
	assert.Equal(t, before+2, testutil.ToFloat64(planGenerations.WithLabelValues(PlanSkippedGuard)))
}

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(jobsCounter.WithLabelValues("detect_records", "done"))
	RecordJob("detect_records", "done")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsCounter.WithLabelValues("detect_records", "done")))
}

func TestSetStravaRateLimitRemaining(t *testing.T) {
	SetStravaRateLimitRemaining(95, 990)
	assert.Equal(t, 95.0, testutil.ToFloat64(stravaQuota.WithLabelValues("15min")))
	assert.Equal(t, 990.0, testutil.ToFloat64(stravaQuota.WithLabelValues("daily")))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(map[string]int{"pending": 3, "failed": 1})
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth.WithLabelValues("pending")))

	SetQueueDepth(map[string]int{"done": 4})
	assert.Equal(t, 1, testutil.CollectAndCount(queueDepth))
}
