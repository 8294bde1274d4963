package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func f64(v float64) *float64 { return &v }

func TestActivityRecovery(t *testing.T) {
	tests := []struct {
		name      string
		intensity float64
		meters    float64
		wantScore float64
		wantHours int
	}{
		{"moderate 10k", 4.5, 10000, 5.5, 18},
		{"easy 5k", 2, 5000, 8, 4},
		{"hard effort clamps at zero", 59.17, 10000, 0, 237},
		{"no zone data", 0, 8000, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, hours := ActivityRecovery(tt.intensity, tt.meters)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantHours, hours)
		})
	}
}

func TestCurrentRecoveryScore(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("no activities is fully recovered", func(t *testing.T) {
		assert.Equal(t, 10.0, CurrentRecoveryScore(now, nil))
	})

	t.Run("activities older than a week are ignored", func(t *testing.T) {
		samples := []RecoverySample{{StartDate: now.AddDate(0, 0, -8), Intensity: f64(50)}}
		assert.Equal(t, 10.0, CurrentRecoveryScore(now, samples))
	})

	t.Run("recent activity adds fatigue by recency", func(t *testing.T) {
		samples := []RecoverySample{
			{StartDate: now.Add(-2 * time.Hour), Intensity: f64(10)},              // 0 days: 1.0 * 1
			{StartDate: now.AddDate(0, 0, -2), Intensity: f64(7)},                 // 2 days: 0.7 * 5/7 = 0.5
			{StartDate: now.AddDate(0, 0, -7).Add(time.Hour), Intensity: f64(20)}, // 6 days: 2 * 1/7
		}
		// fatigue = 1 + 0.5 + 0.2857 = 1.7857; score = 10 - 3.571 = 6.4
		assert.Equal(t, 6.4, CurrentRecoveryScore(now, samples))
	})

	t.Run("missing intensity counts as moderate", func(t *testing.T) {
		samples := []RecoverySample{{StartDate: now.Add(-time.Hour)}}
		// 0.5 fatigue -> 9.0
		assert.Equal(t, 9.0, CurrentRecoveryScore(now, samples))
	})

	t.Run("clamps at zero", func(t *testing.T) {
		var samples []RecoverySample
		for i := 0; i < 5; i++ {
			samples = append(samples, RecoverySample{StartDate: now.Add(-time.Duration(i) * time.Hour), Intensity: f64(60)})
		}
		assert.Equal(t, 0.0, CurrentRecoveryScore(now, samples))
	})
}

func TestCurrentRecoveryScore_AlwaysInBounds(t *testing.T) {
	now := time.Now()
	for _, intensity := range []float64{0, 0.5, 3, 12, 80, 500} {
		for days := 0; days < 9; days++ {
			samples := []RecoverySample{
				{StartDate: now.AddDate(0, 0, -days), Intensity: f64(intensity)},
				{StartDate: now.AddDate(0, 0, -days/2), Intensity: f64(intensity / 2)},
			}
			score := CurrentRecoveryScore(now, samples)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 10.0)
		}
	}
}
