package analysis

import (
	"math"
	"time"
)

const (
	// MaxRecoveryScore means fully recovered
	MaxRecoveryScore = 10.0

	// RecoveryWindow is how far back activities contribute to fatigue
	RecoveryWindow = 7 * 24 * time.Hour

	// defaultIntensity stands in for activities that never got a score
	defaultIntensity = 5.0
)

// ActivityRecovery estimates how demanding one activity was.
// score = max(0, 10 - intensity); hours = round(distance_km * 2 * intensity / 5).
func ActivityRecovery(intensity, distanceMeters float64) (score float64, hours int) {
	score = math.Max(0, MaxRecoveryScore-intensity)
	km := distanceMeters / 1000
	hours = int(math.Round((km * 2) * (intensity / 5)))
	return score, hours
}

// RecoverySample is the slice of an activity the user-level score needs
type RecoverySample struct {
	StartDate time.Time
	Intensity *float64
}

// CurrentRecoveryScore folds the last seven days of activity into a 0-10
// score. Each activity adds (intensity/10) * max(0, 1 - daysAgo/7) fatigue
// and the score is round(max(0, 10 - fatigue*2), 1).
func CurrentRecoveryScore(now time.Time, samples []RecoverySample) float64 {
	cutoff := now.Add(-RecoveryWindow)
	fatigue := 0.0
	counted := 0

	for _, s := range samples {
		if s.StartDate.Before(cutoff) {
			continue
		}
		counted++

		intensity := defaultIntensity
		if s.Intensity != nil {
			intensity = *s.Intensity
		}

		daysAgo := math.Floor(math.Abs(now.Sub(s.StartDate).Hours()) / 24)
		recency := math.Max(0, 1-daysAgo/7)
		fatigue += (intensity / 10) * recency
	}

	if counted == 0 {
		return MaxRecoveryScore
	}
	return Round(math.Max(0, MaxRecoveryScore-fatigue*2), 1)
}
