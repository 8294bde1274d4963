package strava

import "time"

// Activity is an activity summary from /athlete/activities
type Activity struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	SportType   string    `json:"sport_type"`
	StartDate   time.Time `json:"start_date"`
	Distance    float64   `json:"distance"`     // meters
	MovingTime  int       `json:"moving_time"`  // seconds
	ElapsedTime int       `json:"elapsed_time"` // seconds
}

// ActivityZone is one zone group from /activities/{id}/zones
type ActivityZone struct {
	Type                string       `json:"type"` // "heartrate" or "pace"
	SensorBased         bool         `json:"sensor_based"`
	DistributionBuckets []ZoneBucket `json:"distribution_buckets"`
}

// ZoneBucket is the time spent within one zone's bounds
type ZoneBucket struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Time float64 `json:"time"` // seconds
}

// HeartRateZones returns the heart-rate zone group, or nil if absent.
func HeartRateZones(zones []ActivityZone) *ActivityZone {
	for i := range zones {
		if zones[i].Type == "heartrate" {
			return &zones[i]
		}
	}
	return nil
}
