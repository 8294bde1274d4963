package analysis

import "fmt"

// Standard race distances in meters
const (
	Distance5K        = 5000
	Distance10K       = 10000
	DistanceHalfMara  = 21097.5
	DistanceMarathon  = 42195
	DistanceTolerance = 0.05 // 5% tolerance for race distance matching

	// FastestPaceMinDistance is the shortest activity that can set a pace record
	FastestPaceMinDistance = 1000
)

// RecordType is one of the fixed personal record kinds
type RecordType int

const (
	Fastest5K RecordType = iota
	Fastest10K
	FastestHalfMarathon
	FastestMarathon
	LongestRun
	FastestPace
)

// AllRecordTypes lists every record kind in display order
var AllRecordTypes = []RecordType{
	Fastest5K, Fastest10K, FastestHalfMarathon, FastestMarathon, LongestRun, FastestPace,
}

// RaceRecordTypes are the records set by covering a race distance
var RaceRecordTypes = []RecordType{Fastest5K, Fastest10K, FastestHalfMarathon, FastestMarathon}

var recordNames = map[RecordType]string{
	Fastest5K:           "fastest_5k",
	Fastest10K:          "fastest_10k",
	FastestHalfMarathon: "fastest_half_marathon",
	FastestMarathon:     "fastest_marathon",
	LongestRun:          "longest_run",
	FastestPace:         "fastest_pace",
}

var raceTargets = map[RecordType]float64{
	Fastest5K:           Distance5K,
	Fastest10K:          Distance10K,
	FastestHalfMarathon: DistanceHalfMara,
	FastestMarathon:     DistanceMarathon,
}

func (r RecordType) String() string {
	if name, ok := recordNames[r]; ok {
		return name
	}
	return fmt.Sprintf("record_type(%d)", int(r))
}

// ParseRecordType maps a stored name back to its RecordType
func ParseRecordType(name string) (RecordType, error) {
	for r, n := range recordNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", name)
}

// HigherIsBetter is true for distance records and false for time and pace.
func (r RecordType) HigherIsBetter() bool {
	return r == LongestRun
}

// Improves reports whether candidate strictly beats existing for this kind.
func (r RecordType) Improves(candidate, existing float64) bool {
	if r.HigherIsBetter() {
		return candidate > existing
	}
	return candidate < existing
}

// TargetDistance returns the race distance in meters for race records.
func (r RecordType) TargetDistance() (float64, bool) {
	d, ok := raceTargets[r]
	return d, ok
}

// Unit names the measure stored in a record's value
func (r RecordType) Unit() string {
	switch r {
	case LongestRun:
		return "meters"
	case FastestPace:
		return "seconds/km"
	default:
		return "seconds"
	}
}

// MatchesRaceDistance checks if an activity's total distance matches a standard race distance
// within the tolerance (±5%)
func MatchesRaceDistance(activityDistance float64, raceDistance float64) bool {
	lowerBound := raceDistance * (1 - DistanceTolerance)
	upperBound := raceDistance * (1 + DistanceTolerance)
	return activityDistance >= lowerBound && activityDistance <= upperBound
}

// PacePerKm returns seconds per kilometer, or 0 when distance is not positive.
func PacePerKm(distanceMeters float64, movingSeconds int) float64 {
	if distanceMeters <= 0 {
		return 0
	}
	return float64(movingSeconds) / (distanceMeters / 1000)
}

// Candidate is a value an activity offers for one record type
type Candidate struct {
	Type  RecordType
	Value float64
}

// Candidates lists every record an activity could set, before comparing
// against stored records. Activities without positive distance offer none.
func Candidates(distanceMeters float64, movingSeconds int) []Candidate {
	if distanceMeters <= 0 {
		return nil
	}

	var out []Candidate
	for _, rt := range RaceRecordTypes {
		target, _ := rt.TargetDistance()
		if MatchesRaceDistance(distanceMeters, target) {
			out = append(out, Candidate{Type: rt, Value: float64(movingSeconds)})
		}
	}

	out = append(out, Candidate{Type: LongestRun, Value: distanceMeters})

	if distanceMeters >= FastestPaceMinDistance {
		out = append(out, Candidate{Type: FastestPace, Value: PacePerKm(distanceMeters, movingSeconds)})
	}
	return out
}
