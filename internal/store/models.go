package store

import "time"

// FitnessLevel is a user's self-reported running level
type FitnessLevel string

const (
	FitnessBeginner     FitnessLevel = "beginner"
	FitnessIntermediate FitnessLevel = "intermediate"
	FitnessAdvanced     FitnessLevel = "advanced"
	FitnessElite        FitnessLevel = "elite"
)

// User holds profile attributes and Strava credentials
type User struct {
	ID                  int64
	Name                string
	Email               string
	Locale              string
	Age                 *int
	WeightKg            *float64
	FitnessLevel        *FitnessLevel
	InjuryHistory       *string
	TrainingPreferences *string
	StravaAthleteID     *int64
	AccessToken         string
	RefreshToken        string
	TokenExpiresAt      *time.Time
	TelegramChatID      *int64
}

// HasStravaTokens reports whether the user connected a Strava account.
func (u *User) HasStravaTokens() bool {
	return u.AccessToken != "" && u.RefreshToken != ""
}

// ObjectiveStatus is the lifecycle state of an objective
type ObjectiveStatus string

const (
	ObjectiveActive    ObjectiveStatus = "active"
	ObjectiveCompleted ObjectiveStatus = "completed"
	ObjectiveAbandoned ObjectiveStatus = "abandoned"
)

// Objective is a user's running goal
type Objective struct {
	ID                int64
	UserID            int64
	Type              string // "5km", "10km", "21.1km", "42.2km" or "speed"
	TargetDate        time.Time
	Status            ObjectiveStatus
	Description       *string
	EnhancementPrompt *string
	RunningDays       []string // weekday names
	CreatedAt         time.Time
}

// Activity is an imported workout
type Activity struct {
	ID                     int64
	UserID                 int64
	ExternalID             int64 // Strava activity id
	Name                   string
	Type                   string
	Distance               float64 // meters
	MovingTime             int     // seconds
	ElapsedTime            int     // seconds
	StartDate              *time.Time
	ZoneData               *string // raw zone payload as JSON
	Z1Time                 int     // seconds in zone 1
	Z2Time                 int
	Z3Time                 int
	Z4Time                 int
	Z5Time                 int
	IntensityScore         *float64
	ZoneDataAvailable      bool
	ShortEvaluation        *string
	ExtendedEvaluation     *string
	RecoveryScore          *float64 // 0-10
	EstimatedRecoveryHours *int
}

// DailyRecommendation is one day of a training plan
type DailyRecommendation struct {
	ID          int64
	UserID      int64
	ObjectiveID int64
	Date        string // YYYY-MM-DD
	Type        string
	Title       string
	Description string
	Reasoning   string
}

// FeedbackStatus records how a recommended workout went
type FeedbackStatus string

const (
	FeedbackCompleted          FeedbackStatus = "completed"
	FeedbackSkipped            FeedbackStatus = "skipped"
	FeedbackPartiallyCompleted FeedbackStatus = "partially_completed"
)

// WorkoutFeedback is the user's response to a recommendation
type WorkoutFeedback struct {
	ID               int64
	UserID           int64
	RecommendationID int64
	Status           FeedbackStatus
	DifficultyRating *int // 1-5
	EnjoymentRating  *int // 1-5
	Notes            *string
}

// RecommendationWithFeedback pairs a recommendation with its optional feedback
type RecommendationWithFeedback struct {
	DailyRecommendation
	Feedback *WorkoutFeedback
}

// PersonalRecord is the best-ever value for a record type
type PersonalRecord struct {
	ID           int64
	UserID       int64
	RecordType   string
	Value        float64 // seconds, meters or seconds/km depending on type
	AchievedDate time.Time
	ActivityID   int64
}

// JobStatus is the queue state of a job
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a queued background task
type Job struct {
	ID        int64
	Type      string
	Payload   []byte
	Status    JobStatus
	Attempts  int
	RunAfter  time.Time
	LastError string
	CreatedAt time.Time
}
