package scoring

import "github.com/google/uuid"

const (
	DefaultQualifyingThreshold = 51
	DefaultLevelSize           = 300

	MinScore = 0
	MaxScore = 100
)

// Config holds the tunable scoring constants.
type Config struct {
	QualifyingThreshold int
	LevelSize           int
}

// DefaultConfig returns the production constants
func DefaultConfig() Config {
	return Config{
		QualifyingThreshold: DefaultQualifyingThreshold,
		LevelSize:           DefaultLevelSize,
	}
}

func (c Config) normalized() Config {
	if c.QualifyingThreshold <= 0 {
		c.QualifyingThreshold = DefaultQualifyingThreshold
	}
	if c.LevelSize <= 0 {
		c.LevelSize = DefaultLevelSize
	}
	return c
}

// Qualifies reports whether score counts toward the cumulative score
func (c Config) Qualifies(score int) bool {
	return score >= c.normalized().QualifyingThreshold
}

// Level derives the level from a cumulative score.
func (c Config) Level(cumulative int) int {
	if cumulative < 0 {
		cumulative = 0
	}
	return cumulative/c.normalized().LevelSize + 1
}

// Delta returns the change to the cumulative score when a submission moves
// from oldScore (nil if never scored) to newScore.
func (c Config) Delta(oldScore *int, newScore int) int {
	oldQualifies := oldScore != nil && c.Qualifies(*oldScore)
	newQualifies := c.Qualifies(newScore)

	switch {
	case oldQualifies && newQualifies:
		return newScore - *oldScore
	case oldQualifies:
		return -*oldScore
	case newQualifies:
		return newScore
	default:
		return 0
	}
}

// Aggregate is the owner's cumulative score and derived level.
type Aggregate struct {
	UserID          uuid.UUID `db:"id" json:"user_id"`
	CumulativeScore int       `db:"cumulative_score" json:"cumulative_score"`
	Level           int       `db:"level" json:"level"`
}

// State is what Repository.Apply hands to the update function: the locked
// aggregate and the submission's currently stored score.
type State struct {
	CumulativeScore int
	Level           int
	SubmissionScore *int
}

// Change is the new aggregate and submission score to persist.
type Change struct {
	CumulativeScore int
	Level           int
	SubmissionScore int
}

// Reconciliation reports a recomputation of the aggregate from source scores.
type Reconciliation struct {
	Before Aggregate `json:"before"`
	After  Aggregate `json:"after"`
	Drift  int       `json:"drift"`
}

// Progress describes how far the owner is into the current level.
type Progress struct {
	CumulativeScore int `json:"cumulative_score"`
	Level           int `json:"level"`
	IntoLevel       int `json:"into_level"`
	ToNextLevel     int `json:"to_next_level"`
	LevelSize       int `json:"level_size"`
}
