// Package authenticity scores social accounts for authenticity.
//
// The score is a deterministic heuristic over four ratios derived from public
// account statistics. It starts at a neutral 50, every rule group adjusts it
// independently, and the total is clamped to [0,100] before it is bucketed into
// a Status.
package authenticity

// Status is the classification bucket for a scored account.
type Status string

const (
	StatusReal       Status = "real"
	StatusSuspicious Status = "suspicious"
	StatusFake       Status = "fake"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusReal, StatusSuspicious, StatusFake:
		return true
	}
	return false
}

// Flag is a machine-readable tag marking which penalty rule fired.
type Flag string

const (
	FlagLowRatio      Flag = "low_ratio"
	FlagLowPosts      Flag = "low_posts"
	FlagNewAccount    Flag = "new_account"
	FlagLowEngagement Flag = "low_engagement"
)

// Flags lists the full flag vocabulary in evaluation order.
var Flags = []Flag{FlagLowRatio, FlagLowPosts, FlagNewAccount, FlagLowEngagement}

// Classification thresholds applied to the clamped score.
const (
	RealThreshold       = 75
	SuspiciousThreshold = 45

	baseScore = 50
	minScore  = 0
	maxScore  = 100
)

// AccountStats holds the public statistics of an account.
type AccountStats struct {
	Username         string  `json:"username" yaml:"username"`
	Followers        int64   `json:"followers" yaml:"followers"`
	Following        int64   `json:"following" yaml:"following"`
	Posts            int64   `json:"posts" yaml:"posts"`
	AccountAgeMonths float64 `json:"accountAge" yaml:"accountAge"`
}

// Signals are the derived ratios the rules are evaluated against.
type Signals struct {
	Ratio          float64 `json:"ratio"`
	PostsPerMonth  float64 `json:"postsPerMonth"`
	EngagementRate float64 `json:"engagementRate"`
}

// Result is the outcome of scoring one account.
type Result struct {
	Status  Status `json:"status"`
	Score   int    `json:"score"`
	Details string `json:"details"`
	Flags   []Flag `json:"flags"`
}

// HasFlag reports whether f was raised.
func (r Result) HasFlag(f Flag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// Classify maps a clamped score to its Status.
func Classify(score int) Status {
	switch {
	case score >= RealThreshold:
		return StatusReal
	case score >= SuspiciousThreshold:
		return StatusSuspicious
	default:
		return StatusFake
	}
}
