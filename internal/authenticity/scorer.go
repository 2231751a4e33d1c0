package authenticity

import "strings"

// Detail fragments, appended in evaluation order.
const (
	detailRatioExcellent = "Excellent follower/following ratio indicates authentic account. "
	detailRatioGood      = "Good follower/following ratio. "
	detailRatioVeryLow   = "Very low follower/following ratio - possible fake account. "
	detailRatioLow       = "Low follower/following ratio. "

	detailPostsHigh     = "High posting activity indicates active user. "
	detailPostsModerate = "Moderate posting activity. "
	detailPostsVeryLow  = "Very low posting activity - suspicious. "

	detailFrequencyConsistent = "Consistent posting frequency. "
	detailFrequencyIrregular  = "Irregular posting frequency. "

	detailAgeVeryNew     = "Very new account - higher risk. "
	detailAgeNew         = "Relatively new account. "
	detailAgeEstablished = "Well-established account. "

	detailFollowersLarge = "Large following indicates established presence. "
	detailFollowersGood  = "Good following count. "
	detailFollowersLow   = "Low follower count. "

	detailLowEngagement = "Very low engagement rate for follower count - possible bot followers. "
)

// Scorer applies the authenticity heuristic. The zero value is ready to use
// and a single Scorer may be shared by any number of goroutines.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Signals derives the ratios used by the rules. A zero denominator yields 0.
func (s *Scorer) Signals(stats AccountStats) Signals {
	var sig Signals
	if stats.Following > 0 {
		sig.Ratio = float64(stats.Followers) / float64(stats.Following)
	}
	if stats.AccountAgeMonths > 0 {
		sig.PostsPerMonth = float64(stats.Posts) / stats.AccountAgeMonths
	}
	if stats.Posts > 0 {
		sig.EngagementRate = float64(stats.Followers) / float64(stats.Posts)
	}
	return sig
}

// Score evaluates every rule group against stats and returns the classified result.
func (s *Scorer) Score(stats AccountStats) Result {
	sig := s.Signals(stats)

	score := baseScore
	var details strings.Builder
	flags := make([]Flag, 0, len(Flags))

	apply := func(delta int, detail string) {
		score += delta
		details.WriteString(detail)
	}

	// Follower/following ratio
	switch {
	case sig.Ratio > 2:
		apply(20, detailRatioExcellent)
	case sig.Ratio > 1:
		apply(15, detailRatioGood)
	case sig.Ratio < 0.1:
		apply(-25, detailRatioVeryLow)
		flags = append(flags, FlagLowRatio)
	case sig.Ratio < 0.5:
		apply(-15, detailRatioLow)
	}

	// Posting activity
	switch {
	case stats.Posts > 100:
		apply(15, detailPostsHigh)
	case stats.Posts > 50:
		apply(10, detailPostsModerate)
	case stats.Posts < 10:
		apply(-20, detailPostsVeryLow)
		flags = append(flags, FlagLowPosts)
	}

	// Posting frequency
	switch {
	case sig.PostsPerMonth >= 3:
		apply(10, detailFrequencyConsistent)
	case sig.PostsPerMonth < 0.5:
		apply(-15, detailFrequencyIrregular)
	}

	// Account age
	switch {
	case stats.AccountAgeMonths < 1:
		apply(-20, detailAgeVeryNew)
		flags = append(flags, FlagNewAccount)
	case stats.AccountAgeMonths < 3:
		apply(-10, detailAgeNew)
	case stats.AccountAgeMonths > 24:
		apply(10, detailAgeEstablished)
	}

	// Follower count
	switch {
	case stats.Followers > 10000:
		apply(15, detailFollowersLarge)
	case stats.Followers > 1000:
		apply(10, detailFollowersGood)
	case stats.Followers < 50:
		apply(-10, detailFollowersLow)
	}

	// Engagement
	if sig.EngagementRate < 0.01 && stats.Followers > 1000 {
		apply(-20, detailLowEngagement)
		flags = append(flags, FlagLowEngagement)
	}

	// Clamp only once every rule has contributed.
	score = clamp(score, minScore, maxScore)

	return Result{
		Status:  Classify(score),
		Score:   score,
		Details: details.String(),
		Flags:   flags,
	}
}

// Score evaluates stats with a default Scorer.
func Score(stats AccountStats) Result {
	return NewScorer().Score(stats)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
