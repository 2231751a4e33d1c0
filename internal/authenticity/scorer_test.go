package authenticity

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_EstablishedAccountClampsToHundred(t *testing.T) {
	got := Score(AccountStats{
		Username:         "established",
		Followers:        15000,
		Following:        500,
		Posts:            200,
		AccountAgeMonths: 30,
	})

	want := Result{
		Status: StatusReal,
		Score:  100,
		Details: detailRatioExcellent +
			detailPostsHigh +
			detailFrequencyConsistent +
			detailAgeEstablished +
			detailFollowersLarge,
		Flags: []Flag{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Score() mismatch (-want +got):\n%s", diff)
	}
}

func TestScore_FreshBotClampsToZero(t *testing.T) {
	got := Score(AccountStats{
		Username:         "bot123",
		Followers:        20,
		Following:        300,
		Posts:            3,
		AccountAgeMonths: 0.5,
	})

	want := Result{
		Status: StatusFake,
		Score:  0,
		Details: detailRatioVeryLow +
			detailPostsVeryLow +
			detailFrequencyConsistent +
			detailAgeVeryNew +
			detailFollowersLow,
		Flags: []Flag{FlagLowRatio, FlagLowPosts, FlagNewAccount},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Score() mismatch (-want +got):\n%s", diff)
	}
}

func TestScore_ZeroFollowingIsLowRatio(t *testing.T) {
	r := Score(AccountStats{Username: "x", Followers: 5000, Following: 0, Posts: 200, AccountAgeMonths: 12})

	assert.True(t, r.HasFlag(FlagLowRatio))
	assert.Contains(t, r.Details, detailRatioVeryLow)
}

func TestScore_ZeroPostsWithFewFollowers(t *testing.T) {
	r := Score(AccountStats{Username: "x", Followers: 500, Following: 100, Posts: 0, AccountAgeMonths: 12})

	assert.True(t, r.HasFlag(FlagLowPosts))
	assert.False(t, r.HasFlag(FlagLowEngagement), "engagement rule needs more than 1000 followers")
	assert.Contains(t, r.Details, detailFrequencyIrregular)
}

func TestScore_ZeroPostsWithManyFollowers(t *testing.T) {
	r := Score(AccountStats{Username: "x", Followers: 2000, Following: 100, Posts: 0, AccountAgeMonths: 12})

	assert.True(t, r.HasFlag(FlagLowPosts))
	assert.True(t, r.HasFlag(FlagLowEngagement))
}

func TestScore_LowEngagementOnly(t *testing.T) {
	// ratio 20 (+20), posts>100 (+15), ppm>=3 (+10), age>24 (+10),
	// followers>1000 (+10), engagement 0.0067 (-20)
	r := Score(AccountStats{Username: "x", Followers: 2000, Following: 100, Posts: 300000, AccountAgeMonths: 48})

	assert.Equal(t, 95, r.Score)
	assert.Equal(t, StatusReal, r.Status)
	assert.Equal(t, []Flag{FlagLowEngagement}, r.Flags)
}

func TestScore_ExactThresholds(t *testing.T) {
	tests := []struct {
		name   string
		stats  AccountStats
		score  int
		status Status
	}{
		{
			// ratio 1.5 (+15), age 30 (+10)
			name:   "exactly 75 is real",
			stats:  AccountStats{Username: "a", Followers: 150, Following: 100, Posts: 30, AccountAgeMonths: 30},
			score:  75,
			status: StatusReal,
		},
		{
			// ratio 0.3 (-15), age 30 (+10)
			name:   "exactly 45 is suspicious",
			stats:  AccountStats{Username: "b", Followers: 150, Following: 500, Posts: 30, AccountAgeMonths: 30},
			score:  45,
			status: StatusSuspicious,
		},
		{
			// ratio 0.3 (-15), relatively new (-10), ppm 15 (+10)
			name:   "35 is fake",
			stats:  AccountStats{Username: "c", Followers: 150, Following: 500, Posts: 30, AccountAgeMonths: 2},
			score:  35,
			status: StatusFake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(tt.stats)
			assert.Equal(t, tt.score, r.Score)
			assert.Equal(t, tt.status, r.Status)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score int
		want  Status
	}{
		{100, StatusReal},
		{75, StatusReal},
		{74, StatusSuspicious},
		{45, StatusSuspicious},
		{44, StatusFake},
		{0, StatusFake},
	}

	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestScore_RangeAndIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewScorer()

	for i := 0; i < 5000; i++ {
		stats := AccountStats{
			Username:         "fuzz",
			Followers:        rng.Int63n(50000),
			Following:        rng.Int63n(5000),
			Posts:            rng.Int63n(2000),
			AccountAgeMonths: rng.Float64() * 60,
		}

		first := s.Score(stats)
		second := s.Score(stats)

		require.GreaterOrEqual(t, first.Score, 0)
		require.LessOrEqual(t, first.Score, 100)
		require.True(t, first.Status.Valid())
		require.Equal(t, Classify(first.Score), first.Status)
		require.Empty(t, cmp.Diff(first, second), "scoring must be deterministic for %+v", stats)
	}
}

func TestScore_Concurrent(t *testing.T) {
	s := NewScorer()
	stats := AccountStats{Username: "shared", Followers: 1200, Following: 800, Posts: 75, AccountAgeMonths: 18}
	want := s.Score(stats)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, s.Score(stats))
		}()
	}
	wg.Wait()
}

func TestSignals_GuardZeroDenominators(t *testing.T) {
	sig := NewScorer().Signals(AccountStats{Followers: 10})

	assert.Zero(t, sig.Ratio)
	assert.Zero(t, sig.PostsPerMonth)
	assert.Zero(t, sig.EngagementRate)
}

func TestSignals(t *testing.T) {
	sig := NewScorer().Signals(AccountStats{Followers: 300, Following: 100, Posts: 60, AccountAgeMonths: 12})

	assert.InDelta(t, 3.0, sig.Ratio, 1e-9)
	assert.InDelta(t, 5.0, sig.PostsPerMonth, 1e-9)
	assert.InDelta(t, 5.0, sig.EngagementRate, 1e-9)
}
