package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAggregateWeightedContribution(t *testing.T) {
	agg := AggregateScores([]WeightedScore{{AssignmentID: "a1", Weight: d("30"), Score: d("120")}})

	assert.Len(t, agg.Contributions, 1)
	assert.True(t, agg.Contributions[0].Weighted.Equal(d("36.0")), "got %s", agg.Contributions[0].Weighted)
	assert.True(t, agg.TotalScore.Equal(d("36.0")))
	assert.True(t, agg.WeightSum.Equal(d("30")))
	assert.False(t, agg.Complete())
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	entries := []WeightedScore{
		{AssignmentID: "a", Weight: d("33"), Score: d("91.37")},
		{AssignmentID: "b", Weight: d("33"), Score: d("77.777")},
		{AssignmentID: "c", Weight: d("34"), Score: d("100.01")},
		{AssignmentID: "d", Weight: d("0"), Score: d("12")},
	}
	want := AggregateScores(entries)
	assert.True(t, want.Complete())

	permutations := [][]int{{3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}}
	for _, order := range permutations {
		shuffled := make([]WeightedScore, 0, len(entries))
		for _, idx := range order {
			shuffled = append(shuffled, entries[idx])
		}
		got := AggregateScores(shuffled)
		assert.True(t, got.TotalScore.Equal(want.TotalScore), "order %v: got %s want %s", order, got.TotalScore, want.TotalScore)
		assert.Equal(t, "a", got.Contributions[0].AssignmentID)
	}
}

func TestAggregateRoundsHalfUp(t *testing.T) {
	// 25.05 + 25 = 50.05
	agg := AggregateScores([]WeightedScore{
		{AssignmentID: "a", Weight: d("50"), Score: d("50.1")},
		{AssignmentID: "b", Weight: d("50"), Score: d("50")},
	})
	assert.True(t, agg.TotalScore.Equal(d("50.1")), "got %s", agg.TotalScore)

	agg = AggregateScores([]WeightedScore{{AssignmentID: "a", Weight: d("50"), Score: d("0.25")}})
	assert.True(t, agg.TotalScore.Equal(d("0.1")), "got %s", agg.TotalScore)
}

func TestRoundHalfUp(t *testing.T) {
	cases := map[string]string{
		"1.25":  "1.3",
		"1.24":  "1.2",
		"1.35":  "1.4",
		"-1.25": "-1.3",
		"0":     "0",
		"99.95": "100",
	}
	for in, want := range cases {
		got := RoundHalfUp(d(in), 1)
		assert.True(t, got.Equal(d(want)), "%s: got %s want %s", in, got, want)
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := AggregateScores(nil)
	assert.True(t, agg.TotalScore.Equal(decimal.Zero))
	assert.True(t, agg.WeightSum.Equal(decimal.Zero))
	assert.Empty(t, agg.Contributions)
}
