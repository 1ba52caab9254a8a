package scoring

import (
	"sort"

	"github.com/shopspring/decimal"
)

var half = decimal.New(5, -1)

// AggregateScores weights each score by its assignment weight and sums the
// results. Decimal addition is exact, so input order never changes the total.
func AggregateScores(entries []WeightedScore) Aggregate {
	out := Aggregate{
		Contributions: make([]Contribution, 0, len(entries)),
		TotalScore:    decimal.Zero,
		WeightSum:     decimal.Zero,
	}

	sum := decimal.Zero
	for _, entry := range entries {
		weighted := entry.Score.Mul(entry.Weight).Div(hundred)
		out.Contributions = append(out.Contributions, Contribution{
			AssignmentID: entry.AssignmentID,
			RawScore:     entry.Score,
			Weight:       entry.Weight,
			Weighted:     weighted,
		})
		sum = sum.Add(weighted)
		out.WeightSum = out.WeightSum.Add(entry.Weight)
	}
	sort.SliceStable(out.Contributions, func(i, j int) bool {
		return out.Contributions[i].AssignmentID < out.Contributions[j].AssignmentID
	})

	out.TotalScore = RoundHalfUp(sum, 1)
	return out
}

// RoundHalfUp rounds away from zero on an exact half, for positive and
// negative values alike.
func RoundHalfUp(value decimal.Decimal, places int32) decimal.Decimal {
	shifted := value.Shift(places)
	if shifted.IsNegative() {
		return shifted.Neg().Add(half).Floor().Neg().Shift(-places)
	}
	return shifted.Add(half).Floor().Shift(-places)
}
