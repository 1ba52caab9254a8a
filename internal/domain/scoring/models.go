package scoring

import "github.com/shopspring/decimal"

// Step is one row of a STEPPED table. An actual value at or above Threshold
// scores Score unless a higher threshold also matches.
type Step struct {
	Threshold decimal.Decimal `json:"threshold"`
	Score     decimal.Decimal `json:"score"`
}

type Formula struct {
	Type      FormulaType     `json:"type"`
	Cap       decimal.Decimal `json:"cap"`
	Floor     decimal.Decimal `json:"floor"`
	Steps     []Step          `json:"steps,omitempty"`
	CustomKey string          `json:"customKey,omitempty"`
}

type Input struct {
	Actual    decimal.Decimal  `json:"actual"`
	Target    decimal.Decimal  `json:"target"`
	Challenge *decimal.Decimal `json:"challenge,omitempty"`
}

// CustomFunc computes an unclamped score for a CUSTOM formula.
type CustomFunc func(formula Formula, in Input) (decimal.Decimal, error)

type WeightedScore struct {
	AssignmentID string          `json:"assignmentId"`
	Weight       decimal.Decimal `json:"weight"`
	Score        decimal.Decimal `json:"score"`
}

type Contribution struct {
	AssignmentID string          `json:"assignmentId"`
	RawScore     decimal.Decimal `json:"rawScore"`
	Weight       decimal.Decimal `json:"weight"`
	Weighted     decimal.Decimal `json:"weighted"`
}

type Aggregate struct {
	Contributions []Contribution  `json:"contributions"`
	TotalScore    decimal.Decimal `json:"totalScore"`
	WeightSum     decimal.Decimal `json:"weightSum"`
}

// Complete reports whether the aggregated weights cover the full 100.
func (a Aggregate) Complete() bool {
	return a.WeightSum.Equal(hundred)
}
