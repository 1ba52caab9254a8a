package appraisal

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AssertMutable fails unless submissions in the period may still change.
func AssertMutable(p Period) error {
	if p.State == PeriodDraft || p.State == PeriodActive {
		return nil
	}
	return fmt.Errorf("%w: period %s is %s", ErrPeriodNotMutable, p.ID, p.State)
}

// AssertActivatable requires every scope's active assignment weights to be
// whole numbers summing to exactly 100.
func AssertActivatable(p Period, assignments []Assignment) error {
	for _, a := range assignments {
		if a.Active && a.PeriodID == p.ID && !a.Weight.IsInteger() {
			return fmt.Errorf("%w: assignment %s has fractional weight %s", ErrWeightSumInvalid, a.ID, a.Weight)
		}
	}
	for _, summary := range WeightSummaries(p.ID, assignments) {
		if !summary.Valid {
			return fmt.Errorf("%w: scope %s sums to %s", ErrWeightSumInvalid, summary.ScopeKey, summary.WeightSum)
		}
	}
	return nil
}

// WeightSummaries groups active assignments of the period by scope.
func WeightSummaries(periodID string, assignments []Assignment) []WeightSummary {
	byScope := map[string]*WeightSummary{}
	for _, a := range assignments {
		if !a.Active || a.PeriodID != periodID {
			continue
		}
		key := a.Scope.Key()
		summary, ok := byScope[key]
		if !ok {
			summary = &WeightSummary{ScopeKey: key, WeightSum: decimal.Zero}
			byScope[key] = summary
		}
		summary.WeightSum = summary.WeightSum.Add(a.Weight)
		summary.Assignments++
	}

	out := make([]WeightSummary, 0, len(byScope))
	for _, summary := range byScope {
		summary.Valid = summary.WeightSum.Equal(hundred) && summary.WeightSum.IsInteger()
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeKey < out[j].ScopeKey })
	return out
}

// NextPeriodState reports whether moving to target changes anything. Asking
// for the current state is a no-op; anything but a single forward step fails.
func NextPeriodState(current, target PeriodState) (bool, error) {
	from, ok := periodOrder[current]
	if !ok {
		return false, fmt.Errorf("%w: unknown period state %q", ErrInvalidTransition, current)
	}
	to, ok := periodOrder[target]
	if !ok {
		return false, fmt.Errorf("%w: unknown period state %q", ErrInvalidTransition, target)
	}
	if from == to {
		return false, nil
	}
	if to != from+1 {
		return false, fmt.Errorf("%w: period cannot move from %s to %s", ErrInvalidTransition, current, target)
	}
	return true, nil
}
