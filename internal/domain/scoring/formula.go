package scoring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Evaluator maps actual values to normalized scores. The zero value handles
// every built-in formula; CUSTOM formulas need a registered plugin.
type Evaluator struct {
	mu     sync.RWMutex
	custom map[string]CustomFunc
}

func NewEvaluator() *Evaluator {
	return &Evaluator{custom: map[string]CustomFunc{}}
}

func (e *Evaluator) Register(key string, fn CustomFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.custom == nil {
		e.custom = map[string]CustomFunc{}
	}
	e.custom[key] = fn
}

func (e *Evaluator) plugin(key string) (CustomFunc, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.custom[key]
	return fn, ok
}

// Validate checks the parts of a formula that do not depend on an input.
func (f Formula) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: unknown formula type %q", ErrInvalidFormulaConfig, f.Type)
	}
	if f.Cap.LessThan(f.Floor) {
		return fmt.Errorf("%w: cap %s below floor %s", ErrInvalidFormulaConfig, f.Cap, f.Floor)
	}
	switch f.Type {
	case FormulaStepped:
		if len(f.Steps) == 0 {
			return fmt.Errorf("%w: stepped formula needs at least one step", ErrInvalidFormulaConfig)
		}
		seen := make(map[string]struct{}, len(f.Steps))
		for _, step := range f.Steps {
			key := step.Threshold.String()
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: duplicate step threshold %s", ErrInvalidFormulaConfig, key)
			}
			seen[key] = struct{}{}
		}
	case FormulaCustom:
		if f.CustomKey == "" {
			return fmt.Errorf("%w: custom formula needs a plugin key", ErrInvalidFormulaConfig)
		}
	}
	return nil
}

// Evaluate returns the score for one actual value, always within [floor, cap].
func (e *Evaluator) Evaluate(f Formula, in Input) (decimal.Decimal, error) {
	if err := f.Validate(); err != nil {
		return decimal.Zero, err
	}

	var (
		raw   decimal.Decimal
		upper = f.Cap
	)
	switch f.Type {
	case FormulaPositive:
		if !in.Target.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: positive formula needs target > 0", ErrInvalidFormulaConfig)
		}
		raw = in.Actual.Div(in.Target).Mul(hundred)
		if in.Challenge != nil && in.Actual.LessThan(*in.Challenge) {
			// above-100 scores are held back until the stretch target is met
			upper = decimal.Max(f.Floor, decimal.Min(f.Cap, hundred))
		}
	case FormulaNegative:
		if !in.Target.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: negative formula needs target > 0", ErrInvalidFormulaConfig)
		}
		switch {
		case in.Actual.LessThanOrEqual(decimal.Zero):
			raw = f.Cap
		case in.Actual.GreaterThanOrEqual(in.Target.Mul(two)):
			raw = f.Floor
		default:
			raw = two.Sub(in.Actual.Div(in.Target)).Mul(hundred)
		}
	case FormulaBinary:
		if in.Actual.GreaterThanOrEqual(in.Target) {
			raw = f.Cap
		} else {
			raw = f.Floor
		}
	case FormulaStepped:
		raw = stepScore(f.Steps, in.Actual, f.Floor)
	case FormulaCustom:
		fn, ok := e.plugin(f.CustomKey)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no plugin registered for %q", ErrInvalidFormulaConfig, f.CustomKey)
		}
		score, err := fn(f, in)
		if err != nil {
			return decimal.Zero, fmt.Errorf("custom formula %q: %w", f.CustomKey, err)
		}
		raw = score
	}

	return Clamp(raw, f.Floor, upper), nil
}

// stepScore picks the highest threshold that is <= actual. Values below the
// lowest threshold score the floor.
func stepScore(steps []Step, actual, floor decimal.Decimal) decimal.Decimal {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold.LessThan(sorted[j].Threshold)
	})

	score := floor
	for _, step := range sorted {
		if actual.LessThan(step.Threshold) {
			break
		}
		score = step.Score
	}
	return score
}

func Clamp(value, floor, ceiling decimal.Decimal) decimal.Decimal {
	if value.LessThan(floor) {
		return floor
	}
	if value.GreaterThan(ceiling) {
		return ceiling
	}
	return value
}
