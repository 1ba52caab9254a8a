package scoring

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func dp(value string) *decimal.Decimal {
	v := d(value)
	return &v
}

func TestEvaluatePositiveAboveTargetUpToCap(t *testing.T) {
	e := NewEvaluator()
	score, err := e.Evaluate(
		Formula{Type: FormulaPositive, Cap: d("120"), Floor: d("0")},
		Input{Actual: d("120"), Target: d("100")},
	)
	require.NoError(t, err)
	assert.True(t, score.Equal(d("120")), "got %s", score)
}

func TestEvaluatePositiveChallengeGatesStretch(t *testing.T) {
	e := NewEvaluator()
	f := Formula{Type: FormulaPositive, Cap: d("150"), Floor: d("0")}

	below, err := e.Evaluate(f, Input{Actual: d("120"), Target: d("100"), Challenge: dp("130")})
	require.NoError(t, err)
	assert.True(t, below.Equal(d("100")), "expected stretch to be withheld below challenge, got %s", below)

	reached, err := e.Evaluate(f, Input{Actual: d("135"), Target: d("100"), Challenge: dp("130")})
	require.NoError(t, err)
	assert.True(t, reached.Equal(d("135")), "got %s", reached)

	capped, err := e.Evaluate(f, Input{Actual: d("400"), Target: d("100"), Challenge: dp("130")})
	require.NoError(t, err)
	assert.True(t, capped.Equal(d("150")), "got %s", capped)
}

func TestEvaluateNegative(t *testing.T) {
	e := NewEvaluator()
	f := Formula{Type: FormulaNegative, Cap: d("120"), Floor: d("0")}

	cases := []struct {
		name   string
		actual string
		want   string
	}{
		{name: "zero actual yields cap", actual: "0", want: "120"},
		{name: "on target", actual: "10", want: "100"},
		{name: "better than target", actual: "8", want: "120"},
		{name: "worse than target", actual: "15", want: "50"},
		{name: "double target yields floor", actual: "20", want: "0"},
		{name: "beyond double target", actual: "35", want: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, err := e.Evaluate(f, Input{Actual: d(tc.actual), Target: d("10")})
			require.NoError(t, err)
			assert.True(t, score.Equal(d(tc.want)), "got %s want %s", score, tc.want)
		})
	}
}

func TestEvaluateZeroTargetIsConfigError(t *testing.T) {
	e := NewEvaluator()
	for _, ft := range []FormulaType{FormulaPositive, FormulaNegative} {
		_, err := e.Evaluate(Formula{Type: ft, Cap: d("100"), Floor: d("0")}, Input{Actual: d("5"), Target: d("0")})
		if !errors.Is(err, ErrInvalidFormulaConfig) {
			t.Fatalf("%s: expected ErrInvalidFormulaConfig, got %v", ft, err)
		}
	}
}

func TestEvaluateOutputWithinBounds(t *testing.T) {
	e := NewEvaluator()
	actuals := []string{"-50", "0", "0.001", "1", "49.5", "100", "120", "199.99", "200", "1000000"}
	targets := []string{"0.5", "1", "100", "3333.3"}
	challenges := []*decimal.Decimal{nil, dp("50"), dp("150")}
	bounds := []Formula{
		{Cap: d("110"), Floor: d("20")},
		{Cap: d("130"), Floor: d("110")},
		{Cap: d("90"), Floor: d("0")},
	}
	for _, ft := range []FormulaType{FormulaPositive, FormulaNegative} {
		for _, b := range bounds {
			f := Formula{Type: ft, Cap: b.Cap, Floor: b.Floor}
			for _, target := range targets {
				for _, actual := range actuals {
					for _, challenge := range challenges {
						score, err := e.Evaluate(f, Input{Actual: d(actual), Target: d(target), Challenge: challenge})
						require.NoError(t, err)
						if score.LessThan(f.Floor) || score.GreaterThan(f.Cap) {
							t.Fatalf("%s actual=%s target=%s: score %s outside [%s, %s]", ft, actual, target, score, f.Floor, f.Cap)
						}
					}
				}
			}
		}
	}
}

func TestEvaluatePositiveFloorAboveHundredBeforeChallenge(t *testing.T) {
	e := NewEvaluator()
	score, err := e.Evaluate(
		Formula{Type: FormulaPositive, Cap: d("130"), Floor: d("110")},
		Input{Actual: d("120"), Target: d("100"), Challenge: dp("150")},
	)
	require.NoError(t, err)
	assert.True(t, score.Equal(d("110")), "got %s", score)
}

func TestEvaluateNegativeIgnoresChallenge(t *testing.T) {
	e := NewEvaluator()
	f := Formula{Type: FormulaNegative, Cap: d("120"), Floor: d("0")}
	score, err := e.Evaluate(f, Input{Actual: d("80"), Target: d("100"), Challenge: dp("50")})
	require.NoError(t, err)
	assert.True(t, score.Equal(d("120")), "got %s", score)
}

func TestEvaluateBinary(t *testing.T) {
	e := NewEvaluator()
	f := Formula{Type: FormulaBinary, Cap: d("100"), Floor: d("0")}

	hit, err := e.Evaluate(f, Input{Actual: d("50"), Target: d("50")})
	require.NoError(t, err)
	assert.True(t, hit.Equal(d("100")))

	miss, err := e.Evaluate(f, Input{Actual: d("49"), Target: d("50")})
	require.NoError(t, err)
	assert.True(t, miss.Equal(d("0")))
}

func TestEvaluateSteppedClosedLowerOpenUpper(t *testing.T) {
	e := NewEvaluator()
	f := Formula{
		Type:  FormulaStepped,
		Cap:   d("100"),
		Floor: d("10"),
		Steps: []Step{
			{Threshold: d("80"), Score: d("80")},
			{Threshold: d("50"), Score: d("60")},
			{Threshold: d("95"), Score: d("100")},
		},
	}

	cases := map[string]string{
		"20":    "10",
		"50":    "60",
		"79.99": "60",
		"80":    "80",
		"94":    "80",
		"95":    "100",
		"300":   "100",
	}
	for actual, want := range cases {
		score, err := e.Evaluate(f, Input{Actual: d(actual), Target: d("0")})
		require.NoError(t, err)
		assert.True(t, score.Equal(d(want)), "actual %s: got %s want %s", actual, score, want)
	}
}

func TestEvaluateSteppedRequiresSteps(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(Formula{Type: FormulaStepped, Cap: d("100"), Floor: d("0")}, Input{Actual: d("1")})
	assert.ErrorIs(t, err, ErrInvalidFormulaConfig)

	_, err = e.Evaluate(Formula{
		Type:  FormulaStepped,
		Cap:   d("100"),
		Floor: d("0"),
		Steps: []Step{{Threshold: d("5"), Score: d("50")}, {Threshold: d("5.0"), Score: d("60")}},
	}, Input{Actual: d("1")})
	assert.ErrorIs(t, err, ErrInvalidFormulaConfig)
}

func TestEvaluateCustomIsClamped(t *testing.T) {
	e := NewEvaluator()
	e.Register("square", func(_ Formula, in Input) (decimal.Decimal, error) {
		return in.Actual.Mul(in.Actual), nil
	})
	f := Formula{Type: FormulaCustom, Cap: d("100"), Floor: d("0"), CustomKey: "square"}

	score, err := e.Evaluate(f, Input{Actual: d("7")})
	require.NoError(t, err)
	assert.True(t, score.Equal(d("49")))

	score, err = e.Evaluate(f, Input{Actual: d("11")})
	require.NoError(t, err)
	assert.True(t, score.Equal(d("100")))
}

func TestEvaluateCustomWithoutPlugin(t *testing.T) {
	var e *Evaluator
	_, err := e.Evaluate(Formula{Type: FormulaCustom, Cap: d("100"), Floor: d("0"), CustomKey: "missing"}, Input{})
	assert.ErrorIs(t, err, ErrInvalidFormulaConfig)
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	err := Formula{Type: FormulaBinary, Cap: d("0"), Floor: d("10")}.Validate()
	assert.ErrorIs(t, err, ErrInvalidFormulaConfig)

	err = Formula{Type: "LINEAR", Cap: d("100"), Floor: d("0")}.Validate()
	assert.ErrorIs(t, err, ErrInvalidFormulaConfig)
}
