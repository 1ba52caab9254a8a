package scoring

type FormulaType string

const (
	FormulaPositive FormulaType = "POSITIVE"
	FormulaNegative FormulaType = "NEGATIVE"
	FormulaBinary   FormulaType = "BINARY"
	FormulaStepped  FormulaType = "STEPPED"
	FormulaCustom   FormulaType = "CUSTOM"
)

var FormulaTypes = []FormulaType{
	FormulaPositive,
	FormulaNegative,
	FormulaBinary,
	FormulaStepped,
	FormulaCustom,
}

func (t FormulaType) Valid() bool {
	for _, candidate := range FormulaTypes {
		if t == candidate {
			return true
		}
	}
	return false
}
