package scoring

import "errors"

var ErrInvalidFormulaConfig = errors.New("invalid formula config")
