package appraisal

import (
	"errors"

	"appraisal/internal/domain/scoring"
)

var (
	ErrNotFound                   = errors.New("not found")
	ErrInvalidInput               = errors.New("invalid input")
	ErrPeriodNotMutable           = errors.New("period not mutable")
	ErrInvalidTransition          = errors.New("invalid transition")
	ErrWeightSumInvalid           = errors.New("weight sum invalid")
	ErrInvalidFormulaConfig       = scoring.ErrInvalidFormulaConfig
	ErrEmptySubmission            = errors.New("submission has no actual values")
	ErrWrongApprover              = errors.New("approver does not hold the role for this stage")
	ErrMissingReason              = errors.New("reject reason is required")
	ErrCannotReturnFromFirstStage = errors.New("cannot return from first stage")
	ErrConcurrentModification     = errors.New("concurrent modification")
	ErrUnknownAssignment          = errors.New("assignment not part of the submission period")
	ErrDefinitionInUse            = errors.New("kpi definition referenced by a non-draft period")
	ErrInvalidPipeline            = errors.New("invalid approval pipeline")
)
