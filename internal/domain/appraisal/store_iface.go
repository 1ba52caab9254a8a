package appraisal

import (
	"context"
	"time"
)

// StoreAPI persists periods, definitions, assignments and submissions.
// Every submission write inside WithinTx must compare-and-swap on Revision.
type StoreAPI interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxAPI) error) error

	CreatePeriod(ctx context.Context, p Period) error
	GetPeriod(ctx context.Context, id string) (Period, error)
	ListPeriodsEndedBefore(ctx context.Context, state PeriodState, before time.Time) ([]Period, error)
	ListAssignments(ctx context.Context, periodID string) ([]Assignment, error)

	CreateKPIDefinition(ctx context.Context, def KPIDefinition) error
	GetKPIDefinition(ctx context.Context, id string) (KPIDefinition, error)

	GetSubmission(ctx context.Context, id string) (Submission, error)
	ListDataEntries(ctx context.Context, submissionID string) ([]DataEntry, error)
	GetScoreResult(ctx context.Context, submissionID string) (ScoreResult, error)
	ListSnapshots(ctx context.Context, submissionID string) ([]ScoreSnapshot, error)
}

// TxAPI is the transactional view. PeriodForShare blocks period transitions
// until the transaction ends; PeriodForUpdate excludes all other holders.
type TxAPI interface {
	PeriodForShare(ctx context.Context, id string) (Period, error)
	PeriodForUpdate(ctx context.Context, id string) (Period, error)
	UpdatePeriodState(ctx context.Context, id string, state PeriodState) error

	ListAssignments(ctx context.Context, periodID string) ([]Assignment, error)
	InsertAssignment(ctx context.Context, a Assignment) error
	KPIDefinitions(ctx context.Context, ids []string) (map[string]KPIDefinition, error)
	DefinitionInUse(ctx context.Context, id string) (bool, error)
	UpdateKPIDefinition(ctx context.Context, def KPIDefinition) error

	GetSubmission(ctx context.Context, id string) (Submission, error)
	InsertSubmission(ctx context.Context, sub Submission) error
	HasSuccessor(ctx context.Context, id string) (bool, error)
	CompareAndSwapSubmission(ctx context.Context, sub Submission, expected int64) (Submission, error)
	ListDataEntries(ctx context.Context, submissionID string) ([]DataEntry, error)
	UpsertDataEntries(ctx context.Context, entries []DataEntry) error

	SaveScoreResult(ctx context.Context, result ScoreResult) error
	AppendSnapshot(ctx context.Context, snap ScoreSnapshot) error
}
