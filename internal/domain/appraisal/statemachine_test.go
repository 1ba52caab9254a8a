package appraisal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allowAll = RoleGateFunc(func(context.Context, string, Stage, Submission) (bool, error) { return true, nil })

var denyAll = RoleGateFunc(func(context.Context, string, Stage, Submission) (bool, error) { return false, nil })

func testMachine() StateMachine {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return StateMachine{
		Now: func() time.Time { return fixed },
		NewID: func() string {
			n++
			return "id-" + string(rune('0'+n))
		},
	}
}

func activePeriod() Period {
	return Period{ID: "p1", State: PeriodActive}
}

func pendingAt(stage Stage) Submission {
	return Submission{ID: "s1", PeriodID: "p1", Version: 1, Status: StatusPending, Stage: stage}
}

func actualEntry(value string) DataEntry {
	v := decimal.RequireFromString(value)
	return DataEntry{ID: "e1", SubmissionID: "s1", AssignmentID: "a1", Actual: &v}
}

func TestSubmitInitializesFirstStage(t *testing.T) {
	m := testMachine()
	sub, err := m.Submit(activePeriod(), Submission{ID: "s1", Status: StatusDraft}, []DataEntry{actualEntry("5")}, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sub.Status)
	assert.Equal(t, StageSelfEval, sub.Stage)
	assert.Equal(t, "u1", sub.SubmittedBy)
	require.NotNil(t, sub.SubmittedAt)
}

func TestSubmitUsesConfiguredFirstStage(t *testing.T) {
	m := testMachine()
	draft := Submission{ID: "s1", Status: StatusDraft, Pipeline: Pipeline{StageManagerReview, StageHRConfirm}}
	sub, err := m.Submit(activePeriod(), draft, []DataEntry{actualEntry("5")}, "u1")
	require.NoError(t, err)
	assert.Equal(t, StageManagerReview, sub.Stage)
}

func TestSubmitFailures(t *testing.T) {
	m := testMachine()
	draft := Submission{ID: "s1", Status: StatusDraft}

	_, err := m.Submit(activePeriod(), draft, []DataEntry{{ID: "e1"}}, "u1")
	assert.ErrorIs(t, err, ErrEmptySubmission)

	_, err = m.Submit(activePeriod(), draft, nil, "u1")
	assert.ErrorIs(t, err, ErrEmptySubmission)

	_, err = m.Submit(Period{ID: "p1", State: PeriodLocked}, draft, []DataEntry{actualEntry("1")}, "u1")
	assert.ErrorIs(t, err, ErrPeriodNotMutable)

	_, err = m.Submit(activePeriod(), pendingAt(StageSelfEval), []DataEntry{actualEntry("1")}, "u1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveAdvancesOneStage(t *testing.T) {
	m := testMachine()
	sub, err := m.Approve(context.Background(), activePeriod(), pendingAt(StageSelfEval), "u1", allowAll)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sub.Status)
	assert.Equal(t, StageManagerReview, sub.Stage)
	assert.Empty(t, sub.ApprovedBy)
	assert.Nil(t, sub.ApprovedAt)
}

func TestApproveAtLastStageCompletes(t *testing.T) {
	m := testMachine()
	sub, err := m.Approve(context.Background(), activePeriod(), pendingAt(StageHRConfirm), "hr1", allowAll)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, sub.Status)
	assert.Equal(t, StageCompleted, sub.Stage)
	assert.Equal(t, "hr1", sub.ApprovedBy)
	require.NotNil(t, sub.ApprovedAt)
}

func TestApproveRequiresGate(t *testing.T) {
	m := testMachine()
	_, err := m.Approve(context.Background(), activePeriod(), pendingAt(StageSelfEval), "u1", denyAll)
	assert.ErrorIs(t, err, ErrWrongApprover)

	_, err = m.Approve(context.Background(), activePeriod(), pendingAt(StageSelfEval), "u1", nil)
	assert.ErrorIs(t, err, ErrWrongApprover)

	lookupFailed := errors.New("directory down")
	_, err = m.Approve(context.Background(), activePeriod(), pendingAt(StageSelfEval), "u1",
		RoleGateFunc(func(context.Context, string, Stage, Submission) (bool, error) { return false, lookupFailed }))
	assert.ErrorIs(t, err, lookupFailed)
}

func TestApproveNonPendingFails(t *testing.T) {
	m := testMachine()
	for _, status := range []Status{StatusDraft, StatusApproved, StatusRejected} {
		sub := pendingAt(StageSelfEval)
		sub.Status = status
		_, err := m.Approve(context.Background(), activePeriod(), sub, "u1", allowAll)
		assert.ErrorIs(t, err, ErrInvalidTransition, status)
	}
}

func TestRejectKeepsStage(t *testing.T) {
	m := testMachine()
	sub, err := m.Reject(context.Background(), activePeriod(), pendingAt(StageSkipLevel), "u1", "  numbers off  ", allowAll)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, sub.Status)
	assert.Equal(t, StageSkipLevel, sub.Stage)
	assert.Equal(t, "numbers off", sub.RejectReason)

	_, err = m.Reject(context.Background(), activePeriod(), pendingAt(StageSkipLevel), "u1", "   ", allowAll)
	assert.ErrorIs(t, err, ErrMissingReason)
}

func TestReturnToPrevious(t *testing.T) {
	m := testMachine()
	_, err := m.Return(context.Background(), activePeriod(), pendingAt(StageSelfEval), "u1", allowAll)
	assert.ErrorIs(t, err, ErrCannotReturnFromFirstStage)

	sub, err := m.Return(context.Background(), activePeriod(), pendingAt(StageManagerReview), "u1", allowAll)
	require.NoError(t, err)
	assert.Equal(t, StageSelfEval, sub.Stage)
	assert.Equal(t, StatusPending, sub.Status)
}

func TestResubmitCopiesEntries(t *testing.T) {
	m := testMachine()
	rejected := pendingAt(StageManagerReview)
	rejected.Status = StatusRejected
	entries := []DataEntry{actualEntry("7")}

	next, copies, err := m.Resubmit(activePeriod(), rejected, entries, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, StatusDraft, next.Status)
	assert.Equal(t, StageNone, next.Stage)
	assert.Equal(t, "s1", next.PreviousID)
	require.Len(t, copies, 1)
	assert.Equal(t, next.ID, copies[0].SubmissionID)
	assert.NotEqual(t, entries[0].ID, copies[0].ID)

	*copies[0].Actual = decimal.NewFromInt(99)
	assert.True(t, entries[0].Actual.Equal(decimal.NewFromInt(7)))

	_, _, err = m.Resubmit(activePeriod(), pendingAt(StageSelfEval), entries, "u1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPipelineValidate(t *testing.T) {
	assert.NoError(t, DefaultPipeline.Validate())
	assert.ErrorIs(t, Pipeline{}.Validate(), ErrInvalidPipeline)
	assert.ErrorIs(t, Pipeline{StageHRConfirm, StageSelfEval}.Validate(), ErrInvalidPipeline)
	assert.ErrorIs(t, Pipeline{StageSelfEval, StageCompleted}.Validate(), ErrInvalidPipeline)

	p, err := ParsePipeline([]string{"manager_review", "HR_CONFIRM"})
	require.NoError(t, err)
	assert.Equal(t, Pipeline{StageManagerReview, StageHRConfirm}, p)
}

func TestStageText(t *testing.T) {
	raw, err := StageSkipLevel.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SKIP_LEVEL", string(raw))

	var s Stage
	require.NoError(t, s.UnmarshalText([]byte("COMPLETED")))
	assert.Equal(t, StageCompleted, s)
	assert.Error(t, s.UnmarshalText([]byte("FINAL")))
}
