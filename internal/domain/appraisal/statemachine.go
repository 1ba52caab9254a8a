package appraisal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoleGate answers whether a user may act on a submission at a stage.
type RoleGate interface {
	CanAct(ctx context.Context, userID string, stage Stage, sub Submission) (bool, error)
}

type RoleGateFunc func(ctx context.Context, userID string, stage Stage, sub Submission) (bool, error)

func (f RoleGateFunc) CanAct(ctx context.Context, userID string, stage Stage, sub Submission) (bool, error) {
	return f(ctx, userID, stage, sub)
}

// StateMachine applies lifecycle transitions to submission values. It never
// touches storage; callers persist the returned copy with a revision check.
type StateMachine struct {
	Now   func() time.Time
	NewID func() string
}

func NewStateMachine() StateMachine {
	return StateMachine{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

func (m StateMachine) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now()
}

func (m StateMachine) newID() string {
	if m.NewID == nil {
		return uuid.NewString()
	}
	return m.NewID()
}

func (m StateMachine) Submit(period Period, sub Submission, entries []DataEntry, actor string) (Submission, error) {
	if err := AssertMutable(period); err != nil {
		return sub, err
	}
	if sub.Status != StatusDraft {
		return sub, fmt.Errorf("%w: cannot submit a %s submission", ErrInvalidTransition, sub.Status)
	}
	if !hasActual(entries) {
		return sub, ErrEmptySubmission
	}
	pipeline := sub.pipeline()
	if err := pipeline.Validate(); err != nil {
		return sub, err
	}

	now := m.now()
	sub.Status = StatusPending
	sub.Stage = pipeline.First()
	sub.SubmittedBy = actor
	sub.SubmittedAt = &now
	sub.RejectReason = ""
	sub.UpdatedAt = now
	return sub, nil
}

func (m StateMachine) Approve(ctx context.Context, period Period, sub Submission, approverID string, gate RoleGate) (Submission, error) {
	if err := m.checkPending(period, sub); err != nil {
		return sub, err
	}
	if err := authorize(ctx, gate, approverID, sub); err != nil {
		return sub, err
	}
	next, err := sub.pipeline().Advance(sub.Stage)
	if err != nil {
		return sub, err
	}

	now := m.now()
	sub.Stage = next
	if next == StageCompleted {
		sub.Status = StatusApproved
		sub.ApprovedBy = approverID
		sub.ApprovedAt = &now
	}
	sub.UpdatedAt = now
	return sub, nil
}

// Reject ends the current version. The stage is kept so the audit trail shows
// where the submission stopped.
func (m StateMachine) Reject(ctx context.Context, period Period, sub Submission, actor, reason string, gate RoleGate) (Submission, error) {
	if err := m.checkPending(period, sub); err != nil {
		return sub, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return sub, ErrMissingReason
	}
	if err := authorize(ctx, gate, actor, sub); err != nil {
		return sub, err
	}

	sub.Status = StatusRejected
	sub.RejectReason = reason
	sub.UpdatedAt = m.now()
	return sub, nil
}

func (m StateMachine) Return(ctx context.Context, period Period, sub Submission, actor string, gate RoleGate) (Submission, error) {
	if err := m.checkPending(period, sub); err != nil {
		return sub, err
	}
	prev, err := sub.pipeline().Retreat(sub.Stage)
	if err != nil {
		return sub, err
	}
	if err := authorize(ctx, gate, actor, sub); err != nil {
		return sub, err
	}

	sub.Stage = prev
	sub.UpdatedAt = m.now()
	return sub, nil
}

// Resubmit opens the next version of a rejected submission with copies of its
// entries. The rejected original is not modified.
func (m StateMachine) Resubmit(period Period, sub Submission, entries []DataEntry, actor string) (Submission, []DataEntry, error) {
	if err := AssertMutable(period); err != nil {
		return sub, nil, err
	}
	if sub.Status != StatusRejected {
		return sub, nil, fmt.Errorf("%w: only rejected submissions can be resubmitted, got %s", ErrInvalidTransition, sub.Status)
	}

	now := m.now()
	next := Submission{
		ID:         m.newID(),
		PeriodID:   sub.PeriodID,
		Scope:      sub.Scope,
		DataSource: sub.DataSource,
		Version:    sub.Version + 1,
		Revision:   1,
		Status:     StatusDraft,
		Stage:      StageNone,
		Pipeline:   append(Pipeline(nil), sub.Pipeline...),
		PreviousID: sub.ID,
		CreatedBy:  actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	copies := make([]DataEntry, 0, len(entries))
	for _, entry := range entries {
		clone := entry
		clone.ID = m.newID()
		clone.SubmissionID = next.ID
		clone.UpdatedAt = now
		if entry.Actual != nil {
			actual := *entry.Actual
			clone.Actual = &actual
		}
		copies = append(copies, clone)
	}
	return next, copies, nil
}

func (m StateMachine) checkPending(period Period, sub Submission) error {
	if err := AssertMutable(period); err != nil {
		return err
	}
	if sub.Status != StatusPending {
		return fmt.Errorf("%w: submission is %s", ErrInvalidTransition, sub.Status)
	}
	return nil
}

func authorize(ctx context.Context, gate RoleGate, userID string, sub Submission) error {
	if gate == nil || userID == "" {
		return ErrWrongApprover
	}
	ok, err := gate.CanAct(ctx, userID, sub.Stage, sub)
	if err != nil {
		return fmt.Errorf("role lookup for stage %s: %w", sub.Stage, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrWrongApprover, sub.Stage)
	}
	return nil
}

func hasActual(entries []DataEntry) bool {
	for _, entry := range entries {
		if entry.Actual != nil {
			return true
		}
	}
	return false
}
