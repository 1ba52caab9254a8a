package appraisal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"appraisal/internal/domain/scoring"
)

var tracer = otel.Tracer("appraisal/internal/domain/appraisal")

// Notifier receives committed transitions. It must not block the caller and
// has no way to fail the transition.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type Recorder interface {
	RecordTransition(event string)
	RecordConflict()
}

type PipelineResolver interface {
	PipelineFor(ctx context.Context, periodID string, scope Scope) (Pipeline, error)
}

type PipelineResolverFunc func(ctx context.Context, periodID string, scope Scope) (Pipeline, error)

func (f PipelineResolverFunc) PipelineFor(ctx context.Context, periodID string, scope Scope) (Pipeline, error) {
	return f(ctx, periodID, scope)
}

type Service struct {
	store     StoreAPI
	evaluator *scoring.Evaluator
	machine   StateMachine
	gate      RoleGate
	pipelines PipelineResolver
	notifier  Notifier
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithEvaluator(e *scoring.Evaluator) Option {
	return func(s *Service) { s.evaluator = e }
}

func WithRoleGate(g RoleGate) Option {
	return func(s *Service) { s.gate = g }
}

func WithPipelineResolver(r PipelineResolver) Option {
	return func(s *Service) { s.pipelines = r }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.machine.Now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
		s.machine.NewID = newID
	}
}

func New(store StoreAPI, opts ...Option) *Service {
	s := &Service{
		store:     store,
		evaluator: scoring.NewEvaluator(),
		machine:   NewStateMachine(),
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "appraisal."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) CreatePeriod(ctx context.Context, name string, startsOn, endsOn time.Time) (period Period, err error) {
	ctx, span := startSpan(ctx, "CreatePeriod")
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return Period{}, fmt.Errorf("%w: period name is required", ErrInvalidInput)
	}
	if !endsOn.After(startsOn) {
		return Period{}, fmt.Errorf("%w: period must end after it starts", ErrInvalidInput)
	}
	now := s.now()
	period = Period{
		ID:        s.newID(),
		Name:      name,
		StartsOn:  startsOn,
		EndsOn:    endsOn,
		State:     PeriodDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePeriod(ctx, period); err != nil {
		return Period{}, err
	}
	return period, nil
}

func (s *Service) GetPeriod(ctx context.Context, id string) (Period, error) {
	return s.store.GetPeriod(ctx, id)
}

func (s *Service) ActivatePeriod(ctx context.Context, id, actor string) (Period, error) {
	return s.movePeriod(ctx, id, PeriodActive, actor)
}

func (s *Service) LockPeriod(ctx context.Context, id, actor string) (Period, error) {
	return s.movePeriod(ctx, id, PeriodLocked, actor)
}

func (s *Service) ArchivePeriod(ctx context.Context, id, actor string) (Period, error) {
	return s.movePeriod(ctx, id, PeriodArchived, actor)
}

func (s *Service) movePeriod(ctx context.Context, id string, target PeriodState, actor string) (out Period, err error) {
	ctx, span := startSpan(ctx, "MovePeriod", attribute.String("period.id", id), attribute.String("period.target", string(target)))
	defer func() { endSpan(span, err) }()

	changed := false
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		period, err := tx.PeriodForUpdate(ctx, id)
		if err != nil {
			return err
		}
		changed, err = NextPeriodState(period.State, target)
		if err != nil {
			return err
		}
		out = period
		if !changed {
			return nil
		}
		if target == PeriodActive {
			assignments, err := tx.ListAssignments(ctx, id)
			if err != nil {
				return err
			}
			if err := AssertActivatable(period, assignments); err != nil {
				return err
			}
		}
		if err := tx.UpdatePeriodState(ctx, id, target); err != nil {
			return err
		}
		out.State = target
		out.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	if changed {
		s.logger.Info("period state changed",
			zap.String("periodId", id),
			zap.String("state", string(target)),
			zap.String("actor", actor),
		)
	}
	return out, nil
}

// LockEndedPeriods locks every ACTIVE period whose end lies before cutoff.
func (s *Service) LockEndedPeriods(ctx context.Context, cutoff time.Time) (int, error) {
	periods, err := s.store.ListPeriodsEndedBefore(ctx, PeriodActive, cutoff)
	if err != nil {
		return 0, err
	}
	locked := 0
	for _, p := range periods {
		if _, err := s.LockPeriod(ctx, p.ID, "system"); err != nil {
			s.logger.Warn("period auto lock failed", zap.String("periodId", p.ID), zap.Error(err))
			continue
		}
		locked++
	}
	return locked, nil
}

func (s *Service) CreateKPIDefinition(ctx context.Context, def KPIDefinition) (out KPIDefinition, err error) {
	ctx, span := startSpan(ctx, "CreateKPIDefinition")
	defer func() { endSpan(span, err) }()

	def.Code = strings.TrimSpace(def.Code)
	def.Name = strings.TrimSpace(def.Name)
	if def.Code == "" || def.Name == "" {
		return KPIDefinition{}, fmt.Errorf("%w: kpi code and name are required", ErrInvalidInput)
	}
	if err := def.Formula.Validate(); err != nil {
		return KPIDefinition{}, err
	}
	now := s.now()
	def.ID = s.newID()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.store.CreateKPIDefinition(ctx, def); err != nil {
		return KPIDefinition{}, err
	}
	return def, nil
}

// UpdateKPIDefinition replaces name, unit and formula while no non-draft
// period references the definition.
func (s *Service) UpdateKPIDefinition(ctx context.Context, def KPIDefinition) (out KPIDefinition, err error) {
	ctx, span := startSpan(ctx, "UpdateKPIDefinition", attribute.String("kpi.id", def.ID))
	defer func() { endSpan(span, err) }()

	if err := def.Formula.Validate(); err != nil {
		return KPIDefinition{}, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		defs, err := tx.KPIDefinitions(ctx, []string{def.ID})
		if err != nil {
			return err
		}
		current, ok := defs[def.ID]
		if !ok {
			return fmt.Errorf("%w: kpi definition %s", ErrNotFound, def.ID)
		}
		inUse, err := tx.DefinitionInUse(ctx, def.ID)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: %s", ErrDefinitionInUse, current.Code)
		}
		out = current
		if name := strings.TrimSpace(def.Name); name != "" {
			out.Name = name
		}
		out.Unit = def.Unit
		out.Formula = def.Formula
		out.UpdatedAt = s.now()
		return tx.UpdateKPIDefinition(ctx, out)
	})
	if err != nil {
		return KPIDefinition{}, err
	}
	return out, nil
}

// AttachAssignment binds a definition to a scope while the period is DRAFT and
// returns the period's weight sums after the change.
func (s *Service) AttachAssignment(ctx context.Context, a Assignment) (out Assignment, summary []WeightSummary, err error) {
	ctx, span := startSpan(ctx, "AttachAssignment", attribute.String("period.id", a.PeriodID))
	defer func() { endSpan(span, err) }()

	if !a.Scope.Valid() {
		return Assignment{}, nil, fmt.Errorf("%w: assignment needs an employee or department scope", ErrInvalidInput)
	}
	if a.Weight.IsNegative() || a.Weight.GreaterThan(hundred) {
		return Assignment{}, nil, fmt.Errorf("%w: weight must be between 0 and 100", ErrInvalidInput)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		period, err := tx.PeriodForShare(ctx, a.PeriodID)
		if err != nil {
			return err
		}
		if period.State != PeriodDraft {
			return fmt.Errorf("%w: assignments can only change while the period is DRAFT", ErrPeriodNotMutable)
		}
		defs, err := tx.KPIDefinitions(ctx, []string{a.KPIDefinitionID})
		if err != nil {
			return err
		}
		def, ok := defs[a.KPIDefinitionID]
		if !ok {
			return fmt.Errorf("%w: kpi definition %s", ErrNotFound, a.KPIDefinitionID)
		}
		if err := checkTarget(def.Formula, a.Target); err != nil {
			return err
		}

		existing, err := tx.ListAssignments(ctx, a.PeriodID)
		if err != nil {
			return err
		}
		a.ID = s.newID()
		a.Active = true
		a.CreatedAt = s.now()
		if err := tx.InsertAssignment(ctx, a); err != nil {
			return err
		}
		summary = WeightSummaries(a.PeriodID, append(existing, a))
		out = a
		return nil
	})
	if err != nil {
		return Assignment{}, nil, err
	}
	return out, summary, nil
}

func checkTarget(f scoring.Formula, target decimal.Decimal) error {
	if (f.Type == scoring.FormulaPositive || f.Type == scoring.FormulaNegative) && !target.IsPositive() {
		return fmt.Errorf("%w: %s formula needs target > 0", ErrInvalidFormulaConfig, f.Type)
	}
	return nil
}

func (s *Service) WeightSummary(ctx context.Context, periodID string) ([]WeightSummary, error) {
	if _, err := s.store.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	assignments, err := s.store.ListAssignments(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return WeightSummaries(periodID, assignments), nil
}

func (s *Service) CreateSubmission(ctx context.Context, periodID string, scope Scope, dataSource, actor string) (out Outcome, err error) {
	ctx, span := startSpan(ctx, "CreateSubmission", attribute.String("period.id", periodID))
	defer func() { endSpan(span, err) }()

	if !scope.Valid() {
		return Outcome{}, fmt.Errorf("%w: submission needs an employee or department scope", ErrInvalidInput)
	}
	if dataSource == "" {
		dataSource = DataSourceManual
	}
	pipeline := DefaultPipeline
	if s.pipelines != nil {
		resolved, err := s.pipelines.PipelineFor(ctx, periodID, scope)
		if err != nil {
			return Outcome{}, err
		}
		if len(resolved) > 0 {
			pipeline = resolved
		}
	}
	if err := pipeline.Validate(); err != nil {
		return Outcome{}, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		period, err := tx.PeriodForShare(ctx, periodID)
		if err != nil {
			return err
		}
		if err := AssertMutable(period); err != nil {
			return err
		}
		now := s.now()
		sub := Submission{
			ID:         s.newID(),
			PeriodID:   periodID,
			Scope:      scope,
			DataSource: dataSource,
			Version:    1,
			Revision:   1,
			Status:     StatusDraft,
			Pipeline:   append(Pipeline(nil), pipeline...),
			CreatedBy:  actor,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		result := ScoreResult{SubmissionID: sub.ID, Revision: sub.Revision, Employees: []EmployeeScore{}, ComputedAt: now}
		if err := s.persistScore(ctx, tx, EventCreated, sub, result, actor); err != nil {
			return err
		}
		out = Outcome{Submission: sub, Score: result}
		return nil
	})
	if err != nil {
		return Outcome{}, s.conflict(err)
	}
	s.committed(ctx, EventCreated, Submission{}, out.Submission, actor, "")
	return out, nil
}

// BulkEnterData upserts entries keyed by assignment and employee, then
// recomputes and caches the submission's score. Scoring runs before any write
// so formula errors leave stored state untouched.
func (s *Service) BulkEnterData(ctx context.Context, submissionID string, inputs []EntryInput, actor string, expected int64) (out Outcome, err error) {
	ctx, span := startSpan(ctx, "BulkEnterData", attribute.String("submission.id", submissionID), attribute.Int("entries", len(inputs)))
	defer func() { endSpan(span, err) }()

	if len(inputs) == 0 {
		return Outcome{}, fmt.Errorf("%w: no entries supplied", ErrInvalidInput)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		sub, err := s.loadSubmission(ctx, tx, submissionID, expected)
		if err != nil {
			return err
		}
		period, err := tx.PeriodForShare(ctx, sub.PeriodID)
		if err != nil {
			return err
		}
		if err := AssertMutable(period); err != nil {
			return err
		}
		if sub.Status != StatusDraft {
			return fmt.Errorf("%w: entries are frozen once the submission is %s", ErrInvalidTransition, sub.Status)
		}
		existing, err := tx.ListDataEntries(ctx, sub.ID)
		if err != nil {
			return err
		}
		merged, changed, err := s.mergeEntries(sub, existing, inputs)
		if err != nil {
			return err
		}
		result, err := s.computeScore(ctx, tx, sub, merged)
		if err != nil {
			return err
		}

		sub.UpdatedAt = s.now()
		saved, err := tx.CompareAndSwapSubmission(ctx, sub, sub.Revision)
		if err != nil {
			return err
		}
		if err := tx.UpsertDataEntries(ctx, changed); err != nil {
			return err
		}
		result.Revision = saved.Revision
		if err := s.persistScore(ctx, tx, EventEntriesUpdated, saved, result, actor); err != nil {
			return err
		}
		out = Outcome{Submission: saved, Score: result}
		return nil
	})
	if err != nil {
		return Outcome{}, s.conflict(err)
	}
	if s.recorder != nil {
		s.recorder.RecordTransition(EventEntriesUpdated)
	}
	return out, nil
}

func (s *Service) mergeEntries(sub Submission, existing []DataEntry, inputs []EntryInput) ([]DataEntry, []DataEntry, error) {
	byKey := make(map[string]DataEntry, len(existing)+len(inputs))
	order := make([]string, 0, len(existing)+len(inputs))
	for _, entry := range existing {
		key := entryKey(entry.AssignmentID, entry.EmployeeID)
		byKey[key] = entry
		order = append(order, key)
	}

	now := s.now()
	changed := make([]DataEntry, 0, len(inputs))
	seen := map[string]int{}
	for _, in := range inputs {
		assignmentID := strings.TrimSpace(in.AssignmentID)
		if assignmentID == "" {
			return nil, nil, fmt.Errorf("%w: entry needs an assignment id", ErrInvalidInput)
		}
		employeeID := strings.TrimSpace(in.EmployeeID)
		if employeeID == "" {
			employeeID = sub.Scope.EmployeeID
		}
		key := entryKey(assignmentID, employeeID)
		entry, ok := byKey[key]
		if !ok {
			entry = DataEntry{ID: s.newID(), SubmissionID: sub.ID, AssignmentID: assignmentID, EmployeeID: employeeID}
			order = append(order, key)
		}
		entry.Actual = in.Actual
		entry.Remark = in.Remark
		entry.UpdatedAt = now
		byKey[key] = entry

		if idx, dup := seen[key]; dup {
			changed[idx] = entry
			continue
		}
		seen[key] = len(changed)
		changed = append(changed, entry)
	}

	merged := make([]DataEntry, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	return merged, changed, nil
}

func (s *Service) Submit(ctx context.Context, submissionID, actor string, expected int64) (Outcome, error) {
	return s.transition(ctx, "Submit", EventSubmitted, submissionID, actor, "", expected,
		func(_ context.Context, period Period, sub Submission, entries []DataEntry) (Submission, error) {
			return s.machine.Submit(period, sub, entries, actor)
		})
}

func (s *Service) Approve(ctx context.Context, submissionID, approverID string, expected int64) (Outcome, error) {
	return s.transition(ctx, "Approve", EventAdvanced, submissionID, approverID, "", expected,
		func(ctx context.Context, period Period, sub Submission, _ []DataEntry) (Submission, error) {
			return s.machine.Approve(ctx, period, sub, approverID, s.gate)
		})
}

func (s *Service) Reject(ctx context.Context, submissionID, actor, reason string, expected int64) (Outcome, error) {
	return s.transition(ctx, "Reject", EventRejected, submissionID, actor, reason, expected,
		func(ctx context.Context, period Period, sub Submission, _ []DataEntry) (Submission, error) {
			return s.machine.Reject(ctx, period, sub, actor, reason, s.gate)
		})
}

func (s *Service) ReturnSubmission(ctx context.Context, submissionID, actor string, expected int64) (Outcome, error) {
	return s.transition(ctx, "Return", EventReturned, submissionID, actor, "", expected,
		func(ctx context.Context, period Period, sub Submission, _ []DataEntry) (Submission, error) {
			return s.machine.Return(ctx, period, sub, actor, s.gate)
		})
}

type applyFunc func(ctx context.Context, period Period, sub Submission, entries []DataEntry) (Submission, error)

// transition runs one state machine step and snapshots the score it produced,
// all under a single revision check.
func (s *Service) transition(ctx context.Context, op, event, submissionID, actor, reason string, expected int64, apply applyFunc) (out Outcome, err error) {
	ctx, span := startSpan(ctx, op, attribute.String("submission.id", submissionID))
	defer func() { endSpan(span, err) }()

	var before Submission
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		sub, err := s.loadSubmission(ctx, tx, submissionID, expected)
		if err != nil {
			return err
		}
		period, err := tx.PeriodForShare(ctx, sub.PeriodID)
		if err != nil {
			return err
		}
		entries, err := tx.ListDataEntries(ctx, sub.ID)
		if err != nil {
			return err
		}
		next, err := apply(ctx, period, sub, entries)
		if err != nil {
			return err
		}
		result, err := s.computeScore(ctx, tx, next, entries)
		if err != nil {
			return err
		}
		saved, err := tx.CompareAndSwapSubmission(ctx, next, sub.Revision)
		if err != nil {
			return err
		}
		result.Revision = saved.Revision
		if event == EventAdvanced && saved.Status == StatusApproved {
			event = EventApproved
		}
		if err := s.persistScore(ctx, tx, event, saved, result, actor); err != nil {
			return err
		}
		before = sub
		out = Outcome{Submission: saved, Score: result}
		return nil
	})
	if err != nil {
		return Outcome{}, s.conflict(err)
	}
	s.committed(ctx, event, before, out.Submission, actor, reason)
	return out, nil
}

func (s *Service) Resubmit(ctx context.Context, submissionID, actor string, expected int64) (out Outcome, err error) {
	ctx, span := startSpan(ctx, "Resubmit", attribute.String("submission.id", submissionID))
	defer func() { endSpan(span, err) }()

	var before Submission
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxAPI) error {
		sub, err := s.loadSubmission(ctx, tx, submissionID, expected)
		if err != nil {
			return err
		}
		period, err := tx.PeriodForShare(ctx, sub.PeriodID)
		if err != nil {
			return err
		}
		entries, err := tx.ListDataEntries(ctx, sub.ID)
		if err != nil {
			return err
		}
		next, copies, err := s.machine.Resubmit(period, sub, entries, actor)
		if err != nil {
			return err
		}
		// a racing resubmit that commits after this check still fails on previous_id
		resubmitted, err := tx.HasSuccessor(ctx, sub.ID)
		if err != nil {
			return err
		}
		if resubmitted {
			return fmt.Errorf("%w: version %d was already resubmitted", ErrInvalidTransition, sub.Version)
		}
		result, err := s.computeScore(ctx, tx, next, copies)
		if err != nil {
			return err
		}
		if err := tx.InsertSubmission(ctx, next); err != nil {
			return err
		}
		if len(copies) > 0 {
			if err := tx.UpsertDataEntries(ctx, copies); err != nil {
				return err
			}
		}
		if err := s.persistScore(ctx, tx, EventResubmitted, next, result, actor); err != nil {
			return err
		}
		before = sub
		out = Outcome{Submission: next, Score: result}
		return nil
	})
	if err != nil {
		return Outcome{}, s.conflict(err)
	}
	s.committed(ctx, EventResubmitted, before, out.Submission, actor, "")
	return out, nil
}

func (s *Service) GetSubmission(ctx context.Context, id string) (Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

func (s *Service) ListDataEntries(ctx context.Context, submissionID string) ([]DataEntry, error) {
	if _, err := s.store.GetSubmission(ctx, submissionID); err != nil {
		return nil, err
	}
	return s.store.ListDataEntries(ctx, submissionID)
}

func (s *Service) Scores(ctx context.Context, submissionID string) (ScoreResult, error) {
	return s.store.GetScoreResult(ctx, submissionID)
}

// History walks the resubmission chain back to version 1 and returns it
// oldest first, with the snapshots of the requested submission.
func (s *Service) History(ctx context.Context, submissionID string) (History, error) {
	var lineage []Submission
	id := submissionID
	for id != "" && len(lineage) < 1000 {
		sub, err := s.store.GetSubmission(ctx, id)
		if err != nil {
			return History{}, err
		}
		lineage = append(lineage, sub)
		id = sub.PreviousID
	}
	sort.Slice(lineage, func(i, j int) bool { return lineage[i].Version < lineage[j].Version })

	snapshots, err := s.store.ListSnapshots(ctx, submissionID)
	if err != nil {
		return History{}, err
	}
	return History{Lineage: lineage, Snapshots: snapshots}, nil
}

func (s *Service) loadSubmission(ctx context.Context, tx TxAPI, id string, expected int64) (Submission, error) {
	sub, err := tx.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if expected > 0 && sub.Revision != expected {
		return Submission{}, fmt.Errorf("%w: submission %s is at revision %d, not %d", ErrConcurrentModification, id, sub.Revision, expected)
	}
	return sub, nil
}

// computeScore evaluates every entry with an actual value and aggregates per
// employee. Entries for deactivated assignments are skipped.
func (s *Service) computeScore(ctx context.Context, tx TxAPI, sub Submission, entries []DataEntry) (ScoreResult, error) {
	result := ScoreResult{SubmissionID: sub.ID, Revision: sub.Revision, Employees: []EmployeeScore{}, ComputedAt: s.now()}

	assignments, err := tx.ListAssignments(ctx, sub.PeriodID)
	if err != nil {
		return result, err
	}
	byID := make(map[string]Assignment, len(assignments))
	defIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a
		defIDs = append(defIDs, a.KPIDefinitionID)
	}
	for _, entry := range entries {
		if _, ok := byID[entry.AssignmentID]; !ok {
			return result, fmt.Errorf("%w: %s", ErrUnknownAssignment, entry.AssignmentID)
		}
	}
	defs, err := tx.KPIDefinitions(ctx, defIDs)
	if err != nil {
		return result, err
	}

	grouped := map[string][]scoring.WeightedScore{}
	for _, entry := range entries {
		a := byID[entry.AssignmentID]
		if entry.Actual == nil || !a.Active {
			continue
		}
		def, ok := defs[a.KPIDefinitionID]
		if !ok {
			return result, fmt.Errorf("%w: kpi definition %s", ErrNotFound, a.KPIDefinitionID)
		}
		score, err := s.evaluator.Evaluate(def.Formula, scoring.Input{
			Actual:    *entry.Actual,
			Target:    a.Target,
			Challenge: a.Challenge,
		})
		if err != nil {
			return result, fmt.Errorf("kpi %s: %w", def.Code, err)
		}
		grouped[entry.EmployeeID] = append(grouped[entry.EmployeeID], scoring.WeightedScore{
			AssignmentID: a.ID,
			Weight:       a.Weight,
			Score:        score,
		})
	}

	employees := make([]string, 0, len(grouped))
	for employeeID := range grouped {
		employees = append(employees, employeeID)
	}
	sort.Strings(employees)
	for _, employeeID := range employees {
		agg := scoring.AggregateScores(grouped[employeeID])
		result.Employees = append(result.Employees, EmployeeScore{
			EmployeeID:    employeeID,
			Contributions: agg.Contributions,
			TotalScore:    agg.TotalScore,
			WeightSum:     agg.WeightSum,
			Complete:      agg.Complete(),
		})
	}
	return result, nil
}

func (s *Service) persistScore(ctx context.Context, tx TxAPI, event string, sub Submission, result ScoreResult, actor string) error {
	if err := tx.SaveScoreResult(ctx, result); err != nil {
		return err
	}
	return tx.AppendSnapshot(ctx, ScoreSnapshot{
		ID:           s.newID(),
		SubmissionID: sub.ID,
		Event:        event,
		Status:       sub.Status,
		Stage:        sub.Stage,
		Version:      sub.Version,
		Revision:     sub.Revision,
		Actor:        actor,
		Result:       result,
		CreatedAt:    s.now(),
	})
}

func (s *Service) conflict(err error) error {
	if errors.Is(err, ErrConcurrentModification) && s.recorder != nil {
		s.recorder.RecordConflict()
	}
	return err
}

// committed runs after the transaction. Nothing here can undo the transition.
func (s *Service) committed(ctx context.Context, event string, before, after Submission, actor, reason string) {
	s.logger.Info("submission transition",
		zap.String("event", event),
		zap.String("submissionId", after.ID),
		zap.String("status", string(after.Status)),
		zap.String("stage", after.Stage.String()),
		zap.Int64("revision", after.Revision),
		zap.Int("version", after.Version),
		zap.String("actor", actor),
	)
	if s.recorder != nil {
		s.recorder.RecordTransition(event)
	}
	if s.notifier == nil {
		return
	}

	recipient := after.SubmittedBy
	if recipient == "" {
		recipient = after.CreatedBy
	}
	s.notifier.Notify(ctx, Event{
		ID:             ulid.Make().String(),
		Type:           event,
		SubmissionID:   after.ID,
		PeriodID:       after.PeriodID,
		Scope:          after.Scope,
		Version:        after.Version,
		Status:         after.Status,
		PreviousStatus: before.Status,
		Stage:          after.Stage,
		PreviousStage:  before.Stage,
		Actor:          actor,
		Recipient:      recipient,
		Reason:         reason,
		OccurredAt:     s.now(),
	})
}
