package appraisal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in maps. Transactions buffer their writes and
// apply them at commit after re-checking every revision they swapped on, so
// readers never see a partial transition.
type MemoryStore struct {
	mu          sync.RWMutex
	periods     map[string]Period
	definitions map[string]KPIDefinition
	assignments map[string]Assignment
	submissions map[string]Submission
	successors  map[string]string
	entries     map[string]map[string]DataEntry
	results     map[string]ScoreResult
	snapshots   map[string][]ScoreSnapshot

	lockMu      sync.Mutex
	periodLocks map[string]*sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		periods:     map[string]Period{},
		definitions: map[string]KPIDefinition{},
		assignments: map[string]Assignment{},
		submissions: map[string]Submission{},
		successors:  map[string]string{},
		entries:     map[string]map[string]DataEntry{},
		results:     map[string]ScoreResult{},
		snapshots:   map[string][]ScoreSnapshot{},
		periodLocks: map[string]*sync.RWMutex{},
	}
}

func entryKey(assignmentID, employeeID string) string {
	return assignmentID + "|" + employeeID
}

func (s *MemoryStore) periodLock(id string) *sync.RWMutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.periodLocks[id]
	if !ok {
		lock = &sync.RWMutex{}
		s.periodLocks[id] = lock
	}
	return lock
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxAPI) error) error {
	tx := &memTx{store: s, held: map[string]bool{}}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) CreatePeriod(_ context.Context, p Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.periods[p.ID]; exists {
		return fmt.Errorf("%w: period %s already exists", ErrInvalidInput, p.ID)
	}
	s.periods[p.ID] = p
	return nil
}

func (s *MemoryStore) GetPeriod(_ context.Context, id string) (Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.periods[id]
	if !ok {
		return Period{}, fmt.Errorf("%w: period %s", ErrNotFound, id)
	}
	return p, nil
}

func (s *MemoryStore) ListPeriodsEndedBefore(_ context.Context, state PeriodState, before time.Time) ([]Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Period
	for _, p := range s.periods {
		if p.State == state && p.EndsOn.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListAssignments(_ context.Context, periodID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignmentsLocked(periodID), nil
}

func (s *MemoryStore) assignmentsLocked(periodID string) []Assignment {
	var out []Assignment
	for _, a := range s.assignments {
		if a.PeriodID == periodID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) CreateKPIDefinition(_ context.Context, def KPIDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.definitions {
		if existing.Code == def.Code {
			return fmt.Errorf("%w: kpi code %s already exists", ErrInvalidInput, def.Code)
		}
	}
	s.definitions[def.ID] = def
	return nil
}

func (s *MemoryStore) GetKPIDefinition(_ context.Context, id string) (KPIDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return KPIDefinition{}, fmt.Errorf("%w: kpi definition %s", ErrNotFound, id)
	}
	return def, nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id string) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submissionLocked(id)
}

func (s *MemoryStore) submissionLocked(id string) (Submission, error) {
	sub, ok := s.submissions[id]
	if !ok {
		return Submission{}, fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}
	return sub, nil
}

func (s *MemoryStore) ListDataEntries(_ context.Context, submissionID string) ([]DataEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked(submissionID), nil
}

func (s *MemoryStore) entriesLocked(submissionID string) []DataEntry {
	rows := s.entries[submissionID]
	out := make([]DataEntry, 0, len(rows))
	for _, entry := range rows {
		if entry.Actual != nil {
			actual := *entry.Actual
			entry.Actual = &actual
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return entryKey(out[i].AssignmentID, out[i].EmployeeID) < entryKey(out[j].AssignmentID, out[j].EmployeeID)
	})
	return out
}

func (s *MemoryStore) GetScoreResult(_ context.Context, submissionID string) (ScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[submissionID]
	if !ok {
		return ScoreResult{}, fmt.Errorf("%w: score for submission %s", ErrNotFound, submissionID)
	}
	return result, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, submissionID string) ([]ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ScoreSnapshot(nil), s.snapshots[submissionID]...), nil
}

type casCheck struct {
	id       string
	expected int64
}

type memTx struct {
	store   *MemoryStore
	held    map[string]bool
	locks   []func()
	checks  []casCheck
	inserts []string
	parents []string
	writes  []func(s *MemoryStore)
}

var errLockUpgrade = errors.New("period lock upgrade inside one transaction")

func (t *memTx) release() {
	for i := len(t.locks) - 1; i >= 0; i-- {
		t.locks[i]()
	}
	t.locks = nil
}

func (t *memTx) lockPeriod(id string, exclusive bool) error {
	if wasExclusive, ok := t.held[id]; ok {
		if exclusive && !wasExclusive {
			return errLockUpgrade
		}
		return nil
	}
	lock := t.store.periodLock(id)
	if exclusive {
		lock.Lock()
		t.locks = append(t.locks, lock.Unlock)
	} else {
		lock.RLock()
		t.locks = append(t.locks, lock.RUnlock)
	}
	t.held[id] = exclusive
	return nil
}

func (t *memTx) PeriodForShare(ctx context.Context, id string) (Period, error) {
	if err := t.lockPeriod(id, false); err != nil {
		return Period{}, err
	}
	return t.store.GetPeriod(ctx, id)
}

func (t *memTx) PeriodForUpdate(ctx context.Context, id string) (Period, error) {
	if err := t.lockPeriod(id, true); err != nil {
		return Period{}, err
	}
	return t.store.GetPeriod(ctx, id)
}

func (t *memTx) UpdatePeriodState(_ context.Context, id string, state PeriodState) error {
	t.writes = append(t.writes, func(s *MemoryStore) {
		p := s.periods[id]
		p.State = state
		p.UpdatedAt = time.Now().UTC()
		s.periods[id] = p
	})
	return nil
}

func (t *memTx) ListAssignments(ctx context.Context, periodID string) ([]Assignment, error) {
	return t.store.ListAssignments(ctx, periodID)
}

func (t *memTx) InsertAssignment(_ context.Context, a Assignment) error {
	t.writes = append(t.writes, func(s *MemoryStore) {
		s.assignments[a.ID] = a
	})
	return nil
}

func (t *memTx) KPIDefinitions(_ context.Context, ids []string) (map[string]KPIDefinition, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make(map[string]KPIDefinition, len(ids))
	for _, id := range ids {
		if def, ok := t.store.definitions[id]; ok {
			out[id] = def
		}
	}
	return out, nil
}

func (t *memTx) DefinitionInUse(_ context.Context, id string) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, a := range t.store.assignments {
		if a.KPIDefinitionID != id {
			continue
		}
		if p, ok := t.store.periods[a.PeriodID]; ok && p.State != PeriodDraft {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpdateKPIDefinition(_ context.Context, def KPIDefinition) error {
	t.writes = append(t.writes, func(s *MemoryStore) {
		s.definitions[def.ID] = def
	})
	return nil
}

func (t *memTx) GetSubmission(ctx context.Context, id string) (Submission, error) {
	return t.store.GetSubmission(ctx, id)
}

func (t *memTx) InsertSubmission(_ context.Context, sub Submission) error {
	t.inserts = append(t.inserts, sub.ID)
	if sub.PreviousID != "" {
		t.parents = append(t.parents, sub.PreviousID)
	}
	t.writes = append(t.writes, func(s *MemoryStore) {
		s.submissions[sub.ID] = sub
		if sub.PreviousID != "" {
			s.successors[sub.PreviousID] = sub.ID
		}
	})
	return nil
}

func (t *memTx) HasSuccessor(_ context.Context, id string) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.successors[id]
	return ok, nil
}

func (t *memTx) CompareAndSwapSubmission(ctx context.Context, sub Submission, expected int64) (Submission, error) {
	current, err := t.store.GetSubmission(ctx, sub.ID)
	if err != nil {
		return Submission{}, err
	}
	if current.Revision != expected {
		return Submission{}, ErrConcurrentModification
	}
	sub.Revision = expected + 1
	t.checks = append(t.checks, casCheck{id: sub.ID, expected: expected})
	saved := sub
	t.writes = append(t.writes, func(s *MemoryStore) {
		s.submissions[saved.ID] = saved
	})
	return saved, nil
}

func (t *memTx) ListDataEntries(ctx context.Context, submissionID string) ([]DataEntry, error) {
	return t.store.ListDataEntries(ctx, submissionID)
}

func (t *memTx) UpsertDataEntries(_ context.Context, entries []DataEntry) error {
	rows := append([]DataEntry(nil), entries...)
	t.writes = append(t.writes, func(s *MemoryStore) {
		for _, entry := range rows {
			bucket, ok := s.entries[entry.SubmissionID]
			if !ok {
				bucket = map[string]DataEntry{}
				s.entries[entry.SubmissionID] = bucket
			}
			key := entryKey(entry.AssignmentID, entry.EmployeeID)
			if existing, ok := bucket[key]; ok {
				entry.ID = existing.ID
			}
			bucket[key] = entry
		}
	})
	return nil
}

func (t *memTx) SaveScoreResult(_ context.Context, result ScoreResult) error {
	t.writes = append(t.writes, func(s *MemoryStore) {
		s.results[result.SubmissionID] = result
	})
	return nil
}

func (t *memTx) AppendSnapshot(_ context.Context, snap ScoreSnapshot) error {
	t.writes = append(t.writes, func(s *MemoryStore) {
		s.snapshots[snap.SubmissionID] = append(s.snapshots[snap.SubmissionID], snap)
	})
	return nil
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, check := range t.checks {
		current, ok := s.submissions[check.id]
		if !ok || current.Revision != check.expected {
			return ErrConcurrentModification
		}
	}
	for _, id := range t.inserts {
		if _, exists := s.submissions[id]; exists {
			return fmt.Errorf("%w: submission %s already exists", ErrConcurrentModification, id)
		}
	}
	for _, parent := range t.parents {
		if _, taken := s.successors[parent]; taken {
			return fmt.Errorf("%w: submission %s was already resubmitted", ErrConcurrentModification, parent)
		}
	}
	for _, write := range t.writes {
		write(s)
	}
	return nil
}
