package appraisal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"appraisal/internal/domain/scoring"
)

const periodColumns = `id::text, name, starts_on, ends_on, state, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var state string
	if err := row.Scan(&p.ID, &p.Name, &p.StartsOn, &p.EndsOn, &state, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	p.State = PeriodState(state)
	return p, nil
}

func (s *Store) CreatePeriod(ctx context.Context, p Period) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO assessment_periods (id, name, starts_on, ends_on, state, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
  `, p.ID, p.Name, p.StartsOn, p.EndsOn, string(p.State), p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) GetPeriod(ctx context.Context, id string) (Period, error) {
	return getPeriod(ctx, s.DB, id, "")
}

func getPeriod(ctx context.Context, q querier, id, lock string) (Period, error) {
	if !validID(id) {
		return Period{}, fmt.Errorf("%w: period %s", ErrNotFound, id)
	}
	p, err := scanPeriod(q.QueryRow(ctx, `SELECT `+periodColumns+` FROM assessment_periods WHERE id = $1 `+lock, id))
	if err != nil {
		return Period{}, notFound(err, "period", id)
	}
	return p, nil
}

func (s *Store) ListPeriodsEndedBefore(ctx context.Context, state PeriodState, before time.Time) ([]Period, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+periodColumns+`
    FROM assessment_periods
    WHERE state = $1 AND ends_on < $2
    ORDER BY ends_on
  `, string(state), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListAssignments(ctx context.Context, periodID string) ([]Assignment, error) {
	return listAssignments(ctx, s.DB, periodID)
}

func listAssignments(ctx context.Context, q querier, periodID string) ([]Assignment, error) {
	if !validID(periodID) {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
    SELECT id::text, period_id::text, kpi_definition_id::text, COALESCE(employee_id, ''), COALESCE(department_id, ''),
           target_value::text, challenge_value::text, weight::text, active, created_at
    FROM kpi_assignments
    WHERE period_id = $1
    ORDER BY created_at, id
  `, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		var target, weight string
		var challenge *string
		if err := rows.Scan(&a.ID, &a.PeriodID, &a.KPIDefinitionID, &a.Scope.EmployeeID, &a.Scope.DepartmentID,
			&target, &challenge, &weight, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Target, err = decimal.NewFromString(target); err != nil {
			return nil, err
		}
		if a.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, err
		}
		if a.Challenge, err = parseNullDecimal(challenge); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateKPIDefinition(ctx context.Context, def KPIDefinition) error {
	steps, err := json.Marshal(def.Formula.Steps)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    INSERT INTO kpi_definitions (id, code, name, unit, formula_type, score_cap, score_floor, steps_json, custom_key, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9,$10,$11)
  `, def.ID, def.Code, def.Name, nullIfEmpty(def.Unit), string(def.Formula.Type), def.Formula.Cap.String(), def.Formula.Floor.String(),
		steps, nullIfEmpty(def.Formula.CustomKey), def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *Store) GetKPIDefinition(ctx context.Context, id string) (KPIDefinition, error) {
	defs, err := kpiDefinitions(ctx, s.DB, []string{id})
	if err != nil {
		return KPIDefinition{}, err
	}
	def, ok := defs[id]
	if !ok {
		return KPIDefinition{}, fmt.Errorf("%w: kpi definition %s", ErrNotFound, id)
	}
	return def, nil
}

func kpiDefinitions(ctx context.Context, q querier, ids []string) (map[string]KPIDefinition, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	out := make(map[string]KPIDefinition, len(valid))
	if len(valid) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
    SELECT id::text, code, name, COALESCE(unit, ''), formula_type, score_cap::text, score_floor::text,
           steps_json, COALESCE(custom_key, ''), created_at, updated_at
    FROM kpi_definitions
    WHERE id = ANY($1::text[]::uuid[])
  `, valid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var def KPIDefinition
		var formulaType, capRaw, floorRaw string
		var steps []byte
		if err := rows.Scan(&def.ID, &def.Code, &def.Name, &def.Unit, &formulaType, &capRaw, &floorRaw,
			&steps, &def.Formula.CustomKey, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		def.Formula.Type = scoring.FormulaType(formulaType)
		if def.Formula.Cap, err = decimal.NewFromString(capRaw); err != nil {
			return nil, err
		}
		if def.Formula.Floor, err = decimal.NewFromString(floorRaw); err != nil {
			return nil, err
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &def.Formula.Steps); err != nil {
				return nil, err
			}
		}
		out[def.ID] = def
	}
	return out, rows.Err()
}

const submissionColumns = `id::text, period_id::text, COALESCE(employee_id, ''), COALESCE(department_id, ''), data_source,
  version, revision, status, stage, pipeline, COALESCE(reject_reason, ''), COALESCE(submitted_by, ''), submitted_at,
  COALESCE(approved_by, ''), approved_at, COALESCE(previous_id::text, ''), COALESCE(created_by, ''), created_at, updated_at`

func scanSubmission(row pgx.Row) (Submission, error) {
	var sub Submission
	var status, stage string
	var pipeline []string
	if err := row.Scan(&sub.ID, &sub.PeriodID, &sub.Scope.EmployeeID, &sub.Scope.DepartmentID, &sub.DataSource,
		&sub.Version, &sub.Revision, &status, &stage, &pipeline, &sub.RejectReason, &sub.SubmittedBy, &sub.SubmittedAt,
		&sub.ApprovedBy, &sub.ApprovedAt, &sub.PreviousID, &sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return Submission{}, err
	}
	sub.Status = Status(status)
	parsed, err := ParseStage(stage)
	if err != nil {
		return Submission{}, err
	}
	sub.Stage = parsed
	if sub.Pipeline, err = ParsePipeline(pipeline); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (Submission, error) {
	return getSubmission(ctx, s.DB, id)
}

func getSubmission(ctx context.Context, q querier, id string) (Submission, error) {
	if !validID(id) {
		return Submission{}, fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}
	sub, err := scanSubmission(q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		return Submission{}, notFound(err, "submission", id)
	}
	return sub, nil
}

func (s *Store) ListDataEntries(ctx context.Context, submissionID string) ([]DataEntry, error) {
	return listDataEntries(ctx, s.DB, submissionID)
}

func listDataEntries(ctx context.Context, q querier, submissionID string) ([]DataEntry, error) {
	if !validID(submissionID) {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
    SELECT id::text, submission_id::text, assignment_id::text, employee_id, actual_value::text, COALESCE(remark, ''), updated_at
    FROM data_entries
    WHERE submission_id = $1
    ORDER BY assignment_id, employee_id
  `, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DataEntry
	for rows.Next() {
		var entry DataEntry
		var actual *string
		if err := rows.Scan(&entry.ID, &entry.SubmissionID, &entry.AssignmentID, &entry.EmployeeID, &actual, &entry.Remark, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		if entry.Actual, err = parseNullDecimal(actual); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) GetScoreResult(ctx context.Context, submissionID string) (ScoreResult, error) {
	if !validID(submissionID) {
		return ScoreResult{}, fmt.Errorf("%w: score for submission %s", ErrNotFound, submissionID)
	}
	var raw []byte
	if err := s.DB.QueryRow(ctx, `SELECT result_json FROM score_results WHERE submission_id = $1`, submissionID).Scan(&raw); err != nil {
		return ScoreResult{}, notFound(err, "score for submission", submissionID)
	}
	var result ScoreResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ScoreResult{}, err
	}
	return result, nil
}

func (s *Store) ListSnapshots(ctx context.Context, submissionID string) ([]ScoreSnapshot, error) {
	if !validID(submissionID) {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
    SELECT id::text, submission_id::text, event, status, stage, version, revision, COALESCE(actor, ''), result_json, created_at
    FROM score_snapshots
    WHERE submission_id = $1
    ORDER BY created_at, revision
  `, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreSnapshot
	for rows.Next() {
		var snap ScoreSnapshot
		var status, stage string
		var raw []byte
		if err := rows.Scan(&snap.ID, &snap.SubmissionID, &snap.Event, &status, &stage, &snap.Version, &snap.Revision, &snap.Actor, &raw, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snap.Status = Status(status)
		if snap.Stage, err = ParseStage(stage); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &snap.Result); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (t *pgTx) PeriodForShare(ctx context.Context, id string) (Period, error) {
	return getPeriod(ctx, t.tx, id, "FOR SHARE")
}

func (t *pgTx) PeriodForUpdate(ctx context.Context, id string) (Period, error) {
	return getPeriod(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) UpdatePeriodState(ctx context.Context, id string, state PeriodState) error {
	_, err := t.tx.Exec(ctx, `UPDATE assessment_periods SET state = $1, updated_at = now() WHERE id = $2`, string(state), id)
	return err
}

func (t *pgTx) ListAssignments(ctx context.Context, periodID string) ([]Assignment, error) {
	return listAssignments(ctx, t.tx, periodID)
}

func (t *pgTx) InsertAssignment(ctx context.Context, a Assignment) error {
	var challenge any
	if a.Challenge != nil {
		challenge = a.Challenge.String()
	}
	_, err := t.tx.Exec(ctx, `
    INSERT INTO kpi_assignments (id, period_id, kpi_definition_id, employee_id, department_id, target_value, challenge_value, weight, active, created_at)
    VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9,$10)
  `, a.ID, a.PeriodID, a.KPIDefinitionID, nullIfEmpty(a.Scope.EmployeeID), nullIfEmpty(a.Scope.DepartmentID),
		a.Target.String(), challenge, a.Weight.String(), a.Active, a.CreatedAt)
	return err
}

func (t *pgTx) KPIDefinitions(ctx context.Context, ids []string) (map[string]KPIDefinition, error) {
	return kpiDefinitions(ctx, t.tx, ids)
}

func (t *pgTx) DefinitionInUse(ctx context.Context, id string) (bool, error) {
	var inUse bool
	err := t.tx.QueryRow(ctx, `
    SELECT EXISTS (
      SELECT 1
      FROM kpi_assignments a
      JOIN assessment_periods p ON p.id = a.period_id
      WHERE a.kpi_definition_id = $1 AND p.state <> 'DRAFT'
    )
  `, id).Scan(&inUse)
	return inUse, err
}

func (t *pgTx) UpdateKPIDefinition(ctx context.Context, def KPIDefinition) error {
	steps, err := json.Marshal(def.Formula.Steps)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
    UPDATE kpi_definitions
    SET name = $1, unit = $2, formula_type = $3, score_cap = $4::numeric, score_floor = $5::numeric,
        steps_json = $6, custom_key = $7, updated_at = $8
    WHERE id = $9
  `, def.Name, nullIfEmpty(def.Unit), string(def.Formula.Type), def.Formula.Cap.String(), def.Formula.Floor.String(),
		steps, nullIfEmpty(def.Formula.CustomKey), def.UpdatedAt, def.ID)
	return err
}

func (t *pgTx) GetSubmission(ctx context.Context, id string) (Submission, error) {
	return getSubmission(ctx, t.tx, id)
}

func (t *pgTx) InsertSubmission(ctx context.Context, sub Submission) error {
	_, err := t.tx.Exec(ctx, `
    INSERT INTO submissions (id, period_id, employee_id, department_id, data_source, version, revision, status, stage, pipeline,
                             previous_id, created_by, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
  `, sub.ID, sub.PeriodID, nullIfEmpty(sub.Scope.EmployeeID), nullIfEmpty(sub.Scope.DepartmentID), sub.DataSource,
		sub.Version, sub.Revision, string(sub.Status), sub.Stage.String(), sub.pipeline().Strings(),
		nullIfEmpty(sub.PreviousID), nullIfEmpty(sub.CreatedBy), sub.CreatedAt, sub.UpdatedAt)
	return mapPgError(err)
}

func (t *pgTx) HasSuccessor(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM submissions WHERE previous_id = $1)`, id).Scan(&exists)
	return exists, err
}

// CompareAndSwapSubmission writes the lifecycle fields only if the stored
// revision still equals expected. Zero rows means another writer got there first.
func (t *pgTx) CompareAndSwapSubmission(ctx context.Context, sub Submission, expected int64) (Submission, error) {
	tag, err := t.tx.Exec(ctx, `
    UPDATE submissions
    SET status = $1, stage = $2, reject_reason = $3, submitted_by = $4, submitted_at = $5,
        approved_by = $6, approved_at = $7, updated_at = $8, revision = revision + 1
    WHERE id = $9 AND revision = $10
  `, string(sub.Status), sub.Stage.String(), nullIfEmpty(sub.RejectReason), nullIfEmpty(sub.SubmittedBy), sub.SubmittedAt,
		nullIfEmpty(sub.ApprovedBy), sub.ApprovedAt, sub.UpdatedAt, sub.ID, expected)
	if err != nil {
		return Submission{}, err
	}
	if tag.RowsAffected() == 0 {
		return Submission{}, ErrConcurrentModification
	}
	sub.Revision = expected + 1
	return sub, nil
}

func (t *pgTx) ListDataEntries(ctx context.Context, submissionID string) ([]DataEntry, error) {
	return listDataEntries(ctx, t.tx, submissionID)
}

func (t *pgTx) UpsertDataEntries(ctx context.Context, entries []DataEntry) error {
	batch := &pgx.Batch{}
	for _, entry := range entries {
		var actual any
		if entry.Actual != nil {
			actual = entry.Actual.String()
		}
		batch.Queue(`
      INSERT INTO data_entries (id, submission_id, assignment_id, employee_id, actual_value, remark, updated_at)
      VALUES ($1,$2,$3,$4,$5::numeric,$6,$7)
      ON CONFLICT (submission_id, assignment_id, employee_id)
      DO UPDATE SET actual_value = EXCLUDED.actual_value, remark = EXCLUDED.remark, updated_at = EXCLUDED.updated_at
    `, entry.ID, entry.SubmissionID, entry.AssignmentID, entry.EmployeeID, actual, nullIfEmpty(entry.Remark), entry.UpdatedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) SaveScoreResult(ctx context.Context, result ScoreResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
    INSERT INTO score_results (submission_id, revision, result_json, computed_at)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (submission_id)
    DO UPDATE SET revision = EXCLUDED.revision, result_json = EXCLUDED.result_json, computed_at = EXCLUDED.computed_at
  `, result.SubmissionID, result.Revision, payload, result.ComputedAt)
	return err
}

func (t *pgTx) AppendSnapshot(ctx context.Context, snap ScoreSnapshot) error {
	payload, err := json.Marshal(snap.Result)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
    INSERT INTO score_snapshots (id, submission_id, event, status, stage, version, revision, actor, result_json, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
  `, snap.ID, snap.SubmissionID, snap.Event, string(snap.Status), snap.Stage.String(), snap.Version, snap.Revision,
		nullIfEmpty(snap.Actor), payload, snap.CreatedAt)
	return err
}

func parseNullDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
