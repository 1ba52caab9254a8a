package appraisal

import (
	"time"

	"github.com/shopspring/decimal"

	"appraisal/internal/domain/scoring"
)

type Period struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	StartsOn  time.Time   `json:"startsOn"`
	EndsOn    time.Time   `json:"endsOn"`
	State     PeriodState `json:"state"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type KPIDefinition struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit,omitempty"`
	Formula   scoring.Formula `json:"formula"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Scope struct {
	EmployeeID   string `json:"employeeId,omitempty"`
	DepartmentID string `json:"departmentId,omitempty"`
}

// Key identifies the weight-sum bucket of a scope. Employee scope wins when
// both ids are set.
func (s Scope) Key() string {
	if s.EmployeeID != "" {
		return "employee:" + s.EmployeeID
	}
	if s.DepartmentID != "" {
		return "department:" + s.DepartmentID
	}
	return ""
}

func (s Scope) Valid() bool {
	return s.Key() != ""
}

type Assignment struct {
	ID              string           `json:"id"`
	PeriodID        string           `json:"periodId"`
	KPIDefinitionID string           `json:"kpiDefinitionId"`
	Scope           Scope            `json:"scope"`
	Target          decimal.Decimal  `json:"target"`
	Challenge       *decimal.Decimal `json:"challenge,omitempty"`
	Weight          decimal.Decimal  `json:"weight"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"createdAt"`
}

type Submission struct {
	ID           string     `json:"id"`
	PeriodID     string     `json:"periodId"`
	Scope        Scope      `json:"scope"`
	DataSource   string     `json:"dataSource"`
	Version      int        `json:"version"`
	Revision     int64      `json:"revision"`
	Status       Status     `json:"status"`
	Stage        Stage      `json:"approvalStage"`
	Pipeline     Pipeline   `json:"pipeline"`
	RejectReason string     `json:"rejectReason,omitempty"`
	SubmittedBy  string     `json:"submittedBy,omitempty"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
	ApprovedBy   string     `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
	PreviousID   string     `json:"previousId,omitempty"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (s Submission) pipeline() Pipeline {
	if len(s.Pipeline) == 0 {
		return DefaultPipeline
	}
	return s.Pipeline
}

type DataEntry struct {
	ID           string           `json:"id"`
	SubmissionID string           `json:"submissionId"`
	AssignmentID string           `json:"assignmentId"`
	EmployeeID   string           `json:"employeeId,omitempty"`
	Actual       *decimal.Decimal `json:"actual"`
	Remark       string           `json:"remark,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type EntryInput struct {
	AssignmentID string
	EmployeeID   string
	Actual       *decimal.Decimal
	Remark       string
}

type EmployeeScore struct {
	EmployeeID    string                 `json:"employeeId,omitempty"`
	Contributions []scoring.Contribution `json:"contributions"`
	TotalScore    decimal.Decimal        `json:"totalScore"`
	WeightSum     decimal.Decimal        `json:"weightSum"`
	Complete      bool                   `json:"complete"`
}

type ScoreResult struct {
	SubmissionID string          `json:"submissionId"`
	Revision     int64           `json:"revision"`
	Employees    []EmployeeScore `json:"employees"`
	ComputedAt   time.Time       `json:"computedAt"`
}

// ScoreSnapshot freezes the score as it stood at one lifecycle event.
type ScoreSnapshot struct {
	ID           string      `json:"id"`
	SubmissionID string      `json:"submissionId"`
	Event        string      `json:"event"`
	Status       Status      `json:"status"`
	Stage        Stage       `json:"approvalStage"`
	Version      int         `json:"version"`
	Revision     int64       `json:"revision"`
	Actor        string      `json:"actor,omitempty"`
	Result       ScoreResult `json:"result"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type WeightSummary struct {
	ScopeKey    string          `json:"scope"`
	WeightSum   decimal.Decimal `json:"weightSum"`
	Assignments int             `json:"assignments"`
	Valid       bool            `json:"valid"`
}

// Event is handed to the notifier after a transition commits.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	SubmissionID   string    `json:"submissionId"`
	PeriodID       string    `json:"periodId"`
	Scope          Scope     `json:"scope"`
	Version        int       `json:"version"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previousStatus,omitempty"`
	Stage          Stage     `json:"approvalStage"`
	PreviousStage  Stage     `json:"previousStage"`
	Actor          string    `json:"actor,omitempty"`
	Recipient      string    `json:"recipient,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type Outcome struct {
	Submission Submission  `json:"submission"`
	Score      ScoreResult `json:"score"`
}

type History struct {
	Lineage   []Submission    `json:"lineage"`
	Snapshots []ScoreSnapshot `json:"snapshots"`
}
