package appraisal

type PeriodState string

const (
	PeriodDraft    PeriodState = "DRAFT"
	PeriodActive   PeriodState = "ACTIVE"
	PeriodLocked   PeriodState = "LOCKED"
	PeriodArchived PeriodState = "ARCHIVED"
)

var periodOrder = map[PeriodState]int{
	PeriodDraft:    0,
	PeriodActive:   1,
	PeriodLocked:   2,
	PeriodArchived: 3,
}

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

const (
	EventCreated        = "submission_created"
	EventEntriesUpdated = "entries_updated"
	EventSubmitted      = "submission_submitted"
	EventApproved       = "submission_approved"
	EventAdvanced       = "submission_advanced"
	EventRejected       = "submission_rejected"
	EventReturned       = "submission_returned"
	EventResubmitted    = "submission_resubmitted"
)

const (
	DataSourceManual = "manual"
	DataSourceImport = "import"
	DataSourceSystem = "system"
)
