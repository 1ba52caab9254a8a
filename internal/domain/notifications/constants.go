package notifications

import "appraisal/internal/domain/appraisal"

const (
	TypeSubmissionSubmitted   = "submission_submitted"
	TypeSubmissionAdvanced    = "submission_advanced"
	TypeSubmissionApproved    = "submission_approved"
	TypeSubmissionRejected    = "submission_rejected"
	TypeSubmissionReturned    = "submission_returned"
	TypeSubmissionResubmitted = "submission_resubmitted"
)

// inAppTypes lists the events that produce an in-app notification. Every
// event is still published to the stream.
var inAppTypes = map[string]string{
	appraisal.EventSubmitted:   TypeSubmissionSubmitted,
	appraisal.EventAdvanced:    TypeSubmissionAdvanced,
	appraisal.EventApproved:    TypeSubmissionApproved,
	appraisal.EventRejected:    TypeSubmissionRejected,
	appraisal.EventReturned:    TypeSubmissionReturned,
	appraisal.EventResubmitted: TypeSubmissionResubmitted,
}
