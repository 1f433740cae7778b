package domain

import "time"

// DispatchRequest is the caller-facing contract for one operation.
// ConfirmationToken is set on the second leg of the two-step protocol.
type DispatchRequest struct {
	Caller            string
	SessionID         string
	Service           string
	Environment       string
	Verb              Verb
	ResourceClass     ResourceClass
	Binding           string
	Parameters        map[string]any
	ConfirmationToken string
}

// DispatchStatus summarizes how a dispatch ended.
type DispatchStatus string

const (
	DispatchCompleted            DispatchStatus = "completed"
	DispatchDenied               DispatchStatus = "denied"
	DispatchConfirmationRequired DispatchStatus = "confirmation_required"
	DispatchFailed               DispatchStatus = "failed"
	DispatchCancelled            DispatchStatus = "cancelled"
)

// ConfirmationGrant is the caller-visible slice of an issued token.
type ConfirmationGrant struct {
	Token     string
	ExpiresAt time.Time
	Reason    string
}

// DispatchOutcome is what a dispatch returns to the surface. Exactly one of
// the payload fields is set for completed operations, matching the verb.
type DispatchOutcome struct {
	Status       DispatchStatus
	Reason       string
	Provider     string
	Resource     string
	Confirmation *ConfirmationGrant

	StatusSnapshot *StatusSnapshot
	Result         *OperationResult
	Logs           *LogBatch
}
