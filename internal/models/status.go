package models

// Status is the lifecycle state of an onboarding request.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusDuplicate       Status = "duplicate"
	StatusProvisioned     Status = "provisioned"
	StatusFailed          Status = "failed"
)

// TerminalStatuses are immutable once reached, except for request_count bumps
// on the canonical row of a duplicate chain.
var TerminalStatuses = []Status{StatusRejected, StatusDuplicate, StatusProvisioned, StatusFailed}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}
