package approvals

// Request lifecycle statuses.
const (
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusDenied          = "denied"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// CanTransition reports whether a status change is legal. The only path to
// execution runs through approved; denied, completed and failed are dead
// ends.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPendingApproval:
		return to == StatusApproved || to == StatusDenied || to == StatusFailed
	case StatusApproved:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusDenied, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// QuorumReached reports whether enough distinct approvals have landed.
func QuorumReached(received, required int) bool {
	if required <= 0 {
		required = 1
	}
	return received >= required
}
