package models

// allowedTransitions lists the legal next states for each status.
// VALIDATED, EXPIRED and CANCELLED are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaid, StatusExpired, StatusCancelled},
	StatusPaid:           {StatusValidated, StatusExpired, StatusCancelled},
	StatusValidated:      {},
	StatusExpired:        {},
	StatusCancelled:      {},
}

// CanTransition checks if moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
