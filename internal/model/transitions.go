package model

var transitionMap = map[ReservationStatus][]ReservationStatus{
	StatusConfirmed: {StatusPending},
	StatusCancelled: {StatusPending, StatusConfirmed},
	StatusCheckedIn: {StatusConfirmed},
	StatusNoShow:    {StatusConfirmed},
	StatusCompleted: {StatusCheckedIn},
}

// ValidTransition reports whether a reservation in status from may move to status to.
func ValidTransition(from, to ReservationStatus) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
