package lifecycle

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectPending:    {ProjectInProgress, ProjectCancelled},
	ProjectInProgress: {ProjectCompleted, ProjectCancelled},
	ProjectCompleted:  nil,
	ProjectCancelled:  nil,
}

func (s ProjectStatus) Valid() bool {
	_, ok := projectTransitions[s]
	return ok
}

// Terminal reports whether no further updates are accepted.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectCompleted || s == ProjectCancelled
}

// CanTransition reports whether a project may move from one status to another.
// Keeping the current status is allowed for non-terminal projects.
func CanTransition(from, to ProjectStatus) bool {
	if from == to {
		return from.Valid() && !from.Terminal()
	}
	for _, next := range projectTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestDeclined:
		return true
	}
	return false
}

func (s RequestStatus) Resolved() bool {
	return s == RequestAccepted || s == RequestDeclined
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionDecline
}

func clampPercentage(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
