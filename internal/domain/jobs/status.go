package jobs

const (
	StatusIdle       = "idle"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusCancelled  = "cancelled"
)

// InFlightStatuses block a new submission for the same project.
var InFlightStatuses = []string{StatusQueued, StatusProcessing, StatusRunning}

// BusyStatuses occupy the single external execution slot.
var BusyStatuses = []string{StatusProcessing, StatusRunning}

var transitions = map[string][]string{
	StatusIdle:   {StatusQueued},
	StatusQueued: {StatusProcessing, StatusCancelled},
	// processing -> queued is the crash-recovery requeue.
	StatusProcessing: {StatusRunning, StatusError, StatusQueued},
	StatusRunning:    {StatusCompleted, StatusError},
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

func IsInFlight(status string) bool {
	for _, s := range InFlightStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Statuses lists every job status in lifecycle order.
func Statuses() []string {
	return []string{StatusIdle, StatusQueued, StatusProcessing, StatusRunning, StatusCompleted, StatusError, StatusCancelled}
}
