package store

import "qms/place-queue/internal/models"

const (
	ActionActivate   = "activate"
	ActionCancel     = "cancel"
	ActionComplete   = "complete"
	ActionReject     = "reject"
	ActionMoveToBack = "move_to_back"
)

var transitionMap = map[string][]string{
	ActionActivate:   {models.StatusWaiting},
	ActionCancel:     {models.StatusWaiting, models.StatusActive},
	ActionComplete:   {models.StatusActive},
	ActionReject:     {models.StatusWaiting, models.StatusActive},
	ActionMoveToBack: {models.StatusWaiting, models.StatusActive},
}

var targetStatus = map[string]string{
	ActionActivate:   models.StatusActive,
	ActionCancel:     models.StatusCancelled,
	ActionComplete:   models.StatusCompleted,
	ActionReject:     models.StatusRejected,
	ActionMoveToBack: models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus is the status a ticket holds after action succeeds.
func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}

func IsTerminal(status string) bool {
	switch status {
	case models.StatusCompleted, models.StatusCancelled, models.StatusRejected:
		return true
	}
	return false
}
