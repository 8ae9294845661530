package booking

import (
	"campusbook/internal/domain"
	"campusbook/internal/model"
)

// Action is an operation that moves a booking out of its current status.
type Action string

const (
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionCancel    Action = "cancel"
	ActionSupersede Action = "supersede"
)

// transitions lists every legal move. Terminal statuses have no entry.
var transitions = map[model.BookingStatus]map[Action]model.BookingStatus{
	model.StatusPending: {
		ActionApprove:   model.StatusApproved,
		ActionReject:    model.StatusRejected,
		ActionCancel:    model.StatusCancelled,
		ActionSupersede: model.StatusRejected,
	},
}

// Next returns the status reached by applying action in status from.
func Next(from model.BookingStatus, action Action) (model.BookingStatus, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", domain.State(string(action), "cannot %s a %s booking", action, from)
	}
	return to, nil
}

// CanTransition checks if a booking may move from one status to another.
func CanTransition(from, to model.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
