package domain

import "time"

type CallID string

type CallType string

const (
	CallWaiter CallType = "waiter"
	CallWater  CallType = "water"
	CallHelp   CallType = "help"
)

type CallStatus string

const (
	CallOpen      CallStatus = "open"
	CallAttending CallStatus = "attending"
	CallDone      CallStatus = "done"
)

func (s CallStatus) Valid() bool {
	return s == CallOpen || s == CallAttending || s == CallDone
}

func (s CallStatus) Terminal() bool { return s == CallDone }

func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallOpen:
		return next == CallAttending || next == CallDone
	case CallAttending:
		return next == CallDone
	}
	return false
}

type ServiceCall struct {
	ID          CallID
	TableID     TableID
	TableNumber string
	SessionID   SessionID
	Type        CallType
	Status      CallStatus
	CreatedAt   time.Time
}

// Active calls are the ones staff still has to act on. Done calls are kept
// in state but never shown.
func (c ServiceCall) Active() bool { return !c.Status.Terminal() }
