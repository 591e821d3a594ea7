package domain

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderUpdated       EventType = "order.updated"
	EventServiceCallCreated EventType = "service.call.created"
	EventServiceCallUpdated EventType = "service.call.updated"
)

func (t EventType) Known() bool {
	switch t {
	case EventOrderCreated, EventOrderUpdated, EventServiceCallCreated, EventServiceCallUpdated:
		return true
	}
	return false
}

// Event is one decoded push notification. Exactly one of Order or Call is set.
type Event struct {
	Type  EventType
	Order *Order
	Call  *ServiceCall
}

func OrderEvent(t EventType, o Order) Event {
	o = o.Clone()
	return Event{Type: t, Order: &o}
}

func CallEvent(t EventType, c ServiceCall) Event {
	return Event{Type: t, Call: &c}
}
