package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

// Envelope is the push channel frame: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses one push message. Unknown types yield an error matching
// domain.ErrUnknownEventType; anything unparseable matches
// domain.ErrMalformedEvent.
func DecodeEvent(raw []byte) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return domain.Event{}, fmt.Errorf("%w: missing type", domain.ErrMalformedEvent)
	}
	t := domain.EventType(env.Type)
	if !t.Known() {
		return domain.Event{}, fmt.Errorf("%w: %q", domain.ErrUnknownEventType, env.Type)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return domain.Event{}, fmt.Errorf("%w: %s without data", domain.ErrMalformedEvent, t)
	}

	switch t {
	case domain.EventOrderCreated, domain.EventOrderUpdated:
		var o Order
		if err := json.Unmarshal(env.Data, &o); err != nil {
			return domain.Event{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, t, err)
		}
		order, err := o.Domain()
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, t, err)
		}
		return domain.Event{Type: t, Order: &order}, nil
	default:
		var c ServiceCall
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return domain.Event{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, t, err)
		}
		call, err := c.Domain()
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, t, err)
		}
		return domain.Event{Type: t, Call: &call}, nil
	}
}
