package runner

import "context"

// EventType tags a caller-facing event.
type EventType string

const (
	EventStatus  EventType = "status"
	EventContent EventType = "content"
	EventError   EventType = "error"
)

// Event is one line of the response stream.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// emitter sends events until the request context ends.
type emitter struct {
	ctx context.Context
	out chan<- Event
}

func (e *emitter) send(ev Event) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) status(s string) bool {
	return e.send(Event{Type: EventStatus, Content: s})
}

func (e *emitter) content(s string) bool {
	return e.send(Event{Type: EventContent, Content: s})
}

// error is still delivered after the request deadline passed if there is
// room in the buffer.
func (e *emitter) error(msg string) {
	ev := Event{Type: EventError, Error: msg}
	if e.ctx.Err() == nil {
		e.send(ev)
		return
	}
	select {
	case e.out <- ev:
	default:
	}
}
