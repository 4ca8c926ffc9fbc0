package progress

import (
	"time"

	"github.com/tanq16/grabber/internal/utils"
)

type EventType int

const (
	EventStarted EventType = iota
	EventBytesTransferred
	EventStatusChanged
	EventRetrying
	EventFinished
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventBytesTransferred:
		return "bytes"
	case EventStatusChanged:
		return "status"
	case EventRetrying:
		return "retrying"
	case EventFinished:
		return "finished"
	}
	return "unknown"
}

// Event is a progress update from one item. Which fields are meaningful depends on Type:
//
//	Started           URL, Target
//	BytesTransferred  Bytes, Total (0 when unknown)
//	StatusChanged     Stage
//	Retrying          Attempt (the one about to start), Delay, Err
//	Finished          Outcome
type Event struct {
	Type    EventType
	ItemID  string
	Time    time.Time
	URL     string
	Target  string
	Bytes   int64
	Total   int64
	Stage   utils.Stage
	Attempt int
	Delay   time.Duration
	Err     error
	Outcome *utils.Outcome
}

// Sink accepts events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
