package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/tanq16/grabber/internal/progress"
	"github.com/tanq16/grabber/internal/utils"
)

// transitions lists the legal next stages. Any in-flight stage may go back to
// Connecting, which is how a retried attempt starts over.
var transitions = map[utils.Stage][]utils.Stage{
	utils.StageQueued:     {utils.StageConnecting, utils.StageFailed},
	utils.StageConnecting: {utils.StageStreaming, utils.StageConnecting, utils.StageFailed},
	utils.StageStreaming:  {utils.StageVerifying, utils.StageConnecting, utils.StageFailed},
	utils.StageVerifying:  {utils.StageFinalizing, utils.StageConnecting, utils.StageFailed},
	utils.StageFinalizing: {utils.StageSucceeded, utils.StageConnecting, utils.StageFailed},
}

func CanTransition(from, to utils.Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TransitionError struct {
	From, To utils.Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal stage transition %s -> %s", e.From, e.To)
}

// Machine tracks one item's stage and reports every change to sink.
type Machine struct {
	id   string
	sink progress.Sink

	mu    sync.Mutex
	stage utils.Stage
}

func NewMachine(id string, sink progress.Sink) *Machine {
	if sink == nil {
		sink = progress.Discard
	}
	return &Machine{id: id, sink: sink, stage: utils.StageQueued}
}

func (m *Machine) Stage() utils.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// To moves to next and publishes the change, or returns a *TransitionError.
func (m *Machine) To(next utils.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.stage, next) {
		return &TransitionError{From: m.stage, To: next}
	}
	m.stage = next
	m.sink.Publish(progress.Event{
		Type:   progress.EventStatusChanged,
		ItemID: m.id,
		Time:   time.Now(),
		Stage:  next,
	})
	return nil
}
