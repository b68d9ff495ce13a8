package chatbot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lexmarket/chatbot/internal/domain"
)

// StateFunc receives progress states during SendMessage. message is the
// user-facing text for the error state and a short label otherwise.
type StateFunc func(state domain.ChatState, message string)

// ProgressStep schedules state to be shown After the send started.
type ProgressStep struct {
	After time.Duration
	State domain.ChatState
}

// DefaultProgressSchedule is shown while a request is in flight. It runs
// on wall-clock time only and says nothing about real backend progress.
var DefaultProgressSchedule = []ProgressStep{
	{After: 300 * time.Millisecond, State: domain.ChatStateAnalyzing},
	{After: 800 * time.Millisecond, State: domain.ChatStateResearching},
	{After: 1200 * time.Millisecond, State: domain.ChatStateDrafting},
}

var stateLabels = map[domain.ChatState]string{
	domain.ChatStateConnecting:  "Connecting to your legal assistant",
	domain.ChatStateAnalyzing:   "Analyzing your question",
	domain.ChatStateResearching: "Researching relevant laws and precedents",
	domain.ChatStateDrafting:    "Drafting a response",
	domain.ChatStateStreaming:   "Preparing the answer",
	domain.ChatStateComplete:    "Done",
}

// StateLabel returns the default label for state.
func StateLabel(state domain.ChatState) string {
	return stateLabels[state]
}

// progressTimer emits scheduled states until stopped. No state is emitted
// once stop has returned.
type progressTimer struct {
	emit StateFunc

	mu      sync.Mutex
	stopped bool
	timers  []*time.Timer
}

func startProgress(emit StateFunc, schedule []ProgressStep) *progressTimer {
	p := &progressTimer{emit: emit}
	p.fire(domain.ChatStateConnecting)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, step := range schedule {
		p.timers = append(p.timers, time.AfterFunc(step.After, func() {
			p.fire(step.State)
		}))
	}
	return p
}

func (p *progressTimer) fire(state domain.ChatState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.emit(state, StateLabel(state))
}

// stop cancels pending states. Safe to call more than once.
func (p *progressTimer) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
}

// safeStateFunc guards fn against nil and panics; callbacks run on timer
// goroutines where a panic would take the process down.
func safeStateFunc(fn StateFunc, logger *slog.Logger) StateFunc {
	if fn == nil {
		return func(domain.ChatState, string) {}
	}
	return func(state domain.ChatState, message string) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("State callback panicked", "state", state, "panic", r)
			}
		}()
		fn(state, message)
	}
}
