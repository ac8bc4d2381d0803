package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"poputka/internal/engine"
)

const eventQueueSize = 256

// EventQueue carries engine events into the bubbletea loop.
type EventQueue chan engine.Event

func NewEventQueue() EventQueue {
	return make(EventQueue, eventQueueSize)
}

// Push never blocks. When the queue is full the event is dropped; the view
// re-reads engine state on the next one.
func (q EventQueue) Push(ev engine.Event) {
	select {
	case q <- ev:
	default:
	}
}

// Disposer releases the engine behind the view.
type Disposer interface {
	Dispose()
}

// Run shows the chat screen until the user quits, then disposes the engine.
func Run(opts Options, d Disposer, programOpts ...tea.ProgramOption) error {
	defer d.Dispose()

	programOpts = append([]tea.ProgramOption{tea.WithAltScreen()}, programOpts...)
	_, err := tea.NewProgram(NewModel(opts), programOpts...).Run()
	return err
}
