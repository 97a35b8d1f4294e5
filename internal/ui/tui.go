// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and forwards stream updates to it
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// StreamTUI displays encoder statistics
type StreamTUI struct {
	program  *tea.Program
	quitChan chan struct{}
}

// NewStreamTUI creates the TUI. Options are passed to bubbletea.
func NewStreamTUI(opts ...tea.ProgramOption) *StreamTUI {
	quit := make(chan struct{}, 1)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &StreamTUI{
		program:  tea.NewProgram(NewModel(quit), opts...),
		quitChan: quit,
	}
}

// Run blocks until the user quits
func (t *StreamTUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stream announces the stream format
func (t *StreamTUI) Stream(msg StreamMsg) {
	t.program.Send(msg)
}

// Chunk reports one encoded chunk
func (t *StreamTUI) Chunk(c ChunkStat) {
	t.program.Send(ChunkMsg(c))
}

// Done reports the end of the stream
func (t *StreamTUI) Done(err error) {
	t.program.Send(DoneMsg{Err: err})
}

// Quit stops the program
func (t *StreamTUI) Quit() {
	t.program.Quit()
}

// QuitChan signals when the user asked to quit
func (t *StreamTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
