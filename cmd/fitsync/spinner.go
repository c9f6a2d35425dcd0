package main

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Spinner timing and layout
const (
	spinnerFrameWidth = 2                     // braille frames render about two columns wide
	spinnerAnimDelay  = 80 * time.Millisecond // delay between frames
	spinnerClearPad   = 5                     // slack for terminals that render frames wider
)

// simpleSpinner animates on terminals while a sync pass runs. The animation
// goroutine polls an atomic flag, and Stop waits for it to exit before
// clearing the line.
type simpleSpinner struct {
	frames   []string
	message  string
	done     atomic.Bool
	stopped  chan struct{}
	w        io.Writer
	clearLen int // columns to blank when the spinner stops
}

func newSimpleSpinner(w io.Writer, message string) *simpleSpinner {
	return &simpleSpinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message:  message,
		stopped:  make(chan struct{}),
		w:        w,
		clearLen: spinnerFrameWidth + 1 + len(message), // frame, space, message
	}
}

// Start begins animating. Off a terminal it prints nothing.
func (s *simpleSpinner) Start() {
	if !isTTY() {
		close(s.stopped)
		return
	}

	go func() {
		defer close(s.stopped)
		style := lipgloss.NewStyle().Foreground(colorPrimary)
		for i := 0; !s.done.Load(); i++ {
			fmt.Fprintf(s.w, "\r%s %s", style.Render(s.frames[i%len(s.frames)]), s.message)
			time.Sleep(spinnerAnimDelay)
		}
	}()
}

// Stop ends the animation and blanks the spinner line.
func (s *simpleSpinner) Stop() {
	s.done.Store(true)
	<-s.stopped
	if isTTY() {
		// Overwrite with spaces, then return the cursor to column zero.
		fmt.Fprint(s.w, "\r"+strings.Repeat(" ", s.clearLen+spinnerClearPad)+"\r")
	}
}

// runWithSpinner runs operation while the spinner animates. The line is
// cleared before operation's error is returned.
func runWithSpinner(w io.Writer, message string, operation func() error) error {
	spin := newSimpleSpinner(w, message)
	spin.Start()
	err := operation()
	spin.Stop()
	return err
}
