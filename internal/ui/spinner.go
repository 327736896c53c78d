package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner is a blocking line spinner for steps that run before the call
// screen starts.
type SimpleSpinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewConnectionSpinner creates a spinner for network operations (Globe style).
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(os.Stdout, message, spinner.Globe, 180*time.Millisecond)
}

// NewWaitingSpinner creates a spinner for waiting on the relay (Points style).
func NewWaitingSpinner(message string) *SimpleSpinner {
	return newSpinner(os.Stdout, message, spinner.Points, 100*time.Millisecond)
}

func newSpinner(out io.Writer, message string, sp spinner.Spinner, interval time.Duration) *SimpleSpinner {
	return &SimpleSpinner{
		out:      out,
		message:  message,
		spinner:  sp,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *SimpleSpinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frames := s.spinner.Frames
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), msg)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *SimpleSpinner) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	fmt.Fprint(s.out, "\r\033[K")
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *SimpleSpinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
