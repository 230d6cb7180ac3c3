package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"github.com/aluiziolira/go-scrape-products/models"
)

// consoleObserver renders run events. On a terminal it drives a spinner;
// otherwise it logs each status line.
type consoleObserver struct {
	mu       sync.Mutex
	spin     *spinner.Spinner
	percent  int
	status   string
	finished chan struct{}
}

func newConsoleObserver(interactive bool) *consoleObserver {
	o := &consoleObserver{finished: make(chan struct{})}
	if interactive {
		o.spin = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		o.spin.Suffix = " starting"
		o.spin.Start()
	}
	return o
}

func (o *consoleObserver) Progress(p models.RunProgress) {
	o.mu.Lock()
	o.percent = p.Percent()
	o.render()
	o.mu.Unlock()
}

func (o *consoleObserver) Status(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = message
	if o.spin == nil {
		slog.Info("status", slog.String("message", message))
		return
	}
	if strings.Contains(message, "\n") {
		// Multi-line messages are final; print them above the spinner line.
		o.spin.Lock()
		fmt.Fprintf(os.Stderr, "\r\033[K%s\n", message)
		o.spin.Unlock()
		return
	}
	o.render()
}

func (o *consoleObserver) Finished(*models.RunResult) {
	o.mu.Lock()
	if o.spin != nil {
		o.spin.Stop()
	}
	o.mu.Unlock()
	close(o.finished)
}

// render must be called with o.mu held.
func (o *consoleObserver) render() {
	if o.spin == nil {
		return
	}
	o.spin.Lock()
	o.spin.Suffix = fmt.Sprintf(" [%3d%%] %s", o.percent, o.status)
	o.spin.Unlock()
}
