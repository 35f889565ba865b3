package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Display periodically renders the tracker to a writer
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to stdout
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return NewDisplayTo(tracker, interval, os.Stdout)
}

// NewDisplayTo creates a display writing to out
func NewDisplayTo(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and waits for the final render
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.done
	})
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprint(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(status Status) []string {
	objects := percent(status.ProcessedObjects, status.TotalObjects)
	bytes := percent(status.ProcessedBytes, status.TotalBytes)

	lines := []string{
		"",
		fmt.Sprintf("Relocation progress (phase %s)", status.Phase),
		strings.Repeat("=", 51),
		fmt.Sprintf("Objects: %d/%d", status.ProcessedObjects, status.TotalObjects),
		"    " + progressBar(objects, 40),
		fmt.Sprintf("Data:    %s/%s", FormatBytes(status.ProcessedBytes), FormatBytes(status.TotalBytes)),
		"    " + progressBar(bytes, 40),
		fmt.Sprintf("  Succeeded: %d  Failed: %d", status.SuccessObjects, status.FailedObjects),
		fmt.Sprintf("  Speed: %s", FormatSpeed(status.AverageSpeed)),
		fmt.Sprintf("  Elapsed: %s  Remaining: %s",
			FormatDuration(status.LastUpdateTime.Sub(status.PhaseStartTime)), FormatDuration(status.ETA)),
		"",
	}
	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		fmt.Sprintf("Phase %s finished", status.Phase),
		strings.Repeat("=", 51),
		fmt.Sprintf("Processed: %d objects, %s", status.ProcessedObjects, FormatBytes(status.ProcessedBytes)),
		fmt.Sprintf("Succeeded: %d", status.SuccessObjects),
		fmt.Sprintf("Failed:    %d", status.FailedObjects),
		fmt.Sprintf("Total time: %s", FormatDuration(time.Since(status.StartTime))),
		"",
	}
}

func progressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, pct)
}

// IsTerminalSupported checks if stdout is an interactive terminal
func IsTerminalSupported() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
