package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Display periodically prints the tracker status
type Display struct {
	tracker  *Tracker
	out      io.Writer
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a new progress display
func NewDisplay(tracker *Tracker, out io.Writer, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		out:      out,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop prints the final summary and waits for the loop to exit
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(status Status) []string {
	lines := make([]string, 0, 12)

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%s progress", capitalize(status.Stage)))
	lines = append(lines, strings.Repeat("=", 50))

	if status.TotalItems > 0 {
		lines = append(lines, fmt.Sprintf("Items: %d/%d", status.ProcessedItems, status.TotalItems))
		lines = append(lines, "    "+generateProgressBar(d.tracker.GetProgressPercent(), 40))
	} else {
		lines = append(lines, fmt.Sprintf("Items: %d", status.ProcessedItems))
	}

	lines = append(lines, fmt.Sprintf("  success: %d  failed: %d  skipped: %d  invalid: %d",
		status.SuccessItems, status.FailedItems, status.SkippedItems, status.InvalidItems))
	if status.CurrentItem != "" {
		lines = append(lines, "  current: "+status.CurrentItem)
	}

	lines = append(lines, fmt.Sprintf("  elapsed: %s  rate: %.1f/min  eta: %s",
		FormatDuration(time.Since(status.StartTime)), status.ItemsPerMinute, FormatDuration(status.ETA)))
	lines = append(lines, fmt.Sprintf("  updated: %s", status.LastUpdateTime.Format("15:04:05")))

	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		fmt.Sprintf("%s finished", capitalize(status.Stage)),
		strings.Repeat("=", 50),
		fmt.Sprintf("Processed: %d", status.ProcessedItems),
		fmt.Sprintf("Success:   %d", status.SuccessItems),
		fmt.Sprintf("Failed:    %d", status.FailedItems),
		fmt.Sprintf("Skipped:   %d", status.SkippedItems),
		fmt.Sprintf("Invalid:   %d", status.InvalidItems),
		fmt.Sprintf("Elapsed:   %s", FormatDuration(time.Since(status.StartTime))),
		"",
	}
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// IsTerminalSupported checks whether stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
