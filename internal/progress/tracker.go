package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current run status
type Status struct {
	Stage          string        // migrate, upload or archive
	TotalItems     int64         // 0 while the total is still unknown
	ProcessedItems int64         // items finished in any state
	SuccessItems   int64         // converted, uploaded or mirrored
	FailedItems    int64         // items with at least one failure
	SkippedItems   int64         // items that needed no work
	InvalidItems   int64         // rejected repository names or languages
	CurrentItem    string        // item in flight
	StartTime      time.Time     // run start
	LastUpdateTime time.Time     // last counter change
	ItemsPerMinute float64       // average rate since start
	ETA            time.Duration // 0 when the total is unknown
}

// Tracker tracks run progress across goroutines
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a new progress tracker
func NewTracker(stage string) *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			Stage:          stage,
			StartTime:      now,
			LastUpdateTime: now,
		},
	}
}

// SetTotal sets the expected number of items
func (t *Tracker) SetTotal(items int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalItems = items
	t.update(time.Now())
}

// Start records the item currently being processed
func (t *Tracker) Start(item string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CurrentItem = item
}

// AddSuccess increments the success count
func (t *Tracker) AddSuccess() {
	t.add(&t.status.SuccessItems)
}

// AddFailed increments the failure count
func (t *Tracker) AddFailed() {
	t.add(&t.status.FailedItems)
}

// AddSkipped increments the skipped count
func (t *Tracker) AddSkipped() {
	t.add(&t.status.SkippedItems)
}

// AddInvalid increments the invalid count
func (t *Tracker) AddInvalid() {
	t.add(&t.status.InvalidItems)
}

func (t *Tracker) add(counter *int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	*counter++
	t.status.ProcessedItems++
	t.status.CurrentItem = ""
	t.update(time.Now())
}

// update recalculates rate and ETA (must be called with lock held)
func (t *Tracker) update(now time.Time) {
	t.status.LastUpdateTime = now

	elapsed := now.Sub(t.status.StartTime)
	if elapsed > 0 {
		t.status.ItemsPerMinute = float64(t.status.ProcessedItems) / elapsed.Minutes()
	}

	remaining := t.status.TotalItems - t.status.ProcessedItems
	if t.status.TotalItems == 0 || remaining <= 0 || t.status.ItemsPerMinute == 0 {
		t.status.ETA = 0
		return
	}
	t.status.ETA = time.Duration(float64(remaining) / t.status.ItemsPerMinute * float64(time.Minute))
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the progress percentage, 0 when the total is unknown
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalItems == 0 {
		return 0
	}

	return float64(t.status.ProcessedItems) / float64(t.status.TotalItems) * 100
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "unknown"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	} else if bytes < 1024*1024*1024 {
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	} else {
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	}
}
