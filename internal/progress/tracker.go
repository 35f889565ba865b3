package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is a point-in-time view of the current phase
type Status struct {
	Phase            string
	TotalObjects     int64
	ProcessedObjects int64
	SuccessObjects   int64
	FailedObjects    int64
	TotalBytes       int64
	ProcessedBytes   int64
	StartTime        time.Time
	PhaseStartTime   time.Time
	LastUpdateTime   time.Time
	AverageSpeed     float64 // bytes/second within the phase
	ETA              time.Duration
}

// Tracker tracks relocation progress phase by phase
type Tracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTrackerAt(time.Now)
}

func newTrackerAt(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			PhaseStartTime: start,
			LastUpdateTime: start,
		},
		now: now,
	}
}

// StartPhase resets the counters for a new phase
func (t *Tracker) StartPhase(phase string, objects, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.status = Status{
		Phase:          phase,
		TotalObjects:   objects,
		TotalBytes:     bytes,
		StartTime:      t.status.StartTime,
		PhaseStartTime: now,
		LastUpdateTime: now,
	}
}

// AddSuccess records a relocated object of the given size
func (t *Tracker) AddSuccess(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.SuccessObjects++
	t.status.ProcessedObjects++
	t.status.ProcessedBytes += bytes
	t.update()
}

// AddFailed records a failed object. Its bytes still count as processed.
func (t *Tracker) AddFailed(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FailedObjects++
	t.status.ProcessedObjects++
	t.status.ProcessedBytes += bytes
	t.update()
}

// update recomputes speed and ETA (must be called with lock held)
func (t *Tracker) update() {
	now := t.now()
	t.status.LastUpdateTime = now

	elapsed := now.Sub(t.status.PhaseStartTime)
	if elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.ProcessedBytes) / elapsed.Seconds()
	}

	remaining := t.status.TotalBytes - t.status.ProcessedBytes
	if remaining <= 0 || t.status.AverageSpeed == 0 {
		t.status.ETA = 0
		return
	}
	t.status.ETA = time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
}

// GetStatus returns the current status
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the object progress of the current phase
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return percent(t.status.ProcessedObjects, t.status.TotalObjects)
}

// GetBytesProgressPercent returns the byte progress of the current phase
func (t *Tracker) GetBytesProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return percent(t.status.ProcessedBytes, t.status.TotalBytes)
}

func percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
