package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks channel statistics using lock-free atomic counters.
type Collector struct {
	reads           atomic.Int64
	bytesRead       atomic.Int64
	writesQueued    atomic.Int64
	writesCompleted atomic.Int64
	writesFailed    atomic.Int64
	bytesQueued     atomic.Int64
	bytesWritten    atomic.Int64
	startTime       time.Time

	// Ring buffer, written only by Tick().
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes written per tick
	ringIdx    int
	ringCount  int // samples written, capped at ringSize
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Reads           int64
	BytesRead       int64
	WritesQueued    int64
	WritesCompleted int64
	WritesFailed    int64
	BytesQueued     int64
	BytesWritten    int64
	Elapsed         time.Duration
}

// Pending returns the number of writes queued but not yet completed or failed.
func (s Snapshot) Pending() int64 {
	return s.WritesQueued - s.WritesCompleted - s.WritesFailed
}

func (c *Collector) AddRead(n int64) {
	c.reads.Add(1)
	c.bytesRead.Add(n)
}

func (c *Collector) AddQueued(n int64) {
	c.writesQueued.Add(1)
	c.bytesQueued.Add(n)
}

func (c *Collector) AddWritten(n int64) {
	c.writesCompleted.Add(1)
	c.bytesWritten.Add(n)
}

func (c *Collector) AddFailed(count int64) { c.writesFailed.Add(count) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Reads:           c.reads.Load(),
		BytesRead:       c.bytesRead.Load(),
		WritesQueued:    c.writesQueued.Load(),
		WritesCompleted: c.writesCompleted.Load(),
		WritesFailed:    c.writesFailed.Load(),
		BytesQueued:     c.bytesQueued.Load(),
		BytesWritten:    c.bytesWritten.Load(),
		Elapsed:         c.Elapsed(),
	}
}

// Tick snapshots the written-bytes delta into the ring buffer. Called 1/sec.
func (c *Collector) Tick() {
	current := c.bytesWritten.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingWriteSpeed returns average written bytes/sec over the last n ticks.
func (c *Collector) RollingWriteSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"reads=%d read=%d queued=%d written=%d failed=%d bytes_written=%d",
		s.Reads, s.BytesRead, s.WritesQueued, s.WritesCompleted,
		s.WritesFailed, s.BytesWritten,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
