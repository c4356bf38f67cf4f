package file

import (
	"log/slog"
	"time"

	"github.com/bamsammich/commdev/internal/event"
	"github.com/bamsammich/commdev/internal/stats"
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultDrainTimeout = time.Second
)

type options struct {
	logger       *slog.Logger
	stats        *stats.Collector
	events       chan<- event.Event
	pollInterval time.Duration
	drainTimeout time.Duration
	writeRate    int64
}

// Option configures a Channel.
type Option func(*options)

// WithPollInterval sets the readiness-poll slice used by Read and the
// writer. Non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued writes before
// dropping them. Non-positive values keep the default.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithWriteRate caps device writes to bytesPerSec. Zero means unlimited.
func WithWriteRate(bytesPerSec int64) Option {
	return func(o *options) { o.writeRate = bytesPerSec }
}

// WithEvents delivers channel events on ch. Sends never block.
func WithEvents(ch chan<- event.Event) Option {
	return func(o *options) { o.events = ch }
}

// WithStats records counters into c instead of a private collector.
func WithStats(c *stats.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.stats = c
		}
	}
}

// WithLogger sets the logger used for write failures and lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		pollInterval: DefaultPollInterval,
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.stats == nil {
		o.stats = stats.NewCollector()
	}
	return o
}
