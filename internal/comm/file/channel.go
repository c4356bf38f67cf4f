package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/event"
	"github.com/bamsammich/commdev/internal/stats"
)

// Compile-time interface check.
var _ comm.Channel = (*Channel)(nil)

// session holds everything bound to one Open/Close cycle.
type session struct {
	id      string
	log     *slog.Logger
	queue   *writeQueue
	limiter *rate.Limiter

	// stop is closed by Close to release readers blocked in poll.
	stop chan struct{}

	// writeCtx aborts the writer when the drain deadline passes.
	writeCtx    context.Context
	writeCancel context.CancelFunc
	writerDone  chan struct{}

	readFd  int
	writeFd int
}

// Channel is a bidirectional byte stream over a special file node such as
// a character device, FIFO or pseudo-terminal.
//
// Reads happen on the caller's goroutine. Writes are queued and applied to
// the device in submission order by a single writer goroutine that lives
// between Open and Close.
type Channel struct {
	ep    comm.Endpoint
	opts  options
	fault atomic.Pointer[ChannelError]
	sess  *session

	lifeMu sync.Mutex // serializes Open and Close
	mu     sync.Mutex // guards sess
	readMu sync.Mutex // serializes readers; held by Close while fds are closed
}

// New creates an unopened Channel for ep.
func New(ep comm.Endpoint, opts ...Option) *Channel {
	return &Channel{ep: ep, opts: buildOptions(opts)}
}

// Endpoint returns the descriptor the channel was created for.
func (c *Channel) Endpoint() comm.Endpoint { return c.ep }

// Stats returns the channel's collector.
func (c *Channel) Stats() *stats.Collector { return c.opts.stats }

// Err returns the first write failure, or nil while the channel is healthy.
func (c *Channel) Err() error {
	if f := c.fault.Load(); f != nil {
		return f
	}
	return nil
}

// Open opens the endpoint path read-write, duplicates the descriptor for
// the writer and starts the writer goroutine.
func (c *Channel) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return ErrAlreadyOpen
	}

	readFd, err := openFd(c.ep.CommDev)
	if err != nil {
		return &ChannelError{Endpoint: c.ep, Op: "open", Err: err}
	}
	writeFd, err := unix.FcntlInt(uintptr(readFd), unix.F_DUPFD_CLOEXEC, 0) //nolint:gosec // G115: fd is non-negative
	if err != nil {
		unix.Close(readFd) //nolint:errcheck // best-effort cleanup on failed open
		return &ChannelError{Endpoint: c.ep, Op: "open", Err: fmt.Errorf("dup: %w", err)}
	}

	id := uuid.NewString()
	writeCtx, writeCancel := context.WithCancel(context.Background())
	s := &session{
		id:          id,
		log:         c.opts.logger.With("session", id, "endpoint", c.ep.String()),
		queue:       newWriteQueue(),
		stop:        make(chan struct{}),
		writeCtx:    writeCtx,
		writeCancel: writeCancel,
		writerDone:  make(chan struct{}),
		readFd:      readFd,
		writeFd:     writeFd,
	}
	if c.opts.writeRate > 0 {
		s.limiter = newWriteLimiter(c.opts.writeRate)
	}

	c.fault.Store(nil)
	c.sess = s
	go c.writeLoop(s)

	s.log.Debug("channel opened", "poll_interval", c.opts.pollInterval)
	c.emit(s, event.Event{Type: event.ChannelOpened})
	return nil
}

func openFd(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

// Close stops the channel in order: no new writes are accepted and readers
// are released, queued writes are drained (dropped after the drain
// timeout), then both descriptors are closed. Close is idempotent.
func (c *Channel) Close() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	s.queue.close()
	close(s.stop)

	timer := time.NewTimer(c.opts.drainTimeout)
	select {
	case <-s.writerDone:
		timer.Stop()
	case <-timer.C:
		s.log.Warn("drain timeout, dropping pending writes", "timeout", c.opts.drainTimeout)
		s.writeCancel()
		<-s.writerDone
	}
	s.writeCancel()

	// In-flight reads observe stop within one poll interval.
	c.readMu.Lock()
	err := multierr.Combine(unix.Close(s.writeFd), unix.Close(s.readFd))
	c.readMu.Unlock()

	s.log.Debug("channel closed", "stats", c.opts.stats.Snapshot().String())
	c.emit(s, event.Event{Type: event.ChannelClosed, Error: err})
	if err != nil {
		return &ChannelError{Endpoint: c.ep, Op: "close", Err: err}
	}
	return nil
}

// current returns the open session or ErrClosed.
func (c *Channel) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrClosed
	}
	return c.sess, nil
}

// Read waits for the endpoint to become readable and returns up to size
// bytes. It never returns an empty slice with a nil error: io.EOF marks end
// of stream. Waiting ends early with ctx.Err() or ErrClosed.
func (c *Channel) Read(ctx context.Context, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("read size must be positive, got %d", size)
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	s, err := c.current()
	if err != nil {
		return nil, err
	}

	if err := waitReady(ctx, s.stop, s.readFd, unix.POLLIN, c.opts.pollInterval); err != nil {
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return nil, err
		}
		return nil, c.readFailed(s, err)
	}

	buf := make([]byte, size)
	for {
		n, err := unix.Read(s.readFd, buf)
		if err != nil {
			if !isAgain(err) {
				return nil, c.readFailed(s, err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.stop:
				return nil, ErrClosed
			default:
			}
			continue
		}
		if n == 0 {
			return nil, io.EOF
		}
		c.opts.stats.AddRead(int64(n))
		return buf[:n], nil
	}
}

func (c *Channel) readFailed(s *session, err error) error {
	cerr := &ChannelError{Endpoint: c.ep, Op: "read", Err: err}
	s.log.Error("read failed", "error", err)
	c.emit(s, event.Event{Type: event.ReadFailed, Error: cerr})
	return cerr
}

// Write queues a copy of buf and returns without touching the device.
// It fails with ErrClosed when the channel is not open and with the sticky
// fault once a previous write has failed.
func (c *Channel) Write(buf []byte) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if err := c.Err(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	owned := make([]byte, len(buf))
	copy(owned, buf)
	if !s.queue.push(request{buf: owned}) {
		return ErrClosed
	}
	c.opts.stats.AddQueued(int64(len(owned)))
	return nil
}

// Flush blocks until every write queued before the call has been applied
// or discarded, then reports the sticky fault.
func (c *Channel) Flush(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	if !s.queue.push(request{done: done}) {
		return ErrClosed
	}

	select {
	case <-done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) emit(s *session, ev event.Event) {
	ev.Host = c.ep.Host
	ev.Path = c.ep.CommDev
	ev.Session = s.id
	event.Send(c.opts.events, ev)
}
