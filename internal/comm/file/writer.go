package file

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/bamsammich/commdev/internal/event"
)

// newWriteLimiter paces device writes to bytesPerSec. The burst is capped
// at 64 KB so a large buffer is released in pipe-sized slices.
func newWriteLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 64 * 1024
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// writeLoop is the only goroutine that touches s.writeFd. It applies
// queued buffers in order until the queue is closed and empty, or until
// the drain deadline aborts it.
func (c *Channel) writeLoop(s *session) {
	defer close(s.writerDone)

	var aborted []request
	for {
		req, ok := s.queue.next(s.writeCtx)
		if !ok {
			break
		}
		if req.done != nil {
			req.release()
			continue
		}

		if c.Err() != nil {
			// Channel already faulted: discard without touching the device.
			c.opts.stats.AddFailed(1)
			continue
		}

		if err := c.writeAll(s, req.buf); err != nil {
			if s.writeCtx.Err() != nil {
				aborted = append(aborted, req)
				break
			}
			c.opts.stats.AddFailed(1)
			c.writeFailed(s, err, len(req.buf))
			continue
		}
		c.opts.stats.AddWritten(int64(len(req.buf)))
	}

	c.dropPending(s, aborted)
}

// writeAll writes buf completely, continuing after partial writes and
// waiting for POLLOUT when the device would block.
func (c *Channel) writeAll(s *session, buf []byte) error {
	for off := 0; off < len(buf); {
		chunk := buf[off:]
		if s.limiter != nil {
			if len(chunk) > s.limiter.Burst() {
				chunk = chunk[:s.limiter.Burst()]
			}
			if err := s.limiter.WaitN(s.writeCtx, len(chunk)); err != nil {
				return err
			}
		}

		n, err := unix.Write(s.writeFd, chunk)
		if err != nil {
			if !isAgain(err) {
				return err
			}
			if err := waitReady(s.writeCtx, nil, s.writeFd, unix.POLLOUT, c.opts.pollInterval); err != nil {
				return err
			}
			continue
		}
		off += n
	}
	return nil
}

// writeFailed records the first failure as the channel fault. Later
// writes are rejected by Write and discarded by the writer.
func (c *Channel) writeFailed(s *session, err error, size int) {
	cerr := &ChannelError{Endpoint: c.ep, Op: "write", Err: err}
	if c.fault.CompareAndSwap(nil, cerr) {
		s.log.Error("write failed, channel faulted", "error", err, "size", size)
	}
	c.emit(s, event.Event{Type: event.WriteFailed, Size: int64(size), Error: cerr})
}

// dropPending discards the aborted request and whatever is still queued
// after the writer stops, and releases any flush barriers.
func (c *Channel) dropPending(s *session, aborted []request) {
	var dropped, size int64
	for _, req := range append(aborted, s.queue.drain()...) {
		if req.done != nil {
			req.release()
			continue
		}
		dropped++
		size += int64(len(req.buf))
	}
	if dropped == 0 {
		return
	}
	c.opts.stats.AddFailed(dropped)
	s.log.Warn("dropped pending writes", "count", dropped, "bytes", size)
	c.emit(s, event.Event{
		Type:  event.WritesDropped,
		Size:  size,
		Error: errors.Join(ErrClosed, context.Cause(s.writeCtx)),
	})
}
