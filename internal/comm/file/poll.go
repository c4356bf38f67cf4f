package file

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// pollOnce waits up to timeout for events on fd and returns the reported
// revents. EINTR is reported as no events.
func pollOnce(fd int, events int16, timeout time.Duration) (int16, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}} //nolint:gosec // G115: fds fit in int32
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return fds[0].Revents, nil
}

// waitReady polls fd in interval slices until any event is reported,
// ctx is done, or stop is closed (nil stop never fires).
func waitReady(
	ctx context.Context,
	stop <-chan struct{},
	fd int,
	events int16,
	interval time.Duration,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return ErrClosed
		default:
		}

		revents, err := pollOnce(fd, events, interval)
		if err != nil {
			return err
		}
		if revents&unix.POLLNVAL != 0 {
			return unix.EBADF
		}
		if revents != 0 {
			return nil
		}
	}
}

// isAgain reports whether err is a transient would-block condition.
func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR)
}
