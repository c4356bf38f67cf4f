package file_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/comm/file"
	"github.com/bamsammich/commdev/internal/event"
	"github.com/bamsammich/commdev/internal/stats"
)

func TestChannelWriteOrderLoopback(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t))

	require.NoError(t, ch.Write([]byte("AB")))
	require.NoError(t, ch.Write([]byte("CD")))

	assert.Equal(t, "ABCD", string(readN(t, ch, 4)))
}

func TestChannelFarEndObservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	path := makeFifo(t)
	ch := openChannel(t, path)

	// The channel holds the FIFO open for writing, so this does not block.
	far, err := os.Open(path)
	require.NoError(t, err)
	defer far.Close()
	require.NoError(t, far.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, ch.Write([]byte("AB")))
	require.NoError(t, ch.Write([]byte("CD")))
	require.NoError(t, ch.Flush(context.Background()))

	got := make([]byte, 4)
	_, err = io.ReadFull(far, got)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(got))
}

func TestChannelManySequentialWrites(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t))

	var want bytes.Buffer
	for i := range 200 {
		msg := fmt.Sprintf("%04d\n", i)
		want.WriteString(msg)
		require.NoError(t, ch.Write([]byte(msg)))
	}

	assert.Equal(t, want.String(), string(readN(t, ch, want.Len())))
}

func TestChannelConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t))

	const producers = 8
	const perProducer = 100
	const recordLen = len("0:0000\n")

	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				assert.NoError(t, ch.Write(fmt.Appendf(nil, "%d:%04d\n", p, i)))
			}
		})
	}

	// Read concurrently so the pipe buffer never fills.
	got := readN(t, ch, producers*perProducer*recordLen)
	wg.Wait()

	next := make([]int, producers)
	for _, line := range strings.Split(strings.TrimSuffix(string(got), "\n"), "\n") {
		var p, i int
		_, err := fmt.Sscanf(line, "%d:%04d", &p, &i)
		require.NoError(t, err, "record %q interleaved", line)
		assert.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
	}
	for p := range producers {
		assert.Equal(t, perProducer, next[p])
	}
}

func TestChannelWriteCopiesBuffer(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t))

	buf := []byte("xy")
	require.NoError(t, ch.Write(buf))
	buf[0], buf[1] = 'z', 'z'

	assert.Equal(t, "xy", string(readN(t, ch, 2)))
}

func TestChannelReadDoesNotReturnSpuriously(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t), file.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	start := time.Now()
	buf, err := ch.Read(ctx, 16)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, buf)
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestChannelReadReturnsOnceDataArrives(t *testing.T) {
	t.Parallel()

	path := makeFifo(t)
	ch := openChannel(t, path)

	// A second writer on the same FIFO stands in for the remote end.
	remote, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer remote.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		remote.Write([]byte("ping"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	buf, err := ch.Read(ctx, 64)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChannelReadRespectsSize(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "dev", "hello", 0o600)
	ch := openChannel(t, path)

	buf, err := ch.Read(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf))

	buf, err = ch.Read(context.Background(), 16)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf))
}

func TestChannelReadEOF(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "empty", "", 0o600)
	ch := openChannel(t, path)

	buf, err := ch.Read(context.Background(), 8)
	require.ErrorIs(t, err, io.EOF)
	assert.Empty(t, buf)
}

func TestChannelReadInvalidSize(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t))
	_, err := ch.Read(context.Background(), 0)
	assert.Error(t, err)
}

func TestChannelCloseReleasesBlockedRead(t *testing.T) {
	t.Parallel()

	ch := file.New(comm.Endpoint{Host: "test", CommDev: makeFifo(t)})
	require.NoError(t, ch.Open(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Read(context.Background(), 8)
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, file.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
}

func TestChannelLifecycle(t *testing.T) {
	t.Parallel()

	ch := file.New(comm.Endpoint{Host: "test", CommDev: makeFifo(t)})

	require.ErrorIs(t, ch.Write([]byte("x")), file.ErrClosed)
	require.ErrorIs(t, ch.Flush(context.Background()), file.ErrClosed)
	_, err := ch.Read(context.Background(), 1)
	require.ErrorIs(t, err, file.ErrClosed)
	require.NoError(t, ch.Close(), "close before open")

	require.NoError(t, ch.Open(context.Background()))
	require.ErrorIs(t, ch.Open(context.Background()), file.ErrAlreadyOpen)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "second close")
	require.ErrorIs(t, ch.Write([]byte("x")), file.ErrClosed)

	// Reopen after close is allowed.
	require.NoError(t, ch.Open(context.Background()))
	require.NoError(t, ch.Close())
}

func TestChannelOpenMissingPath(t *testing.T) {
	t.Parallel()

	ep := comm.Endpoint{Host: "ghost", CommDev: "/nonexistent/commdev"}
	err := file.New(ep).Open(context.Background())
	require.Error(t, err)

	var cerr *file.ChannelError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "open", cerr.Op)
	assert.Equal(t, ep, cerr.Endpoint)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "ghost=/nonexistent/commdev")
}

func TestChannelOpenCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := file.New(comm.Endpoint{CommDev: makeFifo(t)}).Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChannelCloseDrainsQueuedWrites(t *testing.T) {
	t.Parallel()

	path := makeFifo(t)
	ch := file.New(comm.Endpoint{Host: "test", CommDev: path})
	require.NoError(t, ch.Open(context.Background()))

	far, err := os.Open(path)
	require.NoError(t, err)
	defer far.Close()
	require.NoError(t, far.SetReadDeadline(time.Now().Add(5*time.Second)))

	for i := range 50 {
		require.NoError(t, ch.Write(fmt.Appendf(nil, "%02d", i)))
	}
	require.NoError(t, ch.Close())

	// Close released the last writer, so the far end sees EOF after the data.
	got, err := io.ReadAll(far)
	require.NoError(t, err)
	assert.Len(t, got, 100)
	assert.True(t, strings.HasPrefix(string(got), "000102"))
	assert.Equal(t, int64(50), ch.Stats().Snapshot().WritesCompleted)
}

func TestChannelCloseDropsWritesAfterDrainTimeout(t *testing.T) {
	t.Parallel()

	events := make(chan event.Event, 16)
	ch := file.New(
		comm.Endpoint{Host: "test", CommDev: makeFifo(t)},
		file.WithDrainTimeout(50*time.Millisecond),
		file.WithEvents(events),
	)
	require.NoError(t, ch.Open(context.Background()))

	// Nobody reads, so the pipe fills and the writer blocks.
	chunk := bytes.Repeat([]byte("x"), 32*1024)
	for range 8 {
		require.NoError(t, ch.Write(chunk))
	}

	start := time.Now()
	require.NoError(t, ch.Close())
	assert.Less(t, time.Since(start), 2*time.Second)

	snap := ch.Stats().Snapshot()
	assert.Positive(t, snap.WritesFailed)
	assert.Zero(t, snap.Pending())

	var sawDrop bool
	for len(events) > 0 {
		if (<-events).Type == event.WritesDropped {
			sawDrop = true
		}
	}
	assert.True(t, sawDrop)
}

func TestChannelWriteFailureIsSticky(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	events := make(chan event.Event, 16)
	ch := openChannel(t, "/dev/full", file.WithEvents(events))

	require.NoError(t, ch.Write([]byte("lost")))
	err := ch.Flush(context.Background())
	require.Error(t, err)

	var cerr *file.ChannelError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "write", cerr.Op)
	assert.ErrorIs(t, err, unix.ENOSPC)

	assert.Equal(t, err, ch.Err())
	assert.Equal(t, err, ch.Write([]byte("more")))
	assert.Equal(t, int64(1), ch.Stats().Snapshot().WritesFailed)

	var sawFailure bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == event.WriteFailed {
			sawFailure = true
			assert.Equal(t, "/dev/full", ev.Path)
			assert.NotEmpty(t, ev.Session)
		}
	}
	assert.True(t, sawFailure)
}

func TestChannelFlushHonoursContext(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t), file.WithDrainTimeout(10*time.Millisecond))

	// Fill the pipe so the flush barrier is never reached.
	chunk := bytes.Repeat([]byte("x"), 32*1024)
	for range 4 {
		require.NoError(t, ch.Write(chunk))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Flush(ctx), context.DeadlineExceeded)
}

func TestChannelWriteRate(t *testing.T) {
	t.Parallel()

	ch := openChannel(t, makeFifo(t), file.WithWriteRate(2048))

	// Burst covers the first 2 KB; the rest waits about a second.
	start := time.Now()
	require.NoError(t, ch.Write(bytes.Repeat([]byte("r"), 4096)))
	require.NoError(t, ch.Flush(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)

	assert.Len(t, readN(t, ch, 4096), 4096)
}

func TestChannelSharedStatsAndEvents(t *testing.T) {
	t.Parallel()

	collector := stats.NewCollector()
	events := make(chan event.Event, 16)
	ch := file.New(
		comm.Endpoint{Host: "h1", CommDev: makeFifo(t)},
		file.WithStats(collector),
		file.WithEvents(events),
	)
	require.NoError(t, ch.Open(context.Background()))

	require.NoError(t, ch.Write([]byte("abc")))
	assert.Equal(t, "abc", string(readN(t, ch, 3)))
	require.NoError(t, ch.Close())

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.WritesQueued)
	assert.Equal(t, int64(3), snap.BytesWritten)
	assert.Equal(t, int64(3), snap.BytesRead)

	require.GreaterOrEqual(t, len(events), 2)
	opened := <-events
	assert.Equal(t, event.ChannelOpened, opened.Type)
	assert.Equal(t, "h1", opened.Host)
	closed := <-events
	assert.Equal(t, event.ChannelClosed, closed.Type)
	assert.Equal(t, opened.Session, closed.Session)
}

func TestUseOpensAndCloses(t *testing.T) {
	t.Parallel()

	ch := file.New(comm.Endpoint{Host: "test", CommDev: makeFifo(t)})
	sentinel := errors.New("body failed")

	err := comm.Use(context.Background(), ch, func(c comm.Channel) error {
		require.NoError(t, c.Write([]byte("ok")))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, ch.Write([]byte("x")), file.ErrClosed)
}
