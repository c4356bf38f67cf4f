package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/comm/file"
)

// makeFifo creates a named pipe in a fresh temp dir and returns its path.
func makeFifo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.fifo")
	require.NoError(t, unix.Mkfifo(path, 0o600))
	return path
}

// writeFile creates a regular file with content and mode.
func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

// openChannel opens a channel on path and closes it at test end.
func openChannel(t *testing.T, path string, opts ...file.Option) *file.Channel {
	t.Helper()
	ch := file.New(comm.Endpoint{Host: "test", CommDev: path}, opts...)
	require.NoError(t, ch.Open(context.Background()))
	t.Cleanup(func() { ch.Close() })
	return ch
}

// readN reads from ch until n bytes have arrived or the deadline passes.
func readN(t *testing.T, ch *file.Channel, n int) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []byte
	for len(got) < n {
		buf, err := ch.Read(ctx, n-len(got))
		require.NoError(t, err)
		require.NotEmpty(t, buf)
		got = append(got, buf...)
	}
	return got
}

func skipIfRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
}
