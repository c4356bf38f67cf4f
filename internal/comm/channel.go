package comm

import (
	"context"

	"go.uber.org/multierr"
)

// Channel is an open, bidirectional byte stream bound to one endpoint.
type Channel interface {
	// Open acquires the underlying endpoint. Must be paired with Close.
	Open(ctx context.Context) error

	// Close releases the endpoint. Pending writes are drained first.
	Close() error

	// Read blocks until data is available and returns up to size bytes.
	// io.EOF signals end of stream.
	Read(ctx context.Context, size int) ([]byte, error)

	// Write queues buf for delivery and returns without touching the device.
	Write(buf []byte) error

	// Flush waits until every write queued before the call has completed.
	Flush(ctx context.Context) error

	// Err reports a sticky channel fault, or nil while the channel is healthy.
	Err() error

	// Endpoint returns the descriptor the channel was created for.
	Endpoint() Endpoint
}

// Use opens ch, runs fn, and closes ch. Errors from fn and Close are
// combined.
func Use(ctx context.Context, ch Channel, fn func(Channel) error) (err error) {
	if err := ch.Open(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, ch.Close())
	}()
	return fn(ch)
}
