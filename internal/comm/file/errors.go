package file

import (
	"errors"
	"fmt"

	"github.com/bamsammich/commdev/internal/comm"
)

var (
	ErrClosed      = errors.New("channel closed")
	ErrAlreadyOpen = errors.New("channel already open")
)

// ChannelError is a fatal channel failure with the failing endpoint attached.
type ChannelError struct {
	Err      error
	Op       string // open, read, write or close
	Endpoint comm.Endpoint
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
