package comm

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultType is the registry key used when an endpoint does not name one.
const DefaultType = "file"

// Endpoint describes one logical communication target backed by a
// filesystem path. The channel treats it as opaque; the caller owns it.
type Endpoint struct {
	Host    string `toml:"host"`
	CommDev string `toml:"commdev"`
	Type    string `toml:"type"`
}

// TypeKey returns the registry key for the endpoint, falling back to
// DefaultType.
func (e Endpoint) TypeKey() string {
	if e.Type == "" {
		return DefaultType
	}
	return e.Type
}

// String returns a human-readable representation.
func (e Endpoint) String() string {
	if e.Host == "" {
		return e.CommDev
	}
	return fmt.Sprintf("%s=%s", e.Host, e.CommDev)
}

// ParseEndpoint parses a CLI argument into an Endpoint.
//
// Supported formats:
//   - /dev/ttyUSB0            → host "ttyUSB0"
//   - board1=/dev/ttyUSB0     → host "board1"
//
// The host part must not contain a path separator, so "./a=b" is a path.
func ParseEndpoint(arg string) (Endpoint, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	host, path, found := strings.Cut(arg, "=")
	if !found || strings.ContainsRune(host, filepath.Separator) {
		return Endpoint{Host: filepath.Base(arg), CommDev: arg}, nil
	}
	if host == "" || path == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: want host=path", arg)
	}
	return Endpoint{Host: host, CommDev: path}, nil
}
