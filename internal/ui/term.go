package ui

import "golang.org/x/term"

// IsTTY reports whether the given file descriptor refers to a terminal.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// MakeRaw puts the terminal on fd into raw mode. The returned func restores
// the previous state.
func MakeRaw(fd uintptr) (func() error, error) {
	state, err := term.MakeRaw(int(fd))
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(int(fd), state) }, nil
}
