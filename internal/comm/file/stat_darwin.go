//go:build darwin

package file

import "golang.org/x/sys/unix"

// identityFromStat extracts the device/inode pair from a unix.Stat_t.
func identityFromStat(st *unix.Stat_t) IdentityKey {
	return IdentityKey{
		Dev: uint64(st.Dev), //nolint:gosec // G115: dev_t is int32 on darwin, always non-negative
		Ino: st.Ino,
	}
}
