//go:build linux

package file

import "golang.org/x/sys/unix"

// identityFromStat extracts the device/inode pair from a unix.Stat_t.
func identityFromStat(st *unix.Stat_t) IdentityKey {
	return IdentityKey{Dev: uint64(st.Dev), Ino: st.Ino} //nolint:unconvert // Dev is uint32 on some 32-bit arches
}
