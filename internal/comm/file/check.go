package file

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/event"
)

// IdentityKey names the physical file behind a path.
type IdentityKey struct {
	Dev uint64
	Ino uint64
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%d:%d", k.Dev, k.Ino)
}

// Identify resolves symlinks and returns the identity of the file at path.
func Identify(path string) (IdentityKey, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return IdentityKey{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return IdentityKey{}, fmt.Errorf("stat %s: %w", path, unix.EISDIR)
	}
	return identityFromStat(&st), nil
}

// checkWritable reports why path cannot be written by this process, or nil.
func checkWritable(path string) error {
	if path == "" {
		return errors.New("empty commdev path")
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("access %s: %w", path, err)
	}
	return nil
}

// Classification partitions a list of endpoints.
type Classification struct {
	Good     []comm.Endpoint
	Conflict []comm.Endpoint
	Wrong    []comm.Endpoint
}

// Validator classifies endpoints before channels are opened on them.
// The zero value logs through slog.Default and emits no events.
type Validator struct {
	Logger *slog.Logger
	Events chan<- event.Event
}

// Check appends every host to exactly one of good, conflict or wrong.
//
// A host is wrong when its path is missing, not writable, or a directory.
// Hosts whose paths resolve to the same device and inode (symlinks, hard
// links, bind mounts) are all conflicts. The rest are good. Each bucket
// keeps input order.
func (v Validator) Check(hosts []comm.Endpoint, good, conflict, wrong *[]comm.Endpoint) {
	log := v.Logger
	if log == nil {
		log = slog.Default()
	}

	keys := make([]IdentityKey, len(hosts))
	usable := make([]bool, len(hosts))
	groups := make(map[IdentityKey]int)

	for i, h := range hosts {
		err := checkWritable(h.CommDev)
		if err == nil {
			keys[i], err = Identify(h.CommDev)
		}
		if err != nil {
			log.Warn("endpoint not usable", "host", h.Host, "path", h.CommDev, "error", err)
			*wrong = append(*wrong, h)
			v.emit(event.EndpointWrong, h, err)
			continue
		}
		usable[i] = true
		groups[keys[i]]++
	}

	for i, h := range hosts {
		if !usable[i] {
			continue
		}
		if groups[keys[i]] > 1 {
			log.Warn("endpoint shares a file with another endpoint",
				"host", h.Host, "path", h.CommDev, "identity", keys[i].String())
			*conflict = append(*conflict, h)
			v.emit(event.EndpointConflict, h, nil)
			continue
		}
		*good = append(*good, h)
		v.emit(event.EndpointGood, h, nil)
	}
}

// Classify runs Check and returns the buckets.
func (v Validator) Classify(hosts []comm.Endpoint) Classification {
	var c Classification
	v.Check(hosts, &c.Good, &c.Conflict, &c.Wrong)
	return c
}

func (v Validator) emit(t event.Type, h comm.Endpoint, err error) {
	event.Send(v.Events, event.Event{Type: t, Host: h.Host, Path: h.CommDev, Error: err})
}

// Check classifies hosts with a zero Validator. It matches comm.CheckFunc.
func Check(hosts []comm.Endpoint, good, conflict, wrong *[]comm.Endpoint) {
	Validator{}.Check(hosts, good, conflict, wrong)
}
