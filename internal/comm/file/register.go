package file

import "github.com/bamsammich/commdev/internal/comm"

// TypeKey is the registry key for file-backed channels.
const TypeKey = "file"

const owner = "github.com/bamsammich/commdev/internal/comm/file"

// Register installs the file channel under TypeKey. opts apply to every
// channel the registry creates; v is used for classification.
func Register(r *comm.Registry, v Validator, opts ...Option) error {
	return r.Register(TypeKey, comm.Entry{
		New: func(ep comm.Endpoint) comm.Channel {
			return New(ep, opts...)
		},
		Check: v.Check,
		Owner: owner,
	})
}
