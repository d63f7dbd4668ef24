// Package worker implements the coordinator-to-subprocess protocol that
// runs one chunk of a cell's permutations in an isolated process: a panic,
// an OOM, or a hang in the kernel takes down only that subprocess, which the
// scheduler can kill on a timeout, rather than the whole run. The failed cell
// is not retried within the run; it resumes from its metrics file on the
// next invocation.
package worker

import (
	"github.com/aristath/montecarlo-stress/internal/model"
)

// JobRequest is the one message a worker subprocess reads from stdin before
// it starts producing.
type JobRequest struct {
	CellID    string           `msgpack:"cell_id"`
	Params    model.CellParams `msgpack:"params"`
	BundleDir string           `msgpack:"bundle_dir"`
	BaseSeed  uint32           `msgpack:"base_seed"`
	PermStart uint32           `msgpack:"perm_start"`
	PermEnd   uint32           `msgpack:"perm_end"` // exclusive
}

// Envelope is one frame of the stream a worker subprocess writes to stdout.
// msgpack values are self-delimiting, so a sequence of Envelopes can be
// decoded one at a time off the same stream without separate length
// prefixes.
type Envelope struct {
	Kind       string          `msgpack:"kind"` // "result", "done", or "error"
	PermIndex  uint32          `msgpack:"perm_index,omitempty"`
	Row        model.MetricsRow `msgpack:"row,omitempty"`
	Degenerate bool            `msgpack:"degenerate,omitempty"`
	Message    string          `msgpack:"message,omitempty"`
}

const (
	KindResult = "result"
	KindDone   = "done"
	KindError  = "error"
)
