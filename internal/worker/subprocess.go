package worker

import (
	"fmt"
	"io"

	"github.com/aristath/montecarlo-stress/internal/inputs"
	"github.com/aristath/montecarlo-stress/internal/kernel"
	"github.com/vmihailenco/msgpack/v5"
)

// Serve is the worker subprocess entrypoint: it reads exactly one JobRequest
// from r, runs the requested permutation range, and streams one Envelope
// per completed permutation to w, followed by a final "done" Envelope. A
// fatal error aborts the stream with a "error" Envelope instead.
func Serve(r io.Reader, w io.Writer) error {
	dec := msgpack.NewDecoder(r)
	enc := msgpack.NewEncoder(w)

	var job JobRequest
	if err := dec.Decode(&job); err != nil {
		return fmt.Errorf("decode job request: %w", err)
	}

	bundle, err := inputs.LoadBundle(job.BundleDir)
	if err != nil {
		return sendError(enc, fmt.Errorf("load bundle: %w", err))
	}
	intensity := kernel.ComputeIntensity(bundle)

	for permIndex := job.PermStart; permIndex < job.PermEnd; permIndex++ {
		row, degenerate := kernel.Simulate(job.BaseSeed, permIndex, bundle, intensity, job.Params)
		env := Envelope{Kind: KindResult, PermIndex: permIndex, Row: row, Degenerate: degenerate}
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	return enc.Encode(Envelope{Kind: KindDone})
}

func sendError(enc *msgpack.Encoder, err error) error {
	_ = enc.Encode(Envelope{Kind: KindError, Message: err.Error()})
	return err
}
