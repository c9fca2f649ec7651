package rfpipe

import (
	"github.com/pipelined/rfpipe/attrs"
	"github.com/pipelined/rfpipe/ring"
)

// Position is a nonnegative integer sample index at the undecimated
// time resolution. All scheduling is expressed in Position (spec.md §3).
type Position int64

// RingBufferDict is the named-resource dictionary threaded through bind,
// letting a downstream stage look up a buffer an upstream stage created
// (spec.md §2).
type RingBufferDict map[string]*ring.Buffer

// Stage is the capability interface every pipeline object implements.
// It replaces the original's virtual-subtype hierarchy per spec.md §9:
// a concrete stage embeds *Base, which supplies the non-virtual outer
// functions (Bind, Allocate, Deallocate, Run, Advance, StartPipeline,
// EndPipeline), and implements these inner hooks.
type Stage interface {
	// Name returns the stage's name, used to prefix fatal errors, to key
	// the stage's metric.Meter, and as the "name" field of its output
	// document.
	Name() string

	// PreferredChunkSize returns >0 if this stage may be first in a
	// pipeline, 0 otherwise (spec.md §4.2).
	PreferredChunkSize() int64

	// BindInner is the subtype hook invoked by Bind. It is responsible
	// for every GetBuffer/CreateBuffer call and must leave
	// nt_chunk_out/nt_contig/nt_maxgap initialized on the embedding Base.
	BindInner(dict RingBufferDict, attrs attrs.Doc) error

	// UnbindInner is the subtype hook invoked by Unbind, the reverse of
	// BindInner: it restores any pre-bind state a stage saved during
	// BindInner (chunked stages restore their pre-bind nt_chunk).
	// Default implementations do nothing.
	UnbindInner() error

	// AllocateInner/DeallocateInner are the subtype hooks invoked by
	// Allocate/Deallocate; default implementations do nothing.
	AllocateInner() error
	DeallocateInner() error

	// StartInner/EndInner are the subtype hooks invoked by
	// StartPipeline/EndPipeline.
	StartInner(attrs attrs.Doc) error
	EndInner(attrs attrs.Doc) error

	// AdvanceInner drives the stage forward and returns the position at
	// which the stage ended (NoEnd while still live).
	AdvanceInner() (Position, error)

	// Jsonize returns the configuration document that would reconstruct
	// this stage via FromJSON. Stages that are not round-trippable may
	// return an error.
	Jsonize() (attrs.Doc, error)
}

// NoEnd is the "still live" sentinel _advance returns while a stage has
// not reached end-of-stream, the Go analogue of SSIZE_MAX.
const NoEnd Position = 1<<63 - 1
