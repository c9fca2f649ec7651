// Package chunked implements the chunked-stage harness (spec.md §4.3):
// the finalize_nt_chunk size negotiation, the bind glue deriving
// nt_chunk_out/nt_maxgap/nt_contig from nt_chunk, and the advance loop
// that slices the high-water interval into fixed-size chunks and hands
// each to a user-supplied ProcessChunk hook. It is grounded on
// chunked_pipeline_object.cpp.
package chunked

import (
	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/attrs"
	"github.com/pipelined/rfpipe/internal/mathutil"
)

// Processor is the pair of hooks a concrete chunked stage supplies:
// BindChunked does every get_buffer/create_buffer call (the split
// between _bindc and _process_chunk in the original), and ProcessChunk
// handles exactly nt_chunk samples starting at pos, reporting whether
// the stage is still alive.
type Processor interface {
	BindChunked(dict rfpipe.RingBufferDict, doc attrs.Doc) error
	ProcessChunk(pos rfpipe.Position) (alive bool, err error)
}

// UnbindChunker is an optional extension a Processor may implement to
// run its own cleanup when the stage is unbound, the analogue of
// chunked_pipeline_object's overridable _unbindc.
type UnbindChunker interface {
	UnbindChunked() error
}

// Stage embeds *rfpipe.Base and supplies the Stage interface's
// BindInner/AdvanceInner by wrapping a Processor, the Go analogue of
// chunked_pipeline_object.
type Stage struct {
	*rfpipe.Base

	// NTChunk is the chunk size this stage settled on after bind; unless
	// preset, it is zero until BindInner runs. A stage may set it before
	// Bind to demand a specific chunk size (finalize_nt_chunk then only
	// validates it).
	NTChunk int64

	// CanBeFirst mirrors chunked_pipeline_object's can_be_first: if
	// true, PreferredChunkSize returns NTChunk (which must then be
	// preset to a positive value before Bind).
	CanBeFirst bool

	proc Processor

	prebindNTChunk int64
	downsampledNds []int64
}

// New constructs a chunked Stage named name, wrapping proc.
func New(name string, proc Processor, canBeFirst bool) *Stage {
	return &Stage{Base: rfpipe.NewBase(name), proc: proc, CanBeFirst: canBeFirst}
}

// PreferredChunkSize returns NTChunk when CanBeFirst, 0 otherwise.
func (s *Stage) PreferredChunkSize() int64 {
	if !s.CanBeFirst {
		return 0
	}
	if s.NTChunk == 0 {
		panic("chunked: CanBeFirst stage must set NTChunk to a nonzero value before Bind")
	}
	return s.NTChunk
}

// AddDownsampledView registers an additional downsampling factor that
// must divide the finalized chunk size, for a stage that renders a
// zoomed-out tileset without owning a full ring buffer for it (spec.md
// §4.3 expansion, grounded on zoomable_tileset's nds_arr in
// finalize_nt_chunk()).
func (s *Stage) AddDownsampledView(nds int64) error {
	if nds <= 0 {
		return rfpipeError(s, "AddDownsampledView: nds=%d must be > 0", nds)
	}
	s.downsampledNds = append(s.downsampledNds, nds)
	return nil
}

// BindInner runs the user's BindChunked hook, finalizes the chunk
// size, and derives nt_chunk_out/nt_maxgap/nt_contig from it.
func (s *Stage) BindInner(dict rfpipe.RingBufferDict, doc attrs.Doc) error {
	s.prebindNTChunk = s.NTChunk

	if err := s.proc.BindChunked(dict, doc); err != nil {
		return err
	}

	if err := s.finalizeNTChunk(); err != nil {
		return err
	}

	ntChunkIn := s.NTChunkIn()
	if ntChunkIn%s.NTChunk != 0 {
		s.SetNTChunkOut(s.NTChunk)
	} else {
		s.SetNTChunkOut(ntChunkIn)
	}
	s.SetNTMaxgap(s.NTChunk - mathutil.Gcd(ntChunkIn, s.NTChunk))
	s.SetNTContig(s.NTChunk)
	return nil
}

// finalizeNTChunk is a no-op if NTChunk was already set (other than
// validating it against every buffer's nds); otherwise it picks the
// largest multiple of lcm(ring buffer ndses, downsampled view ndses)
// that does not exceed max(nt_chunk_in, 512), and never less than the
// lcm itself, the Go analogue of
// chunked_pipeline_object::finalize_nt_chunk().
func (s *Stage) finalizeNTChunk() error {
	ntChunkIn := s.NTChunkIn()
	if ntChunkIn <= 0 {
		return rfpipeError(s, "finalizeNTChunk: expected nt_chunk_in > 0; call this during Bind, after ring buffers are created")
	}

	if s.NTChunk > 0 {
		return s.checkNTChunk()
	}

	m := ntChunkIn
	if m < 512 {
		m = 512
	}
	n := int64(1)
	for _, nds := range s.allBufferNds() {
		n = mathutil.Lcm(n, nds)
	}
	for _, nds := range s.downsampledNds {
		n = mathutil.Lcm(n, nds)
	}

	q := m / n
	if q < 1 {
		q = 1
	}
	s.NTChunk = n * q
	return s.checkNTChunk()
}

func (s *Stage) checkNTChunk() error {
	if s.NTChunk <= 0 {
		return rfpipeError(s, "checkNTChunk: nt_chunk must be > 0")
	}
	for _, nds := range s.allBufferNds() {
		if s.NTChunk%nds != 0 {
			return rfpipeError(s, "nt_chunk (=%d) must be a multiple of every ring buffer's downsampling factor (found nds=%d)", s.NTChunk, nds)
		}
	}
	for _, nds := range s.downsampledNds {
		if s.NTChunk%nds != 0 {
			return rfpipeError(s, "nt_chunk (=%d) must be a multiple of every registered downsampled view's nds (found nds=%d)", s.NTChunk, nds)
		}
	}
	return nil
}

// AdvanceInner slices [pos_lo, pos_hi) into NTChunk-sized chunks,
// calling ProcessChunk for each, and returns the smallest pos_hi seen
// at a chunk that reported itself not alive.
func (s *Stage) AdvanceInner() (rfpipe.Position, error) {
	ret := rfpipe.NoEnd
	for int64(s.PosLo()) <= int64(s.PosHi())-s.NTChunk {
		alive, err := s.proc.ProcessChunk(s.PosLo())
		if err != nil {
			return 0, err
		}
		if !alive && s.PosHi() < ret {
			ret = s.PosHi()
		}
		s.SetPosLo(s.PosLo() + rfpipe.Position(s.NTChunk))
	}
	return ret, nil
}

// UnbindInner runs the processor's own UnbindChunked hook, if it
// implements one, then restores nt_chunk to its pre-bind value, the
// Go analogue of chunked_pipeline_object::_unbind() reverting nt_chunk
// after calling the overridable _unbindc().
func (s *Stage) UnbindInner() error {
	if u, ok := s.proc.(UnbindChunker); ok {
		if err := u.UnbindChunked(); err != nil {
			return err
		}
	}
	s.NTChunk = s.prebindNTChunk
	return nil
}

// AllocateInner/DeallocateInner/StartInner/EndInner/Jsonize default to
// no-ops so embedding Stage alone satisfies rfpipe.Stage; a concrete
// stage overrides the ones it needs.
func (s *Stage) AllocateInner() error       { return nil }
func (s *Stage) DeallocateInner() error     { return nil }
func (s *Stage) StartInner(attrs.Doc) error { return nil }
func (s *Stage) EndInner(attrs.Doc) error   { return nil }
func (s *Stage) Jsonize() (attrs.Doc, error) {
	return nil, rfpipeError(s, "Jsonize not implemented")
}

func (s *Stage) allBufferNds() []int64 {
	var nds []int64
	for _, rb := range s.AllRingBuffers() {
		nds = append(nds, rb.NDS())
	}
	return nds
}

func rfpipeError(s *Stage, format string, args ...interface{}) error {
	return rfpipe.NewError(s.Name(), format, args...)
}
