// Package ring implements the fixed-capacity, wrap-around, multi-channel
// ring buffer that pipeline stages use to exchange time-ordered,
// frequency-channelized samples (spec.md §3, §4.1). It is grounded on
// ring_buffer.cpp, adapted from a raw aligned float* store to a single
// flat []float64 slice and from a bare get/put pointer pair to a scoped
// Access handle (spec.md §9's "the natural implementation binds the
// window to a scoped object whose release invokes put").
package ring

import (
	"fmt"

	"github.com/pipelined/rfpipe/internal/mathutil"
)

// Mode is the access mode passed to Get. It mirrors ACCESS_READ,
// ACCESS_WRITE, ACCESS_RW and ACCESS_APPEND from ring_buffer.cpp: Append
// carries the Write bit so put's "does this mode write" check is a
// single bit test, but is distinguished from Write by its own bit so
// Get can require p0 == CurrPos only for Append.
type Mode uint8

const (
	// None is never a valid argument to Get.
	None Mode = 0
	// Read opens a read-only access window.
	Read Mode = 1 << 0
	// Write opens a write-only access window over existing ring space.
	Write Mode = 1 << 1
	// ReadWrite opens a window that is both read and written.
	ReadWrite Mode = Read | Write
	// Append is the unique write-of-new-data path: p0 must equal CurrPos.
	Append Mode = Write | 1<<2
)

func (m Mode) String() string {
	switch m {
	case None:
		return "None"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case ReadWrite:
		return "ReadWrite"
	case Append:
		return "Append"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Error reports a ring buffer contract violation (spec.md §7's
// "Contract violation" row).
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rfpipe: ring buffer %s: %s", e.Op, e.Msg)
}

func fail(op, format string, args ...interface{}) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Buffer is a fixed-capacity, wrap-around, multi-channel sample store
// addressed by an undecimated sample position (spec.md §3).
type Buffer struct {
	cdims []int64
	csize int64
	nds   int64

	ntContig int64
	ntMaxlag int64

	period int64
	stride int64
	store  []float64 // length csize*stride once allocated

	currPos         int64
	firstValid      int64
	lastValid       int64
	accessOpen      bool
	accessPos0      int64
	accessPos1      int64
	accessMode      Mode
}

// New constructs a ring buffer for the given per-sample channel
// dimensions and downsampling factor. It rejects more than five
// dimensions, non-positive dimensions, and non-positive nds, matching
// ring_buffer::ring_buffer.
func New(cdims []int64, nds int64) (*Buffer, error) {
	if len(cdims) == 0 || len(cdims) > 5 {
		return nil, fail("New", "expected 1-5 channel dimensions, got %d", len(cdims))
	}
	csize := int64(1)
	for i, d := range cdims {
		if d <= 0 {
			return nil, fail("New", "cdims[%d]=%d must be > 0", i, d)
		}
		csize *= d
	}
	if nds <= 0 {
		return nil, fail("New", "nds=%d must be > 0", nds)
	}
	dims := make([]int64, len(cdims))
	copy(dims, cdims)
	return &Buffer{cdims: dims, csize: csize, nds: nds}, nil
}

// CDims returns a copy of the channel dimensions.
func (b *Buffer) CDims() []int64 {
	dims := make([]int64, len(b.cdims))
	copy(dims, b.cdims)
	return dims
}

// CSize returns the product of the channel dimensions.
func (b *Buffer) CSize() int64 { return b.csize }

// NDS returns the downsampling factor.
func (b *Buffer) NDS() int64 { return b.nds }

// Period returns the ring capacity in stored samples. Zero before Allocate.
func (b *Buffer) Period() int64 { return b.period }

// Stride returns the per-channel row stride in stored samples. Zero
// before Allocate.
func (b *Buffer) Stride() int64 { return b.stride }

// CurrPos returns the producer frontier in stored samples.
func (b *Buffer) CurrPos() int64 { return b.currPos }

// ValidRange returns the half-open [first, last) range of stored
// samples currently holding valid data.
func (b *Buffer) ValidRange() (first, last int64) { return b.firstValid, b.lastValid }

// UpdateParams widens nt_contig/nt_maxlag to the maximum seen so far.
// Must be called before Allocate; each call may only increase the
// parameters, never decrease them (spec.md §4.1).
func (b *Buffer) UpdateParams(ntContig, ntMaxlag int64) error {
	if b.store != nil {
		return fail("UpdateParams", "called after allocate")
	}
	if ntContig <= 0 {
		return fail("UpdateParams", "nt_contig=%d must be > 0", ntContig)
	}
	if ntMaxlag < ntContig {
		return fail("UpdateParams", "nt_maxlag=%d must be >= nt_contig=%d", ntMaxlag, ntContig)
	}
	if ntContig > b.ntContig {
		b.ntContig = ntContig
	}
	if ntMaxlag > b.ntMaxlag {
		b.ntMaxlag = ntMaxlag
	}
	return nil
}

// Allocate sizes and allocates the backing store. It is idempotent: a
// second call without an intervening Deallocate changes no observable
// state (spec.md §8).
func (b *Buffer) Allocate() error {
	if b.ntContig <= 0 {
		return fail("Allocate", "nt_contig=%d must be > 0", b.ntContig)
	}
	if b.ntMaxlag < b.ntContig {
		return fail("Allocate", "nt_maxlag=%d must be >= nt_contig=%d", b.ntMaxlag, b.ntContig)
	}
	if b.accessOpen {
		return fail("Allocate", "called with an access window open")
	}
	if b.store != nil {
		return nil // already allocated; no-op.
	}

	period := mathutil.RoundUp(mathutil.CeilDiv(b.ntMaxlag, b.nds), 32)
	stride := mathutil.RoundUp(period+mathutil.CeilDiv(b.ntContig-1, b.nds), 16)
	if stride%32 == 0 {
		stride += 16 // break power-of-two strides that alias in downstream SIMD kernels.
	}

	b.period = period
	b.stride = stride
	b.store = make([]float64, b.csize*b.stride)
	return nil
}

// Deallocate releases the backing store.
func (b *Buffer) Deallocate() error {
	if b.accessOpen {
		return fail("Deallocate", "called with an access window open")
	}
	b.store = nil
	return nil
}

// Start resets the producer frontier and valid range. Called once per run.
func (b *Buffer) Start() error {
	if b.store == nil {
		return fail("Start", "called before allocate")
	}
	if b.accessOpen {
		return fail("Start", "called with an access window open")
	}
	b.currPos = 0
	b.firstValid = 0
	b.lastValid = 0
	return nil
}

// Access is the scoped get/put lease on a ring-buffer region (spec.md
// §3's "ap"). Exactly one Access may be outstanding per Buffer.
type Access struct {
	buf        *Buffer
	pos0, pos1 int64 // stored-sample coordinates
	mode       Mode
	it0        int64
}

// Row returns the window for channel i as a contiguous slice of length
// (pos1-pos0) stored samples, the caller-visible flat array the ring's
// mirroring makes possible even across a wrap boundary.
func (a *Access) Row(i int64) []float64 {
	base := i*a.buf.stride + a.it0
	return a.buf.store[base : base+(a.pos1-a.pos0)]
}

// NumRows returns the number of channel rows (CSize) addressable via Row.
func (a *Access) NumRows() int64 { return a.buf.csize }

// Get opens an access window covering undecimated positions [pos0,
// pos1). Requires 0 <= pos0 <= pos1, pos1-pos0 <= nt_contig, both
// divisible by nds, and no outstanding access (spec.md §4.1).
func (b *Buffer) Get(pos0, pos1 int64, mode Mode) (*Access, error) {
	if b.store == nil {
		return nil, fail("Get", "called before allocate")
	}
	if b.accessOpen {
		return nil, fail("Get", "access already open")
	}
	if mode == None {
		return nil, fail("Get", "mode must not be None")
	}
	if pos0 < 0 || pos0 > pos1 {
		return nil, fail("Get", "invalid range [%d,%d)", pos0, pos1)
	}
	if pos1-pos0 > b.ntContig {
		return nil, fail("Get", "window width %d exceeds nt_contig=%d", pos1-pos0, b.ntContig)
	}
	if pos0%b.nds != 0 || pos1%b.nds != 0 {
		return nil, fail("Get", "pos0=%d, pos1=%d must be divisible by nds=%d", pos0, pos1, b.nds)
	}

	p0 := pos0 / b.nds
	p1 := pos1 / b.nds

	if mode == Append {
		if p0 != b.currPos {
			return nil, fail("Get", "append requires p0=%d to equal curr_pos=%d", p0, b.currPos)
		}
	} else {
		if p0 < b.currPos-b.period {
			return nil, fail("Get", "p0=%d is outside the ring (curr_pos=%d, period=%d)", p0, b.currPos, b.period)
		}
		if p1 > b.currPos {
			return nil, fail("Get", "p1=%d exceeds curr_pos=%d", p1, b.currPos)
		}
	}

	it0 := p0 % b.period
	it1 := it0 + (p1 - p0)

	if mode&Read != 0 {
		if err := b.mirrorInitial(it0); err != nil {
			return nil, err
		}
		if err := b.mirrorFinal(it1); err != nil {
			return nil, err
		}
	} else {
		if err := b.mirrorInitial(it1); err != nil {
			return nil, err
		}
	}

	if mode == Append {
		b.currPos = p1
	}

	b.accessOpen = true
	b.accessPos0 = p0
	b.accessPos1 = p1
	b.accessMode = mode

	return &Access{buf: b, pos0: p0, pos1: p1, mode: mode, it0: it0}, nil
}

// Put releases the access window, recorded the moment Get returned. If
// the mode does not write, Put is a pure release. Otherwise it extends
// [first_valid_sample, last_valid_sample) to cover the window, clamped
// so the valid span never exceeds one period in width (spec.md §4.1).
func (a *Access) Put() error {
	b := a.buf
	if !b.accessOpen || b.accessPos0 != a.pos0 || b.accessPos1 != a.pos1 || b.accessMode != a.mode {
		return fail("Put", "access does not match the outstanding window")
	}
	b.accessOpen = false

	if a.mode&Write == 0 {
		return nil
	}

	it0 := a.it0
	it1 := it0 + (a.pos1 - a.pos0)

	if it0 < b.firstValid {
		if b.firstValid > it1 {
			return fail("Put", "internal error: firstValid=%d > it1=%d", b.firstValid, it1)
		}
		b.firstValid = it0
	}
	if it1 > b.lastValid {
		if b.lastValid < it0 {
			return fail("Put", "internal error: lastValid=%d < it0=%d", b.lastValid, it0)
		}
		b.lastValid = it1
	}

	if b.lastValid > it0+b.period {
		b.lastValid = it0 + b.period
	}
	if b.firstValid < it1-b.period {
		b.firstValid = it1 - b.period
	}
	return nil
}

// mirrorInitial copies the samples stored one period above [it0,
// first_valid_sample) down into that range, so it becomes valid by
// wrapping data from the high end, then lowers first_valid_sample to it0. Requires the
// currently valid span to already cover a full period, the same
// precondition _mirror_initial asserts before copying.
func (b *Buffer) mirrorInitial(it0 int64) error {
	if it0 >= b.firstValid {
		return nil
	}
	if b.lastValid < b.firstValid+b.period {
		return fail("mirrorInitial", "internal error: valid span [%d,%d) is narrower than one period (%d)", b.firstValid, b.lastValid, b.period)
	}
	b.copy(it0, it0+b.period, b.firstValid-it0)
	b.firstValid = it0
	return nil
}

// mirrorFinal is the symmetric operation at the high end: it copies data
// backward from the low end so that [last_valid_sample, it1) becomes
// valid, then raises last_valid_sample to it1. Requires the currently
// valid span to already cover a full period, the same precondition
// _mirror_final asserts before copying.
func (b *Buffer) mirrorFinal(it1 int64) error {
	if it1 <= b.lastValid {
		return nil
	}
	if b.firstValid > b.lastValid-b.period {
		return fail("mirrorFinal", "internal error: valid span [%d,%d) is narrower than one period (%d)", b.firstValid, b.lastValid, b.period)
	}
	b.copy(b.lastValid, b.lastValid-b.period, it1-b.lastValid)
	b.lastValid = it1
	return nil
}

// copy moves n stored samples from itSrc to itDst in every channel row.
func (b *Buffer) copy(itDst, itSrc, n int64) {
	for i := int64(0); i < b.csize; i++ {
		rowBase := i * b.stride
		copy(b.store[rowBase+itDst:rowBase+itDst+n], b.store[rowBase+itSrc:rowBase+itSrc+n])
	}
}
