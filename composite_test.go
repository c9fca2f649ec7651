package rfpipe_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/attrs"
	"github.com/pipelined/rfpipe/chunked"
)

// TestMain verifies no goroutine started by Composite's errgroup
// fan-out (Allocate/Deallocate/Start/End/Unbind) outlives its test,
// the same guard the teacher applies around pipe.go's own fan-out in
// network_test.go.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// passThrough is a minimal Stage that advances one nt_chunk window at
// a time and never ends on its own, used only to give a Composite a
// first child with a chosen preferred chunk size.
type passThrough struct {
	*rfpipe.Base
	ntChunk int64
}

func newPassThrough(name string, ntChunk int64) *passThrough {
	return &passThrough{Base: rfpipe.NewBase(name), ntChunk: ntChunk}
}

func (s *passThrough) PreferredChunkSize() int64 { return s.ntChunk }
func (s *passThrough) BindInner(dict rfpipe.RingBufferDict, doc attrs.Doc) error {
	s.SetNTChunkOut(s.ntChunk)
	s.SetNTMaxgap(0)
	s.SetNTContig(s.ntChunk)
	return nil
}
func (s *passThrough) UnbindInner() error         { return nil }
func (s *passThrough) AllocateInner() error       { return nil }
func (s *passThrough) DeallocateInner() error     { return nil }
func (s *passThrough) StartInner(attrs.Doc) error { return nil }
func (s *passThrough) EndInner(attrs.Doc) error   { return nil }
func (s *passThrough) AdvanceInner() (rfpipe.Position, error) {
	for int64(s.PosLo()) <= int64(s.PosHi())-s.ntChunk {
		s.SetPosLo(s.PosLo() + rfpipe.Position(s.ntChunk))
	}
	return rfpipe.NoEnd, nil
}
func (s *passThrough) Jsonize() (attrs.Doc, error) {
	return attrs.Doc{"class_name": "pass_through", "nt_chunk": s.ntChunk}, nil
}

// noopProcessor is a chunked.Processor that creates a single buffer
// with nds=1 and never reports end-of-stream.
type noopProcessor struct {
	base *chunked.Stage
}

func (p *noopProcessor) BindChunked(dict rfpipe.RingBufferDict, doc attrs.Doc) error {
	_, err := p.base.CreateBuffer(dict, "x", []int64{1}, 1)
	return err
}

func (p *noopProcessor) ProcessChunk(pos rfpipe.Position) (bool, error) {
	return true, nil
}

// TestCompositeAdvanceWithNonDividingChunkSize covers a Composite
// whose last child's nt_chunk does not divide the upstream
// nt_chunk_in (nt_chunk_in=48, nt_chunk=64, so nt_chunk_out=64): after
// one Advance to pos_hi=48 the chunked child has not completed a full
// window of 64, so its own pos_lo stays 0. The composite must take
// pos_lo from the last child's actual pos_lo, not force it to pos_hi,
// or the composite's own postcondition check (pos_lo a multiple of
// nt_chunk_out=64) fails on a perfectly valid advance.
func TestCompositeAdvanceWithNonDividingChunkSize(t *testing.T) {
	first := newPassThrough("first", 48)

	proc := &noopProcessor{}
	second := chunked.New("second", proc, false)
	proc.base = second
	second.NTChunk = 64

	c := rfpipe.NewComposite("composite", first, second)
	require.NoError(t, c.BindStandalone(c))
	require.NoError(t, c.Allocate(c))
	require.NoError(t, c.StartPipeline(c, nil, attrs.Doc{}))

	n, err := c.Advance(c, rfpipe.Position(48), rfpipe.Position(48))
	require.NoError(t, err, "a valid advance must not fail the composite's own postcondition check")
	require.Equal(t, rfpipe.NoEnd, n)
	require.Equal(t, rfpipe.Position(0), c.PosLo(), "pos_lo must come from the last child's own pos_lo, not be forced to pos_hi")
}
