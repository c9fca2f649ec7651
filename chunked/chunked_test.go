package chunked

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/attrs"
)

// fakeProcessor counts ProcessChunk calls and can be told to die at a
// given absolute position.
type fakeProcessor struct {
	cdims  []int64
	nds    int64
	dict   rfpipe.RingBufferDict
	base   *Stage
	calls  []rfpipe.Position
	dieAt  rfpipe.Position
	hasDie bool
}

func (p *fakeProcessor) BindChunked(dict rfpipe.RingBufferDict, doc attrs.Doc) error {
	_, err := p.base.CreateBuffer(dict, "x", p.cdims, p.nds)
	return err
}

func (p *fakeProcessor) ProcessChunk(pos rfpipe.Position) (bool, error) {
	p.calls = append(p.calls, pos)
	if p.hasDie && pos >= p.dieAt {
		return false, nil
	}
	return true, nil
}

func newFakeStage(t *testing.T, nds int64) (*Stage, *fakeProcessor) {
	t.Helper()
	proc := &fakeProcessor{cdims: []int64{1}, nds: nds}
	s := New("fake", proc, true)
	proc.base = s
	return s, proc
}

// Scenario 3: with NTChunk left at zero, chunk-size finalization picks
// the largest multiple of the lcm of every buffer's nds that does not
// exceed max(nt_chunk_in, 512): lcm=3, m=max(100,512)=512, 3*170=510.
// The stage is bound with an explicit nt_chunk_in because a CanBeFirst
// stage must preset NTChunk before BindStandalone.
func TestFinalizeNTChunkPicksMultipleOfLcm(t *testing.T) {
	s, _ := newFakeStage(t, 3)
	require.NoError(t, s.Bind(s, rfpipe.RingBufferDict{}, 100, 100, attrs.Doc{}))

	assert.Zero(t, s.NTChunk%3, "nt_chunk must be a multiple of the buffer's nds")
	assert.Equal(t, int64(510), s.NTChunk)
}

// Scenario 3b: a preset NTChunk is validated, not recomputed, and a
// mismatched preset is rejected.
func TestPresetNTChunkIsValidatedNotRecomputed(t *testing.T) {
	s, _ := newFakeStage(t, 4)
	s.NTChunk = 1024
	require.NoError(t, s.BindStandalone(s))
	assert.Equal(t, int64(1024), s.NTChunk)

	s2, _ := newFakeStage(t, 3)
	s2.NTChunk = 1024 // not a multiple of 3
	assert.Error(t, s2.BindStandalone(s2))
}

// Scenario 4: the advance loop calls ProcessChunk once per NTChunk
// window, in order, and reports NoEnd while every chunk is alive.
func TestAdvanceCallsProcessChunkPerWindow(t *testing.T) {
	s, proc := newFakeStage(t, 1)
	s.NTChunk = 512
	require.NoError(t, s.BindStandalone(s))
	require.NoError(t, s.Allocate(s))
	require.NoError(t, s.StartPipeline(s, nil, attrs.Doc{}))

	var ret rfpipe.Position
	for i := 1; i <= 3; i++ {
		m := rfpipe.Position(int64(i) * 512)
		n, err := s.Advance(s, m, m)
		require.NoError(t, err)
		ret = n
	}
	assert.Equal(t, rfpipe.NoEnd, ret)
	assert.Equal(t, []rfpipe.Position{0, 512, 1024}, proc.calls)
}

func TestAdvanceReportsNotAliveEndpoint(t *testing.T) {
	s, proc := newFakeStage(t, 1)
	s.NTChunk = 512
	proc.hasDie = true
	proc.dieAt = 512
	require.NoError(t, s.BindStandalone(s))
	require.NoError(t, s.Allocate(s))
	require.NoError(t, s.StartPipeline(s, nil, attrs.Doc{}))

	var ret rfpipe.Position
	for i := 1; i <= 2; i++ {
		m := rfpipe.Position(int64(i) * 512)
		n, err := s.Advance(s, m, m)
		require.NoError(t, err)
		ret = n
	}
	assert.Equal(t, rfpipe.Position(1024), ret)
}
