package maskcounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/attrs"
	"github.com/pipelined/rfpipe/ring"
)

type fakeChunk struct {
	mask    []byte
	nfreq   int
	hasMask bool
}

func (c *fakeChunk) RFIMask() []byte     { return c.mask }
func (c *fakeChunk) NRFIFreq() int       { return c.nfreq }
func (c *fakeChunk) SetHasRFIMask(v bool) { c.hasMask = v }

type fakeDevice struct {
	notified []AssembledChunk
}

func (d *fakeDevice) FilledRFIMask(chunk AssembledChunk) {
	d.notified = append(d.notified, chunk)
}

type fakeStream struct {
	chunk   *fakeChunk
	devices []OutputDevice
}

func (s *fakeStream) FindAssembledChunk(beam int, fpgaCounts uint64) AssembledChunk {
	if s.chunk == nil {
		return nil
	}
	return s.chunk
}

func (s *fakeStream) OutputDevices() []OutputDevice { return s.devices }

type fakeCallback struct {
	measurements []Measurement
}

func (c *fakeCallback) MaskCount(m Measurement) { c.measurements = append(c.measurements, m) }

func newBoundStage(t *testing.T, nfreq int, ntChunk int64) (*Stage, rfpipe.RingBufferDict) {
	t.Helper()
	dict := rfpipe.RingBufferDict{}
	weights, err := ring.New([]int64{int64(nfreq)}, 1)
	require.NoError(t, err)
	dict["weights"] = weights

	s := New(ntChunk, "test")
	require.NoError(t, s.Base.Bind(s, dict, ntChunk, ntChunk, attrs.Doc{}))
	require.NoError(t, s.Allocate(s))

	// Simulate the upstream producer that actually owns and allocates
	// the "weights" buffer: outside this test, CreateBuffer/Allocate/
	// Start on it are driven by that producer's own lifecycle, not by
	// this (downstream) stage's.
	require.NoError(t, weights.Allocate())
	require.NoError(t, weights.Start())

	return s, dict
}

func fillWeights(t *testing.T, s *Stage, pos, n int64, zero map[int64]bool) {
	t.Helper()
	a, err := s.weights.Get(pos, pos+n, ring.Append)
	require.NoError(t, err)
	for f := int64(0); f < s.weights.CSize(); f++ {
		row := a.Row(f)
		for i := range row {
			if zero[f*n+int64(i)] {
				row[i] = 0
			} else {
				row[i] = 1
			}
		}
	}
	require.NoError(t, a.Put())
}

// Scenario 6, degraded branch: no stream attached, ProcessChunk still
// tabulates masked samples correctly and never touches an upstream
// chunk.
func TestProcessChunkFallsBackWithoutStream(t *testing.T) {
	s, _ := newBoundStage(t, 2, 16)
	cb := &fakeCallback{}
	s.Callbacks = []Callback{cb}

	require.NoError(t, s.StartPipeline(s, nil, attrs.Doc{}))
	fillWeights(t, s, 0, 16, map[int64]bool{0: true, 5: true})

	alive, err := s.ProcessChunk(0)
	require.NoError(t, err)
	assert.True(t, alive)
	require.Len(t, cb.measurements, 1)
	assert.Equal(t, 2, cb.measurements[0].NSamplesMasked)
}

// Scenario 6, live branch: a stream resolves a chunk whose RFI mask
// matches NFreq, so ProcessChunk fills the mask and notifies output
// devices instead of merely tabulating.
func TestProcessChunkFillsMaskWhenChunkResolved(t *testing.T) {
	s, _ := newBoundStage(t, 2, 16)
	chunk := &fakeChunk{mask: make([]byte, 2*16/8), nfreq: 2}
	dev := &fakeDevice{}
	s.Stream = &fakeStream{chunk: chunk, devices: []OutputDevice{dev}}

	doc := attrs.Doc{"initial_fpga_count": int64(0), "fpga_counts_per_sample": int64(1)}
	require.NoError(t, s.StartPipeline(s, nil, doc))
	fillWeights(t, s, 0, 16, map[int64]bool{1: true})

	alive, err := s.ProcessChunk(0)
	require.NoError(t, err)
	assert.True(t, alive)
	assert.True(t, chunk.hasMask)
	assert.Len(t, dev.notified, 1)
}

// Scenario 6, degraded branch: a stream is attached but resolves no
// chunk for this position, so ProcessChunk still falls back to
// tabulation rather than failing.
func TestProcessChunkFallsBackWhenChunkUnresolved(t *testing.T) {
	s, _ := newBoundStage(t, 2, 16)
	s.Stream = &fakeStream{chunk: nil}
	cb := &fakeCallback{}
	s.Callbacks = []Callback{cb}

	doc := attrs.Doc{"initial_fpga_count": int64(0), "fpga_counts_per_sample": int64(1)}
	require.NoError(t, s.StartPipeline(s, nil, doc))
	fillWeights(t, s, 0, 16, nil)

	alive, err := s.ProcessChunk(0)
	require.NoError(t, err)
	assert.True(t, alive)
	require.Len(t, cb.measurements, 1)
	assert.Zero(t, cb.measurements[0].NSamplesMasked)
}
