package maskcounter

import (
	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/attrs"
	"github.com/pipelined/rfpipe/chunked"
	"github.com/pipelined/rfpipe/log"
	"github.com/pipelined/rfpipe/ring"
)

const className = "mask_counter"

// Stage tabulates, for each chunk of weights, how many samples are
// masked (weight == 0). When a Stream is attached and can resolve the
// chunk's upstream assembled-chunk object, it additionally fills that
// chunk's RFI mask bitfield and notifies the stream's output devices;
// otherwise it falls back to tabulation alone (the degraded-input
// path spec.md §6/§7 require every such stage to have).
type Stage struct {
	*chunked.Stage

	Where     string
	NFreq     int
	Beam      int
	Stream    Stream
	Callbacks []Callback

	// Logger reports degraded-input fallbacks (spec.md §7); New sets it
	// to log.Get(), and a zero-value Stage (built without New) falls
	// back to log.Silent{} through the logger() helper below.
	Logger log.Logger

	weights *ring.Buffer

	initialFPGACount    uint64
	fpgaCountsPerSample int64
	fpgaCountsReady     bool
}

// New constructs a mask-counter stage with the given chunk size (the
// stage's own preferred size, matching chime_mask_counter's
// "can_be_first" constructor) and a label, Where, that Jsonize records. Its
// Logger defaults to log.Get(), the same default mixer.New uses for its
// own Logger field; replace it with log.Silent{} to discard output.
func New(ntChunk int64, where string) *Stage {
	if ntChunk <= 0 {
		panic("maskcounter: nt_chunk must be > 0")
	}
	s := &Stage{Where: where, Logger: log.Get()}
	s.Stage = chunked.New("mask_counter", s, true)
	s.Stage.NTChunk = ntChunk
	return s
}

func (s *Stage) logger() log.Logger {
	if s.Logger == nil {
		return log.Silent{}
	}
	return s.Logger
}

// BindChunked fetches the existing "weights" buffer created upstream
// and records its channel count as NFreq.
func (s *Stage) BindChunked(dict rfpipe.RingBufferDict, doc attrs.Doc) error {
	rb, err := s.Base.GetBuffer(dict, "weights")
	if err != nil {
		return err
	}
	s.weights = rb
	s.NFreq = int(rb.CSize())
	return nil
}

// StartInner reads initial_fpga_count/fpga_counts_per_sample out of
// the run's attribute document, the Go analogue of
// chime_mask_counter::_start_pipeline. Their absence is not an error:
// a stage run without a live stream degrades to the generic fallback
// for every chunk.
func (s *Stage) StartInner(doc attrs.Doc) error {
	initial, err := doc.Uint64("initial_fpga_count")
	if err != nil {
		s.logger().Info("chime_mask_counter: initial_fpga_count not set, falling back to generic mask counting")
		s.fpgaCountsReady = false
		return nil
	}
	perSample, err := doc.Int64("fpga_counts_per_sample")
	if err != nil {
		s.logger().Info("chime_mask_counter: fpga_counts_per_sample not set, falling back to generic mask counting")
		s.fpgaCountsReady = false
		return nil
	}
	s.initialFPGACount = initial
	s.fpgaCountsPerSample = perSample
	s.fpgaCountsReady = true
	return nil
}

// ProcessChunk tabulates masked samples for the nt_chunk-wide window
// starting at pos, filling the upstream chunk's RFI mask when a stream
// is attached and can resolve it, otherwise falling back to
// tabulation alone.
func (s *Stage) ProcessChunk(pos rfpipe.Position) (bool, error) {
	nds := s.weights.NDS()
	nt := int(s.Stage.NTChunk / nds)

	a, err := s.weights.Get(int64(pos), int64(pos)+s.Stage.NTChunk, ring.Read)
	if err != nil {
		return false, rfpipe.NewError(s.Name(), "ProcessChunk: %v", err)
	}
	defer a.Put()

	chunk, od := s.findChunk(pos)
	if chunk == nil {
		s.tabulate(a, pos, nt, nil)
		return true, nil
	}

	mask := chunk.RFIMask()
	if mask == nil {
		s.logger().Info("chime_mask_counter: found chunk, but it has no rfi_mask array")
		s.tabulate(a, pos, nt, nil)
		return true, nil
	}
	if chunk.NRFIFreq() != s.NFreq {
		s.logger().Info("chime_mask_counter: chunk's expected number of RFI frequencies does not match nfreq")
		s.tabulate(a, pos, nt, nil)
		return true, nil
	}

	s.tabulate(a, pos, nt, mask)
	chunk.SetHasRFIMask(true)
	for _, dev := range od {
		dev.FilledRFIMask(chunk)
	}
	return true, nil
}

// findChunk resolves the assembled chunk covering pos via the
// attached Stream, returning nil if no stream is attached or no chunk
// is currently resident, the degraded-input branch chime_mask_counter
// takes when "stream not set" or find_assembled_chunk fails.
func (s *Stage) findChunk(pos rfpipe.Position) (AssembledChunk, []OutputDevice) {
	if s.Stream == nil {
		s.logger().Info("chime_mask_counter: processing chunk, but stream not set")
		return nil, nil
	}
	if !s.fpgaCountsReady {
		return nil, nil
	}
	fpgaCounts := uint64(int64(pos)*s.fpgaCountsPerSample) + s.initialFPGACount
	chunk := s.Stream.FindAssembledChunk(s.Beam, fpgaCounts)
	if chunk == nil {
		s.logger().Info("chime_mask_counter: could not find a chunk for this beam and FPGA counts")
		return nil, nil
	}
	return chunk, s.Stream.OutputDevices()
}

// tabulate counts masked samples across every frequency row of the
// access window, packing an 8-wide bitfield into mask when non-nil
// (mirroring chime_mask_counter's byte-per-8-samples RFI mask
// layout), and reports the result to every registered Callback.
func (s *Stage) tabulate(a *ring.Access, pos rfpipe.Position, nt int, mask []byte) {
	meas := Measurement{
		Pos:         int64(pos),
		NSamples:    s.NFreq * nt,
		NT:          nt,
		NF:          s.NFreq,
		FreqsMasked: make([]uint16, s.NFreq),
		TimesMasked: make([]uint16, nt),
	}

	for f := 0; f < s.NFreq; f++ {
		row := a.Row(int64(f))
		for it0 := 0; it0 < nt; it0 += 8 {
			var packed byte
			span := 8
			if it0+span > nt {
				span = nt - it0
			}
			for j := 0; j < span; j++ {
				if row[it0+j] == 0 {
					meas.NSamplesMasked++
					meas.FreqsMasked[f]++
					meas.TimesMasked[it0+j]++
				} else {
					packed |= 1 << uint(j)
				}
			}
			if mask != nil {
				mask[f*nt/8+it0/8] = packed
			}
		}
	}

	for f := 0; f < s.NFreq; f++ {
		if int(meas.FreqsMasked[f]) == nt {
			meas.NFMasked++
		}
	}
	for t := 0; t < nt; t++ {
		if int(meas.TimesMasked[t]) == s.NFreq {
			meas.NTMasked++
		}
	}

	for _, cb := range s.Callbacks {
		cb.MaskCount(meas)
	}
}

// Jsonize renders the configuration needed to reconstruct this stage
// via FromJSON: its chunk size and label.
func (s *Stage) Jsonize() (attrs.Doc, error) {
	return attrs.Doc{
		"class_name": className,
		"nt_chunk":   s.Stage.NTChunk,
		"where":      s.Where,
	}, nil
}

func fromJSON(doc attrs.Doc) (rfpipe.Stage, error) {
	nt, err := doc.Int64("nt_chunk")
	if err != nil {
		return nil, err
	}
	where, err := doc.String("where")
	if err != nil {
		return nil, err
	}
	return New(nt, where), nil
}

func init() {
	rfpipe.RegisterFactory(className, fromJSON)
}
