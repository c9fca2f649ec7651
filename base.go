package rfpipe

import (
	"time"

	"github.com/rs/xid"

	"github.com/pipelined/rfpipe/attrs"
	"github.com/pipelined/rfpipe/metric"
	"github.com/pipelined/rfpipe/outfile"
	"github.com/pipelined/rfpipe/ring"
)

// Base supplies the non-virtual outer lifecycle every Stage embeds:
// Bind/Allocate/Deallocate/Run/Advance/StartPipeline/EndPipeline,
// buffer bookkeeping, and plot/output-file helpers. It is grounded
// directly on pipeline_object.cpp; a concrete stage embeds *Base and
// implements the Stage interface's inner hooks, the capability-based
// replacement for the original's virtual-subtype hierarchy (spec.md §9).
type Base struct {
	name string

	ntChunkIn  int64
	ntChunkOut int64
	ntMaxlag   int64
	ntMaxgap   int64
	ntContig   int64

	posLo  Position
	posHi  Position
	posMax Position

	allRingBuffers []*ring.Buffer
	newRingBuffers []*ring.Buffer

	outMp      *outfile.Manager
	plotGroups []*PlotGroup

	timeSpentInTransform time.Duration
}

// NewBase constructs a Base for a stage with the given name. name must
// be nonempty; pipeline_object's constructor requires it for exactly
// this reason (so fatal errors can be attributed to a stage).
func NewBase(name string) *Base {
	return &Base{name: name}
}

// Name returns the stage's name.
func (b *Base) Name() string { return b.name }

func (b *Base) throw(format string, args ...interface{}) error {
	return fail(b.name, format, args...)
}

// IsBound reports whether Bind has completed.
func (b *Base) IsBound() bool { return b.ntChunkIn > 0 }

// Bind runs the stage's BindInner hook exactly once, threading a
// shared buffer dictionary and attribute document through it, then
// widens every ring buffer this stage touched to the chunk/lag
// parameters it settled on. It is the Go analogue of
// pipeline_object::bind(ring_buffer_dict&, ssize_t, ssize_t, Json::Value&).
func (b *Base) Bind(s Stage, dict RingBufferDict, ntChunkIn, ntMaxlag int64, doc attrs.Doc) error {
	if ntChunkIn <= 0 {
		return b.throw("Bind: nt_chunk_in=%d must be > 0", ntChunkIn)
	}
	if ntMaxlag <= 0 {
		return b.throw("Bind: nt_maxlag=%d must be > 0", ntMaxlag)
	}
	if b.name == "" {
		return fail("", "pipeline_object did not initialize its name field")
	}
	if b.IsBound() {
		return b.throw("double call to Bind; a stage cannot be reused in two pipelines")
	}

	b.ntChunkIn = ntChunkIn
	b.ntMaxlag = ntMaxlag

	if err := s.BindInner(dict, doc); err != nil {
		return err
	}

	if b.ntChunkIn != ntChunkIn {
		return b.throw("internal error: nt_chunk_in was modified inside BindInner")
	}
	if b.ntMaxlag != ntMaxlag {
		return b.throw("internal error: nt_maxlag was modified inside BindInner")
	}
	if b.ntMaxgap < 0 {
		return b.throw("BindInner failed to initialize nt_maxgap")
	}
	if b.ntChunkOut <= 0 {
		return b.throw("BindInner failed to initialize nt_chunk_out")
	}
	if b.ntContig <= 0 {
		return b.throw("BindInner failed to initialize nt_contig")
	}

	for _, rb := range b.allRingBuffers {
		if err := rb.UpdateParams(b.ntContig, b.ntMaxlag+b.ntMaxgap); err != nil {
			return b.throw("UpdateParams on a bound buffer: %v", err)
		}
	}
	return nil
}

// Unbind reverses a completed Bind: it runs UnbindInner (which, for a
// chunked stage, restores the pre-bind nt_chunk), then resets the
// outer bind state so the stage could be bound again into a different
// pipeline, the generalization of
// chunked_pipeline_object::_unbind()/_unbindc() to every stage.
func (b *Base) Unbind(s Stage) error {
	if !b.IsBound() {
		return b.throw("Unbind called on a stage that was never bound")
	}
	if err := s.UnbindInner(); err != nil {
		return err
	}
	b.ntChunkIn = 0
	b.ntChunkOut = 0
	b.ntMaxlag = 0
	b.ntMaxgap = 0
	b.ntContig = 0
	return nil
}

// BindStandalone binds a stage as the sole top-level entry point: its
// preferred chunk size becomes nt_chunk_in and nt_maxlag, and the
// resulting document is discarded, mirroring pipeline_object::bind().
func (b *Base) BindStandalone(s Stage) error {
	n := s.PreferredChunkSize()
	if n <= 0 {
		return b.throw("this stage cannot be first in a pipeline")
	}
	dict := RingBufferDict{}
	return b.Bind(s, dict, n, n, attrs.Doc{})
}

// GetBuffer looks up an existing buffer by key, required present in
// dict, and records it against this stage for the post-Bind
// UpdateParams sweep.
func (b *Base) GetBuffer(dict RingBufferDict, key string) (*ring.Buffer, error) {
	rb, ok := dict[key]
	if !ok {
		return nil, b.throw("buffer %q does not exist in pipeline", key)
	}
	b.allRingBuffers = append(b.allRingBuffers, rb)
	return rb, nil
}

// CreateBuffer allocates a new ring buffer under key, required absent
// from dict, and records it both for UpdateParams and for
// Allocate/Deallocate/StartPipeline's per-run bookkeeping.
func (b *Base) CreateBuffer(dict RingBufferDict, key string, cdims []int64, nds int64) (*ring.Buffer, error) {
	if _, dup := dict[key]; dup {
		return nil, b.throw("buffer %q already exists in pipeline", key)
	}
	rb, err := ring.New(cdims, nds)
	if err != nil {
		return nil, b.throw("create buffer %q: %v", key, err)
	}
	dict[key] = rb
	b.allRingBuffers = append(b.allRingBuffers, rb)
	b.newRingBuffers = append(b.newRingBuffers, rb)
	return rb, nil
}

// Allocate binds the stage if necessary, allocates every buffer it
// created, then runs AllocateInner.
func (b *Base) Allocate(s Stage) error {
	if !b.IsBound() {
		if err := b.BindStandalone(s); err != nil {
			return err
		}
	}
	for _, rb := range b.newRingBuffers {
		if err := rb.Allocate(); err != nil {
			return b.throw("allocate buffer: %v", err)
		}
	}
	return s.AllocateInner()
}

// Deallocate runs DeallocateInner, then deallocates every buffer this
// stage created.
func (b *Base) Deallocate(s Stage) error {
	if err := s.DeallocateInner(); err != nil {
		return err
	}
	for _, rb := range b.newRingBuffers {
		if err := rb.Deallocate(); err != nil {
			return b.throw("deallocate buffer: %v", err)
		}
	}
	return nil
}

// Advance wraps AdvanceInner with the precondition/postcondition
// checks pipeline_object::advance() enforces, and accumulates the time
// spent inside AdvanceInner for the run's reported cpu_time.
func (b *Base) Advance(s Stage, posHi, posMax Position) (Position, error) {
	start := time.Now()

	if b.ntChunkIn <= 0 {
		return 0, b.throw("internal error: Advance called before Bind")
	}
	if b.ntChunkOut <= 0 {
		return 0, b.throw("internal error: nt_chunk_out not initialized")
	}
	if posHi < b.posHi {
		return 0, b.throw("internal error: Advance called with decreasing pos_hi")
	}
	if posMax < posHi {
		return 0, b.throw("internal error: pos_max < pos_hi in Advance")
	}
	if posMax > b.posHi+Position(b.ntMaxlag) {
		return 0, b.throw("internal error: pos_max exceeds pos_hi+nt_maxlag in Advance")
	}
	if int64(posHi)%b.ntChunkIn != 0 {
		return 0, b.throw("internal error: pos_hi is not a multiple of nt_chunk_in")
	}

	samplesIn := int64(posHi - b.posHi)
	b.posHi = posHi
	b.posMax = posMax

	ret, err := s.AdvanceInner()
	if err != nil {
		return 0, err
	}

	if b.posHi != posHi {
		return 0, b.throw("internal error: pos_hi was modified inside AdvanceInner")
	}
	if int64(b.posLo)%b.ntChunkOut != 0 {
		return 0, b.throw("internal error: pos_lo is not a multiple of nt_chunk_out after AdvanceInner")
	}
	if b.posLo > b.posHi {
		return 0, b.throw("internal error: pos_lo > pos_hi after AdvanceInner")
	}
	if b.posHi-b.posLo > Position(b.ntMaxgap) {
		return 0, b.throw("internal error: (pos_hi-pos_lo) > nt_maxgap after AdvanceInner")
	}

	elapsed := time.Since(start)
	b.timeSpentInTransform += elapsed
	metric.For(b.name).Advance(elapsed, samplesIn)
	return ret, nil
}

// StartPipeline installs the output manager (a nil mp is replaced by an
// empty-directory Manager, which refuses every AddFile), resets per-run
// position and plot-group state, starts every buffer this stage created,
// then runs StartInner.
func (b *Base) StartPipeline(s Stage, mp *outfile.Manager, doc attrs.Doc) error {
	if b.outMp != nil {
		return b.throw("double call to StartPipeline without a matching EndPipeline, or this stage appears twice in the pipeline")
	}
	if mp == nil {
		mp = outfile.New("", false)
	}
	b.outMp = mp
	b.plotGroups = nil
	b.timeSpentInTransform = 0
	b.posLo, b.posHi, b.posMax = 0, 0, 0

	for _, rb := range b.newRingBuffers {
		if err := rb.Start(); err != nil {
			return b.throw("start buffer: %v", err)
		}
	}
	return s.StartInner(doc)
}

// EndPipeline runs EndInner, fills in name/cpu_time/plots if EndInner
// left them unset, then releases the output manager and plot groups.
// The output manager and plot groups are released even when EndInner
// fails.
func (b *Base) EndPipeline(s Stage, doc attrs.Doc) error {
	if err := s.EndInner(doc); err != nil {
		b.outMp = nil
		b.plotGroups = nil
		return err
	}

	defaults := attrs.Doc{
		"name":     b.name,
		"cpu_time": b.timeSpentInTransform.Seconds(),
	}
	if len(b.plotGroups) > 0 {
		plots := make([]interface{}, 0, len(b.plotGroups))
		for _, g := range b.plotGroups {
			if g.IsEmpty {
				continue
			}
			plots = append(plots, g.Doc())
		}
		defaults["plots"] = plots
	}
	doc.Merge(defaults)

	b.outMp = nil
	b.plotGroups = nil
	return nil
}

// Run drives a full pipeline run to completion: Allocate, StartPipeline,
// an Advance loop to end-of-stream, then EndPipeline — writing
// rf_pipeline_0.json under outdir even if the Advance loop fails, and
// re-raising that failure afterward, the Go analogue of
// pipeline_object::run()'s try/catch-then-write-then-rethrow shape.
func (b *Base) Run(s Stage, outdir string, clobber bool) (attrs.Doc, error) {
	if b.outMp != nil {
		return nil, b.throw("Run called while an earlier StartPipeline has no matching EndPipeline; its output manager is still set")
	}

	mp := outfile.New(outdir, clobber)
	if err := b.Allocate(s); err != nil {
		return nil, err
	}
	if err := b.StartPipeline(s, mp, attrs.Doc{}); err != nil {
		return nil, err
	}

	var runErr error
	ntEnd := NoEnd
	for b.posLo < ntEnd {
		m := b.posHi + Position(b.ntChunkIn)
		n, err := b.Advance(s, m, m)
		if err != nil {
			runErr = err
			break
		}
		if n < ntEnd {
			ntEnd = n
		}
	}

	doc := attrs.Doc{}
	if err := b.EndPipeline(s, doc); err != nil {
		if runErr == nil {
			runErr = err
		}
	}
	doc["run_id"] = xid.New().String()

	if outdir != "" {
		path, err := mp.AddFile("rf_pipeline_0.json")
		if err == nil {
			_ = doc.WriteFile(path)
		} else if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return doc, runErr
	}
	return doc, nil
}

// PosLo, PosHi, PosMax, NTChunkIn, NTChunkOut, NTMaxlag, NTMaxgap,
// NTContig expose the fields a concrete stage's inner hooks read and
// write while implementing BindInner/AdvanceInner.
func (b *Base) PosLo() Position  { return b.posLo }
func (b *Base) PosHi() Position  { return b.posHi }
func (b *Base) PosMax() Position { return b.posMax }

func (b *Base) SetPosLo(p Position) { b.posLo = p }

// AllRingBuffers returns every ring buffer this stage has touched via
// GetBuffer or CreateBuffer, in the order first touched.
func (b *Base) AllRingBuffers() []*ring.Buffer { return b.allRingBuffers }

func (b *Base) NTChunkIn() int64  { return b.ntChunkIn }
func (b *Base) NTChunkOut() int64 { return b.ntChunkOut }
func (b *Base) NTMaxlag() int64   { return b.ntMaxlag }
func (b *Base) NTMaxgap() int64   { return b.ntMaxgap }
func (b *Base) NTContig() int64   { return b.ntContig }

func (b *Base) SetNTChunkOut(n int64) { b.ntChunkOut = n }
func (b *Base) SetNTMaxgap(n int64)   { b.ntMaxgap = n }
func (b *Base) SetNTContig(n int64)   { b.ntContig = n }

// AddPlotGroup declares a new named plot group and returns its id for
// use with AddPlot.
func (b *Base) AddPlotGroup(name string, ntPerPix, ny int) (int, error) {
	if ntPerPix < 1 {
		return 0, b.throw("AddPlotGroup: nt_per_pix must be >= 1")
	}
	if ny < 1 {
		return 0, b.throw("AddPlotGroup: ny must be >= 1")
	}
	for _, g := range b.plotGroups {
		if g.Name == name {
			return 0, b.throw("AddPlotGroup: duplicate plot group name %q", name)
		}
	}
	b.plotGroups = append(b.plotGroups, &PlotGroup{
		Name:     name,
		NTPerPix: ntPerPix,
		NY:       ny,
		IsEmpty:  true,
	})
	return len(b.plotGroups) - 1, nil
}

// AddPlot registers a plot file within groupID's contiguous time range
// and returns the path AddFile allocated for it.
func (b *Base) AddPlot(basename string, it0 int64, nt, nx, ny, groupID int) (string, error) {
	if len(b.plotGroups) == 0 {
		return "", b.throw("AddPlot called but no plot groups defined; call AddPlotGroup first")
	}
	if groupID < 0 || groupID >= len(b.plotGroups) {
		return "", b.throw("AddPlot: bad group id %d", groupID)
	}
	g := b.plotGroups[groupID]

	if nt != g.NTPerPix*nx {
		return "", b.throw("AddPlot: requirement nt == nx*nt_per_pix failed")
	}
	if ny != g.NY {
		return "", b.throw("AddPlot: ny does not match the value given to AddPlotGroup")
	}

	if g.IsEmpty {
		g.IsEmpty = false
		g.CurrIT0 = it0
	} else if it0 != g.CurrIT1 {
		return "", b.throw("AddPlot: plot time ranges are not contiguous")
	}

	path, err := b.AddFile(basename)
	if err != nil {
		return "", err
	}

	g.CurrIT1 = it0 + int64(nt)
	g.Files = append(g.Files, attrs.Doc{
		"filename": basename,
		"it0":      it0,
		"nx":       nx,
	})
	return path, nil
}

// AddFile allocates a path for an arbitrary (non-plot) output file
// under the run's output directory.
func (b *Base) AddFile(basename string) (string, error) {
	if b.outMp == nil {
		return "", b.throw("internal error: no output manager in AddFile; is the stage outside a Run?")
	}
	return b.outMp.AddFile(basename)
}
