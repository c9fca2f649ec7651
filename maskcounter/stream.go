// Package maskcounter implements a chunked stage that tabulates how
// many samples a weights array has masked, filling an optional RFI
// mask back into the upstream network stream's assembled chunk when
// one is reachable, and otherwise falling back to tabulation alone
// (spec.md §6/§7, testable scenario 6). It is grounded on
// chime_mask_counter.cpp / mask_counter_transform.
package maskcounter

import "github.com/pipelined/rfpipe/attrs"

// AssembledChunk is the subset of the upstream network stream's
// per-beam chunk object this stage needs: its RFI mask buffer (nil if
// the stream never allocated one) and how many frequency channels
// that mask covers.
type AssembledChunk interface {
	RFIMask() []byte
	NRFIFreq() int
	SetHasRFIMask(bool)
}

// OutputDevice receives notification once a chunk's RFI mask has been
// filled in, mirroring output_device::filled_rfi_mask.
type OutputDevice interface {
	FilledRFIMask(chunk AssembledChunk)
}

// Stream is the stream-bridge collaborator this stage queries to
// locate the assembled chunk covering a given absolute sample
// position, and to notify once its mask is filled (spec.md §6).
type Stream interface {
	// FindAssembledChunk returns the chunk covering the given absolute
	// FPGA count for beam, or nil if none is currently resident.
	FindAssembledChunk(beam int, fpgaCounts uint64) AssembledChunk
	// OutputDevices returns the devices to notify once a chunk's mask
	// has been filled in.
	OutputDevices() []OutputDevice
}

// Measurement reports one ProcessChunk call's masking statistics,
// delivered to every registered Callback.
type Measurement struct {
	Pos           int64
	NSamples      int
	NSamplesMasked int
	NT            int
	NTMasked      int
	NF            int
	NFMasked      int
	FreqsMasked   []uint16
	TimesMasked   []uint16
}

// Callback receives every Measurement a Stage produces.
type Callback interface {
	MaskCount(m Measurement)
}

// Doc renders the measurement for inclusion in an attribute document.
func (m Measurement) Doc() attrs.Doc {
	return attrs.Doc{
		"pos":             m.Pos,
		"nsamples":        m.NSamples,
		"nsamples_masked": m.NSamplesMasked,
		"nt":              m.NT,
		"nt_masked":       m.NTMasked,
		"nf":              m.NF,
		"nf_masked":       m.NFMasked,
	}
}
