package rfpipe

import "github.com/pipelined/rfpipe/attrs"

// PlotGroup accumulates the plot files a stage writes during a run,
// mirroring pipeline_object.cpp's plot_group. Plot groups are declared
// via Base.AddPlotGroup and appended to via Base.AddPlot.
type PlotGroup struct {
	Name      string
	NTPerPix  int
	NY        int
	IsEmpty   bool
	CurrIT0   int64
	CurrIT1   int64
	Files     []attrs.Doc
}

// Doc renders the plot group in the shape end_pipeline merges into the
// run's attribute document.
func (g *PlotGroup) Doc() attrs.Doc {
	files := make([]interface{}, len(g.Files))
	for i, f := range g.Files {
		files[i] = f
	}
	return attrs.Doc{
		"name":       g.Name,
		"nt_per_pix": g.NTPerPix,
		"ny":         g.NY,
		"it0":        g.CurrIT0,
		"it1":        g.CurrIT1,
		"files":      files,
	}
}
