package rfpipe

import (
	"golang.org/x/sync/errgroup"

	"github.com/pipelined/rfpipe/attrs"
)

// Composite holds an ordered chain of child stages and forwards
// binding and scheduling to them, the supplemented implementation of
// spec.md §2's "contains children, forwards binding/scheduling
// recursively." BindInner and AdvanceInner forward sequentially (a
// chain topology, and Advance must never run concurrently per spec.md
// §5); the independent lifecycle hooks fan out across children via
// errgroup, mirroring the teacher's mergeErrors/Lines.Flush join.
type Composite struct {
	*Base
	children []Stage
}

// NewComposite constructs a Composite named name with the given
// ordered children.
func NewComposite(name string, children ...Stage) *Composite {
	return &Composite{Base: NewBase(name), children: children}
}

// PreferredChunkSize returns its first child's preferred chunk size, or
// 0 when it has no children: a Composite is never first in a pipeline
// on its own behalf, only via its first child's preference.
func (c *Composite) PreferredChunkSize() int64 {
	if len(c.children) == 0 {
		return 0
	}
	return c.children[0].PreferredChunkSize()
}

// BindInner forwards to each child in chain order, taking the last
// child's nt_chunk_out/nt_contig/nt_maxgap as its own.
func (c *Composite) BindInner(dict RingBufferDict, doc attrs.Doc) error {
	if len(c.children) == 0 {
		return c.throw("Composite has no children to bind")
	}
	ntChunkIn := c.NTChunkIn()
	ntMaxlag := c.NTMaxlag()

	for _, child := range c.children {
		base, ok := childBase(child)
		if !ok {
			return c.throw("composite child %q does not embed *Base", child.Name())
		}
		if err := base.Bind(child, dict, ntChunkIn, ntMaxlag, doc); err != nil {
			return err
		}
		last := base
		c.SetNTChunkOut(last.NTChunkOut())
		c.SetNTContig(last.NTContig())
		c.SetNTMaxgap(last.NTMaxgap())
	}
	return nil
}

// AllocateInner fans out child allocation via errgroup; children do
// not share mutable state outside their own buffers, so concurrent
// allocation is safe.
func (c *Composite) AllocateInner() error {
	g := new(errgroup.Group)
	for _, child := range c.children {
		child := child
		g.Go(func() error {
			base, _ := childBase(child)
			return base.Allocate(child)
		})
	}
	return g.Wait()
}

// DeallocateInner fans out child deallocation via errgroup.
func (c *Composite) DeallocateInner() error {
	g := new(errgroup.Group)
	for _, child := range c.children {
		child := child
		g.Go(func() error {
			base, _ := childBase(child)
			return base.Deallocate(child)
		})
	}
	return g.Wait()
}

// StartInner fans out child StartPipeline via errgroup, each sharing
// the composite's own output manager and attribute document.
func (c *Composite) StartInner(doc attrs.Doc) error {
	g := new(errgroup.Group)
	for _, child := range c.children {
		child := child
		g.Go(func() error {
			base, _ := childBase(child)
			return base.StartPipeline(child, c.outMp, doc)
		})
	}
	return g.Wait()
}

// EndInner fans out child EndPipeline via errgroup, each writing into
// its own sub-document; the sub-documents are stored as a list, in
// child order, under doc["children"].
func (c *Composite) EndInner(doc attrs.Doc) error {
	children := make([]attrs.Doc, len(c.children))
	g := new(errgroup.Group)
	for i, child := range c.children {
		i, child := i, child
		g.Go(func() error {
			base, _ := childBase(child)
			sub := attrs.Doc{}
			if err := base.EndPipeline(child, sub); err != nil {
				return err
			}
			children[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	parts := make([]interface{}, len(children))
	for i, d := range children {
		parts[i] = d
	}
	doc["children"] = parts
	return nil
}

// AdvanceInner drives each child's Advance in chain order (strictly
// sequential, never concurrent, per spec.md §5) and returns the
// smallest end-of-stream sentinel any child reported. pos_lo tracks
// the last child's own pos_lo, not pos_hi: a child may not have
// completed a full chunk yet, and forcing pos_lo to pos_hi would fail
// that child's own nt_chunk_out postcondition on the next Advance.
func (c *Composite) AdvanceInner() (Position, error) {
	ret := NoEnd
	var last *Base
	for _, child := range c.children {
		base, _ := childBase(child)
		n, err := base.Advance(child, c.PosHi(), c.PosMax())
		if err != nil {
			return 0, err
		}
		if n < ret {
			ret = n
		}
		last = base
	}
	if last != nil {
		c.SetPosLo(last.PosLo())
	}
	return ret, nil
}

// UnbindInner fans out child Unbind via errgroup, the reverse of
// BindInner's sequential forward pass.
func (c *Composite) UnbindInner() error {
	g := new(errgroup.Group)
	for _, child := range c.children {
		child := child
		g.Go(func() error {
			base, _ := childBase(child)
			return base.Unbind(child)
		})
	}
	return g.Wait()
}

// Jsonize is not supported for Composite: a composite's shape is
// determined by how it was constructed in code, not by a single
// reconstructible document.
func (c *Composite) Jsonize() (attrs.Doc, error) {
	return nil, c.throw("Jsonize: composite stages are not round-trippable")
}

// childBase extracts the *Base a Stage embeds, via an interface every
// stage built on Base satisfies, letting Composite drive a child's
// outer lifecycle without importing its concrete type.
func childBase(s Stage) (*Base, bool) {
	type baseHolder interface {
		baseForComposite() *Base
	}
	h, ok := s.(baseHolder)
	if !ok {
		return nil, false
	}
	return h.baseForComposite(), true
}

// baseForComposite exposes Base to Composite's childBase lookup. Any
// stage embedding *Base inherits this method automatically.
func (b *Base) baseForComposite() *Base { return b }
