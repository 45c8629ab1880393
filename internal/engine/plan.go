package engine

import "github.com/bamsammich/blit/internal/bmap"

type planKind int

const (
	planBmap planKind = iota + 1
	planWholeImage
	planOpenEnded
)

// planner yields the block ranges to copy, in order. With a block map the
// document's ranges are yielded verbatim in file order, which is the
// authoritative copy order. Without one, a single range covers the whole
// image; if the image size is unknown too, fixed-size ranges are yielded
// without end and the reader decides when the data runs out.
//
// A planner is consumed exactly once. Re-copying requires a fresh engine.
type planner struct {
	kind   planKind
	ranges []bmap.Range
	idx    int

	blocksCnt uint64 // whole-image plan
	yielded   bool

	stride uint64 // open-ended plan
	next   uint64
}

func newBmapPlanner(ranges []bmap.Range) *planner {
	return &planner{kind: planBmap, ranges: ranges}
}

func newWholeImagePlanner(blocksCnt uint64) *planner {
	return &planner{kind: planWholeImage, blocksCnt: blocksCnt}
}

func newOpenEndedPlanner(stride uint64) *planner {
	return &planner{kind: planOpenEnded, stride: stride}
}

func (p *planner) Next() (bmap.Range, bool) {
	switch p.kind {
	case planBmap:
		if p.idx >= len(p.ranges) {
			return bmap.Range{}, false
		}
		r := p.ranges[p.idx]
		p.idx++
		return r, true

	case planWholeImage:
		if p.yielded || p.blocksCnt == 0 {
			return bmap.Range{}, false
		}
		p.yielded = true
		return bmap.Range{First: 0, Last: p.blocksCnt - 1}, true

	case planOpenEnded:
		r := bmap.Range{First: p.next, Last: p.next + p.stride - 1}
		p.next += p.stride
		return r, true
	}
	return bmap.Range{}, false
}
