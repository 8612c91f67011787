package pool

import (
	"container/list"
	"fmt"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
	"github.com/TierPoolDB/tierpool/pkg/chunk"
)

// segStatus marks a segment as free space or a live allocation.
type segStatus int

const (
	segFree segStatus = iota
	segUsed
)

func (s segStatus) String() string {
	if s == segFree {
		return "FREE"
	}
	return "USED"
}

// segment describes a contiguous run of pages inside one slab, or an unsized
// placeholder that has not been placed yet (startPage and slabNum are -1).
//
// Segments live in container/list lists so that handles held by the chunk
// index stay valid across unrelated insertions and erasures.
type segment struct {
	startPage   int64
	numPages    int64
	status      segStatus
	slabNum     int
	lastTouched uint64
	chunkKey    chunk.Key
	buf         *buffer.Buffer
}

func newUnsizedSegment(key chunk.Key) *segment {
	return &segment{
		startPage: -1,
		slabNum:   -1,
		status:    segUsed,
		chunkKey:  key,
	}
}

func newFreeSegment(startPage, numPages int64) *segment {
	return &segment{
		startPage: startPage,
		numPages:  numPages,
		status:    segFree,
		slabNum:   -1,
	}
}

// placed reports whether the segment occupies pages in a slab.
func (s *segment) placed() bool {
	return s.slabNum >= 0
}

func (s *segment) String() string {
	if s.status == segFree {
		return fmt.Sprintf("seg{FREE slab=%d pages=[%d,%d)}", s.slabNum, s.startPage, s.startPage+s.numPages)
	}
	return fmt.Sprintf("seg{USED slab=%d pages=[%d,%d) key=%s touched=%d}",
		s.slabNum, s.startPage, s.startPage+s.numPages, s.chunkKey, s.lastTouched)
}

// seg extracts the segment from a list element handle.
func seg(elem *list.Element) *segment {
	return elem.Value.(*segment)
}
