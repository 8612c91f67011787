package pool

import (
	"container/list"
	"context"
	"fmt"
	"math"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
)

// SlabAllocator acquires raw slab memory. Implementations are per memory
// tier; AllocSlab must not take pool locks.
type SlabAllocator interface {
	AllocSlab(size int64) ([]byte, error)
}

// hostSlabAllocator backs slabs with ordinary heap memory.
type hostSlabAllocator struct{}

func (hostSlabAllocator) AllocSlab(size int64) ([]byte, error) {
	return make([]byte, size), nil
}

// segmentMemory returns the arena view for a placed segment.
func (p *BufferPool) segmentMemory(s *segment) []byte {
	start := s.startPage * p.pageSize
	end := start + s.numPages*p.pageSize
	return p.slabs[s.slabNum][start:end:end]
}

func (p *BufferPool) nextEpoch() uint64 {
	return p.bufferEpoch.Add(1) - 1
}

// addSlab appends a fresh slab holding a single free segment spanning all of
// it. Requires sizedSegsMu.
func (p *BufferPool) addSlab() error {
	mem, err := p.slabAlloc.AllocSlab(p.slabSize)
	if err != nil {
		return fmt.Errorf("failed to add slab: %w", err)
	}

	p.slabs = append(p.slabs, mem)
	slabNum := len(p.slabs) - 1

	segs := list.New()
	free := newFreeSegment(0, p.numPagesPerSlab)
	free.slabNum = slabNum
	segs.PushBack(free)
	p.slabSegments = append(p.slabSegments, segs)

	p.stats.TrackSlabGrowth()
	p.stats.TrackArenaBytes(uint64(len(p.slabs)) * uint64(p.slabSize))
	p.metrics.RecordSlabGrowth(context.Background(), slabNum, p.slabSize)
	p.logger.Info("added slab %d (%d pages, %d slabs total)", slabNum, p.numPagesPerSlab, len(p.slabs))
	return nil
}

// findFreeInSlab claims the first free segment in the slab with enough pages.
// Excess pages split off into a new free segment right after the claimed one.
// Requires sizedSegsMu.
func (p *BufferPool) findFreeInSlab(slabNum int, numPagesRequested int64) (*list.Element, bool) {
	segs := p.slabSegments[slabNum]
	for elem := segs.Front(); elem != nil; elem = elem.Next() {
		s := seg(elem)
		if s.status != segFree || s.numPages < numPagesRequested {
			continue
		}

		excess := s.numPages - numPagesRequested
		s.numPages = numPagesRequested
		s.status = segUsed
		s.lastTouched = p.nextEpoch()
		s.slabNum = slabNum
		if excess > 0 {
			free := newFreeSegment(s.startPage+numPagesRequested, excess)
			free.slabNum = slabNum
			segs.InsertAfter(free, elem)
		}
		return elem, true
	}
	return nil, false
}

// findFreeBuffer locates or manufactures a used segment of numBytes, trying
// existing free runs, then slab growth, then eviction. Requires sizedSegsMu.
func (p *BufferPool) findFreeBuffer(numBytes int64) (*list.Element, error) {
	numPagesRequested := (numBytes + p.pageSize - 1) / p.pageSize
	if numPagesRequested > p.numPagesPerSlab {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, numBytes)
	}

	for slabNum := range p.slabSegments {
		if elem, ok := p.findFreeInSlab(slabNum, numPagesRequested); ok {
			return elem, nil
		}
	}

	// No free run anywhere; grow the arena if it still may.
	if int64(len(p.slabs)) < p.maxNumSlabs {
		if err := p.addSlab(); err != nil {
			return nil, err
		}
		elem, ok := p.findFreeInSlab(len(p.slabs)-1, numPagesRequested)
		if !ok {
			panic("pool: fresh slab cannot satisfy request within slab capacity")
		}
		return elem, nil
	}

	// Arena is at capacity; scan for the contiguous window with the lowest
	// summed LRU score. Lower is better: fewer and older chunks evicted.
	minScore := uint64(math.MaxUint64)
	var bestStart *list.Element
	bestSlab := -1

	for slabNum, segs := range p.slabSegments {
		for elem := segs.Front(); elem != nil; elem = elem.Next() {
			var pageCount int64
			var score uint64
			solutionFound := false

			// A window may start at a pinned segment but dies at the first
			// pinned wall it walks into, possibly immediately.
			walker := elem
			for ; walker != nil; walker = walker.Next() {
				s := seg(walker)
				if s.status == segUsed && s.buf != nil && s.buf.PinCount() > 0 {
					break
				}
				pageCount += s.numPages
				if s.status == segUsed {
					score += s.lastTouched
				}
				if pageCount >= numPagesRequested {
					solutionFound = true
					break
				}
			}

			if solutionFound && score < minScore {
				minScore = score
				bestStart = elem
				bestSlab = slabNum
			} else if walker == nil {
				// Hit the slab end short of the request; every later start
				// point in this slab fails the same way.
				break
			}
		}
	}

	if bestStart == nil {
		return nil, ErrOutOfMemory
	}

	p.stats.TrackEviction(uint64(numPagesRequested))
	p.metrics.RecordEviction(context.Background(), bestSlab, numPagesRequested)
	p.logger.Debug("evicting %d pages from slab %d (score %d)", numPagesRequested, bestSlab, minScore)
	return p.evict(bestStart, numPagesRequested, bestSlab), nil
}

// evict clears the chosen window and installs a used segment of exactly
// numPagesRequested at its head. Victims must be unpinned; indexed victims
// leave the chunk index, and their buffers are detached. Excess pages at the
// tail become (or join) a free segment. Requires sizedSegsMu.
func (p *BufferPool) evict(evictStart *list.Element, numPagesRequested int64, slabNum int) *list.Element {
	segs := p.slabSegments[slabNum]
	startPage := seg(evictStart).startPage

	var numPages int64
	evictElem := evictStart

	p.chunkIndexMu.Lock()
	for numPages < numPagesRequested {
		s := seg(evictElem)
		if s.status == segUsed && s.buf != nil && s.buf.PinCount() > 0 {
			p.chunkIndexMu.Unlock()
			panic("pool: evicting pinned segment " + s.String())
		}
		numPages += s.numPages
		if s.status == segUsed && len(s.chunkKey) > 0 {
			p.index.delete(s.chunkKey)
		}
		if s.buf != nil {
			s.buf.Detach()
			s.buf = nil
		}
		next := evictElem.Next()
		segs.Remove(evictElem)
		evictElem = next
	}
	p.chunkIndexMu.Unlock()

	dataSeg := &segment{
		startPage:   startPage,
		numPages:    numPagesRequested,
		status:      segUsed,
		slabNum:     slabNum,
		lastTouched: p.nextEpoch(),
	}
	var dataElem *list.Element
	if evictElem != nil {
		dataElem = segs.InsertBefore(dataSeg, evictElem)
	} else {
		dataElem = segs.PushBack(dataSeg)
	}

	if numPagesRequested < numPages {
		excess := numPages - numPagesRequested
		if evictElem != nil && seg(evictElem).status == segFree {
			// Extend the following free segment backward over the excess.
			seg(evictElem).startPage = startPage + numPagesRequested
			seg(evictElem).numPages += excess
		} else {
			free := newFreeSegment(startPage+numPagesRequested, excess)
			free.slabNum = slabNum
			if evictElem != nil {
				segs.InsertBefore(free, evictElem)
			} else {
				segs.PushBack(free)
			}
		}
	}

	return dataElem
}

// removeSegment frees a segment, eagerly coalescing with free neighbours.
// Does not touch the segment's buffer; callers detach it first if needed.
// Requires sizedSegsMu; takes the unsized-segment lock for placeholders.
func (p *BufferPool) removeSegment(elem *list.Element) {
	s := seg(elem)
	if !s.placed() {
		p.unsizedSegsMu.Lock()
		p.unsizedSegs.Remove(elem)
		p.unsizedSegsMu.Unlock()
		return
	}

	segs := p.slabSegments[s.slabNum]
	if prev := elem.Prev(); prev != nil && seg(prev).status == segFree {
		s.startPage = seg(prev).startPage
		s.numPages += seg(prev).numPages
		segs.Remove(prev)
	}
	if next := elem.Next(); next != nil && seg(next).status == segFree {
		s.numPages += seg(next).numPages
		segs.Remove(next)
	}
	s.status = segFree
	s.buf = nil
	s.chunkKey = nil
}

// ReserveBuffer grows the buffer's backing segment to hold numBytes. Growth
// absorbs a free right-neighbour when one fits; otherwise the segment
// migrates to a fresh allocation and its contents are copied over. Like
// reserve on a vector, it never shrinks.
func (p *BufferPool) ReserveBuffer(b *buffer.Buffer, numBytes int64) error {
	p.sizedSegsMu.Lock()

	elem, _ := b.SegmentRef().(*list.Element)
	if elem == nil {
		p.sizedSegsMu.Unlock()
		return buffer.ErrBufferDetached
	}
	s := seg(elem)

	numPagesRequested := (numBytes + p.pageSize - 1) / p.pageSize
	if s.placed() && numPagesRequested <= s.numPages {
		p.sizedSegsMu.Unlock()
		return nil
	}

	if s.placed() {
		extra := numPagesRequested - s.numPages
		if next := elem.Next(); next != nil {
			ns := seg(next)
			if ns.status == segFree && ns.numPages >= extra {
				leftover := ns.numPages - extra
				s.numPages = numPagesRequested
				if leftover > 0 {
					ns.numPages = leftover
					ns.startPage = s.startPage + s.numPages
				} else {
					p.slabSegments[s.slabNum].Remove(next)
				}
				b.Rebind(p.segmentMemory(s), elem)
				p.sizedSegsMu.Unlock()
				return nil
			}
		}
	}

	// Cannot grow in place: find a new segment, move the buffer over, copy
	// live contents, and release the old segment.
	newElem, err := p.findFreeBuffer(numBytes)
	if err != nil {
		p.sizedSegsMu.Unlock()
		return err
	}
	ns := seg(newElem)
	ns.buf = b
	ns.chunkKey = s.chunkKey

	oldMem := b.MemoryBytes()
	newMem := p.segmentMemory(ns)
	if s.placed() && oldMem != nil {
		copy(newMem, oldMem[:b.Size()])
	}
	b.Rebind(newMem, newElem)
	p.removeSegment(elem)
	p.sizedSegsMu.Unlock()

	if len(ns.chunkKey) > 0 {
		p.chunkIndexMu.Lock()
		p.index.set(ns.chunkKey, newElem)
		p.chunkIndexMu.Unlock()
	}
	return nil
}
