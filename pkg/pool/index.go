package pool

import (
	"container/list"

	"github.com/google/btree"

	"github.com/TierPoolDB/tierpool/pkg/chunk"
)

// indexEntry binds a chunk key to the stable segment handle that backs it.
type indexEntry struct {
	key  chunk.Key
	elem *list.Element
}

const indexDegree = 16

// chunkIndex is the ordered key-to-segment map. Ordering gives the
// lower-bound iteration that prefix operations and checkpoint rely on.
// Callers hold the pool's chunk-index mutex.
type chunkIndex struct {
	tree *btree.BTreeG[indexEntry]
}

func newChunkIndex() *chunkIndex {
	return &chunkIndex{
		tree: btree.NewG(indexDegree, func(a, b indexEntry) bool {
			return a.key.Compare(b.key) < 0
		}),
	}
}

func (idx *chunkIndex) get(key chunk.Key) (*list.Element, bool) {
	entry, ok := idx.tree.Get(indexEntry{key: key})
	if !ok {
		return nil, false
	}
	return entry.elem, true
}

func (idx *chunkIndex) set(key chunk.Key, elem *list.Element) {
	idx.tree.ReplaceOrInsert(indexEntry{key: key, elem: elem})
}

func (idx *chunkIndex) delete(key chunk.Key) bool {
	_, ok := idx.tree.Delete(indexEntry{key: key})
	return ok
}

func (idx *chunkIndex) len() int {
	return idx.tree.Len()
}

func (idx *chunkIndex) clear() {
	idx.tree.Clear(false)
}

// ascend visits every entry in key order until fn returns false.
func (idx *chunkIndex) ascend(fn func(key chunk.Key, elem *list.Element) bool) {
	idx.tree.Ascend(func(entry indexEntry) bool {
		return fn(entry.key, entry.elem)
	})
}

// ascendPrefix visits entries whose key begins with prefix, in key order,
// until fn returns false. Lower-bound seek, then advance while the prefix
// still matches.
func (idx *chunkIndex) ascendPrefix(prefix chunk.Key, fn func(key chunk.Key, elem *list.Element) bool) {
	idx.tree.AscendGreaterOrEqual(indexEntry{key: prefix}, func(entry indexEntry) bool {
		if !entry.key.HasPrefix(prefix) {
			return false
		}
		return fn(entry.key, entry.elem)
	})
}
