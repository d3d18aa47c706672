package swap

import (
	"fmt"
	"math"
)

// ArrayID is a stable small-integer identifier assigned to each distinct
// array in order of first appearance in the trace.
type ArrayID uint32

// maxArrayIDs bounds the identifier space. Overridden in tests.
var maxArrayIDs = math.MaxUint32

// identityMap assigns stable ids to live array handles and tracks, per id,
// every trace position referring to it. The position lists make handle
// substitution an O(k) in-place rewrite.
type identityMap struct {
	ids       map[Array]ArrayID
	positions map[ArrayID][]int
}

func newIdentityMap() identityMap {
	return identityMap{
		ids:       make(map[Array]ArrayID),
		positions: make(map[ArrayID][]int),
	}
}

// assign returns the id for arr, allocating the next one on first sight.
func (m *identityMap) assign(arr Array) (ArrayID, error) {
	if id, ok := m.ids[arr]; ok {
		return id, nil
	}
	if len(m.ids) > maxArrayIDs {
		return 0, fmt.Errorf("%w: more than %d distinct arrays", ErrIDSpaceExhausted, maxArrayIDs)
	}
	id := ArrayID(len(m.ids))
	m.ids[arr] = id
	return id, nil
}

// note records that trace position pos refers to id.
func (m *identityMap) note(id ArrayID, pos int) {
	m.positions[id] = append(m.positions[id], pos)
}

// at returns every trace position referring to id.
func (m *identityMap) at(id ArrayID) []int {
	return m.positions[id]
}

// distinct returns the number of ids ever assigned.
func (m *identityMap) distinct() int {
	return len(m.positions)
}

// clearHandles drops the handle-to-id mapping. The handle side is only
// needed while recording; the position lists survive the iteration so
// refs can still be rewritten.
func (m *identityMap) clearHandles() {
	m.ids = make(map[Array]ArrayID)
}

// reset drops everything, including position lists. Used when the trace
// itself is discarded.
func (m *identityMap) reset() {
	m.ids = make(map[Array]ArrayID)
	m.positions = make(map[ArrayID][]int)
}
