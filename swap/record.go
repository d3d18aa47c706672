package swap

import "fmt"

// accessTag folds the three raw callback kinds into the two the scheduler
// cares about: accesses that materialize data somewhere, and releases.
type accessTag uint8

const (
	tagGetCast accessTag = iota
	tagClear
)

// tagOf maps a raw callback op to its trace tag.
func tagOf(op AccessOp) (accessTag, error) {
	switch op {
	case OpGet, OpCast:
		return tagGetCast, nil
	case OpClear:
		return tagClear, nil
	default:
		return 0, fmt.Errorf("%w: unknown access op %d", ErrUnsupportedClass, op)
	}
}

// accessRecord is one element of the recorded trace.
//
// The first six fields are fixed at record time (iteration 0); only ref is
// rewritten afterwards, when the tracer or the double-buffer adapter
// observes that the live handle for an id has changed. The remaining
// fields are planner/executor state, reset or rewritten on each pass.
type accessRecord struct {
	tag     accessTag
	arrayID ArrayID
	ref     ArrayRef
	size    int64 // element count at record time
	dtype   Dtype
	ctx     Context

	// preclear is set by the planner when the next event on this id is a
	// clear: the eviction is replaced by a cheap release.
	preclear bool

	// swappedOut marks an eviction in flight for this record;
	// swappedOutBytes is its total size across all resident dtypes.
	swappedOut      bool
	swappedOutBytes int64

	// noNeedSwapOut cancels a planned eviction: the prefetch scan saw the
	// array still resident on device.
	noNeedSwapOut bool
}

// bytes returns the record's own transfer size.
func (r *accessRecord) bytes() int64 {
	return r.size * r.dtype.Size()
}

// memKind is the closed classification of a context against the
// scheduler's configured host and device classes.
type memKind uint8

const (
	memOther memKind = iota
	memDevice
	memHost
)
