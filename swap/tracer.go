package swap

import "fmt"

// traceAccess is the callback for every iteration after the first. It
// validates each live event against the recorded trace, repairs identity
// substitutions in place, and collects anything it cannot match for a
// synchronous fallback eviction at the end of the iteration.
func (s *Scheduler) traceAccess(arr Array, op AccessOp, dtype Dtype, ctx Context, writeOnly bool) error {
	if s.funcIdx == 0 {
		// Before forward propagation; not part of any block.
		return nil
	}

	tag, err := tagOf(op)
	if err != nil {
		return err
	}

	// A precleared array no longer exists on device. The recorded clear
	// must be the next thing that happens to it; anything else means the
	// graph is not repeating the recorded order.
	if s.precleared[arr] {
		if tag != tagClear {
			return fmt.Errorf("%w: %v after scheduled release", ErrPreclearedAccess, op)
		}
		delete(s.precleared, arr)
	}

	if s.matchesRecorded(arr, tag, dtype, ctx) {
		s.orderIdx++
		return nil
	}

	// The live stream diverged: either more events than recorded for this
	// function, or a different event. Remember it for the wrong-order
	// drain at finalize.
	s.wrongOrdered = append(s.wrongOrdered, accessRecord{
		tag:   tag,
		ref:   arr.WeakRef(),
		size:  arr.Size(),
		dtype: dtype,
		ctx:   ctx,
	})
	s.metrics.addWrongOrdered()
	s.orderIdx++
	return nil
}

// matchesRecorded compares a live event against the trace cursor. A
// matching event with a different handle is an identity substitution: the
// framework re-allocated the array for the same role, so every trace
// position for the id is rewritten to the new handle.
func (s *Scheduler) matchesRecorded(arr Array, tag accessTag, dtype Dtype, ctx Context) bool {
	fid := s.funcIdx - 1
	if fid >= len(s.funcBlockEnds) || s.orderIdx >= s.funcBlockEnds[fid] {
		// Past the current function's recorded block.
		return false
	}

	rec := &s.order[s.orderIdx]
	if tag != rec.tag || dtype != rec.dtype || ctx.ArrayClass != rec.ctx.ArrayClass {
		return false
	}

	if recArr := rec.ref.Resolve(); recArr != arr {
		ref := arr.WeakRef()
		for _, i := range s.ids.at(rec.arrayID) {
			s.order[i].ref = ref
		}
	}
	return true
}

// swapOutWrongOrder synchronously casts to host every wrong-ordered
// device access whose array is still alive and uncleared. This catches
// residual device memory the plan did not account for.
func (s *Scheduler) swapOutWrongOrder() error {
	for i := range s.wrongOrdered {
		r := &s.wrongOrdered[i]

		if r.tag == tagClear {
			continue
		}

		switch s.classify(r.ctx) {
		case memDevice:
			if arr := r.ref.Resolve(); arr != nil && arr.NumArrays() > 0 {
				if err := arr.Cast(r.dtype, s.hostCtx, false, FlagNone); err != nil {
					return err
				}
				s.metrics.addSwapOut(r.bytes())
			}

		case memHost:
			// Nothing on device to reclaim.

		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedClass, r.ctx.ArrayClass)
		}
	}
	return nil
}
