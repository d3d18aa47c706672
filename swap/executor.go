package swap

import "fmt"

// preStep is the shared body of the pre-function and pre-update hooks.
// The callback is detached around the executor's own transfers so they
// are not recorded or traced, and re-attached on every exit path.
func (s *Scheduler) preStep() error {
	ClearArrayCallback()
	defer SetArrayCallback(s.callback)

	if s.funcIdx > 0 {
		// Post-process of the previous function.
		if err := s.swapOutStep(); err != nil {
			return err
		}
	}

	return s.swapInStep()
}

// swapOutStep evicts what the previous function used. On the first
// iteration it also seals the previous function's block boundary; on
// later iterations it realigns the trace cursor if the live stream
// produced fewer events than recorded.
func (s *Scheduler) swapOutStep() error {
	if s.firstIter {
		s.funcBlockEnds = append(s.funcBlockEnds, s.orderIdx)
	}

	if err := s.swapOut(); err != nil {
		return err
	}

	if fid := s.funcIdx - 1; fid < len(s.funcBlockEnds) && s.orderIdx < s.funcBlockEnds[fid] {
		// Fewer live events than recorded for this function; jump the
		// cursor to the recorded block end so the tracer realigns.
		s.orderIdx = s.funcBlockEnds[fid]
	}
	return nil
}

// swapInStep advances into the next function and issues its prefetches.
func (s *Scheduler) swapInStep() error {
	s.funcIdx++
	if s.firstIter {
		return nil
	}
	return s.swapIn()
}

// swapIn issues the planned asynchronous prefetches for the function
// about to run. Records whose array has been destroyed are skipped.
func (s *Scheduler) swapIn() error {
	for _, idx := range s.swapInSchedule[s.funcIdx-1] {
		r := &s.order[idx]
		arr := r.ref.Resolve()
		if arr == nil {
			continue
		}
		if err := arr.Get(r.dtype, r.ctx, FlagAsync|FlagUnsafe); err != nil {
			return err
		}
		s.metrics.addSwapIn(r.bytes())
	}
	return nil
}

func (s *Scheduler) swapOut() error {
	if s.firstIter {
		if err := s.swapOutFirstIter(); err != nil {
			return err
		}
		return s.waitForSwapOutFirstIter()
	}
	if err := s.swapOutScheduled(); err != nil {
		return err
	}
	return s.waitForSwapOutScheduled()
}

// swapOutFirstIter evicts every device array the previous function
// touched. With no plan yet, eviction after last use is the only safe
// policy.
func (s *Scheduler) swapOutFirstIter() error {
	fid := s.funcIdx - 1
	for i := s.blockStart(fid); i < s.funcBlockEnds[fid]; i++ {
		r := &s.order[i]

		if r.tag == tagClear {
			continue
		}

		switch s.classify(r.ctx) {
		case memDevice:
			arr := r.ref.Resolve()
			if arr == nil || arr.NumArrays() == 0 {
				continue // destroyed or already cleared
			}
			if err := arr.Cast(arr.Dtype(), s.hostCtx, false, FlagAsync|FlagUnsafe); err != nil {
				return err
			}
			bytes := arr.Size() * arr.Dtype().Size()
			s.usedBytesSwapOut += bytes
			r.swappedOut = true
			r.swappedOutBytes = bytes
			s.metrics.addSwapOut(bytes)

		case memHost:
			// Nothing resident on device for this record.

		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedClass, r.ctx.ArrayClass)
		}
	}
	return nil
}

// waitForSwapOutFirstIter blocks until in-flight eviction bytes fit the
// B/2 cap again.
func (s *Scheduler) waitForSwapOutFirstIter() error {
	for s.usedBytesSwapOut > s.maxBytesSwapOut && s.tail < len(s.order) {
		if err := s.waitForSwapOutStep(); err != nil {
			return err
		}
	}
	return nil
}

// waitForAllSwapOut drains the eviction queue entirely. Called at the end
// of every iteration so nothing is still moving when the caller regains
// control of host memory.
func (s *Scheduler) waitForAllSwapOut() error {
	for s.tail < len(s.order) {
		if err := s.waitForSwapOutStep(); err != nil {
			return err
		}
	}
	return nil
}

// waitForSwapOutStep consumes one record from the eviction queue. The
// synchronous host get acts as the completion barrier for the async cast
// issued earlier.
func (s *Scheduler) waitForSwapOutStep() error {
	r := &s.order[s.tail]
	s.tail++

	if r.tag == tagClear {
		return nil
	}

	if r.swappedOut {
		if arr := r.ref.Resolve(); arr != nil &&
			arr.HeadClass() == s.hostCtx.ArrayClass && arr.NumArrays() > 0 {
			if err := arr.Get(arr.Dtype(), s.hostCtx, FlagUnsafe); err != nil {
				return err
			}
		}
		r.swappedOut = false
		s.usedBytesSwapOut -= r.swappedOutBytes
		r.swappedOutBytes = 0
	}
	return nil
}

// swapOutScheduled executes the planned evictions of the previous
// function: preclear records are released, cancelled records are skipped,
// everything else is cast to host asynchronously.
func (s *Scheduler) swapOutScheduled() error {
	for _, idx := range s.swapOutSchedule[s.funcIdx-1] {
		r := &s.order[idx]
		arr := r.ref.Resolve()
		if arr == nil {
			continue
		}

		if r.preclear {
			if err := arr.Clear(); err != nil {
				return err
			}
			s.precleared[arr] = true
			s.metrics.addPreclear()
		} else if !r.noNeedSwapOut {
			if err := arr.Cast(arr.Dtype(), s.hostCtx, false, FlagAsync|FlagUnsafe); err != nil {
				return err
			}
			s.metrics.addSwapOut(r.bytes())
		}
	}
	return nil
}

// waitForSwapOutScheduled issues the planned completion barriers for the
// previous function's evictions.
func (s *Scheduler) waitForSwapOutScheduled() error {
	for _, idx := range s.waitSchedule[s.funcIdx-1] {
		r := &s.order[idx]
		if r.noNeedSwapOut {
			continue
		}
		arr := r.ref.Resolve()
		if arr != nil && arr.HeadClass() == s.hostCtx.ArrayClass && arr.NumArrays() > 0 {
			if err := arr.Get(arr.Dtype(), s.hostCtx, FlagUnsafe); err != nil {
				return err
			}
		}
	}
	return nil
}
