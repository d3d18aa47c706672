package swap

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// arrayCounts tracks, per (id, dtype), how many pending references sit in
// the planner's look-ahead window between the prefetch frontier and the
// current scan position. A total above zero means the array is already
// considered resident; a total above one at eviction time means the array
// is still needed soon and must not be swapped out.
type arrayCounts map[ArrayID]map[Dtype]int

func (c arrayCounts) get(id ArrayID, dt Dtype) int {
	return c[id][dt]
}

func (c arrayCounts) inc(id ArrayID, dt Dtype) {
	m := c[id]
	if m == nil {
		m = make(map[Dtype]int)
		c[id] = m
	}
	m[dt]++
}

func (c arrayCounts) dec(id ArrayID, dt Dtype) {
	c[id][dt]--
}

func (c arrayCounts) total(id ArrayID) int {
	n := 0
	for _, v := range c[id] {
		n += v
	}
	return n
}

// dtypes returns every dtype entry ever touched for id. Entries persist
// at count zero: an eviction moves the bytes of all dtype copies of the
// id, not only the one the record names.
func (c arrayCounts) dtypes(id ArrayID) map[Dtype]int {
	return c[id]
}

// plan converts the recorded trace into the three per-function schedules.
// Runs once, at the end of iteration 0, after runtime state was reset.
// The last block (the update step, when there is one) is excluded: it
// gets no schedules, so in later iterations the arrays it touches are not
// evicted at finalize and stay where that block left them.
func (s *Scheduler) plan() error {
	s.markPreclear()

	head := 0
	var usedBytesSwapIn int64
	counts := make(arrayCounts)
	last := len(s.funcBlockEnds) - 1

	for fid := 0; fid < last; fid++ {
		in, err := s.scheduleSwapIn(&head, &usedBytesSwapIn, counts)
		if err != nil {
			return err
		}
		s.swapInSchedule[fid] = in

		if head < s.funcBlockEnds[fid] {
			return fmt.Errorf("%w: function %d needs more than %d bytes of prefetch headroom",
				ErrOutOfMemory, fid, s.maxBytesSwapIn-s.maxBytesSwapOut)
		}

		out, err := s.scheduleSwapOut(&usedBytesSwapIn, counts, fid)
		if err != nil {
			return err
		}
		s.swapOutSchedule[fid] = out
		s.waitSchedule[fid] = s.scheduleWaitForSwapOut()

		logrus.Debugf("swap: planned function %d: in=%d out=%d wait=%d",
			fid, len(in), len(out), len(s.waitSchedule[fid]))
	}

	// The final slot must leave no eviction pending into the next
	// iteration; replace its wait schedule with a full drain.
	if last > 0 {
		s.waitSchedule[last-1] = s.scheduleWaitForAllSwapOut()
	}

	logrus.Infof("swap: planned %d functions over %d records (%d arrays, budget %d)",
		last, len(s.order), s.ids.distinct(), s.maxBytesSwapIn)
	return nil
}

// markPreclear walks the trace backwards and marks any getcast whose next
// event on the same id is a clear. The last access before a clear need
// not be evicted; the array is about to be discarded anyway.
func (s *Scheduler) markPreclear() {
	clearFlag := make(map[ArrayID]bool)
	for i := len(s.order) - 1; i >= 0; i-- {
		r := &s.order[i]
		if r.tag == tagClear {
			clearFlag[r.arrayID] = true
		} else {
			r.preclear = clearFlag[r.arrayID]
			clearFlag[r.arrayID] = false
		}
	}
}

// scheduleSwapIn advances the prefetch frontier as far as the budget
// allows, scheduling a prefetch for every device access whose (id, dtype)
// is not already counted in the window and whose id is not host-pinned
// in this pass. Prefetch may reserve at most B - B/2
// bytes so in-flight evictions always have room.
func (s *Scheduler) scheduleSwapIn(head *int, usedBytesSwapIn *int64, counts arrayCounts) ([]int, error) {
	// A recorded get/cast to host pins the id: the function will touch it
	// on the host synchronously, so prefetching it to device would fight
	// that access. The pin map is local to one scheduling pass.
	hostPinned := make(map[ArrayID]bool)
	var schedule []int

	for *head < len(s.order) {
		r := &s.order[*head]

		if r.tag == tagClear {
			*head++
			continue
		}

		switch s.classify(r.ctx) {
		case memDevice:
			bytes := r.bytes()
			if *usedBytesSwapIn+bytes > s.maxBytesSwapIn-s.maxBytesSwapOut {
				return schedule, nil // budget exhausted, stop fetching
			}

			if counts.get(r.arrayID, r.dtype) == 0 {
				if !hostPinned[r.arrayID] {
					// First appearance in the window: prefetch it.
					schedule = append(schedule, *head)

					// A pending eviction for this id would be undone by
					// this prefetch; cancel it instead.
					if s.swappedOut[r.arrayID] {
						s.order[s.swappedOutIdx[r.arrayID]].noNeedSwapOut = true
						s.swappedOut[r.arrayID] = false
					}
				}
				*usedBytesSwapIn += bytes
			}

			counts.inc(r.arrayID, r.dtype)
			*head++

		case memHost:
			// No prefetch to host; the function gets it synchronously.
			hostPinned[r.arrayID] = true
			*head++

		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedClass, r.ctx.ArrayClass)
		}
	}

	return schedule, nil
}

// scheduleSwapOut scans function fid's block and schedules an eviction
// for every device access that was the last pending reference in the
// window. Preclear records release their budget without entering the
// eviction queue; they will be dropped, not copied.
func (s *Scheduler) scheduleSwapOut(usedBytesSwapIn *int64, counts arrayCounts, fid int) ([]int, error) {
	var schedule []int

	for i := s.blockStart(fid); i < s.funcBlockEnds[fid]; i++ {
		r := &s.order[i]

		if r.tag == tagClear {
			continue
		}

		switch s.classify(r.ctx) {
		case memDevice:
			if counts.total(r.arrayID) == 1 {
				schedule = append(schedule, i)

				if !r.preclear {
					r.swappedOut = true
					s.swappedOut[r.arrayID] = true
					s.swappedOutIdx[r.arrayID] = i

					// The eviction moves every resident dtype copy of the
					// id, so transfer the bytes of all of them.
					r.swappedOutBytes = 0
					for dt := range counts.dtypes(r.arrayID) {
						bytes := r.size * dt.Size()
						s.usedBytesSwapOut += bytes
						r.swappedOutBytes += bytes
					}
				}

				for dt := range counts.dtypes(r.arrayID) {
					*usedBytesSwapIn -= r.size * dt.Size()
				}
			}

			counts.dec(r.arrayID, r.dtype)

		case memHost:
			// Host accesses hold no device memory.

		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedClass, r.ctx.ArrayClass)
		}
	}

	return schedule, nil
}

// scheduleWaitForSwapOut consumes the eviction queue until in-flight
// eviction bytes fit the B/2 cap again.
func (s *Scheduler) scheduleWaitForSwapOut() []int {
	var schedule []int
	for s.usedBytesSwapOut > s.maxBytesSwapOut && s.tail < len(s.order) {
		s.scheduleWaitStep(&schedule)
	}
	return schedule
}

// scheduleWaitForAllSwapOut drains the eviction queue entirely.
func (s *Scheduler) scheduleWaitForAllSwapOut() []int {
	var schedule []int
	for s.tail < len(s.order) {
		s.scheduleWaitStep(&schedule)
	}
	return schedule
}

func (s *Scheduler) scheduleWaitStep(schedule *[]int) {
	idx := s.tail
	s.tail++
	r := &s.order[idx]

	if r.swappedOut {
		*schedule = append(*schedule, idx)
		r.swappedOut = false
		s.usedBytesSwapOut -= r.swappedOutBytes
		r.swappedOutBytes = 0
		s.swappedOut[r.arrayID] = false
	}
}
