package swap

import "fmt"

// doubleBufferState tracks the two input tensors a double-buffered data
// iterator alternates between. refs[p] holds the weak handles captured
// for parity p; ids are the trace ids the first buffer resolved to.
type doubleBufferState struct {
	captured int // capture phases completed: 0, 1, or 2
	refs     [2][2]ArrayRef
	ids      [2]ArrayID
}

// UseDoubleBuffered registers the input tensors produced by a
// double-buffered data iterator, one (input, label) pair per device.
// Exactly one device is supported.
//
// The first call captures the first buffer's handles; the second finds
// their trace ids and captures the second buffer; every later call
// rewrites the trace so each id points at the buffer active this
// iteration (iteration count mod 2).
func (s *Scheduler) UseDoubleBuffered(batches [][2]Array) error {
	if len(batches) == 0 {
		return fmt.Errorf("%w: no input batches", ErrInvalidInput)
	}
	if len(batches) > 1 {
		return fmt.Errorf("%w: multi-device input batches are unsupported", ErrInvalidInput)
	}

	pair := batches[0]
	phase := s.iterCount % 2

	switch s.dbuf.captured {
	case 0:
		s.dbuf.refs[phase] = [2]ArrayRef{pair[0].WeakRef(), pair[1].WeakRef()}
		s.dbuf.captured = 1

	case 1:
		// Resolve the first buffer's handles back to their trace ids.
		prev := 1 - phase
		for i := 0; i < 2; i++ {
			if s.dbuf.refs[prev][i] == nil {
				return fmt.Errorf("%w: double-buffered input registered twice in one iteration", ErrInvalidInput)
			}
			arr := s.dbuf.refs[prev][i].Resolve()
			if arr == nil {
				return fmt.Errorf("%w: double-buffered input expired before scheduling", ErrInvalidInput)
			}
			id, ok := s.findRecordedID(arr)
			if !ok {
				return fmt.Errorf("%w: double-buffered input never appeared in the recorded trace", ErrInvalidInput)
			}
			s.dbuf.ids[i] = id
		}

		s.dbuf.refs[phase] = [2]ArrayRef{pair[0].WeakRef(), pair[1].WeakRef()}
		s.dbuf.captured = 2
		s.rewriteDoubleBuffered(phase)

	default:
		s.rewriteDoubleBuffered(phase)
	}

	return nil
}

// findRecordedID locates the trace id recorded for a live handle.
func (s *Scheduler) findRecordedID(arr Array) (ArrayID, bool) {
	for i := range s.order {
		if s.order[i].ref.Resolve() == arr {
			return s.order[i].arrayID, true
		}
	}
	return 0, false
}

// rewriteDoubleBuffered points every trace entry of both buffer ids at
// the handles captured for the given parity.
func (s *Scheduler) rewriteDoubleBuffered(phase int) {
	for i := 0; i < 2; i++ {
		ref := s.dbuf.refs[phase][i]
		for _, j := range s.ids.at(s.dbuf.ids[i]) {
			s.order[j].ref = ref
		}
	}
}
