package swap

// recordAccess is the iteration-0 callback. It appends one record per
// get/cast/clear to the trace, assigning a stable id to arrays on first
// sight. No planning or residency decisions happen here.
func (s *Scheduler) recordAccess(arr Array, op AccessOp, dtype Dtype, ctx Context, writeOnly bool) error {
	if s.funcIdx == 0 {
		// Before the first pre hook fires nothing belongs to a function
		// block, so it cannot be scheduled. Skip it.
		return nil
	}

	tag, err := tagOf(op)
	if err != nil {
		return err
	}

	id, err := s.ids.assign(arr)
	if err != nil {
		return err
	}

	s.order = append(s.order, accessRecord{
		tag:     tag,
		arrayID: id,
		ref:     arr.WeakRef(),
		size:    arr.Size(),
		dtype:   dtype,
		ctx:     ctx,
	})
	s.ids.note(id, s.orderIdx)
	s.orderIdx++
	return nil
}
