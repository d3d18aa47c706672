package swap

// FunctionPlan aggregates one function's schedule sizes.
type FunctionPlan struct {
	SwapIns      int
	SwapOuts     int
	Waits        int
	SwapInBytes  int64
	SwapOutBytes int64
}

// PlanSummary aggregates the planned schedules for reporting. Safe to
// call before planning (counts are zero and PerFunction is empty;
// BudgetBytes is still the configured budget).
type PlanSummary struct {
	Functions   int
	Records     int
	Arrays      int
	BudgetBytes int64
	PerFunction []FunctionPlan
}

// Summary computes aggregate statistics over the planned schedules.
func (s *Scheduler) Summary() PlanSummary {
	summary := PlanSummary{
		Functions:   len(s.funcBlockEnds),
		Records:     len(s.order),
		Arrays:      s.ids.distinct(),
		BudgetBytes: s.maxBytesSwapIn,
	}

	for fid := 0; fid < len(s.funcBlockEnds); fid++ {
		fp := FunctionPlan{
			SwapIns:  len(s.swapInSchedule[fid]),
			SwapOuts: len(s.swapOutSchedule[fid]),
			Waits:    len(s.waitSchedule[fid]),
		}
		for _, idx := range s.swapInSchedule[fid] {
			fp.SwapInBytes += s.order[idx].bytes()
		}
		for _, idx := range s.swapOutSchedule[fid] {
			if !s.order[idx].preclear && !s.order[idx].noNeedSwapOut {
				fp.SwapOutBytes += s.order[idx].bytes()
			}
		}
		summary.PerFunction = append(summary.PerFunction, fp)
	}

	return summary
}
