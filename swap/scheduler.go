package swap

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Scheduler overlaps host/device transfers with compute for training runs
// whose per-iteration working set exceeds device memory.
//
// Iteration 0 records the graph's get/cast/clear sequence through the
// process-wide array callback. At the end of iteration 0 the planner
// converts the trace into per-function swap-in, swap-out and wait
// schedules under the configured byte budget. Later iterations replay the
// plan: each pre-function hook issues the asynchronous transfers for the
// upcoming function while the tracer validates that the live access
// stream still matches the recording.
//
// The scheduler is a scoped resource: StartScheduling installs the
// callback and EndScheduling must run on every exit path to leave the
// slot clean. Only one scheduler may be live at a time.
type Scheduler struct {
	hostCtx   Context
	deviceCtx Context

	// maxBytesSwapIn is the full device budget B; maxBytesSwapOut is B/2,
	// reserved for in-flight evictions so prefetch can never collide with
	// an incomplete swap-out.
	maxBytesSwapIn  int64
	maxBytesSwapOut int64

	sync    Synchronizer
	metrics *Metrics

	// The recorded trace and its per-function block boundaries.
	// funcBlockEnds[f] is the exclusive end index of function f's records.
	order         []accessRecord
	funcBlockEnds []int

	// Schedules hold indices into order, keyed by function, so that
	// handle rewrites are visible without a second lookup.
	swapInSchedule  map[int][]int
	swapOutSchedule map[int][]int
	waitSchedule    map[int][]int

	ids identityMap

	orderIdx int // next expected trace position
	funcIdx  int // 1-based once the first pre hook has fired
	tail     int // FIFO pointer over pending evictions

	usedBytesSwapOut int64

	wrongOrdered []accessRecord
	precleared   map[Array]bool

	// swappedOut / swappedOutIdx track, per id, the record whose eviction
	// is currently scheduled, so a later prefetch can cancel it.
	swappedOut    map[ArrayID]bool
	swappedOutIdx map[ArrayID]int

	dbuf doubleBufferState

	callback  Callback
	firstIter bool
	iterCount int
}

// NewScheduler validates the configuration and returns a scheduler in
// recording state. bytes is the device-memory budget B.
func NewScheduler(hostCtx, deviceCtx Context, bytes int64, sync Synchronizer) (*Scheduler, error) {
	var errs *multierror.Error
	if bytes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: device budget must be positive, got %d", ErrInvalidInput, bytes))
	}
	if hostCtx.ArrayClass == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: host context has no array class", ErrInvalidInput))
	}
	if deviceCtx.ArrayClass == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: device context has no array class", ErrInvalidInput))
	}
	if hostCtx.ArrayClass == deviceCtx.ArrayClass {
		errs = multierror.Append(errs, fmt.Errorf("%w: host and device share array class %q", ErrInvalidInput, hostCtx.ArrayClass))
	}
	if sync == nil {
		errs = multierror.Append(errs, fmt.Errorf("%w: nil synchronizer", ErrInvalidInput))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		hostCtx:         hostCtx,
		deviceCtx:       deviceCtx,
		maxBytesSwapIn:  bytes,
		maxBytesSwapOut: bytes / 2,
		sync:            sync,
		swapInSchedule:  make(map[int][]int),
		swapOutSchedule: make(map[int][]int),
		waitSchedule:    make(map[int][]int),
		ids:             newIdentityMap(),
		precleared:      make(map[Array]bool),
		swappedOut:      make(map[ArrayID]bool),
		swappedOutIdx:   make(map[ArrayID]int),
		firstIter:       true,
	}
	s.callback = s.recordAccess
	return s, nil
}

// SetMetrics attaches a counter set. Pass nil to run unmetered.
func (s *Scheduler) SetMetrics(m *Metrics) { s.metrics = m }

// Iterations returns the number of completed iterations.
func (s *Scheduler) Iterations() int { return s.iterCount }

// classify resolves a context against the configured host and device
// classes. Anything else is memOther and an error at the point of use.
func (s *Scheduler) classify(ctx Context) memKind {
	switch ctx.ArrayClass {
	case s.deviceCtx.ArrayClass:
		return memDevice
	case s.hostCtx.ArrayClass:
		return memHost
	default:
		return memOther
	}
}

// blockStart returns the inclusive start index of function fid's block.
func (s *Scheduler) blockStart(fid int) int {
	if fid == 0 {
		return 0
	}
	return s.funcBlockEnds[fid-1]
}

// initIteration resets per-iteration runtime state. The trace, block
// boundaries and schedules survive.
func (s *Scheduler) initIteration() {
	s.tail = 0
	s.usedBytesSwapOut = 0
	s.orderIdx = 0
	s.funcIdx = 0
	s.wrongOrdered = s.wrongOrdered[:0]
	s.precleared = make(map[Array]bool)
	s.ids.clearHandles()
	s.swappedOut = make(map[ArrayID]bool)
	s.swappedOutIdx = make(map[ArrayID]int)
}

// StartScheduling frames the beginning of one training iteration: it
// resets runtime state and installs the recorder or tracer in the
// process-wide callback slot.
func (s *Scheduler) StartScheduling() {
	s.initIteration()
	SetArrayCallback(s.callback)
}

// EndScheduling frames the end of one training iteration. It detaches the
// callback, flushes all pending transfers, schedules (after iteration 0)
// and synchronizes the device before returning.
func (s *Scheduler) EndScheduling() error {
	ClearArrayCallback()
	return s.finalize()
}

// PreFunction must be called before each compute function executes.
func (s *Scheduler) PreFunction(name string) error {
	logrus.Debugf("swap: pre function %q (idx %d)", name, s.funcIdx)
	return s.preStep()
}

// PostFunction is the matching post hook. It does no work; all transfers
// for a function are issued before the next one starts.
func (s *Scheduler) PostFunction(name string) error { return nil }

// PreUpdate must be called before the optimizer update step. The update
// is treated as one more function block.
func (s *Scheduler) PreUpdate() error {
	logrus.Debugf("swap: pre update (idx %d)", s.funcIdx)
	return s.preStep()
}

// PostUpdate is a no-op, like PostFunction.
func (s *Scheduler) PostUpdate() error { return nil }

// Reset discards the recorded trace and returns the scheduler to
// recording state. Use after a graph topology change; the next iteration
// re-records and re-plans.
func (s *Scheduler) Reset() {
	s.initIteration()
	s.order = nil
	s.funcBlockEnds = nil
	s.swapInSchedule = make(map[int][]int)
	s.swapOutSchedule = make(map[int][]int)
	s.waitSchedule = make(map[int][]int)
	s.ids.reset()
	s.dbuf = doubleBufferState{}
	s.firstIter = true
	s.callback = s.recordAccess
}

// finalize performs the post-step of the last function, drains every
// pending transfer, plans after the first iteration and synchronizes the
// device. The synchronize is required: the caller may be about to write
// host buffers an outstanding async copy still reads.
func (s *Scheduler) finalize() error {
	if s.funcIdx > 0 {
		if err := s.swapOutStep(); err != nil {
			return err
		}
	}

	// Arrays touched out of recorded order are unknown to the plan; push
	// them to host synchronously. Always empty on the first iteration.
	if err := s.swapOutWrongOrder(); err != nil {
		return err
	}

	if err := s.waitForAllSwapOut(); err != nil {
		return err
	}

	if s.firstIter {
		s.initIteration()
		if err := s.plan(); err != nil {
			return err
		}
	}

	if err := s.sync.Synchronize(s.deviceCtx); err != nil {
		return err
	}

	s.callback = s.traceAccess
	s.firstIter = false
	s.iterCount++
	s.metrics.addIteration()
	logrus.Debugf("swap: iteration %d finalized (%d records, %d wrong-ordered)",
		s.iterCount-1, len(s.order), len(s.wrongOrdered))
	return nil
}
