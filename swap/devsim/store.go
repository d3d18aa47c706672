// Package devsim provides an in-memory tensor store and device runtime
// for exercising the swap scheduler without a GPU. Arrays track which
// (dtype, class) copies are resident, every operation is routed through
// the process-wide array callback, and the store keeps an operation log
// tests can assert against.
package devsim

import (
	"github.com/swap-sched/swap-sched/swap"
)

// Memory classes used by the simulated store.
const (
	HostClass   swap.ArrayClass = "host"
	DeviceClass swap.ArrayClass = "device"
)

// HostContext returns a context on the simulated host class.
func HostContext() swap.Context { return swap.Context{ArrayClass: HostClass} }

// DeviceContext returns a context on the simulated device class.
func DeviceContext() swap.Context { return swap.Context{ArrayClass: DeviceClass} }

// Op is one logged store operation.
type Op struct {
	Array     *Array
	Op        swap.AccessOp
	Dtype     swap.Dtype
	Ctx       swap.Context
	WriteOnly bool
	Flags     swap.AsyncFlag
}

// Store owns simulated arrays and the operation log, and stands in for
// the device runtime as a Synchronizer.
type Store struct {
	arrays []*Array
	ops    []Op
	syncs  int
}

// NewStore creates an empty store.
func NewStore() *Store { return &Store{} }

// NewArray allocates a simulated array with no resident copies.
func (st *Store) NewArray(size int64, dtype swap.Dtype) *Array {
	a := &Array{
		store:  st,
		size:   size,
		dtype:  dtype,
		copies: make(map[copyKey]struct{}),
	}
	st.arrays = append(st.arrays, a)
	return a
}

// Synchronize implements swap.Synchronizer. The simulated device has no
// real streams; the call is counted so tests can assert the barrier ran.
func (st *Store) Synchronize(ctx swap.Context) error {
	st.syncs++
	return nil
}

// SyncCount returns how many times Synchronize ran.
func (st *Store) SyncCount() int { return st.syncs }

// Ops returns the operation log in issue order.
func (st *Store) Ops() []Op { return st.ops }

// ResetOps empties the operation log.
func (st *Store) ResetOps() { st.ops = nil }

func (st *Store) logOp(op Op) { st.ops = append(st.ops, op) }
