package devsim

import (
	"fmt"

	"github.com/swap-sched/swap-sched/swap"
)

// copyKey identifies one resident copy of an array.
type copyKey struct {
	dtype swap.Dtype
	class swap.ArrayClass
}

// Array is a simulated synced array: a set of (dtype, class) copies with
// a head copy marking the most recently synchronized one. Get adds a
// copy, Cast replaces all copies, Clear drops everything.
type Array struct {
	store *Store
	size  int64
	dtype swap.Dtype // dtype at creation; Dtype() reports the head copy's once one exists

	copies    map[copyKey]struct{}
	head      copyKey
	hasHead   bool
	destroyed bool
}

var _ swap.Array = (*Array)(nil)

// Get ensures a copy at (dtype, ctx) and makes it the head.
func (a *Array) Get(dtype swap.Dtype, ctx swap.Context, flags swap.AsyncFlag) error {
	return a.access(swap.OpGet, dtype, ctx, false, flags, func() {
		k := copyKey{dtype: dtype, class: ctx.ArrayClass}
		a.copies[k] = struct{}{}
		a.head = k
		a.hasHead = true
	})
}

// Cast converts the array to (dtype, ctx), dropping every other copy.
func (a *Array) Cast(dtype swap.Dtype, ctx swap.Context, writeOnly bool, flags swap.AsyncFlag) error {
	return a.access(swap.OpCast, dtype, ctx, writeOnly, flags, func() {
		k := copyKey{dtype: dtype, class: ctx.ArrayClass}
		a.copies = map[copyKey]struct{}{k: {}}
		a.head = k
		a.hasHead = true
	})
}

// Clear releases all copies.
func (a *Array) Clear() error {
	return a.access(swap.OpClear, a.dtype, swap.Context{}, false, swap.FlagNone, func() {
		a.copies = make(map[copyKey]struct{})
		a.hasHead = false
	})
}

func (a *Array) access(op swap.AccessOp, dtype swap.Dtype, ctx swap.Context, writeOnly bool, flags swap.AsyncFlag, apply func()) error {
	if a.destroyed {
		return fmt.Errorf("devsim: %v on destroyed array", op)
	}
	if err := swap.NotifyAccess(a, op, dtype, ctx, writeOnly); err != nil {
		return err
	}
	a.store.logOp(Op{Array: a, Op: op, Dtype: dtype, Ctx: ctx, WriteOnly: writeOnly, Flags: flags})
	apply()
	return nil
}

// Dtype returns the head copy's dtype, or the creation dtype before any
// copy exists.
func (a *Array) Dtype() swap.Dtype {
	if a.hasHead {
		return a.head.dtype
	}
	return a.dtype
}

// Size returns the element count.
func (a *Array) Size() int64 { return a.size }

// NumArrays returns the number of resident copies.
func (a *Array) NumArrays() int { return len(a.copies) }

// HeadClass returns the class of the head copy, or empty before any copy
// exists.
func (a *Array) HeadClass() swap.ArrayClass {
	if !a.hasHead {
		return ""
	}
	return a.head.class
}

// ResidentOn reports whether any copy lives in the given class.
func (a *Array) ResidentOn(class swap.ArrayClass) bool {
	for k := range a.copies {
		if k.class == class {
			return true
		}
	}
	return false
}

// Destroy severs the array: weak refs stop resolving and further
// operations fail. Models the framework deallocating a tensor.
func (a *Array) Destroy() { a.destroyed = true }

// WeakRef returns a non-owning handle to the array.
func (a *Array) WeakRef() swap.ArrayRef { return Ref{arr: a} }

// Ref is a weak handle to a simulated array.
type Ref struct {
	arr *Array
}

// Resolve returns the array, or nil once it has been destroyed.
func (r Ref) Resolve() swap.Array {
	if r.arr == nil || r.arr.destroyed {
		return nil
	}
	return r.arr
}
