package swap

import (
	"fmt"
	"testing"
)

// Test doubles for the external tensor store: a minimal synced-array
// implementation with residency tracking, an operation log, and a
// device-bytes watermark for budget assertions.

var (
	testHostCtx   = Context{ArrayClass: "host"}
	testDeviceCtx = Context{ArrayClass: "device"}
)

type testOp struct {
	arr   *testArray
	op    AccessOp
	dtype Dtype
	ctx   Context
	flags AsyncFlag
}

type testEnv struct {
	ops   []testOp
	syncs int

	deviceBytes    int64
	maxDeviceBytes int64
}

func (e *testEnv) Synchronize(ctx Context) error {
	e.syncs++
	return nil
}

func (e *testEnv) resetWatermark() {
	e.maxDeviceBytes = e.deviceBytes
}

type testCopy struct {
	dtype Dtype
	class ArrayClass
}

type testArray struct {
	env       *testEnv
	name      string
	size      int64
	dtype     Dtype
	copies    map[testCopy]struct{}
	head      testCopy
	hasHead   bool
	destroyed bool
}

func newTestArray(env *testEnv, name string, size int64, dtype Dtype) *testArray {
	return &testArray{
		env:    env,
		name:   name,
		size:   size,
		dtype:  dtype,
		copies: make(map[testCopy]struct{}),
	}
}

func (a *testArray) accountDevice(delta int64) {
	a.env.deviceBytes += delta
	if a.env.deviceBytes > a.env.maxDeviceBytes {
		a.env.maxDeviceBytes = a.env.deviceBytes
	}
}

func (a *testArray) addCopy(k testCopy) {
	if _, ok := a.copies[k]; !ok {
		a.copies[k] = struct{}{}
		if k.class == testDeviceCtx.ArrayClass {
			a.accountDevice(a.size * k.dtype.Size())
		}
	}
	a.head = k
	a.hasHead = true
}

func (a *testArray) dropCopies() {
	for k := range a.copies {
		if k.class == testDeviceCtx.ArrayClass {
			a.accountDevice(-a.size * k.dtype.Size())
		}
		delete(a.copies, k)
	}
}

func (a *testArray) Get(dtype Dtype, ctx Context, flags AsyncFlag) error {
	if err := NotifyAccess(a, OpGet, dtype, ctx, false); err != nil {
		return err
	}
	a.env.ops = append(a.env.ops, testOp{arr: a, op: OpGet, dtype: dtype, ctx: ctx, flags: flags})
	a.addCopy(testCopy{dtype: dtype, class: ctx.ArrayClass})
	return nil
}

func (a *testArray) Cast(dtype Dtype, ctx Context, writeOnly bool, flags AsyncFlag) error {
	if err := NotifyAccess(a, OpCast, dtype, ctx, writeOnly); err != nil {
		return err
	}
	a.env.ops = append(a.env.ops, testOp{arr: a, op: OpCast, dtype: dtype, ctx: ctx, flags: flags})
	a.dropCopies()
	a.addCopy(testCopy{dtype: dtype, class: ctx.ArrayClass})
	return nil
}

func (a *testArray) Clear() error {
	if err := NotifyAccess(a, OpClear, a.dtype, Context{}, false); err != nil {
		return err
	}
	a.env.ops = append(a.env.ops, testOp{arr: a, op: OpClear})
	a.dropCopies()
	a.hasHead = false
	return nil
}

func (a *testArray) Dtype() Dtype {
	if a.hasHead {
		return a.head.dtype
	}
	return a.dtype
}

func (a *testArray) Size() int64    { return a.size }
func (a *testArray) NumArrays() int { return len(a.copies) }

func (a *testArray) HeadClass() ArrayClass {
	if !a.hasHead {
		return ""
	}
	return a.head.class
}

func (a *testArray) WeakRef() ArrayRef { return testRef{arr: a} }

func (a *testArray) residentOn(class ArrayClass) bool {
	for k := range a.copies {
		if k.class == class {
			return true
		}
	}
	return false
}

type testRef struct {
	arr *testArray
}

func (r testRef) Resolve() Array {
	if r.arr == nil || r.arr.destroyed {
		return nil
	}
	return r.arr
}

// access is one step of a scripted iteration.
type access struct {
	arr   *testArray
	op    AccessOp
	dtype Dtype
	ctx   Context
}

func castDev(a *testArray) access  { return access{arr: a, op: OpCast, dtype: a.dtype, ctx: testDeviceCtx} }
func getDev(a *testArray) access   { return access{arr: a, op: OpGet, dtype: a.dtype, ctx: testDeviceCtx} }
func castHost(a *testArray) access { return access{arr: a, op: OpCast, dtype: a.dtype, ctx: testHostCtx} }
func clearArr(a *testArray) access { return access{arr: a, op: OpClear} }

func (ac access) perform() error {
	switch ac.op {
	case OpGet:
		return ac.arr.Get(ac.dtype, ac.ctx, FlagNone)
	case OpCast:
		return ac.arr.Cast(ac.dtype, ac.ctx, false, FlagNone)
	case OpClear:
		return ac.arr.Clear()
	default:
		return fmt.Errorf("bad op %v", ac.op)
	}
}

// runIteration drives one full scheduled iteration over the scripted
// function blocks.
func runIteration(t *testing.T, s *Scheduler, funcs [][]access) error {
	t.Helper()
	s.StartScheduling()
	for i, fn := range funcs {
		if err := s.PreFunction(fmt.Sprintf("f%d", i)); err != nil {
			return err
		}
		for _, ac := range fn {
			if err := ac.perform(); err != nil {
				return err
			}
		}
		if err := s.PostFunction(fmt.Sprintf("f%d", i)); err != nil {
			return err
		}
	}
	return s.EndScheduling()
}

// mustIterate fails the test on any error.
func mustIterate(t *testing.T, s *Scheduler, funcs [][]access) {
	t.Helper()
	if err := runIteration(t, s, funcs); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
}

func newTestScheduler(t *testing.T, env *testEnv, budget int64) *Scheduler {
	t.Helper()
	s, err := NewScheduler(testHostCtx, testDeviceCtx, budget, env)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	// Leave the process-wide slot clean even if an iteration aborts.
	t.Cleanup(ClearArrayCallback)
	return s
}
