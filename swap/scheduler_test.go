package swap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerValidation(t *testing.T) {
	env := &testEnv{}

	_, err := NewScheduler(testHostCtx, testDeviceCtx, 0, env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewScheduler(testHostCtx, testHostCtx, 16, nil)
	require.Error(t, err, "same class and nil synchronizer must both be reported")

	s, err := NewScheduler(testHostCtx, testDeviceCtx, 16, env)
	require.NoError(t, err)
	assert.Equal(t, int64(16), s.maxBytesSwapIn)
	assert.Equal(t, int64(8), s.maxBytesSwapOut)
}

// The callback slot is held only between StartScheduling and
// EndScheduling; accesses outside the window are invisible.
func TestSchedulerScopesCallbackSlot(t *testing.T) {
	env := &testEnv{}
	s := newTestScheduler(t, env, 64)
	a := newTestArray(env, "a", 1, Float32)
	b := newTestArray(env, "b", 1, Float32)

	mustIterate(t, s, [][]access{
		{castDev(a)},
		{castDev(b)},
	})
	require.Nil(t, arrayCallback, "slot must be clean after EndScheduling")

	recorded := len(s.order)
	require.NoError(t, a.Cast(Float32, testDeviceCtx, false, FlagNone))
	assert.Equal(t, recorded, len(s.order), "access outside the window was traced")
}

// Device residency never exceeds the budget once the plan is active,
// even though the working set is larger than the device.
func TestSchedulerStaysWithinBudget(t *testing.T) {
	env := &testEnv{}
	s := newTestScheduler(t, env, 16)
	arrays := make([]*testArray, 5)
	for i := range arrays {
		arrays[i] = newTestArray(env, string(rune('a'+i)), 1, Float32)
	}

	// 20 bytes of working set against a 16-byte device.
	script := [][]access{
		{castDev(arrays[0]), castDev(arrays[1])},
		{castDev(arrays[2]), castDev(arrays[3])},
		{castDev(arrays[4]), castDev(arrays[0])},
		{castDev(arrays[1]), castDev(arrays[2])},
		{castDev(arrays[3]), castDev(arrays[4])},
	}

	mustIterate(t, s, script)
	env.resetWatermark()

	for i := 0; i < 3; i++ {
		mustIterate(t, s, script)
	}
	assert.LessOrEqual(t, env.maxDeviceBytes, int64(16),
		"scheduled iterations exceeded the device budget")
	assert.Greater(t, env.syncs, 0, "device must be synchronized at end of iteration")
}

// The first iteration evicts everything it recorded, so nothing is left
// on device when planning starts.
func TestSchedulerFirstIterationEvictsAll(t *testing.T) {
	env := &testEnv{}
	s := newTestScheduler(t, env, 64)
	a := newTestArray(env, "a", 2, Float32)
	b := newTestArray(env, "b", 2, Float32)

	mustIterate(t, s, [][]access{
		{castDev(a)},
		{castDev(b)},
	})

	for _, arr := range []*testArray{a, b} {
		assert.True(t, arr.residentOn(testHostCtx.ArrayClass), "%s not evicted to host", arr.name)
		assert.False(t, arr.residentOn(testDeviceCtx.ArrayClass), "%s still on device", arr.name)
	}
	assert.Equal(t, int64(0), env.deviceBytes)
}

// Destroyed arrays are skipped at execution time; the weak references
// must not keep them alive or fail the replay.
func TestSchedulerSkipsDestroyedArrays(t *testing.T) {
	env := &testEnv{}
	s := newTestScheduler(t, env, 64)
	a := newTestArray(env, "a", 1, Float32)
	b := newTestArray(env, "b", 1, Float32)

	mustIterate(t, s, [][]access{
		{castDev(a)},
		{castDev(b)},
		{getDev(b)},
	})

	a.destroyed = true

	// The plan still references a; its entries resolve to nil and are
	// skipped, while b's schedule keeps working. The live stream omits
	// a's function body as well.
	err := runIteration(t, s, [][]access{
		{},
		{castDev(b)},
		{getDev(b)},
	})
	require.NoError(t, err)
}

// Reset returns the scheduler to recording state so a changed topology
// can be re-recorded and re-planned.
func TestSchedulerReset(t *testing.T) {
	env := &testEnv{}
	s := newTestScheduler(t, env, 64)
	a := newTestArray(env, "a", 1, Float32)
	b := newTestArray(env, "b", 1, Float32)

	mustIterate(t, s, [][]access{
		{castDev(a)},
		{castDev(b)},
	})
	require.False(t, s.firstIter)
	require.NotEmpty(t, s.order)

	s.Reset()
	assert.True(t, s.firstIter)
	assert.Empty(t, s.order)
	assert.Empty(t, s.funcBlockEnds)

	// A different topology records and plans cleanly.
	c := newTestArray(env, "c", 1, Float32)
	mustIterate(t, s, [][]access{
		{castDev(c), castDev(a)},
		{castDev(b)},
	})
	assert.Equal(t, []int{2, 3}, s.funcBlockEnds)
}
