package devsim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap-sched/swap-sched/swap"
)

func TestArrayResidency(t *testing.T) {
	st := NewStore()
	a := st.NewArray(4, swap.Float32)

	require.Equal(t, 0, a.NumArrays())
	require.Equal(t, swap.ArrayClass(""), a.HeadClass())

	// Get adds a copy and moves the head.
	require.NoError(t, a.Get(swap.Float32, DeviceContext(), swap.FlagNone))
	assert.Equal(t, 1, a.NumArrays())
	assert.Equal(t, DeviceClass, a.HeadClass())

	require.NoError(t, a.Get(swap.Float32, HostContext(), swap.FlagNone))
	assert.Equal(t, 2, a.NumArrays(), "get keeps the other copy")
	assert.Equal(t, HostClass, a.HeadClass())
	assert.True(t, a.ResidentOn(DeviceClass))

	// Cast drops every other copy.
	require.NoError(t, a.Cast(swap.Float32, HostContext(), false, swap.FlagAsync|swap.FlagUnsafe))
	assert.Equal(t, 1, a.NumArrays())
	assert.False(t, a.ResidentOn(DeviceClass))

	// Clear drops everything.
	require.NoError(t, a.Clear())
	assert.Equal(t, 0, a.NumArrays())
	assert.Equal(t, swap.ArrayClass(""), a.HeadClass())
}

func TestArrayDtypeFollowsHead(t *testing.T) {
	st := NewStore()
	a := st.NewArray(4, swap.Float32)

	assert.Equal(t, swap.Float32, a.Dtype(), "creation dtype before any copy")
	require.NoError(t, a.Cast(swap.Float16, DeviceContext(), false, swap.FlagNone))
	assert.Equal(t, swap.Float16, a.Dtype())
}

func TestWeakRefSeveredByDestroy(t *testing.T) {
	st := NewStore()
	a := st.NewArray(4, swap.Float32)
	ref := a.WeakRef()

	require.NotNil(t, ref.Resolve())
	a.Destroy()
	assert.Nil(t, ref.Resolve())

	err := a.Get(swap.Float32, DeviceContext(), swap.FlagNone)
	assert.Error(t, err)
}

func TestOpsRouteThroughCallback(t *testing.T) {
	st := NewStore()
	a := st.NewArray(4, swap.Float32)

	var seen []swap.AccessOp
	swap.SetArrayCallback(func(arr swap.Array, op swap.AccessOp, dtype swap.Dtype, ctx swap.Context, writeOnly bool) error {
		seen = append(seen, op)
		return nil
	})
	defer swap.ClearArrayCallback()

	require.NoError(t, a.Get(swap.Float32, DeviceContext(), swap.FlagNone))
	require.NoError(t, a.Cast(swap.Float32, HostContext(), false, swap.FlagNone))
	require.NoError(t, a.Clear())
	assert.Equal(t, []swap.AccessOp{swap.OpGet, swap.OpCast, swap.OpClear}, seen)
}

func TestCallbackErrorAbortsOperation(t *testing.T) {
	st := NewStore()
	a := st.NewArray(4, swap.Float32)

	boom := errors.New("boom")
	swap.SetArrayCallback(func(swap.Array, swap.AccessOp, swap.Dtype, swap.Context, bool) error {
		return boom
	})
	defer swap.ClearArrayCallback()

	err := a.Get(swap.Float32, DeviceContext(), swap.FlagNone)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, a.NumArrays(), "aborted get must not materialize a copy")
	assert.Empty(t, st.Ops(), "aborted operations are not logged")
}

func TestStoreLogsOpsAndSyncs(t *testing.T) {
	st := NewStore()
	a := st.NewArray(4, swap.Float32)

	require.NoError(t, a.Get(swap.Float32, DeviceContext(), swap.FlagAsync|swap.FlagUnsafe))
	require.NoError(t, st.Synchronize(DeviceContext()))

	ops := st.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, swap.OpGet, ops[0].Op)
	assert.True(t, ops[0].Flags.Async())
	assert.Equal(t, 1, st.SyncCount())

	st.ResetOps()
	assert.Empty(t, st.Ops())
}
