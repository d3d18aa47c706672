package swap

import "fmt"

// Dtype identifies the element type of an array. Byte sizes follow the
// usual numeric widths; Float16 is two bytes.
type Dtype uint8

const (
	Float32 Dtype = iota
	Float64
	Float16
	Int8
	Int16
	Int32
	Int64
	UInt8
)

// Size returns the element size in bytes.
func (d Dtype) Size() int64 {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16, Int16:
		return 2
	case Int8, UInt8:
		return 1
	default:
		panic(fmt.Sprintf("unknown dtype %d", d))
	}
}

func (d Dtype) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case UInt8:
		return "uint8"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDtype maps a dtype name (as used in workload files) to its Dtype.
func ParseDtype(s string) (Dtype, error) {
	for _, d := range []Dtype{Float32, Float64, Float16, Int8, Int16, Int32, Int64, UInt8} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// ArrayClass names a memory class an array can reside in, e.g. the host
// allocator class or the device allocator class. The scheduler only
// distinguishes host class, device class, and everything else.
type ArrayClass string

// Context describes a target memory location for a get or cast.
type Context struct {
	ArrayClass ArrayClass
	DeviceID   string
}

// AccessOp is the raw operation kind delivered to the array callback.
type AccessOp uint8

const (
	OpGet AccessOp = iota
	OpCast
	OpClear
)

func (op AccessOp) String() string {
	switch op {
	case OpGet:
		return "get"
	case OpCast:
		return "cast"
	case OpClear:
		return "clear"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// AsyncFlag modifies get/cast behavior. FlagAsync requests a non-blocking
// transfer; FlagUnsafe skips the implicit synchronization the store would
// otherwise perform. A plain synchronous get to a context is the waiting
// primitive: it does not return until prior async copies to that context
// have drained.
type AsyncFlag uint8

const (
	FlagAsync AsyncFlag = 1 << iota
	FlagUnsafe
)

// FlagNone requests plain synchronous semantics.
const FlagNone AsyncFlag = 0

// Async reports whether the async bit is set.
func (f AsyncFlag) Async() bool { return f&FlagAsync != 0 }

// Array is the capability set the scheduler consumes from the tensor
// store. Implementations must be pointer-shaped: the scheduler compares
// handles by interface equality to detect identity substitution.
type Array interface {
	// Get ensures a copy of the array is resident at ctx with the given
	// dtype. Used synchronously (FlagNone) it acts as a barrier for
	// earlier async transfers of the same array.
	Get(dtype Dtype, ctx Context, flags AsyncFlag) error
	// Cast changes the array's residency and dtype, dropping other copies.
	Cast(dtype Dtype, ctx Context, writeOnly bool, flags AsyncFlag) error
	// Clear releases all of the array's storage.
	Clear() error

	Dtype() Dtype
	Size() int64
	// NumArrays returns the number of resident copies; zero once cleared.
	NumArrays() int
	// HeadClass returns the class of the most recently synchronized copy.
	HeadClass() ArrayClass
	// WeakRef returns a non-owning handle. The scheduler never extends
	// array lifetimes; it resolves refs at use time and skips dead ones.
	WeakRef() ArrayRef
}

// ArrayRef is a weak handle to an Array. Resolve returns nil once the
// backing array has been destroyed.
type ArrayRef interface {
	Resolve() Array
}

// Synchronizer blocks until all outstanding asynchronous transfers on the
// given context have completed.
type Synchronizer interface {
	Synchronize(ctx Context) error
}

// Callback receives every get/cast/clear performed through the tensor
// store while installed in the process-wide slot. A non-nil error aborts
// the triggering store operation.
type Callback func(arr Array, op AccessOp, dtype Dtype, ctx Context, writeOnly bool) error

// The process-wide callback slot. The store invokes NotifyAccess on every
// array operation; the scheduler installs its recorder or tracer here and
// detaches it around its own steps so internal transfers are not traced.
// Single-threaded by design: the compute graph executes serially.
var arrayCallback Callback

// SetArrayCallback installs cb in the process-wide callback slot.
func SetArrayCallback(cb Callback) { arrayCallback = cb }

// ClearArrayCallback empties the process-wide callback slot.
func ClearArrayCallback() { arrayCallback = nil }

// NotifyAccess is called by tensor stores on every get/cast/clear.
// It forwards to the installed callback, if any.
func NotifyAccess(arr Array, op AccessOp, dtype Dtype, ctx Context, writeOnly bool) error {
	if arrayCallback == nil {
		return nil
	}
	return arrayCallback(arr, op, dtype, ctx, writeOnly)
}
