package swap

import "errors"

// Error kinds raised by the scheduler. All are terminal for the current
// iteration; callers are expected to abort training and may retry with a
// larger device budget.
var (
	// ErrOutOfMemory is raised by the planner when the configured budget
	// cannot contain a function's working set.
	ErrOutOfMemory = errors.New("out of device memory")

	// ErrUnsupportedClass is raised when the trace contains an access to a
	// memory class that is neither the designated host nor device class.
	ErrUnsupportedClass = errors.New("unsupported array class")

	// ErrPreclearedAccess is raised by the tracer when a get or cast hits
	// an array the executor has already precleared. It indicates the graph
	// does not repeat the recorded access order.
	ErrPreclearedAccess = errors.New("access to precleared array")

	// ErrIDSpaceExhausted is raised when more distinct arrays appear than
	// fit in the identifier space.
	ErrIDSpaceExhausted = errors.New("array id space exhausted")

	// ErrInvalidInput is raised on adapter or constructor misuse.
	ErrInvalidInput = errors.New("invalid input")
)
