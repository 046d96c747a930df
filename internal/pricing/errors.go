package pricing

import "errors"

// These messages are returned to API clients verbatim.
var (
	ErrInvalidArgument1     = errors.New("Invalid argument 1")
	ErrInvalidArgument2     = errors.New("Invalid argument 2")
	ErrUnsupportedOperation = errors.New("Unsupported operation")
)

// IsInvalidArgument reports either operand error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument1) || errors.Is(err, ErrInvalidArgument2)
}
