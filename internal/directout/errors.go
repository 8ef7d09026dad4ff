package directout

import "errors"

// Domain errors for the DirectOut client package.
var (
	// ErrNotConnected is returned when a command is sent while no socket
	// to the device is open.
	ErrNotConnected = errors.New("directout: not connected to device")

	// ErrConnectionFailed is returned when the TCP connection cannot be
	// established.
	ErrConnectionFailed = errors.New("directout: connection to device failed")

	// ErrInvalidHost is returned when the configured host is not an IP address.
	ErrInvalidHost = errors.New("directout: invalid host address")

	// ErrInvalidPath is returned when a path is not a well-formed pointer or
	// cannot address a slot in the tree.
	ErrInvalidPath = errors.New("directout: invalid path")

	// ErrPathNotFound is returned when a path does not resolve in the state tree.
	ErrPathNotFound = errors.New("directout: path not found")

	// ErrTestFailed is returned when a test patch does not match the tree.
	ErrTestFailed = errors.New("directout: test operation failed")

	// ErrUnsupportedOp is returned for patch operations outside
	// replace/add/remove/test.
	ErrUnsupportedOp = errors.New("directout: unsupported patch operation")

	// ErrNotPrimitive is returned when a value bound for the wire is not a
	// string, number, or boolean.
	ErrNotPrimitive = errors.New("directout: value is not a string, number or boolean")

	// ErrUntranslatable is returned when a value has no entry in the
	// requested translation category.
	ErrUntranslatable = errors.New("directout: value has no translation")

	// ErrUnknownAction is returned when an action id is not defined for the
	// current device.
	ErrUnknownAction = errors.New("directout: unknown action")

	// ErrUnknownFeedback is returned when a feedback id is not defined for
	// the current device.
	ErrUnknownFeedback = errors.New("directout: unknown feedback")

	// ErrInvalidOption is returned when an action or feedback option is
	// missing or has the wrong type.
	ErrInvalidOption = errors.New("directout: invalid option")

	// ErrNotReady is returned when an operation needs the device type and
	// the root snapshot has not been processed yet.
	ErrNotReady = errors.New("directout: session not ready")

	// ErrInvalidMessage is returned when an inbound line cannot be parsed.
	ErrInvalidMessage = errors.New("directout: invalid message")
)
