package neterror

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection fatal errors, each closes only the affected connection
	CodeTransport        Code = "TRANSPORT"
	CodeFrame            Code = "FRAME"
	CodeDeserialization  Code = "DESERIALIZATION"
	CodeUnregisteredType Code = "UNREGISTERED_TYPE"

	// Caller errors, returned locally
	CodeSerialization      Code = "SERIALIZATION"
	CodeConnectionNotFound Code = "CONNECTION_NOT_FOUND"
	CodeNotConnected       Code = "NOT_CONNECTED"
	CodeQueueFull          Code = "QUEUE_FULL"
	CodeTimeout            Code = "TIMEOUT"
	CodeShutdown           Code = "SHUTDOWN"

	// Registration errors
	CodeRegistrationClosed    Code = "REGISTRATION_CLOSED"
	CodeDuplicateRegistration Code = "DUPLICATE_REGISTRATION"
	CodeTagCollision          Code = "TAG_COLLISION"

	// Configuration errors
	CodeInvalidConfig Code = "INVALID_CONFIG"
)

// Fatal reports whether an error of this code ends the connection it occurred on.
func (c Code) Fatal() bool {
	switch c {
	case CodeTransport, CodeFrame, CodeDeserialization, CodeUnregisteredType:
		return true
	default:
		return false
	}
}
