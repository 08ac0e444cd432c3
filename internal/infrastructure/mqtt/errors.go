package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSessionLost is returned when publishing while the session is not
	// subscribed. The control loop answers it with Reconnect.
	ErrSessionLost = errors.New("mqtt: session lost")

	// ErrConnectionFailed is returned when a connect attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when subscribing to the command topic fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty topics and for publish topics
	// containing wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when the broker does not answer in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
