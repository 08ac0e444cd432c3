package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidWindow is returned for a time window that is not "HH:MM".
	ErrInvalidWindow = errors.New("rule: invalid time window")

	// ErrMQTTUnavailable is returned when the engine has no publisher.
	ErrMQTTUnavailable = errors.New("automation: MQTT unavailable")
)
