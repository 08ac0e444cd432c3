package mqtt

import (
	"fmt"
	"strings"
)

// StatusTopic returns the retained gateway status topic.
//
// Example: StatusTopic("smartgarden/area1", "gw-area1") returns
// "smartgarden/area1/gateway/gw-area1/status".
func StatusTopic(prefix, gatewayID string) string {
	return fmt.Sprintf("%s/gateway/%s/status", strings.TrimSuffix(prefix, "/"), gatewayID)
}

// validatePublishTopic rejects empty topics and topics with wildcards,
// which brokers refuse on PUBLISH.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateFilter checks subscription filter syntax: "+" must fill a whole
// level and "#" may only appear as the whole last level.
func validateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, l := range levels {
		if strings.Contains(l, "#") && (l != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: misplaced # in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(l, "+") && l != "+" {
			return fmt.Errorf("%w: misplaced + in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}
