package address

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// nodeLevel is the topic level that precedes the node id in garden topics.
const nodeLevel = "node"

// TopicFor substitutes the first "+" in template with the node id.
//
// Example: TopicFor(3, "smartgarden/area1/node/+/data") returns
// "smartgarden/area1/node/3/data".
func (t *Table) TopicFor(id NodeID, template string) (string, error) {
	if !t.Contains(id) {
		return "", fmt.Errorf("%w: %d not in [1, %d]", ErrUnknownNode, id, len(t.nodes))
	}
	if !strings.Contains(template, "+") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplate, template)
	}
	return strings.Replace(template, "+", id.String(), 1), nil
}

// NodeIDFromTopic extracts the node id from a topic such as
// "smartgarden/area1/node/2/pump".
//
// If pattern is non-empty the topic must match it using MQTT filter rules
// and the id is the topic level at the position of the pattern's first "+".
// Without a pattern the id is the level following the first whole "node"
// level. The id must be a plain decimal number naming a configured node.
func (t *Table) NodeIDFromTopic(topic, pattern string) (NodeID, error) {
	levels := strings.Split(topic, "/")

	idx := -1
	if pattern != "" {
		if !MatchTopic(pattern, topic) {
			return 0, fmt.Errorf("%w: topic %q does not match %q", ErrUnknownNode, topic, pattern)
		}
		idx = slices.Index(strings.Split(pattern, "/"), "+")
		if idx < 0 || idx >= len(levels) {
			return 0, fmt.Errorf("%w: pattern %q has no node level", ErrInvalidTemplate, pattern)
		}
	} else {
		if i := slices.Index(levels, nodeLevel); i >= 0 && i+1 < len(levels) {
			idx = i + 1
		}
		if idx < 0 {
			return 0, fmt.Errorf("%w: topic %q has no node level", ErrUnknownNode, topic)
		}
	}

	segment := levels[idx]
	n, err := strconv.ParseUint(segment, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: node segment %q: %w", ErrUnknownNode, segment, err)
	}
	return t.Validate(int(n))
}

// MatchTopic reports whether topic matches an MQTT subscription filter.
// "+" matches exactly one level, a trailing "#" matches any remainder.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
