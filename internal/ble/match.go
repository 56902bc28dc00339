package ble

import (
	"fmt"
	"strings"
)

// TopicMatcher matches concrete broker topics against a configured set
// of MQTT topic filters and extracts the proxy identifier captured by
// the first single-level wildcard.
//
// Filters follow MQTT topic-filter semantics: '+' matches exactly one
// level, '#' matches any remaining levels (including none) and must be
// the last level. Matching is order-independent for acceptance; when a
// topic satisfies several filters the first configured filter supplies
// the proxy attribution.
type TopicMatcher struct {
	filters []topicFilter
}

// topicFilter is a parsed filter: its levels plus the index of the
// level whose '+' captures the proxy identifier (-1 when the filter has
// no single-level wildcard).
type topicFilter struct {
	levels   []string
	proxyIdx int
}

// NewTopicMatcher parses and validates a set of topic filters.
//
// Returns ErrInvalidFilter when a filter is empty, uses '#' anywhere but
// the final level, or mixes a wildcard with text in one level.
func NewTopicMatcher(filters []string) (*TopicMatcher, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: no filters configured", ErrInvalidFilter)
	}

	m := &TopicMatcher{filters: make([]topicFilter, 0, len(filters))}
	for _, f := range filters {
		parsed, err := parseFilter(f)
		if err != nil {
			return nil, err
		}
		m.filters = append(m.filters, parsed)
	}
	return m, nil
}

func parseFilter(f string) (topicFilter, error) {
	if f == "" {
		return topicFilter{}, fmt.Errorf("%w: empty filter", ErrInvalidFilter)
	}

	levels := strings.Split(f, "/")
	proxyIdx := -1
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return topicFilter{}, fmt.Errorf("%w: %q ('#' must be the last level)", ErrInvalidFilter, f)
			}
		case level == "+":
			if proxyIdx == -1 {
				proxyIdx = i
			}
		case strings.ContainsAny(level, "+#"):
			return topicFilter{}, fmt.Errorf("%w: %q (wildcard must occupy the whole level)", ErrInvalidFilter, f)
		}
	}
	return topicFilter{levels: levels, proxyIdx: proxyIdx}, nil
}

// Match reports whether topic matches any configured filter and, if so,
// returns the proxy identifier captured by that filter's first '+'
// wildcard (empty when the matching filter has none).
//
// A non-match is expected traffic, not an error: the broker carries
// messages unrelated to this scanner.
func (m *TopicMatcher) Match(topic string) (proxy string, ok bool) {
	if topic == "" {
		return "", false
	}
	levels := strings.Split(topic, "/")

	for _, f := range m.filters {
		if p, matched := f.match(levels); matched {
			return p, true
		}
	}
	return "", false
}

func (f topicFilter) match(topicLevels []string) (string, bool) {
	for i, level := range f.levels {
		if level == "#" {
			// '#' matches the remainder, including zero levels.
			return f.proxyValue(topicLevels), true
		}
		if i >= len(topicLevels) {
			return "", false
		}
		if level != "+" && level != topicLevels[i] {
			return "", false
		}
	}
	if len(topicLevels) != len(f.levels) {
		return "", false
	}
	return f.proxyValue(topicLevels), true
}

func (f topicFilter) proxyValue(topicLevels []string) string {
	if f.proxyIdx >= 0 && f.proxyIdx < len(topicLevels) {
		return topicLevels[f.proxyIdx]
	}
	return ""
}
