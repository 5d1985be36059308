package chat

import (
	"fmt"
	"strings"
)

const (
	// MaxMatchSize is the longest match prefix accepted by SetMatch.
	MaxMatchSize = 255
	// MaxSeparatorsSize is the largest separator set accepted by
	// SetSeparators.
	MaxSeparatorsSize = 255
	// Wildcard matches any single byte in a Match with wildcards enabled.
	Wildcard = '?'
)

// MatchCallback is invoked when a received line is resolved to a Match.
// argv[0] is the matched prefix and argv[1:] the separated fields that
// followed it. argv is owned by the chat and must not be retained after the
// callback returns.
type MatchCallback func(c *Chat, argv []string, userData any)

// Match recognizes a received line by its prefix and describes how the rest
// of the line is split into arguments.
//
// The zero Match, with an empty prefix, matches every line and is used as
// a catch-all at the end of a match table.
type Match struct {
	// Match is the prefix a line must start with.
	Match string
	// Separators is the set of bytes that split the line after the prefix.
	// Without separators the whole remainder becomes a single argument.
	Separators string
	// Wildcards makes '?' in Match accept any byte.
	Wildcards bool
	// Partial marks a response match which does not complete the script
	// step it belongs to. Its callback fires and the step keeps waiting.
	Partial bool
	// EmptyLines lets a catch-all fire on empty lines, with argv holding
	// only the empty prefix. Empty lines are not offered to other matches.
	EmptyLines bool
	// Callback is optional.
	Callback MatchCallback
}

// NewMatch returns a Match for prefix, split by separators, invoking cb.
func NewMatch(prefix, separators string, cb MatchCallback) Match {
	return Match{Match: prefix, Separators: separators, Callback: cb}
}

// NewPartialMatch is NewMatch with Partial set.
func NewPartialMatch(prefix, separators string, cb MatchCallback) Match {
	return Match{Match: prefix, Separators: separators, Partial: true, Callback: cb}
}

// AnyMatch returns a catch-all Match.
func AnyMatch(separators string, cb MatchCallback) Match {
	return Match{Separators: separators, Callback: cb}
}

// SetMatch sets the prefix. An empty prefix turns m into a catch-all.
func (m *Match) SetMatch(prefix string) error {
	if len(prefix) > MaxMatchSize {
		return fmt.Errorf("match of %d bytes: %w", len(prefix), ErrInvalidArgument)
	}
	m.Match = prefix
	return nil
}

// SetSeparators sets the separator set.
func (m *Match) SetSeparators(separators string) error {
	if len(separators) > MaxSeparatorsSize {
		return fmt.Errorf("%d separators: %w", len(separators), ErrInvalidArgument)
	}
	m.Separators = separators
	return nil
}

// SetCallback sets the callback. A nil callback is rejected; clear the
// field directly to remove one.
func (m *Match) SetCallback(cb MatchCallback) error {
	if cb == nil {
		return fmt.Errorf("nil match callback: %w", ErrInvalidArgument)
	}
	m.Callback = cb
	return nil
}

// EnableWildcards enables or disables wildcard matching.
func (m *Match) EnableWildcards(enable bool) {
	m.Wildcards = enable
}

// SetPartial marks m as partial.
func (m *Match) SetPartial(partial bool) {
	m.Partial = partial
}

// IsCatchAll reports whether m matches every line.
func (m *Match) IsCatchAll() bool {
	return m.Match == ""
}

// matches reports whether line starts with the prefix of m.
func (m *Match) matches(line []byte) bool {
	if len(line) == 0 {
		return m.EmptyLines && m.IsCatchAll()
	}
	if len(line) < len(m.Match) {
		return false
	}
	for i := 0; i < len(m.Match); i++ {
		if m.Match[i] == line[i] {
			continue
		}
		if m.Wildcards && m.Match[i] == Wildcard {
			continue
		}
		return false
	}
	return true
}

func (m *Match) isSeparator(b byte) bool {
	return strings.IndexByte(m.Separators, b) >= 0
}

func (m *Match) validate() error {
	if len(m.Match) > MaxMatchSize {
		return fmt.Errorf("match %.16q...: %w", m.Match, ErrInvalidArgument)
	}
	if len(m.Separators) > MaxSeparatorsSize {
		return fmt.Errorf("separators of match %q: %w", m.Match, ErrInvalidArgument)
	}
	return nil
}

// findMatch returns the first match of table which line starts with.
func findMatch(table []Match, line []byte) *Match {
	for i := range table {
		if table[i].matches(line) {
			return &table[i]
		}
	}
	return nil
}
