// Package matcher implements the DataMatcher byte-pattern predicate used
// to disambiguate asynchronous HCI events that share an event code but
// belong to different pending commands - for example the Connection
// Complete event that answers a Create Connection call is recognised by
// matching the peer address it carries.
//
// Re-expressed from the packed-inline-bytes layout of
// original_source/bt-embedded/data_matcher.h as a small, heap-free struct;
// the 16-byte capacity bound is kept because it limits memory committed
// per pending async command, not because Go needs the packing trick.
package matcher

import "bytes"

// MaxLen is the maximum number of bytes a Matcher may hold across all of
// its rules, matching BTE_DATA_MATCHER_MAX_LEN.
const MaxLen = 16

type rule struct {
	offset uint8
	data   []byte
}

// Matcher is a compiled list of {offset, bytes} rules. The zero value is
// an empty matcher that matches anything.
type Matcher struct {
	rules []rule
	used  uint8
}

// New returns an empty matcher.
func New() *Matcher {
	return &Matcher{}
}

// IsEmpty reports whether the matcher has no rules installed.
func (m *Matcher) IsEmpty() bool {
	return len(m.rules) == 0
}

// AddRule appends a rule comparing data against the event payload at the
// given offset. It returns false, changing nothing, if the compiled form
// would exceed MaxLen bytes (1 byte offset + 1 byte length + len(data)
// per rule) - callers must keep matchers small.
func (m *Matcher) AddRule(offset uint8, data []byte) bool {
	if int(m.used)+2+len(data) > MaxLen {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.rules = append(m.rules, rule{offset: offset, data: cp})
	m.used += uint8(2 + len(data))
	return true
}

// Compare reports whether every rule matches data: for rule {offset,
// bytes}, offset+len(bytes) <= len(data) and data[offset:offset+len(bytes)]
// equals bytes.
func (m *Matcher) Compare(data []byte) bool {
	for _, r := range m.rules {
		end := int(r.offset) + len(r.data)
		if end > len(data) {
			return false
		}
		if !bytes.Equal(data[r.offset:end], r.data) {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of m.
func (m *Matcher) Copy() *Matcher {
	out := &Matcher{used: m.used, rules: make([]rule, len(m.rules))}
	for i, r := range m.rules {
		cp := make([]byte, len(r.data))
		copy(cp, r.data)
		out.rules[i] = rule{offset: r.offset, data: cp}
	}
	return out
}

// IsSame reports whether a and b carry identical rule sets in the same
// order.
func (a *Matcher) IsSame(b *Matcher) bool {
	if len(a.rules) != len(b.rules) {
		return false
	}
	for i := range a.rules {
		if a.rules[i].offset != b.rules[i].offset {
			return false
		}
		if !bytes.Equal(a.rules[i].data, b.rules[i].data) {
			return false
		}
	}
	return true
}
