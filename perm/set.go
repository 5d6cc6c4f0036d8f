// Package perm implements permission sets and the per-user permission
// service. A permission is an opaque case-sensitive token with no internal
// structure: tokens never imply one another and there is no superuser.
// Authorization is plain set inclusion.
package perm

import (
	"sort"
	"strings"
)

// Order is the result of comparing two sets under subset inclusion.
type Order int

const (
	// Equal means both sets hold exactly the same tokens.
	Equal Order = iota
	// Less means the receiver is a strict subset of the other set.
	Less
	// Greater means the receiver is a strict superset of the other set.
	Greater
	// Incomparable means each side holds a token the other lacks. Inclusion
	// is a partial order; most pairs of sets relate this way.
	Incomparable
)

func (o Order) String() string {
	switch o {
	case Equal:
		return "equal"
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "incomparable"
	}
}

// Set is an immutable collection of permission tokens. The zero value is the
// empty set and is ready to use. All operations return new sets.
type Set struct {
	tokens map[string]struct{}
}

// Parse builds a Set from a whitespace-separated token list. It is total:
// any input is valid, empty fragments are dropped, duplicates collapse.
func Parse(s string) Set {
	return New(strings.Fields(s)...)
}

// New builds a Set from the given tokens. Tokens containing whitespace are
// split the same way Parse splits them.
func New(tokens ...string) Set {
	m := make(map[string]struct{})
	for _, t := range tokens {
		for _, f := range strings.Fields(t) {
			m[f] = struct{}{}
		}
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{tokens: m}
}

// String returns the tokens space-joined in sorted order, the inverse of
// Parse. Sorting keeps serialization deterministic.
func (s Set) String() string {
	return strings.Join(s.Tokens(), " ")
}

// Tokens returns a sorted copy of the token list.
func (s Set) Tokens() []string {
	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Has reports whether token is in the set.
func (s Set) Has(token string) bool {
	_, ok := s.tokens[token]
	return ok
}

// Len returns the number of tokens.
func (s Set) Len() int { return len(s.tokens) }

// IsEmpty reports whether the set holds no tokens.
func (s Set) IsEmpty() bool { return len(s.tokens) == 0 }

// Union returns a set holding every token of s and other.
func (s Set) Union(other Set) Set {
	m := make(map[string]struct{}, len(s.tokens)+len(other.tokens))
	for t := range s.tokens {
		m[t] = struct{}{}
	}
	for t := range other.tokens {
		m[t] = struct{}{}
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{tokens: m}
}

// Difference returns the tokens of s that are not in other.
func (s Set) Difference(other Set) Set {
	m := make(map[string]struct{}, len(s.tokens))
	for t := range s.tokens {
		if _, ok := other.tokens[t]; !ok {
			m[t] = struct{}{}
		}
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{tokens: m}
}

// Intersect returns the tokens present in both s and other.
func (s Set) Intersect(other Set) Set {
	small, large := s.tokens, other.tokens
	if len(large) < len(small) {
		small, large = large, small
	}
	m := make(map[string]struct{}, len(small))
	for t := range small {
		if _, ok := large[t]; ok {
			m[t] = struct{}{}
		}
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{tokens: m}
}

// Equal reports whether both sets hold exactly the same tokens.
func (s Set) Equal(other Set) bool {
	return len(s.tokens) == len(other.tokens) && s.SubsetOf(other)
}

// SubsetOf reports whether every token of s is in other (non-strict).
func (s Set) SubsetOf(other Set) bool {
	if len(s.tokens) > len(other.tokens) {
		return false
	}
	for t := range s.tokens {
		if _, ok := other.tokens[t]; !ok {
			return false
		}
	}
	return true
}

// SupersetOf reports whether every token of other is in s (non-strict).
func (s Set) SupersetOf(other Set) bool {
	return other.SubsetOf(s)
}

// Compare places s against other in the subset partial order. Sets that each
// hold a token the other lacks are Incomparable; no ordering is invented for
// them.
func (s Set) Compare(other Set) Order {
	sub := s.SubsetOf(other)
	sup := other.SubsetOf(s)
	switch {
	case sub && sup:
		return Equal
	case sub:
		return Less
	case sup:
		return Greater
	default:
		return Incomparable
	}
}

// MarshalText serializes the set in Parse/String form.
func (s Set) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a whitespace-separated token list.
func (s *Set) UnmarshalText(text []byte) error {
	*s = Parse(string(text))
	return nil
}
