// Package knownbad maintains the process-wide set of known-malicious
// addresses and domains. The set is read-mostly: refreshes build a complete
// replacement and swap it in atomically, so an in-flight analysis always
// sees one consistent snapshot.
package knownbad

import (
	"strings"
	"sync/atomic"
)

// Set is an immutable snapshot of known-bad addresses/domains. All entries
// are lower-cased at construction; lookups lower-case their input so
// comparisons are case-insensitive at every boundary. A nil *Set behaves as
// an empty, not-yet-loaded set.
type Set struct {
	entries map[string]struct{}
}

// NewSet builds a snapshot from the given values. Empty strings are
// dropped.
func NewSet(values []string) *Set {
	entries := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		entries[v] = struct{}{}
	}
	return &Set{entries: entries}
}

// Contains reports whether v is in the set. Safe on a nil set.
func (s *Set) Contains(v string) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[strings.ToLower(v)]
	return ok
}

// Len returns the number of entries. Safe on a nil set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Values returns the entries in unspecified order.
func (s *Set) Values() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.entries))
	for v := range s.entries {
		out = append(out, v)
	}
	return out
}

// Store holds the current snapshot. Swap replaces the whole set; readers
// take a snapshot once per analysis and never observe a partial update.
type Store struct {
	current atomic.Pointer[Set]
}

// NewStore creates an empty store. Snapshot returns nil until the first
// Swap, which detectors treat as "set unavailable" rather than "no
// matches".
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns the current set, or nil if none has been loaded.
func (st *Store) Snapshot() *Set {
	return st.current.Load()
}

// Swap atomically replaces the current set.
func (st *Store) Swap(s *Set) {
	st.current.Store(s)
}
