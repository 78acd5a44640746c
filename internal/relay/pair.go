// Package relay holds the server-side relay fabric primitives: the unordered
// pair table that authorizes relay_data forwarding, and the shared-secret
// gate that guards pair creation.
package relay

// PairKey identifies an unordered pair of peer identifiers. Keys are
// canonicalized so {A,B} and {B,A} map to the same value, which makes map
// hashing symmetric without custom equality.
type PairKey struct {
	Lo, Hi string
}

func NewPairKey(a, b string) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// Contains reports whether id is one of the pair's members.
func (k PairKey) Contains(id string) bool {
	return k.Lo == id || k.Hi == id
}

// Other returns the pair member that is not id. Callers must have checked
// Contains first; Other of a non-member returns Lo.
func (k PairKey) Other(id string) string {
	if k.Lo == id {
		return k.Hi
	}
	return k.Lo
}

// PairTable is the set of active relay pairs.
//
// The table is not safe for concurrent use: the registry and the pair table
// share the signaling server's mutex, so all access happens under that lock.
type PairTable struct {
	pairs map[PairKey]struct{}
}

func NewPairTable() *PairTable {
	return &PairTable{pairs: make(map[PairKey]struct{})}
}

// Add inserts the pair {a,b}. It reports whether the pair was newly created;
// re-adding an existing pair is a no-op.
func (t *PairTable) Add(a, b string) bool {
	key := NewPairKey(a, b)
	if _, ok := t.pairs[key]; ok {
		return false
	}
	t.pairs[key] = struct{}{}
	return true
}

// Has reports whether the pair {a,b} is active.
func (t *PairTable) Has(a, b string) bool {
	_, ok := t.pairs[NewPairKey(a, b)]
	return ok
}

// Remove erases the pair {a,b} and reports whether it existed.
func (t *PairTable) Remove(a, b string) bool {
	key := NewPairKey(a, b)
	if _, ok := t.pairs[key]; !ok {
		return false
	}
	delete(t.pairs, key)
	return true
}

// RemovePeer erases every pair containing id and returns the other end of
// each removed pair.
func (t *PairTable) RemovePeer(id string) []string {
	var others []string
	for key := range t.pairs {
		if key.Contains(id) {
			others = append(others, key.Other(id))
			delete(t.pairs, key)
		}
	}
	return others
}

func (t *PairTable) Len() int {
	return len(t.pairs)
}

// Keys returns a snapshot of the active pairs.
func (t *PairTable) Keys() []PairKey {
	out := make([]PairKey, 0, len(t.pairs))
	for key := range t.pairs {
		out = append(out, key)
	}
	return out
}
