// Package header implements the two header-shaped components the core
// depends on: an ordered key/value map serializable as null-separated
// pairs (the "header block" of the GLOSSARY) and the streaming parsers
// that build one from the wire, grounded on ScgiRequestParser and
// HttpHeaderBufferer in original_source/.../RequestHandler.h.
package header

// Map is an ordered mapping from header name to value, serializable as
// null-separated key/value pairs. Insertion order is preserved so that
// reserialization (when unmodified) is byte-stable.
type Map struct {
	order []string
	vals  map[string]string
}

// NewMap returns an empty, ready-to-use Map.
func NewMap() *Map {
	return &Map{vals: make(map[string]string)}
}

func (m *Map) Get(key string) (string, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *Map) Set(key, value string) {
	if _, exists := m.vals[key]; !exists {
		m.order = append(m.order, key)
	}
	m.vals[key] = value
}

func (m *Map) Delete(key string) {
	if _, exists := m.vals[key]; !exists {
		return
	}
	delete(m.vals, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Map) Len() int { return len(m.order) }

// Range iterates entries in insertion order.
func (m *Map) Range(fn func(key, value string)) {
	for _, k := range m.order {
		fn(k, m.vals[k])
	}
}

// Serialize renders the map as null-separated key\0value\0 pairs, the wire
// format the worker dispatch frame embeds (spec.md §4 "Worker dispatch
// frame", §6).
func (m *Map) Serialize() []byte {
	size := 0
	m.Range(func(k, v string) {
		size += len(k) + 1 + len(v) + 1
	})
	out := make([]byte, 0, size)
	m.Range(func(k, v string) {
		out = append(out, k...)
		out = append(out, 0)
		out = append(out, v...)
		out = append(out, 0)
	})
	return out
}

// Clone returns a deep-enough copy (order slice and map are both copied;
// string values are immutable in Go so no further copying is needed).
func (m *Map) Clone() *Map {
	c := NewMap()
	m.Range(func(k, v string) { c.Set(k, v) })
	return c
}
