// Package unique generates collision-free names for implicit graph entities.
//
// A Generator hands out "<prefix><key>_<n>" where n counts previous requests
// for the same key. Generators nest: a child generator extends its parent's
// prefix and keeps its own counters, so names drawn inside a child scope
// never collide with names drawn outside it.
package unique

import "strconv"

// Generator produces unique names per key. The zero value is not usable;
// construct with NewGenerator.
type Generator struct {
	prefix string
	ids    map[string]int
}

// NewGenerator creates a generator whose names all start with prefix.
func NewGenerator(prefix string) *Generator {
	return &Generator{prefix: prefix, ids: make(map[string]int)}
}

// Generate returns the next unique name for key.
func (g *Generator) Generate(key string) string {
	n := g.ids[key]
	g.ids[key] = n + 1
	return g.prefix + key + "_" + strconv.Itoa(n)
}

// Prefix returns the prefix every generated name starts with.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Child returns a generator nested under g. Its names carry g's prefix
// followed by prefix.
func (g *Generator) Child(prefix string) *Generator {
	return NewGenerator(g.prefix + prefix)
}

// Clone returns an independent copy holding the same counters.
func (g *Generator) Clone() *Generator {
	c := NewGenerator(g.prefix)
	for k, v := range g.ids {
		c.ids[k] = v
	}
	return c
}

// Reset forgets every counter.
func (g *Generator) Reset() {
	clear(g.ids)
}
