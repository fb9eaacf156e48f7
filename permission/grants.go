package permission

import "sort"

// Grants is an immutable set of grant names.
type Grants struct {
	set  map[string]struct{}
	list []string
}

// NewGrants builds a set from names. Empty names and duplicates are dropped.
func NewGrants(names []string) *Grants {
	g := &Grants{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := g.set[n]; ok {
			continue
		}
		g.set[n] = struct{}{}
		g.list = append(g.list, n)
	}
	sort.Strings(g.list)
	return g
}

// Has reports whether grant is in the set. A nil set holds nothing.
func (g *Grants) Has(grant string) bool {
	if g == nil {
		return false
	}
	_, ok := g.set[grant]
	return ok
}

// HasAll reports whether every grant is in the set.
func (g *Grants) HasAll(grants ...string) bool {
	for _, grant := range grants {
		if !g.Has(grant) {
			return false
		}
	}
	return true
}

// List returns the grants in sorted order. The slice is a copy.
func (g *Grants) List() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.list))
	copy(out, g.list)
	return out
}

// Len returns the number of grants.
func (g *Grants) Len() int {
	if g == nil {
		return 0
	}
	return len(g.list)
}
