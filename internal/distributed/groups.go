package distributed

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// WorldGroupID is the ring id of the group holding every known rank.
const WorldGroupID = 0

// ProcessGroup is a communication group. Ranks are sorted ascending.
type ProcessGroup struct {
	ID    int
	Ranks []int
}

func (g *ProcessGroup) NRanks() int            { return len(g.Ranks) }
func (g *ProcessGroup) Contains(rank int) bool { return slices.Contains(g.Ranks, rank) }

// LocalRank is the index of rank inside the group, or -1.
func (g *ProcessGroup) LocalRank(rank int) int { return slices.Index(g.Ranks, rank) }

func (g *ProcessGroup) String() string {
	return fmt.Sprintf("group %d %v", g.ID, g.Ranks)
}

// ProcessGroups allocates ring ids. Asking twice for the same rank set
// returns the same group. The world group always has id 0.
type ProcessGroups struct {
	groups []*ProcessGroup
	byKey  map[string]*ProcessGroup
}

func NewProcessGroups() *ProcessGroups {
	return &ProcessGroups{
		groups: []*ProcessGroup{{ID: WorldGroupID}},
		byKey:  make(map[string]*ProcessGroup),
	}
}

func groupKey(ranks []int) string {
	parts := make([]string, len(ranks))
	for i, r := range ranks {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ",")
}

func sortedUnique(ranks []int) []int {
	out := slices.Clone(ranks)
	slices.Sort(out)
	return slices.Compact(out)
}

// World returns the world group.
func (r *ProcessGroups) World() *ProcessGroup { return r.groups[0] }

// AddWorldRanks records ranks as members of the world group.
func (r *ProcessGroups) AddWorldRanks(ranks ...int) {
	w := r.World()
	w.Ranks = sortedUnique(append(w.Ranks, ranks...))
}

// New returns the group for ranks, registering it with the next ring id
// when no group with the same rank set exists.
func (r *ProcessGroups) New(ranks []int) *ProcessGroup {
	sorted := sortedUnique(ranks)
	key := groupKey(sorted)
	if g, ok := r.byKey[key]; ok {
		return g
	}
	g := &ProcessGroup{ID: len(r.groups), Ranks: sorted}
	r.groups = append(r.groups, g)
	r.byKey[key] = g
	r.AddWorldRanks(sorted...)
	return g
}

// Lookup finds the registered group with exactly these ranks.
func (r *ProcessGroups) Lookup(ranks []int) (*ProcessGroup, bool) {
	g, ok := r.byKey[groupKey(sortedUnique(ranks))]
	return g, ok
}

// Get returns the group with ring id id.
func (r *ProcessGroups) Get(id int) (*ProcessGroup, bool) {
	if id < 0 || id >= len(r.groups) {
		return nil, false
	}
	return r.groups[id], true
}

// All returns every group ordered by ring id, world first.
func (r *ProcessGroups) All() []*ProcessGroup { return slices.Clone(r.groups) }

func (r *ProcessGroups) Len() int { return len(r.groups) }
