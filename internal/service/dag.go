package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// GroupGraph holds task groups and the dependency edges between them.
type GroupGraph struct {
	groups  map[string]*core.TaskGroup
	edges   map[string][]string // group -> dependencies
	reverse map[string][]string // group -> dependents
	mu      sync.RWMutex
}

// NewGroupGraph creates an empty graph.
func NewGroupGraph() *GroupGraph {
	return &GroupGraph{
		groups:  make(map[string]*core.TaskGroup),
		edges:   make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// BuildGroupGraph adds every group and its declared dependencies.
// Dependencies naming an unknown group are returned as dropped.
func BuildGroupGraph(groups []*core.TaskGroup) (*GroupGraph, []string, error) {
	g := NewGroupGraph()
	for _, grp := range groups {
		if err := g.AddGroup(grp); err != nil {
			return nil, nil, err
		}
	}
	var dropped []string
	for _, grp := range groups {
		for _, dep := range grp.Dependencies {
			if err := g.AddDependency(grp.ID, dep); err != nil {
				dropped = append(dropped, fmt.Sprintf("%s->%s", grp.ID, dep))
			}
		}
	}
	return g, dropped, nil
}

// AddGroup adds a group to the graph.
func (g *GroupGraph) AddGroup(grp *core.TaskGroup) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.groups[grp.ID]; exists {
		return fmt.Errorf("group %s already exists", grp.ID)
	}
	g.groups[grp.ID] = grp
	g.edges[grp.ID] = make([]string, 0)
	g.reverse[grp.ID] = make([]string, 0)
	return nil
}

// AddDependency records that from must wait for to.
func (g *GroupGraph) AddDependency(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.groups[from]; !exists {
		return core.ErrNotFound("group", from)
	}
	if _, exists := g.groups[to]; !exists {
		return core.ErrNotFound("group", to)
	}
	for _, dep := range g.edges[from] {
		if dep == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	g.reverse[to] = append(g.reverse[to], from)
	return nil
}

// GroupOrder is a validated execution order.
type GroupOrder struct {
	Order        []string
	Levels       [][]string
	Dependencies map[string][]string
}

// Build validates the graph and returns a deterministic order.
// A cycle is a structural error.
func (g *GroupGraph) Build() (*GroupOrder, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycle(); cycle != nil {
		return nil, core.ErrStructural(core.CodeDependencyCycle,
			"group dependencies form a cycle: "+strings.Join(cycle, " -> "))
	}
	order := g.topologicalSort()
	return &GroupOrder{
		Order:        order,
		Levels:       g.calculateLevels(),
		Dependencies: g.copyEdges(),
	}, nil
}

// topologicalSort uses Kahn's algorithm, breaking ties by sequence order.
func (g *GroupGraph) topologicalSort() []string {
	inDegree := make(map[string]int, len(g.groups))
	for id := range g.groups {
		inDegree[id] = len(g.edges[id])
	}

	queue := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	g.sortBySequence(queue)

	result := make([]string, 0, len(g.groups))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		var unlocked []string
		for _, dependent := range g.reverse[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		queue = append(queue, unlocked...)
		g.sortBySequence(queue)
	}
	return result
}

// findCycle returns the ids along a cycle, or nil.
func (g *GroupGraph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range g.edges[id] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if onStack[dep] {
				for i, p := range path {
					if p == dep {
						cycle = append(append([]string{}, path[i:]...), dep)
						break
					}
				}
				return true
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
		return false
	}

	ids := g.sortedIDs()
	for _, id := range ids {
		if !visited[id] && dfs(id) {
			return cycle
		}
	}
	return nil
}

// calculateLevels groups ids that could run side by side.
func (g *GroupGraph) calculateLevels() [][]string {
	if len(g.groups) == 0 {
		return nil
	}

	levels := make([][]string, 0)
	assigned := make(map[string]bool)
	for len(assigned) < len(g.groups) {
		level := make([]string, 0)
		for id := range g.groups {
			if assigned[id] {
				continue
			}
			ready := true
			for _, dep := range g.edges[id] {
				if !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			break
		}
		g.sortBySequence(level)
		for _, id := range level {
			assigned[id] = true
		}
		levels = append(levels, level)
	}
	return levels
}

// ReadyGroups returns the groups not yet processed whose dependencies are
// all satisfied, in sequence order. A dependency counts as satisfied when it
// is processed or when satisfied reports true for it.
func (g *GroupGraph) ReadyGroups(processed map[string]bool, satisfied func(id string) bool) []*core.TaskGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := make([]*core.TaskGroup, 0)
	for id, grp := range g.groups {
		if processed[id] {
			continue
		}
		ok := true
		for _, dep := range g.edges[id] {
			if processed[dep] || (satisfied != nil && satisfied(dep)) {
				continue
			}
			ok = false
			break
		}
		if ok {
			ready = append(ready, grp)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].SequenceOrder < ready[j].SequenceOrder
	})
	return ready
}

// Group returns a group by id.
func (g *GroupGraph) Group(id string) (*core.TaskGroup, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	grp, ok := g.groups[id]
	return grp, ok
}

// Dependencies returns the ids a group waits for.
func (g *GroupGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the ids that wait for a group.
func (g *GroupGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.reverse[id]...)
}

// Len returns the number of groups.
func (g *GroupGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}

func (g *GroupGraph) sortBySequence(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.groups[ids[i]].SequenceOrder < g.groups[ids[j]].SequenceOrder
	})
}

func (g *GroupGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.groups))
	for id := range g.groups {
		ids = append(ids, id)
	}
	g.sortBySequence(ids)
	return ids
}

func (g *GroupGraph) copyEdges() map[string][]string {
	result := make(map[string][]string, len(g.edges))
	for k, v := range g.edges {
		result[k] = append([]string{}, v...)
	}
	return result
}
