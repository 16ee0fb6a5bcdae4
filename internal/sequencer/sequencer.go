// Package sequencer orders init tasks into the linear chain the engine runs.
//
// Manifest order is the dependency order: every step requires the previous
// one. Tasks may also declare explicit `after` edges, these must point to
// earlier init tasks, anything else can't be satisfied by the chain.
package sequencer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slok/devup/internal/model"
)

// Sequence returns the init execution plan of a manifest.
func Sequence(m model.Manifest) (model.Plan, error) {
	index := make(map[string]int, len(m.InitTasks))
	for i, t := range m.InitTasks {
		if _, ok := index[t.Name]; ok {
			return model.Plan{}, fmt.Errorf("init task %q is duplicated: %w", t.Name, model.ErrNotValid)
		}
		index[t.Name] = i
	}

	services := make(map[string]struct{}, len(m.Services))
	for _, s := range m.Services {
		services[s.Name] = struct{}{}
	}

	g := newGraph(len(m.InitTasks))
	steps := make([]model.Step, 0, len(m.InitTasks))
	for i, t := range m.InitTasks {
		requires := []string{}
		if i > 0 {
			g.addEdge(i-1, i)
			requires = append(requires, m.InitTasks[i-1].Name)
		}

		for _, dep := range t.After {
			if _, ok := services[dep]; ok {
				return model.Plan{}, fmt.Errorf("init task %q depends on service %q, services start after every init task: %w", t.Name, dep, model.ErrCyclicDependency)
			}

			depIdx, ok := index[dep]
			if !ok {
				return model.Plan{}, fmt.Errorf("init task %q depends on unknown task %q: %w", t.Name, dep, model.ErrNotValid)
			}

			g.addEdge(depIdx, i)
			if !contains(requires, dep) {
				requires = append(requires, dep)
			}
		}

		steps = append(steps, model.Step{
			Index:    i,
			Task:     t,
			Requires: requires,
		})
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		names := make([]string, 0, len(cycle))
		for _, idx := range cycle {
			names = append(names, m.InitTasks[idx].Name)
		}
		return model.Plan{}, fmt.Errorf("dependency cycle %s: %w", strings.Join(names, " -> "), model.ErrCyclicDependency)
	}

	return model.Plan{Steps: steps}, nil
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

type graph struct {
	outgoing [][]int
	indeg    []int
}

func newGraph(n int) *graph {
	return &graph{
		outgoing: make([][]int, n),
		indeg:    make([]int, n),
	}
}

func (g *graph) addEdge(from, to int) {
	for _, n := range g.outgoing[from] {
		if n == to {
			return
		}
	}
	g.outgoing[from] = append(g.outgoing[from], to)
	sort.Ints(g.outgoing[from])
	g.indeg[to]++
}

// findCycle returns a cycle witness (first node repeated at the end) or nil.
// Kahn's algorithm tells if there is a cycle, a DFS extracts one.
func (g *graph) findCycle() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := []int{}
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	visited := 0
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		visited++
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	if visited == len(indeg) {
		return nil
	}

	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(indeg))
	var stack []int
	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				for i, n := range stack {
					if n == v {
						cycle = append(cycle, stack[i:]...)
						cycle = append(cycle, v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range indeg {
		if color[i] == white && dfs(i) {
			break
		}
	}

	return cycle
}
