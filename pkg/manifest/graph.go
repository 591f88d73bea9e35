package manifest

import (
	"container/heap"
	"sort"
)

// intMinHeap keeps the Kahn ready queue ordered by step number so the
// topological order is stable across runs.
type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopologicalOrder returns a deterministic topological ordering of step
// numbers using Kahn's algorithm. If the dependency graph contains a cycle
// the returned slice is shorter than the step list; callers detect cycles by
// comparing lengths (FindCycle extracts the witness path).
func TopologicalOrder(steps []Step) []int {
	indeg := make(map[int]int, len(steps))
	outgoing := make(map[int][]int, len(steps))

	for _, s := range steps {
		if _, ok := indeg[s.Number]; !ok {
			indeg[s.Number] = 0
		}
		for _, dep := range s.DependsOn {
			outgoing[dep] = append(outgoing[dep], s.Number)
			indeg[s.Number]++
		}
	}
	for n := range outgoing {
		sort.Ints(outgoing[n])
	}

	ready := &intMinHeap{}
	heap.Init(ready)
	for n, d := range indeg {
		if d == 0 {
			heap.Push(ready, n)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// FindCycle performs a deterministic DFS to extract one dependency cycle as
// a step number path, closed at both ends (e.g., [1, 3, 1]). Returns nil when
// the graph is acyclic.
//
// This does not attempt to list all cycles; it returns a single stable
// witness for the validation error.
func FindCycle(steps []Step) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	numbers := make([]int, 0, len(steps))
	outgoing := make(map[int][]int, len(steps))
	for _, s := range steps {
		numbers = append(numbers, s.Number)
		for _, dep := range s.DependsOn {
			outgoing[dep] = append(outgoing[dep], s.Number)
		}
	}
	sort.Ints(numbers)
	for n := range outgoing {
		sort.Ints(outgoing[n])
	}

	color := make(map[int]int, len(numbers))
	parent := make(map[int]int, len(numbers))

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back-edge u -> v. Walk parents to reconstruct v ... u -> v.
				cycle = append(cycle, v)
				cur := u
				for cur != v {
					cycle = append(cycle, cur)
					next, ok := parent[cur]
					if !ok {
						break
					}
					cur = next
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range numbers {
		if color[n] != white {
			continue
		}
		if dfs(n) {
			break
		}
	}

	if len(cycle) == 0 {
		return nil
	}

	// The parent walk produced the path in reverse; flip it so the cycle
	// reads in dependency order.
	out := make([]int, len(cycle))
	for i := range cycle {
		out[i] = cycle[len(cycle)-1-i]
	}
	return out
}

// ReadySteps returns the numbers of steps that have not started and whose
// dependencies are all satisfied, sorted ascending. Satisfied means
// completed or skipped; the caller supplies both sets.
func ReadySteps(steps []Step, started map[int]bool, satisfied map[int]bool) []int {
	var ready []int
	for _, s := range steps {
		if started[s.Number] {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !satisfied[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s.Number)
		}
	}
	sort.Ints(ready)
	return ready
}

// Downstream returns the set of step numbers reachable from start by
// following dependency edges forward, start excluded. Branch gating uses
// this to hold back only the gated step's dependents.
func Downstream(steps []Step, start int) map[int]bool {
	outgoing := make(map[int][]int, len(steps))
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			outgoing[dep] = append(outgoing[dep], s.Number)
		}
	}

	seen := make(map[int]bool)
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range outgoing[n] {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}
	return seen
}
