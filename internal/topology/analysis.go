package topology

import "sort"

// Cycles returns one cycle per strongly connected component that contains
// a loop. Each cycle is reported as the ordered hop list
// [from0, to0, from1, to1, ...] where to(i).Node == from(i+1).Node and the
// last hop lands on the first hop's node.
func (g *Graph) Cycles() [][]Hop {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var cycles [][]Hop
	for _, scc := range g.components() {
		members := make(map[string]bool, len(scc))
		for _, id := range scc {
			members[id] = true
		}
		start := scc[0]
		if len(scc) == 1 && !g.hasSelfLoop(start) {
			continue
		}
		if path := g.loopThrough(start, members); path != nil {
			hops := make([]Hop, 0, 2*len(path))
			for _, idx := range path {
				hops = append(hops, g.edges[idx].From, g.edges[idx].To)
			}
			cycles = append(cycles, hops)
		}
	}
	return cycles
}

// Stale returns the vertices that would never fire, in sorted order.
// Vertices without any incoming edge are stale unless always active.
// Staleness then flows along every outgoing edge, except into vertices that
// are always active or remain active.
func (g *Graph) Stale() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	stale := make(map[string]bool, len(g.vertices))
	var queue []string
	for id, v := range g.vertices {
		if !v.alwaysActive && len(v.in) == 0 {
			stale[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, idx := range g.vertices[id].out {
			next := g.edges[idx].To.Node
			v := g.vertices[next]
			if stale[next] || v.alwaysActive || v.remainActive {
				continue
			}
			stale[next] = true
			queue = append(queue, next)
		}
	}

	out := make([]string, 0, len(stale))
	for id := range stale {
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func (g *Graph) hasSelfLoop(id string) bool {
	for _, idx := range g.vertices[id].out {
		if g.edges[idx].To.Node == id {
			return true
		}
	}
	return false
}

// loopThrough finds the shortest edge path that leaves start and returns to
// it while staying inside members.
func (g *Graph) loopThrough(start string, members map[string]bool) []int {
	parent := map[string]int{}
	visited := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, idx := range g.vertices[id].out {
			next := g.edges[idx].To.Node
			if !members[next] {
				continue
			}
			if next == start {
				path := []int{idx}
				for cur := id; cur != start; {
					p := parent[cur]
					path = append(path, p)
					cur = g.edges[p].From.Node
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			if !visited[next] {
				visited[next] = true
				parent[next] = idx
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// components computes strongly connected components with Tarjan's
// algorithm. Members of each component are sorted, and components are
// ordered by their smallest member.
func (g *Graph) components() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, idx := range g.vertices[id].out {
			next := g.edges[idx].To.Node
			if _, seen := indices[next]; !seen {
				strongConnect(next)
				lowlink[id] = min(lowlink[id], lowlink[next])
			} else if onStack[next] {
				lowlink[id] = min(lowlink[id], indices[next])
			}
		}

		if lowlink[id] == indices[id] {
			var scc []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				scc = append(scc, top)
				if top == id {
					break
				}
			}
			sort.Strings(scc)
			out = append(out, scc)
		}
	}

	for _, id := range g.sortedIDs() {
		if _, seen := indices[id]; !seen {
			strongConnect(id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
