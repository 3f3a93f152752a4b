package monitor

import "sort"

// BestPath resolves the current best (bandwidth-weighted) path between two
// switches for Forwarder's flow installation (spec §4.3: "get_path(src_sw,
// dst_sw): If Monitor has a fresh best_paths[src][dst], use it. Otherwise
// invoke Monitor's bandwidth-weighted path selection over the full
// shortest-path set, cache the result, and return it.").
func (m *Monitor) BestPath(src, dst uint64) ([]uint64, bool) {
	key := [2]uint64{src, dst}

	m.mu.Lock()
	if cached, ok := m.bestPaths[key]; ok {
		m.mu.Unlock()
		return cached, true
	}
	graph := m.graph
	m.mu.Unlock()

	paths := m.aw.ShortestPaths(src, dst)
	if len(paths) == 0 {
		return nil, false
	}

	type scored struct {
		path       []uint64
		bottleneck int
	}
	var scoredPaths []scored
	for _, p := range paths {
		bw, ok := graph.Bottleneck(p)
		if !ok {
			continue
		}
		scoredPaths = append(scoredPaths, scored{path: p, bottleneck: bw})
	}
	if len(scoredPaths) == 0 {
		// Bandwidth graph not yet populated (cold start, spec §8 S1): fall
		// back to the shortest hop-count path so forwarding still proceeds.
		best := paths[0]
		m.mu.Lock()
		m.bestPaths[key] = best
		m.mu.Unlock()
		return best, true
	}

	sort.Slice(scoredPaths, func(i, j int) bool {
		if scoredPaths[i].bottleneck != scoredPaths[j].bottleneck {
			return scoredPaths[i].bottleneck > scoredPaths[j].bottleneck
		}
		return lexLessPath(scoredPaths[i].path, scoredPaths[j].path)
	})

	best := scoredPaths[0].path
	m.mu.Lock()
	m.bestPaths[key] = best
	m.mu.Unlock()
	return best, true
}
