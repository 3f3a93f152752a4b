package awareness

import (
	"fmt"
	"sort"
	"strconv"

	gocache "github.com/patrickmn/go-cache"
)

// SentinelInfiniteKbps is the "effectively infinite" bandwidth used for the
// src==dst trivial path (spec §4.1 edge case: "return [[src]] and bandwidth
// capability ∞ (represented in code as a large sentinel, e.g. 10 Gb/s)").
const SentinelInfiniteKbps = 10_000_000

// pathKey builds the cache key for a (src, dst) shortest-path lookup.
func pathKey(src, dst uint64) string {
	return strconv.FormatUint(src, 10) + "->" + strconv.FormatUint(dst, 10)
}

// ShortestPaths returns up to K loopless shortest paths from src to dst,
// ranked by hop count and tie-broken lexicographically by DPID sequence
// (spec §4.1). Results are memoized until the next topology mutation.
func (a *Awareness) ShortestPaths(src, dst uint64) [][]uint64 {
	if src == dst {
		return [][]uint64{{src}}
	}

	key := pathKey(src, dst)
	if cached, ok := a.pathCache.Get(key); ok {
		return cached.([][]uint64)
	}

	a.mu.RLock()
	paths := yenKShortest(a.graph, src, dst, a.cfg.KShortestPaths)
	a.mu.RUnlock()

	a.pathCache.Set(key, paths, gocache.NoExpiration)
	return paths
}

// yenKShortest implements Yen's algorithm for the K loopless shortest paths
// from src to dst, ranked by hop count (spec §4.1: "k-shortest loopless
// paths (Yen's or equivalent) ranked by hop count").
func yenKShortest(g *topoGraph, src, dst uint64, k int) [][]uint64 {
	first := bfsShortestPath(g, src, dst, nil, nil)
	if first == nil {
		return nil
	}

	a := [][]uint64{first}
	var b [][]uint64

	for len(a) < k {
		prev := a[len(a)-1]
		for i := 0; i < len(prev)-1; i++ {
			spurNode := prev[i]
			rootPath := append([]uint64(nil), prev[:i+1]...)

			removedEdges := map[[2]uint64]bool{}
			for _, p := range a {
				if len(p) > i && pathPrefixEqual(p[:i+1], rootPath) && len(p) > i+1 {
					removedEdges[[2]uint64{p[i], p[i+1]}] = true
				}
			}
			removedNodes := map[uint64]bool{}
			for _, n := range rootPath[:len(rootPath)-1] {
				removedNodes[n] = true
			}

			spurPath := bfsShortestPath(g, spurNode, dst, removedNodes, removedEdges)
			if spurPath == nil {
				continue
			}
			total := append(append([]uint64(nil), rootPath[:len(rootPath)-1]...), spurPath...)
			if !containsPath(a, total) && !containsPath(b, total) {
				b = append(b, total)
			}
		}

		if len(b) == 0 {
			break
		}
		sort.Slice(b, func(i, j int) bool {
			if len(b[i]) != len(b[j]) {
				return len(b[i]) < len(b[j])
			}
			return lexLess(b[i], b[j])
		})
		a = append(a, b[0])
		b = b[1:]
	}

	return a
}

// bfsShortestPath finds the shortest (fewest-hop) loopless path from src to
// dst, excluding removedNodes and removedEdges, breaking ties by always
// visiting neighbors in lexicographic DPID order (spec §4.1: deterministic
// output).
func bfsShortestPath(g *topoGraph, src, dst uint64, removedNodes map[uint64]bool, removedEdges map[[2]uint64]bool) []uint64 {
	if removedNodes[src] || removedNodes[dst] {
		return nil
	}
	type item struct {
		dpid uint64
		path []uint64
	}
	visited := map[uint64]bool{src: true}
	queue := []item{{src, []uint64{src}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.dpid == dst {
			return cur.path
		}
		neighbors := sortedNeighbors(g, cur.dpid)
		for _, n := range neighbors {
			if removedNodes[n] || visited[n] {
				continue
			}
			if removedEdges[[2]uint64{cur.dpid, n}] {
				continue
			}
			visited[n] = true
			next := append(append([]uint64(nil), cur.path...), n)
			queue = append(queue, item{n, next})
		}
	}
	return nil
}

func sortedNeighbors(g *topoGraph, dpid uint64) []uint64 {
	raw := g.neighbors(dpid)
	out := make([]uint64, 0, len(raw))
	for _, r := range raw {
		var v uint64
		_, _ = fmt.Sscanf(r, "%d", &v)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func pathPrefixEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsPath(paths [][]uint64, p []uint64) bool {
	for _, existing := range paths {
		if pathPrefixEqual(existing, p) {
			return true
		}
	}
	return false
}

func lexLess(a, b []uint64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// invalidatePaths flushes the memoized path cache. The spec only requires
// invalidating paths touching a mutated node/link, but a full flush is
// simpler, still correct, and matches the Python original's
// recompute-on-next-lookup behavior (see SPEC_FULL.md).
func (a *Awareness) invalidatePaths() {
	a.pathCache.Flush()
}
