// Package graph implements a generic directed multigraph with unit-cost
// Dijkstra shortest paths and trace reconstruction. Vertex labels must be
// comparable so AddVertex can de-duplicate by label; edge labels are opaque.
package graph

import "container/heap"

// NodeID is a stable opaque handle into a Graph's vertex list. It stays
// valid for the lifetime of the Graph even as more vertices/edges are added,
// since the vertex list is append-only.
type NodeID int

type edge[E any] struct {
	to    NodeID
	label E
	seq   int // insertion order, for deterministic tie-breaking
}

// Graph is a directed multigraph over vertex labels V with edge labels E.
type Graph[V comparable, E any] struct {
	labels  []V
	index   map[V]NodeID
	out     [][]edge[E]
	edgeSeq int
}

// New constructs an empty graph.
func New[V comparable, E any]() *Graph[V, E] {
	return &Graph[V, E]{index: make(map[V]NodeID)}
}

// AddVertex returns the handle for label, creating it if it doesn't already
// exist.
func (g *Graph[V, E]) AddVertex(label V) NodeID {
	if id, ok := g.index[label]; ok {
		return id
	}
	id := NodeID(len(g.labels))
	g.labels = append(g.labels, label)
	g.out = append(g.out, nil)
	g.index[label] = id
	return id
}

// FindNode returns the handle for label, if it has been added.
func (g *Graph[V, E]) FindNode(label V) (NodeID, bool) {
	id, ok := g.index[label]
	return id, ok
}

// Label returns the vertex label for id.
func (g *Graph[V, E]) Label(id NodeID) V {
	return g.labels[id]
}

// NumVertices reports how many vertices have been added.
func (g *Graph[V, E]) NumVertices() int {
	return len(g.labels)
}

// Connect adds a directed edge from→to carrying label. Parallel edges are
// allowed; both from and to must already exist.
func (g *Graph[V, E]) Connect(from, to NodeID, label E) {
	g.out[from] = append(g.out[from], edge[E]{to: to, label: label, seq: g.edgeSeq})
	g.edgeSeq++
}

// Edges returns the outbound edges of id, in insertion order.
func (g *Graph[V, E]) Edges(id NodeID) []E {
	out := g.out[id]
	labels := make([]E, len(out))
	for i, e := range out {
		labels[i] = e.label
	}
	return labels
}

// OutEdge pairs an edge label with its target vertex.
type OutEdge[E any] struct {
	To    NodeID
	Label E
}

// EdgesWithTo returns the outbound edges of id with their target handles,
// in insertion order. Used by callers that need to serialize the full
// adjacency (e.g. internal/bootgraph's snapshot format).
func (g *Graph[V, E]) EdgesWithTo(id NodeID) []OutEdge[E] {
	out := g.out[id]
	res := make([]OutEdge[E], len(out))
	for i, e := range out {
		res[i] = OutEdge[E]{To: e.to, Label: e.label}
	}
	return res
}

// pqItem is a min-heap element ordered by distance, with insertion sequence
// as a tiebreaker so ties resolve by edge insertion order as specified.
type pqItem struct {
	node NodeID
	dist int
	seq  int
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].seq < pq[j].seq
}
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)        { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// ShortestPaths is the result of a single-source Dijkstra run: distances and
// predecessor edges from the source to every reachable vertex.
type ShortestPaths[E any] struct {
	from  NodeID
	dist  map[NodeID]int
	prevN map[NodeID]NodeID
	prevE map[NodeID]E
}

// Dijkstra computes shortest paths from "from" over unit-cost edges, with
// ties broken by edge insertion order.
func (g *Graph[V, E]) Dijkstra(from NodeID) *ShortestPaths[E] {
	sp := &ShortestPaths[E]{
		from:  from,
		dist:  map[NodeID]int{from: 0},
		prevN: make(map[NodeID]NodeID),
		prevE: make(map[NodeID]E),
	}

	pq := &priorityQueue{{node: from, dist: 0}}
	heap.Init(pq)
	visited := make(map[NodeID]bool)
	seq := 0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if visited[item.node] {
			continue
		}
		visited[item.node] = true

		for _, e := range g.out[item.node] {
			nd := item.dist + 1
			if cur, ok := sp.dist[e.to]; !ok || nd < cur {
				sp.dist[e.to] = nd
				sp.prevN[e.to] = item.node
				sp.prevE[e.to] = e.label
				seq++
				heap.Push(pq, pqItem{node: e.to, dist: nd, seq: seq})
			}
		}
	}
	return sp
}

// DistanceTo returns the shortest-path distance to "to", or (0, false) if
// unreachable.
func (sp *ShortestPaths[E]) DistanceTo(to NodeID) (int, bool) {
	d, ok := sp.dist[to]
	return d, ok
}

// Trace reconstructs the edge sequence from the source to "to", in
// traversal order. Returns (nil, false) if "to" is unreachable.
func (sp *ShortestPaths[E]) Trace(to NodeID) ([]E, bool) {
	if _, ok := sp.dist[to]; !ok {
		return nil, false
	}
	if to == sp.from {
		return nil, true
	}
	var rev []E
	cur := to
	for cur != sp.from {
		rev = append(rev, sp.prevE[cur])
		cur = sp.prevN[cur]
	}
	out := make([]E, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out, true
}
