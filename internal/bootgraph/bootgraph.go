// Package bootgraph implements the per-host boot graph (spec §3/§4.6): a
// directed multigraph over PowerState vertices and BootAction edges, the
// online learning procedure that builds it by driving a real host through
// every bootloader entry, and the execution API that replays a learned
// path.
package bootgraph

import (
	"github.com/bootwake/bootwaked/internal/boot"
	"github.com/bootwake/bootwaked/internal/graph"
)

// Graph is one host's learned power-state graph.
type Graph struct {
	g         *graph.Graph[boot.PowerState, boot.BootAction]
	os        map[boot.OsUid]boot.OsInfo
	idCounter boot.OsUid
}

// NewGraph constructs an empty graph with the Down vertex present and the
// id counter initialized to 1, per spec §3.
func NewGraph() *Graph {
	g := &Graph{
		g:         graph.New[boot.PowerState, boot.BootAction](),
		os:        make(map[boot.OsUid]boot.OsInfo),
		idCounter: 1,
	}
	g.g.AddVertex(boot.DownState)
	return g
}

// NextUid issues and reserves the next OsUid.
func (bg *Graph) NextUid() boot.OsUid {
	uid := bg.idCounter
	bg.idCounter++
	return uid
}

// IDCounter reports the next uid that will be issued (for persistence).
func (bg *Graph) IDCounter() boot.OsUid { return bg.idCounter }

// OsInfo returns the recorded display info for uid, if any.
func (bg *Graph) OsInfo(uid boot.OsUid) (boot.OsInfo, bool) {
	info, ok := bg.os[uid]
	return info, ok
}

// AllOs returns every recorded OS, unordered.
func (bg *Graph) AllOs() map[boot.OsUid]boot.OsInfo {
	out := make(map[boot.OsUid]boot.OsInfo, len(bg.os))
	for k, v := range bg.os {
		out[k] = v
	}
	return out
}

// AddOsVertex inserts the Up(uid) vertex with info, wires its Shutdown edge
// to Down, and records its display info. Safe to call once per uid.
func (bg *Graph) AddOsVertex(uid boot.OsUid, info boot.OsInfo) {
	bg.os[uid] = info
	up := bg.g.AddVertex(boot.UpState(uid))
	down := bg.g.AddVertex(boot.DownState)
	bg.g.Connect(up, down, boot.Shutdown())
}

// ConnectWol wires Down --Wol--> Up(uid), the edge recorded the first time a
// freshly reset host is observed booting into uid by default.
func (bg *Graph) ConnectWol(uid boot.OsUid) {
	down := bg.g.AddVertex(boot.DownState)
	up := bg.g.AddVertex(boot.UpState(uid))
	bg.g.Connect(down, up, boot.Wol())
}

// ConnectGrubEntry records that executing entry from "from" lands in "to".
func (bg *Graph) ConnectGrubEntry(from, to boot.OsUid, entry uint64) {
	fromNode := bg.g.AddVertex(boot.UpState(from))
	toNode := bg.g.AddVertex(boot.UpState(to))
	bg.g.Connect(fromNode, toNode, boot.GrubEntry(entry))
}

// shortestPathsFrom wraps graph.Dijkstra over a PowerState source.
func (bg *Graph) shortestPathsFrom(from boot.PowerState) (*graph.ShortestPaths[boot.BootAction], bool) {
	node, ok := bg.g.FindNode(from)
	if !ok {
		return nil, false
	}
	return bg.g.Dijkstra(node), true
}

// Trace returns the sequence of boot actions from "from" to "to", per the
// underlying Dijkstra shortest path.
func (bg *Graph) Trace(from, to boot.PowerState) ([]boot.BootAction, bool) {
	sp, ok := bg.shortestPathsFrom(from)
	if !ok {
		return nil, false
	}
	toNode, ok := bg.g.FindNode(to)
	if !ok {
		return nil, false
	}
	return sp.Trace(toNode)
}

// HasVertex reports whether p has been added to the graph.
func (bg *Graph) HasVertex(p boot.PowerState) bool {
	_, ok := bg.g.FindNode(p)
	return ok
}

// UpVertices returns every Up(uid) vertex currently in the graph.
func (bg *Graph) UpVertices() []boot.OsUid {
	uids := make([]boot.OsUid, 0, len(bg.os))
	for uid := range bg.os {
		uids = append(uids, uid)
	}
	return uids
}

// snapshot/restore support deterministic serialization in internal/persist
// without exposing the underlying graph.Graph implementation.
type VertexRecord struct {
	State boot.PowerState
}

type EdgeRecord struct {
	FromIndex int
	ToIndex   int
	Action    boot.BootAction
}

// Snapshot captures the graph as an ordered vertex list (fixing vertex
// indices) plus an adjacency edge list, matching spec §4.9's on-disk shape.
type Snapshot struct {
	Vertices  []VertexRecord
	Edges     []EdgeRecord
	Os        map[boot.OsUid]boot.OsInfo
	IDCounter boot.OsUid
}

// Snapshot renders bg to its deterministic serialization form.
func (bg *Graph) Snapshot() Snapshot {
	n := bg.g.NumVertices()
	vertices := make([]VertexRecord, n)
	for i := 0; i < n; i++ {
		vertices[i] = VertexRecord{State: bg.g.Label(graph.NodeID(i))}
	}
	var edges []EdgeRecord
	for i := 0; i < n; i++ {
		from := graph.NodeID(i)
		for _, e := range bg.g.EdgesWithTo(from) {
			edges = append(edges, EdgeRecord{FromIndex: i, ToIndex: int(e.To), Action: e.Label})
		}
	}
	os := make(map[boot.OsUid]boot.OsInfo, len(bg.os))
	for k, v := range bg.os {
		os[k] = v
	}
	return Snapshot{Vertices: vertices, Edges: edges, Os: os, IDCounter: bg.idCounter}
}

// Restore rebuilds a Graph from a Snapshot (spec §4.9 load path).
func Restore(snap Snapshot) *Graph {
	bg := &Graph{
		g:         graph.New[boot.PowerState, boot.BootAction](),
		os:        make(map[boot.OsUid]boot.OsInfo),
		idCounter: snap.IDCounter,
	}
	nodes := make([]graph.NodeID, len(snap.Vertices))
	for i, v := range snap.Vertices {
		nodes[i] = bg.g.AddVertex(v.State)
	}
	for _, e := range snap.Edges {
		bg.g.Connect(nodes[e.FromIndex], nodes[e.ToIndex], e.Action)
	}
	for k, v := range snap.Os {
		bg.os[k] = v
	}
	return bg
}
