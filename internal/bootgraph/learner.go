package bootgraph

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/bootwake/bootwaked/internal/boot"
)

// Sessioner is the subset of *session.Session the learner and executor
// need. Kept as an interface so tests can drive the learner against a
// scripted double instead of a real TCP session.
type Sessioner interface {
	Uid() boot.OsUid
	Ping() (boot.OsUid, error)
	InitId(uid boot.OsUid) error
	GrubQuery() ([]uint64, error)
	OsQuery() (string, error)
	ShutdownAck() error
	RebootAck(entry uint64) error
	WolReconnect() error
	WaitReconnect() error
	Execute(a boot.BootAction) error
	CurrentOs() (boot.PowerState, error)
	Close() error
}

// Learner drives one host through spec §4.6's procedure to produce a
// complete BootGraph, tracking per-OS unexplored GrubEntry ids as it goes.
type Learner struct {
	Graph    *Graph
	Log      *slog.Logger
	unknowns map[boot.OsUid][]uint64
}

// NewLearner constructs a learner over a fresh or partially-built graph.
func NewLearner(g *Graph, log *slog.Logger) *Learner {
	if log == nil {
		log = slog.Default()
	}
	return &Learner{Graph: g, Log: log, unknowns: make(map[boot.OsUid][]uint64)}
}

// Run executes the full learning procedure against sess, per spec §4.6
// steps 1–5, and returns once the graph is complete (I1–I3 hold).
func (l *Learner) Run(sess Sessioner) error {
	// 1. Reset: observe the BIOS-default boot OS, not residual state.
	if err := sess.ShutdownAck(); err != nil {
		return fmt.Errorf("bootgraph: reset shutdown: %w", err)
	}
	if err := sess.WolReconnect(); err != nil {
		return fmt.Errorf("bootgraph: reset wol reconnect: %w", err)
	}

	firstBoot := true
	for sess.Uid() == boot.UidUnset {
		uid, err := l.initOS(sess)
		if err != nil {
			return err
		}
		if firstBoot {
			// 3. WOL edge: this is the OS the host boots into by default.
			l.Graph.ConnectWol(uid)
			firstBoot = false
		}
	}

	// 4. Loop until every reported GrubEntry has been traversed.
	for l.hasUnknowns() {
		if sess.Uid() == boot.UidUnset {
			if _, err := l.initOS(sess); err != nil {
				return err
			}
			continue
		}

		if err := l.visitNearestUnknown(sess); err != nil {
			return err
		}

		from := sess.Uid()
		entry, ok := l.popUnknown(from)
		if !ok {
			continue
		}

		l.Log.Debug("bootgraph: traversing grub entry", "entry", entry, "from_os", from)
		if err := sess.Execute(boot.GrubEntry(entry)); err != nil {
			return fmt.Errorf("bootgraph: execute grub entry %d from %d: %w", entry, from, err)
		}

		to := sess.Uid()
		if to == boot.UidUnset {
			var err error
			to, err = l.initOS(sess)
			if err != nil {
				return err
			}
		}
		l.Graph.ConnectGrubEntry(from, to, entry)
	}

	return nil
}

// initOS issues a fresh uid (if needed), queries the agent for its grub
// entries and display name, and records the Up(uid) vertex.
func (l *Learner) initOS(sess Sessioner) (boot.OsUid, error) {
	uid := sess.Uid()
	if uid == boot.UidUnset {
		uid = l.Graph.NextUid()
		if err := sess.InitId(uid); err != nil {
			return 0, fmt.Errorf("bootgraph: init id %d: %w", uid, err)
		}
	}

	entries, err := sess.GrubQuery()
	if err != nil {
		return 0, fmt.Errorf("bootgraph: grub query for os %d: %w", uid, err)
	}
	name, err := sess.OsQuery()
	if err != nil {
		return 0, fmt.Errorf("bootgraph: os query for os %d: %w", uid, err)
	}

	l.Graph.AddOsVertex(uid, boot.OsInfo{DisplayName: name})
	l.unknowns[uid] = append([]uint64(nil), entries...)
	l.Log.Info("bootgraph: discovered os", "uid", uid, "name", name, "entries", len(entries))
	return uid, nil
}

func (l *Learner) hasUnknowns() bool {
	for _, entries := range l.unknowns {
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

func (l *Learner) popUnknown(uid boot.OsUid) (uint64, bool) {
	entries := l.unknowns[uid]
	if len(entries) == 0 {
		return 0, false
	}
	entry := entries[0]
	remaining := entries[1:]
	if len(remaining) == 0 {
		delete(l.unknowns, uid)
	} else {
		l.unknowns[uid] = remaining
	}
	return entry, true
}

// visitNearestUnknown computes Dijkstra from the current vertex and
// executes the trace to the nearest OS with outstanding unknown entries.
func (l *Learner) visitNearestUnknown(sess Sessioner) error {
	current := sess.Uid()
	if len(l.unknowns[current]) > 0 {
		return nil // already there
	}

	best, bestDist, ok := l.nearestUnknownTarget(current)
	if !ok {
		return fmt.Errorf("bootgraph: no reachable os with unknown entries from %d", current)
	}

	trace, ok := l.Graph.Trace(boot.UpState(current), boot.UpState(best))
	if !ok {
		return fmt.Errorf("bootgraph: no trace from %d to %d despite distance %s", current, best, humanize.Comma(int64(bestDist)))
	}
	for _, action := range trace {
		if err := sess.Execute(action); err != nil {
			return fmt.Errorf("bootgraph: execute %v en route to os %d: %w", action, best, err)
		}
	}
	return nil
}

func (l *Learner) nearestUnknownTarget(current boot.OsUid) (boot.OsUid, int, bool) {
	sp, ok := l.Graph.shortestPathsFrom(boot.UpState(current))
	if !ok {
		return 0, 0, false
	}
	var best boot.OsUid
	bestDist := -1
	found := false
	for uid, entries := range l.unknowns {
		if len(entries) == 0 {
			continue
		}
		node, ok := l.Graph.g.FindNode(boot.UpState(uid))
		if !ok {
			continue
		}
		d, ok := sp.DistanceTo(node)
		if !ok {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = uid, d, true
		}
	}
	return best, bestDist, found
}
