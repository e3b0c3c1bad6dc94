package bootgraph

import (
	"errors"
	"fmt"

	"github.com/bootwake/bootwaked/internal/boot"
)

// ErrBadGraph is returned when no boot path exists between the host's
// current power state and a requested target (spec §7's BadGraph error).
var ErrBadGraph = errors.New("bootgraph: no path to target power state")

// Execute drives sess to target by replaying the learned edge sequence from
// its current power state, per spec §4.6's post-learning execution API.
func (bg *Graph) Execute(sess Sessioner, target boot.PowerState) error {
	current, err := sess.CurrentOs()
	if err != nil {
		return fmt.Errorf("bootgraph: determine current power state: %w", err)
	}
	if current == target {
		return nil
	}

	trace, ok := bg.Trace(current, target)
	if !ok {
		return ErrBadGraph
	}
	for _, action := range trace {
		if err := sess.Execute(action); err != nil {
			return fmt.Errorf("bootgraph: execute %v toward %v: %w", action, target, err)
		}
	}
	return nil
}
