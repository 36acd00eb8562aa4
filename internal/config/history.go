package config

import (
	"time"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// Snapshot is an immutable record of one committed configuration.
type Snapshot struct {
	Version   int
	Resolved  Settings
	Committed time.Time

	// chain lets a rollback restore every layer, not only the resolved view.
	chain OverrideChain
}

// ChangeTracker is the append-only history of committed configurations.
// Only Rollback removes entries, and never the last one.
type ChangeTracker struct {
	history []Snapshot
	next    int
}

func (t *ChangeTracker) record(chain OverrideChain, resolved Settings, at time.Time) Snapshot {
	t.next++
	snap := Snapshot{
		Version:   t.next,
		Resolved:  resolved.Clone(),
		Committed: at,
		chain:     chain.clone(),
	}
	t.history = append(t.history, snap)
	return snap
}

// Len returns the number of snapshots.
func (t *ChangeTracker) Len() int {
	return len(t.history)
}

// Latest returns the newest snapshot.
func (t *ChangeTracker) Latest() Snapshot {
	return t.history[len(t.history)-1]
}

// Snapshots returns a copy of the history, oldest first.
func (t *ChangeTracker) Snapshots() []Snapshot {
	out := make([]Snapshot, len(t.history))
	copy(out, t.history)
	return out
}

// Rollback pops steps snapshots and returns the new newest one. It fails,
// leaving the history untouched, when steps would empty the history.
func (t *ChangeTracker) Rollback(steps int) (Snapshot, error) {
	if steps < 1 {
		return Snapshot{}, ragerrors.ValidationError("rollback steps must be at least 1", nil)
	}
	if steps >= len(t.history) {
		return Snapshot{}, ragerrors.RollbackError(steps, len(t.history))
	}
	t.history = t.history[:len(t.history)-steps]
	return t.Latest(), nil
}
