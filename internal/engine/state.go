package engine

// State is the engine's position in a sync run.
type State int

const (
	Idle State = iota
	Pulling
	Merging
	Pushing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pulling:
		return "pulling"
	case Merging:
		return "merging"
	case Pushing:
		return "pushing"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// TransitionFunc observes state changes. It runs synchronously on the sync
// goroutine and must not call back into the engine.
type TransitionFunc func(from, to State)
