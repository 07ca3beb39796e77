package engine

// State is the lifecycle state of an engine.
type State int

// The engine lifecycle states.
//
//	Uninitialized -> Ready <-> Stepping
//	Ready -> ShuttingDown -> Stopped
//	Stepping -> Faulted
const (
	Uninitialized State = iota
	Ready
	Stepping
	ShuttingDown
	Stopped
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	case Stepping:
		return "Stepping"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// IsTerminal tells if no further stepping can happen in this state.
func (s State) IsTerminal() bool {
	return s == Stopped || s == Faulted
}

var transitions = map[State][]State{
	Uninitialized: {Ready, Faulted, ShuttingDown},
	Ready:         {Stepping, ShuttingDown, Faulted},
	Stepping:      {Ready, Faulted},
	ShuttingDown:  {Stopped},
	Faulted:       {ShuttingDown},
}

func canTransit(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// A StateChange is the item of a HookPosStateChange hook.
type StateChange struct {
	Engine string
	From   State
	To     State
	Cause  error
}
