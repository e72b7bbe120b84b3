package turn

// State is a step in the life of one turn.
type State int

const (
	Admitted State = iota
	Locating
	ThinkingPosted
	AwaitingBackend
	Composing
	Delivered
	Failed
)

var stateNames = [...]string{
	Admitted:        "admitted",
	Locating:        "locating",
	ThinkingPosted:  "thinking_posted",
	AwaitingBackend: "awaiting_backend",
	Composing:       "composing",
	Delivered:       "delivered",
	Failed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Delivered || s == Failed
}

// canTransition lists the forward edges. Failed is reachable from any
// non-terminal state.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	switch from {
	case Admitted:
		return to == Locating || to == ThinkingPosted
	case Locating:
		return to == ThinkingPosted
	case ThinkingPosted:
		return to == AwaitingBackend
	case AwaitingBackend:
		return to == Composing
	case Composing:
		return to == Delivered
	}
	return false
}
