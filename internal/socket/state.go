package socket

// State is the authentication state of a connection.
type State int32

const (
	StatePending State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var transitions = map[State][]State{
	StatePending:        {StateAuthenticating, StateAuthenticated, StateRejected, StateClosed},
	StateAuthenticating: {StateAuthenticated, StateRejected, StateClosed},
	StateAuthenticated:  {StateClosed},
	StateRejected:       {StateClosed},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
