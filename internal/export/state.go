package export

import "slices"

// State is the lifecycle stage of an Exporter.
type State string

const (
	// StateConfiguring is the initial state, before Export is called.
	StateConfiguring State = "CONFIGURING"
	// StatePreparing covers output allocation and track loading.
	StatePreparing State = "PREPARING"
	// StateComposing covers building the composition and its instruction.
	StateComposing State = "COMPOSING"
	// StateEncoding is entered once the encode session starts.
	StateEncoding State = "ENCODING"
	// StateCompleted means the output file was written.
	StateCompleted State = "COMPLETED"
	// StateFailed means the export stopped with an error.
	StateFailed State = "FAILED"
)

var validTransitions = map[State][]State{
	StateConfiguring: {StatePreparing},
	StatePreparing:   {StateComposing, StateFailed},
	StateComposing:   {StateEncoding, StateFailed},
	StateEncoding:    {StateCompleted, StateFailed},
	StateCompleted:   {},
	StateFailed:      {},
}

func canTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
