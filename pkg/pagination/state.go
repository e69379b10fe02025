package pagination

// State is the position of an Importer in its run state machine.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateRateLimited State = "rate_limited"
	StateExtracting  State = "extracting"
	StateStoring     State = "storing"
	StateDone        State = "done"

	// StateFailed is entered on a fatal error and kept until the next run.
	StateFailed State = "failed"
)

// Running reports whether s belongs to an active run.
func (s State) Running() bool {
	switch s {
	case StateFetching, StateRateLimited, StateExtracting, StateStoring:
		return true
	default:
		return false
	}
}
