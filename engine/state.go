package engine

// State names one stage of a run. The progression is linear: gather
// fans out the three context branches, then assembly, generation, and
// persist follow in order. Every scheduled run reaches StateDone;
// failures along the way degrade contributions instead of aborting.
type State int

const (
	StateStart State = iota
	StateGather
	StateAssemble
	StateGenerate
	StatePersist
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateGather:
		return "gather"
	case StateAssemble:
		return "assemble"
	case StateGenerate:
		return "generate"
	case StatePersist:
		return "persist"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
