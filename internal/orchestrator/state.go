package orchestrator

// State is a step of the shutdown state machine. A run moves through the
// states in order and never goes back.
type State int

const (
	StateIdle State = iota
	StateSessionsDiscovered
	StateProcessesTerminated
	StateFilesFinalized
	StateSweepComplete
	StateAuxiliaryCleaned
	StateDone
)

var stateNames = [...]string{
	StateIdle:                "idle",
	StateSessionsDiscovered:  "sessions_discovered",
	StateProcessesTerminated: "processes_terminated",
	StateFilesFinalized:      "files_finalized",
	StateSweepComplete:       "sweep_complete",
	StateAuxiliaryCleaned:    "auxiliary_cleaned",
	StateDone:                "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage names used in logs and failures.
const (
	StageDiscover  = "discover"
	StageTerminate = "terminate"
	StageFinalize  = "finalize"
	StageSweep     = "sweep"
	StageAuxiliary = "auxiliary"
)
