package engine

// Phase is the run lifecycle state. Transitions are linear:
// Setup -> Ramping -> TearingDown -> Done.
type Phase int32

const (
	// PhaseSetup runs the one-time setup hook. No VU exists yet.
	PhaseSetup Phase = iota
	// PhaseRamping drives the VU population along the stage timeline.
	PhaseRamping
	// PhaseTearingDown drains the VUs and runs the teardown hook.
	PhaseTearingDown
	// PhaseDone is terminal; counts are frozen.
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseRamping:
		return "ramping"
	case PhaseTearingDown:
		return "tearing-down"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
