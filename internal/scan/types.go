package scan

// State identifies the current phase of the detector exposure/readout cycle.
type State int

const (
	// Idle means no scan is in progress.
	Idle State = iota
	// Integrate is the exposure phase: the gate is on and charge accumulates.
	Integrate
	// Readout drains one line through the settle/ADC/write sequence.
	Readout
	// LineDone marks the completion of a single line readout.
	LineDone
	// FrameDone marks the completion of all lines of a frame.
	FrameDone
	// ErrorState is the sticky fault state. Only ClearError exits it.
	ErrorState
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Integrate:
		return "integrate"
	case Readout:
		return "readout"
	case LineDone:
		return "line_done"
	case FrameDone:
		return "frame_done"
	case ErrorState:
		return "error"
	}
	return "unknown"
}

// Mode selects how the machine behaves after completing a frame.
type Mode int

const (
	// ModeSingle captures one frame and returns to Idle.
	ModeSingle Mode = iota
	// ModeContinuous starts integrating the next frame immediately.
	ModeContinuous
	// ModeCalibration behaves like Single; the frame is flagged for
	// calibration handling downstream.
	ModeCalibration
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeContinuous:
		return "continuous"
	case ModeCalibration:
		return "calibration"
	}
	return "unknown"
}

// ErrorFlag is a bitset of detector fault conditions. Flags accumulate via
// OR and are cleared only by an explicit ClearError.
type ErrorFlag uint8

const (
	ErrTimeout ErrorFlag = 1 << iota
	ErrOverflow
	ErrCRC
	ErrOverexposure
	ErrROICFault
	ErrDPHY
	ErrConfig
	ErrWatchdog
)

// Status is an immutable snapshot of the machine, safe to hand to pollers
// while the driving goroutine keeps ticking.
type Status struct {
	State        State
	FrameCounter uint32
	LineCounter  uint32
	ErrorFlags   ErrorFlag
	Mode         Mode
	ActiveBank   uint8 // 0 or 1, toggled once per completed line
}

// Signals are the derived one-tick control outputs. They are computed from
// the current/previous state pair and never persisted.
type Signals struct {
	GateOn     bool // true only in Integrate
	LineValid  bool // true only in LineDone
	FrameValid bool // true only in FrameDone
	RoicSync   bool // true only for the single tick of the Idle->Integrate transition
}
