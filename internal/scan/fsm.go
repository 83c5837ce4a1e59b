// Package scan models the detector exposure/readout cycle as a discrete,
// tick-driven state machine. The machine is a single mutex-guarded holder
// around a pure per-tick transition step: an external driver advances it by
// calling ProcessTick while pollers read consistent Status snapshots
// concurrently.
package scan

import "sync"

// MaxDimension caps the configurable panel geometry. Rows and Cols above
// this are clamped.
const MaxDimension = 3072

// Default timing parameters used when a Config field is zero or negative.
const (
	DefaultGateOnTicks        = 8
	DefaultGateOffTicks       = 8
	DefaultSettleTimeoutTicks = 2
	DefaultAdcTimeoutTicks    = 2
	DefaultRows               = 1024
	DefaultCols               = 1024
)

// Config holds the timing and geometry parameters for a scan session.
// All tick counts must be positive; zero or negative values fall back to
// the package defaults.
type Config struct {
	GateOnTicks        int // ticks spent integrating before readout
	GateOffTicks       int // ticks spent reading out one line
	SettleTimeoutTicks int // analog settle delay at the start of each line
	AdcTimeoutTicks    int // ADC conversion delay after settling
	Rows               int // lines per frame, clamped to MaxDimension
	Cols               int // pixels per line, clamped to MaxDimension
	Mode               Mode
}

func (c Config) withDefaults() Config {
	if c.GateOnTicks <= 0 {
		c.GateOnTicks = DefaultGateOnTicks
	}
	if c.GateOffTicks <= 0 {
		c.GateOffTicks = DefaultGateOffTicks
	}
	if c.SettleTimeoutTicks <= 0 {
		c.SettleTimeoutTicks = DefaultSettleTimeoutTicks
	}
	if c.AdcTimeoutTicks <= 0 {
		c.AdcTimeoutTicks = DefaultAdcTimeoutTicks
	}
	if c.Rows <= 0 {
		c.Rows = DefaultRows
	}
	if c.Cols <= 0 {
		c.Cols = DefaultCols
	}
	if c.Rows > MaxDimension {
		c.Rows = MaxDimension
	}
	if c.Cols > MaxDimension {
		c.Cols = MaxDimension
	}
	return c
}

// Machine is the scan state machine. All mutation is serialised behind mu;
// the machine performs no I/O and spawns no goroutines.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	state     State
	prevState State

	frameCounter uint32
	lineCounter  uint32
	errorFlags   ErrorFlag
	activeBank   uint8

	gateTick    int // ticks accumulated in Integrate
	readTick    int // ticks accumulated in the current Readout
	settleTimer int
	adcTimer    int
	writeAddr   int // per-pixel write address within the current line
}

// NewMachine returns an Idle machine with cfg defaults and clamps applied.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaults and clamping.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// StartScan arms the machine from Idle: counters, write address, and timers
// are zeroed and the machine enters Integrate. The RoicSync signal is
// asserted for the instant of this transition only. Calls in any other
// state are ignored.
func (m *Machine) StartScan() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Idle {
		return
	}
	m.prevState = Idle
	m.state = Integrate
	m.lineCounter = 0
	m.writeAddr = 0
	m.settleTimer = 0
	m.adcTimer = 0
	m.gateTick = 0
	m.readTick = 0
}

// StopScan forces the machine back to Idle from any non-error state,
// resetting the line counter and write address. The frame counter is
// preserved. In ErrorState the call is ignored; use ClearError.
func (m *Machine) StopScan() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == ErrorState {
		return
	}
	m.prevState = m.state
	m.state = Idle
	m.lineCounter = 0
	m.writeAddr = 0
	m.gateTick = 0
	m.readTick = 0
}

// TriggerError ORs flag into the accumulated error flags and latches the
// machine in ErrorState. ProcessTick is a no-op until ClearError.
func (m *Machine) TriggerError(flag ErrorFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorFlags |= flag
	if m.state != ErrorState {
		m.prevState = m.state
		m.state = ErrorState
	}
}

// ClearError is the explicit operator action that exits ErrorState: the
// machine returns to Idle and all error flags are cleared.
func (m *Machine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != ErrorState {
		return
	}
	m.prevState = m.state
	m.state = Idle
	m.errorFlags = 0
}

// ProcessTick advances the machine by one discrete tick. In Idle and
// ErrorState it is a no-op apart from retiring one-shot signals.
func (m *Machine) ProcessTick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// One-shot signals such as RoicSync are valid for exactly one
	// observation window; retire the previous transition first.
	m.prevState = m.state

	switch m.state {
	case Idle, ErrorState:
		// Nothing to advance.

	case Integrate:
		m.gateTick++
		if m.gateTick >= m.cfg.GateOnTicks {
			m.gateTick = 0
			m.enterReadout()
		}

	case Readout:
		// The line readout sequence: analog settle, then ADC
		// conversion, then per-pixel writes up to the column count.
		switch {
		case m.settleTimer > 0:
			m.settleTimer--
		case m.adcTimer > 0:
			m.adcTimer--
		case m.writeAddr < m.cfg.Cols:
			m.writeAddr++
		}
		m.readTick++
		if m.readTick >= m.cfg.GateOffTicks {
			m.state = LineDone
			m.lineCounter++
			m.activeBank ^= 1
			m.writeAddr = 0
		}

	case LineDone:
		if int(m.lineCounter) >= m.cfg.Rows {
			m.state = FrameDone
			m.frameCounter++
		} else {
			m.enterReadout()
		}

	case FrameDone:
		if m.cfg.Mode == ModeContinuous {
			m.state = Integrate
			m.lineCounter = 0
			m.writeAddr = 0
			m.gateTick = 0
		} else {
			m.state = Idle
		}
	}
}

// enterReadout reloads the line timers and switches to Readout.
// Caller holds mu.
func (m *Machine) enterReadout() {
	m.state = Readout
	m.settleTimer = m.cfg.SettleTimeoutTicks
	m.adcTimer = m.cfg.AdcTimeoutTicks
	m.readTick = 0
}

// Status returns an immutable snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state,
		FrameCounter: m.frameCounter,
		LineCounter:  m.lineCounter,
		ErrorFlags:   m.errorFlags,
		Mode:         m.cfg.Mode,
		ActiveBank:   m.activeBank,
	}
}

// Signals returns the derived control outputs for the current tick. They
// are pure functions of the current/previous state pair.
func (m *Machine) Signals() Signals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Signals{
		GateOn:     m.state == Integrate,
		LineValid:  m.state == LineDone,
		FrameValid: m.state == FrameDone,
		RoicSync:   m.prevState == Idle && m.state == Integrate,
	}
}
