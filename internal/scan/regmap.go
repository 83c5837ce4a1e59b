package scan

// Register-mapped status encoding for the external control plane. The
// bitfield layout is a fixed contract:
//
//	bit0        idle
//	bit1        busy (any state between StartScan and frame completion)
//	bit2        error
//	bits[7:4]   state code
//	bit11       active write bank
//	bits[15:12] scan mode code
const (
	statusBitIdle  = 1 << 0
	statusBitBusy  = 1 << 1
	statusBitError = 1 << 2

	statusStateShift = 4
	statusBankShift  = 11
	statusModeShift  = 12
)

// StatusWord packs a Status snapshot into the 16-bit control-plane register.
func StatusWord(st Status) uint16 {
	var w uint16
	switch st.State {
	case Idle:
		w |= statusBitIdle
	case ErrorState:
		w |= statusBitError
	default:
		w |= statusBitBusy
	}
	w |= (uint16(st.State) & 0xF) << statusStateShift
	w |= uint16(st.ActiveBank&0x1) << statusBankShift
	w |= (uint16(st.Mode) & 0xF) << statusModeShift
	return w
}

// FrameCountRegs splits the 32-bit frame counter into the low/high 16-bit
// register halves exposed to the control plane.
func FrameCountRegs(st Status) (lo, hi uint16) {
	return uint16(st.FrameCounter & 0xFFFF), uint16(st.FrameCounter >> 16)
}
