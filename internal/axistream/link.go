// Package axistream models the producer/FIFO/consumer handshake on the
// detector transmit path as a discrete single-clock simulation. A beat
// transfers only while the producer asserts TValid and the FIFO has room
// (TReady); saturation shows up in the stall counters, never as an error.
package axistream

import "sync"

// DefaultFifoDepth is used when a Link is configured with depth <= 0.
const DefaultFifoDepth = 256

// Link is the producer -> FIFO -> consumer model. Mutation is serialised
// behind a mutex so stats can be polled while a driver clocks the link.
type Link struct {
	mu sync.Mutex

	depth  int
	level  int
	tvalid bool

	stallCycles           uint64 // consecutive stalled cycles, reset on transfer
	totalStallCycles      uint64
	totalBytesTransferred uint64
	totalCycles           uint64
}

// NewLink returns a link with the given FIFO depth in bytes. Zero selects
// DefaultFifoDepth; the minimum usable depth is one byte.
func NewLink(depth int) *Link {
	if depth == 0 {
		depth = DefaultFifoDepth
	}
	if depth < 1 {
		depth = 1
	}
	return &Link{depth: depth}
}

// AssertValid raises TValid: the producer has a beat waiting.
func (l *Link) AssertValid() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tvalid = true
}

// DeassertValid lowers TValid and resets the running stall counter. The
// cumulative total is preserved.
func (l *Link) DeassertValid() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tvalid = false
	l.stallCycles = 0
}

// TReady reports whether the FIFO can accept another beat.
func (l *Link) TReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level < l.depth
}

// TransferActive reports whether a beat would transfer on the next cycle.
func (l *Link) TransferActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tvalid && l.level < l.depth
}

// ProcessCycle advances the link by one clock. If TValid && TReady the
// transfer lands: the FIFO level grows by bytesPerBeat (saturating at the
// configured depth), the running stall counter resets, and the call
// returns true. Otherwise both stall counters increment and the call
// returns false.
func (l *Link) ProcessCycle(bytesPerBeat int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalCycles++

	if l.tvalid && l.level < l.depth {
		l.level += bytesPerBeat
		if l.level > l.depth {
			l.level = l.depth
		}
		l.stallCycles = 0
		l.totalBytesTransferred += uint64(bytesPerBeat)
		return true
	}

	l.stallCycles++
	l.totalStallCycles++
	return false
}

// DrainFifo removes up to n bytes from the consumer side, clamping the
// level at zero. Draining may restore TReady.
func (l *Link) DrainFifo(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level -= n
	if l.level < 0 {
		l.level = 0
	}
}

// Stats is a snapshot of the link counters.
type Stats struct {
	FifoDepth             int
	FifoLevel             int
	TValid                bool
	TReady                bool
	StallCycles           uint64
	TotalStallCycles      uint64
	TotalBytesTransferred uint64
	TotalCycles           uint64
}

// Stats returns a consistent snapshot of the link state.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		FifoDepth:             l.depth,
		FifoLevel:             l.level,
		TValid:                l.tvalid,
		TReady:                l.level < l.depth,
		StallCycles:           l.stallCycles,
		TotalStallCycles:      l.totalStallCycles,
		TotalBytesTransferred: l.totalBytesTransferred,
		TotalCycles:           l.totalCycles,
	}
}
