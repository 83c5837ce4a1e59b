// Package reassembly rebuilds detector frames from out-of-order, lossy,
// possibly duplicated wire fragments. Fragments are keyed by frame ID;
// a frame either completes, stays pending, or is declared incomplete by
// the timeout sweep together with its missing fragment list.
package reassembly

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/kestrel-data/detector.link/internal/wire"
)

// DefaultTimeout is how long a pending frame may wait for fragments before
// the sweep declares it incomplete.
const DefaultTimeout = time.Second

// Config controls reassembly behaviour.
type Config struct {
	// Timeout is the maximum age of a pending frame. Zero selects
	// DefaultTimeout.
	Timeout time.Duration
	// RecoverPartial makes timed-out frames yield a zero-filled pixel
	// array alongside the missing fragment list instead of discarding the
	// received data. Off by default; fragment placement assumes the
	// transmit side used a uniform payload size.
	RecoverPartial bool
}

// ResultKind tags a reassembly outcome.
type ResultKind int

const (
	// Pending means the frame is still waiting for fragments.
	Pending ResultKind = iota
	// Complete means every fragment arrived and the pixels are assembled.
	Complete
	// Incomplete means the frame timed out with fragments missing.
	Incomplete
)

func (k ResultKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	}
	return "unknown"
}

// Result is the outcome of delivering a fragment or sweeping timeouts.
type Result struct {
	Kind    ResultKind
	FrameID uint32
	Rows    uint16
	Cols    uint16
	// Pixels is set for Complete results, and for Incomplete results when
	// RecoverPartial is enabled (missing regions zero-filled).
	Pixels []uint16
	// MissingPackets lists the absent packetSeq values in ascending order
	// for Incomplete results.
	MissingPackets []uint16
}

// frameBuffer accumulates the fragments of one in-flight frame.
type frameBuffer struct {
	frameID      uint32
	totalPackets uint16
	rows         uint16
	cols         uint16
	fragments    map[uint16][]byte
	createdAt    time.Time
}

// Stats is a snapshot of the reassembler counters.
type Stats struct {
	PendingFrames    int
	ReceivedPackets  uint64
	DuplicatePackets uint64
	RejectedPackets  uint64
	CompletedFrames  uint64
	TimedOutFrames   uint64
}

// Reassembler accepts fragments from any number of goroutines plus an
// independent timeout sweep. All per-frame transitions (create, insert,
// complete-and-remove, timeout-and-remove) are atomic under one mutex, so
// no frame is ever reported both Complete and Incomplete.
type Reassembler struct {
	mu      sync.Mutex
	cfg     Config
	pending map[uint32]*frameBuffer
	// completed records when each frame finished, for one timeout window.
	// Late duplicates of a finished frame must not re-open its buffer.
	completed map[uint32]time.Time

	receivedPackets  uint64
	duplicatePackets uint64
	rejectedPackets  uint64
	completedFrames  uint64
	timedOutFrames   uint64
}

// New returns a Reassembler with cfg defaults applied.
func New(cfg Config) *Reassembler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Reassembler{
		cfg:       cfg,
		pending:   make(map[uint32]*frameBuffer),
		completed: make(map[uint32]time.Time),
	}
}

// ProcessPacket delivers one fragment. The first fragment of an unseen
// frame ID creates its buffer from the header geometry. Duplicate
// sequence numbers are silently dropped (ok=false, no state change), as
// are fragments of an already-completed frame and fragments whose header
// geometry can never complete (totalPackets of zero, or a packetSeq at or
// beyond totalPackets). When the delivery completes the frame, the buffer
// is removed and a Complete result with the assembled pixels is returned;
// otherwise Pending.
func (r *Reassembler) ProcessPacket(h *wire.FrameHeader, payload []byte) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.TotalPackets == 0 || h.PacketSeq >= h.TotalPackets {
		r.rejectedPackets++
		return Result{}, false
	}
	if _, done := r.completed[h.FrameID]; done {
		r.duplicatePackets++
		return Result{}, false
	}

	fb, exists := r.pending[h.FrameID]
	if !exists {
		fb = &frameBuffer{
			frameID:      h.FrameID,
			totalPackets: h.TotalPackets,
			rows:         h.Rows,
			cols:         h.Cols,
			fragments:    make(map[uint16][]byte, h.TotalPackets),
			createdAt:    time.Now(),
		}
		r.pending[h.FrameID] = fb
	}

	if _, dup := fb.fragments[h.PacketSeq]; dup {
		r.duplicatePackets++
		return Result{}, false
	}

	fb.fragments[h.PacketSeq] = append([]byte(nil), payload...)
	r.receivedPackets++

	if len(fb.fragments) == int(fb.totalPackets) {
		delete(r.pending, h.FrameID)
		r.completed[h.FrameID] = time.Now()
		r.completedFrames++
		return Result{
			Kind:    Complete,
			FrameID: fb.frameID,
			Rows:    fb.rows,
			Cols:    fb.cols,
			Pixels:  fb.assemble(),
		}, true
	}

	return Result{Kind: Pending, FrameID: h.FrameID, Rows: fb.rows, Cols: fb.cols}, true
}

// CheckTimeouts sweeps pending buffers and expires any older than the
// configured timeout, reporting each as Incomplete with its full ascending
// missing-sequence list. The sweep is safe to run concurrently with
// fragment delivery.
func (r *Reassembler) CheckTimeouts() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	// Completion records outlive their frame by one timeout window, long
	// enough to absorb any straggling duplicates still on the link.
	for id, at := range r.completed {
		if now.Sub(at) > r.cfg.Timeout {
			delete(r.completed, id)
		}
	}

	var expired []Result
	for id, fb := range r.pending {
		if now.Sub(fb.createdAt) <= r.cfg.Timeout {
			continue
		}
		delete(r.pending, id)
		r.timedOutFrames++

		res := Result{
			Kind:           Incomplete,
			FrameID:        fb.frameID,
			Rows:           fb.rows,
			Cols:           fb.cols,
			MissingPackets: fb.missing(),
		}
		if r.cfg.RecoverPartial {
			res.Pixels = fb.recoverPartial()
		}
		expired = append(expired, res)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].FrameID < expired[j].FrameID })
	return expired
}

// ReceivedPacketCount returns how many unique fragments of a pending frame
// have arrived, or zero if the frame is not pending.
func (r *Reassembler) ReceivedPacketCount(frameID uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fb, ok := r.pending[frameID]; ok {
		return len(fb.fragments)
	}
	return 0
}

// Stats returns a consistent snapshot of the counters.
func (r *Reassembler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		PendingFrames:    len(r.pending),
		ReceivedPackets:  r.receivedPackets,
		DuplicatePackets: r.duplicatePackets,
		RejectedPackets:  r.rejectedPackets,
		CompletedFrames:  r.completedFrames,
		TimedOutFrames:   r.timedOutFrames,
	}
}

// assemble concatenates fragments in ascending packetSeq order and
// reinterprets byte pairs as little-endian 16-bit samples. Caller
// guarantees all fragments are present.
func (fb *frameBuffer) assemble() []uint16 {
	var raw []byte
	for seq := uint16(0); seq < fb.totalPackets; seq++ {
		raw = append(raw, fb.fragments[seq]...)
	}
	return bytesToPixels(raw)
}

// missing returns the absent sequence numbers in [0, totalPackets),
// ascending.
func (fb *frameBuffer) missing() []uint16 {
	var gaps []uint16
	for seq := uint16(0); seq < fb.totalPackets; seq++ {
		if _, ok := fb.fragments[seq]; !ok {
			gaps = append(gaps, seq)
		}
	}
	return gaps
}

// recoverPartial builds a zero-filled pixel array with the received
// fragments placed at their sequence offsets. The chunk size is inferred
// from the largest received fragment.
func (fb *frameBuffer) recoverPartial() []uint16 {
	chunk := 0
	for _, frag := range fb.fragments {
		if len(frag) > chunk {
			chunk = len(frag)
		}
	}
	if chunk == 0 {
		return make([]uint16, int(fb.rows)*int(fb.cols))
	}

	raw := make([]byte, int(fb.rows)*int(fb.cols)*2)
	for seq, frag := range fb.fragments {
		off := int(seq) * chunk
		if off >= len(raw) {
			continue
		}
		copy(raw[off:], frag)
	}
	return bytesToPixels(raw)
}

func bytesToPixels(raw []byte) []uint16 {
	px := make([]uint16, len(raw)/2)
	for i := range px {
		px[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return px
}
