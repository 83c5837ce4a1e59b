// Package pipeline wires the transmit side of the detector data path
// together: the scan machine's line/frame completion signals drive the
// csi2 codec, every encoded packet is clocked through the axistream flow
// model, and completed frames are split into wire fragments for the
// UDP-style hop to the receiver.
package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-data/detector.link/internal/axistream"
	"github.com/kestrel-data/detector.link/internal/csi2"
	"github.com/kestrel-data/detector.link/internal/monitoring"
	"github.com/kestrel-data/detector.link/internal/scan"
	"github.com/kestrel-data/detector.link/internal/wire"
)

// PixelSource supplies one line of pixel samples for a given frame/row.
type PixelSource interface {
	Line(frameID uint32, row int) []uint16
}

// GradientSource renders a deterministic diagonal ramp, the standard test
// pattern for exercising the link without panel hardware.
type GradientSource struct {
	Cols int
}

// Line returns the ramp samples for one row.
func (g GradientSource) Line(frameID uint32, row int) []uint16 {
	line := make([]uint16, g.Cols)
	for col := range line {
		line[col] = uint16(int(frameID)*7 + row + col)
	}
	return line
}

// ErrMachineFaulted is returned when the scan machine is latched in its
// error state; the caller must clear it before transmitting again.
var ErrMachineFaulted = errors.New("pipeline: scan machine faulted")

// Config assembles the transmit path.
type Config struct {
	Scan scan.Config
	// FifoDepth and BytesPerBeat parameterise the flow-control link.
	FifoDepth    int
	BytesPerBeat int
	// DrainBytes and DrainInterval model the downstream consumer: every
	// DrainInterval cycles it removes DrainBytes from the FIFO. The
	// defaults (one beat per cycle) keep the link balanced; a larger
	// interval starves TReady and shows up as stall cycles.
	DrainBytes      int
	DrainInterval   int
	VirtualChannel  uint8
	IncludeLineSync bool
	FragmentPayload int
	// Source supplies pixel lines; nil selects a GradientSource sized to
	// the configured columns.
	Source PixelSource
}

// Frame is one transmitted frame with everything the receive side and the
// stats recorders need.
type Frame struct {
	FrameID     uint32
	Rows        uint16
	Cols        uint16
	TimestampNs uint64
	// Pixels is the full frame in row-major order.
	Pixels []uint16
	// Packets is the csi2 packet sequence as emitted on the panel link.
	Packets [][]byte
	// Fragments is the frame payload split into wire packets for the
	// UDP-style hop.
	Fragments [][]byte
	// StallCycles and TransferCycles are the flow-model counters
	// accumulated while transmitting this frame.
	StallCycles    uint64
	TransferCycles uint64
}

// Transmitter owns a scan machine and a flow link and produces frames on
// demand. It is driven by a single goroutine; the machine and link remain
// individually safe for concurrent status polling.
type Transmitter struct {
	machine *scan.Machine
	link    *axistream.Link
	cfg     Config
}

// NewTransmitter builds the transmit path from cfg.
func NewTransmitter(cfg Config) *Transmitter {
	if cfg.BytesPerBeat < 1 {
		cfg.BytesPerBeat = 8
	}
	if cfg.DrainBytes < 1 {
		cfg.DrainBytes = cfg.BytesPerBeat
	}
	if cfg.DrainInterval < 1 {
		cfg.DrainInterval = 1
	}
	m := scan.NewMachine(cfg.Scan)
	if cfg.Source == nil {
		cfg.Source = GradientSource{Cols: m.Config().Cols}
	}
	return &Transmitter{
		machine: m,
		link:    axistream.NewLink(cfg.FifoDepth),
		cfg:     cfg,
	}
}

// Machine exposes the scan machine for control-plane access.
func (tx *Transmitter) Machine() *scan.Machine { return tx.machine }

// LinkStats returns the cumulative flow-model counters.
func (tx *Transmitter) LinkStats() axistream.Stats { return tx.link.Stats() }

// NextFrame drives the machine through one complete frame and returns the
// transmitted result. If the machine is Idle a new scan is started; in the
// error state ErrMachineFaulted is returned.
func (tx *Transmitter) NextFrame() (*Frame, error) {
	st := tx.machine.Status()
	if st.State == scan.ErrorState {
		return nil, ErrMachineFaulted
	}
	if st.State == scan.FrameDone {
		// Retire the previous frame's completion tick.
		tx.machine.ProcessTick()
		st = tx.machine.Status()
	}
	if st.State == scan.Idle {
		tx.machine.StartScan()
	}

	mcfg := tx.machine.Config()
	frame := &Frame{
		Rows:        uint16(mcfg.Rows),
		Cols:        uint16(mcfg.Cols),
		TimestampNs: uint64(time.Now().UnixNano()),
	}
	frameID := tx.machine.Status().FrameCounter + 1

	startStats := tx.link.Stats()

	fs, err := csi2.EncodeShort(csi2.TypeFrameStart, tx.cfg.VirtualChannel, 0)
	if err != nil {
		return nil, err
	}
	tx.emit(frame, fs)

	// Generous upper bound on ticks per frame; exceeding it means the
	// machine configuration cannot complete a frame.
	maxTicks := (mcfg.GateOnTicks + mcfg.Rows*(mcfg.GateOffTicks+2) + 4) * 2
	for tick := 0; ; tick++ {
		if tick > maxTicks {
			return nil, fmt.Errorf("pipeline: frame did not complete within %d ticks", maxTicks)
		}

		tx.machine.ProcessTick()
		sig := tx.machine.Signals()
		st := tx.machine.Status()

		if st.State == scan.ErrorState {
			return nil, ErrMachineFaulted
		}

		if sig.LineValid {
			row := int(st.LineCounter) - 1
			if err := tx.emitLine(frame, frameID, row); err != nil {
				return nil, err
			}
		}

		if sig.FrameValid {
			break
		}
	}

	fe, err := csi2.EncodeShort(csi2.TypeFrameEnd, tx.cfg.VirtualChannel, 0)
	if err != nil {
		return nil, err
	}
	tx.emit(frame, fe)

	frame.FrameID = frameID

	endStats := tx.link.Stats()
	frame.StallCycles = endStats.TotalStallCycles - startStats.TotalStallCycles
	frame.TransferCycles = endStats.TotalCycles - startStats.TotalCycles - frame.StallCycles

	frags, err := wire.FragmentFrame(pixelsToBytes(frame.Pixels), wire.FragmentConfig{
		FrameID:     frame.FrameID,
		Rows:        frame.Rows,
		Cols:        frame.Cols,
		BitDepth:    16,
		TimestampNs: frame.TimestampNs,
		Flags:       tx.frameFlags(),
		PayloadSize: tx.cfg.FragmentPayload,
	})
	if err != nil {
		return nil, err
	}
	frame.Fragments = frags

	monitoring.Debugf("[pipeline] frame %d transmitted: %d packets, %d fragments, %d stall cycles",
		frame.FrameID, len(frame.Packets), len(frame.Fragments), frame.StallCycles)

	return frame, nil
}

// emitLine encodes and transmits the packets for one completed line.
func (tx *Transmitter) emitLine(frame *Frame, frameID uint32, row int) error {
	line := tx.cfg.Source.Line(frameID, row)
	lineNo := uint16(row + 1)

	if tx.cfg.IncludeLineSync {
		ls, err := csi2.EncodeShort(csi2.TypeLineStart, tx.cfg.VirtualChannel, lineNo)
		if err != nil {
			return err
		}
		tx.emit(frame, ls)
	}

	ld, err := csi2.EncodeLineData(tx.cfg.VirtualChannel, line)
	if err != nil {
		return err
	}
	tx.emit(frame, ld)
	frame.Pixels = append(frame.Pixels, line...)

	if tx.cfg.IncludeLineSync {
		le, err := csi2.EncodeShort(csi2.TypeLineEnd, tx.cfg.VirtualChannel, lineNo)
		if err != nil {
			return err
		}
		tx.emit(frame, le)
	}
	return nil
}

// emit clocks one packet through the flow link beat by beat, running the
// modelled consumer drain on its own cadence.
func (tx *Transmitter) emit(frame *Frame, pkt []byte) {
	tx.link.AssertValid()
	remaining := len(pkt)
	for cycle := 1; remaining > 0; cycle++ {
		if tx.link.ProcessCycle(tx.cfg.BytesPerBeat) {
			remaining -= tx.cfg.BytesPerBeat
		}
		if cycle%tx.cfg.DrainInterval == 0 {
			tx.link.DrainFifo(tx.cfg.DrainBytes)
		}
	}
	tx.link.DeassertValid()
	frame.Packets = append(frame.Packets, pkt)
}

func (tx *Transmitter) frameFlags() uint8 {
	if tx.machine.Config().Mode == scan.ModeCalibration {
		return wire.FlagCalibrationFrame
	}
	return 0
}

func pixelsToBytes(px []uint16) []byte {
	raw := make([]byte, len(px)*2)
	for i, v := range px {
		binary.LittleEndian.PutUint16(raw[i*2:], v)
	}
	return raw
}
