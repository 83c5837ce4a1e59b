package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/detector.link/internal/csi2"
	"github.com/kestrel-data/detector.link/internal/reassembly"
	"github.com/kestrel-data/detector.link/internal/scan"
	"github.com/kestrel-data/detector.link/internal/wire"
)

func smallConfig() Config {
	return Config{
		Scan: scan.Config{
			GateOnTicks:        1,
			GateOffTicks:       1,
			SettleTimeoutTicks: 1,
			AdcTimeoutTicks:    1,
			Rows:               4,
			Cols:               8,
			Mode:               scan.ModeContinuous,
		},
		FifoDepth:       64,
		BytesPerBeat:    8,
		FragmentPayload: 16,
	}
}

func TestNextFrameProducesFullFrame(t *testing.T) {
	t.Parallel()

	tx := NewTransmitter(smallConfig())
	frame, err := tx.NextFrame()
	require.NoError(t, err)

	assert.Equal(t, uint32(1), frame.FrameID)
	assert.Len(t, frame.Pixels, 4*8)
	// FrameStart + 4 LineData + FrameEnd without line sync.
	assert.Len(t, frame.Packets, 6)

	first, err := csi2.Decode(frame.Packets[0])
	require.NoError(t, err)
	assert.Equal(t, csi2.TypeFrameStart, first.Type)
	last, err := csi2.Decode(frame.Packets[len(frame.Packets)-1])
	require.NoError(t, err)
	assert.Equal(t, csi2.TypeFrameEnd, last.Type)
}

func TestNextFrameLineSyncPackets(t *testing.T) {
	t.Parallel()

	cfg := smallConfig()
	cfg.IncludeLineSync = true
	tx := NewTransmitter(cfg)

	frame, err := tx.NextFrame()
	require.NoError(t, err)
	// FrameStart + 4*(LineStart+LineData+LineEnd) + FrameEnd.
	assert.Len(t, frame.Packets, 14)
}

func TestConsecutiveFramesIncrementID(t *testing.T) {
	t.Parallel()

	tx := NewTransmitter(smallConfig())
	f1, err := tx.NextFrame()
	require.NoError(t, err)
	f2, err := tx.NextFrame()
	require.NoError(t, err)

	assert.Equal(t, uint32(1), f1.FrameID)
	assert.Equal(t, uint32(2), f2.FrameID)
	assert.NotEqual(t, f1.Pixels, f2.Pixels, "gradient pattern varies per frame")
}

func TestSingleModeFrameThenIdle(t *testing.T) {
	t.Parallel()

	cfg := smallConfig()
	cfg.Scan.Mode = scan.ModeSingle
	tx := NewTransmitter(cfg)

	_, err := tx.NextFrame()
	require.NoError(t, err)

	// The machine parked in FrameDone/Idle; a new scan starts cleanly.
	f2, err := tx.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f2.FrameID)
}

func TestFragmentsReassembleToTransmittedPixels(t *testing.T) {
	t.Parallel()

	tx := NewTransmitter(smallConfig())
	frame, err := tx.NextFrame()
	require.NoError(t, err)
	require.NotEmpty(t, frame.Fragments)

	r := reassembly.New(reassembly.Config{})
	var final reassembly.Result
	// Deliver in reverse to exercise out-of-order assembly end to end.
	for i := len(frame.Fragments) - 1; i >= 0; i-- {
		h, err := wire.ParseFrameHeader(frame.Fragments[i])
		require.NoError(t, err)
		res, ok := r.ProcessPacket(h, frame.Fragments[i][wire.HeaderSize:])
		require.True(t, ok)
		final = res
	}

	require.Equal(t, reassembly.Complete, final.Kind)
	assert.Equal(t, frame.FrameID, final.FrameID)
	assert.Equal(t, frame.Pixels, final.Pixels)
}

func TestBackpressureAccumulatesStalls(t *testing.T) {
	t.Parallel()

	cfg := smallConfig()
	cfg.FifoDepth = 8
	cfg.BytesPerBeat = 8
	cfg.DrainInterval = 4 // consumer much slower than the producer
	tx := NewTransmitter(cfg)

	frame, err := tx.NextFrame()
	require.NoError(t, err)
	assert.Greater(t, frame.StallCycles, uint64(0), "slow consumer must stall the producer")
	assert.Greater(t, tx.LinkStats().TotalBytesTransferred, uint64(0))
}

func TestFaultedMachineRefusesToTransmit(t *testing.T) {
	t.Parallel()

	tx := NewTransmitter(smallConfig())
	tx.Machine().TriggerError(scan.ErrROICFault)

	_, err := tx.NextFrame()
	assert.ErrorIs(t, err, ErrMachineFaulted)

	tx.Machine().ClearError()
	_, err = tx.NextFrame()
	assert.NoError(t, err)
}

func TestCalibrationFramesAreFlagged(t *testing.T) {
	t.Parallel()

	cfg := smallConfig()
	cfg.Scan.Mode = scan.ModeCalibration
	tx := NewTransmitter(cfg)

	frame, err := tx.NextFrame()
	require.NoError(t, err)

	h, err := wire.ParseFrameHeader(frame.Fragments[0])
	require.NoError(t, err)
	assert.NotZero(t, h.Flags&wire.FlagCalibrationFrame)
}
