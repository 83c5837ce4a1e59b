package reassembly

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/detector.link/internal/wire"
)

// makeFragments builds a frame of sequential 16-bit samples and splits it
// into wire fragments of fragSize payload bytes.
func makeFragments(t *testing.T, frameID uint32, rows, cols uint16, fragSize int) ([]*wire.FrameHeader, [][]byte, []uint16) {
	t.Helper()

	pixels := make([]uint16, int(rows)*int(cols))
	raw := make([]byte, len(pixels)*2)
	for i := range pixels {
		pixels[i] = uint16(i + 1)
		binary.LittleEndian.PutUint16(raw[i*2:], pixels[i])
	}

	frags, err := wire.FragmentFrame(raw, wire.FragmentConfig{
		FrameID:     frameID,
		Rows:        rows,
		Cols:        cols,
		BitDepth:    16,
		PayloadSize: fragSize,
	})
	require.NoError(t, err)

	headers := make([]*wire.FrameHeader, len(frags))
	payloads := make([][]byte, len(frags))
	for i, frag := range frags {
		h, err := wire.ParseFrameHeader(frag)
		require.NoError(t, err)
		headers[i] = h
		payloads[i] = frag[wire.HeaderSize:]
	}
	return headers, payloads, pixels
}

func TestOutOfOrderDeliveryCompletes(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	// 4x5 pixels at 8 bytes per fragment = 5 fragments.
	headers, payloads, want := makeFragments(t, 1, 4, 5, 8)
	require.Len(t, headers, 5)

	var final Result
	for _, i := range []int{4, 0, 2, 1, 3} {
		res, ok := r.ProcessPacket(headers[i], payloads[i])
		require.True(t, ok)
		final = res
	}

	require.Equal(t, Complete, final.Kind)
	assert.Equal(t, uint32(1), final.FrameID)
	assert.Equal(t, want, final.Pixels, "assembled pixels equal in-order concatenation")
	assert.Zero(t, r.Stats().PendingFrames, "completed buffer is removed from the pending map")
}

func TestPartialDeliveryStaysPending(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	headers, payloads, _ := makeFragments(t, 2, 4, 5, 8)

	res, ok := r.ProcessPacket(headers[0], payloads[0])
	require.True(t, ok)
	assert.Equal(t, Pending, res.Kind)
	assert.Equal(t, uint32(2), res.FrameID)
	assert.Equal(t, 1, r.ReceivedPacketCount(2))
}

func TestTimeoutReportsMissingPackets(t *testing.T) {
	t.Parallel()

	r := New(Config{Timeout: 20 * time.Millisecond})
	headers, payloads, _ := makeFragments(t, 3, 4, 5, 8)

	_, ok := r.ProcessPacket(headers[0], payloads[0])
	require.True(t, ok)

	// Nothing expires before the timeout.
	assert.Empty(t, r.CheckTimeouts())

	time.Sleep(50 * time.Millisecond)
	expired := r.CheckTimeouts()
	require.Len(t, expired, 1)
	assert.Equal(t, Incomplete, expired[0].Kind)
	assert.Equal(t, uint32(3), expired[0].FrameID)
	assert.Equal(t, []uint16{1, 2, 3, 4}, expired[0].MissingPackets)
	assert.Nil(t, expired[0].Pixels, "no partial recovery by default")

	// The buffer is gone: a second sweep reports nothing.
	assert.Empty(t, r.CheckTimeouts())
	assert.Equal(t, uint64(1), r.Stats().TimedOutFrames)
}

func TestDuplicateFragmentsAreSilentlyDropped(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	headers, payloads, _ := makeFragments(t, 4, 4, 5, 8)

	_, ok := r.ProcessPacket(headers[1], payloads[1])
	require.True(t, ok)
	require.Equal(t, 1, r.ReceivedPacketCount(4))

	res, ok := r.ProcessPacket(headers[1], payloads[1])
	assert.False(t, ok, "duplicate delivery returns no result")
	assert.Zero(t, res.Kind)
	assert.Equal(t, 1, r.ReceivedPacketCount(4), "received count unchanged after duplicate")
	assert.Equal(t, uint64(1), r.Stats().DuplicatePackets)
}

func TestOutOfRangeSequenceDoesNotCountTowardCompletion(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	// 2x4 pixels at 8 bytes per fragment = 2 fragments.
	headers, payloads, want := makeFragments(t, 7, 2, 4, 8)
	require.Len(t, headers, 2)

	res, ok := r.ProcessPacket(headers[0], payloads[0])
	require.True(t, ok)
	require.Equal(t, Pending, res.Kind)

	// A sequence number at or beyond totalPackets is dropped, never stored.
	stray := *headers[0]
	stray.PacketSeq = 5
	res, ok = r.ProcessPacket(&stray, payloads[0])
	assert.False(t, ok, "out-of-range sequence returns no result")
	assert.Zero(t, res.Kind)
	assert.Equal(t, 1, r.ReceivedPacketCount(7))
	assert.Equal(t, uint64(1), r.Stats().RejectedPackets)

	// The real second fragment still completes the frame with full pixels.
	res, ok = r.ProcessPacket(headers[1], payloads[1])
	require.True(t, ok)
	require.Equal(t, Complete, res.Kind)
	assert.Equal(t, want, res.Pixels)
}

func TestZeroTotalPacketsRejected(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	h := &wire.FrameHeader{FrameID: 8, TotalPackets: 0, Rows: 2, Cols: 2}

	res, ok := r.ProcessPacket(h, []byte{1, 2})
	assert.False(t, ok, "a frame of zero fragments can never complete")
	assert.Zero(t, res.Kind)
	assert.Zero(t, r.Stats().PendingFrames, "no buffer is created")
	assert.Equal(t, uint64(1), r.Stats().RejectedPackets)
}

func TestDuplicatesAfterCompletionAreDropped(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	headers, payloads, _ := makeFragments(t, 9, 2, 4, 8)
	require.Len(t, headers, 2)

	for i := range headers {
		_, ok := r.ProcessPacket(headers[i], payloads[i])
		require.True(t, ok)
	}
	require.Equal(t, uint64(1), r.Stats().CompletedFrames)

	// Redelivering the whole frame must not complete it a second time.
	for i := range headers {
		res, ok := r.ProcessPacket(headers[i], payloads[i])
		assert.False(t, ok, "fragment %d of a completed frame is a duplicate", i)
		assert.Zero(t, res.Kind)
	}
	st := r.Stats()
	assert.Equal(t, uint64(1), st.CompletedFrames)
	assert.Zero(t, st.PendingFrames, "no buffer re-opened for the completed frame")
	assert.Equal(t, uint64(2), st.DuplicatePackets)
}

func TestRecoverPartialZeroFills(t *testing.T) {
	t.Parallel()

	r := New(Config{Timeout: 10 * time.Millisecond, RecoverPartial: true})
	headers, payloads, want := makeFragments(t, 5, 2, 4, 4)
	require.Len(t, headers, 4)

	// Deliver fragments 0 and 2 only.
	_, ok := r.ProcessPacket(headers[0], payloads[0])
	require.True(t, ok)
	_, ok = r.ProcessPacket(headers[2], payloads[2])
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	expired := r.CheckTimeouts()
	require.Len(t, expired, 1)
	require.Equal(t, Incomplete, expired[0].Kind)
	assert.Equal(t, []uint16{1, 3}, expired[0].MissingPackets)

	px := expired[0].Pixels
	require.Len(t, px, 8)
	assert.Equal(t, want[0:2], px[0:2], "fragment 0 lands at its offset")
	assert.Equal(t, []uint16{0, 0}, px[2:4], "missing fragment 1 is zero-filled")
	assert.Equal(t, want[4:6], px[4:6], "fragment 2 lands at its offset")
	assert.Equal(t, []uint16{0, 0}, px[6:8])
}

func TestConcurrentDeliverySingleCompletion(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	headers, payloads, _ := makeFragments(t, 6, 8, 8, 16)
	n := len(headers)
	require.Greater(t, n, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completions := 0

	// Every fragment is delivered twice from competing goroutines; the
	// frame must complete exactly once.
	for copies := 0; copies < 2; copies++ {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, ok := r.ProcessPacket(headers[i], payloads[i])
				if ok && res.Kind == Complete {
					mu.Lock()
					completions++
					mu.Unlock()
				}
			}(i)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, completions)
	assert.Zero(t, r.Stats().PendingFrames)
}

func TestIndependentFramesDoNotInterfere(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	hA, pA, wantA := makeFragments(t, 10, 2, 2, 4)
	hB, pB, _ := makeFragments(t, 11, 2, 2, 4)

	// Interleave: frame A completes, frame B stays pending.
	for i := range hA {
		if i < len(hB)-1 {
			_, ok := r.ProcessPacket(hB[i], pB[i])
			require.True(t, ok)
		}
		res, ok := r.ProcessPacket(hA[i], pA[i])
		require.True(t, ok)
		if i == len(hA)-1 {
			require.Equal(t, Complete, res.Kind)
			assert.Equal(t, wantA, res.Pixels)
		}
	}

	assert.Equal(t, 1, r.Stats().PendingFrames)
	assert.Equal(t, len(hB)-1, r.ReceivedPacketCount(11))
}
