// Command gen-fragments generates synthetic detector fragment streams for
// testing the receive path, optionally impaired with drops, duplicates and
// reordering. The stream format is a sequence of records, each a 4-byte
// little-endian length followed by one wire packet. -verify reads a stream
// back and reports frame completeness.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/kestrel-data/detector.link/internal/pipeline"
	"github.com/kestrel-data/detector.link/internal/reassembly"
	"github.com/kestrel-data/detector.link/internal/scan"
	"github.com/kestrel-data/detector.link/internal/wire"
)

func main() {
	output := flag.String("o", "fragments.bin", "output path")
	verify := flag.String("verify", "", "read a stream file and report completeness instead of generating")
	frames := flag.Int("n", 10, "number of frames")
	rows := flag.Int("rows", 64, "frame rows")
	cols := flag.Int("cols", 64, "frame cols")
	payload := flag.Int("payload", wire.DefaultFragmentPayload, "fragment payload bytes")
	dropPct := flag.Int("drop", 0, "percentage of fragments to drop")
	dupPct := flag.Int("dup", 0, "percentage of fragments to duplicate")
	shuffle := flag.Bool("shuffle", false, "shuffle fragment order within each frame")
	seed := flag.Int64("seed", 0, "impairment RNG seed (0 = time-based)")
	flag.Parse()

	if *verify != "" {
		if err := verifyStream(*verify); err != nil {
			log.Fatalf("verify failed: %v", err)
		}
		return
	}

	if err := generate(*output, *frames, *rows, *cols, *payload, *dropPct, *dupPct, *shuffle, *seed); err != nil {
		log.Fatalf("generate failed: %v", err)
	}
}

func generate(output string, frames, rows, cols, payload, dropPct, dupPct int, shuffle bool, seed int64) error {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	tx := pipeline.NewTransmitter(pipeline.Config{
		Scan: scan.Config{
			Rows: rows,
			Cols: cols,
			Mode: scan.ModeContinuous,
		},
		FragmentPayload: payload,
	})

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	var written, dropped, duplicated int
	for i := 0; i < frames; i++ {
		frame, err := tx.NextFrame()
		if err != nil {
			return err
		}

		frags := frame.Fragments
		if shuffle {
			rng.Shuffle(len(frags), func(a, b int) { frags[a], frags[b] = frags[b], frags[a] })
		}
		for _, frag := range frags {
			if rng.Intn(100) < dropPct {
				dropped++
				continue
			}
			if err := writeRecord(w, frag); err != nil {
				return err
			}
			written++
			if rng.Intn(100) < dupPct {
				if err := writeRecord(w, frag); err != nil {
					return err
				}
				written++
				duplicated++
			}
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	log.Printf("✓ Created %s: %d frames, %d fragments (%d dropped, %d duplicated), seed %d",
		output, frames, written, dropped, duplicated, seed)
	return nil
}

func writeRecord(w io.Writer, frag []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frag)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(frag)
	return err
}

func verifyStream(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	reasm := reassembly.New(reassembly.Config{Timeout: time.Nanosecond})
	var total, malformed, complete int

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("truncated record length: %w", err)
		}
		frag := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, frag); err != nil {
			return fmt.Errorf("truncated record: %w", err)
		}
		total++

		h, err := wire.ParseFrameHeader(frag)
		if err != nil {
			malformed++
			continue
		}
		if res, ok := reasm.ProcessPacket(h, frag[wire.HeaderSize:]); ok && res.Kind == reassembly.Complete {
			complete++
			log.Printf("frame %d complete: %dx%d, %d pixels", res.FrameID, res.Rows, res.Cols, len(res.Pixels))
		}
	}

	incomplete := reasm.CheckTimeouts()
	for _, res := range incomplete {
		log.Printf("frame %d incomplete: missing %v", res.FrameID, res.MissingPackets)
	}
	stats := reasm.Stats()

	log.Printf("✓ %s: %d fragments (%d malformed, %d duplicate), %d complete / %d incomplete frames",
		path, total, malformed, stats.DuplicatePackets, complete, len(incomplete))
	return nil
}
