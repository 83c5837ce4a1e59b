package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kestrel-data/detector.link/internal/config"
	"github.com/kestrel-data/detector.link/internal/console"
	"github.com/kestrel-data/detector.link/internal/db"
	"github.com/kestrel-data/detector.link/internal/framestats"
	"github.com/kestrel-data/detector.link/internal/monitoring"
	"github.com/kestrel-data/detector.link/internal/pipeline"
	"github.com/kestrel-data/detector.link/internal/reassembly"
	"github.com/kestrel-data/detector.link/internal/version"
	"github.com/kestrel-data/detector.link/internal/wire"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode: mock serial port, impaired loopback link")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "", "Path to tuning config JSON")
	migrations = flag.String("migrations", "internal/db/migrations", "Path to schema migrations")
	framePace  = flag.Duration("frame-pace", 100*time.Millisecond, "Delay between frames")
)

// impair mangles a fragment stream the way a congested link would: a few
// percent dropped, a few duplicated, neighbours swapped. Only used in dev
// mode; in production the fragments arrive from the real network.
func impair(frags [][]byte, rng *rand.Rand) [][]byte {
	out := make([][]byte, 0, len(frags)+2)
	for _, f := range frags {
		switch {
		case rng.Intn(100) < 3:
			// dropped
		case rng.Intn(100) < 3:
			out = append(out, f, f)
		default:
			out = append(out, f)
		}
	}
	for i := 0; i+1 < len(out); i += 2 {
		if rng.Intn(100) < 10 {
			out[i], out[i+1] = out[i+1], out[i]
		}
	}
	return out
}

func deliver(reasm *reassembly.Reassembler, frags [][]byte) []reassembly.Result {
	var results []reassembly.Result
	for _, frag := range frags {
		h, err := wire.ParseFrameHeader(frag)
		if err != nil {
			monitoring.Logf("discarding fragment: %v", err)
			continue
		}
		res, ok := reasm.ProcessPacket(h, frag[wire.HeaderSize:])
		if ok && res.Kind == reassembly.Complete {
			results = append(results, res)
		}
	}
	return results
}

func recordResult(database *db.DB, sessionID string, res reassembly.Result, frame *pipeline.Frame) {
	rec := db.FrameRecord{
		FrameID:    res.FrameID,
		Rows:       res.Rows,
		Cols:       res.Cols,
		PixelCount: len(res.Pixels),
	}
	switch res.Kind {
	case reassembly.Complete:
		rec.Status = db.FrameComplete
	case reassembly.Incomplete:
		rec.Status = db.FrameIncomplete
		if len(res.Pixels) > 0 {
			rec.Status = db.FrameRecovered
		}
		rec.MissingPackets = len(res.MissingPackets)
	}
	if frame != nil {
		rec.StallCycles = frame.StallCycles
		rec.TransferCycles = frame.TransferCycles
	}
	if len(res.Pixels) > 0 {
		summary := framestats.Summarize(res.Pixels, 16)
		rec.MeanValue = summary.Mean
		rec.MaxValue = int64(summary.Max)
	}
	if err := database.RecordFrame(sessionID, rec); err != nil {
		monitoring.Logf("failed to record frame %d: %v", res.FrameID, err)
	}
}

func main() {
	flag.Parse()
	log.Printf("detector.link %s", version.String())

	cfg := &config.TuningConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	tx := pipeline.NewTransmitter(pipeline.Config{
		Scan:            cfg.ScanConfig(),
		FifoDepth:       cfg.GetFifoDepth(),
		BytesPerBeat:    cfg.GetBytesPerBeat(),
		VirtualChannel:  cfg.GetVirtualChannel(),
		IncludeLineSync: cfg.GetIncludeLineSync(),
		FragmentPayload: cfg.GetFragmentPayloadBytes(),
	})

	reasm := reassembly.New(reassembly.Config{
		Timeout:        cfg.GetReassemblyTimeout(),
		RecoverPartial: cfg.GetRecoverPartial(),
	})

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(*migrations); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	mcfg := tx.Machine().Config()
	sessionID, err := database.StartSession(mcfg.Mode.String(), mcfg.Rows, mcfg.Cols, "")
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	defer func() {
		if err := database.EndSession(sessionID); err != nil {
			log.Printf("failed to end session: %v", err)
		}
	}()
	log.Printf("scan session %s: %dx%d %s", sessionID, mcfg.Rows, mcfg.Cols, mcfg.Mode)

	var port console.Porter
	if *devMode {
		port = console.NewTestablePort()
	} else {
		port, err = console.OpenPort(cfg.GetSerialPort(), console.DefaultPortMode())
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", cfg.GetSerialPort(), err)
		}
	}
	cons := console.New(port, tx.Machine())
	defer cons.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// frame loop: transmit, loop the fragments back, record what completes
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		ticker := time.NewTicker(*framePace)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Print("frame loop terminated")
				return
			case <-ticker.C:
			}

			frame, err := tx.NextFrame()
			if err != nil {
				monitoring.Debugf("frame skipped: %v", err)
				continue
			}

			frags := frame.Fragments
			if *devMode {
				frags = impair(frags, rng)
			}
			for _, res := range deliver(reasm, frags) {
				recordResult(database, sessionID, res, frame)
			}
		}
	}()

	// timeout sweep for frames that lost fragments on the link
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep := time.NewTicker(cfg.GetReassemblyTimeout())
		defer sweep.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Print("timeout sweep terminated")
				return
			case <-sweep.C:
				for _, res := range reasm.CheckTimeouts() {
					log.Printf("frame %d incomplete: %d packets missing", res.FrameID, len(res.MissingPackets))
					recordResult(database, sessionID, res, nil)
				}
			}
		}
	}()

	// serial maintenance console
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cons.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("console terminated: %v", err)
		}
		log.Print("console routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		apiMux := NewServer(tx, reasm, database, sessionID).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok\n"))
		})

		server := &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
