// Package console exposes the scan machine's control operations over a
// serial maintenance port. The protocol is line oriented: one command per
// line, one "OK ..." or "ERR ..." response per command.
package console

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kestrel-data/detector.link/internal/monitoring"
	"github.com/kestrel-data/detector.link/internal/scan"
)

// Console serves the maintenance protocol on a serial port, driving a
// single scan machine.
type Console struct {
	port    Porter
	machine *scan.Machine

	writeMu   sync.Mutex
	closing   bool
	closingMu sync.Mutex
}

// New builds a console for the given port and machine.
func New(port Porter, machine *scan.Machine) *Console {
	return &Console{port: port, machine: machine}
}

// Run reads commands from the serial port until the context is cancelled,
// the port yields an error, or Close is called.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs in its own goroutine so the outer loop can
	// await lines and context cancellation at the same time.
	go func() {
		defer close(lineChan)
		for scanner.Scan() {
			select {
			case lineChan <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scanner.Err()
			}
			c.closingMu.Lock()
			if c.closing {
				c.closingMu.Unlock()
				return nil
			}
			c.closingMu.Unlock()

			if resp := c.Dispatch(line); resp != "" {
				if err := c.writeLine(resp); err != nil {
					return err
				}
			}
		}
	}
}

// Dispatch executes one command line and returns the response line. Blank
// input yields an empty response and no output.
func (c *Console) Dispatch(line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "start":
		// StartScan is a no-op outside Idle, so report what happened.
		if st := c.machine.Status(); st.State != scan.Idle {
			return fmt.Sprintf("ERR cannot start from state %s", st.State)
		}
		c.machine.StartScan()
		monitoring.Logf("[console] scan started")
		return "OK started"

	case "stop":
		if st := c.machine.Status(); st.State == scan.ErrorState {
			return "ERR machine faulted, clear first"
		}
		c.machine.StopScan()
		monitoring.Logf("[console] scan stopped")
		return "OK stopped"

	case "clear":
		c.machine.ClearError()
		return "OK cleared"

	case "status":
		st := c.machine.Status()
		return fmt.Sprintf("OK state=%s mode=%s line=%d frames=%d bank=%d errors=0x%02x",
			st.State, st.Mode, st.LineCounter, st.FrameCounter, st.ActiveBank, uint8(st.ErrorFlags))

	case "regs":
		st := c.machine.Status()
		lo, hi := scan.FrameCountRegs(st)
		return fmt.Sprintf("OK status=0x%04x frame_lo=0x%04x frame_hi=0x%04x",
			scan.StatusWord(st), lo, hi)

	case "help":
		return "OK commands: start stop clear status regs help"

	default:
		return fmt.Sprintf("ERR unknown command %q", cmd)
	}
}

func (c *Console) writeLine(s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.port.Write([]byte(s + "\n"))
	return err
}

// Close stops the run loop and closes the serial port.
func (c *Console) Close() error {
	c.closingMu.Lock()
	c.closing = true
	c.closingMu.Unlock()
	return c.port.Close()
}
