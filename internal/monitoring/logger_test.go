package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("link up")
	if got != "link up" {
		t.Errorf("custom logger not invoked, got %q", got)
	}

	// nil installs a no-op that must not panic.
	SetLogger(nil)
	Logf("dropped")
}

func TestDebugfDisabledByDefault(t *testing.T) {
	SetDebugWriter(nil)
	Debugf("should go nowhere %d", 1)
}

func TestDebugfWritesWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetDebugWriter(&buf)
	defer SetDebugWriter(nil)

	Debugf("frame %d pending", 9)
	if !strings.Contains(buf.String(), "frame 9 pending") {
		t.Errorf("debug output missing message: %q", buf.String())
	}
}
