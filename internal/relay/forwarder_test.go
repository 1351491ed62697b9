package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/craigbarratt/hass-pyscript-jupyter/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.NewSimpleLogger(0, io.Discard)
}

func waitDone(t *testing.T, f *Forwarder) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not finish in time")
	}
}

// TestForwarderCopiesBytesInOrder verifies round-trip fidelity: everything
// written to the source shows up at the sink, byte for byte and in order,
// and a clean close posts the forwarder's assigned terminal code.
func TestForwarderCopiesBytesInOrder(t *testing.T) {
	srcIn, srcOut := net.Pipe()
	dstIn, dstOut := net.Pipe()
	defer srcOut.Close()
	defer dstIn.Close()
	defer dstOut.Close()

	complete := make(chan int, 1)
	f := NewForwarder("shell_port", "c2k", srcOut, dstIn, 0, testLogger())
	go f.Run(context.Background(), complete)

	want := []byte("hello, kernel! 0123456789")
	received := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(dstOut)
		received <- data
	}()

	for _, chunk := range [][]byte{want[:5], want[5:12], want[12:]} {
		if _, err := srcIn.Write(chunk); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	srcIn.Close()

	waitDone(t, f)
	dstIn.Close()

	select {
	case status := <-complete:
		if status != 0 {
			t.Errorf("EOF completion status = %d, want 0", status)
		}
	default:
		t.Error("forwarder posted no completion on EOF")
	}

	got := <-received
	if !bytes.Equal(got, want) {
		t.Errorf("relayed bytes = %q, want %q", got, want)
	}
}

// TestForwarderPostsOneOnWriteError checks that a sink error is reported as
// an abnormal completion (code 1).
func TestForwarderPostsOneOnWriteError(t *testing.T) {
	srcIn, srcOut := net.Pipe()
	dstIn, dstOut := net.Pipe()
	defer srcIn.Close()
	defer srcOut.Close()

	// Closing both ends of the sink pipe makes the next write fail.
	dstIn.Close()
	dstOut.Close()

	complete := make(chan int, 1)
	f := NewForwarder("shell_port", "c2k", srcOut, dstIn, 0, testLogger())
	go f.Run(context.Background(), complete)

	if _, err := srcIn.Write([]byte("doomed")); err != nil {
		t.Fatalf("source write failed: %v", err)
	}

	waitDone(t, f)
	select {
	case status := <-complete:
		if status != 1 {
			t.Errorf("error completion status = %d, want 1", status)
		}
	default:
		t.Error("forwarder posted no completion on write error")
	}
}

// TestForwarderCancelPostsNothing checks that cancellation unblocks a
// pending read promptly and is not reported as a completion.
func TestForwarderCancelPostsNothing(t *testing.T) {
	srcIn, srcOut := net.Pipe()
	dstIn, dstOut := net.Pipe()
	defer srcIn.Close()
	defer srcOut.Close()
	defer dstIn.Close()
	defer dstOut.Close()

	ctx, cancel := context.WithCancel(context.Background())
	complete := make(chan int, 1)
	f := NewForwarder("hb_port", "k2c", srcOut, dstIn, 1, testLogger())
	go f.Run(ctx, complete)

	// Let the forwarder block in its read, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()
	waitDone(t, f)

	select {
	case status := <-complete:
		t.Errorf("cancelled forwarder posted completion %d", status)
	default:
	}
}

// TestForwarderLogsEOFShutdown checks the end-of-stream diagnostic is part
// of the normal informational output, not hidden behind high verbosity.
func TestForwarderLogsEOFShutdown(t *testing.T) {
	srcIn, srcOut := net.Pipe()
	dstIn, dstOut := net.Pipe()
	defer srcOut.Close()
	defer dstIn.Close()
	defer dstOut.Close()

	var buf bytes.Buffer
	log := logger.NewSimpleLogger(1, &buf)

	complete := make(chan int, 1)
	f := NewForwarder("iopub_port", "k2c", srcOut, dstIn, 1, log)
	go f.Run(context.Background(), complete)

	srcIn.Close()
	waitDone(t, f)

	out := buf.String()
	if !strings.Contains(out, "read EOF") {
		t.Errorf("log output %q is missing the EOF shutdown line", out)
	}
	if !strings.Contains(out, "exit_status=1") {
		t.Errorf("log output %q is missing the exit status", out)
	}
}

// TestForwarderFirstCompletionWins drives both directions of a pair to
// completion and checks the single-slot channel records exactly one value.
func TestForwarderFirstCompletionWins(t *testing.T) {
	aIn, aOut := net.Pipe()
	bIn, bOut := net.Pipe()
	cIn, cOut := net.Pipe()
	dIn, dOut := net.Pipe()
	defer bOut.Close()
	defer dOut.Close()

	complete := make(chan int, 1)
	c2k := NewForwarder("shell_port", "c2k", aOut, bIn, 0, testLogger())
	k2c := NewForwarder("shell_port", "k2c", cOut, dIn, 1, testLogger())
	go c2k.Run(context.Background(), complete)
	go k2c.Run(context.Background(), complete)

	// Both sources hit EOF; both forwarders try to post.
	aIn.Close()
	cIn.Close()
	waitDone(t, c2k)
	waitDone(t, k2c)

	select {
	case <-complete:
	default:
		t.Fatal("no completion recorded")
	}
	select {
	case status := <-complete:
		t.Errorf("second completion %d should have been dropped", status)
	default:
	}
}
