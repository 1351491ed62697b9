package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/craigbarratt/hass-pyscript-jupyter/internal/config"
)

type stubResolver struct {
	ports map[string]int
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, params config.ConnectionParams) (map[string]int, error) {
	return s.ports, s.err
}

// newTestParams builds connection parameters with five free local ports.
func newTestParams(t *testing.T) config.ConnectionParams {
	t.Helper()
	params := config.ConnectionParams{
		"ip":               "127.0.0.1",
		"transport":        "tcp",
		"signature_scheme": "hmac-sha256",
		"key":              "deadbeef",
	}
	for _, name := range config.PortNames {
		params[name] = unusedPort(t)
	}
	return params
}

// echoResolver points every kernel port at one shared echo server.
func echoResolver(t *testing.T) *stubResolver {
	t.Helper()
	_, echoPort := startEchoServer(t)
	ports := make(map[string]int)
	for _, name := range config.PortNames {
		ports[name] = echoPort
	}
	return &stubResolver{ports: ports}
}

type runResult struct {
	status int
	err    error
}

func runCoordinator(ctx context.Context, c *Coordinator) chan runResult {
	done := make(chan runResult, 1)
	go func() {
		status, err := c.Run(ctx)
		done <- runResult{status, err}
	}()
	return done
}

func waitRun(t *testing.T, done chan runResult) runResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not finish")
		return runResult{}
	}
}

func TestCoordinatorResolverError(t *testing.T) {
	resolver := &stubResolver{err: errors.New("kernel never started")}
	coord := NewCoordinator(resolver, newTestParams(t), "127.0.0.1", &net.Dialer{}, testLogger())

	status, err := coord.Run(context.Background())
	if err == nil {
		t.Fatal("expected resolver error to propagate")
	}
	if status != 1 {
		t.Errorf("status = %d, want 1", status)
	}
}

func TestCoordinatorCancelWithoutTraffic(t *testing.T) {
	params := newTestParams(t)
	coord := NewCoordinator(echoResolver(t), params, "127.0.0.1", &net.Dialer{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runCoordinator(ctx, coord)

	// Let the listeners come up, then cancel with nothing ever connected.
	shell, _ := params.Port("shell_port")
	dialUntilUp(t, shell)
	cancel()

	res := waitRun(t, done)
	if res.err != nil {
		t.Fatalf("run failed: %v", res.err)
	}
	if res.status != 0 {
		t.Errorf("status = %d, want 0", res.status)
	}
}

// dialWhenUp waits for the given local port to accept and returns the open
// connection.
func dialWhenUp(t *testing.T, port int) net.Conn {
	t.Helper()
	addr := "127.0.0.1:" + strconv.Itoa(port)
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("port %d never came up: %v", port, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// dialUntilUp waits for the given local port to accept, then closes the
// probe connection.
func dialUntilUp(t *testing.T, port int) {
	t.Helper()
	dialWhenUp(t, port).Close()
}

// TestCoordinatorAutoExit drives enough concurrent connections to pass the
// task high-water mark, then closes them all and expects a clean exit.
func TestCoordinatorAutoExit(t *testing.T) {
	params := newTestParams(t)
	coord := NewCoordinator(echoResolver(t), params, "127.0.0.1", &net.Dialer{}, testLogger())
	done := runCoordinator(context.Background(), coord)

	shell, _ := params.Port("shell_port")
	dialUntilUp(t, shell)
	addr := "127.0.0.1:" + strconv.Itoa(shell)

	// Four live connections are twelve tasks, above the high-water mark.
	var clients []net.Conn
	for i := 0; i < 4; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("client %d dial failed: %v", i, err)
		}
		clients = append(clients, conn)
		// Round-trip a byte so the session is fully wired before the next
		// client connects.
		if _, err := conn.Write([]byte{'x'}); err != nil {
			t.Fatalf("client %d write failed: %v", i, err)
		}
		if _, err := io.ReadFull(conn, make([]byte, 1)); err != nil {
			t.Fatalf("client %d read failed: %v", i, err)
		}
	}
	for _, conn := range clients {
		conn.Close()
	}

	res := waitRun(t, done)
	if res.err != nil {
		t.Fatalf("run failed: %v", res.err)
	}
	if res.status != 0 {
		t.Errorf("status = %d, want 0", res.status)
	}
}

// TestCoordinatorKernelCloseExits checks that the kernel hanging up on a
// live connection shuts the whole relay down with status 1.
func TestCoordinatorKernelCloseExits(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Kernel side: read one chunk, then hang up.
			go func(c net.Conn) {
				c.Read(make([]byte, 16))
				c.Close()
			}(conn)
		}
	}()

	ports := make(map[string]int)
	for _, name := range config.PortNames {
		ports[name] = ln.Addr().(*net.TCPAddr).Port
	}

	params := newTestParams(t)
	coord := NewCoordinator(&stubResolver{ports: ports}, params, "127.0.0.1", &net.Dialer{}, testLogger())
	done := runCoordinator(context.Background(), coord)

	// The client stays open, so only the kernel side closes.
	shell, _ := params.Port("shell_port")
	conn := dialWhenUp(t, shell)
	defer conn.Close()
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	res := waitRun(t, done)
	if res.err != nil {
		t.Fatalf("run failed: %v", res.err)
	}
	if res.status != 1 {
		t.Errorf("status = %d, want 1", res.status)
	}
}

// TestCoordinatorAutoExitThreshold pins the traffic heuristic exactly: an
// empty task set triggers exit only once ten tasks have been live at the
// same time at some point during the run.
func TestCoordinatorAutoExitThreshold(t *testing.T) {
	coord := NewCoordinator(nil, nil, "127.0.0.1", nil, testLogger())
	done := make(chan int, 1)
	go func() { done <- coord.watch(context.Background()) }()

	send := func(kind EventKind, id TaskID) {
		coord.events <- Event{Kind: kind, Task: Task{ID: id, Name: "shell_port/session"}}
	}

	// Nine concurrent tasks, then all gone: still below the mark, so the
	// relay keeps running.
	for id := TaskID(1); id <= 9; id++ {
		send(TaskStart, id)
	}
	for id := TaskID(1); id <= 9; id++ {
		send(TaskEnd, id)
	}
	select {
	case status := <-done:
		t.Fatalf("exited with %d after a high water of nine tasks", status)
	case <-time.After(100 * time.Millisecond):
	}

	// Ten concurrent tasks, then all gone: the client is done.
	for id := TaskID(10); id <= 19; id++ {
		send(TaskStart, id)
	}
	for id := TaskID(10); id <= 19; id++ {
		send(TaskEnd, id)
	}
	select {
	case status := <-done:
		if status != 0 {
			t.Errorf("status = %d, want 0", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no exit after a high water of ten tasks")
	}
}
