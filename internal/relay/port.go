package relay

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/craigbarratt/hass-pyscript-jupyter/pkg/logger"
)

// Port bridges one local TCP listening endpoint to one kernel port. Every
// accepted Jupyter client connection gets its own outbound connection to the
// kernel and a pair of forwarders, tracked through the shared event channel.
type Port struct {
	// Name is the Jupyter channel name (hb_port, shell_port, ...).
	Name string

	localHost  string
	localPort  int
	remoteHost string
	remotePort int

	dialer Dialer
	ids    *atomic.Int64
	log    logger.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewPort creates a relay port. ids is the run-wide task ID counter shared
// with the other ports.
func NewPort(name, localHost string, localPort int, remoteHost string, remotePort int,
	dialer Dialer, ids *atomic.Int64, log logger.Logger) *Port {
	return &Port{
		Name:       name,
		localHost:  localHost,
		localPort:  localPort,
		remoteHost: remoteHost,
		remotePort: remotePort,
		dialer:     dialer,
		ids:        ids,
		log:        log.WithFields(logger.String("port", name)),
	}
}

// LocalAddr returns the bound listener address, or "" when stopped.
func (p *Port) LocalAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

// Start binds the local listener and begins accepting client connections.
// Accepted connections report their lifecycle through events.
func (p *Port) Start(ctx context.Context, events chan<- Event) error {
	addr := net.JoinHostPort(p.localHost, strconv.Itoa(p.localPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.ln = ln
	p.mu.Unlock()

	p.log.Verbose(3, "listening for jupyter client", logger.String("addr", ln.Addr().String()))
	go p.acceptLoop(ctx, ln, events)
	return nil
}

// Stop closes the listening socket. Already-accepted connections keep
// draining on their own and report through the normal task_end path.
// Calling Stop again is a no-op.
func (p *Port) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln != nil {
		p.ln.Close()
		p.ln = nil
	}
}

func (p *Port) acceptLoop(ctx context.Context, ln net.Listener, events chan<- Event) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.log.Verbose(2, "accept failed", logger.Error(err))
			continue
		}
		go p.runSession(ctx, conn, events)
	}
}

func (p *Port) newTask(kind string, cancel context.CancelFunc) Task {
	return Task{ID: TaskID(p.ids.Add(1)), Name: p.Name + "/" + kind, Cancel: cancel}
}

// runSession handles one accepted client connection: connect out to the
// kernel, run the two forwarders, tear the pair down on the first
// completion, and account for everything through the event channel. A
// failure here abandons only this session; the listener is unaffected.
func (p *Port) runSession(ctx context.Context, client net.Conn, events chan<- Event) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := p.newTask("session", cancel)
	events <- Event{Kind: TaskStart, Task: sess}
	ConnectionsTotal.WithLabelValues(p.Name).Inc()

	remoteAddr := net.JoinHostPort(p.remoteHost, strconv.Itoa(p.remotePort))
	p.log.Verbose(3, "connected to jupyter client; now trying pyscript kernel",
		logger.String("kernel", remoteAddr))

	kernel, err := p.dialer.DialContext(sctx, "tcp", remoteAddr)
	if err != nil {
		DialFailuresTotal.WithLabelValues(p.Name).Inc()
		p.log.Verbose(2, "kernel connect failed; abandoning session",
			logger.String("kernel", remoteAddr), logger.Error(err))
		client.Close()
		events <- Event{Kind: TaskEnd, Task: sess}
		return
	}
	p.log.Verbose(3, "pyscript kernel connected", logger.String("kernel", remoteAddr))

	// Single-slot completion channel: only the first completion of the
	// pair matters.
	complete := make(chan int, 1)

	c2kCtx, c2kCancel := context.WithCancel(sctx)
	k2cCtx, k2cCancel := context.WithCancel(sctx)
	c2k := NewForwarder(p.Name, "c2k", client, kernel, 0, p.log)
	k2c := NewForwarder(p.Name, "k2c", kernel, client, 1, p.log)
	c2kTask := p.newTask("c2k", c2kCancel)
	k2cTask := p.newTask("k2c", k2cCancel)
	go c2k.Run(c2kCtx, complete)
	go k2c.Run(k2cCtx, complete)
	events <- Event{Kind: TaskStart, Task: c2kTask}
	events <- Event{Kind: TaskStart, Task: k2cTask}

	status := 0
	cancelled := false
	select {
	case status = <-complete:
	case <-sctx.Done():
		cancelled = true
	}

	p.log.Verbose(3, "shutting down connection pair", logger.Int("exit_status", status))
	c2kCancel()
	k2cCancel()
	<-c2k.Done()
	<-k2c.Done()
	client.Close()
	kernel.Close()

	events <- Event{Kind: TaskEnd, Task: sess}
	events <- Event{Kind: TaskEnd, Task: c2kTask}
	events <- Event{Kind: TaskEnd, Task: k2cTask}
	if status != 0 && !cancelled {
		events <- Event{Kind: Exit, Status: status}
	}
}
