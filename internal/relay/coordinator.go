package relay

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/craigbarratt/hass-pyscript-jupyter/internal/config"
	"github.com/craigbarratt/hass-pyscript-jupyter/pkg/logger"
)

// autoExitTaskHighWater is the task high-water mark that must have been
// reached before an empty task set means "the notebook client is done"
// rather than "nothing has connected yet". Ten is roughly two full
// connections' worth of session and forwarder tasks.
const autoExitTaskHighWater = 10

// eventBuffer sizes the shared event channel. The coordinator is the only
// consumer and keeps consuming until shutdown completes, so the buffer only
// smooths bursts.
const eventBuffer = 64

// PortResolver produces the kernel's five remote port numbers, keyed by
// the names in config.PortNames. Implemented by discovery.Client.
type PortResolver interface {
	Resolve(ctx context.Context, params config.ConnectionParams) (map[string]int, error)
}

// Coordinator owns the relay ports and the live task set for one run. It is
// the sole consumer of the event channel and the sole owner of the task set
// and high-water mark, so no locking is involved.
type Coordinator struct {
	resolver   PortResolver
	params     config.ConnectionParams
	remoteHost string
	dialer     Dialer
	log        logger.Logger

	events chan Event
	ids    atomic.Int64
	ports  []*Port
	tasks  map[TaskID]Task
}

// NewCoordinator creates a coordinator. remoteHost is the kernel-side host
// every relay port connects out to.
func NewCoordinator(resolver PortResolver, params config.ConnectionParams, remoteHost string,
	dialer Dialer, log logger.Logger) *Coordinator {
	return &Coordinator{
		resolver:   resolver,
		params:     params,
		remoteHost: remoteHost,
		dialer:     dialer,
		log:        log,
		events:     make(chan Event, eventBuffer),
		tasks:      make(map[TaskID]Task),
	}
}

// Run drives one full shim session: resolve the kernel's ports, start the
// five relay ports, watch the task set, and drain on shutdown. The returned
// error is non-nil only for fatal-before-relay failures (discovery or
// listener setup); otherwise the int is the process exit status.
func (c *Coordinator) Run(ctx context.Context) (int, error) {
	remotePorts, err := c.resolver.Resolve(ctx, c.params)
	if err != nil {
		return 1, err
	}

	for _, name := range config.PortNames {
		localPort, err := c.params.Port(name)
		if err != nil {
			return 1, err
		}
		remotePort, ok := remotePorts[name]
		if !ok {
			return 1, fmt.Errorf("kernel did not report a port for %s", name)
		}
		port := NewPort(name, c.params.IP(), localPort, c.remoteHost, remotePort,
			c.dialer, &c.ids, c.log)
		if err := port.Start(ctx, c.events); err != nil {
			c.stopPorts()
			return 1, fmt.Errorf("failed to listen for %s: %w", name, err)
		}
		c.ports = append(c.ports, port)
	}

	status := c.watch(ctx)
	c.drain()
	return status, nil
}

// watch runs the Running state: track task starts and ends until either an
// exit is requested, everything drained after real traffic, or the outer
// context is cancelled.
func (c *Coordinator) watch(ctx context.Context) int {
	highWater := 0
	for {
		select {
		case <-ctx.Done():
			return 0
		case ev := <-c.events:
			switch ev.Kind {
			case TaskStart:
				c.tasks[ev.Task.ID] = ev.Task
				if len(c.tasks) > highWater {
					highWater = len(c.tasks)
				}
			case TaskEnd:
				delete(c.tasks, ev.Task.ID)
				// An empty task set only means the client is done if real
				// relaying happened at some point.
				if len(c.tasks) == 0 && highWater >= autoExitTaskHighWater {
					c.log.Verbose(2, "all relay connections drained; exiting",
						logger.Int("task_high_water", highWater))
					return 0
				}
			case Exit:
				c.log.Verbose(2, "exit requested", logger.Int("exit_status", ev.Status))
				return ev.Status
			}
		}
	}
}

// drain runs the Draining state: close every listener, cancel every live
// task, and keep consuming events until each cancelled task has
// acknowledged with its task_end.
func (c *Coordinator) drain() {
	c.stopPorts()
	for _, t := range c.tasks {
		t.Cancel()
	}
	for len(c.tasks) > 0 {
		ev := <-c.events
		switch ev.Kind {
		case TaskStart:
			// A session that raced shutdown; cancel it right away but keep
			// accounting for it until it ends.
			c.tasks[ev.Task.ID] = ev.Task
			ev.Task.Cancel()
		case TaskEnd:
			delete(c.tasks, ev.Task.ID)
		}
	}
}

func (c *Coordinator) stopPorts() {
	for _, p := range c.ports {
		p.Stop()
	}
}
