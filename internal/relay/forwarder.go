package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/craigbarratt/hass-pyscript-jupyter/pkg/logger"
)

// ChunkSize is the fixed read size for one relay chunk.
const ChunkSize = 8192

// Forwarder copies one direction of a relayed connection pair: it reads
// chunks from src and writes them to dst until end-of-stream, an I/O error,
// or cancellation. Each write completes before the next read, so one stalled
// direction never buffers unboundedly.
type Forwarder struct {
	port      string
	dir       string
	src       net.Conn
	dst       net.Conn
	eofStatus int
	log       logger.Logger
	done      chan struct{}
}

// NewForwarder creates a forwarder for one direction. dir is "c2k" or "k2c";
// eofStatus is the terminal code posted on a clean end-of-stream (0 for
// c2k, 1 for k2c, so a kernel-side close requests shutdown).
func NewForwarder(port, dir string, src, dst net.Conn, eofStatus int, log logger.Logger) *Forwarder {
	return &Forwarder{
		port:      port,
		dir:       dir,
		src:       src,
		dst:       dst,
		eofStatus: eofStatus,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Done is closed once Run has returned, whatever the reason.
func (f *Forwarder) Done() <-chan struct{} {
	return f.done
}

// Run copies until end-of-stream, error, or cancellation, then reports:
// a clean EOF posts eofStatus, an I/O error posts 1, cancellation posts
// nothing (the owning relay port reaps the pair itself). Completion is
// delivered with a non-blocking send into the single-slot channel, so only
// the first completion of a pair is ever recorded.
func (f *Forwarder) Run(ctx context.Context, complete chan<- int) {
	defer close(f.done)

	// A cancelled forwarder must unblock from a pending read or write
	// promptly; expire both conns' deadlines the moment ctx is done.
	stop := context.AfterFunc(ctx, func() {
		now := time.Now()
		f.src.SetReadDeadline(now)
		f.dst.SetWriteDeadline(now)
	})
	defer stop()

	buf := make([]byte, ChunkSize)
	for {
		n, err := f.src.Read(buf)
		if n > 0 {
			if f.log.Verbosity() >= 4 {
				f.log.Verbose(4, "relay chunk",
					logger.String("port", f.port),
					logger.String("dir", f.dir),
					logger.String("data", fmt.Sprintf("%q", buf[:n])),
					logger.Hex("hex", buf[:n]))
			}
			if _, werr := f.dst.Write(buf[:n]); werr != nil {
				if ctx.Err() != nil {
					return
				}
				f.log.Verbose(3, "relay write failed",
					logger.String("port", f.port), logger.String("dir", f.dir), logger.Error(werr))
				f.post(complete, 1)
				return
			}
			RelayedBytesTotal.WithLabelValues(f.port, f.dir).Add(float64(n))
		}
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled: distinct from completion, never reported twice.
				return
			}
			if err == io.EOF {
				f.log.Info("read EOF; shutting down pair",
					logger.String("port", f.port), logger.String("dir", f.dir),
					logger.Int("exit_status", f.eofStatus))
				f.post(complete, f.eofStatus)
				return
			}
			f.log.Verbose(3, "relay read failed",
				logger.String("port", f.port), logger.String("dir", f.dir), logger.Error(err))
			f.post(complete, 1)
			return
		}
	}
}

// post delivers a terminal code; the first writer to the single-slot
// channel wins and later posts are dropped.
func (f *Forwarder) post(complete chan<- int, status int) {
	select {
	case complete <- status:
	default:
	}
}
