package relay

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
)

// Dialer abstracts how outbound connections to the kernel host are made.
// One implementation is selected at startup (direct or through a SOCKS
// proxy) and injected into both the discovery client and every relay port.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer returns the dialer for the given proxy URL. An empty URL selects
// a plain net.Dialer; otherwise the URL must name a SOCKS-style proxy
// understood by golang.org/x/net/proxy (e.g. socks5://host:1080).
func NewDialer(proxyURL string) (Dialer, error) {
	if proxyURL == "" {
		return &net.Dialer{}, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %s: %w", proxyURL, err)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("unsupported proxy %s: %w", proxyURL, err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return &contextDialer{d: d}, nil
}

// contextDialer adapts a context-less proxy.Dialer. The dial itself cannot
// be interrupted, but callers get their context honored.
type contextDialer struct {
	d proxy.Dialer
}

func (c *contextDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	type dialResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := c.d.Dial(network, address)
		ch <- dialResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}
