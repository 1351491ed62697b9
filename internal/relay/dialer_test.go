package relay

import (
	"context"
	"io"
	"net"
	"testing"
)

func TestNewDialerDirect(t *testing.T) {
	d, err := NewDialer("")
	if err != nil {
		t.Fatalf("direct dialer: %v", err)
	}

	addr, _ := startEchoServer(t)
	conn, err := d.DialContext(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ok")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "ok" {
		t.Errorf("echo = %q", buf)
	}
}

func TestNewDialerSocks5(t *testing.T) {
	d, err := NewDialer("socks5://127.0.0.1:1080")
	if err != nil {
		t.Fatalf("socks5 dialer: %v", err)
	}
	if _, ok := d.(*net.Dialer); ok {
		t.Error("socks5 url produced a direct dialer")
	}
}

func TestNewDialerBadURL(t *testing.T) {
	if _, err := NewDialer("http://proxy.example.org:3128"); err == nil {
		t.Error("expected unsupported proxy scheme to fail")
	}
	if _, err := NewDialer("://not-a-url"); err == nil {
		t.Error("expected unparsable proxy url to fail")
	}
}
