// Package discovery implements the port discovery protocol: ask Home
// Assistant's pyscript integration to start a Jupyter kernel session, then
// poll a state variable until the kernel publishes the five port numbers it
// chose.
package discovery

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/craigbarratt/hass-pyscript-jupyter/internal/config"
	"github.com/craigbarratt/hass-pyscript-jupyter/internal/relay"
	"github.com/craigbarratt/hass-pyscript-jupyter/pkg/logger"
)

// DefaultPollInterval is the fixed delay between state polls.
const DefaultPollInterval = 500 * time.Millisecond

// stateVarPrefix prefixes the per-run state variable name. The suffix must
// remain a legal Home Assistant entity-ID fragment (lowercase hex only).
const stateVarPrefix = "pyscript.jupyter_ports_"

// Client issues the kernel start request and polls for the published ports.
// It owns its HTTP client and releases it once discovery ends either way.
type Client struct {
	// Interval is the delay between state polls; tests shrink it.
	Interval time.Duration

	http       *http.Client
	baseURL    string
	token      string
	remoteHost string
	log        logger.Logger
}

// NewClient builds a discovery client from the shim settings. All outbound
// connections go through dialer, so the discovery calls use the same SOCKS
// proxy (if any) as the relay ports.
func NewClient(settings *config.Settings, dialer relay.Dialer, log logger.Logger) *Client {
	transport := &http.Transport{
		DialContext:     dialer.DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !settings.VerifySSL},
	}
	return &Client{
		Interval:   DefaultPollInterval,
		http:       &http.Client{Transport: transport},
		baseURL:    settings.BaseURL(),
		token:      settings.HassToken,
		remoteHost: settings.HassHost,
		log:        log.WithComponent("discovery"),
	}
}

// NewStateVar returns a fresh state variable name carrying the run's
// single-use discovery key.
func NewStateVar() string {
	key := make([]byte, 5)
	rand.Read(key)
	return stateVarPrefix + hex.EncodeToString(key)
}

// Resolve runs the full discovery protocol and implements
// relay.PortResolver. The HTTP client is released when it returns.
func (c *Client) Resolve(ctx context.Context, params config.ConnectionParams) (map[string]int, error) {
	defer c.Close()
	stateVar, err := c.StartKernel(ctx, params)
	if err != nil {
		return nil, err
	}
	return c.WaitForPorts(ctx, stateVar)
}

// StartKernel posts the jupyter_kernel_start service call and returns the
// state variable name the kernel will publish its ports under. The kernel
// picks its own port numbers, so the local ports are stripped from the
// request; ip is replaced with the kernel-side host.
func (c *Client) StartKernel(ctx context.Context, params config.ConnectionParams) (string, error) {
	stateVar := NewStateVar()
	body := params.WithoutPorts()
	body["state_var"] = stateVar
	body["ip"] = c.remoteHost

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode kernel start request: %w", err)
	}

	url := c.baseURL + "/api/services/pyscript/jupyter_kernel_start"
	c.log.Verbose(2, "about to do service call post", logger.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("service call %s failed with status %d", url, resp.StatusCode)
	}
	c.log.Info("service call post returned", logger.String("url", url), logger.Int("status", resp.StatusCode))
	return stateVar, nil
}

// WaitForPorts polls the state endpoint on a fixed interval until the kernel
// publishes its port numbers. There is no iteration bound: the kernel's
// startup latency is unbounded, so only a transport error or ctx
// cancellation ends the wait early.
func (c *Client) WaitForPorts(ctx context.Context, stateVar string) (map[string]int, error) {
	url := c.baseURL + "/api/states/" + stateVar
	for {
		c.log.Verbose(2, "about to do state get", logger.String("url", url))
		ports, found, err := c.readState(ctx, url)
		if err != nil {
			return nil, err
		}
		if found {
			c.log.Info("kernel ports received", logger.String("state_var", stateVar),
				logger.String("ports", fmt.Sprintf("%v", ports)))
			return ports, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Interval):
		}
	}
}

// readState performs one poll. found is false when the state variable is
// not published yet (non-200 response or missing state field); a transport
// error or a malformed state payload is returned as a hard error.
func (c *Client) readState(ctx context.Context, url string) (map[string]int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("unable to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.log.Verbose(2, "state not available yet; retrying",
			logger.String("url", url), logger.Int("status", resp.StatusCode))
		return nil, false, nil
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("invalid state response from %s: %w", url, err)
	}
	raw, ok := payload["state"]
	if !ok {
		c.log.Verbose(2, "state has no value yet; retrying", logger.String("url", url))
		return nil, false, nil
	}

	// The state value is a JSON-encoded string holding the port object.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, false, fmt.Errorf("invalid state value from %s: %w", url, err)
	}
	var ports map[string]int
	if err := json.Unmarshal([]byte(encoded), &ports); err != nil {
		return nil, false, fmt.Errorf("invalid port numbers in state from %s: %w", url, err)
	}
	for _, name := range config.PortNames {
		if _, ok := ports[name]; !ok {
			return nil, false, fmt.Errorf("state from %s is missing %s", url, name)
		}
	}
	return ports, true, nil
}

// Close releases the HTTP client's idle connections. Discovery is the only
// user of this client; nothing needs it once the ports are known.
func (c *Client) Close() {
	if transport, ok := c.http.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
