package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// PortNames lists the five Jupyter channel port fields, in the order the
// relay reports them. The set is fixed by the Jupyter kernel protocol.
var PortNames = []string{"hb_port", "stdin_port", "shell_port", "iopub_port", "control_port"}

// requiredParams are the connection fields that must be present before
// discovery can start.
var requiredParams = []string{
	"ip", "transport", "signature_scheme", "key",
	"hb_port", "stdin_port", "shell_port", "iopub_port", "control_port",
}

// ConnectionParams holds the Jupyter connection parameters as an opaque map.
// The five port fields and ip are interpreted; everything else passes
// through to the kernel start request untouched.
type ConnectionParams map[string]any

// LoadConnectionFile reads a Jupyter JSON connection file.
func LoadConnectionFile(path string) (ConnectionParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file %s: %w", path, err)
	}
	var params ConnectionParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse connection file %s: %w", path, err)
	}
	return params, nil
}

// Validate checks that every required connection field is present and
// non-nil, reporting all missing fields at once.
func (p ConnectionParams) Validate() error {
	var missing []string
	for _, name := range requiredParams {
		v, ok := p[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		// Unset flags show up as zero values.
		switch t := v.(type) {
		case string:
			if t == "" {
				missing = append(missing, name)
			}
		case int:
			if t == 0 {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing connection parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IP returns the client-side bind host.
func (p ConnectionParams) IP() string {
	if s, ok := p["ip"].(string); ok {
		return s
	}
	return ""
}

// Port returns the named local port number. Values arrive as float64 from
// JSON decoding or as int when set from flags.
func (p ConnectionParams) Port(name string) (int, error) {
	switch v := p[name].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	default:
		return 0, fmt.Errorf("connection parameter %s is not a port number (%v)", name, v)
	}
}

// WithoutPorts returns a copy of the parameters with the five local port
// fields removed, ready to become the kernel start request body.
func (p ConnectionParams) WithoutPorts() ConnectionParams {
	out := make(ConnectionParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, name := range PortNames {
		delete(out, name)
	}
	return out
}

// RemoveQuotes strips leading/trailing quotes from a flag value, which
// VSCode strangely adds to arguments.
func RemoveQuotes(s string) string {
	if len(s) > 1 && s[0] == s[len(s)-1] && (s[0] == '"' || s[0] == '\'') {
		return s[1 : len(s)-1]
	}
	if len(s) > 2 && s[0] == 'b' && s[1] == s[len(s)-1] && (s[1] == '"' || s[1] == '\'') {
		return s[2 : len(s)-1]
	}
	return s
}
