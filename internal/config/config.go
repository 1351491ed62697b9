// Package config loads the kernel shim's two configuration inputs: the
// pyscript.conf settings file stored inside the installed kernelspec
// directory, and the Jupyter connection parameters handed over by the
// invoking client (connection file or discrete flags).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SettingsName is the file name of the per-kernel settings file.
const SettingsName = "pyscript.conf"

// Settings holds the Home Assistant connection settings read from
// pyscript.conf. A Settings value is constructed once at startup and passed
// explicitly into the discovery client and the relay ports; there is no
// process-wide settings state.
type Settings struct {
	// HassHost is the host running Home Assistant, and therefore the host
	// the relay ports connect out to.
	HassHost string `yaml:"hass_host" json:"hass_host"`
	// HassURL is the base URL of the Home Assistant REST API. Defaults to
	// http://<hass_host>:8123 when empty.
	HassURL string `yaml:"hass_url" json:"hass_url"`
	// HassToken is the long-lived bearer token sent on API requests.
	HassToken string `yaml:"hass_token" json:"hass_token"`
	// HassProxy is an optional SOCKS proxy URL (e.g. socks5://host:1080)
	// used for both API requests and relay connections.
	HassProxy string `yaml:"hass_proxy" json:"hass_proxy"`
	// VerifySSL disables TLS certificate verification when false.
	VerifySSL bool `yaml:"verify_ssl" json:"verify_ssl"`
}

// DefaultSettings returns the settings used when no file value is present.
func DefaultSettings() *Settings {
	return &Settings{
		HassHost:  "localhost",
		VerifySSL: true,
	}
}

// BaseURL returns the API base URL without a trailing slash.
func (s *Settings) BaseURL() string {
	url := s.HassURL
	if url == "" {
		url = fmt.Sprintf("http://%s:8123", s.HassHost)
	}
	return strings.TrimRight(url, "/")
}

// LoadSettings reads the settings file for the named kernel. The file lives
// in the kernelspec directory written by the installer; YAML and JSON are
// both accepted, chosen by extension with a YAML-then-JSON fallback.
func LoadSettings(kernelName string) (*Settings, error) {
	dir, err := FindKernelDir(kernelName)
	if err != nil {
		return nil, err
	}
	return LoadSettingsFile(filepath.Join(dir, SettingsName))
}

// LoadSettingsFile reads a settings file from an explicit path.
func LoadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	settings := DefaultSettings()

	// Determine file type by extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse JSON settings %s: %w", path, err)
		}
	default:
		// pyscript.conf and .yaml/.yml parse as YAML, with a JSON fallback
		if err := yaml.Unmarshal(data, settings); err != nil {
			if jsonErr := json.Unmarshal(data, settings); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse settings %s as YAML or JSON: %v", path, err)
			}
		}
	}

	if settings.HassHost == "" {
		settings.HassHost = "localhost"
	}
	return settings, nil
}
