// Package install writes and inspects the Jupyter kernelspec for the
// pyscript kernel: the kernel.json descriptor pointing at the shim binary
// and a default pyscript.conf settings file.
package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/craigbarratt/hass-pyscript-jupyter/internal/config"
)

// DefaultKernelName is the kernel name used when none is given.
const DefaultKernelName = "pyscript"

// defaultSettings is written as pyscript.conf on a new install. Upgrades
// leave an existing pyscript.conf untouched.
const defaultSettings = `# Home Assistant connection settings for the pyscript Jupyter kernel.
#
# hass_host is the host running Home Assistant; the kernel ports are
# reached there. hass_url defaults to http://<hass_host>:8123 when empty.
hass_host: localhost
hass_url: ""
# Long-lived access token created in your Home Assistant profile.
hass_token: ""
# Optional SOCKS proxy URL (e.g. socks5://gateway:1080) for reaching
# Home Assistant through a firewall.
hass_proxy: ""
verify_ssl: true
`

// Result reports what Install did.
type Result struct {
	// Dir is the kernelspec directory written to.
	Dir string
	// New is true when this was a fresh install (a default pyscript.conf
	// was written) rather than an upgrade.
	New bool
}

// Install writes the kernelspec for kernelName into targetDir. When
// targetDir is empty, an existing kernelspec directory for the name is
// reused; otherwise the new kernel is placed alongside an installed python
// kernel, falling back to the first Jupyter kernels directory. shimPath is
// the command recorded in kernel.json's argv.
func Install(targetDir, kernelName, shimPath string) (*Result, error) {
	if kernelName == "" {
		kernelName = DefaultKernelName
	}
	if targetDir == "" {
		targetDir = resolveTargetDir(kernelName)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create kernel dir %s: %w", targetDir, err)
	}

	confPath := filepath.Join(targetDir, config.SettingsName)
	newInstall := false
	if _, err := os.Stat(confPath); err != nil {
		// Only write the default settings on a fresh install; upgrades keep
		// the user's pyscript.conf.
		if err := os.WriteFile(confPath, []byte(defaultSettings), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", confPath, err)
		}
		newInstall = true
	}

	argv := []string{shimPath}
	if kernelName != DefaultKernelName {
		argv = append(argv, "-k", kernelName)
	}
	argv = append(argv, "-f", "{connection_file}")
	spec := config.KernelSpec{
		Argv:        argv,
		DisplayName: "hass " + kernelName,
		Language:    "python",
	}

	data, err := json.MarshalIndent(&spec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode kernel spec: %w", err)
	}
	specPath := filepath.Join(targetDir, "kernel.json")
	if err := os.WriteFile(specPath, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", specPath, err)
	}

	return &Result{Dir: targetDir, New: newInstall}, nil
}

// resolveTargetDir picks where a kernelspec for kernelName should live:
// the existing spec dir for the name, else next to an installed python
// kernel, else under the first Jupyter kernels directory.
func resolveTargetDir(kernelName string) string {
	kernels := config.FindKernelSpecs()
	if dir, ok := kernels[kernelName]; ok {
		return dir
	}
	for _, other := range []string{"python3", "python"} {
		if dir, ok := kernels[other]; ok {
			return filepath.Join(filepath.Dir(dir), kernelName)
		}
	}
	return filepath.Join(config.JupyterKernelDirs()[0], kernelName)
}

// ShimPath locates the kernel shim binary to record in kernel.json:
// a pyscript-kernel next to the running executable if present, otherwise
// the bare name for PATH lookup.
func ShimPath() string {
	const shimName = "pyscript-kernel"
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), shimName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	return shimName
}
