package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KernelSpec mirrors the kernel.json descriptor Jupyter reads to launch a
// kernel.
type KernelSpec struct {
	Argv        []string `json:"argv"`
	DisplayName string   `json:"display_name"`
	Language    string   `json:"language"`
}

// JupyterKernelDirs returns the directories searched for installed
// kernelspecs, highest priority first: JUPYTER_PATH entries, the per-user
// Jupyter data dir, then the system-wide dirs.
func JupyterKernelDirs() []string {
	var dirs []string
	if jp := os.Getenv("JUPYTER_PATH"); jp != "" {
		for _, p := range filepath.SplitList(jp) {
			if p != "" {
				dirs = append(dirs, filepath.Join(p, "kernels"))
			}
		}
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		dirs = append(dirs, filepath.Join(dataHome, "jupyter", "kernels"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "jupyter", "kernels"))
	}
	dirs = append(dirs,
		filepath.Join("/usr", "local", "share", "jupyter", "kernels"),
		filepath.Join("/usr", "share", "jupyter", "kernels"),
	)
	return dirs
}

// FindKernelSpecs returns a map of kernel name to kernelspec directory for
// every installed kernel. Earlier search dirs win on name collisions.
func FindKernelSpecs() map[string]string {
	kernels := make(map[string]string)
	for _, dir := range JupyterKernelDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := strings.ToLower(entry.Name())
			specDir := filepath.Join(dir, entry.Name())
			if _, err := os.Stat(filepath.Join(specDir, "kernel.json")); err != nil {
				continue
			}
			if _, ok := kernels[name]; !ok {
				kernels[name] = specDir
			}
		}
	}
	return kernels
}

// FindKernelDir locates the kernelspec directory for the named kernel.
func FindKernelDir(kernelName string) (string, error) {
	kernels := FindKernelSpecs()
	dir, ok := kernels[strings.ToLower(kernelName)]
	if !ok {
		names := make([]string, 0, len(kernels))
		for name := range kernels {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("can't find kernel %s in list of available kernels (%s)",
			kernelName, strings.Join(names, ", "))
	}
	return dir, nil
}
