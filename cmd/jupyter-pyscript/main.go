// Command jupyter-pyscript installs and inspects the pyscript Jupyter
// kernel: "install" writes the kernelspec (kernel.json plus a default
// pyscript.conf) and "info" shows where a kernel is installed and what
// settings it carries.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/craigbarratt/hass-pyscript-jupyter/internal/config"
	"github.com/craigbarratt/hass-pyscript-jupyter/internal/install"
)

const progName = "jupyter-pyscript"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var kernelName string
	flags := flag.NewFlagSet(progName, flag.ContinueOnError)
	flags.StringVarP(&kernelName, "kernel-name", "k", install.DefaultKernelName, "kernel name")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] install|info\n", progName)
		flags.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Actions:
install - install or update a Jupyter pyscript kernel

info - list information about an installed pyscript kernel
`)
	}
	if err := flags.Parse(args); err != nil {
		return 1
	}

	switch flags.Arg(0) {
	case "install":
		return runInstall(kernelName)
	case "info":
		return runInfo(kernelName)
	default:
		flags.Usage()
		return 1
	}
}

func runInstall(kernelName string) int {
	result, err := install.Install("", kernelName, install.ShimPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	if result.New {
		fmt.Printf("installed new %s kernel in %s\n", kernelName, result.Dir)
		fmt.Printf("you will need to update the settings in %s\n",
			filepath.Join(result.Dir, config.SettingsName))
	} else {
		fmt.Printf("updated %s kernel in %s\n", kernelName, result.Dir)
	}
	return 0
}

func runInfo(kernelName string) int {
	dir, err := config.FindKernelDir(kernelName)
	if err != nil {
		fmt.Printf("No installed kernel named %s found\n", kernelName)
		return 1
	}
	fmt.Printf("Kernel %s installed in %s\n", kernelName, dir)

	confPath := filepath.Join(dir, config.SettingsName)
	settings, err := config.LoadSettingsFile(confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	fmt.Printf("Config settings from %s:\n", confPath)
	fmt.Printf("    hass_host = %s\n", settings.HassHost)
	fmt.Printf("    hass_url = %s\n", settings.BaseURL())
	fmt.Printf("    hass_token = %s\n", settings.HassToken)
	fmt.Printf("    hass_proxy = %s\n", settings.HassProxy)
	return 0
}
