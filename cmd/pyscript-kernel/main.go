// Command pyscript-kernel is the Jupyter kernel shim for Home Assistant's
// pyscript integration. Jupyter launches it with a connection file (or the
// equivalent discrete flags); the shim asks pyscript to start a kernel
// session, discovers the ports the kernel chose, and relays all five
// Jupyter channels between the local client and the remote kernel until the
// session winds down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/craigbarratt/hass-pyscript-jupyter/internal/config"
	"github.com/craigbarratt/hass-pyscript-jupyter/internal/discovery"
	"github.com/craigbarratt/hass-pyscript-jupyter/internal/relay"
	"github.com/craigbarratt/hass-pyscript-jupyter/pkg/logger"
)

// pkgName prefixes every log line so shim output is recognizable in the
// Jupyter console.
const pkgName = "hass_pyscript_kernel"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		verbose         int
		kernelName      string
		connectionFile  string
		ip              string
		stdinPort       int
		controlPort     int
		hbPort          int
		shellPort       int
		iopubPort       int
		signatureScheme string
		sessionKey      string
		transportName   string
		metricsAddr     string
	)

	flags := flag.NewFlagSet(pkgName, flag.ContinueOnError)
	flags.CountVarP(&verbose, "verbose", "v", "increase verbosity (repeat up to 4x)")
	flags.StringVarP(&kernelName, "kernel-name", "k", "pyscript", "kernel name")
	flags.StringVarP(&connectionFile, "connection-file", "f", "", "json connection file")
	flags.StringVar(&ip, "ip", "", "ip address")
	flags.IntVar(&stdinPort, "stdin", 0, "stdin port")
	flags.IntVar(&controlPort, "control", 0, "control port")
	flags.IntVar(&hbPort, "hb", 0, "hb port")
	flags.IntVar(&shellPort, "shell", 0, "shell port")
	flags.IntVar(&iopubPort, "iopub", 0, "iopub port")
	flags.StringVar(&signatureScheme, "Session.signature_scheme", "", "signature scheme")
	flags.StringVar(&sessionKey, "Session.key", "", "session key")
	flags.StringVar(&transportName, "transport", "", "transport")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus relay metrics on this address")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", pkgName, err)
		return 1
	}

	log := logger.NewSimpleLogger(verbose, os.Stdout).WithComponent(pkgName)

	settings, err := config.LoadSettings(kernelName)
	if err != nil {
		log.Error("unable to load kernel settings", logger.Error(err))
		return 1
	}

	var params config.ConnectionParams
	if connectionFile != "" && ip == "" && stdinPort == 0 {
		// The usual path: Jupyter hands us a JSON connection file.
		params, err = config.LoadConnectionFile(connectionFile)
		if err != nil {
			log.Error("unable to load connection file", logger.Error(err))
			return 1
		}
	} else {
		// No connection file, so assemble the parameters from the
		// command-line arguments instead.
		params = config.ConnectionParams{
			"ip":               ip,
			"stdin_port":       stdinPort,
			"control_port":     controlPort,
			"hb_port":          hbPort,
			"iopub_port":       iopubPort,
			"shell_port":       shellPort,
			"transport":        config.RemoveQuotes(transportName),
			"signature_scheme": config.RemoveQuotes(signatureScheme),
			"key":              config.RemoveQuotes(sessionKey),
		}
	}
	if err := params.Validate(); err != nil {
		log.Error("invalid connection parameters (or specify -f connection_file instead)", logger.Error(err))
		return 1
	}
	log.Info("got jupyter client config", logger.String("config", fmt.Sprintf("%v", params)))

	dialer, err := relay.NewDialer(settings.HassProxy)
	if err != nil {
		log.Error("unable to set up proxy", logger.Error(err))
		return 1
	}

	if metricsAddr != "" {
		relay.MustRegisterMetrics()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error("metrics listener failed", logger.Error(err))
			}
		}()
	}

	disc := discovery.NewClient(settings, dialer, log)
	coord := relay.NewCoordinator(disc, params, settings.HassHost, dialer, log)

	status, err := coord.Run(context.Background())
	if err != nil {
		log.Error("kernel session failed", logger.Error(err))
		return 1
	}
	return status
}
