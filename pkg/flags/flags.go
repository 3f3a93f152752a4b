// Package flags wires Sieve's common command-line flags: log level,
// version, and the TOML config overlay path.
package flags

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Version is the controller's build version, set via -ldflags at build time.
var Version = "dev"

// Parsed holds the flags ConfigureAndParse resolved, for main to consume.
type Parsed struct {
	ListenAddr string
	AdminAddr  string
	ConfigFile string
}

// ConfigureAndParse registers Sieve's common flags and parses argv. This
// calls pflag.Parse(), so it should be called after all other flags have
// been configured.
func ConfigureAndParse() Parsed {
	logLevel := pflag.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	printVersion := pflag.Bool("version", false, "print version and exit")
	listenAddr := pflag.String("listen-addr", ":6653", "address to listen for OpenFlow switch connections")
	adminAddr := pflag.String("admin-addr", ":9990", "address to serve /metrics, /ping, /ready on")
	configFile := pflag.String("config", "", "path to a TOML config overlay (optional)")

	pflag.Parse()

	setLogLevel(*logLevel)
	maybePrintVersionAndExit(*printVersion)

	return Parsed{ListenAddr: *listenAddr, AdminAddr: *adminAddr, ConfigFile: *configFile}
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(Version)
		os.Exit(0)
	}
	log.Infof("running version %s", Version)
}
