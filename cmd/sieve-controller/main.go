// Command sieve-controller runs Sieve's OpenFlow 1.3 control plane: topology
// awareness, the adaptive stats/reroute monitor, and the packet-in forwarder
// (spec §2).
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
	"github.com/sieve-sdn/sieve/internal/fabric"
	"github.com/sieve-sdn/sieve/internal/forwarder"
	"github.com/sieve-sdn/sieve/internal/monitor"
	"github.com/sieve-sdn/sieve/internal/ofconn"
	"github.com/sieve-sdn/sieve/pkg/admin"
	"github.com/sieve-sdn/sieve/pkg/flags"
)

// fabricRefreshInterval is how often main rebuilds the fabric snapshot and
// hands it to the Forwarder (spec §9: "a central read-only fabric view built
// each monitor tick and handed to the forwarder by value"). It also drives
// the one-line debug log for operators tailing logs without a metrics
// scraper attached.
const fabricRefreshInterval = 2 * time.Second

func main() {
	opts := flags.ConfigureAndParse()

	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.LoadFile(opts.ConfigFile)
		if err != nil {
			log.WithError(err).Fatal("sieve-controller: failed to load config overlay")
		}
		cfg = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	aw := awareness.New(cfg)

	// ofconn.Server is constructed before Monitor/Forwarder so it can be
	// passed to them as the Sender; Monitor/Forwarder are constructed before
	// being wired back into the server as its reply handlers (spec §9:
	// "explicit constructor wiring: the event loop owns all three components
	// and injects references once").
	server := ofconn.New(cfg, aw, nil, nil, nil, nil)

	mon := monitor.New(cfg, aw, server)
	fwd := forwarder.New(cfg, aw, server)

	server.SetHandlers(mon, mon, mon, fwd)

	adminServer := admin.NewServer(opts.AdminAddr, false)
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("sieve-controller: admin server stopped")
		}
	}()

	go mon.Run(ctx)
	go refreshFabricView(ctx, aw, mon, fwd)

	log.WithField("addr", opts.ListenAddr).Info("sieve-controller: starting OpenFlow listener")
	if err := server.ListenAndServe(ctx, opts.ListenAddr); err != nil {
		log.WithError(err).Fatal("sieve-controller: listener stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)
}

// refreshFabricView periodically rebuilds the fabric snapshot from Awareness
// and Monitor and hands it to the Forwarder, replacing the direct
// Forwarder->Monitor reference with the point-in-time view spec §9 calls for.
func refreshFabricView(ctx context.Context, aw *awareness.Awareness, mon *monitor.Monitor, fwd *forwarder.Forwarder) {
	fwd.SetView(fabric.Build(aw, mon))

	ticker := time.NewTicker(fabricRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		view := fabric.Build(aw, mon)
		fwd.SetView(view)
		log.WithField("switches", len(view.Switches)).Debug("sieve-controller: fabric snapshot")
	}
}
