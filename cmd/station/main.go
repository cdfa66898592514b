// Command station measures the link from the client side: it samples the
// signal, times a probe against the relay and reports the result once per
// interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/linkwatch/internal/config"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/station"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a linkwatch.yaml file")
	relayAddr := flag.String("relay", "", "Relay station address host:port (overrides station.relay_addr)")
	source := flag.String("source", "", "Signal source: iw or random (overrides station.source)")
	iface := flag.String("interface", "", "Wireless interface for the iw source (overrides station.interface)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "station: %v\n", err)
		os.Exit(2)
	}
	if *relayAddr != "" {
		cfg.Station.RelayAddr = *relayAddr
	}
	if *source != "" {
		cfg.Station.Source = *source
	}
	if *iface != "" {
		cfg.Station.Interface = *iface
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "station: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(cfg.Log).With(logging.String("component", "station"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := newSource(cfg)
	log.Info(ctx, "station starting",
		logging.String("relay", cfg.Station.RelayAddr),
		logging.String("source", cfg.Station.Source),
		logging.Duration("interval", cfg.Station.Interval),
	)

	prober := station.NewProber(cfg.Station, src, timectrl.Real{}, log)
	if err := prober.Run(ctx); err != nil {
		log.Error(ctx, "station exited", logging.Err(err))
		os.Exit(1)
	}
	log.Info(context.Background(), "station stopped")
}

func newSource(cfg *config.Config) station.Source {
	if cfg.Station.Source == "random" {
		rw := cfg.RandomWalk
		return station.NewRandomWalk(rw.Seed, rw.Start, rw.Min, rw.Max, rw.Step, rw.DropRate)
	}
	return station.NewIWSource(cfg.Station.Interface)
}
