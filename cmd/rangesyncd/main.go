package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/urfave/cli.v1"

	"github.com/sigp/go-rangesync/internal/gethlog"
	"github.com/sigp/go-rangesync/internal/rangemetrics"
	"github.com/sigp/go-rangesync/rangesync"
)

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

var metricsAddrFlag = cli.StringFlag{
	Name:  "metrics.addr",
	Usage: "address to serve Prometheus metrics on",
	Value: ":9191",
}

func main() {
	app := cli.NewApp()
	app.Name = "rangesyncd"
	app.Usage = "drives the range sync coordinator against a simulated peer set"
	app.Flags = []cli.Flag{configFileFlag, metricsAddrFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		gethlog.Crit("rangesyncd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := defaultConfig()
	if path := ctx.String(configFileFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return err
		}
	}
	if addr := ctx.String(metricsAddrFlag.Name); addr != "" {
		cfg.ListenMetricsAddr = addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(rangemetrics.Collector{})
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		gethlog.Info("Serving metrics", "addr", cfg.ListenMetricsAddr)
		if err := http.ListenAndServe(cfg.ListenMetricsAddr, mux); err != nil {
			gethlog.Error("metrics server stopped", "err", err)
		}
	}()

	local := &demoChain{status: rangesync.SyncInfo{HeadSlot: rangesync.Slot(cfg.LocalHeadSlot)}}
	net := newDemoNetwork()
	processor := newDemoProcessor()
	coord := rangesync.NewRangeCoordinator(net, processor, local, rangemetrics.Sink{})
	processor.coord = coord
	coord.Resume()

	for i := 0; i < cfg.SimulatedPeers; i++ {
		peer := rangesync.PeerId(uuid.New())
		remote := rangesync.SyncInfo{
			HeadSlot: rangesync.Slot(cfg.LocalHeadSlot) + rangesync.Slot(64+rand.Intn(256)),
			HeadRoot: randomRoot(),
		}
		gethlog.Info("Simulated peer connected", "peer", peer, "head_slot", remote.HeadSlot)
		coord.AddPeer(peer, remote)
	}

	gethlog.Info("Sync status", "status", fmt.Sprint(coord.State().Kind))
	time.Sleep(100 * time.Millisecond)
	return nil
}

func randomRoot() rangesync.Root {
	var r rangesync.Root
	rand.Read(r[:])
	return r
}
