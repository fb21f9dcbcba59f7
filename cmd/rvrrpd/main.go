// rvrrpd is the VRRPv2 virtual router daemon.
//
// Grounded on dantte-lp-gobfd/cmd/gobfdctl/commands/root.go's cobra
// root command shape (package-level flag vars, SilenceUsage/
// SilenceErrors, init() registering flags, an exported Execute()),
// adapted from gobfdctl's client-side `--addr`/`--format` flags to
// the single-dash `-m/-i/-c/-d` surface of
// original_source/src/lib.rs's Config::new(iface, mode, conf, debug).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e3prom/rvrrpd/internal/config"
	"github.com/e3prom/rvrrpd/internal/dispatch"
	"github.com/e3prom/rvrrpd/internal/hostnet"
	"github.com/e3prom/rvrrpd/internal/metrics"
	"github.com/e3prom/rvrrpd/internal/supervisor"
	"github.com/e3prom/rvrrpd/internal/vrrp"
	"github.com/e3prom/rvrrpd/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagIface       string
	flagMode        int
	flagConfig      string
	flagDebug       int
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "rvrrpd",
	Short: "VRRPv2 virtual router daemon",
	Long:  "rvrrpd implements RFC 3768 VRRPv2: sniffing (-m 0) and foreground operation (-m 1). Mode 2 logs a warning and then runs in the foreground like -m 1; it does not fork or detach.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&flagIface, "interface", "i", "", "interface to sniff on (mode 0 only)")
	rootCmd.Flags().IntVarP(&flagMode, "mode", "m", 1, "operation mode: 0=sniffer, 1=foreground, 2=foreground with a warning (does not fork)")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "/etc/rvrrpd/rvrrpd.conf", "path to configuration file")
	rootCmd.Flags().IntVarP(&flagDebug, "debug", "d", 0, "debug verbosity level")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func newLogger(debug int) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if debug > 0 {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log.Sugar()
}

func run() error {
	log := newLogger(flagDebug)
	defer log.Sync()

	switch flagMode {
	case 0:
		return runSniffer(log)
	case 1:
		return runForeground(log)
	case 2:
		log.Warnw("mode 2 (daemonize) is a documented no-op: forking a running Go runtime is unsafe; run rvrrpd under your own process supervisor instead")
		return runForeground(log)
	default:
		return fmt.Errorf("rvrrpd: unknown operation mode %d", flagMode)
	}
}

// runSniffer opens a raw socket on flagIface and dumps every decoded
// VRRPv2 ADVERTISEMENT until interrupted, per SPEC_FULL.md §6 mode 0.
func runSniffer(log *zap.SugaredLogger) error {
	if flagIface == "" {
		return fmt.Errorf("rvrrpd: sniffer mode requires -i/--interface")
	}
	adapter := hostnet.NewLinuxAdapter(hostnet.WithLog(log))
	if err := adapter.SetPromisc(flagIface, true); err != nil {
		return fmt.Errorf("rvrrpd: enable promiscuous mode on %s: %w", flagIface, err)
	}
	defer func() {
		_ = adapter.SetPromisc(flagIface, false)
		_ = adapter.Close(flagIface)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("sniffing for VRRPv2 advertisements", "interface", flagIface)
	buf := make([]byte, 1518)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := adapter.RecvFrame(flagIface, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnw("receive error", "error", err)
			continue
		}
		f, err := wire.Decode(buf[:n])
		if err != nil {
			log.Debugw("dropped non-advertisement frame", "error", err)
			continue
		}
		fmt.Printf("vrid=%d priority=%d src=%s addrs=%v advert_interval=%ds auth_type=%d\n",
			f.VRID, f.Priority, f.SrcIP, f.Addrs, f.AdvertInterval, f.AuthType)
	}
}

// runForeground loads the configuration, builds one VirtualRouter per
// [[vrouter]] entry, and runs the supervisor inline until interrupted,
// per SPEC_FULL.md §6 mode 1 (and mode 2's fallback).
func runForeground(log *zap.SugaredLogger) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("rvrrpd: %w", err)
	}

	reg := prometheus.NewRegistry()
	stats := metrics.New(reg)

	routes, err := cfg.Protocols.ToRoutes()
	if err != nil {
		return fmt.Errorf("rvrrpd: %w", err)
	}
	protocols := vrrp.NewProtocols(routes)

	adapter := hostnet.NewLinuxAdapter(hostnet.WithLog(log))

	vrs := make([]*vrrp.VirtualRouter, 0, len(cfg.VRouter))
	for _, vc := range cfg.VRouter {
		vcfg, err := vc.ToVRRPConfig()
		if err != nil {
			return fmt.Errorf("rvrrpd: %w", err)
		}
		vr, err := vrrp.NewVirtualRouter(vcfg, adapter, protocols, stats, log)
		if err != nil {
			return fmt.Errorf("rvrrpd: %w", err)
		}
		vrs = append(vrs, vr)
	}
	if len(vrs) == 0 {
		return fmt.Errorf("rvrrpd: configuration declares no [[vrouter]] entries")
	}

	dispatcher := dispatch.New(log, stats)
	sup := supervisor.New(vrs, dispatcher, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagMetricsAddr != "" {
		srv := newMetricsServer(flagMetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnw("metrics server exited", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Infow("rvrrpd starting", "vrouters", len(vrs))
	return sup.Run(ctx)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
