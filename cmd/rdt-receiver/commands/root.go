package commands

import (
	"context"
	"log"
	"net"
	"os"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/rdt/internal/cmdutil"
	"github.com/skycoin/rdt/internal/metrics"
	"github.com/skycoin/rdt/pkg/dgram"
	"github.com/skycoin/rdt/pkg/rdt"
	"github.com/skycoin/rdt/pkg/receiver"
)

type runCfg struct {
	cmdutil.Flags
	addr string

	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         rdt.Config
}

var cfg *runCfg

var rootCmd = &cobra.Command{
	Use:   "rdt-receiver",
	Short: "Receives a stream from an rdt-sender and writes it to standard output",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cfg.readConfig(cmd).
			startLogger().
			run()
	},
}

func init() {
	cfg = &runCfg{}
	cfg.AddFlags(rootCmd, "rdt-receiver")
	rootCmd.Flags().StringVarP(&cfg.addr, "addr", "a", ":0", "local UDP address to listen on")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func (cfg *runCfg) readConfig(cmd *cobra.Command) *runCfg {
	conf, err := cfg.Config(cmd)
	if err != nil {
		log.Fatalf("Failed to read config: %v", err)
	}
	cfg.conf = conf
	return cfg
}

func (cfg *runCfg) startLogger() *runCfg {
	master, err := cfg.Logger(cfg.conf.LogLevel)
	if err != nil {
		log.Fatal("Failed to parse LogLevel: ", err)
	}
	cfg.masterLogger = master
	cfg.logger = master.PackageLogger(cfg.Tag)
	return cfg
}

func (cfg *runCfg) run() {
	conn, err := dgram.ListenUDP(cfg.addr)
	if err != nil {
		cfg.logger.Fatal(err)
	}
	defer conn.Close() // nolint: errcheck

	cfg.logger.Infof("Listening on port %d", conn.LocalAddr().(*net.UDPAddr).Port)

	r, err := receiver.New(conn, os.Stdout, cfg.conf)
	if err != nil {
		cfg.logger.Fatal(err)
	}
	r.Logger = cfg.masterLogger.PackageLogger("receiver")
	if cfg.MetricsAddr != "" {
		r.Metrics = metrics.NewPrometheusReceiver("rdt_receiver")
		cmdutil.ServeMetrics(cfg.MetricsAddr, cfg.logger)
	}

	ctx, cancel := cmdutil.SignalContext(cfg.logger)
	defer cancel()

	err = r.Serve(ctx)
	st := r.Stats()
	cfg.logger.Infof("Delivered %d bytes in %d segments: duplicates(%d) corrupted(%d) buffered(%d)",
		st.Delivered, st.Segments, st.Duplicates, st.Corrupted, st.Buffered)
	if err != nil && err != context.Canceled {
		cfg.logger.Fatalf("Receive failed: %v", err)
	}
}
