package commands

import (
	"log"
	"os"
	"strconv"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/rdt/internal/cmdutil"
	"github.com/skycoin/rdt/internal/metrics"
	"github.com/skycoin/rdt/pkg/dgram"
	"github.com/skycoin/rdt/pkg/rdt"
	"github.com/skycoin/rdt/pkg/sender"
)

type runCfg struct {
	cmdutil.Flags
	args []string

	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         rdt.Config
}

var cfg *runCfg

var rootCmd = &cobra.Command{
	Use:   "rdt-sender <host> <port>",
	Short: "Sends standard input reliably to an rdt-receiver over UDP",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg.args = args

		cfg.readConfig(cmd).
			startLogger().
			run()
	},
}

func init() {
	cfg = &runCfg{}
	cfg.AddFlags(rootCmd, "rdt-sender")
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
	port, err := strconv.Atoi(cfg.args[1])
	if err != nil {
		cfg.logger.Fatalf("Invalid port %q", cfg.args[1])
	}
	remote, err := dgram.ResolveUDP(cfg.args[0], port)
	if err != nil {
		cfg.logger.Fatal(err)
	}

	conn, err := dgram.ListenUDP(":0")
	if err != nil {
		cfg.logger.Fatal(err)
	}
	defer conn.Close() // nolint: errcheck

	s, err := sender.New(conn, remote, os.Stdin, cfg.conf)
	if err != nil {
		cfg.logger.Fatal(err)
	}
	s.Logger = cfg.masterLogger.PackageLogger("sender")
	if cfg.MetricsAddr != "" {
		s.Metrics = metrics.NewPrometheusSender("rdt_sender")
		cmdutil.ServeMetrics(cfg.MetricsAddr, cfg.logger)
	}

	ctx, cancel := cmdutil.SignalContext(cfg.logger)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		cfg.logger.Fatalf("Transfer failed: %v", err)
	}
	st := s.Stats()
	cfg.logger.Infof("Sent %d segments to %s: retransmits(%d) losses(%d) rto(%v)",
		st.Segments, remote, st.Retransmits, st.Losses, st.Timeout)
}
