// Package cmdutil holds the flags and setup shared by the rdt commands.
package cmdutil

import (
	"context"
	"io/ioutil"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logrussyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/rdt/pkg/rdt"
)

// Flags are the command line options common to both commands.
type Flags struct {
	ConfigPath  string
	LogLevel    string
	SyslogAddr  string
	Tag         string
	MetricsAddr string
	SegmentSize int
	RTTMode     string
}

// AddFlags registers the common flags on cmd.
func (f *Flags) AddFlags(cmd *cobra.Command, tag string) {
	def := rdt.DefaultConfig()
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "", "path to a JSON config file")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", def.LogLevel, "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&f.SyslogAddr, "syslog", "", "syslog server address. E.g. localhost:514")
	cmd.Flags().StringVar(&f.Tag, "tag", tag, "logging tag")
	cmd.Flags().StringVarP(&f.MetricsAddr, "metrics", "m", "", "address to bind metrics API to")
	cmd.Flags().IntVarP(&f.SegmentSize, "segment-size", "s", def.SegmentSize, "payload bytes per data segment")
	cmd.Flags().StringVar(&f.RTTMode, "rtt-mode", def.RTTMode, "RTT sampling: receiver-clock or echo")
}

// Config reads the config file and applies the flags that were set
// explicitly on top of it.
func (f *Flags) Config(cmd *cobra.Command) (rdt.Config, error) {
	conf, err := rdt.ReadConfigFile(f.ConfigPath)
	if err != nil {
		return rdt.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		conf.LogLevel = f.LogLevel
	}
	if cmd.Flags().Changed("segment-size") {
		conf.SegmentSize = f.SegmentSize
	}
	if cmd.Flags().Changed("rtt-mode") {
		conf.RTTMode = f.RTTMode
	}
	return conf, conf.Validate()
}

// Logger makes a master logger writing to stderr, or only to syslog when
// a syslog address is given. Standard output is left to the data stream.
func (f *Flags) Logger(level string) (*logging.MasterLogger, error) {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return nil, err
	}

	master := logging.NewMasterLogger()
	master.Out = os.Stderr
	master.SetLevel(lvl)

	if f.SyslogAddr != "" {
		hook, err := logrussyslog.NewSyslogHook("udp", f.SyslogAddr, syslog.LOG_INFO, f.Tag)
		if err != nil {
			master.PackageLogger(f.Tag).Errorf("Unable to connect to syslog daemon on %v: %v", f.SyslogAddr, err)
		} else {
			master.AddHook(hook)
			master.Out = ioutil.Discard
		}
	}
	return master, nil
}

// MetricsRouter serves the default Prometheus registry under /metrics and
// a liveness check under /health.
func MetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(time.Second * 30))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// ServeMetrics serves MetricsRouter on addr. It does nothing when addr is
// empty.
func ServeMetrics(addr string, log *logging.Logger) {
	if addr == "" {
		return
	}
	go func() {
		if err := http.ListenAndServe(addr, MetricsRouter()); err != nil {
			log.Errorf("Failed to start metrics API: %v", err)
		}
	}()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(log *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-ch:
			log.Infof("Received signal %s: terminating", s)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
